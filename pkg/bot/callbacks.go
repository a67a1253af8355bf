package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/pointsbot/pkg/api"
	"github.com/ArionMiles/pointsbot/pkg/notify"
	"github.com/ArionMiles/pointsbot/pkg/session"
)

// press is a button press on a message of the chat.
type press struct {
	chatID    int64
	messageID int
	text      string
	cb        notify.Callback
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) (err error) {
	var notice string
	defer func() {
		if aerr := b.notifier.Answer(ctx, q.ID, notice); aerr != nil {
			b.logger.Warn("failed to answer callback", "error", aerr)
		}
	}()

	cb, err := notify.ParseCallback(q.Data)
	if err != nil {
		notice = msgUnknownAction
		return err
	}

	p := press{
		chatID:    q.Message.Chat.ID,
		messageID: q.Message.MessageID,
		text:      q.Message.Text,
		cb:        cb,
	}
	b.logger.Debug("callback received", "chat_id", p.chatID, "kind", cb.Kind)

	switch cb.Kind {
	case notify.KindConfigure:
		notice, err = b.onConfigure(ctx, p)
	case notify.KindEdit:
		b.edit(ctx, p.chatID, p.messageID, p.text+"\n\n"+msgSelectMultiplier, notify.EditMultiplierKeyboard(cb.TransactionID))
	case notify.KindSetMultiplier:
		notice, err = b.onSetMultiplier(ctx, p)
	case notify.KindAcknowledge:
		notice, err = b.onAcknowledge(ctx, p)
	case notify.KindCard:
		err = b.onCard(ctx, p)
	case notify.KindMenu:
		b.onMenu(ctx, p)
	}
	return err
}

// onConfigure drives the classification that follows a recorded purchase.
// The multiplier is always collected before the category.
func (b *Bot) onConfigure(ctx context.Context, p press) (string, error) {
	pending, ok := b.sessions.ByTransaction(ctx, p.cb.TransactionID)
	if !ok {
		b.dropButtons(ctx, p)
		return "", nil
	}

	if p.cb.Field == notify.FieldMultiplier {
		return b.configureMultiplier(ctx, p, pending)
	}
	return b.configureCategory(ctx, p, pending)
}

func (b *Bot) configureMultiplier(ctx context.Context, p press, pending *api.PendingAction) (string, error) {
	if !pending.RequiredStep.NeedsMultiplier() {
		return msgAlreadyConfigured, nil
	}

	mult := p.cb.Multiplier
	if _, err := b.store.CompleteConfiguration(ctx, pending.TransactionID, &mult, nil); err != nil {
		return msgUpdateFailed, fmt.Errorf("storing multiplier: %w", err)
	}
	b.syncLedgerPoints(ctx, p.chatID, pending.TransactionID)

	pending.Multiplier = decimal.NewNullDecimal(mult)

	if pending.RequiredStep.NeedsCategory() {
		pending.RequiredStep = api.ActionAskCat
		if _, err := b.sessions.Update(ctx, *pending); err != nil {
			b.logger.Warn("pending action not persisted", "token", pending.Token, "error", err)
		}
		b.edit(ctx, p.chatID, p.messageID,
			classification(p, pending, "")+"\n"+msgSelectCategory,
			notify.CategoryKeyboard(pending.TransactionID))
		return "", nil
	}

	b.finish(ctx, pending)
	b.edit(ctx, p.chatID, p.messageID, classification(p, pending, ""), nil)
	return "", nil
}

func (b *Bot) configureCategory(ctx context.Context, p press, pending *api.PendingAction) (string, error) {
	if pending.RequiredStep.NeedsMultiplier() {
		return msgMultiplierFirst, nil
	}
	if !pending.RequiredStep.NeedsCategory() {
		return msgAlreadyConfigured, nil
	}

	category := p.cb.Value
	if _, err := b.store.CompleteConfiguration(ctx, pending.TransactionID, nil, &category); err != nil {
		return msgUpdateFailed, fmt.Errorf("storing category: %w", err)
	}

	b.finish(ctx, pending)
	b.edit(ctx, p.chatID, p.messageID, classification(p, pending, category), nil)
	return "", nil
}

// classification renders a purchase prompt from the stored pending action,
// followed by the multiplier and category chosen so far, in that order.
// The text Telegram echoes back is only used when nothing was stored.
func classification(p press, pending *api.PendingAction, category string) string {
	header := p.text
	if pending.Company != "" {
		header = formatPendingPurchase(pending)
	}

	var lines []string
	if pending.Multiplier.Valid {
		lines = append(lines, fmt.Sprintf(msgMultiplierSet, formatMultiplier(pending.Multiplier.Decimal)))
	}
	if category != "" {
		lines = append(lines, fmt.Sprintf(msgCategorySet, category))
	}
	return header + "\n\n" + strings.Join(lines, "\n")
}

// dropButtons removes the keyboard of a prompt whose action is gone and
// leaves its text as it was.
func (b *Bot) dropButtons(ctx context.Context, p press) {
	b.logger.Debug("button of a finished prompt pressed", "chat_id", p.chatID, "message_id", p.messageID)
	b.edit(ctx, p.chatID, p.messageID, p.text, nil)
}

func (b *Bot) finish(ctx context.Context, pending *api.PendingAction) {
	if _, err := b.sessions.Remove(ctx, pending.Token); err != nil {
		b.logger.Warn("failed to remove pending action", "token", pending.Token, "error", err)
	}
}

// onSetMultiplier stores a multiplier chosen from /recent.
func (b *Bot) onSetMultiplier(ctx context.Context, p press) (string, error) {
	mult := p.cb.Multiplier
	if _, err := b.store.CompleteConfiguration(ctx, p.cb.TransactionID, &mult, nil); err != nil {
		b.edit(ctx, p.chatID, p.messageID, msgUpdateFailed, nil)
		return "", fmt.Errorf("storing multiplier: %w", err)
	}
	b.syncLedgerPoints(ctx, p.chatID, p.cb.TransactionID)

	b.edit(ctx, p.chatID, p.messageID, fmt.Sprintf(msgMultiplierUpdated, formatMultiplier(mult)), nil)
	return "", nil
}

func (b *Bot) onAcknowledge(ctx context.Context, p press) (string, error) {
	pending, ok := b.sessions.Get(ctx, p.cb.Token)
	if !ok {
		b.dropButtons(ctx, p)
		return "", nil
	}

	if err := b.store.AcknowledgeTransaction(ctx, pending.TransactionID, p.cb.Recognized); err != nil {
		return msgAcknowledgeFailed, fmt.Errorf("acknowledging transaction: %w", err)
	}
	b.finish(ctx, pending)

	result := msgNotRecognized
	if p.cb.Recognized {
		result = msgRecognized
	}
	b.edit(ctx, p.chatID, p.messageID, p.text+"\n\n"+result, nil)
	return "", nil
}

func (b *Bot) onCard(ctx context.Context, p press) error {
	cards, err := b.store.ListCards(ctx, p.chatID)
	if err != nil {
		b.reply(ctx, p.chatID, msgGenericError)
		return fmt.Errorf("listing cards: %w", err)
	}

	var card *api.Card
	for i := range cards {
		if cards[i].ID == p.cb.CardID {
			card = &cards[i]
			break
		}
	}
	if card == nil {
		b.reply(ctx, p.chatID, msgCardNotFound)
		return nil
	}

	switch p.cb.Value {
	case notify.CardEdit:
		conv := b.sessions.StartConversation(p.chatID, session.ActionEditCard, stepCardNumber)
		conv.Data[dataCardID] = strconv.FormatInt(card.ID, 10)
		conv.Data[dataCard] = card.Last4
		b.sessions.SaveConversation(p.chatID, conv)
		b.reply(ctx, p.chatID, fmt.Sprintf(msgAskEditCard, card.Last4))

	case notify.CardDelete:
		conv := b.sessions.StartConversation(p.chatID, session.ActionAwaitingCardDigits, stepCardDigits)
		conv.Data[dataCardID] = strconv.FormatInt(card.ID, 10)
		conv.Data[dataCard] = card.Last4
		b.sessions.SaveConversation(p.chatID, conv)
		label := card.Bank
		if card.Alias != "" {
			label += " (" + card.Alias + ")"
		}
		b.reply(ctx, p.chatID, fmt.Sprintf(msgAskDeleteDigits, label))
	}
	return nil
}

func (b *Bot) onMenu(ctx context.Context, p press) {
	switch p.cb.Value {
	case notify.MenuAddPoints:
		b.sessions.StartConversation(p.chatID, session.ActionAddPoints, stepCard)
		b.reply(ctx, p.chatID, msgAskCard)
	case notify.MenuRedeemPoints:
		b.sessions.StartConversation(p.chatID, session.ActionRedeemPoints, stepCard)
		b.reply(ctx, p.chatID, msgAskCard)
	case notify.MenuAddCard:
		b.sessions.StartConversation(p.chatID, session.ActionAddCard, stepCardNumber)
		b.reply(ctx, p.chatID, msgAskNewCard)
	}
}

// syncLedgerPoints copies the points the database computed for txID into
// the local ledger. It is best effort.
func (b *Bot) syncLedgerPoints(ctx context.Context, chatID, txID int64) {
	if b.ledger == nil {
		return
	}

	txs, err := b.store.RecentTransactions(ctx, chatID, b.recentLimit)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			b.logger.Debug("ledger points not synced", "transaction_id", txID, "error", err)
		}
		return
	}
	for _, tx := range txs {
		if tx.ID == txID {
			b.ledger.SetPoints(txID, tx.Points)
			return
		}
	}
}
