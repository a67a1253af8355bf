package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ArionMiles/pointsbot/pkg/notify"
	"github.com/ArionMiles/pointsbot/pkg/session"
)

func (b *Bot) handleCommand(ctx context.Context, m *tgbotapi.Message) error {
	chatID := m.Chat.ID
	logger := b.logger.With("chat_id", chatID, "command", m.Command())
	logger.Debug("command received")

	switch m.Command() {
	case "start":
		name := "👋"
		if m.From != nil && m.From.FirstName != "" {
			name = m.From.FirstName
		}
		b.reply(ctx, chatID, fmt.Sprintf(msgWelcome, name))
		return nil

	case "register", "registro":
		b.sessions.StartConversation(chatID, session.ActionRegister, stepEmail)
		b.reply(ctx, chatID, msgAskEmail)
		return nil

	case "recent", "recientes":
		return b.commandRecent(ctx, chatID)

	case "cards", "tarjetas":
		return b.commandCards(ctx, chatID)

	case "summary", "resumen":
		return b.commandSummary(ctx, chatID)

	case "points", "puntos":
		return b.commandPoints(ctx, chatID)

	case "status":
		b.commandStatus(ctx, chatID)
		return nil

	case "cancel", "cancelar":
		b.sessions.ClearConversation(chatID)
		b.reply(ctx, chatID, msgCancelled)
		return nil
	}

	b.reply(ctx, chatID, msgUnknownCommand)
	return nil
}

func (b *Bot) commandRecent(ctx context.Context, chatID int64) error {
	txs, err := b.store.RecentTransactions(ctx, chatID, b.recentLimit)
	if err != nil {
		b.reply(ctx, chatID, msgGenericError)
		return fmt.Errorf("listing recent transactions: %w", err)
	}
	if len(txs) == 0 {
		b.reply(ctx, chatID, msgNoRecent)
		return nil
	}

	b.reply(ctx, chatID, msgRecentHeader)
	for _, tx := range txs {
		b.replyWithKeyboard(ctx, chatID, formatRecent(tx), notify.EditTransactionKeyboard(tx.ID))
	}
	return nil
}

func (b *Bot) commandCards(ctx context.Context, chatID int64) error {
	cards, err := b.store.ListCards(ctx, chatID)
	if err != nil {
		b.reply(ctx, chatID, msgGenericError)
		return fmt.Errorf("listing cards: %w", err)
	}

	text := msgNoCards
	if len(cards) > 0 {
		text = formatCards(cards)
	}
	b.replyWithKeyboard(ctx, chatID, text, notify.CardsKeyboard(cards))
	return nil
}

func (b *Bot) commandSummary(ctx context.Context, chatID int64) error {
	summary, err := b.store.MonthlySummary(ctx, chatID)
	if err != nil {
		b.reply(ctx, chatID, msgGenericError)
		return fmt.Errorf("loading summary: %w", err)
	}
	if len(summary) == 0 || summary[0].Count == 0 {
		b.reply(ctx, chatID, msgNoSummary)
		return nil
	}

	b.reply(ctx, chatID, formatSummary(summary[0]))
	return nil
}

func (b *Bot) commandPoints(ctx context.Context, chatID int64) error {
	cards, err := b.store.ListCards(ctx, chatID)
	if err != nil {
		b.reply(ctx, chatID, msgGenericError)
		return fmt.Errorf("listing cards: %w", err)
	}
	if len(cards) == 0 {
		b.replyWithKeyboard(ctx, chatID, msgNoCards, notify.CardsKeyboard(nil))
		return nil
	}

	b.replyWithKeyboard(ctx, chatID, formatPoints(cards), notify.PointsKeyboard())
	return nil
}

func (b *Bot) commandStatus(ctx context.Context, chatID int64) {
	lines := make([]string, 0, 5)

	if b.poller != nil {
		lines = append(lines,
			fmt.Sprintf(msgStatusRegistered, yesNo(b.poller.Monitors(chatID))),
			formatPollStatus(b.poller.Status()),
		)
	}

	lines = append(lines, fmt.Sprintf(msgStatusPending, b.sessions.PendingCount(chatID)))

	if conv, ok := b.sessions.Conversation(chatID); ok {
		lines = append(lines, fmt.Sprintf(msgStatusConversation, conv.Action))
	}

	if b.ledger != nil {
		lines = append(lines, formatLedger(b.ledger.Totals(chatID)))
		if merchants := b.ledger.Merchants(chatID); len(merchants) > 0 {
			lines = append(lines, formatTopMerchants(merchants))
		}
	} else {
		lines = append(lines, msgStatusNoLedger)
	}

	b.reply(ctx, chatID, strings.Join(lines, "\n"))
}
