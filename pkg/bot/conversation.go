package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/emersion/go-message/mail"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ArionMiles/pointsbot/pkg/api"
	"github.com/ArionMiles/pointsbot/pkg/session"
)

// Conversation steps.
const (
	stepEmail      = "email"
	stepPassword   = "password"
	stepCard       = "card"
	stepAmount     = "amount"
	stepCardNumber = "card_number"
	stepConfirm    = "confirm"
	stepCardDigits = "card_digits"
)

// Conversation data keys.
const (
	dataEmail  = "email"
	dataCard   = "card"
	dataCardID = "card_id"
)

func (b *Bot) handleText(ctx context.Context, m *tgbotapi.Message) error {
	chatID := m.Chat.ID
	text := strings.TrimSpace(m.Text)

	conv, ok := b.sessions.Conversation(chatID)
	if !ok {
		b.reply(ctx, chatID, msgNoConversation)
		return nil
	}

	switch {
	case conv.Action == session.ActionRegister && conv.Step == stepEmail:
		b.registerEmail(ctx, chatID, conv, text)
	case conv.Action == session.ActionRegister && conv.Step == stepPassword:
		return b.registerPassword(ctx, chatID, conv, text)

	case (conv.Action == session.ActionAddPoints || conv.Action == session.ActionRedeemPoints) && conv.Step == stepCard:
		b.pointsCard(ctx, chatID, conv, text)
	case (conv.Action == session.ActionAddPoints || conv.Action == session.ActionRedeemPoints) && conv.Step == stepAmount:
		return b.pointsAmount(ctx, chatID, conv, text)

	case conv.Action == session.ActionAddCard && conv.Step == stepCardNumber:
		b.addCardNumber(ctx, chatID, conv, text)
	case conv.Action == session.ActionAddCard && conv.Step == stepConfirm:
		return b.addCardConfirm(ctx, chatID, conv, text)

	case conv.Action == session.ActionEditCard && conv.Step == stepCardNumber:
		return b.editCardNumber(ctx, chatID, conv, text)

	case conv.Action == session.ActionAwaitingCardDigits && conv.Step == stepCardDigits:
		return b.deleteCardDigits(ctx, chatID, conv, text)

	default:
		b.logger.Warn("clearing unrecognized conversation state",
			"chat_id", chatID,
			"action", conv.Action,
			"step", conv.Step,
		)
		b.sessions.ClearConversation(chatID)
	}
	return nil
}

func (b *Bot) registerEmail(ctx context.Context, chatID int64, conv *session.Conversation, text string) {
	email, ok := validEmail(text)
	if !ok {
		b.reply(ctx, chatID, msgInvalidEmail)
		return
	}

	conv.Data[dataEmail] = email
	conv.Step = stepPassword
	b.sessions.SaveConversation(chatID, conv)
	b.reply(ctx, chatID, msgAskPassword)
}

// registerPassword always ends the registration, whatever the outcome.
func (b *Bot) registerPassword(ctx context.Context, chatID int64, conv *session.Conversation, text string) error {
	b.sessions.ClearConversation(chatID)
	b.reply(ctx, chatID, msgSavingCredentials)

	ok, message, err := b.store.RegisterCredentials(ctx, chatID, conv.Data[dataEmail], text)
	switch {
	case err != nil:
		b.reply(ctx, chatID, msgRegisterFailed)
		return fmt.Errorf("registering credentials: %w", err)
	case !ok:
		if message == "" {
			message = msgRegisterFailed
		}
		b.reply(ctx, chatID, message)
	default:
		b.reply(ctx, chatID, msgRegistered)
	}
	return nil
}

func (b *Bot) pointsCard(ctx context.Context, chatID int64, conv *session.Conversation, text string) {
	if !validLast4(text) {
		b.reply(ctx, chatID, msgInvalidCard)
		return
	}

	conv.Data[dataCard] = text
	conv.Step = stepAmount
	b.sessions.SaveConversation(chatID, conv)

	if conv.Action == session.ActionRedeemPoints {
		b.reply(ctx, chatID, msgAskPointsRedeem)
		return
	}
	b.reply(ctx, chatID, msgAskPointsAdd)
}

func (b *Bot) pointsAmount(ctx context.Context, chatID int64, conv *session.Conversation, text string) error {
	if !allDigits(text) {
		b.reply(ctx, chatID, msgInvalidPoints)
		return nil
	}
	amount, err := strconv.ParseInt(text, 10, 64)
	if err != nil || amount <= 0 {
		b.reply(ctx, chatID, msgInvalidPoints)
		return nil
	}

	card := conv.Data[dataCard]
	b.sessions.ClearConversation(chatID)

	if conv.Action == session.ActionRedeemPoints {
		balance, err := b.store.CardPointsBalance(ctx, chatID, card)
		if err != nil {
			return b.cardError(ctx, chatID, "reading points balance", err)
		}
		if amount > balance {
			b.reply(ctx, chatID, fmt.Sprintf(msgInsufficient, card, balance))
			return nil
		}

		balance, err = b.store.AdjustCardPoints(ctx, chatID, card, -amount)
		if err != nil {
			return b.cardError(ctx, chatID, "redeeming points", err)
		}
		b.reply(ctx, chatID, fmt.Sprintf(msgPointsRedeemed, amount, card, balance))
		return nil
	}

	balance, err := b.store.AdjustCardPoints(ctx, chatID, card, amount)
	if err != nil {
		return b.cardError(ctx, chatID, "adding points", err)
	}
	b.reply(ctx, chatID, fmt.Sprintf(msgPointsAdded, amount, card, balance))
	return nil
}

func (b *Bot) addCardNumber(ctx context.Context, chatID int64, conv *session.Conversation, text string) {
	if !validLast4(text) {
		b.reply(ctx, chatID, msgInvalidCard)
		return
	}

	conv.Data[dataCard] = text
	conv.Step = stepConfirm
	b.sessions.SaveConversation(chatID, conv)
	b.reply(ctx, chatID, fmt.Sprintf(msgConfirmCard, text))
}

func (b *Bot) addCardConfirm(ctx context.Context, chatID int64, conv *session.Conversation, text string) error {
	switch strings.ToLower(text) {
	case "si", "sí", "yes":
		card := conv.Data[dataCard]
		b.sessions.ClearConversation(chatID)
		if _, err := b.store.AddCard(ctx, chatID, card, b.defaultBank); err != nil {
			b.reply(ctx, chatID, msgGenericError)
			return fmt.Errorf("adding card: %w", err)
		}
		b.reply(ctx, chatID, fmt.Sprintf(msgCardAdded, card))

	case "no":
		delete(conv.Data, dataCard)
		conv.Step = stepCardNumber
		b.sessions.SaveConversation(chatID, conv)
		b.reply(ctx, chatID, msgCardRetry)

	case "cancelar", "cancel":
		b.sessions.ClearConversation(chatID)
		b.reply(ctx, chatID, msgCancelled)

	default:
		b.reply(ctx, chatID, msgConfirmCardRetry)
	}
	return nil
}

func (b *Bot) editCardNumber(ctx context.Context, chatID int64, conv *session.Conversation, text string) error {
	if !validLast4(text) {
		b.reply(ctx, chatID, msgInvalidCard)
		return nil
	}

	b.sessions.ClearConversation(chatID)
	cardID, err := strconv.ParseInt(conv.Data[dataCardID], 10, 64)
	if err != nil {
		return fmt.Errorf("conversation without card id: %w", err)
	}

	if err := b.store.UpdateCard(ctx, chatID, cardID, text); err != nil {
		return b.cardError(ctx, chatID, "updating card", err)
	}
	b.reply(ctx, chatID, fmt.Sprintf(msgCardUpdated, text))
	return nil
}

func (b *Bot) deleteCardDigits(ctx context.Context, chatID int64, conv *session.Conversation, text string) error {
	if text != conv.Data[dataCard] {
		b.reply(ctx, chatID, msgDigitsMismatch)
		return nil
	}

	b.sessions.ClearConversation(chatID)
	cardID, err := strconv.ParseInt(conv.Data[dataCardID], 10, 64)
	if err != nil {
		return fmt.Errorf("conversation without card id: %w", err)
	}

	if err := b.store.DeleteCard(ctx, chatID, cardID); err != nil {
		return b.cardError(ctx, chatID, "deleting card", err)
	}
	b.reply(ctx, chatID, fmt.Sprintf(msgCardDeleted, text))
	return nil
}

// cardError tells the user about a failed card operation. A missing card is
// a user mistake and is not returned.
func (b *Bot) cardError(ctx context.Context, chatID int64, op string, err error) error {
	if errors.Is(err, api.ErrCardNotFound) {
		b.reply(ctx, chatID, msgCardNotFound)
		return nil
	}
	b.reply(ctx, chatID, msgGenericError)
	return fmt.Errorf("%s: %w", op, err)
}

func validLast4(s string) bool {
	return len(s) == 4 && allDigits(s)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validEmail(s string) (string, bool) {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", false
	}
	return addr.Address, true
}
