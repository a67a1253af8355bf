// Package bot implements the chat side of pointsbot: commands, button
// callbacks and the multi-step conversations that classify purchases and
// manage cards and points.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/pointsbot/pkg/api"
	"github.com/ArionMiles/pointsbot/pkg/ledger"
	"github.com/ArionMiles/pointsbot/pkg/notify"
	"github.com/ArionMiles/pointsbot/pkg/session"
)

// Store is the database boundary used by the handlers.
type Store interface {
	RegisterCredentials(ctx context.Context, chatID int64, email, password string) (bool, string, error)
	CompleteConfiguration(ctx context.Context, txID int64, multiplier *decimal.Decimal, category *string) (string, error)
	AcknowledgeTransaction(ctx context.Context, txID int64, recognized bool) error
	RecentTransactions(ctx context.Context, chatID int64, limit int) ([]api.RecentTransaction, error)
	ListCards(ctx context.Context, chatID int64) ([]api.Card, error)
	AddCard(ctx context.Context, chatID int64, last4, bank string) (int64, error)
	UpdateCard(ctx context.Context, chatID, cardID int64, last4 string) error
	DeleteCard(ctx context.Context, chatID, cardID int64) error
	CardPointsBalance(ctx context.Context, chatID int64, last4 string) (int64, error)
	AdjustCardPoints(ctx context.Context, chatID int64, last4 string, delta int64) (int64, error)
	MonthlySummary(ctx context.Context, chatID int64) ([]api.MonthlySummary, error)
}

// Notifier renders messages and buttons.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string, kb notify.Keyboard) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string, kb notify.Keyboard) error
	Answer(ctx context.Context, callbackID, text string) error
}

// Ledger is the local running-total file shown by /status.
type Ledger interface {
	Totals(chatID int64) ledger.Totals
	Merchants(chatID int64) []string
	SetPoints(txID int64, points decimal.Decimal) bool
}

// Config holds the collaborators of a Bot.
type Config struct {
	Store    Store
	Notifier Notifier
	Sessions *session.Store
	// Ledger is optional.
	Ledger Ledger
	// Poller is optional; it backs the poll line of /status.
	Poller api.StatusReporter
	// DefaultBank is assigned to cards added from the chat.
	DefaultBank string
	// RecentLimit is the number of entries shown by /recent. Defaults to 5.
	RecentLimit int
}

// Bot handles Telegram updates.
type Bot struct {
	store       Store
	notifier    Notifier
	sessions    *session.Store
	ledger      Ledger
	poller      api.StatusReporter
	defaultBank string
	recentLimit int
	logger      *slog.Logger

	locks sync.Map // chat id -> *sync.Mutex
}

// New creates a new Bot.
func New(cfg Config, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Store == nil || cfg.Notifier == nil || cfg.Sessions == nil {
		return nil, errors.New("store, notifier and sessions are required")
	}
	if cfg.DefaultBank == "" {
		cfg.DefaultBank = "Global Bank"
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 5
	}

	return &Bot{
		store:       cfg.Store,
		notifier:    cfg.Notifier,
		sessions:    cfg.Sessions,
		ledger:      cfg.Ledger,
		poller:      cfg.Poller,
		defaultBank: cfg.DefaultBank,
		recentLimit: cfg.RecentLimit,
		logger:      logger,
	}, nil
}

// ChatID returns the chat an update belongs to, or 0 when it has none.
func ChatID(u tgbotapi.Update) int64 {
	switch {
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil && u.CallbackQuery.Message.Chat != nil:
		return u.CallbackQuery.Message.Chat.ID
	case u.Message != nil && u.Message.Chat != nil:
		return u.Message.Chat.ID
	}
	return 0
}

// HandleUpdate processes one update. Updates of the same chat are
// serialised; different chats run concurrently.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) error {
	chatID := ChatID(u)
	if chatID == 0 {
		return nil
	}

	mu := b.chatLock(chatID)
	mu.Lock()
	defer mu.Unlock()

	switch {
	case u.CallbackQuery != nil:
		return b.handleCallback(ctx, u.CallbackQuery)
	case u.Message.IsCommand():
		return b.handleCommand(ctx, u.Message)
	case u.Message.Text != "":
		return b.handleText(ctx, u.Message)
	}
	return nil
}

func (b *Bot) chatLock(chatID int64) *sync.Mutex {
	mu, _ := b.locks.LoadOrStore(chatID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	b.replyWithKeyboard(ctx, chatID, text, nil)
}

func (b *Bot) replyWithKeyboard(ctx context.Context, chatID int64, text string, kb notify.Keyboard) {
	if _, err := b.notifier.Send(ctx, chatID, text, kb); err != nil {
		b.logger.Error("failed to send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) edit(ctx context.Context, chatID int64, messageID int, text string, kb notify.Keyboard) {
	if err := b.notifier.Edit(ctx, chatID, messageID, text, kb); err != nil {
		b.logger.Error("failed to edit message", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}
