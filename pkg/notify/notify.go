// Package notify sends chat messages and inline keyboards through the
// Telegram Bot API.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MaxCallbackData is the Telegram limit for a button payload, in bytes.
const MaxCallbackData = 64

// ErrCallbackTooLong is returned for keyboards whose payloads Telegram would reject.
var ErrCallbackTooLong = errors.New("callback data exceeds 64 bytes")

// Button is an inline button carrying a callback payload.
type Button struct {
	Text string
	Data string
}

// Keyboard is a list of button rows. A nil Keyboard means no buttons.
type Keyboard [][]Button

// Validate checks every payload against the Telegram size limit.
func (k Keyboard) Validate() error {
	for _, row := range k {
		for _, b := range row {
			if len(b.Data) > MaxCallbackData {
				return fmt.Errorf("%w: %q", ErrCallbackTooLong, b.Data)
			}
		}
	}
	return nil
}

func (k Keyboard) markup() tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(k))
	for _, row := range k {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// Sender is the part of *tgbotapi.BotAPI used to talk to Telegram.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Config holds configuration for the Telegram notifier.
type Config struct {
	// Attempts is the number of tries for a rate-limited request. Defaults to 3.
	Attempts uint
	// FallbackDelay is used when a 429 response carries no retry_after. Defaults to 1s.
	FallbackDelay time.Duration
	// MaxDelay caps retry_after. Defaults to 30s.
	MaxDelay time.Duration
}

// Telegram renders messages and keyboards.
type Telegram struct {
	bot           Sender
	attempts      uint
	fallbackDelay time.Duration
	maxDelay      time.Duration
	logger        *slog.Logger
}

// New creates a new Telegram notifier.
func New(bot Sender, cfg Config, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.FallbackDelay <= 0 {
		cfg.FallbackDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}

	return &Telegram{
		bot:           bot,
		attempts:      cfg.Attempts,
		fallbackDelay: cfg.FallbackDelay,
		maxDelay:      cfg.MaxDelay,
		logger:        logger,
	}
}

// Send posts text to chatID with an optional keyboard and returns the message id.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string, kb Keyboard) (int, error) {
	if err := kb.Validate(); err != nil {
		return 0, err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if kb != nil {
		msg.ReplyMarkup = kb.markup()
	}

	var sent tgbotapi.Message
	err := t.do(ctx, "send", func() error {
		var err error
		sent, err = t.bot.Send(msg)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sending message to %d: %w", chatID, err)
	}
	return sent.MessageID, nil
}

// Edit replaces the text of a message. A nil keyboard removes its buttons.
// Telegram refusals (message too old, not modified) are logged and tolerated.
func (t *Telegram) Edit(ctx context.Context, chatID int64, messageID int, text string, kb Keyboard) error {
	if err := kb.Validate(); err != nil {
		return err
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.DisableWebPagePreview = true
	if kb != nil {
		markup := kb.markup()
		edit.ReplyMarkup = &markup
	}

	err := t.do(ctx, "edit", func() error {
		_, err := t.bot.Request(edit)
		return err
	})

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest {
		t.logger.Warn("message edit refused",
			"chat_id", chatID,
			"message_id", messageID,
			"error", apiErr.Message,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("editing message %d: %w", messageID, err)
	}
	return nil
}

// Answer acknowledges a button press so the client stops its spinner.
// text, when set, is shown as a toast.
func (t *Telegram) Answer(ctx context.Context, callbackID, text string) error {
	err := t.do(ctx, "answer", func() error {
		_, err := t.bot.Request(tgbotapi.NewCallback(callbackID, text))
		return err
	})
	if err != nil {
		return fmt.Errorf("answering callback: %w", err)
	}
	return nil
}

func (t *Telegram) do(ctx context.Context, op string, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			if _, limited := retryAfter(err); limited {
				t.logger.Warn("rate limited, will retry", "op", op, "error", err)
				return true
			}
			return false
		}),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			delay, _ := retryAfter(err)
			if delay <= 0 {
				return t.fallbackDelay
			}
			return min(delay, t.maxDelay)
		}),
		retry.Attempts(t.attempts),
		retry.LastErrorOnly(true),
	)
}

// retryAfter reports whether err is a 429 and how long Telegram asked to wait.
func retryAfter(err error) (time.Duration, bool) {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusTooManyRequests {
		return 0, false
	}
	return time.Duration(apiErr.RetryAfter) * time.Second, true
}
