// Package recorder stores extracted purchases and opens the chat prompt the
// database asks for.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/pointsbot/pkg/api"
	"github.com/ArionMiles/pointsbot/pkg/notify"
)

// Inserter records a purchase and returns the server-decided next step.
type Inserter interface {
	InsertTransaction(ctx context.Context, p *api.Purchase) (api.RecordResult, error)
}

// Notifier sends a chat message and returns its id.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string, kb notify.Keyboard) (int, error)
}

// Pending keeps the prompts waiting for a button press.
type Pending interface {
	Add(ctx context.Context, p api.PendingAction) (*api.PendingAction, error)
	Update(ctx context.Context, p api.PendingAction) (bool, error)
	Remove(ctx context.Context, token string) (bool, error)
}

// Ledger is the local running-total file.
type Ledger interface {
	Append(chatID int64, merchant string, txID int64, amount decimal.Decimal, at time.Time)
}

// RecordTimeout bounds the database call and notification of one purchase.
const RecordTimeout = 30 * time.Second

// Recorder implements api.Writer.
type Recorder struct {
	store    Inserter
	notifier Notifier
	pending  Pending
	ledger   Ledger
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a new Recorder. ledger may be nil.
func New(store Inserter, notifier Notifier, pending Pending, ledger Ledger, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil || notifier == nil || pending == nil {
		return nil, errors.New("store, notifier and pending store are required")
	}

	return &Recorder{
		store:    store,
		notifier: notifier,
		pending:  pending,
		ledger:   ledger,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Write records purchases from in until the reader closes it. The source
// marks messages seen once they are queued, so purchases still buffered when
// ctx is canceled are recorded anyway, each on a context that outlives ctx
// by at most RecordTimeout. A failed purchase is logged and skipped.
func (r *Recorder) Write(ctx context.Context, in <-chan *api.Purchase) error {
	r.logger.Info("recorder started")

	for p := range in {
		if ctx.Err() != nil {
			r.logger.Info("recording buffered purchase during shutdown", "merchant", p.Merchant)
		}
		r.write(ctx, p)
	}

	r.logger.Info("input channel closed, recorder stopping")
	return ctx.Err()
}

func (r *Recorder) write(ctx context.Context, p *api.Purchase) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RecordTimeout)
	defer cancel()

	if _, err := r.Record(ctx, p); err != nil {
		r.logger.Error("failed to record purchase",
			"merchant", p.Merchant,
			"amount", p.Amount.StringFixed(2),
			"user_id", p.Account.UserID,
			"error", err,
		)
	}
}

// Record writes p to the database first and then notifies the owning chat.
// Only a database failure is returned; the transaction exists even when
// the notification could not be delivered.
func (r *Recorder) Record(ctx context.Context, p *api.Purchase) (api.RecordResult, error) {
	res, err := r.store.InsertTransaction(ctx, p)
	if err != nil {
		return api.RecordResult{}, fmt.Errorf("recording %s: %w", p.Merchant, err)
	}

	logger := r.logger.With(
		"transaction_id", res.TransactionID,
		"action", res.Action,
		"chat_id", p.Account.ChatID,
	)
	logger.Info("recorded purchase", "merchant", p.Merchant, "amount", p.Amount.StringFixed(2))

	if r.ledger != nil {
		r.ledger.Append(p.Account.ChatID, p.Merchant, res.TransactionID, p.Amount, r.receivedAt(p))
	}

	if err := r.prompt(ctx, p, res); err != nil {
		logger.Error("failed to notify chat", "error", err)
	}
	return res, nil
}

func (r *Recorder) receivedAt(p *api.Purchase) time.Time {
	if p.ReceivedAt.IsZero() {
		return r.now()
	}
	return p.ReceivedAt
}

func (r *Recorder) prompt(ctx context.Context, p *api.Purchase, res api.RecordResult) error {
	text := "💳 " + Message(p, res)

	if !res.Action.Valid() {
		r.logger.Warn("unknown action code, sending without buttons",
			"transaction_id", res.TransactionID,
			"action", res.Action,
		)
		_, err := r.notifier.Send(ctx, p.Account.ChatID, text, nil)
		return err
	}

	step := res.Action
	if step == api.ActionAuto {
		step = api.ActionNone
	}
	pending, err := r.pending.Add(ctx, api.PendingAction{
		ChatID:        p.Account.ChatID,
		TransactionID: res.TransactionID,
		Company:       p.Merchant,
		Amount:        p.Amount,
		Card:          p.CardLast4,
		RequiredStep:  step,
	})
	if pending == nil {
		return fmt.Errorf("creating pending action: %w", err)
	}
	if err != nil {
		r.logger.Warn("pending action not persisted", "token", pending.Token, "error", err)
	}

	kb := notify.PendingKeyboard(res.TransactionID, step)
	if step == api.ActionNone {
		kb = notify.AcknowledgeKeyboard(pending.Token)
	}

	messageID, err := r.notifier.Send(ctx, p.Account.ChatID, text, kb)
	if err != nil {
		if _, rmErr := r.pending.Remove(ctx, pending.Token); rmErr != nil {
			r.logger.Warn("failed to remove pending action", "token", pending.Token, "error", rmErr)
		}
		return err
	}

	pending.MessageID = messageID
	if _, err := r.pending.Update(ctx, *pending); err != nil {
		r.logger.Warn("failed to store message id", "token", pending.Token, "error", err)
	}
	return nil
}

// Message is the database text, or a summary built from p when it is empty.
func Message(p *api.Purchase, res api.RecordResult) string {
	if res.Message != "" {
		return res.Message
	}
	return fmt.Sprintf("Compra en %s por $%s con tarjeta ••••%s (%s)",
		p.Merchant, p.Amount.StringFixed(2), p.CardLast4, p.Bank)
}
