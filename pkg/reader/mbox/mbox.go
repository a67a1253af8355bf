// Package mbox implements a Reader that replays an mbox file through the
// extraction pipeline, for offline testing of rules and of the bot.
package mbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message/mail"

	"github.com/ArionMiles/pointsbot/pkg/api"
	"github.com/ArionMiles/pointsbot/pkg/extract"
)

var (
	// ErrNoMatchingRule is reported for messages no enabled rule applies to.
	ErrNoMatchingRule = errors.New("no matching rule")
	// ErrUnknownChat means the replay chat owns no registered mailbox.
	ErrUnknownChat = errors.New("chat has no registered account")
)

// AccountSource lists the registered mailboxes.
type AccountSource interface {
	MonitoredAccounts(ctx context.Context) ([]api.MonitoredAccount, error)
}

// Config holds configuration for the mbox reader.
type Config struct {
	// Path is the mbox file to replay.
	Path string
	// Rules are matched against From and Subject the way an IMAP search would.
	Rules []api.Rule
	// Account owns the replayed purchases.
	Account api.MonitoredAccount
	// Accounts, when set, fills in the owner of Account.ChatID before Read
	// replays anything.
	Accounts AccountSource
}

// Result is the outcome for one message of the file.
type Result struct {
	Index    int
	From     string
	Subject  string
	Date     time.Time
	Rule     string
	Purchase *api.Purchase
	Err      error
	// Body is the decoded plain-text body of a message that matched a rule.
	Body string
}

// Reader replays an mbox file.
type Reader struct {
	path     string
	rules    []api.Rule
	chatID   int64
	account  api.MonitoredAccount
	accounts AccountSource
	logger   *slog.Logger

	mu     sync.Mutex
	status api.PollStatus
}

// New creates a new mbox reader.
func New(cfg Config, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		return nil, errors.New("mbox path is required")
	}

	return &Reader{
		path:     cfg.Path,
		rules:    cfg.Rules,
		chatID:   cfg.Account.ChatID,
		account:  cfg.Account,
		accounts: cfg.Accounts,
		logger:   logger,
	}, nil
}

// Read replays the file once, sends every extracted purchase to out and then
// waits for the context to be canceled.
func (r *Reader) Read(ctx context.Context, out chan<- *api.Purchase) error {
	defer close(out)

	if err := r.resolveAccount(ctx); err != nil {
		return err
	}

	var sent, failed int
	err := r.Replay(ctx, func(res Result) error {
		if res.Err != nil {
			r.logger.Warn("skipping message", "index", res.Index, "subject", res.Subject, "error", res.Err)
			failed++
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- res.Purchase:
			sent++
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.status = api.PollStatus{
		Source:    "mbox",
		LastPoll:  time.Now(),
		Accounts:  1,
		Messages:  sent + failed,
		Purchases: sent,
		Failures:  failed,
	}
	r.mu.Unlock()

	r.logger.Info("mbox replay complete", "path", r.path, "purchases", sent, "skipped", failed)

	<-ctx.Done()
	r.logger.Info("mbox reader stopping", "reason", ctx.Err())
	return ctx.Err()
}

// Status returns the result of the replay once it completed.
func (r *Reader) Status() api.PollStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Monitors reports whether chatID owns the replayed purchases.
func (r *Reader) Monitors(chatID int64) bool {
	return r.chatID == chatID
}

func (r *Reader) resolveAccount(ctx context.Context) error {
	if r.accounts == nil || r.account.UserID != 0 {
		return nil
	}

	accounts, err := r.accounts.MonitoredAccounts(ctx)
	if err != nil {
		return fmt.Errorf("loading accounts: %w", err)
	}
	for _, account := range accounts {
		if account.ChatID == r.chatID {
			r.account = account
			r.logger.Info("replaying on behalf of", "user_id", account.UserID, "chat_id", account.ChatID)
			return nil
		}
	}
	return fmt.Errorf("%w: chat %d", ErrUnknownChat, r.chatID)
}

// Replay calls fn for every message of the file in order. Per-message
// failures are reported through Result.Err; an error from fn stops the replay.
func (r *Reader) Replay(ctx context.Context, fn func(Result) error) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("opening mbox: %w", err)
	}
	defer f.Close()

	mr := mbox.NewReader(f)
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := mr.NextMessage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading message %d: %w", i, err)
		}

		raw, err := io.ReadAll(msg)
		if err != nil {
			return fmt.Errorf("reading message %d: %w", i, err)
		}

		if err := fn(r.process(i, raw)); err != nil {
			return err
		}
	}
}

func (r *Reader) process(index int, raw []byte) Result {
	res := Result{Index: index}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		res.Err = fmt.Errorf("parsing message: %w", err)
		return res
	}
	from, _ := mr.Header.AddressList("From")
	res.Subject, _ = mr.Header.Subject()
	res.Date, _ = mr.Header.Date()
	mr.Close()

	var sender string
	if len(from) > 0 {
		sender = from[0].Address
		res.From = sender
	}

	rule, ok := r.match(sender, res.Subject)
	if !ok {
		res.Err = ErrNoMatchingRule
		return res
	}
	res.Rule = rule.Name

	body, err := extract.Body(bytes.NewReader(raw))
	if err != nil {
		res.Err = err
		return res
	}
	res.Body = body

	purchase, err := extract.Purchase(body, rule)
	if err != nil {
		res.Err = err
		return res
	}

	purchase.MessageUID = uint32(index + 1)
	purchase.Account = r.account
	purchase.ReceivedAt = res.Date
	res.Purchase = purchase
	return res
}

// match mirrors the IMAP search: exact sender, case-insensitive subject substring.
func (r *Reader) match(sender, subject string) (api.Rule, bool) {
	for _, rule := range r.rules {
		if !rule.Enabled {
			continue
		}
		if rule.Subject != "" && !strings.Contains(strings.ToLower(subject), strings.ToLower(rule.Subject)) {
			continue
		}
		for _, s := range rule.Senders {
			if strings.EqualFold(s, sender) {
				return rule, true
			}
		}
	}
	return api.Rule{}, false
}
