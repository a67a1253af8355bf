// Package imap implements a Reader that polls IMAP mailboxes for purchase
// confirmations.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/ArionMiles/pointsbot/pkg/api"
	"github.com/ArionMiles/pointsbot/pkg/extract"
)

var (
	// ErrMailAuth means the mailbox rejected the credentials.
	ErrMailAuth = errors.New("mailbox authentication failed")
	// ErrMailConnection means the mailbox could not be reached or opened.
	ErrMailConnection = errors.New("mailbox connection failed")
)

// Session is the part of an IMAP client the reader uses.
// *client.Client satisfies it.
type Session interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Logout() error
	// Terminate closes the connection without logging out. It unblocks any
	// command in flight.
	Terminate() error
}

// Dialer opens a session to addr. It must give up when ctx is done.
type Dialer func(ctx context.Context, addr string) (Session, error)

const (
	// CommandTimeout bounds the dial, the greeting and every IMAP command.
	CommandTimeout = 30 * time.Second
	// AccountTimeout bounds the whole cycle of one account.
	AccountTimeout = 2 * time.Minute
)

// DialTLS connects to an IMAPS server.
func DialTLS(ctx context.Context, addr string) (Session, error) {
	c, err := dialTLS(ctx, addr, CommandTimeout)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func dialTLS(ctx context.Context, addr string, timeout time.Duration) (*client.Client, error) {
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: timeout}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// client.New blocks until the server greets us.
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	c, err := client.New(conn)
	if !stop() {
		return nil, fmt.Errorf("waiting for greeting: %w", ctx.Err())
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("waiting for greeting: %w", err)
	}

	c.Timeout = timeout
	return c, nil
}

// AccountSource lists the mailboxes to poll.
type AccountSource interface {
	MonitoredAccounts(ctx context.Context) ([]api.MonitoredAccount, error)
}

// Config holds configuration for the IMAP reader.
type Config struct {
	// Addr is the IMAPS server, host:port.
	Addr string
	// Rules decide which messages are searched and how they are parsed.
	Rules []api.Rule
	// Interval between poll cycles. Defaults to 45 seconds.
	Interval time.Duration
	// AccountTimeout bounds one account's cycle. Defaults to AccountTimeout.
	AccountTimeout time.Duration
	// Dial defaults to DialTLS.
	Dial Dialer
}

// Reader polls every monitored mailbox.
type Reader struct {
	accounts AccountSource
	addr     string
	rules    []api.Rule
	interval time.Duration
	timeout  time.Duration
	dial     Dialer
	logger   *slog.Logger

	extract func(body string, rule api.Rule) (*api.Purchase, error)

	mu     sync.Mutex
	status api.PollStatus
	chats  map[int64]bool
}

// New creates a new IMAP reader.
func New(accounts AccountSource, cfg Config, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if accounts == nil {
		return nil, errors.New("account source is required")
	}
	if cfg.Addr == "" {
		return nil, errors.New("server address is required")
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = 45 * time.Second
	}
	timeout := cfg.AccountTimeout
	if timeout == 0 {
		timeout = AccountTimeout
	}
	dial := cfg.Dial
	if dial == nil {
		dial = DialTLS
	}

	return &Reader{
		accounts: accounts,
		addr:     cfg.Addr,
		rules:    cfg.Rules,
		interval: interval,
		timeout:  timeout,
		dial:     dial,
		logger:   logger,
		extract:  extract.Purchase,
	}, nil
}

// Read polls all mailboxes immediately, then every interval, sending
// purchases to out. It runs until the context is canceled.
func (r *Reader) Read(ctx context.Context, out chan<- *api.Purchase) error {
	defer close(out)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run immediately on start
	r.Poll(ctx, out)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("imap reader stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			r.Poll(ctx, out)
		}
	}
}

// Status returns the result of the last poll cycle.
func (r *Reader) Status() api.PollStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Monitors reports whether chatID owned a mailbox in the last poll cycle.
func (r *Reader) Monitors(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chats[chatID]
}

type cycleStats struct {
	mu        sync.Mutex
	messages  int
	purchases int
	failures  int
}

func (c *cycleStats) add(messages, purchases, failures int) {
	c.mu.Lock()
	c.messages += messages
	c.purchases += purchases
	c.failures += failures
	c.mu.Unlock()
}

// Poll runs one cycle over every monitored account. Failures are logged
// per account and never abort the cycle. Each account gets at most the
// account timeout, so a silent server cannot hold up the others.
func (r *Reader) Poll(ctx context.Context, out chan<- *api.Purchase) {
	accounts, err := r.accounts.MonitoredAccounts(ctx)
	if err != nil {
		r.logger.Error("failed to load monitored accounts", "error", err)
		return
	}

	r.logger.Info("starting poll cycle", "accounts", len(accounts))

	var (
		wg    sync.WaitGroup
		stats cycleStats
	)
	for _, account := range accounts {
		wg.Add(1)
		go func(account api.MonitoredAccount) {
			defer wg.Done()
			r.pollAccount(ctx, account, out, &stats)
		}(account)
	}
	wg.Wait()

	chats := make(map[int64]bool, len(accounts))
	for _, account := range accounts {
		chats[account.ChatID] = true
	}

	r.mu.Lock()
	r.chats = chats
	r.status = api.PollStatus{
		Source:    "imap",
		LastPoll:  time.Now(),
		Accounts:  len(accounts),
		Messages:  stats.messages,
		Purchases: stats.purchases,
		Failures:  stats.failures,
	}
	r.mu.Unlock()

	r.logger.Info("poll cycle complete",
		"messages", stats.messages,
		"purchases", stats.purchases,
		"failures", stats.failures,
	)
}

func (r *Reader) pollAccount(ctx context.Context, account api.MonitoredAccount, out chan<- *api.Purchase, stats *cycleStats) {
	logger := r.logger.With("user_id", account.UserID, "email", account.Email)

	err := r.processAccount(ctx, account, out, stats, logger)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, ErrMailAuth):
		logger.Warn("skipping account", "error", err)
		stats.add(0, 0, 1)
	default:
		logger.Error("skipping account", "error", err)
		stats.add(0, 0, 1)
	}
}

func (r *Reader) processAccount(ctx context.Context, account api.MonitoredAccount, out chan<- *api.Purchase, stats *cycleStats, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	sess, err := r.dial(ctx, r.addr)
	if err != nil {
		return interrupted(ctx, fmt.Errorf("%w: dialing %s: %w", ErrMailConnection, r.addr, err))
	}
	terminate := context.AfterFunc(ctx, func() {
		if err := sess.Terminate(); err != nil {
			logger.Debug("terminate failed", "error", err)
		}
	})
	defer func() {
		if !terminate() {
			return
		}
		if err := sess.Logout(); err != nil {
			logger.Debug("logout failed", "error", err)
		}
	}()

	if err := sess.Login(account.Email, account.Password); err != nil {
		return interrupted(ctx, fmt.Errorf("%w: %w", ErrMailAuth, err))
	}
	if _, err := sess.Select("INBOX", false); err != nil {
		return interrupted(ctx, fmt.Errorf("%w: selecting INBOX: %w", ErrMailConnection, err))
	}

	handled := make(map[uint32]bool)
	for _, rule := range r.rules {
		if !rule.Enabled {
			logger.Debug("skipping disabled rule", "rule", rule.Name)
			continue
		}

		for _, sender := range rule.Senders {
			uids, err := sess.UidSearch(searchCriteria(sender, rule.Subject))
			if ctx.Err() != nil {
				return interrupted(ctx, err)
			}
			if err != nil {
				logger.Error("search failed", "rule", rule.Name, "sender", sender, "error", err)
				continue
			}

			logger.Info("found messages", "rule", rule.Name, "sender", sender, "count", len(uids))

			for _, uid := range uids {
				if handled[uid] {
					continue
				}
				handled[uid] = true

				err := r.processMessage(ctx, sess, uid, rule, account, out)
				switch {
				case err == nil:
					stats.add(1, 1, 0)
				case ctx.Err() != nil:
					return interrupted(ctx, err)
				default:
					logger.Error("failed to process message", "uid", uid, "rule", rule.Name, "error", err)
					stats.add(1, 0, 1)
				}
			}
		}
	}

	return nil
}

// interrupted reports a cancelled account as context.Canceled and an
// account that ran out of time as a connection failure.
func interrupted(ctx context.Context, err error) error {
	switch ctx.Err() {
	case nil:
		return err
	case context.DeadlineExceeded:
		return fmt.Errorf("%w: account timed out: %w", ErrMailConnection, context.DeadlineExceeded)
	default:
		return ctx.Err()
	}
}

func searchCriteria(sender, subject string) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Header.Add("From", sender)
	if subject != "" {
		criteria.Header.Add("Subject", subject)
	}
	return criteria
}

// processMessage fetches, parses and forwards one message. The message is
// marked seen exactly once on every path out, including a panic. A purchase
// that could not be handed over before ctx ended stays unseen so the next
// cycle picks it up again.
func (r *Reader) processMessage(ctx context.Context, sess Session, uid uint32, rule api.Rule, account api.MonitoredAccount, out chan<- *api.Purchase) (err error) {
	undelivered := false
	defer func() {
		if !undelivered {
			r.markSeen(sess, uid)
		}
	}()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic processing message %d: %v", uid, rec)
		}
	}()

	msg, err := fetch(sess, uid)
	if err != nil {
		return err
	}

	body, err := messageBody(msg)
	if err != nil {
		return err
	}

	purchase, err := r.extract(body, rule)
	if err != nil {
		return fmt.Errorf("extracting purchase: %w", err)
	}

	purchase.MessageUID = uid
	purchase.Account = account
	purchase.ReceivedAt = msg.InternalDate
	if purchase.ReceivedAt.IsZero() {
		purchase.ReceivedAt = time.Now()
	}

	r.logger.Debug("extracted purchase",
		"uid", uid,
		"merchant", purchase.Merchant,
		"amount", purchase.Amount.StringFixed(2),
		"card", purchase.CardLast4,
	)

	select {
	case <-ctx.Done():
		undelivered = true
		return ctx.Err()
	case out <- purchase:
	}
	return nil
}

// fetch retrieves a message without setting \Seen.
func fetch(sess Session, uid uint32) (*imap.Message, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchInternalDate}

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- sess.UidFetch(seqset, items, ch)
	}()

	var msg *imap.Message
	for m := range ch {
		if msg == nil {
			msg = m
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetching message %d: %w", uid, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("message %d not found", uid)
	}
	return msg, nil
}

func messageBody(msg *imap.Message) (string, error) {
	lit := msg.GetBody(&imap.BodySectionName{Peek: true})
	if lit == nil {
		for _, l := range msg.Body {
			lit = l
			break
		}
	}
	if lit == nil {
		return "", fmt.Errorf("message %d has no body", msg.Uid)
	}
	return extract.Body(lit)
}

func (r *Reader) markSeen(sess Session, uid uint32) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	if err := sess.UidStore(seqset, item, flags, nil); err != nil {
		r.logger.Warn("failed to mark message as seen", "uid", uid, "error", err)
		return
	}
	r.logger.Debug("marked message as seen", "uid", uid)
}
