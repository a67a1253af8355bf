// Package session owns the state shared between the mail pipeline and the
// chat handlers: pending button prompts and per-chat conversations.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ArionMiles/pointsbot/pkg/api"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("session store closed")

// Conversation actions.
const (
	ActionRegister           = "register"
	ActionAddPoints          = "add_points"
	ActionRedeemPoints       = "redeem_points"
	ActionAddCard            = "add_card"
	ActionEditCard           = "edit_card"
	ActionAwaitingCardDigits = "awaiting_card_digits"
)

// Conversation is the multi-step flow a chat is in.
type Conversation struct {
	Action    string
	Step      string
	Data      map[string]string
	UpdatedAt time.Time
}

func (c *Conversation) clone() *Conversation {
	cp := *c
	cp.Data = maps.Clone(c.Data)
	if cp.Data == nil {
		cp.Data = make(map[string]string)
	}
	return &cp
}

// Persister keeps pending actions across restarts.
type Persister interface {
	SavePending(ctx context.Context, p *api.PendingAction) error
	DeletePending(ctx context.Context, token string) error
	LoadPending(ctx context.Context, now time.Time) ([]*api.PendingAction, error)
	DeleteExpiredPending(ctx context.Context, now time.Time) (int64, error)
}

// Store holds pending actions (by token, indexed by transaction id) and
// conversations (by chat id). It is safe for concurrent use.
// In-memory state is authoritative while running; persistence errors are
// returned but do not roll back the in-memory change.
type Store struct {
	mu      sync.Mutex
	pending map[string]*api.PendingAction
	byTx    map[int64]string
	convs   map[int64]*Conversation
	closed  bool

	persister Persister
	ttl       time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store. persister may be nil for a memory-only store.
func New(persister Persister, ttl time.Duration, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		pending:   make(map[string]*api.PendingAction),
		byTx:      make(map[int64]string),
		convs:     make(map[int64]*Conversation),
		persister: persister,
		ttl:       ttl,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads unexpired pending actions from the persister.
func (s *Store) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	loaded, err := s.persister.LoadPending(ctx, s.now())
	if err != nil {
		return fmt.Errorf("restoring pending actions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range loaded {
		s.pending[p.Token] = p
		s.byTx[p.TransactionID] = p.Token
	}

	s.logger.Info("pending actions restored", "count", len(loaded))
	return nil
}

// Add stores a new pending action. Token, CreatedAt and ExpiresAt are filled
// in when empty. The stored copy is returned.
func (s *Store) Add(ctx context.Context, p api.PendingAction) (*api.PendingAction, error) {
	now := s.now()
	if p.Token == "" {
		p.Token = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.ExpiresAt.IsZero() && s.ttl > 0 {
		p.ExpiresAt = p.CreatedAt.Add(s.ttl)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	stored := p
	s.pending[p.Token] = &stored
	s.byTx[p.TransactionID] = p.Token
	s.mu.Unlock()

	return &p, s.persist(ctx, &p)
}

// Update replaces a pending action that is still present.
// It reports false when the token is unknown.
func (s *Store) Update(ctx context.Context, p api.PendingAction) (bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrClosed
	}
	if _, ok := s.pending[p.Token]; !ok {
		s.mu.Unlock()
		return false, nil
	}
	stored := p
	s.pending[p.Token] = &stored
	s.mu.Unlock()

	return true, s.persist(ctx, &p)
}

func (s *Store) persist(ctx context.Context, p *api.PendingAction) error {
	if s.persister == nil {
		return nil
	}
	return s.persister.SavePending(ctx, p)
}

// Get returns a copy of the pending action for token. Expired actions are
// removed and reported as missing.
func (s *Store) Get(ctx context.Context, token string) (*api.PendingAction, bool) {
	s.mu.Lock()
	p, ok := s.pending[token]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	if p.Expired(s.now()) {
		s.removeLocked(token)
		s.mu.Unlock()
		s.deletePersisted(ctx, token)
		return nil, false
	}
	cp := *p
	s.mu.Unlock()
	return &cp, true
}

// ByTransaction returns the pending action for a transaction id.
func (s *Store) ByTransaction(ctx context.Context, txID int64) (*api.PendingAction, bool) {
	s.mu.Lock()
	token, ok := s.byTx[txID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return s.Get(ctx, token)
}

// Remove deletes a pending action. Unknown tokens are ignored.
// It reports whether this call removed it, so exactly one of several
// concurrent callers wins.
func (s *Store) Remove(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	_, ok := s.pending[token]
	if ok {
		s.removeLocked(token)
	}
	s.mu.Unlock()

	if !ok || s.persister == nil {
		return ok, nil
	}
	return true, s.persister.DeletePending(ctx, token)
}

func (s *Store) removeLocked(token string) {
	if p, ok := s.pending[token]; ok {
		if s.byTx[p.TransactionID] == token {
			delete(s.byTx, p.TransactionID)
		}
		delete(s.pending, token)
	}
}

func (s *Store) deletePersisted(ctx context.Context, token string) {
	if s.persister == nil {
		return
	}
	if err := s.persister.DeletePending(ctx, token); err != nil {
		s.logger.Warn("failed to delete expired pending action", "token", token, "error", err)
	}
}

// SweepExpired removes expired pending actions from memory and from the persister.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	var removed int
	for token, p := range s.pending {
		if p.Expired(now) {
			s.removeLocked(token)
			removed++
		}
	}
	s.mu.Unlock()

	if s.persister != nil {
		if _, err := s.persister.DeleteExpiredPending(ctx, now); err != nil {
			return removed, fmt.Errorf("sweeping persisted pending actions: %w", err)
		}
	}
	return removed, nil
}

// PendingCount returns the number of live pending actions of a chat.
func (s *Store) PendingCount(chatID int64) int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, p := range s.pending {
		if p.ChatID == chatID && !p.Expired(now) {
			n++
		}
	}
	return n
}

// StartConversation sets the conversation of a chat, replacing any previous one.
func (s *Store) StartConversation(chatID int64, action, step string) *Conversation {
	c := &Conversation{
		Action:    action,
		Step:      step,
		Data:      make(map[string]string),
		UpdatedAt: s.now(),
	}

	s.mu.Lock()
	s.convs[chatID] = c
	s.mu.Unlock()
	return c.clone()
}

// Conversation returns a copy of the chat's conversation.
func (s *Store) Conversation(chatID int64) (*Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[chatID]
	if !ok {
		return nil, false
	}
	return c.clone(), true
}

// SaveConversation stores c as the chat's conversation.
func (s *Store) SaveConversation(chatID int64, c *Conversation) {
	cp := c.clone()
	cp.UpdatedAt = s.now()

	s.mu.Lock()
	s.convs[chatID] = cp
	s.mu.Unlock()
}

// ClearConversation ends the chat's conversation, if any.
func (s *Store) ClearConversation(chatID int64) {
	s.mu.Lock()
	delete(s.convs, chatID)
	s.mu.Unlock()
}

// Close rejects further pending actions and drops conversations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	clear(s.convs)
	return nil
}
