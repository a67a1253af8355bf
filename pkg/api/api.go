// Package api defines the core interfaces and data structures for pointsbot.
package api

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrCardNotFound is returned by stores when a chat has no card with the
// given digits or id.
var ErrCardNotFound = errors.New("card not found")

// MonitoredAccount is a mailbox the poller logs into on behalf of a chat user.
// Accounts are loaded from the credential store every poll cycle and never mutated.
type MonitoredAccount struct {
	UserID   int64
	ChatID   int64
	Email    string
	Password string
}

// Purchase holds the fields extracted from a purchase-confirmation email.
type Purchase struct {
	Merchant  string          `json:"merchant"`
	Amount    decimal.Decimal `json:"amount"`
	CardLast4 string          `json:"card_last4"`
	Bank      string          `json:"bank"`

	// Pipeline metadata, not part of the extracted fields.
	Rule       string           `json:"-"`
	MessageUID uint32           `json:"-"`
	ReceivedAt time.Time        `json:"-"`
	Account    MonitoredAccount `json:"-"`
}

// Reader polls a mail source and sends extracted purchases to the provided channel.
// Implementations close the channel when they return.
type Reader interface {
	Read(ctx context.Context, out chan<- *Purchase) error
}

// Writer consumes purchases from a channel until it is closed or ctx is done.
type Writer interface {
	Write(ctx context.Context, in <-chan *Purchase) error
}

// PollStatus describes the last completed cycle of a mail source.
type PollStatus struct {
	Source    string
	LastPoll  time.Time
	Accounts  int
	Messages  int
	Purchases int
	Failures  int
}

// StatusReporter is implemented by readers that can describe their last cycle.
type StatusReporter interface {
	Status() PollStatus
	// Monitors reports whether the chat owns a polled mailbox.
	Monitors(chatID int64) bool
}

// CardPolicy decides what happens when a body carries no card number.
type CardPolicy string

const (
	// CardStrict fails extraction with ErrMissingCard.
	CardStrict CardPolicy = "strict"
	// CardLenient falls back to DefaultCardLast4.
	CardLenient CardPolicy = "lenient"
)

// DefaultCardLast4 is used by lenient rules when no card number is found.
const DefaultCardLast4 = "0000"

// Rule defines an email matching rule for purchase extraction.
type Rule struct {
	Name    string
	Enabled bool
	// Senders is the whitelist of From addresses searched for this rule.
	Senders []string
	// Subject is matched by the IMAP SUBJECT search key.
	Subject string

	Merchant *regexp.Regexp
	// Amount patterns are tried in order; the first one that matches wins.
	Amount []*regexp.Regexp
	Card   *regexp.Regexp
	Bank   *regexp.Regexp

	// Banks is the whitelist used to normalise the bank match.
	Banks       []string
	DefaultBank string
	CardPolicy  CardPolicy
}

// Action is the server-decided next step for a recorded transaction.
type Action string

const (
	ActionAuto    Action = "AUTO"
	ActionAskMult Action = "ASK_MULT"
	ActionAskCat  Action = "ASK_CAT"
	ActionAskBoth Action = "ASK_BOTH"
	// ActionNone marks a pending action that only waits for an acknowledgement.
	ActionNone Action = "NONE"
)

// NeedsMultiplier reports whether the user still has to pick a multiplier.
func (a Action) NeedsMultiplier() bool {
	return a == ActionAskMult || a == ActionAskBoth
}

// NeedsCategory reports whether the user still has to pick a category.
func (a Action) NeedsCategory() bool {
	return a == ActionAskCat || a == ActionAskBoth
}

// ParseAction converts the code returned by the database into an Action.
// Unknown codes are returned as-is so callers can log them.
func ParseAction(code string) Action {
	return Action(strings.ToUpper(strings.TrimSpace(code)))
}

// Valid reports whether a is one of the codes the database may return.
func (a Action) Valid() bool {
	switch a {
	case ActionAuto, ActionAskMult, ActionAskCat, ActionAskBoth:
		return true
	}
	return false
}

// RecordResult is what the database returns after recording a purchase.
type RecordResult struct {
	TransactionID int64
	Action        Action
	Message       string
}

// PendingAction is an interactive prompt waiting for a button press.
type PendingAction struct {
	Token         string
	ChatID        int64
	MessageID     int
	TransactionID int64
	Company       string
	Amount        decimal.Decimal
	Card          string
	// RequiredStep is what is still missing; ActionNone waits for an acknowledgement.
	RequiredStep Action
	Multiplier   decimal.NullDecimal
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether p can no longer be acted on.
func (p *PendingAction) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// RecentTransaction is a row of the recent transactions listing.
type RecentTransaction struct {
	ID         int64           `db:"id"`
	Merchant   string          `db:"merchant"`
	Amount     decimal.Decimal `db:"amount"`
	Points     decimal.Decimal `db:"points"`
	Multiplier decimal.Decimal `db:"multiplier"`
	At         time.Time       `db:"created_at"`
}

// Card is a registered card with its current points balance.
type Card struct {
	ID           int64     `db:"id"`
	Bank         string    `db:"bank"`
	Last4        string    `db:"last4"`
	Alias        string    `db:"alias"`
	RegisteredAt time.Time `db:"registered_at"`
	Points       int64     `db:"points"`
}

// MonthlySummary aggregates one month of points.
type MonthlySummary struct {
	MonthName   string          `db:"month_name"`
	TotalUSD    decimal.Decimal `db:"total_usd"`
	TotalPoints decimal.Decimal `db:"total_points"`
	Count       int64           `db:"tx_count"`
	TopCategory string          `db:"top_category"`
}
