// Package ledger keeps a local JSON file of running totals per merchant.
// It is display-only: the database stays authoritative and nothing here is
// ever written back to it.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultBatchSize is the number of changes buffered before the file is rewritten.
const DefaultBatchSize = 10

// DefaultFlushInterval is the interval between automatic flushes.
const DefaultFlushInterval = 30 * time.Second

// Entry is one recorded purchase.
type Entry struct {
	ChatID        int64           `json:"chat_id"`
	TransactionID int64           `json:"transaction_id"`
	TotalUSD      decimal.Decimal `json:"total_usd"`
	Points        decimal.Decimal `json:"points"`
	At            time.Time       `json:"at"`
}

// Config holds configuration for the ledger.
type Config struct {
	// FilePath is the JSON file, created on first flush.
	FilePath string
	// BatchSize is the number of changes buffered before writing.
	BatchSize int
	// FlushInterval is the interval between automatic flushes.
	FlushInterval time.Duration
}

// Totals summarises the ledger of one chat.
type Totals struct {
	Merchants int
	Entries   int
	TotalUSD  decimal.Decimal
	Points    decimal.Decimal
}

// Ledger is safe for concurrent use.
type Ledger struct {
	filePath      string
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	entries map[string][]Entry
	dirty   int
}

// Open loads the ledger file if it exists.
func Open(cfg Config, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("ledger file path is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}

	l := &Ledger{
		filePath:      cfg.FilePath,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        logger,
		entries:       make(map[string][]Entry),
	}

	if err := l.loadExisting(); err != nil {
		return nil, fmt.Errorf("loading %s: %w", cfg.FilePath, err)
	}

	logger.Info("ledger loaded", "file", cfg.FilePath, "merchants", len(l.entries))
	return l, nil
}

func (l *Ledger) loadExisting() error {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if len(data) == 0 {
		return nil
	}

	return json.Unmarshal(data, &l.entries)
}

// Append records a purchase of chatID under its merchant.
func (l *Ledger) Append(chatID int64, merchant string, txID int64, amount decimal.Decimal, at time.Time) {
	l.mu.Lock()
	l.entries[merchant] = append(l.entries[merchant], Entry{
		ChatID:        chatID,
		TransactionID: txID,
		TotalUSD:      amount,
		Points:        decimal.Zero,
		At:            at,
	})
	shouldFlush := l.markDirtyLocked()
	l.mu.Unlock()

	if shouldFlush {
		l.flushLogged("batch size")
	}
}

// SetPoints stores the points earned by a transaction once its multiplier is known.
// It reports false when the transaction is not in the ledger.
func (l *Ledger) SetPoints(txID int64, points decimal.Decimal) bool {
	l.mu.Lock()
	var found, shouldFlush bool
	for merchant, list := range l.entries {
		for i := range list {
			if list[i].TransactionID == txID {
				l.entries[merchant][i].Points = points
				found = true
			}
		}
	}
	if found {
		shouldFlush = l.markDirtyLocked()
	}
	l.mu.Unlock()

	if shouldFlush {
		l.flushLogged("batch size")
	}
	return found
}

func (l *Ledger) markDirtyLocked() bool {
	l.dirty++
	return l.dirty >= l.batchSize
}

// Totals returns the running totals of chatID over every merchant.
func (l *Ledger) Totals(chatID int64) Totals {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := Totals{TotalUSD: decimal.Zero, Points: decimal.Zero}
	for _, list := range l.entries {
		var seen bool
		for _, e := range list {
			if e.ChatID != chatID {
				continue
			}
			seen = true
			t.Entries++
			t.TotalUSD = t.TotalUSD.Add(e.TotalUSD)
			t.Points = t.Points.Add(e.Points)
		}
		if seen {
			t.Merchants++
		}
	}
	return t
}

// Merchants returns the merchants of chatID sorted by total spent, highest first.
func (l *Ledger) Merchants(chatID int64) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	totals := make(map[string]decimal.Decimal)
	var names []string
	for name, list := range l.entries {
		sum, seen := decimal.Zero, false
		for _, e := range list {
			if e.ChatID == chatID {
				sum = sum.Add(e.TotalUSD)
				seen = true
			}
		}
		if !seen {
			continue
		}
		totals[name] = sum
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if c := totals[names[i]].Cmp(totals[names[j]]); c != 0 {
			return c > 0
		}
		return names[i] < names[j]
	})
	return names
}

// Run flushes on an interval until ctx is canceled, then flushes once more.
func (l *Ledger) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	l.logger.Info("ledger writer started",
		"batch_size", l.batchSize,
		"flush_interval", l.flushInterval,
	)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("ledger writer stopping, flushing remaining changes")
			if err := l.Flush(); err != nil {
				l.logger.Error("failed to flush on shutdown", "error", err)
			}
			return ctx.Err()
		case <-ticker.C:
			l.flushLogged("interval")
		}
	}
}

func (l *Ledger) flushLogged(reason string) {
	if err := l.Flush(); err != nil {
		l.logger.Error("failed to flush ledger", "reason", reason, "error", err)
	}
}

// Flush rewrites the file if anything changed since the last flush.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dirty == 0 {
		return nil
	}

	// Write the entire map (JSON doesn't support appending)
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.filePath), 0o755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	tmp := l.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing json file: %w", err)
	}
	if err := os.Rename(tmp, l.filePath); err != nil {
		return fmt.Errorf("replacing json file: %w", err)
	}

	l.logger.Debug("flushed ledger", "changes", l.dirty, "merchants", len(l.entries))
	l.dirty = 0
	return nil
}
