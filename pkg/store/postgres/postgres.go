// Package postgres is the credential and transaction store. Business rules
// live in stored functions; this package only calls them and maps the rows
// onto typed results.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/pointsbot/pkg/api"
)

//go:embed 001_create_bot_pending_actions.sql
var migrationSQL string

var (
	// ErrPersistence wraps every failed database call.
	ErrPersistence = errors.New("persistence failure")
	// ErrCardNotFound is returned when the chat has no card with the given digits or id.
	ErrCardNotFound = api.ErrCardNotFound
)

// Config holds the PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// MaxPoolSize is the maximum number of connections in the pool.
	MaxPoolSize int
}

// DSN builds a keyword/value connection string, applying defaults.
func (c Config) DSN() string {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Store talks to the points database.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects using cfg, verifies the connection and runs the migration.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	maxConns := cfg.MaxPoolSize
	if maxConns == 0 {
		maxConns = 10
	}
	return Open(ctx, cfg.DSN(), int32(maxConns), logger)
}

// Open connects to dsn, verifies the connection and runs the migration.
func Open(ctx context.Context, dsn string, maxConns int32, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		"host", poolConfig.ConnConfig.Host,
		"port", poolConfig.ConnConfig.Port,
		"database", poolConfig.ConnConfig.Database,
	)

	s := &Store{pool: pool, logger: logger}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	s.logger.Info("running database migrations")

	if _, err := s.pool.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}

	s.logger.Info("migrations completed successfully")
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrPersistence, err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
	s.logger.Info("PostgreSQL connection closed")
}

// MonitoredAccounts returns every mailbox to poll, with passwords decrypted server-side.
// Rows with an empty email or password are skipped.
func (s *Store) MonitoredAccounts(ctx context.Context) ([]api.MonitoredAccount, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id, chat_id, email, password FROM sp_monitored_accounts()`)
	if err != nil {
		return nil, fmt.Errorf("%w: loading monitored accounts: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var accounts []api.MonitoredAccount
	for rows.Next() {
		var (
			a               api.MonitoredAccount
			email, password *string
		)
		if err := rows.Scan(&a.UserID, &a.ChatID, &email, &password); err != nil {
			return nil, fmt.Errorf("%w: scanning monitored account: %w", ErrPersistence, err)
		}
		if email == nil || password == nil || *email == "" || *password == "" {
			s.logger.Warn("skipping monitored account without credentials", "user_id", a.UserID)
			continue
		}
		a.Email, a.Password = *email, *password
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading monitored accounts: %w", ErrPersistence, err)
	}

	return accounts, nil
}

// RegisterCredentials stores a mailbox login for chatID. The password is
// encrypted by the database. ok is false when the database refused the
// registration; message is the text to show either way.
func (s *Store) RegisterCredentials(ctx context.Context, chatID int64, email, password string) (ok bool, message string, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT success, COALESCE(message, '') FROM sp_register_user_credentials($1, $2, $3)`,
		chatID, email, password,
	).Scan(&ok, &message)
	if err != nil {
		return false, "", fmt.Errorf("%w: registering credentials: %w", ErrPersistence, err)
	}
	return ok, message, nil
}

// InsertTransaction records a purchase and returns the server-decided next step.
func (s *Store) InsertTransaction(ctx context.Context, p *api.Purchase) (api.RecordResult, error) {
	var (
		res    api.RecordResult
		action string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT transaction_id, bot_action, COALESCE(message_text, '')
		   FROM sp_insert_transaction_from_email($1, $2, $3, $4, $5)`,
		p.Account.UserID, p.Merchant, p.CardLast4, p.Bank, p.Amount,
	).Scan(&res.TransactionID, &action, &res.Message)
	if err != nil {
		return api.RecordResult{}, fmt.Errorf("%w: inserting transaction: %w", ErrPersistence, err)
	}
	res.Action = api.ParseAction(action)
	return res, nil
}

// CompleteConfiguration stores the multiplier and/or category chosen for a
// transaction. A nil argument leaves that field as it is.
func (s *Store) CompleteConfiguration(ctx context.Context, txID int64, multiplier *decimal.Decimal, category *string) (string, error) {
	var message string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(sp_complete_configuration($1, $2, $3), '')`,
		txID, multiplier, category,
	).Scan(&message)
	if err != nil {
		return "", fmt.Errorf("%w: completing configuration of %d: %w", ErrPersistence, txID, err)
	}
	return message, nil
}

// AcknowledgeTransaction records whether the user recognises a transaction.
func (s *Store) AcknowledgeTransaction(ctx context.Context, txID int64, recognized bool) error {
	if _, err := s.pool.Exec(ctx, `SELECT sp_acknowledge_transaction($1, $2)`, txID, recognized); err != nil {
		return fmt.Errorf("%w: acknowledging transaction %d: %w", ErrPersistence, txID, err)
	}
	return nil
}

// RecentTransactions returns the newest transactions of a chat, newest first.
func (s *Store) RecentTransactions(ctx context.Context, chatID int64, limit int) ([]api.RecentTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, merchant, amount, COALESCE(points, 0) AS points, COALESCE(multiplier, 1) AS multiplier, created_at
		   FROM sp_recent_transactions($1, $2)`,
		chatID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: listing recent transactions: %w", ErrPersistence, err)
	}

	txs, err := pgx.CollectRows(rows, pgx.RowToStructByName[api.RecentTransaction])
	if err != nil {
		return nil, fmt.Errorf("%w: reading recent transactions: %w", ErrPersistence, err)
	}
	return txs, nil
}

// ListCards returns the cards registered by a chat.
func (s *Store) ListCards(ctx context.Context, chatID int64) ([]api.Card, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, bank, last4, COALESCE(alias, '') AS alias, registered_at, COALESCE(points, 0) AS points
		   FROM sp_list_user_cards($1)`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: listing cards: %w", ErrPersistence, err)
	}

	cards, err := pgx.CollectRows(rows, pgx.RowToStructByName[api.Card])
	if err != nil {
		return nil, fmt.Errorf("%w: reading cards: %w", ErrPersistence, err)
	}
	return cards, nil
}

// AddCard registers a new card and returns its id.
func (s *Store) AddCard(ctx context.Context, chatID int64, last4, bank string) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, `SELECT sp_add_user_card($1, $2, $3)`, chatID, last4, bank).Scan(&id); err != nil {
		return 0, fmt.Errorf("%w: adding card: %w", ErrPersistence, err)
	}
	return id, nil
}

// UpdateCard replaces the last four digits of a card.
func (s *Store) UpdateCard(ctx context.Context, chatID, cardID int64, last4 string) error {
	return s.cardCall(ctx, "updating card", `SELECT sp_update_user_card($1, $2, $3)`, chatID, cardID, last4)
}

// DeleteCard removes a card.
func (s *Store) DeleteCard(ctx context.Context, chatID, cardID int64) error {
	return s.cardCall(ctx, "deleting card", `SELECT sp_delete_user_card($1, $2)`, chatID, cardID)
}

func (s *Store) cardCall(ctx context.Context, op, query string, args ...any) error {
	var found bool
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&found); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
	}
	if !found {
		return ErrCardNotFound
	}
	return nil
}

// CardPointsBalance returns the points balance of the chat's card ending in last4.
func (s *Store) CardPointsBalance(ctx context.Context, chatID int64, last4 string) (int64, error) {
	var balance *int64
	if err := s.pool.QueryRow(ctx, `SELECT sp_card_points_balance($1, $2)`, chatID, last4).Scan(&balance); err != nil {
		return 0, fmt.Errorf("%w: reading points balance: %w", ErrPersistence, err)
	}
	if balance == nil {
		return 0, ErrCardNotFound
	}
	return *balance, nil
}

// AdjustCardPoints adds delta (negative to redeem) and returns the new balance.
func (s *Store) AdjustCardPoints(ctx context.Context, chatID int64, last4 string, delta int64) (int64, error) {
	var balance *int64
	if err := s.pool.QueryRow(ctx, `SELECT sp_adjust_card_points($1, $2, $3)`, chatID, last4, delta).Scan(&balance); err != nil {
		return 0, fmt.Errorf("%w: adjusting points: %w", ErrPersistence, err)
	}
	if balance == nil {
		return 0, ErrCardNotFound
	}
	return *balance, nil
}

// MonthlySummary returns the points summary per month, newest first.
func (s *Store) MonthlySummary(ctx context.Context, chatID int64) ([]api.MonthlySummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT month_name, total_usd, total_points, tx_count, COALESCE(top_category, '') AS top_category
		   FROM sp_monthly_points_summary($1)`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: loading monthly summary: %w", ErrPersistence, err)
	}

	summary, err := pgx.CollectRows(rows, pgx.RowToStructByName[api.MonthlySummary])
	if err != nil {
		return nil, fmt.Errorf("%w: reading monthly summary: %w", ErrPersistence, err)
	}
	return summary, nil
}
