package postgres

import (
	"context"
	_ "embed"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ArionMiles/pointsbot/pkg/api"
)

//go:embed testdata/schema.sql
var testSchema string

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore starts a throwaway PostgreSQL container with the test schema loaded.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("points"),
		tcpostgres.WithUsername("points"),
		tcpostgres.WithPassword("points"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("docker unavailable, skipping integration test: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	store, err := Open(ctx, dsn, 4, discardLogger())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(store.Close)

	if _, err := store.pool.Exec(ctx, testSchema); err != nil {
		t.Fatalf("loading test schema: %v", err)
	}
	return store
}

func TestNew_ConnectionFailure(t *testing.T) {
	cfg := Config{
		Host:     "nonexistent-host",
		Port:     5432,
		Database: "points",
		User:     "points",
		Password: "password",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := New(ctx, cfg, discardLogger()); err == nil {
		t.Error("expected error when connecting to nonexistent host, got nil")
	}
}

func TestConfigDSN_Defaults(t *testing.T) {
	got := Config{Host: "db", User: "u", Password: "p", Database: "d"}.DSN()
	want := "host=db port=5432 user=u password=p dbname=d sslmode=disable"
	if got != want {
		t.Errorf("DSN: got %q, want %q", got, want)
	}
}

func TestStore_TransactionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	const chatID = 4242

	ok, msg, err := store.RegisterCredentials(ctx, chatID, "user@example.com", "app-password")
	if err != nil || !ok {
		t.Fatalf("RegisterCredentials: ok=%v msg=%q err=%v", ok, msg, err)
	}

	accounts, err := store.MonitoredAccounts(ctx)
	if err != nil {
		t.Fatalf("MonitoredAccounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ChatID != chatID || accounts[0].Email != "user@example.com" {
		t.Fatalf("unexpected accounts: %+v", accounts)
	}

	purchase := &api.Purchase{
		Merchant:  "ACME",
		Amount:    decimal.RequireFromString("45.00"),
		CardLast4: "1234",
		Bank:      "Global Bank",
		Account:   accounts[0],
	}
	res, err := store.InsertTransaction(ctx, purchase)
	if err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	if res.Action != api.ActionAskBoth {
		t.Errorf("action: got %q, want %q", res.Action, api.ActionAskBoth)
	}
	if res.TransactionID == 0 {
		t.Error("expected a transaction id")
	}

	mult := decimal.NewFromInt(2)
	if _, err := store.CompleteConfiguration(ctx, res.TransactionID, &mult, nil); err != nil {
		t.Fatalf("CompleteConfiguration(multiplier): %v", err)
	}
	category := "Comida"
	if _, err := store.CompleteConfiguration(ctx, res.TransactionID, nil, &category); err != nil {
		t.Fatalf("CompleteConfiguration(category): %v", err)
	}

	recent, err := store.RecentTransactions(ctx, chatID, 5)
	if err != nil {
		t.Fatalf("RecentTransactions: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 recent transaction, got %d", len(recent))
	}
	if !recent[0].Points.Equal(decimal.RequireFromString("90")) {
		t.Errorf("points: got %s, want 90", recent[0].Points)
	}
	if !recent[0].Multiplier.Equal(mult) {
		t.Errorf("multiplier: got %s, want %s", recent[0].Multiplier, mult)
	}

	if err := store.AcknowledgeTransaction(ctx, res.TransactionID, true); err != nil {
		t.Fatalf("AcknowledgeTransaction: %v", err)
	}

	summary, err := store.MonthlySummary(ctx, chatID)
	if err != nil {
		t.Fatalf("MonthlySummary: %v", err)
	}
	if len(summary) != 1 || summary[0].Count != 1 || summary[0].TopCategory != "Comida" {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestStore_Cards(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	const chatID = 7

	if _, _, err := store.RegisterCredentials(ctx, chatID, "a@b.c", "pw"); err != nil {
		t.Fatalf("RegisterCredentials: %v", err)
	}

	id, err := store.AddCard(ctx, chatID, "1234", "Global Bank")
	if err != nil {
		t.Fatalf("AddCard: %v", err)
	}

	balance, err := store.AdjustCardPoints(ctx, chatID, "1234", 100)
	if err != nil || balance != 100 {
		t.Fatalf("AdjustCardPoints: balance=%d err=%v", balance, err)
	}
	balance, err = store.CardPointsBalance(ctx, chatID, "1234")
	if err != nil || balance != 100 {
		t.Fatalf("CardPointsBalance: balance=%d err=%v", balance, err)
	}

	if _, err := store.CardPointsBalance(ctx, chatID, "9999"); !errors.Is(err, ErrCardNotFound) {
		t.Errorf("unknown card: got %v, want %v", err, ErrCardNotFound)
	}

	if err := store.UpdateCard(ctx, chatID, id, "5678"); err != nil {
		t.Fatalf("UpdateCard: %v", err)
	}
	cards, err := store.ListCards(ctx, chatID)
	if err != nil {
		t.Fatalf("ListCards: %v", err)
	}
	if len(cards) != 1 || cards[0].Last4 != "5678" || cards[0].Points != 100 {
		t.Fatalf("unexpected cards: %+v", cards)
	}

	if err := store.DeleteCard(ctx, chatID, id); err != nil {
		t.Fatalf("DeleteCard: %v", err)
	}
	if err := store.DeleteCard(ctx, chatID, id); !errors.Is(err, ErrCardNotFound) {
		t.Errorf("second delete: got %v, want %v", err, ErrCardNotFound)
	}
}

func TestStore_PendingActions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	live := &api.PendingAction{
		Token:         uuid.NewString(),
		ChatID:        1,
		MessageID:     10,
		TransactionID: 100,
		Company:       "ACME",
		Amount:        decimal.RequireFromString("45.00"),
		Card:          "1234",
		RequiredStep:  api.ActionAskBoth,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
	}
	expired := &api.PendingAction{
		Token:         uuid.NewString(),
		ChatID:        1,
		TransactionID: 101,
		Company:       "OLD",
		Amount:        decimal.RequireFromString("1.00"),
		Card:          "1234",
		RequiredStep:  api.ActionAskMult,
		CreatedAt:     now.Add(-2 * time.Hour),
		ExpiresAt:     now.Add(-time.Hour),
	}

	for _, p := range []*api.PendingAction{live, expired} {
		if err := store.SavePending(ctx, p); err != nil {
			t.Fatalf("SavePending: %v", err)
		}
	}

	live.RequiredStep = api.ActionAskCat
	live.Multiplier = decimal.NewNullDecimal(decimal.NewFromInt(3))
	if err := store.SavePending(ctx, live); err != nil {
		t.Fatalf("SavePending update: %v", err)
	}

	loaded, err := store.LoadPending(ctx, now)
	if err != nil {
		t.Fatalf("LoadPending: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Token != live.Token {
		t.Fatalf("expected only the live action, got %+v", loaded)
	}
	if loaded[0].RequiredStep != api.ActionAskCat {
		t.Errorf("step: got %q, want %q", loaded[0].RequiredStep, api.ActionAskCat)
	}
	if !loaded[0].Multiplier.Valid || !loaded[0].Multiplier.Decimal.Equal(decimal.NewFromInt(3)) {
		t.Errorf("multiplier: got %+v, want 3", loaded[0].Multiplier)
	}

	n, err := store.DeleteExpiredPending(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpiredPending: n=%d err=%v", n, err)
	}

	if err := store.DeletePending(ctx, live.Token); err != nil {
		t.Fatalf("DeletePending: %v", err)
	}
	loaded, err = store.LoadPending(ctx, now)
	if err != nil || len(loaded) != 0 {
		t.Fatalf("expected no pending actions, got %d (err=%v)", len(loaded), err)
	}
}
