package daemon

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/ArionMiles/pointsbot/pkg/config"
)

func TestRun_RejectsInvalidConfig(t *testing.T) {
	r := New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	cfg := config.Defaults()
	cfg.BotMode = "carrier-pigeon"

	err := r.Run(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, key := range []string{"TELEGRAM_TOKEN", "POSTGRES_HOST", "BOT_MODE"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestPostgresConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.PostgresHost = "db"
	cfg.PostgresDB = "points"
	cfg.PostgresUser = "bot"
	cfg.PostgresPassword = "secret"

	got := PostgresConfig(cfg).DSN()
	want := "host=db port=5432 user=bot password=secret dbname=points sslmode=disable"
	if got != want {
		t.Errorf("DSN: got %q, want %q", got, want)
	}
}
