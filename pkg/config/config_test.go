package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"TELEGRAM_TOKEN":"from-file","POSTGRES_HOST":"db","POSTGRES_DB":"points","POLL_INTERVAL":"30s","BOT_MODE":"Webhook"}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("POINTSBOT_CONFIG", path)
	t.Setenv("TELEGRAM_TOKEN", "from-env")
	t.Setenv("BOT_WORKERS", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.TelegramToken != "from-env" {
		t.Errorf("TelegramToken: got %q, want %q", cfg.TelegramToken, "from-env")
	}
	if cfg.PostgresHost != "db" {
		t.Errorf("PostgresHost: got %q, want %q", cfg.PostgresHost, "db")
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval: got %v, want %v", cfg.PollInterval, 30*time.Second)
	}
	if cfg.BotWorkers != 4 {
		t.Errorf("BotWorkers: got %d, want 4", cfg.BotWorkers)
	}
	if cfg.BotMode != ModeWebhook {
		t.Errorf("BotMode: got %q, want %q", cfg.BotMode, ModeWebhook)
	}
	// Untouched keys keep their defaults.
	if cfg.IMAPAddr != "imap.gmail.com:993" {
		t.Errorf("IMAPAddr: got %q, want default", cfg.IMAPAddr)
	}
	if cfg.PendingTTL != 72*time.Hour {
		t.Errorf("PendingTTL: got %v, want 72h", cfg.PendingTTL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("POINTSBOT_CONFIG", filepath.Join(t.TempDir(), "absent.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollInterval != 45*time.Second {
		t.Errorf("PollInterval: got %v, want 45s", cfg.PollInterval)
	}
}

func TestValidate(t *testing.T) {
	valid := Defaults()
	valid.TelegramToken = "token"
	valid.PostgresHost = "localhost"
	valid.PostgresDB = "points"

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr []string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing token and database",
			mutate:  func(c *Config) { c.TelegramToken = ""; c.PostgresDB = "" },
			wantErr: []string{"TELEGRAM_TOKEN", "POSTGRES_DB"},
		},
		{
			name:    "webhook without url",
			mutate:  func(c *Config) { c.BotMode = ModeWebhook },
			wantErr: []string{"WEBHOOK_URL"},
		},
		{
			name:    "unknown bot mode",
			mutate:  func(c *Config) { c.BotMode = "carrier-pigeon" },
			wantErr: []string{"BOT_MODE"},
		},
		{
			name:    "mbox without file or chat",
			mutate:  func(c *Config) { c.MailSource = "mbox" },
			wantErr: []string{"MBOX_FILE", "MBOX_CHAT_ID"},
		},
		{
			name: "mbox",
			mutate: func(c *Config) {
				c.MailSource = "mbox"
				c.MboxFile = "inbox.mbox"
				c.MboxChatID = 42
			},
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.BotWorkers = 0 },
			wantErr: []string{"BOT_WORKERS"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)

			err := cfg.Validate()
			if len(tc.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, want := range tc.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %s", err, want)
				}
			}
		})
	}
}
