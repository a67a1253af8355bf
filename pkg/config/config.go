// Package config loads pointsbot configuration from a JSON file, the
// environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	kJson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultFile is the JSON config file read when POINTSBOT_CONFIG is unset.
const DefaultFile = "config.json"

// Bot transport modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Config holds the application configuration.
// Every field can be set in the JSON file or overridden by the environment variable of the same name.
type Config struct {
	// TelegramToken is the bot token issued by BotFather.
	TelegramToken string `koanf:"TELEGRAM_TOKEN"`

	PostgresHost     string `koanf:"POSTGRES_HOST"`
	PostgresPort     int    `koanf:"POSTGRES_PORT"`
	PostgresDB       string `koanf:"POSTGRES_DB"`
	PostgresUser     string `koanf:"POSTGRES_USER"`
	PostgresPassword string `koanf:"POSTGRES_PASSWORD"`
	PostgresSSLMode  string `koanf:"POSTGRES_SSLMODE"`

	// MailSource selects the mail source plugin: "imap" or "mbox".
	MailSource string `koanf:"MAIL_SOURCE"`
	// IMAPAddr is the host:port of the IMAPS server.
	IMAPAddr string `koanf:"IMAP_ADDR"`
	// MboxFile is read by the mbox mail source.
	MboxFile string `koanf:"MBOX_FILE"`
	// MboxChatID receives purchases replayed from the mbox file.
	MboxChatID   int64         `koanf:"MBOX_CHAT_ID"`
	PollInterval time.Duration `koanf:"POLL_INTERVAL"`
	// RulesFile overrides the embedded extraction rules.
	RulesFile string `koanf:"POINTSBOT_RULES_FILE"`

	LedgerFile    string        `koanf:"LEDGER_FILE"`
	PendingTTL    time.Duration `koanf:"PENDING_TTL"`
	SweepSchedule string        `koanf:"SWEEP_SCHEDULE"`

	// BotMode is "polling" or "webhook".
	BotMode    string `koanf:"BOT_MODE"`
	BotWorkers int    `koanf:"BOT_WORKERS"`
	WebhookURL string `koanf:"WEBHOOK_URL"`
	// WebhookSecret is checked on every webhook request when set.
	WebhookSecret string `koanf:"WEBHOOK_SECRET"`
	HTTPAddr      string `koanf:"HTTP_ADDR"`
}

// Defaults returns the configuration used for keys nobody set.
func Defaults() Config {
	return Config{
		PostgresPort:    5432,
		PostgresSSLMode: "disable",
		MailSource:      "imap",
		IMAPAddr:        "imap.gmail.com:993",
		PollInterval:    45 * time.Second,
		LedgerFile:      "data/ledger.json",
		PendingTTL:      72 * time.Hour,
		SweepSchedule:   "@every 10m",
		BotMode:         ModePolling,
		BotWorkers:      1,
		HTTPAddr:        ":8080",
	}
}

// Load reads .env (if present), then the JSON config file (if present), then the environment.
// Later sources override earlier ones.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	k := koanf.New(".")

	path := os.Getenv("POINTSBOT_CONFIG")
	if path == "" {
		path = DefaultFile
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), kJson.Parser()); err != nil {
			return Config{}, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	cfg := Defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.BotMode = strings.ToLower(cfg.BotMode)
	cfg.MailSource = strings.ToLower(cfg.MailSource)

	return cfg, nil
}

// Validate reports every missing or inconsistent key at once.
func (c Config) Validate() error {
	var errs []error

	if c.TelegramToken == "" {
		errs = append(errs, errors.New("TELEGRAM_TOKEN is required"))
	}
	if c.PostgresHost == "" {
		errs = append(errs, errors.New("POSTGRES_HOST is required"))
	}
	if c.PostgresDB == "" {
		errs = append(errs, errors.New("POSTGRES_DB is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.PendingTTL <= 0 {
		errs = append(errs, errors.New("PENDING_TTL must be positive"))
	}
	if c.BotWorkers < 1 {
		errs = append(errs, errors.New("BOT_WORKERS must be at least 1"))
	}

	switch c.BotMode {
	case ModePolling:
	case ModeWebhook:
		if c.WebhookURL == "" {
			errs = append(errs, errors.New("WEBHOOK_URL is required in webhook mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("BOT_MODE %q must be %q or %q", c.BotMode, ModePolling, ModeWebhook))
	}

	if c.MailSource == "mbox" {
		if c.MboxFile == "" {
			errs = append(errs, errors.New("MBOX_FILE is required when MAIL_SOURCE=mbox"))
		}
		if c.MboxChatID == 0 {
			errs = append(errs, errors.New("MBOX_CHAT_ID is required when MAIL_SOURCE=mbox"))
		}
	}

	return errors.Join(errs...)
}
