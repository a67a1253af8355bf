// Package daemon wires the mail pipeline and the chat bot together and owns
// their lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/ArionMiles/pointsbot/internal/plugins"
	"github.com/ArionMiles/pointsbot/pkg/api"
	"github.com/ArionMiles/pointsbot/pkg/bot"
	"github.com/ArionMiles/pointsbot/pkg/config"
	"github.com/ArionMiles/pointsbot/pkg/ledger"
	"github.com/ArionMiles/pointsbot/pkg/notify"
	"github.com/ArionMiles/pointsbot/pkg/recorder"
	"github.com/ArionMiles/pointsbot/pkg/scheduler"
	"github.com/ArionMiles/pointsbot/pkg/session"
	"github.com/ArionMiles/pointsbot/pkg/store/postgres"
	"github.com/ArionMiles/pointsbot/pkg/webhook"
)

// pollTimeout is the long-polling timeout passed to getUpdates, in seconds.
const pollTimeout = 60

// TelegramAPI is the part of *tgbotapi.BotAPI the daemon uses.
type TelegramAPI interface {
	notify.Sender
	bot.UpdateSource
}

// Runner manages the pointsbot daemon lifecycle.
type Runner struct {
	registry *plugins.Registry
	logger   *slog.Logger
}

// New creates a new daemon runner.
func New(registry *plugins.Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = plugins.Default()
	}

	return &Runner{
		registry: registry,
		logger:   logger,
	}
}

// Run connects to the database and Telegram and runs every component until
// ctx is canceled or one of them fails.
func (r *Runner) Run(ctx context.Context, cfg config.Config, rules []api.Rule) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	r.logger.Info("starting pointsbot",
		"mail_source", cfg.MailSource,
		"bot_mode", cfg.BotMode,
		"workers", cfg.BotWorkers,
		"rules", len(rules),
	)

	store, err := postgres.New(ctx, PostgresConfig(cfg), r.logger.With("component", "store"))
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer store.Close()

	tg, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return fmt.Errorf("connecting to telegram: %w", err)
	}
	r.logger.Info("authorized on telegram", "username", tg.Self.UserName)

	return r.run(ctx, cfg, rules, store, tg)
}

// PostgresConfig maps the POSTGRES_* keys.
func PostgresConfig(cfg config.Config) postgres.Config {
	return postgres.Config{
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		Database: cfg.PostgresDB,
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPassword,
		SSLMode:  cfg.PostgresSSLMode,
	}
}

func (r *Runner) run(ctx context.Context, cfg config.Config, rules []api.Rule, store *postgres.Store, tg TelegramAPI) error {
	sessions := session.New(store, cfg.PendingTTL, r.logger.With("component", "session"))
	if err := sessions.Restore(ctx); err != nil {
		r.logger.Warn("starting without persisted pending actions", "error", err)
	}
	defer sessions.Close()

	source, err := r.registry.Create(cfg.MailSource, plugins.Deps{
		Rules:        rules,
		Accounts:     store,
		IMAPAddr:     cfg.IMAPAddr,
		PollInterval: cfg.PollInterval,
		MboxFile:     cfg.MboxFile,
		MboxChatID:   cfg.MboxChatID,
	}, r.logger.With("component", "reader", "plugin", cfg.MailSource))
	if err != nil {
		return fmt.Errorf("creating mail source: %w", err)
	}

	notifier := notify.New(tg, notify.Config{}, r.logger.With("component", "notifier"))

	var (
		led          *ledger.Ledger
		recordLedger recorder.Ledger
		botLedger    bot.Ledger
	)
	if cfg.LedgerFile != "" {
		led, err = ledger.Open(ledger.Config{FilePath: cfg.LedgerFile}, r.logger.With("component", "ledger"))
		if err != nil {
			return fmt.Errorf("opening ledger: %w", err)
		}
		recordLedger, botLedger = led, led
	}

	rec, err := recorder.New(store, notifier, sessions, recordLedger, r.logger.With("component", "recorder"))
	if err != nil {
		return fmt.Errorf("creating recorder: %w", err)
	}

	handler, err := bot.New(bot.Config{
		Store:    store,
		Notifier: notifier,
		Sessions: sessions,
		Ledger:   botLedger,
		Poller:   source,
	}, r.logger.With("component", "bot"))
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}

	sched := scheduler.New(r.logger.With("component", "scheduler"))
	if err := sched.Add(scheduler.SweepPending(cfg.SweepSchedule, sessions, r.logger.With("job", "sweep-pending"))); err != nil {
		return err
	}
	if led != nil {
		if err := sched.Add(scheduler.FlushLedger("@hourly", led)); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	purchases := make(chan *api.Purchase, 100)
	g.Go(func() error { return source.Read(gctx, purchases) })
	g.Go(func() error { return rec.Write(gctx, purchases) })
	g.Go(func() error { return sched.Run(gctx) })
	if led != nil {
		g.Go(func() error { return led.Run(gctx) })
	}

	var updates <-chan tgbotapi.Update
	switch cfg.BotMode {
	case config.ModeWebhook:
		srv := webhook.New(webhook.Config{
			Addr:   cfg.HTTPAddr,
			Secret: cfg.WebhookSecret,
			Poller: source,
		}, r.logger.With("component", "webhook"))
		g.Go(func() error { return srv.Run(gctx) })
		if err := webhook.Register(tg, cfg.WebhookURL, cfg.WebhookSecret); err != nil {
			r.logger.Error("webhook registration failed", "error", err)
		}
		updates = srv.Updates()
	default:
		if _, err := tg.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			r.logger.Warn("failed to delete webhook before polling", "error", err)
		}
		updates = bot.PollUpdates(gctx, tg, pollTimeout)
	}

	dispatcher := bot.NewDispatcher(handler, cfg.BotWorkers, r.logger.With("component", "dispatcher"))
	g.Go(func() error { return dispatcher.Run(gctx, updates) })

	r.logger.Info("daemon started")
	err = g.Wait()
	r.logger.Info("daemon stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
