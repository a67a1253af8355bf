package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5"

	"github.com/ArionMiles/pointsbot/internal/daemon"
	"github.com/ArionMiles/pointsbot/internal/plugins"
	"github.com/ArionMiles/pointsbot/pkg/config"
)

// runStatus checks configuration, rules and connectivity without starting anything.
func runStatus() error {
	fmt.Println("=== pointsbot status ===")
	fmt.Println()

	allGood := true

	cfg, err := config.Load()
	fmt.Print("Configuration: ")
	switch {
	case err != nil:
		fmt.Printf("✗ %v\n", err)
		allGood = false
	default:
		if verr := cfg.Validate(); verr != nil {
			fmt.Printf("✗ %v\n", verr)
			allGood = false
		} else {
			fmt.Printf("✓ mail source %s, bot mode %s\n", cfg.MailSource, cfg.BotMode)
		}
	}

	if err == nil {
		checkMailSource(plugins.Default(), cfg.MailSource, &allGood)
	}
	checkRules(cfg.RulesFile, &allGood)

	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		checkDatabase(ctx, cfg, &allGood)
		checkTelegram(cfg.TelegramToken, &allGood)
	}

	fmt.Println()
	if allGood {
		fmt.Println("✓ All checks passed")
		return nil
	}
	return fmt.Errorf("some checks failed")
}

func checkMailSource(registry *plugins.Registry, name string, allGood *bool) {
	line, ok := mailSourceStatus(registry, name)
	fmt.Println("Mail source: " + line)
	if !ok {
		*allGood = false
	}
}

func mailSourceStatus(registry *plugins.Registry, name string) (string, bool) {
	plugin, err := registry.Get(name)
	if err != nil {
		var names []string
		for _, p := range registry.List() {
			names = append(names, p.Name())
		}
		return fmt.Sprintf("✗ %v (available: %s)", err, strings.Join(names, ", ")), false
	}
	return fmt.Sprintf("✓ %s: %s", plugin.Name(), plugin.Description()), true
}

func checkRules(path string, allGood *bool) {
	fmt.Print("Rules: ")
	rules, source, err := loadRules(path)
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
		return
	}

	enabled := 0
	for _, r := range rules {
		if r.Enabled {
			enabled++
		}
	}
	fmt.Printf("✓ %d rules (%d enabled) from %s\n", len(rules), enabled, source)
}

func checkDatabase(ctx context.Context, cfg config.Config, allGood *bool) {
	fmt.Printf("Database (%s:%d): ", cfg.PostgresHost, cfg.PostgresPort)
	conn, err := pgx.Connect(ctx, daemon.PostgresConfig(cfg).DSN())
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
		return
	}
	defer conn.Close(ctx)

	if err := conn.Ping(ctx); err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
		return
	}
	fmt.Println("✓ Reachable")
}

func checkTelegram(token string, allGood *bool) {
	fmt.Print("Telegram: ")
	if token == "" {
		fmt.Println("✗ TELEGRAM_TOKEN not set")
		*allGood = false
		return
	}

	tg, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
		return
	}
	fmt.Printf("✓ @%s\n", tg.Self.UserName)
}
