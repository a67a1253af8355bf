package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ArionMiles/pointsbot/internal/daemon"
	"github.com/ArionMiles/pointsbot/internal/plugins"
	"github.com/ArionMiles/pointsbot/pkg/api"
	"github.com/ArionMiles/pointsbot/pkg/config"
	"github.com/ArionMiles/pointsbot/pkg/extract"
)

//go:embed config/rules.json
var rulesInput []byte

// runPointsbot starts the daemon and blocks until SIGINT or SIGTERM.
func runPointsbot(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	rules, source, err := loadRules(cfg.RulesFile)
	if err != nil {
		return err
	}
	logger.Info("rules loaded", "source", source, "count", len(rules))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return daemon.New(plugins.Default(), logger).Run(ctx, cfg, rules)
}

// loadRules parses the rules file when set, the embedded rules otherwise.
func loadRules(path string) ([]api.Rule, string, error) {
	data, source := rulesInput, "embedded"
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("reading rules file: %w", err)
		}
		data, source = b, path
	}

	rules, err := extract.ParseRules(data)
	if err != nil {
		return nil, "", fmt.Errorf("parsing %s rules: %w", source, err)
	}
	return rules, source, nil
}
