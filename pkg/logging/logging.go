// Package logging provides structured logging configuration using log/slog.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultFile is the rotating log file used when LOG_FILE is unset.
const DefaultFile = "logs/pointsbot.log"

// Config holds logging configuration options.
type Config struct {
	// Level is the minimum log level to output.
	Level slog.Level
	// JSON enables JSON output format (for production).
	JSON bool
	// Output is the writer to write logs to. Defaults to os.Stderr.
	Output io.Writer
	// File, when set, receives a copy of every record, rotated at MaxSizeMB.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// DefaultConfig returns a logging configuration read from the environment.
//
//	LOG_LEVEL  DEBUG, INFO, WARN, ERROR (default INFO)
//	LOG_FORMAT text or json (default text)
//	LOG_FILE   rotating log file, "-" disables it (default logs/pointsbot.log)
func DefaultConfig() Config {
	level := slog.LevelInfo
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		level = parseLogLevel(logLevel)
	}

	file := os.Getenv("LOG_FILE")
	switch file {
	case "":
		file = DefaultFile
	case "-":
		file = ""
	}

	return Config{
		Level:      level,
		JSON:       strings.EqualFold(os.Getenv("LOG_FORMAT"), "json"),
		Output:     os.Stderr,
		File:       file,
		MaxSizeMB:  5,
		MaxBackups: 5,
	}
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initializes the default slog logger with the given configuration.
// The returned closer releases the log file; it is a no-op without one.
func Setup(cfg Config) (*slog.Logger, io.Closer) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	out := cfg.Output
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		out = io.MultiWriter(cfg.Output, rotating)
		closer = rotating
	}

	opts := &slog.HandlerOptions{
		Level: cfg.Level,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
