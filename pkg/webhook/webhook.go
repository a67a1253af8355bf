// Package webhook receives Telegram updates over HTTP.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ArionMiles/pointsbot/pkg/api"
)

// Path is where Telegram posts updates.
const Path = "/telegram/webhook"

// SecretHeader carries the secret token registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// SecretParam is the query parameter Register adds to the webhook URL.
const SecretParam = "secret"

const maxBody = 1 << 20

// Config holds the server settings.
type Config struct {
	Addr string
	// Secret, when set, must match SecretHeader on every request.
	Secret string
	// Poller is optional and reported by /healthz.
	Poller api.StatusReporter
}

// Server accepts updates and hands them to a channel.
type Server struct {
	cfg     Config
	updates chan tgbotapi.Update
	logger  *slog.Logger
	router  chi.Router
}

// New creates a server. Updates are delivered on Updates().
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		updates: make(chan tgbotapi.Update, 100),
		logger:  logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Post(Path, s.handleUpdate)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Updates returns the channel of received updates. It is closed when Run returns.
func (s *Server) Updates() <-chan tgbotapi.Update {
	return s.updates
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Secret != "" {
		got := r.Header.Get(SecretHeader)
		if got == "" {
			got = r.URL.Query().Get(SecretParam)
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Secret)) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&update); err != nil {
		s.logger.Warn("invalid webhook payload", "error", err)
		http.Error(w, "invalid update", http.StatusBadRequest)
		return
	}

	select {
	case s.updates <- update:
		w.WriteHeader(http.StatusOK)
	case <-r.Context().Done():
		// Telegram retries updates that were not acknowledged.
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}
}

type health struct {
	Status   string          `json:"status"`
	LastPoll *api.PollStatus `json:"last_poll,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := health{Status: "ok"}
	if s.cfg.Poller != nil {
		st := s.cfg.Poller.Status()
		h.LastPoll = &st
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h); err != nil {
		s.logger.Error("failed to write health response", "error", err)
	}
}

// Run serves HTTP until ctx is canceled, then shuts down and closes the
// updates channel.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errCh:
		if err != nil {
			runErr = fmt.Errorf("serving webhook: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("webhook server shutdown failed", "error", err)
	}
	close(s.updates)
	s.logger.Info("webhook server stopped")
	return runErr
}

// Registrar is the part of *tgbotapi.BotAPI used to register the webhook.
type Registrar interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Register points Telegram at rawURL. A non-empty secret is added as the
// SecretParam query parameter.
func Register(r Registrar, rawURL, secret string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing webhook url: %w", err)
	}
	if secret != "" {
		q := u.Query()
		q.Set(SecretParam, secret)
		u.RawQuery = q.Encode()
	}

	wh, err := tgbotapi.NewWebhook(u.String())
	if err != nil {
		return fmt.Errorf("building webhook config: %w", err)
	}
	if _, err := r.Request(wh); err != nil {
		return fmt.Errorf("registering webhook: %w", err)
	}
	return nil
}
