package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Handler processes a single update.
type Handler interface {
	HandleUpdate(ctx context.Context, u tgbotapi.Update) error
}

// Dispatcher fans updates out to a fixed set of workers. Updates are sharded
// by chat id, so a chat is always served by the same worker, in order.
type Dispatcher struct {
	handler Handler
	workers int
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher with the given number of workers (at least one).
func NewDispatcher(h Handler, workers int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{handler: h, workers: workers, logger: logger}
}

// Run consumes updates until the channel is closed or ctx is canceled, then
// waits for the workers to finish what they already received.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	queues := make([]chan tgbotapi.Update, d.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan tgbotapi.Update, 64)
		wg.Add(1)
		go func(id int, queue <-chan tgbotapi.Update) {
			defer wg.Done()
			for u := range queue {
				d.handle(ctx, id, u)
			}
		}(i, queues[i])
	}

	d.logger.Info("dispatcher started", "workers", d.workers)

	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
		d.logger.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			queue := queues[d.shard(ChatID(u))]
			select {
			case queue <- u:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (d *Dispatcher) shard(chatID int64) int {
	if chatID < 0 {
		chatID = -chatID
	}
	return int(chatID % int64(d.workers))
}

func (d *Dispatcher) handle(ctx context.Context, worker int, u tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while handling update",
				"worker", worker,
				"update_id", u.UpdateID,
				"panic", fmt.Sprint(r),
			)
		}
	}()

	if err := d.handler.HandleUpdate(ctx, u); err != nil {
		d.logger.Error("failed to handle update",
			"worker", worker,
			"update_id", u.UpdateID,
			"chat_id", ChatID(u),
			"error", err,
		)
	}
}

// UpdateSource is the long-polling part of *tgbotapi.BotAPI.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// PollUpdates starts long polling and stops it when ctx is canceled.
// The returned channel is closed once polling stops.
func PollUpdates(ctx context.Context, src UpdateSource, timeoutSeconds int) <-chan tgbotapi.Update {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = timeoutSeconds
	updates := src.GetUpdatesChan(cfg)

	go func() {
		<-ctx.Done()
		src.StopReceivingUpdates()
	}()
	return updates
}
