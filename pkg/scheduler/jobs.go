package scheduler

import (
	"context"
	"log/slog"
)

// Sweeper removes expired pending actions.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// SweepPending returns a job that drops expired button prompts.
func SweepPending(schedule string, sweeper Sweeper, logger *slog.Logger) Job {
	return Job{
		Name:     "sweep-pending",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			removed, err := sweeper.SweepExpired(ctx)
			if removed > 0 {
				logger.Info("expired pending actions removed", "count", removed)
			}
			return err
		},
	}
}

// Flusher writes buffered state to disk.
type Flusher interface {
	Flush() error
}

// FlushLedger returns a job that forces a ledger flush.
func FlushLedger(schedule string, f Flusher) Job {
	return Job{
		Name:     "flush-ledger",
		Schedule: schedule,
		Run: func(context.Context) error {
			return f.Flush()
		},
	}
}
