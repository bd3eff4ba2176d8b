package worker

import (
	"context"
	"log/slog"
	"time"
)

// Timestamper publishes the server's current song position.
// Implemented by studio.Studio.
type Timestamper interface {
	Timestamp(ctx context.Context) error
}

// TimestampWorker periodically publishes song position updates so clients
// can correct drift in their transport offset.
type TimestampWorker struct {
	studio   Timestamper
	interval time.Duration
}

// NewTimestampWorker creates a worker publishing every interval.
func NewTimestampWorker(studio Timestamper, interval time.Duration) *TimestampWorker {
	return &TimestampWorker{studio: studio, interval: interval}
}

// Run starts the worker loop. Respects context cancellation for graceful
// shutdown.
func (w *TimestampWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "timestamp",
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "timestamp",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			if err := w.studio.Timestamp(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("timestamp publish failed",
					"component", "worker",
					"action", "timestamp_failed",
					"error", err,
				)
			}
		}
	}
}
