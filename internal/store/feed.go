package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	loopsync "github.com/hyperengineering/looper/internal/sync"
)

// Feed wraps an UpdateLog with change notification, so long-poll readers
// wake as soon as an update is appended.
type Feed struct {
	log UpdateLog

	mu      sync.Mutex
	changed chan struct{}
}

// NewFeed returns a Feed over log.
func NewFeed(log UpdateLog) *Feed {
	return &Feed{log: log, changed: make(chan struct{})}
}

// Log returns the underlying update log.
func (f *Feed) Log() UpdateLog {
	return f.log
}

// Append appends to the log and wakes every waiting reader.
func (f *Feed) Append(ctx context.Context, action loopsync.Action, clientID string) (int64, error) {
	id, err := f.log.Append(ctx, action, clientID)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	close(f.changed)
	f.changed = make(chan struct{})
	f.mu.Unlock()

	return id, nil
}

// Wait returns every update with id >= since once the log holds one. It
// returns an empty batch when timeout passes first.
func (f *Feed) Wait(ctx context.Context, since int64, timeout time.Duration) ([]loopsync.Update, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		f.mu.Lock()
		changed := f.changed
		f.mu.Unlock()

		next, err := f.log.NextID(ctx)
		if err != nil {
			return nil, fmt.Errorf("wait for updates: %w", err)
		}
		if next > since {
			return f.log.Since(ctx, since)
		}

		select {
		case <-changed:
		case <-timer.C:
			return []loopsync.Update{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Open returns the update log for driver: "memory" or "sqlite".
func Open(driver, path string) (UpdateLog, error) {
	switch driver {
	case "memory", "":
		return NewMemoryLog(), nil
	case "sqlite":
		return NewSQLiteLog(path)
	default:
		return nil, fmt.Errorf("%q: %w", driver, ErrUnknownDriver)
	}
}
