package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/looper/internal/model"
)

// DefaultClockInterval ticks the transport clock at roughly 20 Hz.
const DefaultClockInterval = 50 * time.Millisecond

// SongSource returns the current song state. Implemented by replica.Replica.
type SongSource interface {
	Song() model.Song
}

// TickFunc receives the loop position in seconds on every clock tick.
// It runs on the clock goroutine and must return promptly.
type TickFunc func(position float64, song model.Song)

// TransportClock recomputes the loop position from the replica's transport
// offset on every tick. It never performs I/O itself.
type TransportClock struct {
	songs    SongSource
	tick     TickFunc
	interval time.Duration
	now      func() time.Time
}

// NewTransportClock creates a clock. A non-positive interval selects
// DefaultClockInterval.
func NewTransportClock(songs SongSource, interval time.Duration, tick TickFunc) *TransportClock {
	if interval <= 0 {
		interval = DefaultClockInterval
	}
	return &TransportClock{
		songs:    songs,
		tick:     tick,
		interval: interval,
		now:      time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (c *TransportClock) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "transport-clock",
		"action", "worker_started",
		"interval_ms", c.interval.Milliseconds(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "transport-clock",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick computes the current position once and hands it to the TickFunc.
func (c *TransportClock) Tick() float64 {
	song := c.songs.Song()
	pos := song.PositionAt(c.now())
	if c.tick != nil {
		c.tick(pos, song)
	}
	return pos
}
