// Package poller runs the long-poll loop over the server's update log and
// feeds each delta through the reconciler into the replica.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/looper/internal/invariant"
	"github.com/hyperengineering/looper/internal/model"
	"github.com/hyperengineering/looper/internal/reconcile"
	"github.com/hyperengineering/looper/internal/replica"
	loopsync "github.com/hyperengineering/looper/internal/sync"
)

// StaleThreshold is the minimum round-trip time for a response's transport
// position to be trusted. Faster responses are assumed to come from a
// cached layer and only their loop length is applied.
const StaleThreshold = 100 * time.Millisecond

// UpdateSource fetches update log entries with id >= since, holding the
// request open up to window when none exist yet.
type UpdateSource interface {
	Updates(ctx context.Context, since int64, window time.Duration) ([]loopsync.RawUpdate, error)
}

// Config holds the poller settings.
type Config struct {
	Window     time.Duration
	RetryDelay time.Duration
}

// Stats summarizes one poll iteration.
type Stats struct {
	Entries  int
	Applied  int
	Skipped  int
	Failed   int
	Stale    bool
	Duration time.Duration
	Cursor   int64
}

// Poller maintains the cursor over the update log.
type Poller struct {
	source  UpdateSource
	replica *replica.Replica
	cfg     Config

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Poller. Zero config values fall back to defaults.
func New(source UpdateSource, r *replica.Replica, cfg Config) *Poller {
	if cfg.Window <= 0 {
		cfg.Window = loopsync.DefaultPollSeconds * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Poller{
		source:  source,
		replica: r,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run polls until ctx is cancelled. A failed request is logged and retried
// after RetryDelay; it never moves the cursor.
func (p *Poller) Run(ctx context.Context) error {
	slog.Info("poller started",
		"component", "poller",
		"window", p.cfg.Window.String(),
		"cursor", p.replica.Cursor(),
	)

	for {
		if err := ctx.Err(); err != nil {
			slog.Info("poller stopped",
				"component", "poller",
				"reason", "context_cancelled",
				"cursor", p.replica.Cursor(),
			)
			return err
		}

		stats, err := p.PollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			slog.Warn("poll request failed",
				"component", "poller",
				"action", "poll_failed",
				"cursor", p.replica.Cursor(),
				"error", err,
			)
			select {
			case <-ctx.Done():
			case <-time.After(p.cfg.RetryDelay):
			}
			continue
		}

		if stats.Entries > 0 {
			slog.Debug("poll batch applied",
				"component", "poller",
				"action", "poll",
				"entries", stats.Entries,
				"applied", stats.Applied,
				"skipped", stats.Skipped,
				"failed", stats.Failed,
				"stale", stats.Stale,
				"cursor", stats.Cursor,
				"duration_ms", stats.Duration.Milliseconds(),
			)
		}
	}
}

// PollOnce performs a single long-poll request and applies the batch in the
// order received.
func (p *Poller) PollOnce(ctx context.Context) (Stats, error) {
	begin := p.now()
	entries, err := p.source.Updates(ctx, p.replica.Cursor(), p.cfg.Window)
	if err != nil {
		return Stats{}, fmt.Errorf("fetch updates: %w", err)
	}
	received := p.now()

	stats := Stats{
		Entries:  len(entries),
		Duration: received.Sub(begin),
	}
	stats.Stale = stats.Duration < StaleThreshold

	p.replica.Update(func(st *replica.State) error {
		for _, entry := range entries {
			id, ok := entry.IntID()
			if !ok {
				stats.Skipped++
				slog.Debug("skipping update without integer id",
					"component", "poller",
					"raw_id", string(entry.ID),
				)
				continue
			}

			st.AdvanceCursor(id)

			if err := applyEntry(st, entry, stats.Stale, received); err != nil {
				stats.Failed++
				slog.Error("update apply failed",
					"component", "poller",
					"action", "apply_failed",
					"update_id", id,
					"error", err,
				)
				continue
			}
			stats.Applied++
		}
		stats.Cursor = st.Cursor
		return nil
	})

	return stats, nil
}

// applyEntry applies one update's action to the state. Panics raised while
// applying are returned as errors so the rest of the batch still runs.
func applyEntry(st *replica.State, entry loopsync.RawUpdate, stale bool, received time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic applying update: %v", r)
		}
	}()

	action, err := entry.DecodeAction()
	if err != nil {
		return err
	}

	var errs []error
	if action.Synths.Set {
		if err := applySynths(&st.Tree, action.Synths.Value); err != nil {
			errs = append(errs, fmt.Errorf("synths: %w", err))
		}
	}
	if action.Song != nil {
		applySong(&st.Song, action.Song, stale, received)
	}
	return errors.Join(errs...)
}

// applySynths reconciles patches into tree and restores echo exclusivity.
// Mute flags are taken as the server states them; coupling is only derived
// for local edits.
func applySynths(tree *model.Tree, patches []model.SynthPatch) error {
	if err := reconcile.Synths(tree, patches); err != nil {
		return err
	}
	for i := range patches {
		p := &patches[i]
		if p.IsDelete() || !p.Chains.Set {
			continue
		}
		s := tree.Synth(*p.ID)
		if s == nil {
			continue
		}
		invariant.RepairEcho(s, lastEchoOn(p.Chains.Value))
	}
	return nil
}

// lastEchoOn returns the id of the last chain patch that turned echo on, or -1.
func lastEchoOn(chains []model.ChainPatch) int64 {
	id := int64(-1)
	for i := range chains {
		c := &chains[i]
		if !c.IsDelete() && c.Echo.Set && c.Echo.Value {
			id = *c.ID
		}
	}
	return id
}

func applySong(song *model.Song, delta *loopsync.SongDelta, stale bool, received time.Time) {
	if v, ok := delta.LoopLength.Get(); ok {
		song.LoopLength = v
	}
	if v, ok := delta.SongPosition.Get(); ok {
		song.SongPosition = v
	}
	if v, ok := delta.TransportPosition.Get(); ok && !stale {
		song.SetTransportPosition(v, received)
	}
}
