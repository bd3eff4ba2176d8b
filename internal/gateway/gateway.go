// Package gateway applies local user actions to the replica and sends the
// matching requests to the server.
//
// Edits are optimistic: the replica changes first, then the request goes out
// on a tracked goroutine that nobody awaits. A failed request is logged and
// left alone; the next inbound delta is what corrects the replica.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperengineering/looper/internal/invariant"
	"github.com/hyperengineering/looper/internal/model"
	"github.com/hyperengineering/looper/internal/replica"
)

var (
	// ErrCreateFailed is returned when the server did not confirm a create.
	ErrCreateFailed = errors.New("create failed")
	// ErrNotFound is returned when an addressed entity is not in the replica.
	ErrNotFound = errors.New("entity not found")
	// ErrUnconfirmed is returned for edits addressed to a placeholder the
	// server has not confirmed yet.
	ErrUnconfirmed = errors.New("entity not confirmed by server")
	// ErrInvalidSong is returned for a non-positive loop length or beat count.
	ErrInvalidSong = errors.New("loop length and beats must be positive")
)

// API is the subset of the server client the gateway sends requests through.
type API interface {
	CreateSynth(ctx context.Context, name string) (string, error)
	CreateChain(ctx context.Context, synthID int64, name string) (string, error)
	CreateTake(ctx context.Context, synthID, chainID int64, name string, kind model.TakeKind) (string, error)
	FetchLocation(ctx context.Context, location string, out any) error
	PatchChains(ctx context.Context, synthID int64, patches []model.ChainPatch) error
	PatchTakes(ctx context.Context, synthID, chainID int64, patches []model.TakePatch) error
	FinishRecording(ctx context.Context, synthID, chainID, takeID int64) error
	PatchSong(ctx context.Context, patch model.SongPatch) error
	RestartTransport(ctx context.Context) error
}

// Alerter surfaces a failure the user must acknowledge.
type Alerter interface {
	Alert(message string)
}

// LogAlerter reports alerts through the default logger.
type LogAlerter struct{}

// Alert implements Alerter.
func (LogAlerter) Alert(message string) {
	slog.Error(message, "component", "gateway", "action", "alert")
}

// Config holds gateway settings.
type Config struct {
	// RequestTimeout bounds each outgoing request.
	RequestTimeout time.Duration
	// OnFailure, when set, is called with every failed outgoing edit after
	// it is logged. It runs on the dispatching goroutine.
	OnFailure func(action string, err error)
}

// Gateway is the single entry point for local edits.
type Gateway struct {
	api     API
	replica *replica.Replica
	alerter Alerter
	timeout time.Duration
	failed  func(action string, err error)

	// placeholder hands out negative ids; server ids are never negative.
	placeholder atomic.Int64
	inflight    sync.WaitGroup
}

// New creates a Gateway. A nil alerter logs alerts instead.
func New(api API, r *replica.Replica, alerter Alerter, cfg Config) *Gateway {
	if alerter == nil {
		alerter = LogAlerter{}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Gateway{
		api:     api,
		replica: r,
		alerter: alerter,
		timeout: cfg.RequestTimeout,
		failed:  cfg.OnFailure,
	}
}

// Wait blocks until every outgoing request has finished.
func (g *Gateway) Wait() {
	g.inflight.Wait()
}

// SetAudioMute sets an audio take's own mute flag, cascading an unmute to
// its associated MIDI takes.
func (g *Gateway) SetAudioMute(ctx context.Context, synthID, chainID, takeID int64, muted bool) error {
	return g.patchTakes(ctx, "set_audio_mute", synthID, chainID, takeID, func(c *model.Chain, t *model.Take) ([]model.TakePatch, error) {
		return invariant.SetTakeAudioMute(c, t, muted)
	})
}

// ToggleAudioMute flips an audio take's own mute flag.
func (g *Gateway) ToggleAudioMute(ctx context.Context, synthID, chainID, takeID int64) error {
	return g.patchTakes(ctx, "toggle_audio_mute", synthID, chainID, takeID, func(c *model.Chain, t *model.Take) ([]model.TakePatch, error) {
		return invariant.SetTakeAudioMute(c, t, !t.Muted)
	})
}

// SetMidiMute sets a MIDI take's mute flag, muting any audio take left with
// no audible MIDI take.
func (g *Gateway) SetMidiMute(ctx context.Context, synthID, chainID, takeID int64, muted bool) error {
	return g.patchTakes(ctx, "set_midi_mute", synthID, chainID, takeID, func(c *model.Chain, t *model.Take) ([]model.TakePatch, error) {
		return invariant.SetTakeMidiMute(c, t, muted)
	})
}

// ToggleMidiMute flips a MIDI take's mute flag.
func (g *Gateway) ToggleMidiMute(ctx context.Context, synthID, chainID, takeID int64) error {
	return g.patchTakes(ctx, "toggle_midi_mute", synthID, chainID, takeID, func(c *model.Chain, t *model.Take) ([]model.TakePatch, error) {
		return invariant.SetTakeMidiMute(c, t, !t.Muted)
	})
}

// SetEcho sets a chain's echo flag. Enabling it clears every sibling.
func (g *Gateway) SetEcho(ctx context.Context, synthID, chainID int64, echo bool) error {
	return g.patchChains(ctx, "set_echo", synthID, chainID, func(s *model.Synth, c *model.Chain) ([]model.ChainPatch, error) {
		return invariant.SetChainEcho(s, c, echo)
	})
}

// ToggleEcho flips a chain's echo flag.
func (g *Gateway) ToggleEcho(ctx context.Context, synthID, chainID int64) error {
	return g.patchChains(ctx, "toggle_echo", synthID, chainID, func(s *model.Synth, c *model.Chain) ([]model.ChainPatch, error) {
		return invariant.SetChainEcho(s, c, !c.Echo)
	})
}

// FinishRecording asks the server to stop recording a take. The state change
// arrives through the update log.
func (g *Gateway) FinishRecording(ctx context.Context, synthID, chainID, takeID int64) error {
	if err := confirmed(synthID, chainID, takeID); err != nil {
		return err
	}
	err := g.replica.Update(func(st *replica.State) error {
		_, err := lookupTake(&st.Tree, synthID, chainID, takeID)
		return err
	})
	if err != nil {
		return err
	}
	g.dispatch(ctx, "finish_recording", func(ctx context.Context) error {
		return g.api.FinishRecording(ctx, synthID, chainID, takeID)
	})
	return nil
}

// SetLoopLength changes the song's loop length. The server needs the beat
// count alongside it; the new length reaches the replica through the update
// log.
func (g *Gateway) SetLoopLength(ctx context.Context, loopLength float64, beats int) error {
	if loopLength <= 0 || beats <= 0 {
		return fmt.Errorf("loop length %v, beats %d: %w", loopLength, beats, ErrInvalidSong)
	}
	patch := model.SongPatch{LoopLength: model.Some(loopLength), Beats: model.Some(beats)}
	g.dispatch(ctx, "set_loop_length", func(ctx context.Context) error {
		return g.api.PatchSong(ctx, patch)
	})
	return nil
}

// RestartTransport rewinds the transport.
func (g *Gateway) RestartTransport(ctx context.Context) {
	g.dispatch(ctx, "restart_transport", g.api.RestartTransport)
}

// SelectChain sets a chain's local selection flag. Selection never leaves
// the client.
func (g *Gateway) SelectChain(synthID, chainID int64, selected bool) error {
	return g.replica.Update(func(st *replica.State) error {
		_, c, err := lookupChain(&st.Tree, synthID, chainID)
		if err != nil {
			return err
		}
		c.Selected = selected
		return nil
	})
}

// SelectTake sets a take's local selection flag.
func (g *Gateway) SelectTake(synthID, chainID, takeID int64, selected bool) error {
	return g.replica.Update(func(st *replica.State) error {
		t, err := lookupTake(&st.Tree, synthID, chainID, takeID)
		if err != nil {
			return err
		}
		t.Selected = selected
		return nil
	})
}

func (g *Gateway) patchTakes(ctx context.Context, action string, synthID, chainID, takeID int64,
	edit func(*model.Chain, *model.Take) ([]model.TakePatch, error)) error {
	if err := confirmed(synthID, chainID, takeID); err != nil {
		return err
	}

	var batch []model.TakePatch
	err := g.replica.Update(func(st *replica.State) error {
		_, c, err := lookupChain(&st.Tree, synthID, chainID)
		if err != nil {
			return err
		}
		t := c.Take(takeID)
		if t == nil {
			return fmt.Errorf("take %d/%d/%d: %w", synthID, chainID, takeID, ErrNotFound)
		}
		batch, err = edit(c, t)
		return err
	})
	if err != nil {
		return err
	}

	g.dispatch(ctx, action, func(ctx context.Context) error {
		return g.api.PatchTakes(ctx, synthID, chainID, batch)
	})
	return nil
}

func (g *Gateway) patchChains(ctx context.Context, action string, synthID, chainID int64,
	edit func(*model.Synth, *model.Chain) ([]model.ChainPatch, error)) error {
	if err := confirmed(synthID, chainID); err != nil {
		return err
	}

	var batch []model.ChainPatch
	err := g.replica.Update(func(st *replica.State) error {
		s, c, err := lookupChain(&st.Tree, synthID, chainID)
		if err != nil {
			return err
		}
		batch, err = edit(s, c)
		return err
	})
	if err != nil {
		return err
	}

	// Placeholder chains cannot be addressed by the server.
	batch = slices.DeleteFunc(batch, func(p model.ChainPatch) bool { return *p.ID < 0 })

	g.dispatch(ctx, action, func(ctx context.Context) error {
		return g.api.PatchChains(ctx, synthID, batch)
	})
	return nil
}

// dispatch sends a request without waiting for it. The request outlives the
// caller's context but not the gateway's timeout.
func (g *Gateway) dispatch(ctx context.Context, action string, send func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)

	g.inflight.Add(1)
	go func() {
		defer g.inflight.Done()

		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		start := time.Now()
		if err := send(ctx); err != nil {
			slog.Warn("outgoing request failed",
				"component", "gateway",
				"action", action,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err,
			)
			if g.failed != nil {
				g.failed(action, err)
			}
			return
		}
		slog.Debug("outgoing request sent",
			"component", "gateway",
			"action", action,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()
}

func (g *Gateway) nextPlaceholder() int64 {
	return g.placeholder.Add(-1)
}

func confirmed(ids ...int64) error {
	for _, id := range ids {
		if id < 0 {
			return fmt.Errorf("id %d: %w", id, ErrUnconfirmed)
		}
	}
	return nil
}

func lookupChain(tree *model.Tree, synthID, chainID int64) (*model.Synth, *model.Chain, error) {
	s := tree.Synth(synthID)
	if s == nil {
		return nil, nil, fmt.Errorf("synth %d: %w", synthID, ErrNotFound)
	}
	c := s.Chain(chainID)
	if c == nil {
		return nil, nil, fmt.Errorf("chain %d/%d: %w", synthID, chainID, ErrNotFound)
	}
	return s, c, nil
}

func lookupTake(tree *model.Tree, synthID, chainID, takeID int64) (*model.Take, error) {
	_, c, err := lookupChain(tree, synthID, chainID)
	if err != nil {
		return nil, err
	}
	t := c.Take(takeID)
	if t == nil {
		return nil, fmt.Errorf("take %d/%d/%d: %w", synthID, chainID, takeID, ErrNotFound)
	}
	return t, nil
}
