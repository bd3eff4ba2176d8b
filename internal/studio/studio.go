// Package studio holds the reference server's authoritative state: the
// synth tree, the song clock and the id generators. Every mutation is
// recorded in the update log that clients long-poll.
package studio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/looper/internal/model"
	"github.com/hyperengineering/looper/internal/reconcile"
	loopsync "github.com/hyperengineering/looper/internal/sync"
)

var (
	// ErrNotFound is returned when an addressed entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnknownID is returned when a patch names an id that does not exist.
	ErrUnknownID = errors.New("unknown id in patch")
	// ErrInvalid is returned for a request body the studio cannot apply.
	ErrInvalid = errors.New("invalid request")
)

// Publisher records updates for clients.
type Publisher interface {
	Append(ctx context.Context, action loopsync.Action, clientID string) (int64, error)
}

// Options configures a Studio.
type Options struct {
	LoopLength float64
	Beats      int
}

// Studio is the authoritative state behind the API.
type Studio struct {
	mu   sync.Mutex
	tree model.Tree
	song model.Song

	// started anchors song_position; the transport epoch moves on restart.
	started time.Time

	synthIDs idGenerator
	chainIDs idGenerator
	takeIDs  idGenerator

	pub Publisher
	now func() time.Time
}

// New creates an empty studio publishing to pub.
func New(pub Publisher, opts Options) *Studio {
	if opts.LoopLength <= 0 {
		opts.LoopLength = 8
	}
	if opts.Beats <= 0 {
		opts.Beats = 16
	}
	s := &Studio{
		tree: model.Tree{Synths: []*model.Synth{}},
		pub:  pub,
		now:  time.Now,
	}
	now := s.now()
	s.started = now
	s.song = model.Song{LoopLength: opts.LoopLength, Beats: opts.Beats, TransportEpoch: now}
	return s
}

// Restore rebuilds the tree and loop length by replaying a persisted update
// log, and moves the id generators past every id seen. Entries that fail to
// apply are logged and skipped.
func (s *Studio) Restore(updates []loopsync.Update) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, u := range updates {
		if u.Action.Synths.Set {
			if err := reconcile.Synths(&s.tree, u.Action.Synths.Value); err != nil {
				slog.Warn("replay skipped update",
					"component", "studio",
					"action", "restore",
					"update_id", u.ID,
					"error", err,
				)
				continue
			}
		}
		if u.Action.Song != nil {
			if v, ok := u.Action.Song.LoopLength.Get(); ok && v > 0 {
				s.song.LoopLength = v
			}
		}
		applied++
	}

	for _, syn := range s.tree.Synths {
		s.synthIDs.observe(syn.ID)
		for _, c := range syn.Chains {
			s.chainIDs.observe(c.ID)
			for _, t := range c.Takes {
				s.takeIDs.observe(t.ID)
			}
		}
	}
	return applied
}

// Synths returns a copy of the full tree.
func (s *Studio) Synths() []*model.Synth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Clone().Synths
}

// Synth returns a copy of one synth.
func (s *Studio) Synth(synthID int64) (*model.Synth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree := s.tree.Clone()
	syn := tree.Synth(synthID)
	if syn == nil {
		return nil, fmt.Errorf("synth %d: %w", synthID, ErrNotFound)
	}
	return syn, nil
}

// Chain returns a copy of one chain.
func (s *Studio) Chain(synthID, chainID int64) (*model.Chain, error) {
	syn, err := s.Synth(synthID)
	if err != nil {
		return nil, err
	}
	c := syn.Chain(chainID)
	if c == nil {
		return nil, fmt.Errorf("chain %d/%d: %w", synthID, chainID, ErrNotFound)
	}
	return c, nil
}

// Take returns a copy of one take.
func (s *Studio) Take(synthID, chainID, takeID int64) (*model.Take, error) {
	c, err := s.Chain(synthID, chainID)
	if err != nil {
		return nil, err
	}
	t := c.Take(takeID)
	if t == nil {
		return nil, fmt.Errorf("take %d/%d/%d: %w", synthID, chainID, takeID, ErrNotFound)
	}
	return t, nil
}

// publish appends an update. Callers hold s.mu so the log order matches the
// order mutations were applied.
func (s *Studio) publish(ctx context.Context, clientID string, action loopsync.Action) error {
	id, err := s.pub.Append(ctx, action, clientID)
	if err != nil {
		return fmt.Errorf("publish update: %w", err)
	}
	slog.Debug("update published",
		"component", "studio",
		"update_id", id,
		"client_id", clientID,
	)
	return nil
}

func (s *Studio) lookupSynth(synthID int64) (*model.Synth, error) {
	syn := s.tree.Synth(synthID)
	if syn == nil {
		return nil, fmt.Errorf("synth %d: %w", synthID, ErrNotFound)
	}
	return syn, nil
}

func (s *Studio) lookupChain(synthID, chainID int64) (*model.Synth, *model.Chain, error) {
	syn, err := s.lookupSynth(synthID)
	if err != nil {
		return nil, nil, err
	}
	c := syn.Chain(chainID)
	if c == nil {
		return nil, nil, fmt.Errorf("chain %d/%d: %w", synthID, chainID, ErrNotFound)
	}
	return syn, c, nil
}

// idGenerator hands out ids from 0 upward, one sequence per entity kind.
type idGenerator struct {
	next int64
}

func (g *idGenerator) gen() int64 {
	id := g.next
	g.next++
	return id
}

func (g *idGenerator) observe(id int64) {
	if id >= g.next {
		g.next = id + 1
	}
}
