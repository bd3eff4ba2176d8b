// Package replica owns the client's copy of the server state: the entity
// tree, the song and the update cursor. Every mutation runs to completion
// under one lock, so a reconcile pass never interleaves with a local edit.
package replica

import (
	"fmt"
	"sync"
	"time"

	"github.com/hyperengineering/looper/internal/model"
	"github.com/hyperengineering/looper/internal/reconcile"
	loopsync "github.com/hyperengineering/looper/internal/sync"
)

// State is the mutable replica content handed to Update and View callbacks.
type State struct {
	Tree model.Tree
	Song model.Song

	// Cursor is the next update id to request. It never decreases.
	Cursor int64
}

// AdvanceCursor moves the cursor past id, never backwards.
func (s *State) AdvanceCursor(id int64) {
	if id+1 > s.Cursor {
		s.Cursor = id + 1
	}
}

// Snapshot is a detached copy of the replica for rendering or export.
type Snapshot struct {
	Synths    []*model.Synth `json:"synths"`
	Song      model.Song     `json:"song"`
	Cursor    int64          `json:"cursor"`
	TakenAt   time.Time      `json:"taken_at"`
	Transport float64        `json:"transport"`
}

// Replica is the explicit context object shared by the poller, the gateway
// and the workers.
type Replica struct {
	mu    sync.Mutex
	state State
}

// New returns an empty replica with its cursor at 0.
func New() *Replica {
	return &Replica{}
}

// Update runs fn with exclusive access to the state.
func (r *Replica) Update(fn func(*State) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&r.state)
}

// View runs fn with exclusive access to the state. fn must not retain
// pointers into the state after returning.
func (r *Replica) View(fn func(*State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.state)
}

// Cursor returns the current update cursor.
func (r *Replica) Cursor() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Cursor
}

// Song returns a copy of the song state.
func (r *Replica) Song() model.Song {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Song
}

// Load replaces the tree with a full fetch and resets the cursor to 0.
// Full objects must carry their required properties.
func (r *Replica) Load(synths []model.SynthPatch, song loopsync.SongState, now time.Time) error {
	if err := model.RequireComplete(synths); err != nil {
		return fmt.Errorf("load synths: %w", err)
	}
	tree := model.Tree{Synths: []*model.Synth{}}
	if err := reconcile.Synths(&tree, synths); err != nil {
		return fmt.Errorf("load synths: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Tree = tree
	r.state.Song.LoopLength = song.LoopLength
	r.state.Song.SetTransportPosition(song.TransportPosition, now)
	r.state.Cursor = 0
	return nil
}

// Snapshot returns a deep copy of the replica taken at now.
func (r *Replica) Snapshot(now time.Time) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	tree := r.state.Tree.Clone()
	return Snapshot{
		Synths:    tree.Synths,
		Song:      r.state.Song,
		Cursor:    r.state.Cursor,
		TakenAt:   now.UTC(),
		Transport: r.state.Song.PositionAt(now),
	}
}
