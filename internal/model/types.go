// Package model holds the client-side replica of the server's entity tree:
// synths own chains, chains own takes. Ownership flows strictly from parent to
// child; the SynthID and ChainID fields are lookup keys, never owners.
package model

import (
	"math"
	"slices"
	"time"
)

// TakeKind distinguishes audio takes from MIDI takes.
type TakeKind string

const (
	KindAudio TakeKind = "Audio"
	KindMidi  TakeKind = "Midi"
)

// Recording states emitted by the reference server. The set is server-defined;
// the client treats State as an opaque string.
const (
	StateWaiting   = "Waiting"
	StateRecording = "Recording"
	StateFinished  = "Finished"
)

// Take is a single audio or MIDI recording slot within a chain.
type Take struct {
	ID                  int64    `json:"id"`
	Name                string   `json:"name"`
	Kind                TakeKind `json:"type"`
	State               string   `json:"state"`
	Muted               bool     `json:"muted"`
	MutedScheduled      bool     `json:"muted_scheduled"`
	AssociatedMidiTakes []int64  `json:"associated_midi_takes"`
	PlayingSince        *float64 `json:"playing_since"`
	Duration            *float64 `json:"duration"`

	// ChainID is the owning chain's id, resolved by lookup.
	ChainID int64 `json:"-"`
	// Selected is transient UI state and never crosses the wire.
	Selected bool `json:"-"`
}

// IsAudio reports whether the take records audio.
func (t *Take) IsAudio() bool { return t.Kind == KindAudio }

// IsMidi reports whether the take records MIDI.
func (t *Take) IsMidi() bool { return t.Kind == KindMidi }

// IsAudible reports whether the take is finished and not muted.
func (t *Take) IsAudible() bool {
	return t.State == StateFinished && !t.Muted
}

// References reports whether midiID is one of the take's associated MIDI takes.
func (t *Take) References(midiID int64) bool {
	return slices.Contains(t.AssociatedMidiTakes, midiID)
}

// Chain is a recording group within a synth.
type Chain struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Midi  bool    `json:"midi"`
	Echo  bool    `json:"echo"`
	Takes []*Take `json:"takes"`

	// SynthID is the owning synth's id, used to address outgoing requests.
	SynthID  int64 `json:"-"`
	Selected bool  `json:"-"`
}

// Take returns the take with the given id, or nil.
func (c *Chain) Take(id int64) *Take {
	for _, t := range c.Takes {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// AudioTakesReferencing returns the audio takes whose associated MIDI takes
// include midiID, in chain order.
func (c *Chain) AudioTakesReferencing(midiID int64) []*Take {
	var out []*Take
	for _, t := range c.Takes {
		if t.IsAudio() && t.References(midiID) {
			out = append(out, t)
		}
	}
	return out
}

// Synth is a top-level instrument grouping.
type Synth struct {
	ID     int64    `json:"id"`
	Name   string   `json:"name"`
	Chains []*Chain `json:"chains"`
}

// Chain returns the chain with the given id, or nil.
func (s *Synth) Chain(id int64) *Chain {
	for _, c := range s.Chains {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Tree is the set of synths in insertion order.
type Tree struct {
	Synths []*Synth `json:"synths"`
}

// Synth returns the synth with the given id, or nil.
func (t *Tree) Synth(id int64) *Synth {
	for _, s := range t.Synths {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Chain resolves a chain by synth and chain id.
func (t *Tree) Chain(synthID, chainID int64) *Chain {
	s := t.Synth(synthID)
	if s == nil {
		return nil
	}
	return s.Chain(chainID)
}

// Take resolves a take by its full path.
func (t *Tree) Take(synthID, chainID, takeID int64) *Take {
	c := t.Chain(synthID, chainID)
	if c == nil {
		return nil
	}
	return c.Take(takeID)
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() Tree {
	out := Tree{Synths: make([]*Synth, 0, len(t.Synths))}
	for _, s := range t.Synths {
		sc := &Synth{ID: s.ID, Name: s.Name, Chains: make([]*Chain, 0, len(s.Chains))}
		for _, c := range s.Chains {
			cc := *c
			cc.Takes = make([]*Take, 0, len(c.Takes))
			for _, tk := range c.Takes {
				tc := *tk
				tc.AssociatedMidiTakes = slices.Clone(tk.AssociatedMidiTakes)
				tc.PlayingSince = clonePtr(tk.PlayingSince)
				tc.Duration = clonePtr(tk.Duration)
				cc.Takes = append(cc.Takes, &tc)
			}
			sc.Chains = append(sc.Chains, &cc)
		}
		out.Synths = append(out.Synths, sc)
	}
	return out
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Song is the singleton transport state. It is updated by the same poll
// stream as the tree but is not part of it.
type Song struct {
	LoopLength        float64 `json:"loop_length"`
	Beats             int     `json:"beats,omitempty"`
	SongPosition      float64 `json:"song_position"`
	TransportPosition float64 `json:"transport_position"`

	// TransportEpoch is the transport-time offset: the local instant at which
	// the server's transport position was zero.
	TransportEpoch time.Time `json:"-"`
}

// PositionAt returns the transport position at local time now, wrapped to the
// loop length when one is known.
func (s *Song) PositionAt(now time.Time) float64 {
	if s.TransportEpoch.IsZero() {
		return 0
	}
	pos := now.Sub(s.TransportEpoch).Seconds()
	if s.LoopLength > 0 {
		pos = math.Mod(pos, s.LoopLength)
		if pos < 0 {
			pos += s.LoopLength
		}
	}
	return pos
}

// SetTransportPosition records that the transport was at position seconds at
// local time now.
func (s *Song) SetTransportPosition(position float64, now time.Time) {
	s.TransportPosition = position
	s.TransportEpoch = now.Add(-time.Duration(position * float64(time.Second)))
}
