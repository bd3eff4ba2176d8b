package model

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingID is returned for a patch entry without an id.
	ErrMissingID = errors.New("patch entry has no id")
	// ErrMissingProperty is returned when a full object lacks a required field.
	ErrMissingProperty = errors.New("required property missing")
)

// SynthPatch is a sparse, identity-keyed update to a synth.
type SynthPatch struct {
	ID      *int64              `json:"id"`
	Delete  bool                `json:"delete,omitempty"`
	Deleted bool                `json:"deleted,omitempty"`
	Name    Field[string]       `json:"name,omitzero"`
	Chains  Field[[]ChainPatch] `json:"chains,omitzero"`
}

// ChainPatch is a sparse, identity-keyed update to a chain.
type ChainPatch struct {
	ID      *int64             `json:"id"`
	Delete  bool               `json:"delete,omitempty"`
	Deleted bool               `json:"deleted,omitempty"`
	Name    Field[string]      `json:"name,omitzero"`
	Midi    Field[bool]        `json:"midi,omitzero"`
	Echo    Field[bool]        `json:"echo,omitzero"`
	Takes   Field[[]TakePatch] `json:"takes,omitzero"`
}

// TakePatch is a sparse, identity-keyed update to a take.
type TakePatch struct {
	ID                  *int64          `json:"id"`
	Delete              bool            `json:"delete,omitempty"`
	Deleted             bool            `json:"deleted,omitempty"`
	Name                Field[string]   `json:"name,omitzero"`
	Type                Field[TakeKind] `json:"type,omitzero"`
	State               Field[string]   `json:"state,omitzero"`
	AssociatedMidiTakes Field[[]int64]  `json:"associated_midi_takes,omitzero"`
	Muted               Field[bool]     `json:"muted,omitzero"`
	MutedScheduled      Field[bool]     `json:"muted_scheduled,omitzero"`
	PlayingSince        Field[*float64] `json:"playing_since,omitzero"`
	Duration            Field[*float64] `json:"duration,omitzero"`
}

// SongPatch is the body of PATCH /api/song.
type SongPatch struct {
	LoopLength Field[float64] `json:"loop_length,omitzero"`
	Beats      Field[int]     `json:"beats,omitzero"`
}

// ID returns a pointer to id, for building patches.
func ID(id int64) *int64 {
	return &id
}

// IsDelete reports whether the patch removes the synth. The server emits
// "deleted"; "delete" is accepted as well.
func (p *SynthPatch) IsDelete() bool { return p.Delete || p.Deleted }

// IsDelete reports whether the patch removes the chain.
func (p *ChainPatch) IsDelete() bool { return p.Delete || p.Deleted }

// IsDelete reports whether the patch removes the take.
func (p *TakePatch) IsDelete() bool { return p.Delete || p.Deleted }

// ApplyScalars copies every present scalar field of p onto s.
func (s *Synth) ApplyScalars(p *SynthPatch) {
	copyTo(&s.Name, p.Name)
}

// ApplyScalars copies every present scalar field of p onto c.
func (c *Chain) ApplyScalars(p *ChainPatch) {
	copyTo(&c.Name, p.Name)
	copyTo(&c.Midi, p.Midi)
	copyTo(&c.Echo, p.Echo)
}

// ApplyScalars copies every present scalar field of p onto t. The associated
// MIDI take list is replaced as a whole, not merged.
func (t *Take) ApplyScalars(p *TakePatch) {
	copyTo(&t.Name, p.Name)
	copyTo(&t.Kind, p.Type)
	copyTo(&t.State, p.State)
	copyTo(&t.Muted, p.Muted)
	copyTo(&t.MutedScheduled, p.MutedScheduled)
	copyTo(&t.PlayingSince, p.PlayingSince)
	copyTo(&t.Duration, p.Duration)
	if p.AssociatedMidiTakes.Set {
		t.AssociatedMidiTakes = append([]int64(nil), p.AssociatedMidiTakes.Value...)
	}
}

// RequireComplete checks that full synth objects, as returned by
// GET /api/synths, carry every property of the entity. A property left
// absent would otherwise load as its zero value.
func RequireComplete(synths []SynthPatch) error {
	for i := range synths {
		s := &synths[i]
		if s.ID == nil {
			return fmt.Errorf("synth[%d]: id: %w", i, ErrMissingProperty)
		}
		if name := firstUnset(
			prop{"name", s.Name.Set},
			prop{"chains", s.Chains.Set},
		); name != "" {
			return fmt.Errorf("synth %d: %s: %w", *s.ID, name, ErrMissingProperty)
		}
		for j := range s.Chains.Value {
			c := &s.Chains.Value[j]
			if c.ID == nil {
				return fmt.Errorf("synth %d chain[%d]: id: %w", *s.ID, j, ErrMissingProperty)
			}
			if name := firstUnset(
				prop{"name", c.Name.Set},
				prop{"midi", c.Midi.Set},
				prop{"echo", c.Echo.Set},
				prop{"takes", c.Takes.Set},
			); name != "" {
				return fmt.Errorf("chain %d: %s: %w", *c.ID, name, ErrMissingProperty)
			}
			for k := range c.Takes.Value {
				t := &c.Takes.Value[k]
				if t.ID == nil {
					return fmt.Errorf("chain %d take[%d]: id: %w", *c.ID, k, ErrMissingProperty)
				}
				if name := firstUnset(
					prop{"name", t.Name.Set},
					prop{"type", t.Type.Set},
					prop{"state", t.State.Set},
					prop{"muted", t.Muted.Set},
					prop{"muted_scheduled", t.MutedScheduled.Set},
					prop{"associated_midi_takes", t.AssociatedMidiTakes.Set},
					prop{"playing_since", t.PlayingSince.Set},
					prop{"duration", t.Duration.Set},
				); name != "" {
					return fmt.Errorf("take %d: %s: %w", *t.ID, name, ErrMissingProperty)
				}
			}
		}
	}
	return nil
}

type prop struct {
	name string
	set  bool
}

// firstUnset returns the name of the first property not present, or "".
func firstUnset(props ...prop) string {
	for _, p := range props {
		if !p.set {
			return p.name
		}
	}
	return ""
}

// SynthPatchOf returns a full patch describing s, as the server would send it.
func SynthPatchOf(s *Synth) SynthPatch {
	chains := make([]ChainPatch, 0, len(s.Chains))
	for _, c := range s.Chains {
		chains = append(chains, ChainPatchOf(c))
	}
	return SynthPatch{ID: ID(s.ID), Name: Some(s.Name), Chains: Some(chains)}
}

// ChainPatchOf returns a full patch describing c.
func ChainPatchOf(c *Chain) ChainPatch {
	takes := make([]TakePatch, 0, len(c.Takes))
	for _, t := range c.Takes {
		takes = append(takes, TakePatchOf(t))
	}
	return ChainPatch{
		ID:    ID(c.ID),
		Name:  Some(c.Name),
		Midi:  Some(c.Midi),
		Echo:  Some(c.Echo),
		Takes: Some(takes),
	}
}

// TakePatchOf returns a full patch describing t.
func TakePatchOf(t *Take) TakePatch {
	assoc := append([]int64{}, t.AssociatedMidiTakes...)
	return TakePatch{
		ID:                  ID(t.ID),
		Name:                Some(t.Name),
		Type:                Some(t.Kind),
		State:               Some(t.State),
		AssociatedMidiTakes: Some(assoc),
		Muted:               Some(t.Muted),
		MutedScheduled:      Some(t.MutedScheduled),
		PlayingSince:        Some(clonePtr(t.PlayingSince)),
		Duration:            Some(clonePtr(t.Duration)),
	}
}
