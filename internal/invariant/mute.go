// Package invariant keeps the derived state between related entities
// consistent after local or remote mutation: the mute coupling between an
// audio take and its associated MIDI takes, and the single echo chain per synth.
//
// Every operation mutates the tree in place and returns the outgoing patch
// batch that states the resulting values to the server.
package invariant

import (
	"errors"
	"fmt"

	"github.com/hyperengineering/looper/internal/model"
)

var (
	ErrNotAudio   = errors.New("take is not an audio take")
	ErrNotMidi    = errors.New("take is not a MIDI take")
	ErrNotInChain = errors.New("take does not belong to chain")
	ErrNotInSynth = errors.New("chain does not belong to synth")
)

// AudioMuted reports whether the take's own audio path is muted.
func AudioMuted(t *model.Take) bool {
	return t.Muted
}

// MidiMuted reports whether every associated MIDI take of t is muted. A take
// without associated MIDI takes is vacuously MIDI-muted. Associated ids that
// are not present in the chain do not sound and count as muted.
func MidiMuted(c *model.Chain, t *model.Take) bool {
	for _, id := range t.AssociatedMidiTakes {
		if m := c.Take(id); m != nil && !m.Muted {
			return false
		}
	}
	return true
}

// FullyMuted reports whether neither the audio path nor any MIDI path of t
// is audible.
func FullyMuted(c *model.Chain, t *model.Take) bool {
	return AudioMuted(t) && MidiMuted(c, t)
}

// SetTakeAudioMute sets the audio take's own mute flag. Unmuting makes the
// take fully audible, so every associated MIDI take is unmuted with it. The
// returned batch holds the audio take followed by its associated MIDI takes.
func SetTakeAudioMute(c *model.Chain, t *model.Take, muted bool) ([]model.TakePatch, error) {
	if err := belongs(c, t); err != nil {
		return nil, err
	}
	if !t.IsAudio() {
		return nil, fmt.Errorf("take %d: %w", t.ID, ErrNotAudio)
	}

	t.Muted = muted

	batch := []model.TakePatch{mutePatch(t)}
	for _, id := range t.AssociatedMidiTakes {
		m := c.Take(id)
		if m == nil {
			continue
		}
		if !muted {
			m.Muted = false
		}
		batch = append(batch, mutePatch(m))
	}
	return batch, nil
}

// SetTakeMidiMute sets a MIDI take's mute flag. Muting the last unmuted MIDI
// take associated with an audio take mutes that audio take's own flag as
// well; re-muting an already muted take and unmuting never touch audio flags. The returned batch holds the MIDI
// take followed by every audio take whose flag changed.
func SetTakeMidiMute(c *model.Chain, t *model.Take, muted bool) ([]model.TakePatch, error) {
	if err := belongs(c, t); err != nil {
		return nil, err
	}
	if !t.IsMidi() {
		return nil, fmt.Errorf("take %d: %w", t.ID, ErrNotMidi)
	}

	wasMuted := t.Muted
	t.Muted = muted

	batch := []model.TakePatch{mutePatch(t)}
	if !muted || wasMuted {
		return batch, nil
	}
	for _, audio := range c.AudioTakesReferencing(t.ID) {
		if !audio.Muted && MidiMuted(c, audio) {
			audio.Muted = true
			batch = append(batch, mutePatch(audio))
		}
	}
	return batch, nil
}

func mutePatch(t *model.Take) model.TakePatch {
	return model.TakePatch{ID: model.ID(t.ID), Muted: model.Some(t.Muted)}
}

func belongs(c *model.Chain, t *model.Take) error {
	if c.Take(t.ID) != t {
		return fmt.Errorf("take %d in chain %d: %w", t.ID, c.ID, ErrNotInChain)
	}
	return nil
}
