// Package sync defines the wire types of the server's update log, shared by
// the poller that consumes it and the reference server that produces it.
package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/hyperengineering/looper/internal/model"
)

// Long-poll window bounds, in seconds.
const (
	DefaultPollSeconds = 10
	MaxPollSeconds     = 60
)

// Update is a single entry in the update log.
type Update struct {
	ID     int64  `json:"id"`
	Action Action `json:"action"`
}

// Action is the payload of an update. Either part may be absent.
type Action struct {
	Synths model.Field[[]model.SynthPatch] `json:"synths,omitzero"`
	Song   *SongDelta                      `json:"song,omitempty"`
}

// SongDelta is the song part of an update.
type SongDelta struct {
	SongPosition      model.Field[float64] `json:"song_position,omitzero"`
	TransportPosition model.Field[float64] `json:"transport_position,omitzero"`
	LoopLength        model.Field[float64] `json:"loop_length,omitzero"`
}

// SongState is the body of GET /api/song.
type SongState struct {
	TransportPosition float64 `json:"transport_position"`
	LoopLength        float64 `json:"loop_length"`
}

// RawUpdate is an update as received, before its id and action are trusted.
type RawUpdate struct {
	ID     json.RawMessage `json:"id"`
	Action json.RawMessage `json:"action"`
}

// IntID returns the entry's id when it is an integer JSON number. Integral
// floats such as 5.0 are accepted; strings, null and fractions are not.
func (r RawUpdate) IntID() (int64, bool) {
	raw := string(bytes.TrimSpace(r.ID))
	if raw == "" {
		return 0, false
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

// DecodeBatch parses a response body of GET /api/updates. Only the outer
// array must be well formed: an element that is not an object decodes to a
// RawUpdate without an id, which callers skip.
func DecodeBatch(data []byte) ([]RawUpdate, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, err
	}
	entries := make([]RawUpdate, len(elems))
	for i, elem := range elems {
		if err := json.Unmarshal(elem, &entries[i]); err != nil {
			entries[i] = RawUpdate{}
		}
	}
	return entries, nil
}

// DecodeAction parses the entry's action.
func (r RawUpdate) DecodeAction() (Action, error) {
	var a Action
	if len(bytes.TrimSpace(r.Action)) == 0 {
		return a, nil
	}
	if err := json.Unmarshal(r.Action, &a); err != nil {
		return a, fmt.Errorf("decode action: %w", err)
	}
	return a, nil
}

// Raw encodes u into the form the poller receives.
func (u Update) Raw() (RawUpdate, error) {
	action, err := json.Marshal(u.Action)
	if err != nil {
		return RawUpdate{}, err
	}
	return RawUpdate{ID: json.RawMessage(strconv.FormatInt(u.ID, 10)), Action: action}, nil
}
