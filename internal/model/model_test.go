package model

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestField_PresentNullAbsent(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantSet     bool
		wantNil     bool
		wantSeconds float64
	}{
		{"absent", `{"id":1}`, false, true, 0},
		{"null", `{"id":1,"playing_since":null}`, true, true, 0},
		{"value", `{"id":1,"playing_since":2.5}`, true, false, 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p TakePatch
			if err := json.Unmarshal([]byte(tt.payload), &p); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			v, ok := p.PlayingSince.Get()
			if ok != tt.wantSet {
				t.Errorf("Set = %v, want %v", ok, tt.wantSet)
			}
			if (v == nil) != tt.wantNil {
				t.Fatalf("Value = %v, want nil=%v", v, tt.wantNil)
			}
			if v != nil && *v != tt.wantSeconds {
				t.Errorf("Value = %v, want %v", *v, tt.wantSeconds)
			}
		})
	}
}

func TestField_MarshalOmitsAbsent(t *testing.T) {
	p := TakePatch{ID: ID(3), Muted: Some(false), Duration: Some[*float64](nil)}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	want := `{"id":3,"muted":false,"duration":null}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}

func TestIsDelete_AcceptsBothMarkers(t *testing.T) {
	var a, b, c ChainPatch
	_ = json.Unmarshal([]byte(`{"id":1,"delete":true}`), &a)
	_ = json.Unmarshal([]byte(`{"id":1,"deleted":true}`), &b)
	_ = json.Unmarshal([]byte(`{"id":1}`), &c)

	if !a.IsDelete() || !b.IsDelete() || c.IsDelete() {
		t.Errorf("IsDelete() = %v %v %v, want true true false", a.IsDelete(), b.IsDelete(), c.IsDelete())
	}
}

func TestTake_ApplyScalarsSparse(t *testing.T) {
	since := 1.25
	tk := &Take{ID: 1, Name: "Verse", Kind: KindAudio, State: StateRecording, Muted: true,
		AssociatedMidiTakes: []int64{0}, PlayingSince: &since}

	// Given: a patch naming only muted, state and a null playing_since
	var p TakePatch
	if err := json.Unmarshal([]byte(`{"id":1,"muted":false,"state":"Finished","playing_since":null}`), &p); err != nil {
		t.Fatal(err)
	}

	tk.ApplyScalars(&p)

	// Then: present fields change, absent ones are untouched
	if tk.Muted || tk.State != StateFinished || tk.PlayingSince != nil {
		t.Errorf("take = %+v", *tk)
	}
	if tk.Name != "Verse" || tk.Kind != KindAudio || len(tk.AssociatedMidiTakes) != 1 {
		t.Errorf("absent fields changed: %+v", *tk)
	}
}

func TestTake_ApplyScalarsReplacesAssociations(t *testing.T) {
	tk := &Take{ID: 1, Kind: KindAudio, AssociatedMidiTakes: []int64{0, 2}}
	assoc := []int64{4}

	tk.ApplyScalars(&TakePatch{ID: ID(1), AssociatedMidiTakes: Some(assoc)})
	assoc[0] = 99

	if len(tk.AssociatedMidiTakes) != 1 || tk.AssociatedMidiTakes[0] != 4 {
		t.Errorf("AssociatedMidiTakes = %v, want [4] (copied, not aliased)", tk.AssociatedMidiTakes)
	}
}

func TestRequireComplete(t *testing.T) {
	const fullTake = `{"id":0,"name":"T","type":"Midi","state":"Finished","muted":true,` +
		`"muted_scheduled":false,"associated_midi_takes":[],"playing_since":null,"duration":4}`
	const fullChain = `{"id":0,"name":"D_P","midi":true,"echo":false,"takes":[` + fullTake + `]}`

	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{"complete", `[{"id":0,"name":"D","chains":[` + fullChain + `]}]`, ""},
		{"empty", `[]`, ""},
		{"null collections", `[{"id":0,"name":"D","chains":null}]`, ""},
		{"synth without id", `[{"name":"D","chains":[]}]`, "synth[0]: id"},
		{"synth without name", `[{"id":0,"chains":[]}]`, "synth 0: name"},
		{"synth without chains", `[{"id":0,"name":"D"}]`, "synth 0: chains"},
	}

	chainFields := []string{"name", "midi", "echo", "takes"}
	for _, f := range chainFields {
		tests = append(tests, struct {
			name    string
			payload string
			wantErr string
		}{"chain without " + f, `[{"id":0,"name":"D","chains":[` + without(t, fullChain, f) + `]}]`, "chain 0: " + f})
	}

	takeFields := []string{"name", "type", "state", "muted", "muted_scheduled",
		"associated_midi_takes", "playing_since", "duration"}
	for _, f := range takeFields {
		chain := `{"id":0,"name":"D_P","midi":true,"echo":false,"takes":[` + without(t, fullTake, f) + `]}`
		tests = append(tests, struct {
			name    string
			payload string
			wantErr string
		}{"take without " + f, `[{"id":0,"name":"D","chains":[` + chain + `]}]`, "take 0: " + f})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var synths []SynthPatch
			if err := json.Unmarshal([]byte(tt.payload), &synths); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			err := RequireComplete(synths)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("RequireComplete() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrMissingProperty) {
				t.Fatalf("RequireComplete() error = %v, want ErrMissingProperty", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to name %q", err, tt.wantErr)
			}
		})
	}
}

// without returns the JSON object obj with key removed.
func without(t *testing.T, obj, key string) string {
	t.Helper()
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &m); err != nil {
		t.Fatalf("unmarshal %s: %v", obj, err)
	}
	if _, ok := m[key]; !ok {
		t.Fatalf("%s has no key %q", obj, key)
	}
	delete(m, key)
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestTree_LookupAndClone(t *testing.T) {
	dur := 4.0
	tree := Tree{Synths: []*Synth{{ID: 2, Name: "D", Chains: []*Chain{{
		ID: 5, Name: "D_P", SynthID: 2,
		Takes: []*Take{
			{ID: 0, Kind: KindMidi},
			{ID: 1, Kind: KindAudio, AssociatedMidiTakes: []int64{0}, Duration: &dur},
		},
	}}}}}

	if tree.Take(2, 5, 1) == nil || tree.Take(2, 6, 1) != nil || tree.Synth(9) != nil {
		t.Fatal("lookups resolved incorrectly")
	}
	if refs := tree.Chain(2, 5).AudioTakesReferencing(0); len(refs) != 1 || refs[0].ID != 1 {
		t.Errorf("AudioTakesReferencing(0) = %v", refs)
	}

	clone := tree.Clone()
	ct := clone.Take(2, 5, 1)
	ct.AssociatedMidiTakes[0] = 7
	*ct.Duration = 9
	clone.Chain(2, 5).Name = "changed"

	orig := tree.Take(2, 5, 1)
	if orig.AssociatedMidiTakes[0] != 0 || *orig.Duration != 4 || tree.Chain(2, 5).Name != "D_P" {
		t.Error("clone shares memory with the original tree")
	}
	if clone.Chain(2, 5).SynthID != 2 {
		t.Error("clone lost the chain's synth id")
	}
}

func TestSynthPatchOf_RoundTripsThroughRequireComplete(t *testing.T) {
	s := &Synth{ID: 1, Name: "D", Chains: []*Chain{{ID: 0, Name: "D_P", Takes: []*Take{{ID: 0, Kind: KindMidi}}}}}

	if err := RequireComplete([]SynthPatch{SynthPatchOf(s)}); err != nil {
		t.Errorf("RequireComplete(SynthPatchOf) error = %v", err)
	}
}

func TestSong_PositionAt(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var s Song
	if got := s.PositionAt(now); got != 0 {
		t.Errorf("PositionAt() with no transport = %v, want 0", got)
	}

	s.LoopLength = 4
	s.SetTransportPosition(3, now)
	if s.TransportPosition != 3 {
		t.Errorf("TransportPosition = %v, want 3", s.TransportPosition)
	}

	tests := []struct {
		after time.Duration
		want  float64
	}{
		{0, 3},
		{500 * time.Millisecond, 3.5},
		{1500 * time.Millisecond, 0.5},
		{5 * time.Second, 0},
	}
	for _, tt := range tests {
		if got := s.PositionAt(now.Add(tt.after)); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("PositionAt(+%v) = %v, want %v", tt.after, got, tt.want)
		}
	}
}
