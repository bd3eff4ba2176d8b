package reconcile

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/hyperengineering/looper/internal/model"
)

func decodeSynths(t *testing.T, raw string) []model.SynthPatch {
	t.Helper()
	var patches []model.SynthPatch
	if err := json.Unmarshal([]byte(raw), &patches); err != nil {
		t.Fatalf("decode patches: %v", err)
	}
	return patches
}

const fullTree = `[
	{"id": 1, "name": "Deepmind", "chains": [
		{"id": 10, "name": "Pad", "midi": true, "echo": false, "takes": [
			{"id": 100, "name": "Flausch", "type": "Audio", "state": "Finished", "muted": true,
			 "muted_scheduled": false, "associated_midi_takes": [101], "playing_since": 1.5, "duration": 8},
			{"id": 101, "name": "Flausch", "type": "Midi", "state": "Finished", "muted": true,
			 "muted_scheduled": false, "associated_midi_takes": [], "playing_since": null, "duration": null}
		]},
		{"id": 11, "name": "Lead", "midi": true, "echo": true, "takes": []}
	]},
	{"id": 2, "name": "Guitar", "chains": []}
]`

func loadTree(t *testing.T) *model.Tree {
	t.Helper()
	tree := &model.Tree{}
	if err := Synths(tree, decodeSynths(t, fullTree)); err != nil {
		t.Fatalf("Synths() error = %v", err)
	}
	return tree
}

func TestSynths_BuildsNestedTree(t *testing.T) {
	tree := loadTree(t)

	if len(tree.Synths) != 2 {
		t.Fatalf("len(Synths) = %d, want 2", len(tree.Synths))
	}
	pad := tree.Chain(1, 10)
	if pad == nil {
		t.Fatal("chain 10 not found")
	}
	if pad.SynthID != 1 {
		t.Errorf("chain SynthID = %d, want 1", pad.SynthID)
	}
	audio := pad.Take(100)
	if audio == nil || audio.Kind != model.KindAudio {
		t.Fatalf("take 100 = %+v, want audio take", audio)
	}
	if audio.ChainID != 10 {
		t.Errorf("take ChainID = %d, want 10", audio.ChainID)
	}
	if audio.PlayingSince == nil || *audio.PlayingSince != 1.5 {
		t.Errorf("PlayingSince = %v, want 1.5", audio.PlayingSince)
	}
	if !reflect.DeepEqual(audio.AssociatedMidiTakes, []int64{101}) {
		t.Errorf("AssociatedMidiTakes = %v, want [101]", audio.AssociatedMidiTakes)
	}
	if midi := pad.Take(101); midi.PlayingSince != nil {
		t.Errorf("null playing_since decoded as %v", *midi.PlayingSince)
	}
}

func TestSynths_Idempotent(t *testing.T) {
	// Given: a loaded tree and a mixed delta
	tree := loadTree(t)
	delta := decodeSynths(t, `[
		{"id": 1, "name": "Deepmind 12", "chains": [
			{"id": 10, "takes": [{"id": 100, "muted": false}, {"id": 102, "name": "New", "type": "Midi"}]},
			{"id": 11, "delete": true}
		]},
		{"id": 7, "delete": true}
	]`)

	// When: applied once and then again
	if err := Synths(tree, delta); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	once := tree.Clone()
	if err := Synths(tree, delta); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	// Then: the second pass changes nothing
	if !reflect.DeepEqual(once, tree.Clone()) {
		t.Error("second application changed the tree")
	}
}

func TestSynths_DeleteAbsentIsNoOp(t *testing.T) {
	tree := loadTree(t)
	before := tree.Clone()

	err := Synths(tree, decodeSynths(t, `[{"id": 99, "delete": true}, {"id": 1, "chains": [{"id": 55, "deleted": true}]}]`))
	if err != nil {
		t.Fatalf("delete of absent ids returned error: %v", err)
	}
	if !reflect.DeepEqual(before, tree.Clone()) {
		t.Error("delete of absent ids changed the tree")
	}
}

func TestSynths_DeleteRemovesEntity(t *testing.T) {
	tree := loadTree(t)

	if err := Synths(tree, decodeSynths(t, `[{"id": 1, "chains": [{"id": 10, "takes": [{"id": 101, "deleted": true}]}]}]`)); err != nil {
		t.Fatalf("Synths() error = %v", err)
	}
	if tree.Take(1, 10, 101) != nil {
		t.Error("take 101 still present after delete")
	}
	if tree.Take(1, 10, 100) == nil {
		t.Error("sibling take 100 removed")
	}
}

func TestSynths_InsertUnknownID(t *testing.T) {
	// Given: a tree without synth 3
	tree := loadTree(t)

	// When: a patch references synth 3 with only a name and one chain
	err := Synths(tree, decodeSynths(t, `[{"id": 3, "name": "Bass", "chains": [{"id": 30, "echo": true}]}]`))
	if err != nil {
		t.Fatalf("Synths() error = %v", err)
	}

	// Then: it is appended with only the patched fields and defaults
	last := tree.Synths[len(tree.Synths)-1]
	if last.ID != 3 || last.Name != "Bass" {
		t.Fatalf("appended synth = %+v, want id 3 named Bass", last)
	}
	c := last.Chain(30)
	if c == nil {
		t.Fatal("nested chain not inserted")
	}
	if c.Name != "" || c.Midi || !c.Echo || c.Selected {
		t.Errorf("inserted chain = %+v, want only echo set", c)
	}
	if c.Takes == nil {
		t.Error("nested takes collection not seeded")
	}
}

func TestSynths_SparseMerge(t *testing.T) {
	tree := loadTree(t)
	take := tree.Take(1, 10, 100)
	take.Selected = true

	if err := Synths(tree, decodeSynths(t, `[{"id": 1, "chains": [{"id": 10, "takes": [{"id": 100, "state": "Playing"}]}]}]`)); err != nil {
		t.Fatalf("Synths() error = %v", err)
	}

	if take.State != "Playing" {
		t.Errorf("State = %q, want Playing", take.State)
	}
	if take.Name != "Flausch" || !take.Muted || !take.Selected {
		t.Errorf("unmentioned fields changed: %+v", take)
	}
	if take.Duration == nil || *take.Duration != 8 {
		t.Errorf("Duration = %v, want 8", take.Duration)
	}
	if tree.Synth(1).Name != "Deepmind" {
		t.Errorf("synth name changed to %q", tree.Synth(1).Name)
	}
}

func TestSynths_NullClearsNullableField(t *testing.T) {
	tree := loadTree(t)

	if err := Synths(tree, decodeSynths(t, `[{"id": 1, "chains": [{"id": 10, "takes": [{"id": 100, "playing_since": null}]}]}]`)); err != nil {
		t.Fatalf("Synths() error = %v", err)
	}
	take := tree.Take(1, 10, 100)
	if take.PlayingSince != nil {
		t.Errorf("PlayingSince = %v, want nil", *take.PlayingSince)
	}
	if take.Duration == nil {
		t.Error("absent duration was cleared")
	}
}

func TestSynths_PreservesSiblingOrder(t *testing.T) {
	tree := loadTree(t)

	if err := Synths(tree, decodeSynths(t, `[{"id": 2, "name": "Guitar 2"}, {"id": 0, "name": "Drums"}, {"id": 1, "name": "DM"}]`)); err != nil {
		t.Fatalf("Synths() error = %v", err)
	}

	var ids []int64
	for _, s := range tree.Synths {
		ids = append(ids, s.ID)
	}
	if !reflect.DeepEqual(ids, []int64{1, 2, 0}) {
		t.Errorf("order = %v, want [1 2 0]", ids)
	}
}

func TestSynths_MissingIDFailsWithoutMutation(t *testing.T) {
	tree := loadTree(t)
	before := tree.Clone()

	err := Synths(tree, decodeSynths(t, `[{"id": 1, "name": "changed"}, {"id": 2, "chains": [{"name": "no id"}]}]`))
	if !errors.Is(err, model.ErrMissingID) {
		t.Fatalf("error = %v, want ErrMissingID", err)
	}
	if !reflect.DeepEqual(before, tree.Clone()) {
		t.Error("tree mutated by a malformed delta")
	}
}

func TestApply_MissingIDFailsFast(t *testing.T) {
	var takes []*model.Take
	err := Apply(&takes, []model.TakePatch{{Name: model.Some("x")}}, takeLevel(1))
	if !errors.Is(err, model.ErrMissingID) {
		t.Fatalf("error = %v, want ErrMissingID", err)
	}
	if len(takes) != 0 {
		t.Errorf("len(takes) = %d, want 0", len(takes))
	}
}

func TestTakes_ReplacesAssociationList(t *testing.T) {
	tree := loadTree(t)
	chain := tree.Chain(1, 10)

	err := Takes(chain, []model.TakePatch{{ID: model.ID(100), AssociatedMidiTakes: model.Some([]int64{101, 102})}})
	if err != nil {
		t.Fatalf("Takes() error = %v", err)
	}
	if got := chain.Take(100).AssociatedMidiTakes; !reflect.DeepEqual(got, []int64{101, 102}) {
		t.Errorf("AssociatedMidiTakes = %v, want [101 102]", got)
	}
}
