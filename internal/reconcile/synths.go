package reconcile

import (
	"fmt"

	"github.com/hyperengineering/looper/internal/model"
)

// Synths validates and applies a synths delta to the tree. Validation covers
// every nesting level before anything is mutated, so a malformed delta
// leaves the tree untouched.
func Synths(tree *model.Tree, patches []model.SynthPatch) error {
	if err := Validate(patches); err != nil {
		return err
	}
	return Apply(&tree.Synths, patches, synthLevel)
}

// Chains applies a chains delta to a single synth.
func Chains(s *model.Synth, patches []model.ChainPatch) error {
	if err := validateChains(patches); err != nil {
		return err
	}
	return Apply(&s.Chains, patches, chainLevel(s.ID))
}

// Takes applies a takes delta to a single chain.
func Takes(c *model.Chain, patches []model.TakePatch) error {
	if err := validateTakes(patches); err != nil {
		return err
	}
	return Apply(&c.Takes, patches, takeLevel(c.ID))
}

// Validate checks that every patch at every level carries an id.
func Validate(patches []model.SynthPatch) error {
	for i := range patches {
		p := &patches[i]
		if p.ID == nil {
			return fmt.Errorf("synths[%d]: %w", i, model.ErrMissingID)
		}
		if err := validateChains(p.Chains.Value); err != nil {
			return fmt.Errorf("synth %d: %w", *p.ID, err)
		}
	}
	return nil
}

func validateChains(patches []model.ChainPatch) error {
	for i := range patches {
		p := &patches[i]
		if p.ID == nil {
			return fmt.Errorf("chains[%d]: %w", i, model.ErrMissingID)
		}
		if err := validateTakes(p.Takes.Value); err != nil {
			return fmt.Errorf("chain %d: %w", *p.ID, err)
		}
	}
	return nil
}

func validateTakes(patches []model.TakePatch) error {
	for i := range patches {
		if patches[i].ID == nil {
			return fmt.Errorf("takes[%d]: %w", i, model.ErrMissingID)
		}
	}
	return nil
}

func idOf(id *int64) (int64, bool) {
	if id == nil {
		return 0, false
	}
	return *id, true
}

var synthLevel = Level[model.Synth, model.SynthPatch]{
	Name:     "synths",
	EntityID: func(s *model.Synth) int64 { return s.ID },
	PatchID:  func(p *model.SynthPatch) (int64, bool) { return idOf(p.ID) },
	IsDelete: (*model.SynthPatch).IsDelete,
	New: func(id int64) *model.Synth {
		return &model.Synth{ID: id, Chains: []*model.Chain{}}
	},
	Merge: func(s *model.Synth, p *model.SynthPatch) error {
		s.ApplyScalars(p)
		if p.Chains.Set {
			return Apply(&s.Chains, p.Chains.Value, chainLevel(s.ID))
		}
		return nil
	},
}

func chainLevel(synthID int64) Level[model.Chain, model.ChainPatch] {
	return Level[model.Chain, model.ChainPatch]{
		Name:     "chains",
		EntityID: func(c *model.Chain) int64 { return c.ID },
		PatchID:  func(p *model.ChainPatch) (int64, bool) { return idOf(p.ID) },
		IsDelete: (*model.ChainPatch).IsDelete,
		New: func(id int64) *model.Chain {
			return &model.Chain{ID: id, SynthID: synthID, Takes: []*model.Take{}}
		},
		Merge: func(c *model.Chain, p *model.ChainPatch) error {
			c.ApplyScalars(p)
			if p.Takes.Set {
				return Apply(&c.Takes, p.Takes.Value, takeLevel(c.ID))
			}
			return nil
		},
		OnInsert: func(c *model.Chain) { c.Selected = false },
	}
}

func takeLevel(chainID int64) Level[model.Take, model.TakePatch] {
	return Level[model.Take, model.TakePatch]{
		Name:     "takes",
		EntityID: func(t *model.Take) int64 { return t.ID },
		PatchID:  func(p *model.TakePatch) (int64, bool) { return idOf(p.ID) },
		IsDelete: (*model.TakePatch).IsDelete,
		New: func(id int64) *model.Take {
			return &model.Take{ID: id, ChainID: chainID, AssociatedMidiTakes: []int64{}}
		},
		Merge: func(t *model.Take, p *model.TakePatch) error {
			t.ApplyScalars(p)
			return nil
		},
		OnInsert: func(t *model.Take) { t.Selected = false },
	}
}
