package studio

import (
	"context"
	"fmt"

	"github.com/hyperengineering/looper/internal/model"
	"github.com/hyperengineering/looper/internal/reconcile"
)

// Patches are applied in two phases: every id is checked and every patch is
// reduced to the fields clients may change, then the whole batch is merged.
// A batch naming an unknown id changes nothing.

// PatchSynths applies a batch of synth patches.
func (s *Studio) PatchSynths(ctx context.Context, clientID string, patches []model.SynthPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clean, err := s.checkSynths(patches)
	if err != nil {
		return err
	}
	if err := reconcile.Synths(&s.tree, clean); err != nil {
		return fmt.Errorf("apply synth patch: %w", err)
	}
	return s.publish(ctx, clientID, synthsAction(clean...))
}

// PatchChains applies a batch of chain patches within one synth.
func (s *Studio) PatchChains(ctx context.Context, clientID string, synthID int64, patches []model.ChainPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	syn, err := s.lookupSynth(synthID)
	if err != nil {
		return err
	}
	clean, err := checkChains(syn, patches)
	if err != nil {
		return err
	}
	if err := reconcile.Chains(syn, clean); err != nil {
		return fmt.Errorf("apply chain patch: %w", err)
	}
	return s.publish(ctx, clientID, synthsAction(model.SynthPatch{
		ID:     model.ID(synthID),
		Chains: model.Some(clean),
	}))
}

// PatchTakes applies a batch of take patches within one chain.
func (s *Studio) PatchTakes(ctx context.Context, clientID string, synthID, chainID int64, patches []model.TakePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, c, err := s.lookupChain(synthID, chainID)
	if err != nil {
		return err
	}
	clean, err := checkTakes(c, patches)
	if err != nil {
		return err
	}
	if err := reconcile.Takes(c, clean); err != nil {
		return fmt.Errorf("apply take patch: %w", err)
	}
	return s.publish(ctx, clientID, synthsAction(model.SynthPatch{
		ID: model.ID(synthID),
		Chains: model.Some([]model.ChainPatch{{
			ID:    model.ID(chainID),
			Takes: model.Some(clean),
		}}),
	}))
}

func (s *Studio) checkSynths(patches []model.SynthPatch) ([]model.SynthPatch, error) {
	clean := make([]model.SynthPatch, 0, len(patches))
	for i := range patches {
		p := &patches[i]
		id, err := patchID(p.ID, p.IsDelete(), "synth", i)
		if err != nil {
			return nil, err
		}
		syn := s.tree.Synth(id)
		if syn == nil {
			return nil, fmt.Errorf("synth %d: %w", id, ErrUnknownID)
		}
		out := model.SynthPatch{ID: model.ID(id), Name: p.Name}
		if p.Chains.Set {
			chains, err := checkChains(syn, p.Chains.Value)
			if err != nil {
				return nil, err
			}
			out.Chains = model.Some(chains)
		}
		clean = append(clean, out)
	}
	return clean, nil
}

func checkChains(syn *model.Synth, patches []model.ChainPatch) ([]model.ChainPatch, error) {
	clean := make([]model.ChainPatch, 0, len(patches))
	for i := range patches {
		p := &patches[i]
		id, err := patchID(p.ID, p.IsDelete(), "chain", i)
		if err != nil {
			return nil, err
		}
		c := syn.Chain(id)
		if c == nil {
			return nil, fmt.Errorf("chain %d/%d: %w", syn.ID, id, ErrUnknownID)
		}
		out := model.ChainPatch{ID: model.ID(id), Name: p.Name, Echo: p.Echo}
		if p.Takes.Set {
			takes, err := checkTakes(c, p.Takes.Value)
			if err != nil {
				return nil, err
			}
			out.Takes = model.Some(takes)
		}
		clean = append(clean, out)
	}
	return clean, nil
}

func checkTakes(c *model.Chain, patches []model.TakePatch) ([]model.TakePatch, error) {
	clean := make([]model.TakePatch, 0, len(patches))
	for i := range patches {
		p := &patches[i]
		id, err := patchID(p.ID, p.IsDelete(), "take", i)
		if err != nil {
			return nil, err
		}
		if c.Take(id) == nil {
			return nil, fmt.Errorf("take %d/%d: %w", c.ID, id, ErrUnknownID)
		}
		if assoc, ok := p.AssociatedMidiTakes.Get(); ok {
			for _, midiID := range assoc {
				if m := c.Take(midiID); m == nil || !m.IsMidi() {
					return nil, fmt.Errorf("take %d: associated MIDI take %d: %w", id, midiID, ErrUnknownID)
				}
			}
		}
		clean = append(clean, model.TakePatch{
			ID:                  model.ID(id),
			Name:                p.Name,
			Muted:               p.Muted,
			MutedScheduled:      p.MutedScheduled,
			AssociatedMidiTakes: p.AssociatedMidiTakes,
		})
	}
	return clean, nil
}

func patchID(id *int64, del bool, kind string, i int) (int64, error) {
	if id == nil {
		return 0, fmt.Errorf("%s[%d]: %w: %w", kind, i, ErrInvalid, model.ErrMissingID)
	}
	if del {
		return 0, fmt.Errorf("%s %d: delete is not supported: %w", kind, *id, ErrInvalid)
	}
	return *id, nil
}
