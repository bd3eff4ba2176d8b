package studio

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hyperengineering/looper/internal/model"
	loopsync "github.com/hyperengineering/looper/internal/sync"
)

// DefaultTakeName names takes posted without a name.
const DefaultTakeName = "Take"

// CreateSynth adds a synth with a name unique among synths.
func (s *Studio) CreateSynth(ctx context.Context, clientID, name string) (*model.Synth, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("synth name: %w", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	syn := &model.Synth{
		ID:     s.synthIDs.gen(),
		Name:   uniqueName(name, synthNames(s.tree.Synths)),
		Chains: []*model.Chain{},
	}
	s.tree.Synths = append(s.tree.Synths, syn)

	if err := s.publish(ctx, clientID, synthsAction(synthUpdate(syn))); err != nil {
		return nil, err
	}
	return cloneSynth(syn), nil
}

// CreateChain adds a chain to a synth. The chain is named after its synth
// and starts MIDI capable.
func (s *Studio) CreateChain(ctx context.Context, clientID string, synthID int64, name string) (*model.Chain, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("chain name: %w", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	syn, err := s.lookupSynth(synthID)
	if err != nil {
		return nil, err
	}

	c := &model.Chain{
		ID:      s.chainIDs.gen(),
		Name:    uniqueName(syn.Name+"_"+name, chainNames(syn.Chains)),
		Midi:    true,
		Takes:   []*model.Take{},
		SynthID: syn.ID,
	}
	syn.Chains = append(syn.Chains, c)

	if err := s.publish(ctx, clientID, synthsAction(chainUpdate(syn.ID, c))); err != nil {
		return nil, err
	}
	cc := *c
	return &cc, nil
}

// CreateTake adds a take to a chain. Every take records MIDI, so a MIDI
// take is always created. An audio take is then added on top, starting
// muted and associated with the new MIDI take plus every audible MIDI take
// already in the chain. Returns the take the caller asked for.
func (s *Studio) CreateTake(ctx context.Context, clientID string, synthID, chainID int64, name string, kind model.TakeKind) (*model.Take, error) {
	if kind != model.KindAudio && kind != model.KindMidi {
		return nil, fmt.Errorf("take type %q: %w", kind, ErrInvalid)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultTakeName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	syn, c, err := s.lookupChain(synthID, chainID)
	if err != nil {
		return nil, err
	}
	name = uniqueName(name, takeNames(c.Takes))

	midi := &model.Take{
		ID:                  s.takeIDs.gen(),
		Name:                name,
		Kind:                model.KindMidi,
		State:               model.StateWaiting,
		AssociatedMidiTakes: []int64{},
		ChainID:             c.ID,
	}
	c.Takes = append(c.Takes, midi)
	if err := s.publish(ctx, clientID, synthsAction(takeUpdate(syn.ID, c.ID, midi))); err != nil {
		return nil, err
	}

	if kind == model.KindMidi {
		return cloneTake(midi), nil
	}

	var assoc []int64
	for _, t := range c.Takes {
		if t.IsMidi() && t.IsAudible() {
			assoc = append(assoc, t.ID)
		}
	}
	assoc = append(assoc, midi.ID)

	audio := &model.Take{
		ID:                  s.takeIDs.gen(),
		Name:                name,
		Kind:                model.KindAudio,
		State:               model.StateWaiting,
		Muted:               true,
		AssociatedMidiTakes: assoc,
		ChainID:             c.ID,
	}
	c.Takes = append(c.Takes, audio)
	if err := s.publish(ctx, clientID, synthsAction(takeUpdate(syn.ID, c.ID, audio))); err != nil {
		return nil, err
	}
	return cloneTake(audio), nil
}

// uniqueName returns desired, or "desired N" for the smallest N >= 2 that is
// not taken.
func uniqueName(desired string, taken []string) string {
	if !slices.Contains(taken, desired) {
		return desired
	}
	for i := 2; ; i++ {
		name := fmt.Sprintf("%s %d", desired, i)
		if !slices.Contains(taken, name) {
			return name
		}
	}
}

func synthNames(synths []*model.Synth) []string {
	names := make([]string, 0, len(synths))
	for _, s := range synths {
		names = append(names, s.Name)
	}
	return names
}

func chainNames(chains []*model.Chain) []string {
	names := make([]string, 0, len(chains))
	for _, c := range chains {
		names = append(names, c.Name)
	}
	return names
}

func takeNames(takes []*model.Take) []string {
	names := make([]string, 0, len(takes))
	for _, t := range takes {
		names = append(names, t.Name)
	}
	return names
}

func synthsAction(patches ...model.SynthPatch) loopsync.Action {
	return loopsync.Action{Synths: model.Some(patches)}
}

// synthUpdate announces a synth by name. Its chains follow in their own
// updates.
func synthUpdate(syn *model.Synth) model.SynthPatch {
	return model.SynthPatch{ID: model.ID(syn.ID), Name: model.Some(syn.Name)}
}

func chainUpdate(synthID int64, c *model.Chain) model.SynthPatch {
	return model.SynthPatch{
		ID: model.ID(synthID),
		Chains: model.Some([]model.ChainPatch{{
			ID:   model.ID(c.ID),
			Name: model.Some(c.Name),
			Midi: model.Some(c.Midi),
			Echo: model.Some(c.Echo),
		}}),
	}
}

func takeUpdate(synthID, chainID int64, t *model.Take) model.SynthPatch {
	return model.SynthPatch{
		ID: model.ID(synthID),
		Chains: model.Some([]model.ChainPatch{{
			ID:    model.ID(chainID),
			Takes: model.Some([]model.TakePatch{model.TakePatchOf(t)}),
		}}),
	}
}

func cloneSynth(syn *model.Synth) *model.Synth {
	tree := model.Tree{Synths: []*model.Synth{syn}}
	return tree.Clone().Synths[0]
}

func cloneTake(t *model.Take) *model.Take {
	tc := *t
	tc.AssociatedMidiTakes = slices.Clone(t.AssociatedMidiTakes)
	return &tc
}
