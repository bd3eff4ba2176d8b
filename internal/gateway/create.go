package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hyperengineering/looper/internal/model"
	"github.com/hyperengineering/looper/internal/reconcile"
	"github.com/hyperengineering/looper/internal/replica"
)

// CreateSynth adds a synth. A placeholder shows up in the replica at once;
// it is replaced by the server's object once the create is confirmed, or
// removed with an alert if it is not. Returns the confirmed id.
func (g *Gateway) CreateSynth(ctx context.Context, name string) (int64, error) {
	ph := g.nextPlaceholder()
	err := g.replica.Update(func(st *replica.State) error {
		return reconcile.Synths(&st.Tree, []model.SynthPatch{{
			ID:     model.ID(ph),
			Name:   model.Some(name),
			Chains: model.Some([]model.ChainPatch{}),
		}})
	})
	if err != nil {
		return 0, err
	}

	var full model.SynthPatch
	err = g.confirm(ctx, func(ctx context.Context) (string, error) {
		return g.api.CreateSynth(ctx, name)
	}, &full)
	if err == nil {
		err = requireID(full.ID)
	}
	if err != nil {
		g.replica.Update(func(st *replica.State) error {
			return reconcile.Synths(&st.Tree, []model.SynthPatch{{ID: model.ID(ph), Delete: true}})
		})
		return 0, g.fail("synth", name, err)
	}

	id := *full.ID
	err = g.replica.Update(func(st *replica.State) error {
		promote(&st.Tree.Synths, func(s *model.Synth) *int64 { return &s.ID }, ph, id)
		return reconcile.Synths(&st.Tree, []model.SynthPatch{full})
	})
	return id, err
}

// CreateChain adds a chain to a synth. See CreateSynth.
func (g *Gateway) CreateChain(ctx context.Context, synthID int64, name string) (int64, error) {
	if err := confirmed(synthID); err != nil {
		return 0, err
	}

	ph := g.nextPlaceholder()
	err := g.replica.Update(func(st *replica.State) error {
		s := st.Tree.Synth(synthID)
		if s == nil {
			return fmt.Errorf("synth %d: %w", synthID, ErrNotFound)
		}
		return reconcile.Chains(s, []model.ChainPatch{{
			ID:    model.ID(ph),
			Name:  model.Some(name),
			Takes: model.Some([]model.TakePatch{}),
		}})
	})
	if err != nil {
		return 0, err
	}

	var full model.ChainPatch
	err = g.confirm(ctx, func(ctx context.Context) (string, error) {
		return g.api.CreateChain(ctx, synthID, name)
	}, &full)
	if err == nil {
		err = requireID(full.ID)
	}
	if err != nil {
		g.replica.Update(func(st *replica.State) error {
			if s := st.Tree.Synth(synthID); s != nil {
				return reconcile.Chains(s, []model.ChainPatch{{ID: model.ID(ph), Delete: true}})
			}
			return nil
		})
		return 0, g.fail("chain", name, err)
	}

	id := *full.ID
	err = g.replica.Update(func(st *replica.State) error {
		s := st.Tree.Synth(synthID)
		if s == nil {
			return fmt.Errorf("synth %d: %w", synthID, ErrNotFound)
		}
		promote(&s.Chains, func(c *model.Chain) *int64 { return &c.ID }, ph, id)
		return reconcile.Chains(s, []model.ChainPatch{full})
	})
	return id, err
}

// CreateTake adds a take to a chain. See CreateSynth. For an audio take the
// server also creates the MIDI take it records from; that one arrives through
// the update log.
func (g *Gateway) CreateTake(ctx context.Context, synthID, chainID int64, name string, kind model.TakeKind) (int64, error) {
	if err := confirmed(synthID, chainID); err != nil {
		return 0, err
	}

	ph := g.nextPlaceholder()
	err := g.replica.Update(func(st *replica.State) error {
		_, c, err := lookupChain(&st.Tree, synthID, chainID)
		if err != nil {
			return err
		}
		return reconcile.Takes(c, []model.TakePatch{{
			ID:   model.ID(ph),
			Name: model.Some(name),
			Type: model.Some(kind),
		}})
	})
	if err != nil {
		return 0, err
	}

	var full model.TakePatch
	err = g.confirm(ctx, func(ctx context.Context) (string, error) {
		return g.api.CreateTake(ctx, synthID, chainID, name, kind)
	}, &full)
	if err == nil {
		err = requireID(full.ID)
	}
	if err != nil {
		g.replica.Update(func(st *replica.State) error {
			if c := st.Tree.Chain(synthID, chainID); c != nil {
				return reconcile.Takes(c, []model.TakePatch{{ID: model.ID(ph), Delete: true}})
			}
			return nil
		})
		return 0, g.fail("take", name, err)
	}

	id := *full.ID
	err = g.replica.Update(func(st *replica.State) error {
		_, c, err := lookupChain(&st.Tree, synthID, chainID)
		if err != nil {
			return err
		}
		promote(&c.Takes, func(t *model.Take) *int64 { return &t.ID }, ph, id)
		return reconcile.Takes(c, []model.TakePatch{full})
	})
	return id, err
}

// confirm posts a create and fetches the object at the returned Location.
func (g *Gateway) confirm(ctx context.Context, post func(context.Context) (string, error), out any) error {
	location, err := post(ctx)
	if err != nil {
		return err
	}
	return g.api.FetchLocation(ctx, location, out)
}

func (g *Gateway) fail(kind, name string, err error) error {
	slog.Warn("create failed",
		"component", "gateway",
		"action", "create_"+kind,
		"name", name,
		"error", err,
	)
	g.alerter.Alert(fmt.Sprintf("Could not create %s %q: %v", kind, name, err))
	return fmt.Errorf("%w: %s %q: %w", ErrCreateFailed, kind, name, err)
}

// promote gives the placeholder its confirmed id in place. When the update
// log already delivered the confirmed entity, the placeholder is dropped.
func promote[E any](items *[]*E, id func(*E) *int64, placeholder, confirmed int64) {
	i := slices.IndexFunc(*items, func(e *E) bool { return *id(e) == placeholder })
	if i < 0 {
		return
	}
	if slices.ContainsFunc(*items, func(e *E) bool { return *id(e) == confirmed }) {
		*items = slices.Delete(*items, i, i+1)
		return
	}
	*id((*items)[i]) = confirmed
}

func requireID(id *int64) error {
	if id == nil {
		return fmt.Errorf("created object: id: %w", model.ErrMissingProperty)
	}
	return nil
}
