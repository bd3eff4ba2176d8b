// Package reconcile merges ordered lists of sparse, identity-keyed patches
// into ordered entity collections.
//
// For each patch, keyed by id:
//   - a delete removes the matching entity, and is a no-op when none matches;
//   - an unknown id inserts a new entity, appended after its siblings;
//   - a known id copies only the fields present in the patch.
//
// Applying the same patch list twice leaves the collection as applying it once.
package reconcile

import (
	"fmt"
	"slices"

	"github.com/hyperengineering/looper/internal/model"
)

// Level describes one level of the tree to Apply.
type Level[E any, P any] struct {
	// Name labels the collection in errors, e.g. "chains".
	Name string

	EntityID func(e *E) int64
	PatchID  func(p *P) (int64, bool)
	IsDelete func(p *P) bool

	// New constructs an entity seeded with only its id and empty nested
	// collections.
	New func(id int64) *E

	// Merge copies the present scalar fields of p onto e and reconciles any
	// nested collections p supplies.
	Merge func(e *E, p *P) error

	// OnInsert applies defaults to newly created entities only. May be nil.
	OnInsert func(e *E)
}

// Apply reconciles patches into target in order. It fails fast on a patch
// without an id; patches before the failing one remain applied, so callers
// that need all-or-nothing behaviour validate first (see Synths).
func Apply[E any, P any](target *[]*E, patches []P, lvl Level[E, P]) error {
	for i := range patches {
		p := &patches[i]
		id, ok := lvl.PatchID(p)
		if !ok {
			return fmt.Errorf("%s[%d]: %w", lvl.Name, i, model.ErrMissingID)
		}

		idx := slices.IndexFunc(*target, func(e *E) bool { return lvl.EntityID(e) == id })

		if lvl.IsDelete(p) {
			if idx >= 0 {
				*target = slices.Delete(*target, idx, idx+1)
			}
			continue
		}

		if idx >= 0 {
			if err := lvl.Merge((*target)[idx], p); err != nil {
				return fmt.Errorf("%s %d: %w", lvl.Name, id, err)
			}
			continue
		}

		e := lvl.New(id)
		if err := lvl.Merge(e, p); err != nil {
			return fmt.Errorf("%s %d: %w", lvl.Name, id, err)
		}
		if lvl.OnInsert != nil {
			lvl.OnInsert(e)
		}
		*target = append(*target, e)
	}
	return nil
}
