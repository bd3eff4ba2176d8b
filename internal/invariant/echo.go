package invariant

import (
	"fmt"
	"log/slog"

	"github.com/hyperengineering/looper/internal/model"
)

// SetChainEcho sets the chain's echo flag. Enabling echo clears it on every
// sibling first. The batch covers every chain of the synth with its resulting
// value, since the server is not assumed to enforce exclusivity itself.
func SetChainEcho(s *model.Synth, c *model.Chain, echo bool) ([]model.ChainPatch, error) {
	if s.Chain(c.ID) != c {
		return nil, fmt.Errorf("chain %d in synth %d: %w", c.ID, s.ID, ErrNotInSynth)
	}

	if echo {
		for _, sibling := range s.Chains {
			sibling.Echo = false
		}
	}
	c.Echo = echo

	batch := make([]model.ChainPatch, 0, len(s.Chains))
	for _, chain := range s.Chains {
		batch = append(batch, model.ChainPatch{ID: model.ID(chain.ID), Echo: model.Some(chain.Echo)})
	}
	return batch, nil
}

// EchoChains returns the ids of the synth's chains with echo set.
func EchoChains(s *model.Synth) []int64 {
	var ids []int64
	for _, c := range s.Chains {
		if c.Echo {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// RepairEcho restores echo exclusivity after an inbound delta left more than
// one echo chain in s. The preferred chain keeps echo when it has it;
// otherwise the last echo chain in order does. Returns the ids cleared.
// The repair is local only; the next delta from the server supersedes it.
func RepairEcho(s *model.Synth, preferred int64) []int64 {
	echoes := EchoChains(s)
	if len(echoes) <= 1 {
		return nil
	}

	keep := echoes[len(echoes)-1]
	for _, id := range echoes {
		if id == preferred {
			keep = preferred
		}
	}

	var cleared []int64
	for _, c := range s.Chains {
		if c.Echo && c.ID != keep {
			c.Echo = false
			cleared = append(cleared, c.ID)
		}
	}

	slog.Warn("echo exclusivity repaired",
		"component", "invariant",
		"action", "echo_repair",
		"synth_id", s.ID,
		"kept", keep,
		"cleared", cleared,
	)
	return cleared
}
