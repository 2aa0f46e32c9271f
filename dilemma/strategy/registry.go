package strategy

import (
	"errors"
	"fmt"
	"sort"

	"explab/dilemma"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

// Factory builds a fresh opponent for one session.
type Factory func(opts Options) dilemma.Opponent

// Registry maps strategy identifiers to factories. It is built once at
// process start and handed to the session layer; resolution of an unknown
// identifier fails at session-start time, never mid-round.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry preloaded with the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(TitForTat, func(opts Options) dilemma.Opponent {
		return titForTat{initial: opts.Initial}
	})
	r.Register(AlwaysCooperate, func(Options) dilemma.Opponent {
		return alwaysCooperate{}
	})
	r.Register(AlwaysDefect, func(Options) dilemma.Opponent {
		return alwaysDefect{}
	})
	r.Register(GrimTrigger, func(opts Options) dilemma.Opponent {
		return grimTrigger{initial: opts.Initial}
	})
	r.Register(Random, func(opts Options) dilemma.Opponent {
		return newRandom(opts.Seed)
	})
	return r
}

// Register installs a factory under id, overwriting any previous entry.
// Call during startup only; the registry is not locked.
func (r *Registry) Register(id string, f Factory) {
	r.factories[id] = f
}

// New resolves id into a live opponent.
func (r *Registry) New(id string, opts Options) (dilemma.Opponent, error) {
	f, ok := r.factories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, id)
	}
	return f(opts), nil
}

// IDs returns the registered identifiers in stable order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
