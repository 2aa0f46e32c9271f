// Package strategy provides the built-in opponent policies and the registry
// that resolves an experiment's strategy identifier into a live opponent.
package strategy

import (
	"math/rand"
	"time"

	"explab/dilemma"
)

// Built-in strategy identifiers, used as experiment configuration values.
const (
	TitForTat       = "TitForTat"
	AlwaysCooperate = "AlwaysCooperate"
	AlwaysDefect    = "AlwaysDefect"
	GrimTrigger     = "GrimTrigger"
	Random          = "Random"
)

// Options carries per-session tuning shared by all strategy constructors.
// Initial is the opponent's first move for history-reactive strategies; the
// constant strategies ignore it. Seed feeds stochastic strategies (0 =>
// time-based).
type Options struct {
	Initial dilemma.Decision
	Seed    int64
}

type titForTat struct {
	initial dilemma.Decision
}

func (s titForTat) Name() string { return TitForTat }

// Decide returns the configured initial move on an empty history, otherwise
// the participant's immediately preceding move.
func (s titForTat) Decide(history []dilemma.Decision) dilemma.Decision {
	if len(history) == 0 {
		return s.initial
	}
	return history[len(history)-1]
}

type alwaysCooperate struct{}

func (alwaysCooperate) Name() string { return AlwaysCooperate }

func (alwaysCooperate) Decide(_ []dilemma.Decision) dilemma.Decision {
	return dilemma.DecisionCooperate
}

type alwaysDefect struct{}

func (alwaysDefect) Name() string { return AlwaysDefect }

func (alwaysDefect) Decide(_ []dilemma.Decision) dilemma.Decision {
	return dilemma.DecisionDefect
}

// grimTrigger plays the initial move until the participant defects once, then
// defects forever.
type grimTrigger struct {
	initial dilemma.Decision
}

func (s grimTrigger) Name() string { return GrimTrigger }

func (s grimTrigger) Decide(history []dilemma.Decision) dilemma.Decision {
	for _, move := range history {
		if move == dilemma.DecisionDefect {
			return dilemma.DecisionDefect
		}
	}
	if len(history) == 0 {
		return s.initial
	}
	return dilemma.DecisionCooperate
}

// random flips a seeded coin each round, ignoring history.
type random struct {
	rng *rand.Rand
}

func newRandom(seed int64) *random {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &random{rng: rand.New(rand.NewSource(seed))}
}

func (s *random) Name() string { return Random }

func (s *random) Decide(_ []dilemma.Decision) dilemma.Decision {
	if s.rng.Intn(2) == 0 {
		return dilemma.DecisionCooperate
	}
	return dilemma.DecisionDefect
}
