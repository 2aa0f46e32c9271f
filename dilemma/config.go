package dilemma

import (
	"fmt"
	"strings"
)

// Config is the immutable per-experiment configuration. It is loaded once at
// session start and never mutated afterwards.
type Config struct {
	// Number of rounds in one session
	TotalRounds int

	// Payoff matrix applied to every round
	Matrix Matrix

	// Opponent strategy identifier (resolved against a strategy registry)
	Strategy string

	// Opponent's first move for strategies that react to history
	OpponentInitial Decision
}

func (c Config) validate() error {
	if c.TotalRounds <= 0 {
		return fmt.Errorf("TotalRounds must be > 0")
	}
	if strings.TrimSpace(c.Strategy) == "" {
		return fmt.Errorf("Strategy must not be empty")
	}
	if !c.OpponentInitial.Valid() {
		return fmt.Errorf("invalid OpponentInitial: %d", c.OpponentInitial)
	}
	return nil
}
