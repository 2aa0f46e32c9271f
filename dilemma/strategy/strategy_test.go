package strategy

import (
	"errors"
	"testing"
	"time"

	"explab/dilemma"
)

func TestTitForTatFirstMoveUsesConfiguredInitial(t *testing.T) {
	reg := NewRegistry()

	opp, err := reg.New(TitForTat, Options{Initial: dilemma.DecisionCooperate})
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	if got := opp.Decide(nil); got != dilemma.DecisionCooperate {
		t.Fatalf("empty history: got %s, want cooperate", got)
	}

	opp, err = reg.New(TitForTat, Options{Initial: dilemma.DecisionDefect})
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	if got := opp.Decide(nil); got != dilemma.DecisionDefect {
		t.Fatalf("empty history with defect override: got %s", got)
	}
}

func TestTitForTatEchoesPreviousMove(t *testing.T) {
	opp := titForTat{initial: dilemma.DecisionCooperate}
	history := []dilemma.Decision{dilemma.DecisionCooperate, dilemma.DecisionDefect}
	if got := opp.Decide(history); got != dilemma.DecisionDefect {
		t.Fatalf("got %s, want defect (previous participant move)", got)
	}
	history = append(history, dilemma.DecisionCooperate)
	if got := opp.Decide(history); got != dilemma.DecisionCooperate {
		t.Fatalf("got %s, want cooperate", got)
	}
}

func TestConstantStrategiesIgnoreHistory(t *testing.T) {
	history := []dilemma.Decision{dilemma.DecisionDefect, dilemma.DecisionDefect}
	if got := (alwaysCooperate{}).Decide(history); got != dilemma.DecisionCooperate {
		t.Fatalf("AlwaysCooperate returned %s", got)
	}
	if got := (alwaysDefect{}).Decide(nil); got != dilemma.DecisionDefect {
		t.Fatalf("AlwaysDefect returned %s", got)
	}
}

func TestGrimTriggerNeverForgives(t *testing.T) {
	opp := grimTrigger{initial: dilemma.DecisionCooperate}
	if got := opp.Decide(nil); got != dilemma.DecisionCooperate {
		t.Fatalf("first move %s, want cooperate", got)
	}
	clean := []dilemma.Decision{dilemma.DecisionCooperate, dilemma.DecisionCooperate}
	if got := opp.Decide(clean); got != dilemma.DecisionCooperate {
		t.Fatalf("clean history: got %s", got)
	}
	burned := []dilemma.Decision{dilemma.DecisionCooperate, dilemma.DecisionDefect, dilemma.DecisionCooperate}
	if got := opp.Decide(burned); got != dilemma.DecisionDefect {
		t.Fatalf("after a defection: got %s, want defect", got)
	}
}

func TestRandomIsSeedDeterministic(t *testing.T) {
	a := newRandom(42)
	b := newRandom(42)
	for i := 0; i < 32; i++ {
		if a.Decide(nil) != b.Decide(nil) {
			t.Fatalf("same seed diverged at move %d", i)
		}
	}
}

func TestRegistryRejectsUnknownStrategy(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.New("MindReader", Options{}); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestRegistryAcceptsCustomStrategy(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Pavlov", func(opts Options) dilemma.Opponent {
		return titForTat{initial: opts.Initial}
	})
	opp, err := reg.New("Pavlov", Options{Initial: dilemma.DecisionCooperate})
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	if opp == nil {
		t.Fatal("expected opponent instance")
	}
}

type recordingStore struct {
	persistCalls int
}

func (r *recordingStore) AppendRound(string, dilemma.RoundRecord) error { return nil }

func (r *recordingStore) PersistResult(_, _ int64, _ dilemma.Result) error {
	r.persistCalls++
	return nil
}

func (r *recordingStore) MarkParticipantComplete(int64, time.Time) error { return nil }

// End-to-end: the documented 3-round TitForTat scenario through the real
// session machinery.
func TestTitForTatSessionScenario(t *testing.T) {
	reg := NewRegistry()
	opp, err := reg.New(TitForTat, Options{Initial: dilemma.DecisionCooperate})
	if err != nil {
		t.Fatalf("New err: %v", err)
	}

	store := &recordingStore{}
	sess, err := dilemma.NewSession("sess_tft", 1, 1, dilemma.Config{
		TotalRounds:     3,
		Matrix:          dilemma.ClassicMatrix(),
		Strategy:        TitForTat,
		OpponentInitial: dilemma.DecisionCooperate,
	}, opp, store)
	if err != nil {
		t.Fatalf("NewSession err: %v", err)
	}
	if err := sess.Start(); err != nil {
		t.Fatalf("Start err: %v", err)
	}

	moves := []dilemma.Decision{dilemma.DecisionCooperate, dilemma.DecisionDefect, dilemma.DecisionCooperate}
	wantOpp := []dilemma.Decision{dilemma.DecisionCooperate, dilemma.DecisionCooperate, dilemma.DecisionDefect}
	for i, move := range moves {
		rec, _, err := sess.SubmitDecision(move)
		if err != nil {
			t.Fatalf("round %d err: %v", i+1, err)
		}
		if rec.Opponent != wantOpp[i] {
			t.Fatalf("round %d opponent %s, want %s", i+1, rec.Opponent, wantOpp[i])
		}
	}

	res, ok := sess.Result()
	if !ok {
		t.Fatal("expected result")
	}
	if res.ParticipantTotal != 8 || res.OpponentTotal != 8 {
		t.Fatalf("aggregate (%d,%d), want (8,8)", res.ParticipantTotal, res.OpponentTotal)
	}
	if store.persistCalls != 1 {
		t.Fatalf("persist calls %d, want 1", store.persistCalls)
	}
}
