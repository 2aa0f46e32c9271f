package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"explab/dilemma"
)

func testExperiment(name string) Experiment {
	return Experiment{
		Name:   name,
		Config: dilemma.Config{TotalRounds: 3, Matrix: dilemma.ClassicMatrix(), Strategy: "tit_for_tat"},
		Active: true,
	}
}

func TestExperimentLifecycle(t *testing.T) {
	s := NewMemoryService()
	ctx := context.Background()

	id, err := s.CreateExperiment(ctx, testExperiment("study-a"))
	if err != nil {
		t.Fatalf("create err: %v", err)
	}
	exp, err := s.GetExperiment(ctx, id)
	if err != nil {
		t.Fatalf("get err: %v", err)
	}
	if exp.Name != "study-a" || !exp.Active {
		t.Fatalf("unexpected experiment %+v", exp)
	}
	if exp.Config.TotalRounds != 3 {
		t.Fatalf("config lost: %+v", exp.Config)
	}

	if err := s.SetExperimentActive(ctx, id, false); err != nil {
		t.Fatalf("deactivate err: %v", err)
	}
	exp, _ = s.GetExperiment(ctx, id)
	if exp.Active {
		t.Fatal("experiment still active after deactivation")
	}

	if _, err := s.GetExperiment(ctx, 999); !errors.Is(err, ErrExperimentNotFound) {
		t.Fatalf("expected ErrExperimentNotFound, got %v", err)
	}
	if err := s.SetExperimentActive(ctx, 999, true); !errors.Is(err, ErrExperimentNotFound) {
		t.Fatalf("expected ErrExperimentNotFound, got %v", err)
	}
}

func TestListExperimentsNewestFirst(t *testing.T) {
	s := NewMemoryService()
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		if _, err := s.CreateExperiment(ctx, testExperiment(name)); err != nil {
			t.Fatal(err)
		}
	}
	exps, err := s.ListExperiments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(exps) != 3 {
		t.Fatalf("listed %d experiments, want 3", len(exps))
	}
	if exps[0].Name != "third" || exps[2].Name != "first" {
		t.Fatalf("wrong order: %s .. %s", exps[0].Name, exps[2].Name)
	}
}

func TestParticipantCompletionCounts(t *testing.T) {
	s := NewMemoryService()
	ctx := context.Background()

	expID, err := s.CreateExperiment(ctx, testExperiment("study"))
	if err != nil {
		t.Fatal(err)
	}

	p1, err := s.CreateParticipant(ctx, 10, expID, time.Now())
	if err != nil {
		t.Fatalf("create participant err: %v", err)
	}
	if _, err := s.CreateParticipant(ctx, 11, expID, time.Now()); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkParticipantComplete(ctx, p1, time.Now()); err != nil {
		t.Fatalf("mark complete err: %v", err)
	}
	// Second mark keeps the original timestamp.
	before, _ := s.GetParticipant(ctx, p1)
	if err := s.MarkParticipantComplete(ctx, p1, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("repeat mark err: %v", err)
	}
	after, _ := s.GetParticipant(ctx, p1)
	if !after.CompletedAt.Equal(*before.CompletedAt) {
		t.Fatal("repeat mark moved the completion timestamp")
	}

	total, completed, err := s.CountParticipants(ctx, expID)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || completed != 1 {
		t.Fatalf("counts total=%d completed=%d, want 2/1", total, completed)
	}

	if err := s.MarkParticipantComplete(ctx, 999, time.Now()); !errors.Is(err, ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}
}

func TestAppendRoundIdempotent(t *testing.T) {
	s := NewMemoryService()
	ctx := context.Background()

	rec := dilemma.RoundRecord{
		Round:            1,
		Participant:      dilemma.DecisionCooperate,
		Opponent:         dilemma.DecisionDefect,
		ParticipantScore: 0,
		OpponentScore:    5,
	}
	if err := s.AppendRound(ctx, "sess-1", 1, 1, rec); err != nil {
		t.Fatalf("append err: %v", err)
	}
	if err := s.AppendRound(ctx, "sess-1", 1, 1, rec); err != nil {
		t.Fatalf("replay err: %v", err)
	}
	if err := s.AppendRound(ctx, "sess-1", 1, 1, dilemma.RoundRecord{Round: 2, Participant: dilemma.DecisionDefect, Opponent: dilemma.DecisionCooperate, ParticipantScore: 5}); err != nil {
		t.Fatal(err)
	}

	rounds, err := s.ListRounds(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rounds) != 2 {
		t.Fatalf("stored %d rounds, want 2", len(rounds))
	}
	if rounds[0].Round != 1 || rounds[1].Round != 2 {
		t.Fatalf("round numbers %d,%d", rounds[0].Round, rounds[1].Round)
	}
}

func TestPersistResultAtMostOnce(t *testing.T) {
	s := NewMemoryService()
	ctx := context.Background()

	first := dilemma.Result{ParticipantTotal: 8, OpponentTotal: 8}
	if err := s.PersistResult(ctx, "sess-1", 1, 2, first); err != nil {
		t.Fatalf("persist err: %v", err)
	}
	// A retry with different numbers must not overwrite the stored result.
	if err := s.PersistResult(ctx, "sess-1", 1, 2, dilemma.Result{ParticipantTotal: 99}); err != nil {
		t.Fatalf("retry err: %v", err)
	}

	item, err := s.GetResult(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if item.Result.ParticipantTotal != 8 {
		t.Fatalf("stored total %d, want 8", item.Result.ParticipantTotal)
	}
	if item.ExperimentID != 2 {
		t.Fatalf("experiment id %d", item.ExperimentID)
	}

	if _, err := s.GetResult(ctx, "missing"); !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("expected ErrResultNotFound, got %v", err)
	}
}

func TestListResultsFiltersByExperiment(t *testing.T) {
	s := NewMemoryService()
	ctx := context.Background()

	if err := s.PersistResult(ctx, "a", 1, 1, dilemma.Result{ParticipantTotal: 3}); err != nil {
		t.Fatal(err)
	}
	if err := s.PersistResult(ctx, "b", 2, 1, dilemma.Result{ParticipantTotal: 5}); err != nil {
		t.Fatal(err)
	}
	if err := s.PersistResult(ctx, "c", 3, 2, dilemma.Result{ParticipantTotal: 7}); err != nil {
		t.Fatal(err)
	}

	items, err := s.ListResults(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("listed %d results, want 2", len(items))
	}
	for _, item := range items {
		if item.ExperimentID != 1 {
			t.Fatalf("result for experiment %d leaked into list", item.ExperimentID)
		}
	}
}

func TestExperimentParamsRoundTrip(t *testing.T) {
	cfg := dilemma.Config{
		TotalRounds:     10,
		Matrix:          dilemma.ClassicMatrix(),
		Strategy:        "grim_trigger",
		OpponentInitial: dilemma.DecisionDefect,
	}
	raw, err := encodeParams(cfg)
	if err != nil {
		t.Fatalf("encode err: %v", err)
	}
	got, err := decodeParams(raw)
	if err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if got != cfg {
		t.Fatalf("round trip changed config:\n got %+v\nwant %+v", got, cfg)
	}
}
