package dilemma

import (
	"errors"
	"testing"
)

func TestClassicMatrixAllPairs(t *testing.T) {
	m := ClassicMatrix()

	cases := []struct {
		participant Decision
		opponent    Decision
		want        Payout
	}{
		{DecisionCooperate, DecisionCooperate, Payout{Participant: 3, Opponent: 3}},
		{DecisionCooperate, DecisionDefect, Payout{Participant: 0, Opponent: 5}},
		{DecisionDefect, DecisionCooperate, Payout{Participant: 5, Opponent: 0}},
		{DecisionDefect, DecisionDefect, Payout{Participant: 1, Opponent: 1}},
	}
	for _, tc := range cases {
		got, err := m.Payoff(tc.participant, tc.opponent)
		if err != nil {
			t.Fatalf("Payoff(%s, %s) err: %v", tc.participant, tc.opponent, err)
		}
		if got != tc.want {
			t.Fatalf("Payoff(%s, %s) = %+v, want %+v", tc.participant, tc.opponent, got, tc.want)
		}
	}
}

// 查表必须区分有序对：CD 与 DC 不能互换
func TestMatrixLookupIsOrdered(t *testing.T) {
	m := Matrix{
		CooperateCooperate: Payout{Participant: 3, Opponent: 3},
		CooperateDefect:    Payout{Participant: 0, Opponent: 5},
		DefectCooperate:    Payout{Participant: 9, Opponent: 1},
		DefectDefect:       Payout{Participant: 1, Opponent: 1},
	}
	cd, err := m.Payoff(DecisionCooperate, DecisionDefect)
	if err != nil {
		t.Fatal(err)
	}
	dc, err := m.Payoff(DecisionDefect, DecisionCooperate)
	if err != nil {
		t.Fatal(err)
	}
	if cd == dc {
		t.Fatalf("expected asymmetric cells to stay distinct, both %+v", cd)
	}
	if dc != (Payout{Participant: 9, Opponent: 1}) {
		t.Fatalf("DC cell = %+v, want {9 1}", dc)
	}
}

func TestPayoffRejectsInvalidDecision(t *testing.T) {
	m := ClassicMatrix()
	if _, err := m.Payoff(Decision(42), DecisionCooperate); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
	if _, err := m.Payoff(DecisionCooperate, Decision(42)); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("  Cooperate ")
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if d != DecisionCooperate {
		t.Fatalf("expected cooperate, got %s", d)
	}
	d, err = ParseDecision("defect")
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if d != DecisionDefect {
		t.Fatalf("expected defect, got %s", d)
	}
	if _, err := ParseDecision("maybe"); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
}
