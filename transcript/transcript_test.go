package transcript

import (
	"encoding/json"
	"testing"

	"explab/dilemma"
)

func sampleResult() dilemma.Result {
	return dilemma.Result{
		ParticipantTotal: 8,
		OpponentTotal:    8,
		Rounds: []dilemma.RoundRecord{
			{Round: 1, Participant: dilemma.DecisionCooperate, Opponent: dilemma.DecisionCooperate, ParticipantScore: 3, OpponentScore: 3},
			{Round: 2, Participant: dilemma.DecisionDefect, Opponent: dilemma.DecisionCooperate, ParticipantScore: 5, OpponentScore: 0},
			{Round: 3, Participant: dilemma.DecisionCooperate, Opponent: dilemma.DecisionDefect, ParticipantScore: 0, OpponentScore: 5},
		},
	}
}

func sampleMeta() Meta {
	return Meta{
		SessionID:     "sess_1",
		ExperimentID:  11,
		ParticipantID: 7,
		Strategy:      "TitForTat",
	}
}

func TestGenerateNormalizesRounds(t *testing.T) {
	tr, err := Generate(sampleMeta(), sampleResult())
	if err != nil {
		t.Fatalf("Generate err: %v", err)
	}
	if tr.FormatVersion != FormatVersion {
		t.Fatalf("format version %d", tr.FormatVersion)
	}
	if tr.TotalRounds != 3 || len(tr.Rounds) != 3 {
		t.Fatalf("rounds %d/%d, want 3/3", tr.TotalRounds, len(tr.Rounds))
	}
	if tr.Rounds[1].Participant != "defect" || tr.Rounds[1].Opponent != "cooperate" {
		t.Fatalf("round 2 decisions %s/%s", tr.Rounds[1].Participant, tr.Rounds[1].Opponent)
	}
	if tr.ParticipantTotal != 8 || tr.OpponentTotal != 8 {
		t.Fatalf("totals (%d,%d)", tr.ParticipantTotal, tr.OpponentTotal)
	}
}

func TestGenerateRejectsRoundGap(t *testing.T) {
	res := sampleResult()
	res.Rounds[2].Round = 5
	_, err := Generate(sampleMeta(), res)
	te, ok := err.(*TranscriptError)
	if !ok {
		t.Fatalf("expected *TranscriptError, got %v", err)
	}
	if te.Reason != "round_gap" {
		t.Fatalf("reason %s, want round_gap", te.Reason)
	}
}

func TestGenerateRejectsScoreMismatch(t *testing.T) {
	res := sampleResult()
	res.ParticipantTotal = 99
	_, err := Generate(sampleMeta(), res)
	te, ok := err.(*TranscriptError)
	if !ok {
		t.Fatalf("expected *TranscriptError, got %v", err)
	}
	if te.Reason != "score_mismatch" {
		t.Fatalf("reason %s, want score_mismatch", te.Reason)
	}
}

func TestGenerateRejectsEmptyHistory(t *testing.T) {
	_, err := Generate(sampleMeta(), dilemma.Result{})
	te, ok := err.(*TranscriptError)
	if !ok || te.Reason != "empty_history" {
		t.Fatalf("expected empty_history error, got %v", err)
	}
}

func TestEncodeRoundTrips(t *testing.T) {
	tr, err := Generate(sampleMeta(), sampleResult())
	if err != nil {
		t.Fatalf("Generate err: %v", err)
	}
	raw, err := Encode(tr)
	if err != nil {
		t.Fatalf("Encode err: %v", err)
	}
	var back Transcript
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if back.SessionID != "sess_1" || back.Rounds[2].Opponent != "defect" {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}
