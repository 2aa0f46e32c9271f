// Package transcript turns a completed session into a normalized,
// analysis-ready export. Generation validates the round history so a corrupt
// or partially written record never leaves the server looking well-formed.
package transcript

import (
	"encoding/json"

	"explab/dilemma"
)

const FormatVersion = 1

// Meta identifies the session a transcript was exported from.
type Meta struct {
	SessionID     string
	ExperimentID  int64
	ParticipantID int64
	Strategy      string
}

// Transcript is the wire form of one completed session.
type Transcript struct {
	FormatVersion    int     `json:"format_version"`
	SessionID        string  `json:"session_id"`
	ExperimentID     int64   `json:"experiment_id"`
	ParticipantID    int64   `json:"participant_id"`
	Strategy         string  `json:"strategy"`
	TotalRounds      int     `json:"total_rounds"`
	ParticipantTotal int64   `json:"participant_total"`
	OpponentTotal    int64   `json:"opponent_total"`
	Rounds           []Round `json:"rounds"`
}

// Round mirrors dilemma.RoundRecord with decisions spelled out for analysis
// tools that never see the Go enum.
type Round struct {
	Round            int    `json:"round"`
	Participant      string `json:"participant"`
	Opponent         string `json:"opponent"`
	ParticipantScore int64  `json:"participant_score"`
	OpponentScore    int64  `json:"opponent_score"`
}

// Generate normalizes res into a Transcript, recomputing and cross-checking
// the aggregate totals.
func Generate(meta Meta, res dilemma.Result) (*Transcript, error) {
	if meta.SessionID == "" {
		return nil, &TranscriptError{Reason: "missing_session_id", Message: "meta.SessionID must not be empty"}
	}
	if len(res.Rounds) == 0 {
		return nil, &TranscriptError{Reason: "empty_history", Message: "result carries no rounds"}
	}

	out := &Transcript{
		FormatVersion: FormatVersion,
		SessionID:     meta.SessionID,
		ExperimentID:  meta.ExperimentID,
		ParticipantID: meta.ParticipantID,
		Strategy:      meta.Strategy,
		TotalRounds:   len(res.Rounds),
		Rounds:        make([]Round, 0, len(res.Rounds)),
	}

	var mine, theirs int64
	for i, rec := range res.Rounds {
		if rec.Round != i+1 {
			return nil, &TranscriptError{
				Reason:  "round_gap",
				Message: "round numbers must be 1..N in order",
				Round:   rec.Round,
			}
		}
		if !rec.Participant.Valid() || !rec.Opponent.Valid() {
			return nil, &TranscriptError{
				Reason:  "invalid_decision",
				Message: "round holds a decision outside the enumerated set",
				Round:   rec.Round,
			}
		}
		mine += rec.ParticipantScore
		theirs += rec.OpponentScore
		out.Rounds = append(out.Rounds, Round{
			Round:            rec.Round,
			Participant:      rec.Participant.String(),
			Opponent:         rec.Opponent.String(),
			ParticipantScore: rec.ParticipantScore,
			OpponentScore:    rec.OpponentScore,
		})
	}

	if res.ParticipantTotal != mine || res.OpponentTotal != theirs {
		return nil, &TranscriptError{
			Reason:  "score_mismatch",
			Message: "stored totals disagree with the round history",
		}
	}
	out.ParticipantTotal = mine
	out.OpponentTotal = theirs
	return out, nil
}

// Encode renders the transcript as indented JSON for download.
func Encode(t *Transcript) ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}
