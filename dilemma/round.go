package dilemma

// RoundRecord is the immutable outcome of one round. Ordering matters: round
// N's reactive opponent move depends on round N-1's participant move.
type RoundRecord struct {
	Round            int      `json:"round"`
	Participant      Decision `json:"participant"`
	Opponent         Decision `json:"opponent"`
	ParticipantScore int64    `json:"participant_score"`
	OpponentScore    int64    `json:"opponent_score"`
}

// Result is the terminal aggregate of a completed session, built exactly once
// from the full ordered round history.
type Result struct {
	ParticipantTotal int64         `json:"participant_total"`
	OpponentTotal    int64         `json:"opponent_total"`
	Rounds           []RoundRecord `json:"rounds"`
}

func buildResult(rounds []RoundRecord) Result {
	res := Result{
		Rounds: append([]RoundRecord{}, rounds...),
	}
	for _, rec := range rounds {
		res.ParticipantTotal += rec.ParticipantScore
		res.OpponentTotal += rec.OpponentScore
	}
	return res
}
