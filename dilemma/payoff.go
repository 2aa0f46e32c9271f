package dilemma

// Payout is one cell of the payoff matrix, ordered (participant, opponent).
type Payout struct {
	Participant int64 `json:"participant"`
	Opponent    int64 `json:"opponent"`
}

// Matrix maps every ordered decision pair to its payout. All four cells are
// explicit: lookup is by the pair exactly as given, never folded by symmetry.
type Matrix struct {
	CooperateCooperate Payout `json:"cc"`
	CooperateDefect    Payout `json:"cd"`
	DefectCooperate    Payout `json:"dc"`
	DefectDefect       Payout `json:"dd"`
}

// ClassicMatrix is the canonical prisoner's dilemma payoff scheme.
func ClassicMatrix() Matrix {
	return Matrix{
		CooperateCooperate: Payout{Participant: 3, Opponent: 3},
		CooperateDefect:    Payout{Participant: 0, Opponent: 5},
		DefectCooperate:    Payout{Participant: 5, Opponent: 0},
		DefectDefect:       Payout{Participant: 1, Opponent: 1},
	}
}

// Payoff resolves the payout for the ordered pair (participant, opponent).
func (m Matrix) Payoff(participant, opponent Decision) (Payout, error) {
	if !participant.Valid() || !opponent.Valid() {
		return Payout{}, ErrInvalidDecision
	}
	switch {
	case participant == DecisionCooperate && opponent == DecisionCooperate:
		return m.CooperateCooperate, nil
	case participant == DecisionCooperate && opponent == DecisionDefect:
		return m.CooperateDefect, nil
	case participant == DecisionDefect && opponent == DecisionCooperate:
		return m.DefectCooperate, nil
	default:
		return m.DefectDefect, nil
	}
}
