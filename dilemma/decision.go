package dilemma

import "strings"

// Decision 每回合的原子选择
type Decision byte

const (
	DecisionCooperate Decision = 0
	DecisionDefect    Decision = 1
)

var DecisionDictionary = map[Decision]string{
	DecisionCooperate: "cooperate",
	DecisionDefect:    "defect",
}

func (d Decision) String() string {
	if s, ok := DecisionDictionary[d]; ok {
		return s
	}
	return "unknown"
}

func (d Decision) Valid() bool {
	_, ok := DecisionDictionary[d]
	return ok
}

// ParseDecision maps a wire string onto a Decision. Anything outside the
// enumerated set is a caller error.
func ParseDecision(raw string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cooperate":
		return DecisionCooperate, nil
	case "defect":
		return DecisionDefect, nil
	default:
		return 0, ErrInvalidDecision
	}
}
