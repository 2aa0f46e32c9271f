package transcript

import "fmt"

type TranscriptError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Round   int    `json:"round,omitempty"`
}

func (e *TranscriptError) Error() string {
	if e == nil {
		return ""
	}
	if e.Round > 0 {
		return fmt.Sprintf("transcript error(reason=%s round=%d): %s", e.Reason, e.Round, e.Message)
	}
	return fmt.Sprintf("transcript error(reason=%s): %s", e.Reason, e.Message)
}
