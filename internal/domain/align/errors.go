package align

import "fmt"

// ValidationError reports malformed input. Index is -1 when the error is
// about the sequence as a whole.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return "align: invalid input: " + e.Reason
	}
	return fmt.Sprintf("align: invalid segment %d: %s", e.Index, e.Reason)
}

// OverrunWarning marks a segment that could not be fit into its tolerated
// slot even at the fastest allowed rate. It is returned alongside the
// placements, never as the call's error.
type OverrunWarning struct {
	Index        int     `json:"index"`
	Speaker      string  `json:"speaker_id,omitempty"`
	RequiredRate float64 `json:"required_rate"`
	AppliedRate  float64 `json:"applied_rate"`
	// Spillover is how far the sped-up speech runs past the end of its slot.
	Spillover float64 `json:"spillover"`
}

func (w OverrunWarning) Error() string {
	return fmt.Sprintf("align: segment %d overruns its slot by %.2fs (needs %.2fx, capped at %.2fx)",
		w.Index, w.Spillover, w.RequiredRate, w.AppliedRate)
}
