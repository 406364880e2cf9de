// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package tagging

// TrialFailure records one trial that failed terminally, with the reason.
type TrialFailure struct {
	NCTID  string `json:"nct_id" yaml:"nct_id"`
	Reason string `json:"reason" yaml:"reason"`
}

// BatchRun holds the outcome counters for one tagging run. It is created
// at batch start, mutated only by the orchestrator, and reported at the
// end; it is never persisted.
type BatchRun struct {
	Total       int            `json:"total" yaml:"total"`
	Succeeded   int            `json:"succeeded" yaml:"succeeded"`
	Failed      int            `json:"failed" yaml:"failed"`
	Skipped     int            `json:"skipped" yaml:"skipped"`
	Aborted     bool           `json:"aborted" yaml:"aborted"`
	AbortReason string         `json:"abort_reason,omitempty" yaml:"abort_reason,omitempty"`
	Failures    []TrialFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Attempted returns the number of trials that reached a terminal state.
func (r BatchRun) Attempted() int {
	return r.Succeeded + r.Failed + r.Skipped
}

// Unattempted returns the number of trials never dispatched, non-zero only
// when the batch aborted early.
func (r BatchRun) Unattempted() int {
	return r.Total - r.Attempted()
}

// HasFailures reports whether any trial failed.
func (r BatchRun) HasFailures() bool {
	return r.Failed > 0
}
