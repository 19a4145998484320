package execution

import (
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/httpclient"
)

// Outcome is how a run ended.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	// OutcomeBlocked means a continue_if gate was not met. It is never retried automatically.
	OutcomeBlocked
	// OutcomeFailed means a step could not complete. It may have a retry scheduled.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// RunResult describes a finished run.
type RunResult struct {
	Outcome Outcome `json:"outcome"`
	// Response is the last step's response; on success, the final step's
	Response *httpclient.Response `json:"response,omitempty"`
	// Error is the sanitized reason a blocked or failed run stopped
	Error string `json:"error,omitempty"`
	// StepIndex is the index of the step the run stopped at, -1 when every step ran
	StepIndex      int        `json:"step_index"`
	RetryScheduled bool       `json:"retry_scheduled"`
	TrackerID      *uuid.UUID `json:"tracker_id,omitempty"`
}

func (r *RunResult) Succeeded() bool {
	return r.Outcome == OutcomeSucceeded
}

// ExistsResult is the answer of an exists check.
type ExistsResult struct {
	Exists bool   `json:"exists"`
	Error  string `json:"error,omitempty"`
}
