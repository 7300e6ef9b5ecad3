package merge

import (
	"context"
	"errors"
	"fmt"

	"github.com/lucasnoah/mergegate/internal/attempt"
	"github.com/lucasnoah/mergegate/internal/ci"
)

// Abort reasons. Each is the human-readable reason on the MergeDecision.
const (
	ReasonRevisionUnavailable = "revision unavailable"
	ReasonNoPipeline          = "no pipeline triggered"
	ReasonTimedOut            = "ci status polling timed out"
	ReasonRequiresHuman       = "requires human intervention"
	ReasonCircularFix         = "circular fix detected"
	ReasonFixFailed           = "fix application failed"
	ReasonMaxAttempts         = "max fix attempts exceeded"
	ReasonVerificationFailed  = "verification failed"
	ReasonPreMergeTestFailed  = "pre-merge test failed"
	ReasonMergeConflict       = "merge conflict"
	ReasonMergeFailed         = "merge failed"
	ReasonCancelled           = "cancelled"
)

// Diagnostics is the context an operator needs to act on an abort.
type Diagnostics struct {
	FailingJob string          `json:"failing_job,omitempty"`
	Category   ci.Category     `json:"category,omitempty"`
	LogExcerpt string          `json:"log_excerpt,omitempty"`
	History    []ci.FixAttempt `json:"history,omitempty"`
	RunURL     string          `json:"run_url,omitempty"`
}

// AbortError is returned when a merge attempt ends in Aborted.
type AbortError struct {
	AttemptID   string
	State       attempt.State // state the attempt was in when it aborted
	Reason      string
	Err         error
	Diagnostics Diagnostics
}

func (e *AbortError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("merge aborted in %s: %s", e.State, e.Reason)
	}
	return fmt.Sprintf("merge aborted in %s: %s: %v", e.State, e.Reason, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

// reasonFor maps an error to its abort reason.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	case errors.Is(err, ci.ErrRevisionUnavailable):
		return ReasonRevisionUnavailable
	case errors.Is(err, ci.ErrNoPipelineTriggered):
		return ReasonNoPipeline
	case errors.Is(err, ci.ErrTimedOut):
		return ReasonTimedOut
	case errors.Is(err, ci.ErrRequiresHumanIntervention):
		return ReasonRequiresHuman
	case errors.Is(err, ci.ErrCircularFixDetected):
		return ReasonCircularFix
	case errors.Is(err, ci.ErrFixApplicationFailed):
		return ReasonFixFailed
	case errors.Is(err, ci.ErrMaxAttemptsExceeded):
		return ReasonMaxAttempts
	case errors.Is(err, ci.ErrVerificationFailed):
		return ReasonVerificationFailed
	case errors.Is(err, ci.ErrPreMergeTestFailed):
		return ReasonPreMergeTestFailed
	case errors.Is(err, ci.ErrMergeConflict):
		return ReasonMergeConflict
	}
	return ReasonMergeFailed
}
