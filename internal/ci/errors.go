package ci

import "errors"

// Error taxonomy for a merge attempt. Everything except a plain CI failure is
// fatal to the attempt; callers match with errors.Is.
var (
	ErrRevisionUnavailable       = errors.New("revision unavailable")
	ErrNoPipelineTriggered       = errors.New("no pipeline triggered")
	ErrTimedOut                  = errors.New("ci status polling timed out")
	ErrRequiresHumanIntervention = errors.New("requires human intervention")
	ErrCircularFixDetected       = errors.New("circular fix detected")
	ErrFixApplicationFailed      = errors.New("fix application failed")
	ErrMaxAttemptsExceeded       = errors.New("max fix attempts exceeded")
	ErrVerificationFailed        = errors.New("verification failed")
	ErrPreMergeTestFailed        = errors.New("pre-merge test failed")
	ErrMergeConflict             = errors.New("merge conflict")
	ErrNoMergeRequest            = errors.New("no open merge request for branch")
)
