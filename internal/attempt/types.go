// Package attempt holds the per-attempt context that flows through every
// stage of a merge, and persists it.
package attempt

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/mergegate/internal/ci"
)

// State is a merge-executor state.
type State string

const (
	StateInitiated     State = "initiated"
	StateTracking      State = "tracking"
	StatePolling       State = "polling"
	StateFixing        State = "fixing"
	StateVerifying     State = "verifying"
	StateDryRunTesting State = "dry_run_testing"
	StateMerging       State = "merging"
	StateCleaningUp    State = "cleaning_up"
	StateCompleted     State = "completed"
	StateAborted       State = "aborted"
	// StateOverridden marks a manual decision recorded outside the state machine.
	StateOverridden State = "overridden"
)

// transitions lists the allowed successors of each state. Aborted is
// reachable from every non-terminal state and is handled separately.
var transitions = map[State][]State{
	StateInitiated:     {StateTracking},
	StateTracking:      {StatePolling},
	StatePolling:       {StateFixing, StateVerifying},
	StateFixing:        {StateVerifying},
	StateVerifying:     {StateDryRunTesting},
	StateDryRunTesting: {StateMerging},
	StateMerging:       {StateCleaningUp},
	StateCleaningUp:    {StateCompleted},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateOverridden
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateAborted {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// AbortInfo is the diagnostic record of an aborted attempt.
type AbortInfo struct {
	State      State  `json:"state"`
	Reason     string `json:"reason"`
	Error      string `json:"error,omitempty"`
	FailingJob string `json:"failing_job,omitempty"`
	LogExcerpt string `json:"log_excerpt,omitempty"`
}

// Context is everything known about one merge attempt. It is passed
// explicitly through every component; nothing is kept in globals.
type Context struct {
	ID       string           `json:"id"`
	Branch   string           `json:"branch"`
	Target   string           `json:"target"`
	Strategy ci.MergeStrategy `json:"strategy"`
	State    State            `json:"state"`

	// Revision is the commit currently under test. Each pushed fix replaces
	// it; Revisions keeps every one in order.
	Revision  *ci.Revision  `json:"revision,omitempty"`
	Revisions []ci.Revision `json:"revisions,omitempty"`
	// VerifiedSHA is set when the Verifying step saw job-level success for
	// that revision. Merging requires it to equal Revision.SHA.
	VerifiedSHA string `json:"verified_sha,omitempty"`

	Run         *ci.PipelineRun     `json:"run,omitempty"`
	Failure     *ci.FailureCategory `json:"failure,omitempty"`
	History     []ci.FixAttempt     `json:"history,omitempty"`
	Transitions []Transition        `json:"transitions"`
	Decision    *ci.MergeDecision   `json:"decision,omitempty"`
	Abort       *AbortInfo          `json:"abort,omitempty"`
	Warnings    []string            `json:"warnings,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a context in StateInitiated with a fresh ID.
func New(branch, target string, strategy ci.MergeStrategy, now time.Time) *Context {
	return &Context{
		ID:          uuid.NewString(),
		Branch:      branch,
		Target:      target,
		Strategy:    strategy,
		State:       StateInitiated,
		Transitions: []Transition{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Transition moves the context to state to, recording the change.
func (c *Context) Transition(to State, at time.Time, note string) error {
	if !CanTransition(c.State, to) {
		return fmt.Errorf("invalid transition %s → %s", c.State, to)
	}
	if to == StateMerging && (c.Revision == nil || c.VerifiedSHA == "" || c.VerifiedSHA != c.Revision.SHA) {
		return fmt.Errorf("invalid transition %s → %s: revision not verified", c.State, to)
	}
	c.Transitions = append(c.Transitions, Transition{From: c.State, To: to, At: at, Note: note})
	c.State = to
	c.UpdatedAt = at
	return nil
}

// MarkOverridden records a manual merge decision. It bypasses the state
// machine, so it only accepts a decision flagged as an override that names
// who authorized it, and only on an attempt that has not ended.
func (c *Context) MarkOverridden(d ci.MergeDecision, at time.Time) error {
	if !d.Override || d.AuthorizedBy == "" {
		return fmt.Errorf("invalid transition %s → %s: override not authorized", c.State, StateOverridden)
	}
	if c.State.Terminal() {
		return fmt.Errorf("invalid transition %s → %s: attempt already ended", c.State, StateOverridden)
	}
	c.Decision = &d
	c.Transitions = append(c.Transitions, Transition{
		From: c.State, To: StateOverridden, At: at, Note: "authorized by " + d.AuthorizedBy,
	})
	c.State = StateOverridden
	c.UpdatedAt = at
	return nil
}

// SetRevision makes rev the revision under test. Verification of any
// earlier revision no longer applies.
func (c *Context) SetRevision(rev ci.Revision) {
	r := rev
	c.Revision = &r
	c.Revisions = append(c.Revisions, rev)
	c.VerifiedSHA = ""
}

// Warn records a non-fatal problem.
func (c *Context) Warn(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}
