// Package merge is the merge executor: it drives one attempt from revision
// capture through CI, auto-fix, a dry-run merge and the real merge.
package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lucasnoah/mergegate/internal/attempt"
	"github.com/lucasnoah/mergegate/internal/autofix"
	"github.com/lucasnoah/mergegate/internal/ci"
	"github.com/lucasnoah/mergegate/internal/clock"
	"github.com/lucasnoah/mergegate/internal/git"
	"github.com/lucasnoah/mergegate/internal/lock"
	"github.com/lucasnoah/mergegate/internal/poller"
)

// Tracker binds an attempt to a revision and its pipeline.
type Tracker interface {
	Capture(ctx context.Context, branch, sha string) (ci.Revision, error)
	FindPipeline(ctx context.Context, rev ci.Revision) (*ci.PipelineRun, error)
}

// Poller waits for a run to reach a terminal state.
type Poller interface {
	Poll(ctx context.Context, rev ci.Revision, runID string) (*poller.Outcome, error)
}

// AutoFixer runs the bounded fix loop for a failed run.
type AutoFixer interface {
	RunLoop(ctx context.Context, mctx *attempt.Context, failed *poller.Outcome) (*autofix.Result, error)
}

// Git is the local repository.
type Git interface {
	Fetch(ctx context.Context, dir string, branches ...string) error
	HeadSHA(ctx context.Context, dir, ref string) (string, error)
	TrialMerge(ctx context.Context, dir string, run git.CommandRunner, opts git.TrialOpts) (*git.TrialResult, error)
	Checkout(ctx context.Context, dir, ref string) error
	Pull(ctx context.Context, dir, branch string) error
	DeleteLocalBranch(ctx context.Context, dir, branch string) error
}

// Deps are the executor's collaborators.
type Deps struct {
	Backend ci.Backend
	Tracker Tracker
	Poller  Poller
	AutoFix AutoFixer
	Git     Git
	Runner  git.CommandRunner // runs the dry-run test command
	Locks   *lock.Manager
	Store   attempt.Store
	Clock   clock.Clock
}

// Options configures merges.
type Options struct {
	Target      string
	Strategy    ci.MergeStrategy
	Dir         string // local working tree
	DryRun      bool   // run the trial merge before merging
	TestCommand string
	TestTimeout time.Duration
	// Cleanup steps after a successful merge.
	DeleteRemoteBranch bool
	DeleteLocalBranch  bool
	SyncTarget         bool
}

// Request is one merge invocation. Empty fields fall back to Options.
type Request struct {
	Branch   string
	SHA      string // defaults to the remote branch head
	Target   string
	Strategy ci.MergeStrategy
}

// Outcome is the result of Execute or Override.
type Outcome struct {
	Decision *ci.MergeDecision
	Attempt  *attempt.Context
}

// Executor runs merge attempts.
type Executor struct {
	d        Deps
	opts     Options
	progress io.Writer
}

// New creates an Executor.
func New(d Deps, opts Options) *Executor {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Locks == nil {
		d.Locks = lock.NewManager("")
	}
	if opts.Target == "" {
		opts.Target = "main"
	}
	if opts.Strategy == "" {
		opts.Strategy = ci.StrategySquash
	}
	return &Executor{d: d, opts: opts}
}

// SetProgress sets a writer for live progress output.
func (e *Executor) SetProgress(w io.Writer) {
	e.progress = w
}

func (e *Executor) logf(format string, args ...any) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, "  → "+format+"\n", args...)
	}
}

// save persists mctx. Failures are logged; a merge is never failed because
// its audit record could not be written.
func (e *Executor) save(ctx context.Context, mctx *attempt.Context) {
	if e.d.Store == nil {
		return
	}
	if err := e.d.Store.Save(context.WithoutCancel(ctx), mctx); err != nil {
		e.logf("warning: save attempt %s: %v", mctx.ID, err)
	}
}

// transition advances the state machine and persists the change.
func (e *Executor) transition(ctx context.Context, mctx *attempt.Context, to attempt.State, note string) error {
	if err := mctx.Transition(to, e.d.Clock.Now(), note); err != nil {
		return err
	}
	e.logf("%s: %s", mctx.Branch, to)
	e.save(ctx, mctx)
	return nil
}

func (e *Executor) resolve(req Request) Request {
	if req.Target == "" {
		req.Target = e.opts.Target
	}
	if req.Strategy == "" {
		req.Strategy = e.opts.Strategy
	}
	return req
}

// Execute runs the full gate for req.Branch. On success the decision is
// approved and the error nil. Any abort returns an unapproved decision and
// an *AbortError. A branch already being merged returns lock.ErrAlreadyRunning.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	req = e.resolve(req)
	if req.Branch == "" {
		return nil, errors.New("branch is required")
	}
	if req.Branch == req.Target {
		return nil, fmt.Errorf("cannot merge %s into itself", req.Branch)
	}
	h, err := e.d.Locks.Acquire(req.Branch)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	mctx := attempt.New(req.Branch, req.Target, req.Strategy, e.d.Clock.Now())
	e.logf("attempt %s: merging %s into %s (%s)", mctx.ID, req.Branch, req.Target, req.Strategy)
	e.save(ctx, mctx)
	out := &Outcome{Attempt: mctx}

	if err := e.run(ctx, mctx, req); err != nil {
		return out, e.abort(ctx, mctx, err)
	}
	out.Decision = mctx.Decision
	return out, nil
}

func (e *Executor) run(ctx context.Context, mctx *attempt.Context, req Request) error {
	// Tracking
	if err := e.transition(ctx, mctx, attempt.StateTracking, ""); err != nil {
		return err
	}
	sha, err := e.headSHA(ctx, req)
	if err != nil {
		return err
	}
	rev, err := e.d.Tracker.Capture(ctx, req.Branch, sha)
	if err != nil {
		return err
	}
	mctx.SetRevision(rev)
	run, err := e.d.Tracker.FindPipeline(ctx, rev)
	if err != nil {
		return err
	}
	mctx.Run = run

	// Polling
	if err := e.transition(ctx, mctx, attempt.StatePolling, "run "+run.ID); err != nil {
		return err
	}
	polled, err := e.d.Poller.Poll(ctx, rev, run.ID)
	if err != nil {
		return err
	}
	if polled.Run != nil {
		mctx.Run = polled.Run
	}
	switch polled.Status {
	case poller.TimedOut:
		return fmt.Errorf("%w: run %s after %d polls / %s", ci.ErrTimedOut, run.ID, polled.Polls, polled.Elapsed.Round(time.Second))
	case poller.Failed:
		if err := e.transition(ctx, mctx, attempt.StateFixing, failureNote(polled)); err != nil {
			return err
		}
		if e.d.AutoFix == nil {
			return fmt.Errorf("%w: auto-fix disabled", ci.ErrRequiresHumanIntervention)
		}
		if _, err := e.d.AutoFix.RunLoop(ctx, mctx, polled); err != nil {
			return err
		}
	}

	// Verifying
	if err := e.transition(ctx, mctx, attempt.StateVerifying, ""); err != nil {
		return err
	}
	if err := e.verify(ctx, mctx); err != nil {
		return err
	}

	// DryRunTesting
	note := ""
	if !e.opts.DryRun {
		note = "skipped"
	}
	if err := e.transition(ctx, mctx, attempt.StateDryRunTesting, note); err != nil {
		return err
	}
	if e.opts.DryRun {
		if err := e.dryRun(ctx, mctx); err != nil {
			return err
		}
	}

	// Merging
	if err := e.transition(ctx, mctx, attempt.StateMerging, ""); err != nil {
		return err
	}
	merged, err := e.d.Backend.Merge(ctx, ci.MergeRequest{
		Branch:   mctx.Branch,
		Target:   mctx.Target,
		SHA:      mctx.Revision.SHA,
		Strategy: mctx.Strategy,
	})
	if err != nil {
		return err
	}
	reason := "all jobs passed"
	if n := len(mctx.History); n > 0 {
		reason = fmt.Sprintf("all jobs passed after %d auto-fix attempt(s)", n)
	}
	mctx.Decision = &ci.MergeDecision{
		Approved:  true,
		Reason:    reason,
		MergedSHA: merged,
		Strategy:  mctx.Strategy,
		DecidedAt: e.d.Clock.Now(),
	}
	e.logf("merged %s as %.8s", mctx.Branch, merged)

	// CleaningUp
	if err := e.transition(ctx, mctx, attempt.StateCleaningUp, ""); err != nil {
		return err
	}
	e.cleanup(ctx, mctx)
	return e.transition(ctx, mctx, attempt.StateCompleted, "")
}

func (e *Executor) headSHA(ctx context.Context, req Request) (string, error) {
	if req.SHA != "" {
		return req.SHA, nil
	}
	if e.d.Git == nil {
		return "", fmt.Errorf("%w: no sha given and no local repository", ci.ErrRevisionUnavailable)
	}
	if err := e.d.Git.Fetch(ctx, e.opts.Dir, req.Branch); err != nil {
		return "", fmt.Errorf("%w: %v", ci.ErrRevisionUnavailable, err)
	}
	sha, err := e.d.Git.HeadSHA(ctx, e.opts.Dir, "origin/"+req.Branch)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ci.ErrRevisionUnavailable, err)
	}
	return sha, nil
}

// verify re-reads the run and requires job-level success for the exact
// revision under test.
func (e *Executor) verify(ctx context.Context, mctx *attempt.Context) error {
	if mctx.Run == nil || mctx.Revision == nil {
		return fmt.Errorf("%w: no run recorded", ci.ErrVerificationFailed)
	}
	run, err := e.d.Backend.GetRun(ctx, mctx.Run.ID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: get run %s: %v", ci.ErrVerificationFailed, mctx.Run.ID, err)
	}
	if run.SHA != mctx.Revision.SHA {
		return fmt.Errorf("%w: run %s is for %.8s, expected %s", ci.ErrVerificationFailed, run.ID, run.SHA, mctx.Revision.Short())
	}
	var jobs []ci.Job
	for _, j := range run.Jobs {
		if j.SHA == "" || j.SHA == run.SHA {
			jobs = append(jobs, j)
		}
	}
	if status := ci.Settle(run.Status, jobs); status != ci.RunSuccess {
		return fmt.Errorf("%w: run %s aggregate is %s", ci.ErrVerificationFailed, run.ID, status)
	}
	mctx.Run = run
	mctx.VerifiedSHA = run.SHA
	e.logf("verified %d jobs passed for %s", len(jobs), mctx.Revision.Short())
	return nil
}

func (e *Executor) dryRun(ctx context.Context, mctx *attempt.Context) error {
	if e.d.Git == nil {
		return fmt.Errorf("%w: no local repository for trial merge", ci.ErrPreMergeTestFailed)
	}
	res, err := e.d.Git.TrialMerge(ctx, e.opts.Dir, e.d.Runner, git.TrialOpts{
		Branch:      mctx.Branch,
		Target:      mctx.Target,
		TestCommand: e.opts.TestCommand,
		TestTimeout: e.opts.TestTimeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ci.ErrPreMergeTestFailed, err)
	}
	switch {
	case res.Conflict:
		return &trialError{fmt.Errorf("%w: trial merge into %s conflicts", ci.ErrPreMergeTestFailed, mctx.Target), res.Output}
	case !res.Passed():
		return &trialError{fmt.Errorf("%w: %q exited %d", ci.ErrPreMergeTestFailed, e.opts.TestCommand, res.ExitCode), res.Output}
	}
	e.logf("trial merge into %s passed", mctx.Target)
	return nil
}

// trialError carries dry-run output into the abort diagnostics.
type trialError struct {
	err    error
	output string
}

func (t *trialError) Error() string { return t.err.Error() }
func (t *trialError) Unwrap() error { return t.err }

// cleanup runs every post-merge step, recording failures as warnings. The
// merge is already durable, so nothing here can fail the attempt.
func (e *Executor) cleanup(ctx context.Context, mctx *attempt.Context) {
	if e.opts.DeleteRemoteBranch {
		if err := e.d.Backend.DeleteBranch(ctx, mctx.Branch); err != nil {
			e.warn(mctx, "delete remote branch %s: %v", mctx.Branch, err)
		}
	}
	if e.d.Git == nil {
		return
	}
	if e.opts.SyncTarget {
		if err := e.d.Git.Checkout(ctx, e.opts.Dir, mctx.Target); err != nil {
			e.warn(mctx, "checkout %s: %v", mctx.Target, err)
		} else if err := e.d.Git.Pull(ctx, e.opts.Dir, mctx.Target); err != nil {
			e.warn(mctx, "pull %s: %v", mctx.Target, err)
		}
	}
	if e.opts.DeleteLocalBranch {
		if err := e.d.Git.DeleteLocalBranch(ctx, e.opts.Dir, mctx.Branch); err != nil {
			e.warn(mctx, "delete local branch %s: %v", mctx.Branch, err)
		}
	}
}

func (e *Executor) warn(mctx *attempt.Context, format string, args ...any) {
	mctx.Warn(format, args...)
	e.logf("warning: "+format, args...)
}

// abort moves mctx to Aborted, records diagnostics, and returns the
// AbortError describing it.
func (e *Executor) abort(ctx context.Context, mctx *attempt.Context, cause error) error {
	reason := reasonFor(cause)
	ae := &AbortError{
		AttemptID:   mctx.ID,
		State:       mctx.State,
		Reason:      reason,
		Err:         cause,
		Diagnostics: diagnostics(mctx, cause),
	}
	info := &attempt.AbortInfo{
		State:      mctx.State,
		Reason:     reason,
		Error:      cause.Error(),
		FailingJob: ae.Diagnostics.FailingJob,
		LogExcerpt: ae.Diagnostics.LogExcerpt,
	}
	mctx.Abort = info
	mctx.Decision = &ci.MergeDecision{
		Approved:  false,
		Reason:    reason,
		Strategy:  mctx.Strategy,
		DecidedAt: e.d.Clock.Now(),
	}
	if err := mctx.Transition(attempt.StateAborted, e.d.Clock.Now(), reason); err != nil {
		e.logf("warning: %v", err)
	}
	e.logf("%s: aborted in %s: %s", mctx.Branch, info.State, cause)
	e.save(ctx, mctx)
	return ae
}

func diagnostics(mctx *attempt.Context, cause error) Diagnostics {
	d := Diagnostics{History: mctx.History}
	if mctx.Run != nil {
		d.RunURL = mctx.Run.WebURL
		if j := mctx.Run.FirstFailure(); j != nil {
			d.FailingJob = j.Name
			d.LogExcerpt = j.LogExcerpt
		}
	}
	if mctx.Failure != nil {
		d.Category = mctx.Failure.Category
	}
	var te *trialError
	if errors.As(cause, &te) && te.output != "" {
		d.FailingJob = "dry-run"
		d.LogExcerpt = ci.Tail(te.output, ci.MaxLogExcerpt)
	}
	return d
}

func failureNote(o *poller.Outcome) string {
	if o.FirstFailure == nil {
		return "pipeline failed"
	}
	return fmt.Sprintf("job %s %s", o.FirstFailure.Name, o.FirstFailure.Conclusion)
}

// OverrideRequest is a manually authorized merge.
type OverrideRequest struct {
	Branch       string
	SHA          string
	Target       string
	Strategy     ci.MergeStrategy
	Reason       string
	AuthorizedBy string
}

// Override merges without running the gate. It is a separate, explicitly
// authorized path: the attempt never enters the automated states, so the
// verified-success requirement on Merging is not weakened.
func (e *Executor) Override(ctx context.Context, req OverrideRequest) (*Outcome, error) {
	if strings.TrimSpace(req.AuthorizedBy) == "" {
		return nil, errors.New("override requires an authorizer")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, errors.New("override requires a reason")
	}
	r := e.resolve(Request{Branch: req.Branch, SHA: req.SHA, Target: req.Target, Strategy: req.Strategy})
	if r.Branch == "" {
		return nil, errors.New("branch is required")
	}
	h, err := e.d.Locks.Acquire(r.Branch)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	mctx := attempt.New(r.Branch, r.Target, r.Strategy, e.d.Clock.Now())
	out := &Outcome{Attempt: mctx}
	e.logf("attempt %s: manual override by %s: %s", mctx.ID, req.AuthorizedBy, req.Reason)

	sha, err := e.headSHA(ctx, r)
	if err != nil {
		return out, err
	}
	rev, err := e.d.Tracker.Capture(ctx, r.Branch, sha)
	if err != nil {
		return out, err
	}
	mctx.SetRevision(rev)

	merged, err := e.d.Backend.Merge(ctx, ci.MergeRequest{
		Branch:   r.Branch,
		Target:   r.Target,
		SHA:      rev.SHA,
		Strategy: r.Strategy,
	})
	if err != nil {
		mctx.Warn("override merge failed: %v", err)
		e.save(ctx, mctx)
		return out, fmt.Errorf("override merge: %w", err)
	}

	now := e.d.Clock.Now()
	err = mctx.MarkOverridden(ci.MergeDecision{
		Approved:     true,
		Reason:       "manual override: " + req.Reason,
		MergedSHA:    merged,
		Strategy:     r.Strategy,
		DecidedAt:    now,
		Override:     true,
		AuthorizedBy: req.AuthorizedBy,
	}, now)
	if err != nil {
		mctx.Warn("%v", err)
		e.save(ctx, mctx)
		return out, err
	}
	e.cleanup(ctx, mctx)
	e.save(ctx, mctx)
	out.Decision = mctx.Decision
	return out, nil
}
