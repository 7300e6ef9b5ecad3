// Package autofix drives the bounded fix → push → re-poll loop for a failed
// pipeline.
package autofix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lucasnoah/mergegate/internal/attempt"
	"github.com/lucasnoah/mergegate/internal/ci"
	"github.com/lucasnoah/mergegate/internal/clock"
	"github.com/lucasnoah/mergegate/internal/fixer"
	"github.com/lucasnoah/mergegate/internal/poller"
)

// Classifier categorizes a failing job.
type Classifier interface {
	ClassifyJob(j ci.Job) ci.FailureCategory
}

// Fixer applies category fix strategies.
type Fixer interface {
	StrategyFor(cat ci.Category) (fixer.Strategy, bool)
	ApplyFix(ctx context.Context, cat ci.Category, fc fixer.FixContext) (*fixer.Result, error)
}

// Workspace is the local checkout fixes run in. Prepare checks out the
// failing revision on its branch, Publish commits and pushes the result and
// returns the new SHA, Reset throws away a failed attempt.
type Workspace interface {
	Prepare(ctx context.Context, dir, branch, sha string) error
	Publish(ctx context.Context, dir, branch, message string) (string, error)
	Reset(ctx context.Context, dir, sha string) error
}

// Tracker rebinds the attempt to a newly pushed revision.
type Tracker interface {
	Capture(ctx context.Context, branch, sha string) (ci.Revision, error)
	FindPipeline(ctx context.Context, rev ci.Revision) (*ci.PipelineRun, error)
}

// Poller waits for a run to finish.
type Poller interface {
	Poll(ctx context.Context, rev ci.Revision, runID string) (*poller.Outcome, error)
}

// Options bounds the loop.
type Options struct {
	MaxAttempts int           // default 3
	Cooldown    time.Duration // wait after push before re-polling; default 30s
	Dir         string        // working tree fixes run in
}

// Status is how the loop ended.
type Status string

const (
	StatusSuccess             Status = "success"
	StatusRequiresHuman       Status = "requires_human_intervention"
	StatusCircular            Status = "circular_fix_detected"
	StatusFixFailed           Status = "fix_application_failed"
	StatusMaxAttemptsExceeded Status = "max_attempts_exceeded"
	StatusTimedOut            Status = "timed_out"
	StatusNoPipeline          Status = "no_pipeline_triggered"
	StatusRevisionUnavailable Status = "revision_unavailable"
	StatusCancelled           Status = "cancelled"
)

// Result is the loop's outcome.
type Result struct {
	Status   Status
	Attempts int
	History  []ci.FixAttempt
	// Failure is the classification that ended or last drove the loop.
	Failure *ci.FailureCategory
	// Job is the failing job behind Failure.
	Job *ci.Job
	// Outcome is the last poll outcome: Passed on success.
	Outcome *poller.Outcome
}

// Loop is the auto-fix loop.
type Loop struct {
	classifier Classifier
	fixer      Fixer
	workspace  Workspace
	tracker    Tracker
	poller     Poller
	clock      clock.Clock
	opts       Options
	checkpoint func(context.Context, *attempt.Context)
	progress   io.Writer
}

// New creates a Loop. A nil clock means the real clock.
func New(c Classifier, f Fixer, w Workspace, t Tracker, pl Poller, clk clock.Clock, opts Options) *Loop {
	if clk == nil {
		clk = clock.Real()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Cooldown < 0 {
		opts.Cooldown = 0
	}
	return &Loop{classifier: c, fixer: f, workspace: w, tracker: t, poller: pl, clock: clk, opts: opts}
}

// SetCheckpoint sets a hook called whenever the attempt context changes.
func (l *Loop) SetCheckpoint(fn func(context.Context, *attempt.Context)) {
	l.checkpoint = fn
}

// SetProgress sets a writer for live progress output.
func (l *Loop) SetProgress(w io.Writer) {
	l.progress = w
}

func (l *Loop) logf(format string, args ...any) {
	if l.progress != nil {
		fmt.Fprintf(l.progress, "  → "+format+"\n", args...)
	}
}

func (l *Loop) save(ctx context.Context, mctx *attempt.Context) {
	if l.checkpoint != nil {
		l.checkpoint(ctx, mctx)
	}
}

// RunLoop tries to turn a Failed outcome into Passed. On success it returns
// a nil error; every other ending returns the matching ci sentinel error
// along with a Result describing it. Fix attempts are appended to
// mctx.History as each one resolves.
func (l *Loop) RunLoop(ctx context.Context, mctx *attempt.Context, failed *poller.Outcome) (*Result, error) {
	res := &Result{Outcome: failed}
	outcome := failed

	for {
		job := failingJob(outcome)
		fc := l.classifier.ClassifyJob(job)
		res.Failure, res.Job = &fc, &job
		mctx.Failure = &fc
		l.logf("job %q classified as %s (confidence %s, severity %s)", job.Name, fc.Category, fc.Confidence, fc.Severity)

		if !fc.AutoFixable {
			return l.end(ctx, mctx, res, StatusRequiresHuman,
				fmt.Errorf("%w: %s failure in job %q", ci.ErrRequiresHumanIntervention, fc.Category, job.Name))
		}
		strategy, ok := l.fixer.StrategyFor(fc.Category)
		if !ok {
			return l.end(ctx, mctx, res, StatusRequiresHuman,
				fmt.Errorf("%w: no fix strategy for %s", ci.ErrRequiresHumanIntervention, fc.Category))
		}
		if res.Attempts >= l.opts.MaxAttempts {
			return l.end(ctx, mctx, res, StatusMaxAttemptsExceeded,
				fmt.Errorf("%w: %d attempts, job %q still failing", ci.ErrMaxAttemptsExceeded, res.Attempts, job.Name))
		}
		fp := Fingerprint(fc.Category, strategy.Name, fc.Files)
		if circular(mctx.History, fp) {
			return l.end(ctx, mctx, res, StatusCircular,
				fmt.Errorf("%w: %s via %s already failed twice on the same files", ci.ErrCircularFixDetected, fc.Category, strategy.Name))
		}

		res.Attempts++
		fa := ci.FixAttempt{
			AttemptNumber:   res.Attempts,
			Category:        fc.Category,
			Job:             job.Name,
			StrategyApplied: strategy.Name,
			Files:           fc.Files,
			Fingerprint:     fp,
			StartedAt:       l.clock.Now(),
		}
		next, status, err := l.attempt(ctx, mctx, &fa, fc, job)
		fa.Duration = l.clock.Now().Sub(fa.StartedAt).String()
		mctx.History = append(mctx.History, fa)
		res.History = append(res.History, fa)
		l.save(ctx, mctx)
		if next != nil {
			res.Outcome = next
		}

		if err != nil {
			return l.end(ctx, mctx, res, status, err)
		}
		if fa.Outcome == ci.FixOutcomeReCIPassed {
			res.Status = StatusSuccess
			l.logf("auto-fix succeeded after %d attempt(s)", res.Attempts)
			return res, nil
		}
		outcome = next
	}
}

// attempt runs one fix iteration and fills in fa. A nil error with
// fa.Outcome re_ci_failed means the loop should go around again.
func (l *Loop) attempt(ctx context.Context, mctx *attempt.Context, fa *ci.FixAttempt, fc ci.FailureCategory, job ci.Job) (*poller.Outcome, Status, error) {
	l.logf("attempt %d/%d: applying %s for %s", fa.AttemptNumber, l.opts.MaxAttempts, fa.StrategyApplied, fc.Category)
	fa.Outcome = ci.FixOutcomeFixFailed

	if mctx.Revision == nil {
		return nil, StatusFixFailed, fmt.Errorf("%w: no revision to fix", ci.ErrFixApplicationFailed)
	}
	base := mctx.Revision.SHA
	if err := l.workspace.Prepare(ctx, l.opts.Dir, mctx.Branch, base); err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, StatusFixFailed, fmt.Errorf("%w: prepare working tree: %v", ci.ErrFixApplicationFailed, err)
	}

	fix, err := l.fixer.ApplyFix(ctx, fc.Category, fixer.FixContext{
		Dir:     l.opts.Dir,
		Job:     job,
		Failure: fc,
		Attempt: fa.AttemptNumber,
	})
	if err != nil {
		l.discard(ctx, base)
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, StatusFixFailed, fmt.Errorf("%w: %v", ci.ErrFixApplicationFailed, err)
	}
	fa.FilesChanged = fix.FilesChanged
	if !fix.Success {
		l.discard(ctx, base)
		reason := "no files changed"
		switch {
		case fix.TimedOut:
			reason = "timed out"
		case len(fix.FilesChanged) > 0:
			reason = fmt.Sprintf("exit code %d", fix.ExitCode)
		}
		return nil, StatusFixFailed, fmt.Errorf("%w: %s %s", ci.ErrFixApplicationFailed, fa.StrategyApplied, reason)
	}

	msg := fmt.Sprintf("fix(%s): %s for job %s\n\nAutomated fix attempt %d.", fc.Category, fa.StrategyApplied, job.Name, fa.AttemptNumber)
	sha, err := l.workspace.Publish(ctx, l.opts.Dir, mctx.Branch, msg)
	if err != nil {
		l.discard(ctx, base)
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, StatusFixFailed, fmt.Errorf("%w: publish: %v", ci.ErrFixApplicationFailed, err)
	}
	fa.Outcome = ci.FixOutcomeFixed
	fa.ResultingCommitSHA = sha
	l.logf("pushed %.8s (%d files changed); cooling down %s", sha, len(fix.FilesChanged), l.opts.Cooldown)

	if err := l.clock.Sleep(ctx, l.opts.Cooldown); err != nil {
		return nil, "", err
	}

	rev, err := l.tracker.Capture(ctx, mctx.Branch, sha)
	if err != nil {
		return nil, statusFor(err), err
	}
	mctx.SetRevision(rev)
	l.save(ctx, mctx)

	run, err := l.tracker.FindPipeline(ctx, rev)
	if err != nil {
		return nil, statusFor(err), err
	}
	mctx.Run = run

	out, err := l.poller.Poll(ctx, rev, run.ID)
	if err != nil {
		return nil, "", err
	}
	if out.Run != nil {
		mctx.Run = out.Run
	}
	switch out.Status {
	case poller.Passed:
		fa.Outcome = ci.FixOutcomeReCIPassed
		return out, "", nil
	case poller.TimedOut:
		return out, StatusTimedOut, fmt.Errorf("%w: after fix attempt %d", ci.ErrTimedOut, fa.AttemptNumber)
	}
	fa.Outcome = ci.FixOutcomeReCIFailed
	l.logf("re-CI failed for %.8s", sha)
	return out, "", nil
}

// discard resets the working tree to base after a failed attempt. It runs
// even when ctx is cancelled.
func (l *Loop) discard(ctx context.Context, base string) {
	if err := l.workspace.Reset(context.WithoutCancel(ctx), l.opts.Dir, base); err != nil {
		l.logf("reset working tree to %.8s: %v", base, err)
	}
}

func (l *Loop) end(ctx context.Context, mctx *attempt.Context, res *Result, status Status, err error) (*Result, error) {
	if status == "" {
		status = statusFor(err)
	}
	res.Status = status
	l.logf("auto-fix stopped: %v", err)
	l.save(ctx, mctx)
	return res, err
}

func statusFor(err error) Status {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusCancelled
	case errors.Is(err, ci.ErrRevisionUnavailable):
		return StatusRevisionUnavailable
	case errors.Is(err, ci.ErrNoPipelineTriggered):
		return StatusNoPipeline
	case errors.Is(err, ci.ErrTimedOut):
		return StatusTimedOut
	case errors.Is(err, ci.ErrRequiresHumanIntervention):
		return StatusRequiresHuman
	}
	return StatusFixFailed
}

// failingJob returns the job to classify. A run that failed without any
// failing job yields a placeholder so classification still happens.
func failingJob(o *poller.Outcome) ci.Job {
	if o != nil && o.FirstFailure != nil {
		return *o.FirstFailure
	}
	j := ci.Job{Name: "pipeline", Conclusion: ci.ConclusionFailure}
	if o != nil && o.Run != nil {
		j.Name = "pipeline " + o.Run.ID
	}
	return j
}
