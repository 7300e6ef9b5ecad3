// Package poller drives a pipeline run to a terminal state with adaptive
// backoff under a hard time and poll budget.
package poller

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/lucasnoah/mergegate/internal/ci"
	"github.com/lucasnoah/mergegate/internal/clock"
)

// Status is the terminal result of a poll loop.
type Status string

const (
	Passed   Status = "passed"
	Failed   Status = "failed"
	TimedOut Status = "timed_out"
)

// Outcome is what Poll observed.
type Outcome struct {
	Status Status
	// Run is the last revision-matching snapshot, nil if none was seen.
	Run          *ci.PipelineRun
	FirstFailure *ci.Job
	Polls        int
	// Intervals are the base backoff intervals used, before jitter.
	Intervals []time.Duration
	// Sleeps are the durations actually slept.
	Sleeps  []time.Duration
	Elapsed time.Duration
}

// Poller polls one run at a time. It never cancels jobs.
type Poller struct {
	backend  ci.Backend
	clock    clock.Clock
	opts     Options
	jitter   func() float64
	progress io.Writer
}

// New creates a Poller. A nil clock means the real clock.
func New(backend ci.Backend, clk clock.Clock, opts Options) *Poller {
	if clk == nil {
		clk = clock.Real()
	}
	return &Poller{
		backend: backend,
		clock:   clk,
		opts:    opts.withDefaults(),
		jitter:  RandomJitter,
	}
}

// SetJitter overrides the jitter source (for testing). f must return [0,1).
func (p *Poller) SetJitter(f func() float64) {
	p.jitter = f
}

// SetProgress sets a writer for live progress output.
func (p *Poller) SetProgress(w io.Writer) {
	p.progress = w
}

func (p *Poller) logf(format string, args ...any) {
	if p.progress != nil {
		fmt.Fprintf(p.progress, "  → "+format+"\n", args...)
	}
}

// Poll fetches run runID until its job-level aggregate is terminal or the
// budget runs out. Responses for any SHA other than rev.SHA are discarded.
// The only error returned is context cancellation.
func (p *Poller) Poll(ctx context.Context, rev ci.Revision, runID string) (*Outcome, error) {
	out := &Outcome{}
	start := p.clock.Now()
	interval := p.opts.InitialInterval

	for out.Polls < p.opts.MaxPolls && out.Elapsed < p.opts.Timeout {
		out.Polls++
		run, err := p.backend.GetRun(ctx, runID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logf("poll %d: get run %s: %v", out.Polls, runID, err)
		case run.SHA != rev.SHA:
			p.logf("poll %d: discarding run %s for %.8s, tracking %s", out.Polls, runID, run.SHA, rev.Short())
		default:
			snapshot := pinned(run, rev.SHA)
			out.Run = snapshot
			switch status := ci.Settle(snapshot.Status, snapshot.Jobs); status {
			case ci.RunSuccess:
				out.Status = Passed
				out.Elapsed = p.clock.Now().Sub(start)
				p.logf("pipeline %s passed (%d jobs)", runID, len(snapshot.Jobs))
				return out, nil
			case ci.RunFailure:
				out.Status = Failed
				out.FirstFailure = snapshot.FirstFailure()
				out.Elapsed = p.clock.Now().Sub(start)
				if out.FirstFailure != nil {
					p.logf("pipeline %s failed: job %q %s", runID, out.FirstFailure.Name, out.FirstFailure.Conclusion)
				} else {
					p.logf("pipeline %s ended %s with no jobs", runID, snapshot.Status)
				}
				return out, nil
			}
			p.logf("poll %d: pipeline %s %s", out.Polls, runID, summarize(snapshot.Jobs))
		}

		wait := p.opts.Jittered(interval, p.jitter())
		remaining := p.opts.Timeout - p.clock.Now().Sub(start)
		if wait > remaining {
			wait = remaining
		}
		if wait <= 0 {
			break
		}
		if err := p.clock.Sleep(ctx, wait); err != nil {
			return nil, err
		}
		out.Intervals = append(out.Intervals, interval)
		out.Sleeps = append(out.Sleeps, wait)
		interval = p.opts.NextInterval(interval)
		out.Elapsed = p.clock.Now().Sub(start)
	}

	out.Status = TimedOut
	out.Elapsed = p.clock.Now().Sub(start)
	p.logf("pipeline %s still pending after %d polls / %s", runID, out.Polls, out.Elapsed.Round(time.Second))
	return out, nil
}

// pinned returns a copy of run without jobs that report a different SHA. The
// provider's status is kept as reported.
func pinned(run *ci.PipelineRun, sha string) *ci.PipelineRun {
	cp := *run
	cp.Jobs = make([]ci.Job, 0, len(run.Jobs))
	for _, j := range run.Jobs {
		if j.SHA != "" && j.SHA != sha {
			continue
		}
		cp.Jobs = append(cp.Jobs, j)
	}
	return &cp
}

func summarize(jobs []ci.Job) string {
	counts := map[ci.Conclusion]int{}
	for _, j := range jobs {
		counts[j.Conclusion]++
	}
	return fmt.Sprintf("pending (%d jobs: %d success, %d pending, %d skipped)",
		len(jobs), counts[ci.ConclusionSuccess], counts[ci.ConclusionPending], counts[ci.ConclusionSkipped])
}
