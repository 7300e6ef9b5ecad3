// Package tracker pins a merge attempt to one revision and discovers the CI
// run triggered by it.
package tracker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lucasnoah/mergegate/internal/ci"
	"github.com/lucasnoah/mergegate/internal/clock"
)

// Options controls pipeline discovery.
type Options struct {
	Interval time.Duration // delay between "list runs" calls; default 2s
	Timeout  time.Duration // give up after this long; default 60s
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	return o
}

// Tracker binds revisions to pipeline runs.
type Tracker struct {
	backend  ci.Backend
	clock    clock.Clock
	opts     Options
	progress io.Writer
}

// New creates a Tracker. A nil clock means the real clock.
func New(backend ci.Backend, clk clock.Clock, opts Options) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	return &Tracker{backend: backend, clock: clk, opts: opts.withDefaults()}
}

// SetProgress sets a writer for live progress output.
func (t *Tracker) SetProgress(w io.Writer) {
	t.progress = w
}

func (t *Tracker) logf(format string, args ...any) {
	if t.progress != nil {
		fmt.Fprintf(t.progress, "  → "+format+"\n", args...)
	}
}

// Capture records sha as the revision under test for branch. The SHA must
// resolve on the remote; an abbreviated SHA is expanded to the remote's form.
func (t *Tracker) Capture(ctx context.Context, branch, sha string) (ci.Revision, error) {
	sha = strings.TrimSpace(sha)
	if sha == "" {
		return ci.Revision{}, fmt.Errorf("%w: empty sha for branch %q", ci.ErrRevisionUnavailable, branch)
	}
	full, err := t.backend.ResolveCommit(ctx, sha)
	if err != nil {
		return ci.Revision{}, fmt.Errorf("%w: %s: %v", ci.ErrRevisionUnavailable, sha, err)
	}
	if !strings.HasPrefix(full, sha) {
		return ci.Revision{}, fmt.Errorf("%w: remote resolved %s to %s", ci.ErrRevisionUnavailable, sha, full)
	}
	rev := ci.Revision{SHA: full, Branch: branch, CapturedAt: t.clock.Now()}
	t.logf("tracking %s at %s", branch, rev.Short())
	return rev, nil
}

// FindPipeline polls the backend for a run whose SHA equals rev.SHA. Runs for
// any other SHA are ignored. Returns ci.ErrNoPipelineTriggered on timeout.
func (t *Tracker) FindPipeline(ctx context.Context, rev ci.Revision) (*ci.PipelineRun, error) {
	start := t.clock.Now()
	for {
		run, err := t.lookup(ctx, rev)
		if err != nil {
			return nil, err
		}
		if run != nil {
			t.logf("found pipeline %s for %s", run.ID, rev.Short())
			return run, nil
		}

		elapsed := t.clock.Now().Sub(start)
		if elapsed >= t.opts.Timeout {
			break
		}
		wait := t.opts.Interval
		if remaining := t.opts.Timeout - elapsed; wait > remaining {
			wait = remaining
		}
		if err := t.clock.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: no run for %s on %s after %s",
		ci.ErrNoPipelineTriggered, rev.Short(), rev.Branch, t.opts.Timeout)
}

// lookup returns the newest run for rev, or nil if none exists yet. Backend
// errors are logged and treated as "not yet"; only cancellation is returned.
func (t *Tracker) lookup(ctx context.Context, rev ci.Revision) (*ci.PipelineRun, error) {
	runs, err := t.backend.ListRuns(ctx, rev.Branch)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.logf("list runs for %s: %v", rev.Branch, err)
		return nil, nil
	}
	for _, s := range runs {
		if s.SHA != rev.SHA {
			continue
		}
		run, err := t.backend.GetRun(ctx, s.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.logf("get run %s: %v", s.ID, err)
			return nil, nil
		}
		if run.SHA != rev.SHA {
			continue
		}
		return run, nil
	}
	return nil, nil
}
