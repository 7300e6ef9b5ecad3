// Package fixer runs the configured fix command for a failure category.
package fixer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/mergegate/internal/ci"
	"github.com/lucasnoah/mergegate/internal/clock"
)

// DefaultTimeout caps one fix application.
const DefaultTimeout = 120 * time.Second

// ErrNoStrategy means no fix command is configured for the category.
var ErrNoStrategy = errors.New("no fix strategy configured")

// Strategy is how one category is fixed.
type Strategy struct {
	Name    string
	Command string
	// Verify, if set, runs after Command; the fix only succeeds if it exits 0.
	Verify  string
	Timeout time.Duration
}

// ChangeDetector lists files modified in a working tree.
type ChangeDetector interface {
	ChangedFiles(ctx context.Context, dir string) ([]string, error)
}

// FixContext is what a strategy gets to work with.
type FixContext struct {
	Dir     string
	Job     ci.Job
	Failure ci.FailureCategory
	Attempt int
}

// Result is the outcome of one fix application.
type Result struct {
	Strategy     string        `json:"strategy"`
	Success      bool          `json:"success"`
	FilesChanged []string      `json:"files_changed,omitempty"`
	ExitCode     int           `json:"exit_code"`
	TimedOut     bool          `json:"timed_out,omitempty"`
	Output       string        `json:"output,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Fixer applies category strategies as subprocesses.
type Fixer struct {
	cmd        CommandRunner
	changes    ChangeDetector
	strategies map[ci.Category]Strategy
	clock      clock.Clock
}

// New creates a Fixer. Strategies for security are dropped: security
// failures are never fixed automatically. A nil clock means the real clock.
func New(cmd CommandRunner, changes ChangeDetector, strategies map[ci.Category]Strategy, clk clock.Clock) *Fixer {
	if clk == nil {
		clk = clock.Real()
	}
	f := &Fixer{cmd: cmd, changes: changes, strategies: make(map[ci.Category]Strategy), clock: clk}
	for cat, s := range strategies {
		if cat == ci.CategorySecurity || strings.TrimSpace(s.Command) == "" {
			continue
		}
		if s.Name == "" {
			s.Name = string(cat) + "-fix"
		}
		if s.Timeout <= 0 {
			s.Timeout = DefaultTimeout
		}
		f.strategies[cat] = s
	}
	return f
}

// StrategyFor returns the strategy configured for cat.
func (f *Fixer) StrategyFor(cat ci.Category) (Strategy, bool) {
	s, ok := f.strategies[cat]
	return s, ok
}

// ApplyFix runs the strategy for cat in fc.Dir under the strategy timeout.
// A non-zero exit is not an error by itself: many fixers exit non-zero
// after fixing what they could. Success means the command finished in time,
// verification (if any) passed, and at least one file changed.
func (f *Fixer) ApplyFix(ctx context.Context, cat ci.Category, fc FixContext) (*Result, error) {
	s, ok := f.strategies[cat]
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoStrategy, cat)
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	res := &Result{Strategy: s.Name}
	start := f.clock.Now()
	stdout, stderr, exitCode, err := f.cmd.Run(ctx, fc.Dir, expand(s.Command, fc))
	res.Duration = f.clock.Now().Sub(start)
	res.ExitCode = exitCode
	res.Output = ci.Tail(combine(stdout, stderr), ci.MaxLogExcerpt)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			res.TimedOut = true
			res.Output = fmt.Sprintf("timeout after %s\n%s", s.Timeout, res.Output)
			return res, nil
		}
		return nil, fmt.Errorf("run fix %q: %w", s.Name, err)
	}
	if ctx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		return res, nil
	}

	files, err := f.changes.ChangedFiles(ctx, fc.Dir)
	if err != nil {
		return nil, fmt.Errorf("detect changed files: %w", err)
	}
	res.FilesChanged = files

	if s.Verify != "" {
		vout, verr, vcode, err := f.cmd.Run(ctx, fc.Dir, s.Verify)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				res.TimedOut = true
				return res, nil
			}
			return nil, fmt.Errorf("verify fix %q: %w", s.Name, err)
		}
		if vcode != 0 {
			res.ExitCode = vcode
			res.Output = ci.Tail(combine(vout, verr), ci.MaxLogExcerpt)
			return res, nil
		}
	}

	res.Success = len(files) > 0
	res.Duration = f.clock.Now().Sub(start)
	return res, nil
}

// expand substitutes {files} and {job} placeholders in a command.
func expand(command string, fc FixContext) string {
	quoted := make([]string, len(fc.Failure.Files))
	for i, f := range fc.Failure.Files {
		quoted[i] = shellQuote(f)
	}
	r := strings.NewReplacer(
		"{files}", strings.Join(quoted, " "),
		"{job}", shellQuote(fc.Job.Name),
	)
	return r.Replace(command)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func combine(stdout, stderr string) string {
	if stderr == "" {
		return stdout
	}
	if stdout == "" {
		return stderr
	}
	return stdout + "\n" + stderr
}
