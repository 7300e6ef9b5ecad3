package fixer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lucasnoah/mergegate/internal/ci"
	"github.com/lucasnoah/mergegate/internal/clock"
)

// mockCmd records calls and returns configured results.
type mockCmd struct {
	calls   []mockCall
	results []mockResult
	callIdx int
	clock   *clock.FakeClock
}

type mockCall struct {
	Dir     string
	Command string
}

type mockResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
	Block    bool          // wait for ctx to expire
	Takes    time.Duration // advances clock before returning
}

func (m *mockCmd) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	m.calls = append(m.calls, mockCall{Dir: dir, Command: command})
	if m.callIdx >= len(m.results) {
		return "", "", 0, nil
	}
	r := m.results[m.callIdx]
	m.callIdx++
	if m.clock != nil {
		m.clock.Advance(r.Takes)
	}
	if r.Block {
		<-ctx.Done()
		return "", "", -1, ctx.Err()
	}
	return r.Stdout, r.Stderr, r.ExitCode, r.Err
}

type mockChanges struct {
	files []string
	err   error
}

func (m *mockChanges) ChangedFiles(context.Context, string) ([]string, error) {
	return m.files, m.err
}

func lintStrategies() map[ci.Category]Strategy {
	return map[ci.Category]Strategy{
		ci.CategoryLint: {Name: "eslint-fix", Command: "npx eslint --fix {files}"},
	}
}

func TestApplyFix_Success(t *testing.T) {
	cmd := &mockCmd{results: []mockResult{{Stdout: "fixed", ExitCode: 1}}}
	f := New(cmd, &mockChanges{files: []string{"src/a.ts"}}, lintStrategies(), nil)

	res, err := f.ApplyFix(context.Background(), ci.CategoryLint, FixContext{
		Dir:     "/work",
		Failure: ci.FailureCategory{Files: []string{"src/a.ts", "src/it's.ts"}},
	})
	if err != nil {
		t.Fatalf("ApplyFix: %v", err)
	}
	if !res.Success {
		t.Errorf("expected success when files changed, even with exit code 1")
	}
	if res.Strategy != "eslint-fix" {
		t.Errorf("Strategy = %q, want eslint-fix", res.Strategy)
	}
	if len(cmd.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(cmd.calls))
	}
	want := `npx eslint --fix 'src/a.ts' 'src/it'\''s.ts'`
	if cmd.calls[0].Command != want {
		t.Errorf("Command = %q, want %q", cmd.calls[0].Command, want)
	}
	if cmd.calls[0].Dir != "/work" {
		t.Errorf("Dir = %q, want /work", cmd.calls[0].Dir)
	}
}

func TestApplyFix_NoChanges(t *testing.T) {
	cmd := &mockCmd{results: []mockResult{{ExitCode: 0}}}
	f := New(cmd, &mockChanges{}, lintStrategies(), nil)

	res, err := f.ApplyFix(context.Background(), ci.CategoryLint, FixContext{Dir: "/work"})
	if err != nil {
		t.Fatalf("ApplyFix: %v", err)
	}
	if res.Success {
		t.Error("a fix that changes nothing must not succeed")
	}
}

func TestApplyFix_VerifyFails(t *testing.T) {
	strategies := map[ci.Category]Strategy{
		ci.CategoryType: {Command: "./scripts/fix-types.sh", Verify: "npx tsc --noEmit"},
	}
	cmd := &mockCmd{results: []mockResult{
		{ExitCode: 0},
		{Stdout: "src/a.ts(1,1): error TS2304", ExitCode: 2},
	}}
	f := New(cmd, &mockChanges{files: []string{"src/a.ts"}}, strategies, nil)

	res, err := f.ApplyFix(context.Background(), ci.CategoryType, FixContext{Dir: "/work"})
	if err != nil {
		t.Fatalf("ApplyFix: %v", err)
	}
	if res.Success {
		t.Error("expected failure when verify exits non-zero")
	}
	if res.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", res.ExitCode)
	}
	if res.Strategy != "type-fix" {
		t.Errorf("Strategy = %q, want default name type-fix", res.Strategy)
	}
	if len(cmd.calls) != 2 || cmd.calls[1].Command != "npx tsc --noEmit" {
		t.Errorf("calls = %+v", cmd.calls)
	}
}

func TestApplyFix_Timeout(t *testing.T) {
	strategies := map[ci.Category]Strategy{
		ci.CategoryTest: {Command: "slow", Timeout: 10 * time.Millisecond},
	}
	cmd := &mockCmd{results: []mockResult{{Block: true}}}
	f := New(cmd, &mockChanges{files: []string{"x.go"}}, strategies, nil)

	res, err := f.ApplyFix(context.Background(), ci.CategoryTest, FixContext{})
	if err != nil {
		t.Fatalf("ApplyFix: %v", err)
	}
	if res.Success || !res.TimedOut {
		t.Errorf("Success = %v, TimedOut = %v; want false, true", res.Success, res.TimedOut)
	}
}

func TestApplyFix_NoStrategy(t *testing.T) {
	f := New(&mockCmd{}, &mockChanges{}, lintStrategies(), nil)
	_, err := f.ApplyFix(context.Background(), ci.CategoryBuild, FixContext{})
	if !errors.Is(err, ErrNoStrategy) {
		t.Fatalf("err = %v, want ErrNoStrategy", err)
	}
}

func TestApplyFix_ExecError(t *testing.T) {
	cmd := &mockCmd{results: []mockResult{{Err: errors.New("sh: not found")}}}
	f := New(cmd, &mockChanges{}, lintStrategies(), nil)
	if _, err := f.ApplyFix(context.Background(), ci.CategoryLint, FixContext{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestApplyFix_DurationFromClock(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cmd := &mockCmd{clock: clk, results: []mockResult{
		{Takes: 20 * time.Second},
		{Takes: 5 * time.Second},
	}}
	strategies := map[ci.Category]Strategy{
		ci.CategoryLint: {Name: "eslint-fix", Command: "npx eslint --fix .", Verify: "npx eslint ."},
	}
	f := New(cmd, &mockChanges{files: []string{"src/a.ts"}}, strategies, clk)

	res, err := f.ApplyFix(context.Background(), ci.CategoryLint, FixContext{Dir: "/work"})
	if err != nil {
		t.Fatalf("ApplyFix: %v", err)
	}
	if !res.Success {
		t.Fatalf("Success = false: %+v", res)
	}
	if res.Duration != 25*time.Second {
		t.Errorf("Duration = %v, want 25s across fix and verify", res.Duration)
	}
}

func TestNew_DropsSecurityStrategy(t *testing.T) {
	f := New(&mockCmd{}, &mockChanges{}, map[ci.Category]Strategy{
		ci.CategorySecurity: {Command: "npm audit fix --force"},
		ci.CategoryBuild:    {Command: "  "},
	}, nil)
	if _, ok := f.StrategyFor(ci.CategorySecurity); ok {
		t.Error("security strategy must be ignored")
	}
	if _, ok := f.StrategyFor(ci.CategoryBuild); ok {
		t.Error("blank command must be ignored")
	}
}
