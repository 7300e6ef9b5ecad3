package git

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type mockResult struct {
	output string
	err    error
}

type gitCall struct {
	Dir  string
	Args []string
}

// mockGitRunner replays results in order; a result keyed by the joined
// args in byArgs takes precedence.
type mockGitRunner struct {
	calls   []gitCall
	results []mockResult
	byArgs  map[string]mockResult
	idx     int
}

func (m *mockGitRunner) RunGit(_ context.Context, dir string, args ...string) (string, error) {
	m.calls = append(m.calls, gitCall{Dir: dir, Args: args})
	if r, ok := m.byArgs[strings.Join(args, " ")]; ok {
		return r.output, r.err
	}
	if m.idx >= len(m.results) {
		return "", nil
	}
	r := m.results[m.idx]
	m.idx++
	return r.output, r.err
}

func (m *mockGitRunner) commands() []string {
	var out []string
	for _, c := range m.calls {
		out = append(out, strings.Join(c.Args, " "))
	}
	return out
}

type mockCmd struct {
	commands []string
	stdout   string
	exitCode int
	err      error
}

func (m *mockCmd) Run(_ context.Context, _ string, command string) (string, string, int, error) {
	m.commands = append(m.commands, command)
	return m.stdout, "", m.exitCode, m.err
}

func TestParsePorcelain(t *testing.T) {
	out := "M src/a.ts\n?? new.go\nR  old.go -> renamed.go\nA  \"with space.go\"\n M lib/b.go"
	want := []string{"lib/b.go", "new.go", "renamed.go", "src/a.ts", "with space.go"}
	if got := parsePorcelain(out); !reflect.DeepEqual(got, want) {
		t.Errorf("parsePorcelain() = %v, want %v", got, want)
	}
	if got := parsePorcelain(""); len(got) != 0 {
		t.Errorf("parsePorcelain(\"\") = %v", got)
	}
}

func TestPublish(t *testing.T) {
	mock := &mockGitRunner{byArgs: map[string]mockResult{
		"rev-parse --abbrev-ref HEAD":      {output: "feature"},
		"rev-parse --verify HEAD^{commit}": {output: "abc123"},
	}}
	c := NewClient(mock)

	sha, err := c.Publish(context.Background(), "/work", "feature", "fix(lint): eslint --fix")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if sha != "abc123" {
		t.Errorf("sha = %q, want abc123", sha)
	}
	want := []string{
		"rev-parse --abbrev-ref HEAD",
		"add -A",
		"commit -m fix(lint): eslint --fix",
		"rev-parse --verify HEAD^{commit}",
		"push origin HEAD:refs/heads/feature",
	}
	if got := mock.commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %v, want %v", got, want)
	}
	if mock.calls[0].Dir != "/work" {
		t.Errorf("Dir = %q, want /work", mock.calls[0].Dir)
	}
}

func TestPublish_RefusesOtherBranch(t *testing.T) {
	mock := &mockGitRunner{byArgs: map[string]mockResult{
		"rev-parse --abbrev-ref HEAD": {output: "main"},
	}}
	_, err := NewClient(mock).Publish(context.Background(), "/work", "feature", "fix")
	if err == nil || !strings.Contains(err.Error(), "checked out main") {
		t.Fatalf("err = %v, want refusal while on main", err)
	}
	if got := mock.commands(); !reflect.DeepEqual(got, []string{"rev-parse --abbrev-ref HEAD"}) {
		t.Errorf("commands = %v, want nothing committed or pushed", got)
	}
}

func TestPrepare(t *testing.T) {
	mock := &mockGitRunner{}
	c := NewClient(mock)
	if err := c.Prepare(context.Background(), "/work", "feature", "abc123"); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	want := []string{
		"status --porcelain",
		"fetch origin feature",
		"checkout -B feature abc123",
	}
	if got := mock.commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %v, want %v", got, want)
	}
}

func TestPrepare_DirtyTree(t *testing.T) {
	mock := &mockGitRunner{byArgs: map[string]mockResult{
		"status --porcelain": {output: "M notes.txt"},
	}}
	err := NewClient(mock).Prepare(context.Background(), "/work", "feature", "abc123")
	if !errors.Is(err, ErrDirtyTree) {
		t.Fatalf("err = %v, want ErrDirtyTree", err)
	}
	if !strings.Contains(err.Error(), "notes.txt") {
		t.Errorf("err = %v, want the dirty path named", err)
	}
	if len(mock.calls) != 1 {
		t.Errorf("commands = %v, want only status", mock.commands())
	}
}

func TestReset(t *testing.T) {
	mock := &mockGitRunner{}
	if err := NewClient(mock).Reset(context.Background(), "/work", "abc123"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	want := []string{"reset --hard abc123", "clean -fd"}
	if got := mock.commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %v, want %v", got, want)
	}
}

func TestPublish_RejectsFlagBranch(t *testing.T) {
	c := NewClient(&mockGitRunner{})
	if _, err := c.Publish(context.Background(), "", "--force", "x"); err == nil {
		t.Fatal("expected error for branch starting with -")
	}
}

func TestTrialMerge_Clean(t *testing.T) {
	mock := &mockGitRunner{byArgs: map[string]mockResult{
		"rev-parse --abbrev-ref HEAD": {output: "feature"},
	}}
	cmd := &mockCmd{stdout: "ok"}
	c := NewClient(mock)

	res, err := c.TrialMerge(context.Background(), "/work", cmd, TrialOpts{
		Branch: "feature", Target: "main", TestCommand: "go test ./...",
	})
	if err != nil {
		t.Fatalf("TrialMerge: %v", err)
	}
	if !res.Passed() || !res.TestRan {
		t.Errorf("result = %+v, want tested and passed", res)
	}
	want := []string{
		"rev-parse --abbrev-ref HEAD",
		"fetch origin main feature",
		"checkout --detach origin/main",
		"merge --no-commit --no-ff origin/feature",
		"merge --abort",
		"checkout feature",
	}
	if got := mock.commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %v, want %v", got, want)
	}
	if len(cmd.commands) != 1 || cmd.commands[0] != "go test ./..." {
		t.Errorf("test commands = %v", cmd.commands)
	}
}

func TestTrialMerge_Conflict(t *testing.T) {
	mock := &mockGitRunner{byArgs: map[string]mockResult{
		"rev-parse --abbrev-ref HEAD": {output: "main"},
		"merge --no-commit --no-ff origin/feature": {
			output: "CONFLICT (content): Merge conflict in a.go",
			err:    errors.New("exit status 1"),
		},
	}}
	cmd := &mockCmd{}
	c := NewClient(mock)

	res, err := c.TrialMerge(context.Background(), "", cmd, TrialOpts{Branch: "feature", Target: "main", TestCommand: "make test"})
	if err != nil {
		t.Fatalf("TrialMerge: %v", err)
	}
	if !res.Conflict || res.Passed() {
		t.Errorf("result = %+v, want conflict", res)
	}
	if len(cmd.commands) != 0 {
		t.Error("tests must not run after a conflict")
	}
	cmds := mock.commands()
	if cmds[len(cmds)-2] != "merge --abort" || cmds[len(cmds)-1] != "checkout main" {
		t.Errorf("expected abort + restore, got %v", cmds)
	}
}

func TestTrialMerge_TestFailure(t *testing.T) {
	mock := &mockGitRunner{byArgs: map[string]mockResult{
		"rev-parse --abbrev-ref HEAD": {output: "feature"},
	}}
	cmd := &mockCmd{stdout: "--- FAIL: TestX", exitCode: 1}
	res, err := NewClient(mock).TrialMerge(context.Background(), "", cmd, TrialOpts{
		Branch: "feature", Target: "main", TestCommand: "go test ./...",
	})
	if err != nil {
		t.Fatalf("TrialMerge: %v", err)
	}
	if res.Passed() {
		t.Error("expected failed trial")
	}
	if !strings.Contains(res.Output, "FAIL") {
		t.Errorf("Output = %q", res.Output)
	}
}

func TestTrialMerge_NoTestCommand(t *testing.T) {
	mock := &mockGitRunner{byArgs: map[string]mockResult{
		"rev-parse --abbrev-ref HEAD": {output: "feature"},
	}}
	cmd := &mockCmd{}
	res, err := NewClient(mock).TrialMerge(context.Background(), "", cmd, TrialOpts{Branch: "feature", Target: "main"})
	if err != nil {
		t.Fatalf("TrialMerge: %v", err)
	}
	if !res.Passed() || res.TestRan {
		t.Errorf("result = %+v", res)
	}
}

func TestTrialMerge_RestoreFailure(t *testing.T) {
	mock := &mockGitRunner{byArgs: map[string]mockResult{
		"rev-parse --abbrev-ref HEAD": {output: "feature"},
		"checkout feature":            {output: "error: pathspec", err: errors.New("exit status 1")},
	}}
	_, err := NewClient(mock).TrialMerge(context.Background(), "", &mockCmd{}, TrialOpts{Branch: "feature", Target: "main"})
	if err == nil || !strings.Contains(err.Error(), "restore feature") {
		t.Fatalf("err = %v, want restore error", err)
	}
}

func TestCurrentRef_Detached(t *testing.T) {
	mock := &mockGitRunner{byArgs: map[string]mockResult{
		"rev-parse --abbrev-ref HEAD":      {output: "HEAD"},
		"rev-parse --verify HEAD^{commit}": {output: "deadbeef"},
	}}
	ref, err := NewClient(mock).CurrentRef(context.Background(), "")
	if err != nil {
		t.Fatalf("CurrentRef: %v", err)
	}
	if ref != "deadbeef" {
		t.Errorf("ref = %q, want deadbeef", ref)
	}
}

func TestDeleteLocalBranch_Missing(t *testing.T) {
	mock := &mockGitRunner{results: []mockResult{{output: "error: branch 'x' not found.", err: errors.New("exit status 1")}}}
	if err := NewClient(mock).DeleteLocalBranch(context.Background(), "", "x"); err != nil {
		t.Errorf("expected missing branch to be ignored, got %v", err)
	}
}
