// Package git wraps the local git operations a merge attempt needs: pushing
// fix commits, trial merges and post-merge cleanup.
package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/lucasnoah/mergegate/internal/ci"
)

// ErrDirtyTree is returned when a fix would start from a working tree that
// already has uncommitted changes.
var ErrDirtyTree = errors.New("working tree has uncommitted changes")

// GitRunner provides git command execution. Interface for testing.
type GitRunner interface {
	RunGit(ctx context.Context, dir string, args ...string) (string, error)
}

// CommandRunner runs a shell command. fixer.ExecRunner satisfies it.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner runs git via exec.
type ExecRunner struct{}

// RunGit implements GitRunner using exec.CommandContext.
func (r *ExecRunner) RunGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Client runs git operations against one remote.
type Client struct {
	git    GitRunner
	remote string
}

// NewClient creates a Client for the "origin" remote.
func NewClient(git GitRunner) *Client {
	return &Client{git: git, remote: "origin"}
}

func validRef(name string) error {
	if name == "" {
		return errors.New("empty ref name")
	}
	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("invalid ref name %q: must not start with -", name)
	}
	return nil
}

// HeadSHA returns the commit ref points to.
func (c *Client) HeadSHA(ctx context.Context, dir, ref string) (string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	if err := validRef(ref); err != nil {
		return "", err
	}
	out, err := c.git.RunGit(ctx, dir, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", ref, err)
	}
	return out, nil
}

// CurrentRef returns the checked-out branch, or the HEAD SHA when detached.
func (c *Client) CurrentRef(ctx context.Context, dir string) (string, error) {
	out, err := c.git.RunGit(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("current ref: %w", err)
	}
	if out != "HEAD" {
		return out, nil
	}
	return c.HeadSHA(ctx, dir, "HEAD")
}

// ChangedFiles lists paths with uncommitted changes, including untracked files.
func (c *Client) ChangedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := c.git.RunGit(ctx, dir, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	return parsePorcelain(out), nil
}

var porcelainRe = regexp.MustCompile(`^\s*[MADRCUT?!]{1,2}\s+(.+)$`)

// parsePorcelain extracts paths from `git status --porcelain` v1 output.
// The runner trims output, so the first line may have lost its leading space.
func parsePorcelain(out string) []string {
	var files []string
	for _, line := range strings.Split(out, "\n") {
		m := porcelainRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		path := m[1]
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		files = append(files, strings.Trim(path, `"`))
	}
	sort.Strings(files)
	return files
}

// Fetch updates remote-tracking refs for the given branches.
func (c *Client) Fetch(ctx context.Context, dir string, branches ...string) error {
	for _, b := range branches {
		if err := validRef(b); err != nil {
			return err
		}
	}
	args := append([]string{"fetch", c.remote}, branches...)
	if _, err := c.git.RunGit(ctx, dir, args...); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	return nil
}

// Prepare checks out branch at sha in dir, so a fix builds on exactly the
// revision that failed. The working tree must be clean.
func (c *Client) Prepare(ctx context.Context, dir, branch, sha string) error {
	if err := validRef(branch); err != nil {
		return err
	}
	if err := validRef(sha); err != nil {
		return err
	}
	dirty, err := c.ChangedFiles(ctx, dir)
	if err != nil {
		return err
	}
	if len(dirty) > 0 {
		return fmt.Errorf("%w: %s", ErrDirtyTree, strings.Join(dirty, ", "))
	}
	if err := c.Fetch(ctx, dir, branch); err != nil {
		return err
	}
	if _, err := c.git.RunGit(ctx, dir, "checkout", "-B", branch, sha); err != nil {
		return fmt.Errorf("checkout %s at %.8s: %w", branch, sha, err)
	}
	return nil
}

// Reset drops local commits and changes on top of sha, untracked files
// included. Ignored files are kept.
func (c *Client) Reset(ctx context.Context, dir, sha string) error {
	if err := validRef(sha); err != nil {
		return err
	}
	if _, err := c.git.RunGit(ctx, dir, "reset", "--hard", sha); err != nil {
		return fmt.Errorf("reset to %.8s: %w", sha, err)
	}
	if _, err := c.git.RunGit(ctx, dir, "clean", "-fd"); err != nil {
		return fmt.Errorf("clean: %w", err)
	}
	return nil
}

// Publish commits every working-tree change and pushes it to branch, which
// must be the checked-out branch. Returns the new commit SHA.
func (c *Client) Publish(ctx context.Context, dir, branch, message string) (string, error) {
	if err := validRef(branch); err != nil {
		return "", err
	}
	cur, err := c.git.RunGit(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	if cur != branch {
		return "", fmt.Errorf("publish %s: checked out %s", branch, cur)
	}
	if _, err := c.git.RunGit(ctx, dir, "add", "-A"); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}
	if _, err := c.git.RunGit(ctx, dir, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	sha, err := c.HeadSHA(ctx, dir, "HEAD")
	if err != nil {
		return "", err
	}
	if _, err := c.git.RunGit(ctx, dir, "push", c.remote, "HEAD:refs/heads/"+branch); err != nil {
		return "", fmt.Errorf("push %s: %w", branch, err)
	}
	return sha, nil
}

// Checkout switches dir to ref.
func (c *Client) Checkout(ctx context.Context, dir, ref string) error {
	if err := validRef(ref); err != nil {
		return err
	}
	if _, err := c.git.RunGit(ctx, dir, "checkout", ref); err != nil {
		return fmt.Errorf("checkout %s: %w", ref, err)
	}
	return nil
}

// Pull fast-forwards the current branch from branch on the remote.
func (c *Client) Pull(ctx context.Context, dir, branch string) error {
	if err := validRef(branch); err != nil {
		return err
	}
	if _, err := c.git.RunGit(ctx, dir, "pull", "--ff-only", c.remote, branch); err != nil {
		return fmt.Errorf("pull %s: %w", branch, err)
	}
	return nil
}

// DeleteLocalBranch force-deletes a local branch. A branch that does not
// exist locally is not an error.
func (c *Client) DeleteLocalBranch(ctx context.Context, dir, branch string) error {
	if err := validRef(branch); err != nil {
		return err
	}
	out, err := c.git.RunGit(ctx, dir, "branch", "-D", branch)
	if err != nil {
		if strings.Contains(out, "not found") {
			return nil
		}
		return fmt.Errorf("delete local branch %s: %w", branch, err)
	}
	return nil
}

// TrialOpts configures a dry-run merge.
type TrialOpts struct {
	Branch      string
	Target      string
	TestCommand string
	TestTimeout time.Duration
}

// TrialResult is the outcome of a dry-run merge.
type TrialResult struct {
	Conflict   bool   `json:"conflict"`
	TestRan    bool   `json:"test_ran"`
	TestPassed bool   `json:"test_passed"`
	ExitCode   int    `json:"exit_code"`
	Output     string `json:"output,omitempty"`
}

// Passed reports whether the trial found no conflict and no test failure.
func (r *TrialResult) Passed() bool {
	return !r.Conflict && (!r.TestRan || r.TestPassed)
}

// TrialMerge merges the remote branch into the remote target tip without
// committing, runs the test command on the result, then aborts the merge and
// restores the original checkout. Nothing is pushed.
func (c *Client) TrialMerge(ctx context.Context, dir string, run CommandRunner, opts TrialOpts) (res *TrialResult, err error) {
	if err := validRef(opts.Branch); err != nil {
		return nil, err
	}
	if err := validRef(opts.Target); err != nil {
		return nil, err
	}
	orig, err := c.CurrentRef(ctx, dir)
	if err != nil {
		return nil, err
	}
	if err := c.Fetch(ctx, dir, opts.Target, opts.Branch); err != nil {
		return nil, err
	}
	if _, err := c.git.RunGit(ctx, dir, "checkout", "--detach", c.remote+"/"+opts.Target); err != nil {
		return nil, fmt.Errorf("checkout %s/%s: %w", c.remote, opts.Target, err)
	}

	// Restore even on failure; cleanup uses a fresh context so cancellation
	// does not leave the tree mid-merge.
	defer func() {
		restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		_, _ = c.git.RunGit(restoreCtx, dir, "merge", "--abort")
		if _, rerr := c.git.RunGit(restoreCtx, dir, "checkout", orig); rerr != nil && err == nil {
			err = fmt.Errorf("restore %s: %w", orig, rerr)
		}
	}()

	res = &TrialResult{}
	out, err := c.git.RunGit(ctx, dir, "merge", "--no-commit", "--no-ff", c.remote+"/"+opts.Branch)
	if err != nil {
		if strings.Contains(out, "CONFLICT") || strings.Contains(out, "conflict") {
			res.Conflict = true
			res.Output = out
			return res, nil
		}
		return nil, fmt.Errorf("trial merge: %w", err)
	}

	if strings.TrimSpace(opts.TestCommand) == "" {
		return res, nil
	}
	timeout := opts.TestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res.TestRan = true
	stdout, stderr, code, err := run.Run(tctx, dir, opts.TestCommand)
	combined := stdout
	if stderr != "" {
		combined += "\n" + stderr
	}
	res.ExitCode = code
	if err != nil {
		if tctx.Err() == context.DeadlineExceeded {
			res.Output = fmt.Sprintf("test command timed out after %s\n%s", timeout, ci.Tail(combined, ci.MaxLogExcerpt))
			return res, nil
		}
		return nil, fmt.Errorf("run test command: %w", err)
	}
	res.TestPassed = code == 0
	if !res.TestPassed {
		res.Output = ci.Tail(combined, ci.MaxLogExcerpt)
	}
	return res, nil
}
