package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/mergegate/internal/attempt"
	"github.com/lucasnoah/mergegate/internal/autofix"
	"github.com/lucasnoah/mergegate/internal/ci"
	"github.com/lucasnoah/mergegate/internal/clock"
	"github.com/lucasnoah/mergegate/internal/git"
	"github.com/lucasnoah/mergegate/internal/lock"
	"github.com/lucasnoah/mergegate/internal/poller"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	sha1 = "1111111111111111111111111111111111111111"
	sha2 = "2222222222222222222222222222222222222222"
)

// --- fakes ---

type fakeBackend struct {
	runs      map[string]*ci.PipelineRun // keyed by run ID
	getErr    error
	merges    []ci.MergeRequest
	mergeSHA  string
	mergeErr  error
	deleted   []string
	deleteErr error
}

func (b *fakeBackend) ResolveCommit(_ context.Context, sha string) (string, error) { return sha, nil }
func (b *fakeBackend) ListRuns(context.Context, string) ([]ci.RunSummary, error)   { return nil, nil }

func (b *fakeBackend) GetRun(_ context.Context, id string) (*ci.PipelineRun, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	r, ok := b.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s not found", id)
	}
	return r, nil
}

func (b *fakeBackend) Merge(_ context.Context, req ci.MergeRequest) (string, error) {
	b.merges = append(b.merges, req)
	if b.mergeErr != nil {
		return "", b.mergeErr
	}
	return b.mergeSHA, nil
}

func (b *fakeBackend) DeleteBranch(_ context.Context, branch string) error {
	b.deleted = append(b.deleted, branch)
	return b.deleteErr
}

type fakeTracker struct {
	captures   []string
	captureErr error
	findErr    error
}

func (t *fakeTracker) Capture(_ context.Context, branch, sha string) (ci.Revision, error) {
	t.captures = append(t.captures, sha)
	if t.captureErr != nil {
		return ci.Revision{}, t.captureErr
	}
	return ci.Revision{SHA: sha, Branch: branch, CapturedAt: epoch}, nil
}

func (t *fakeTracker) FindPipeline(_ context.Context, rev ci.Revision) (*ci.PipelineRun, error) {
	if t.findErr != nil {
		return nil, t.findErr
	}
	return &ci.PipelineRun{ID: "run-" + rev.SHA[:4], SHA: rev.SHA, Status: ci.RunPending}, nil
}

type fakePoller struct {
	outcome *poller.Outcome
	err     error
	calls   int
}

func (p *fakePoller) Poll(_ context.Context, rev ci.Revision, runID string) (*poller.Outcome, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.outcome, nil
}

// fakeAutoFix simulates a fix loop that pushes sha2 and gets it green.
type fakeAutoFix struct {
	err   error
	calls int
}

func (f *fakeAutoFix) RunLoop(_ context.Context, mctx *attempt.Context, failed *poller.Outcome) (*autofix.Result, error) {
	f.calls++
	if f.err != nil {
		return &autofix.Result{}, f.err
	}
	mctx.History = append(mctx.History, ci.FixAttempt{AttemptNumber: 1, Category: ci.CategoryLint, Outcome: ci.FixOutcomeReCIPassed, ResultingCommitSHA: sha2})
	mctx.SetRevision(ci.Revision{SHA: sha2, Branch: mctx.Branch, CapturedAt: epoch})
	mctx.Run = &ci.PipelineRun{ID: "run-2222", SHA: sha2, Status: ci.RunSuccess}
	return &autofix.Result{Status: autofix.StatusSuccess, Attempts: 1, Outcome: &poller.Outcome{Status: poller.Passed, Run: mctx.Run}}, nil
}

type fakeGit struct {
	head     string
	headRefs []string
	trial    *git.TrialResult
	trialErr error
	trials   int
	pullErr  error
	calls    []string
}

func (g *fakeGit) Fetch(_ context.Context, _ string, branches ...string) error {
	g.calls = append(g.calls, "fetch "+strings.Join(branches, " "))
	return nil
}

func (g *fakeGit) HeadSHA(_ context.Context, _, ref string) (string, error) {
	g.headRefs = append(g.headRefs, ref)
	return g.head, nil
}

func (g *fakeGit) TrialMerge(context.Context, string, git.CommandRunner, git.TrialOpts) (*git.TrialResult, error) {
	g.trials++
	if g.trialErr != nil {
		return nil, g.trialErr
	}
	return g.trial, nil
}

func (g *fakeGit) Checkout(_ context.Context, _, ref string) error {
	g.calls = append(g.calls, "checkout "+ref)
	return nil
}

func (g *fakeGit) Pull(_ context.Context, _, branch string) error {
	g.calls = append(g.calls, "pull "+branch)
	return g.pullErr
}

func (g *fakeGit) DeleteLocalBranch(_ context.Context, _, branch string) error {
	g.calls = append(g.calls, "branch -D "+branch)
	return nil
}

// --- harness ---

func greenRun(sha string) *ci.PipelineRun {
	return &ci.PipelineRun{
		ID:     "run-" + sha[:4],
		SHA:    sha,
		Status: ci.RunSuccess,
		Jobs: []ci.Job{
			{ID: "1", Name: "lint", Conclusion: ci.ConclusionSuccess, SHA: sha},
			{ID: "2", Name: "test", Conclusion: ci.ConclusionSuccess, SHA: sha},
		},
	}
}

type harness struct {
	backend *fakeBackend
	tracker *fakeTracker
	poller  *fakePoller
	autofix *fakeAutoFix
	git     *fakeGit
	store   *attempt.FileStore
	locks   *lock.Manager
	opts    Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		backend: &fakeBackend{
			runs:     map[string]*ci.PipelineRun{"run-1111": greenRun(sha1), "run-2222": greenRun(sha2)},
			mergeSHA: "mmmmmmmmmmmm",
		},
		tracker: &fakeTracker{},
		poller:  &fakePoller{outcome: &poller.Outcome{Status: poller.Passed, Run: greenRun(sha1)}},
		autofix: &fakeAutoFix{},
		git:     &fakeGit{head: sha1, trial: &git.TrialResult{TestRan: true, TestPassed: true}},
		store:   attempt.NewFileStore(t.TempDir()),
		locks:   lock.NewManager(t.TempDir()),
		opts: Options{
			Target:             "main",
			Strategy:           ci.StrategySquash,
			DeleteRemoteBranch: true,
			DeleteLocalBranch:  true,
			SyncTarget:         true,
		},
	}
}

func (h *harness) executor() *Executor {
	return New(Deps{
		Backend: h.backend,
		Tracker: h.tracker,
		Poller:  h.poller,
		AutoFix: h.autofix,
		Git:     h.git,
		Locks:   h.locks,
		Store:   h.store,
		Clock:   clock.Fake(epoch),
	}, h.opts)
}

func states(c *attempt.Context) []attempt.State {
	var out []attempt.State
	for _, tr := range c.Transitions {
		out = append(out, tr.To)
	}
	return out
}

func sameStates(a, b []attempt.State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func requireAbort(t *testing.T, err error, reason string) *AbortError {
	t.Helper()
	var ae *AbortError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *AbortError", err)
	}
	if ae.Reason != reason {
		t.Errorf("Reason = %q, want %q", ae.Reason, reason)
	}
	return ae
}

// --- tests ---

func TestExecute_Merged(t *testing.T) {
	h := newHarness(t)
	out, err := h.executor().Execute(context.Background(), Request{Branch: "feature", SHA: sha1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Decision == nil || !out.Decision.Approved {
		t.Fatalf("Decision = %+v, want approved", out.Decision)
	}
	if out.Decision.MergedSHA != "mmmmmmmmmmmm" {
		t.Errorf("MergedSHA = %q", out.Decision.MergedSHA)
	}
	want := []attempt.State{
		attempt.StateTracking, attempt.StatePolling, attempt.StateVerifying,
		attempt.StateDryRunTesting, attempt.StateMerging, attempt.StateCleaningUp, attempt.StateCompleted,
	}
	if got := states(out.Attempt); !sameStates(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
	if len(h.backend.merges) != 1 || h.backend.merges[0].SHA != sha1 {
		t.Fatalf("merges = %+v, want one merge of %s", h.backend.merges, sha1)
	}
	if h.backend.merges[0].Strategy != ci.StrategySquash || h.backend.merges[0].Target != "main" {
		t.Errorf("merge request = %+v", h.backend.merges[0])
	}
	if h.autofix.calls != 0 {
		t.Errorf("autofix calls = %d, want 0", h.autofix.calls)
	}
	if h.git.trials != 0 {
		t.Errorf("trial merges = %d, want 0 with dry run disabled", h.git.trials)
	}
	if len(h.backend.deleted) != 1 || h.backend.deleted[0] != "feature" {
		t.Errorf("deleted = %v, want [feature]", h.backend.deleted)
	}
	wantGit := []string{"checkout main", "pull main", "branch -D feature"}
	if strings.Join(h.git.calls, ",") != strings.Join(wantGit, ",") {
		t.Errorf("git calls = %v, want %v", h.git.calls, wantGit)
	}

	saved, err := h.store.Load(context.Background(), out.Attempt.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if saved.State != attempt.StateCompleted {
		t.Errorf("saved state = %s, want completed", saved.State)
	}
	if saved.VerifiedSHA != sha1 {
		t.Errorf("saved VerifiedSHA = %q, want %q", saved.VerifiedSHA, sha1)
	}
}

func TestExecute_PollTimeoutAborts(t *testing.T) {
	h := newHarness(t)
	h.poller.outcome = &poller.Outcome{Status: poller.TimedOut, Polls: 10, Elapsed: 601 * time.Second}

	out, err := h.executor().Execute(context.Background(), Request{Branch: "feature", SHA: sha1})
	ae := requireAbort(t, err, "ci status polling timed out")
	if ae.State != attempt.StatePolling {
		t.Errorf("abort state = %s, want polling", ae.State)
	}
	if !errors.Is(err, ci.ErrTimedOut) {
		t.Errorf("errors.Is(err, ErrTimedOut) = false")
	}
	if out.Decision == nil || out.Decision.Approved {
		t.Fatalf("Decision = %+v, want rejected", out.Decision)
	}
	if out.Decision.Reason != ReasonTimedOut {
		t.Errorf("Decision.Reason = %q, want %q", out.Decision.Reason, ReasonTimedOut)
	}
	if out.Attempt.State != attempt.StateAborted {
		t.Errorf("State = %s, want aborted", out.Attempt.State)
	}
	if len(h.backend.merges) != 0 {
		t.Errorf("merges = %d, want 0", len(h.backend.merges))
	}

	saved, err := h.store.Load(context.Background(), out.Attempt.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if saved.Abort == nil || saved.Abort.Reason != ReasonTimedOut {
		t.Errorf("saved Abort = %+v", saved.Abort)
	}
}

func TestExecute_AutoFixThenMerge(t *testing.T) {
	h := newHarness(t)
	failed := &ci.PipelineRun{ID: "run-1111", SHA: sha1, Status: ci.RunFailure, Jobs: []ci.Job{
		{Name: "lint", Conclusion: ci.ConclusionFailure, LogExcerpt: "eslint"},
	}}
	h.poller.outcome = &poller.Outcome{Status: poller.Failed, Run: failed, FirstFailure: &failed.Jobs[0]}

	out, err := h.executor().Execute(context.Background(), Request{Branch: "feature", SHA: sha1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if h.autofix.calls != 1 {
		t.Errorf("autofix calls = %d, want 1", h.autofix.calls)
	}
	if len(h.backend.merges) != 1 || h.backend.merges[0].SHA != sha2 {
		t.Fatalf("merges = %+v, want merge of fixed revision %s", h.backend.merges, sha2)
	}
	if !strings.Contains(out.Decision.Reason, "1 auto-fix attempt") {
		t.Errorf("Reason = %q", out.Decision.Reason)
	}
	got := states(out.Attempt)
	if len(got) < 3 || got[2] != attempt.StateFixing {
		t.Errorf("transitions = %v, want fixing after polling", got)
	}
}

func TestExecute_AutoFixAbort(t *testing.T) {
	tests := []struct {
		err    error
		reason string
	}{
		{fmt.Errorf("%w: security failure", ci.ErrRequiresHumanIntervention), ReasonRequiresHuman},
		{fmt.Errorf("%w: lint", ci.ErrCircularFixDetected), ReasonCircularFix},
		{fmt.Errorf("%w: 3 attempts", ci.ErrMaxAttemptsExceeded), ReasonMaxAttempts},
		{fmt.Errorf("%w: no files changed", ci.ErrFixApplicationFailed), ReasonFixFailed},
		{fmt.Errorf("%w: after fix", ci.ErrNoPipelineTriggered), ReasonNoPipeline},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			h := newHarness(t)
			failed := &ci.PipelineRun{ID: "run-1111", SHA: sha1, Status: ci.RunFailure, WebURL: "https://ci/1", Jobs: []ci.Job{
				{Name: "security-scan", Conclusion: ci.ConclusionFailure, LogExcerpt: "CVE-2024-0001"},
			}}
			h.poller.outcome = &poller.Outcome{Status: poller.Failed, Run: failed, FirstFailure: &failed.Jobs[0]}
			h.autofix.err = tt.err

			out, err := h.executor().Execute(context.Background(), Request{Branch: "feature", SHA: sha1})
			ae := requireAbort(t, err, tt.reason)
			if ae.State != attempt.StateFixing {
				t.Errorf("abort state = %s, want fixing", ae.State)
			}
			if ae.Diagnostics.FailingJob != "security-scan" {
				t.Errorf("FailingJob = %q", ae.Diagnostics.FailingJob)
			}
			if ae.Diagnostics.RunURL != "https://ci/1" {
				t.Errorf("RunURL = %q", ae.Diagnostics.RunURL)
			}
			if out.Decision.Approved {
				t.Error("Decision approved, want rejected")
			}
			if len(h.backend.merges) != 0 {
				t.Errorf("merges = %d, want 0", len(h.backend.merges))
			}
		})
	}
}

func TestExecute_VerificationFails(t *testing.T) {
	tests := []struct {
		name string
		run  *ci.PipelineRun
	}{
		{"job failed after poll", &ci.PipelineRun{ID: "run-1111", SHA: sha1, Status: ci.RunSuccess, Jobs: []ci.Job{
			{Name: "lint", Conclusion: ci.ConclusionSuccess},
			{Name: "e2e", Conclusion: ci.ConclusionFailure},
		}}},
		{"job re-queued", &ci.PipelineRun{ID: "run-1111", SHA: sha1, Status: ci.RunRunning, Jobs: []ci.Job{
			{Name: "lint", Conclusion: ci.ConclusionPending},
		}}},
		{"no jobs", &ci.PipelineRun{ID: "run-1111", SHA: sha1, Status: ci.RunSuccess}},
		{"different revision", greenRun(sha2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.backend.runs["run-1111"] = tt.run

			out, err := h.executor().Execute(context.Background(), Request{Branch: "feature", SHA: sha1})
			ae := requireAbort(t, err, ReasonVerificationFailed)
			if ae.State != attempt.StateVerifying {
				t.Errorf("abort state = %s, want verifying", ae.State)
			}
			if out.Attempt.VerifiedSHA != "" {
				t.Errorf("VerifiedSHA = %q, want empty", out.Attempt.VerifiedSHA)
			}
			if len(h.backend.merges) != 0 {
				t.Errorf("merges = %d, want 0", len(h.backend.merges))
			}
		})
	}
}

func TestExecute_DryRunTestFailure(t *testing.T) {
	h := newHarness(t)
	h.opts.DryRun = true
	h.opts.TestCommand = "make test"
	h.git.trial = &git.TrialResult{TestRan: true, TestPassed: false, ExitCode: 2, Output: "--- FAIL: TestX"}

	_, err := h.executor().Execute(context.Background(), Request{Branch: "feature", SHA: sha1})
	ae := requireAbort(t, err, ReasonPreMergeTestFailed)
	if ae.State != attempt.StateDryRunTesting {
		t.Errorf("abort state = %s, want dry_run_testing", ae.State)
	}
	if ae.Diagnostics.FailingJob != "dry-run" {
		t.Errorf("FailingJob = %q, want dry-run", ae.Diagnostics.FailingJob)
	}
	if !strings.Contains(ae.Diagnostics.LogExcerpt, "FAIL: TestX") {
		t.Errorf("LogExcerpt = %q", ae.Diagnostics.LogExcerpt)
	}
	if len(h.backend.merges) != 0 {
		t.Errorf("merges = %d, want 0", len(h.backend.merges))
	}
}

func TestExecute_DryRunConflict(t *testing.T) {
	h := newHarness(t)
	h.opts.DryRun = true
	h.git.trial = &git.TrialResult{Conflict: true, Output: "CONFLICT (content): Merge conflict in a.go"}

	_, err := h.executor().Execute(context.Background(), Request{Branch: "feature", SHA: sha1})
	ae := requireAbort(t, err, ReasonPreMergeTestFailed)
	if !strings.Contains(ae.Error(), "conflicts") {
		t.Errorf("Error() = %q", ae.Error())
	}
}

func TestExecute_DryRunPasses(t *testing.T) {
	h := newHarness(t)
	h.opts.DryRun = true

	if _, err := h.executor().Execute(context.Background(), Request{Branch: "feature", SHA: sha1}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if h.git.trials != 1 {
		t.Errorf("trial merges = %d, want 1", h.git.trials)
	}
}

func TestExecute_MergeConflict(t *testing.T) {
	h := newHarness(t)
	h.backend.mergeErr = fmt.Errorf("%w: 409 head branch was modified", ci.ErrMergeConflict)

	out, err := h.executor().Execute(context.Background(), Request{Branch: "feature", SHA: sha1})
	ae := requireAbort(t, err, ReasonMergeConflict)
	if ae.State != attempt.StateMerging {
		t.Errorf("abort state = %s, want merging", ae.State)
	}
	if out.Decision.Approved {
		t.Error("Decision approved, want rejected")
	}
	if len(h.backend.deleted) != 0 {
		t.Errorf("deleted = %v, want none", h.backend.deleted)
	}
}

func TestExecute_CleanupFailuresOnlyWarn(t *testing.T) {
	h := newHarness(t)
	h.backend.deleteErr = errors.New("403 forbidden")
	h.git.pullErr = errors.New("not a fast-forward")

	out, err := h.executor().Execute(context.Background(), Request{Branch: "feature", SHA: sha1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Decision.Approved {
		t.Error("Decision rejected, want approved")
	}
	if out.Attempt.State != attempt.StateCompleted {
		t.Errorf("State = %s, want completed", out.Attempt.State)
	}
	if len(out.Attempt.Warnings) != 2 {
		t.Fatalf("Warnings = %v, want 2", out.Attempt.Warnings)
	}
	if !strings.Contains(out.Attempt.Warnings[0], "403 forbidden") {
		t.Errorf("Warnings[0] = %q", out.Attempt.Warnings[0])
	}
}

func TestExecute_HeadFromRemote(t *testing.T) {
	h := newHarness(t)
	if _, err := h.executor().Execute(context.Background(), Request{Branch: "feature"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(h.git.headRefs) != 1 || h.git.headRefs[0] != "origin/feature" {
		t.Errorf("HeadSHA refs = %v, want [origin/feature]", h.git.headRefs)
	}
	if len(h.tracker.captures) != 1 || h.tracker.captures[0] != sha1 {
		t.Errorf("captures = %v", h.tracker.captures)
	}
}

func TestExecute_TrackingErrors(t *testing.T) {
	tests := []struct {
		name    string
		capture error
		find    error
		reason  string
	}{
		{"unavailable", fmt.Errorf("%w: abc", ci.ErrRevisionUnavailable), nil, ReasonRevisionUnavailable},
		{"no pipeline", nil, fmt.Errorf("%w: 60s", ci.ErrNoPipelineTriggered), ReasonNoPipeline},
		{"cancelled", context.Canceled, nil, ReasonCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.tracker.captureErr = tt.capture
			h.tracker.findErr = tt.find

			_, err := h.executor().Execute(context.Background(), Request{Branch: "feature", SHA: sha1})
			ae := requireAbort(t, err, tt.reason)
			if ae.State != attempt.StateTracking {
				t.Errorf("abort state = %s, want tracking", ae.State)
			}
			if h.poller.calls != 0 {
				t.Errorf("poll calls = %d, want 0", h.poller.calls)
			}
		})
	}
}

func TestExecute_BranchLocked(t *testing.T) {
	h := newHarness(t)
	held, err := h.locks.Acquire("feature")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release()

	_, err = h.executor().Execute(context.Background(), Request{Branch: "feature", SHA: sha1})
	if !errors.Is(err, lock.ErrAlreadyRunning) {
		t.Fatalf("err = %v, want ErrAlreadyRunning", err)
	}
	if len(h.tracker.captures) != 0 {
		t.Errorf("captures = %v, want none", h.tracker.captures)
	}

	held.Release()
	if _, err := h.executor().Execute(context.Background(), Request{Branch: "feature", SHA: sha1}); err != nil {
		t.Errorf("Execute after release: %v", err)
	}
}

func TestExecute_RejectsSelfMerge(t *testing.T) {
	h := newHarness(t)
	if _, err := h.executor().Execute(context.Background(), Request{Branch: "main", SHA: sha1}); err == nil {
		t.Fatal("expected error merging main into main")
	}
}

func TestOverride(t *testing.T) {
	h := newHarness(t)
	h.poller.outcome = &poller.Outcome{Status: poller.TimedOut}

	out, err := h.executor().Override(context.Background(), OverrideRequest{
		Branch:       "feature",
		SHA:          sha1,
		Reason:       "CI provider outage",
		AuthorizedBy: "release-manager",
	})
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	d := out.Decision
	if !d.Approved || !d.Override || d.AuthorizedBy != "release-manager" {
		t.Errorf("Decision = %+v", d)
	}
	if !strings.Contains(d.Reason, "CI provider outage") {
		t.Errorf("Reason = %q", d.Reason)
	}
	if out.Attempt.State != attempt.StateOverridden {
		t.Errorf("State = %s, want overridden", out.Attempt.State)
	}
	if h.poller.calls != 0 {
		t.Errorf("poll calls = %d, want 0", h.poller.calls)
	}
	if len(h.backend.merges) != 1 || h.backend.merges[0].SHA != sha1 {
		t.Errorf("merges = %+v", h.backend.merges)
	}

	saved, err := h.store.Load(context.Background(), out.Attempt.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if saved.Decision == nil || !saved.Decision.Override {
		t.Errorf("saved Decision = %+v", saved.Decision)
	}
}

func TestOverride_RequiresAuthorization(t *testing.T) {
	tests := []struct {
		name string
		req  OverrideRequest
	}{
		{"no authorizer", OverrideRequest{Branch: "feature", SHA: sha1, Reason: "outage"}},
		{"no reason", OverrideRequest{Branch: "feature", SHA: sha1, AuthorizedBy: "ops"}},
		{"blank reason", OverrideRequest{Branch: "feature", SHA: sha1, Reason: "  ", AuthorizedBy: "ops"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if _, err := h.executor().Override(context.Background(), tt.req); err == nil {
				t.Fatal("expected error")
			}
			if len(h.backend.merges) != 0 {
				t.Errorf("merges = %d, want 0", len(h.backend.merges))
			}
		})
	}
}

func TestReasonFor(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("wrap: %w", ci.ErrTimedOut), ReasonTimedOut},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), ReasonCancelled},
		{errors.New("boom"), ReasonMergeFailed},
	}
	for _, tt := range tests {
		if got := reasonFor(tt.err); got != tt.want {
			t.Errorf("reasonFor(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
