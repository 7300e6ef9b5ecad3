// Package github implements ci.Backend over GitHub Actions and pull requests.
//
// A pipeline run is every workflow run for one head SHA; its ID is the SHA.
// Jobs from all workflows are merged and named "workflow / job".
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	gh "github.com/google/go-github/v66/github"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/mergegate/internal/ci"
)

// fetchLimit bounds concurrent job and log requests for one run.
const fetchLimit = 4

// Backend talks to one GitHub repository.
type Backend struct {
	client   *gh.Client
	owner    string
	repo     string
	logs     *http.Client // downloads job logs from the redirect URL
	progress io.Writer
}

// New creates a Backend for owner/repo using client.
func New(client *gh.Client, owner, repo string) *Backend {
	return &Backend{client: client, owner: owner, repo: repo, logs: http.DefaultClient}
}

// NewWithToken creates a Backend authenticated with a personal or app token.
func NewWithToken(token, owner, repo string) *Backend {
	return New(gh.NewClient(nil).WithAuthToken(token), owner, repo)
}

// SetProgress sets a writer for live progress output.
func (b *Backend) SetProgress(w io.Writer) {
	b.progress = w
}

// SetLogClient sets the HTTP client used to download job logs.
func (b *Backend) SetLogClient(c *http.Client) {
	b.logs = c
}

func (b *Backend) logf(format string, args ...any) {
	if b.progress != nil {
		fmt.Fprintf(b.progress, "  → "+format+"\n", args...)
	}
}

// ResolveCommit returns the full SHA for sha.
func (b *Backend) ResolveCommit(ctx context.Context, sha string) (string, error) {
	commit, _, err := b.client.Repositories.GetCommit(ctx, b.owner, b.repo, sha, nil)
	if err != nil {
		return "", fmt.Errorf("get commit %s: %w", sha, err)
	}
	return commit.GetSHA(), nil
}

// ListRuns returns one summary per head SHA with workflow runs on ref,
// newest first.
func (b *Backend) ListRuns(ctx context.Context, ref string) ([]ci.RunSummary, error) {
	list, _, err := b.client.Actions.ListRepositoryWorkflowRuns(ctx, b.owner, b.repo, &gh.ListWorkflowRunsOptions{
		Branch:      ref,
		ListOptions: gh.ListOptions{PerPage: 50},
	})
	if err != nil {
		return nil, fmt.Errorf("list workflow runs for %s: %w", ref, err)
	}

	bySHA := map[string][]*gh.WorkflowRun{}
	var order []string
	for _, r := range list.WorkflowRuns {
		sha := r.GetHeadSHA()
		if _, seen := bySHA[sha]; !seen {
			order = append(order, sha)
		}
		bySHA[sha] = append(bySHA[sha], r)
	}

	out := make([]ci.RunSummary, 0, len(order))
	for _, sha := range order {
		runs := bySHA[sha]
		out = append(out, ci.RunSummary{
			ID:     sha,
			SHA:    sha,
			Ref:    ref,
			Status: runStatus(runs),
			WebURL: runs[0].GetHTMLURL(),
		})
	}
	return out, nil
}

// GetRun returns every workflow job for the head SHA id. Logs are fetched for
// failed and cancelled jobs only.
func (b *Backend) GetRun(ctx context.Context, id string) (*ci.PipelineRun, error) {
	list, _, err := b.client.Actions.ListRepositoryWorkflowRuns(ctx, b.owner, b.repo, &gh.ListWorkflowRunsOptions{
		HeadSHA:     id,
		ListOptions: gh.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, fmt.Errorf("list workflow runs for %s: %w", id, err)
	}
	runs := list.WorkflowRuns
	if len(runs) == 0 {
		return nil, fmt.Errorf("no workflow runs for %s", id)
	}
	// Oldest workflow first so job order is stable across polls.
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].GetID() < runs[j].GetID() })

	perRun := make([][]ci.Job, len(runs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchLimit)
	for i, r := range runs {
		g.Go(func() error {
			jobs, err := b.listJobs(gctx, r)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				jobs = []ci.Job{placeholderJob(r)}
			}
			perRun[i] = jobs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	run := &ci.PipelineRun{
		ID:     id,
		SHA:    runs[0].GetHeadSHA(),
		Status: runStatus(runs),
		WebURL: runs[0].GetHTMLURL(),
	}
	for _, r := range runs {
		if t := r.GetRunStartedAt().Time; !t.IsZero() && (run.StartedAt.IsZero() || t.Before(run.StartedAt)) {
			run.StartedAt = t
		}
	}
	for _, jobs := range perRun {
		run.Jobs = append(run.Jobs, jobs...)
	}
	b.fetchLogs(ctx, run)
	return run, nil
}

func (b *Backend) listJobs(ctx context.Context, r *gh.WorkflowRun) ([]ci.Job, error) {
	opts := &gh.ListWorkflowJobsOptions{Filter: "latest", ListOptions: gh.ListOptions{PerPage: 100}}
	var out []ci.Job
	for {
		page, resp, err := b.client.Actions.ListWorkflowJobs(ctx, b.owner, b.repo, r.GetID(), opts)
		if err != nil {
			return nil, fmt.Errorf("list jobs for workflow run %d: %w", r.GetID(), err)
		}
		for _, j := range page.Jobs {
			out = append(out, convertJob(r.GetName(), j))
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// placeholderJob stands in for a workflow run that has not listed any jobs
// yet, so the run cannot pass before its jobs exist. Once the run completes
// without jobs the placeholder takes the run's own conclusion.
func placeholderJob(r *gh.WorkflowRun) ci.Job {
	name := r.GetName()
	if name == "" {
		name = fmt.Sprintf("workflow run %d", r.GetID())
	}
	suffix := "(queued)"
	if r.GetStatus() == "completed" {
		suffix = "(no jobs)"
	}
	return ci.Job{
		Name:       name + " / " + suffix,
		Conclusion: conclusion(r.GetStatus(), r.GetConclusion()),
		SHA:        r.GetHeadSHA(),
	}
}

func convertJob(workflow string, j *gh.WorkflowJob) ci.Job {
	name := j.GetName()
	if workflow != "" {
		name = workflow + " / " + name
	}
	job := ci.Job{
		ID:         fmt.Sprintf("%d", j.GetID()),
		Name:       name,
		Conclusion: conclusion(j.GetStatus(), j.GetConclusion()),
		SHA:        j.GetHeadSHA(),
	}
	start, end := j.GetStartedAt().Time, j.GetCompletedAt().Time
	if !start.IsZero() && end.After(start) {
		job.DurationSeconds = end.Sub(start).Seconds()
	}
	return job
}

// fetchLogs fills LogExcerpt for failed jobs. A log that cannot be fetched
// leaves the excerpt empty; classification falls back to the job name.
func (b *Backend) fetchLogs(ctx context.Context, run *ci.PipelineRun) {
	var g errgroup.Group
	g.SetLimit(fetchLimit)
	for i := range run.Jobs {
		j := &run.Jobs[i]
		if !j.Failed() || j.ID == "" {
			continue
		}
		g.Go(func() error {
			log, err := b.jobLog(ctx, j.ID)
			if err != nil {
				b.logf("log for job %s: %v", j.Name, err)
				return nil
			}
			j.LogExcerpt = ci.Tail(log, ci.MaxLogExcerpt)
			return nil
		})
	}
	_ = g.Wait()
}

func (b *Backend) jobLog(ctx context.Context, jobID string) (string, error) {
	id, err := strconv.ParseInt(jobID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("job id %q: %w", jobID, err)
	}
	u, _, err := b.client.Actions.GetWorkflowJobLogs(ctx, b.owner, b.repo, id, 2)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := b.logs.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download log: %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Merge merges the open pull request for req.Branch, pinned to req.SHA.
func (b *Backend) Merge(ctx context.Context, req ci.MergeRequest) (string, error) {
	prs, _, err := b.client.PullRequests.List(ctx, b.owner, b.repo, &gh.PullRequestListOptions{
		State: "open",
		Head:  b.owner + ":" + req.Branch,
		Base:  req.Target,
	})
	if err != nil {
		return "", fmt.Errorf("list pull requests for %s: %w", req.Branch, err)
	}
	if len(prs) == 0 {
		return "", fmt.Errorf("%w: %s → %s", ci.ErrNoMergeRequest, req.Branch, req.Target)
	}
	pr := prs[0]
	b.logf("merging PR #%d (%s) at %.8s", pr.GetNumber(), req.Strategy, req.SHA)

	res, _, err := b.client.PullRequests.Merge(ctx, b.owner, b.repo, pr.GetNumber(), "", &gh.PullRequestOptions{
		CommitTitle: req.Title,
		SHA:         req.SHA,
		MergeMethod: string(req.Strategy),
	})
	if err != nil {
		return "", mergeError(pr.GetNumber(), err)
	}
	if !res.GetMerged() {
		return "", fmt.Errorf("%w: PR #%d not merged: %s", ci.ErrMergeConflict, pr.GetNumber(), res.GetMessage())
	}
	return res.GetSHA(), nil
}

// DeleteBranch deletes refs/heads/branch. A branch that is already gone is
// not an error.
func (b *Backend) DeleteBranch(ctx context.Context, branch string) error {
	resp, err := b.client.Git.DeleteRef(ctx, b.owner, b.repo, "refs/heads/"+branch)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity) {
			return nil
		}
		return fmt.Errorf("delete branch %s: %w", branch, err)
	}
	return nil
}

func mergeError(number int, err error) error {
	var er *gh.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		switch er.Response.StatusCode {
		case http.StatusMethodNotAllowed, http.StatusConflict:
			return fmt.Errorf("%w: PR #%d: %s", ci.ErrMergeConflict, number, er.Message)
		}
	}
	return fmt.Errorf("merge PR #%d: %w", number, err)
}

// conclusion maps a workflow job's status and conclusion.
func conclusion(status, c string) ci.Conclusion {
	if status != "completed" {
		return ci.ConclusionPending
	}
	switch c {
	case "success":
		return ci.ConclusionSuccess
	case "failure", "timed_out", "startup_failure":
		return ci.ConclusionFailure
	case "cancelled":
		return ci.ConclusionCancelled
	case "skipped", "neutral":
		return ci.ConclusionSkipped
	}
	return ci.ConclusionPending
}

// runStatus summarizes workflow runs for one SHA. Job-level aggregation
// decides failure; a run that is not completed here holds back a job-level
// success.
func runStatus(runs []*gh.WorkflowRun) ci.RunStatus {
	var running, pending, failed, cancelled bool
	for _, r := range runs {
		if r.GetStatus() != "completed" {
			if r.GetStatus() == "in_progress" {
				running = true
			} else {
				pending = true
			}
			continue
		}
		switch conclusion(r.GetStatus(), r.GetConclusion()) {
		case ci.ConclusionFailure:
			failed = true
		case ci.ConclusionCancelled:
			cancelled = true
		case ci.ConclusionPending:
			pending = true
		}
	}
	switch {
	case running:
		return ci.RunRunning
	case pending:
		return ci.RunPending
	case failed:
		return ci.RunFailure
	case cancelled:
		return ci.RunCancelled
	}
	return ci.RunSuccess
}
