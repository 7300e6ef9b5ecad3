// Package gitlab implements ci.Backend over GitLab pipelines and merge
// requests. Pipeline IDs are GitLab's numeric pipeline IDs.
package gitlab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	gl "github.com/xanzy/go-gitlab"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/mergegate/internal/ci"
)

// Backend talks to one GitLab project.
type Backend struct {
	client   *gl.Client
	project  string // numeric ID or "group/name" path
	progress io.Writer
}

// New creates a Backend for project using client.
func New(client *gl.Client, project string) *Backend {
	return &Backend{client: client, project: project}
}

// NewWithToken creates a Backend for the GitLab instance at baseURL.
func NewWithToken(baseURL, token, project string) (*Backend, error) {
	opts := []gl.ClientOptionFunc{}
	if baseURL != "" {
		opts = append(opts, gl.WithBaseURL(baseURL))
	}
	client, err := gl.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}
	return New(client, project), nil
}

// SetProgress sets a writer for live progress output.
func (b *Backend) SetProgress(w io.Writer) {
	b.progress = w
}

func (b *Backend) logf(format string, args ...any) {
	if b.progress != nil {
		fmt.Fprintf(b.progress, "  → "+format+"\n", args...)
	}
}

// ResolveCommit returns the full SHA for sha.
func (b *Backend) ResolveCommit(ctx context.Context, sha string) (string, error) {
	c, _, err := b.client.Commits.GetCommit(b.project, sha, gl.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("get commit %s: %w", sha, err)
	}
	return c.ID, nil
}

// ListRuns returns recent pipelines for ref, newest first.
func (b *Backend) ListRuns(ctx context.Context, ref string) ([]ci.RunSummary, error) {
	pipelines, _, err := b.client.Pipelines.ListProjectPipelines(b.project, &gl.ListProjectPipelinesOptions{
		ListOptions: gl.ListOptions{PerPage: 20, Page: 1},
		Ref:         gl.Ptr(ref),
		OrderBy:     gl.Ptr("id"),
		Sort:        gl.Ptr("desc"),
	}, gl.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list pipelines for %s: %w", ref, err)
	}
	out := make([]ci.RunSummary, 0, len(pipelines))
	for _, p := range pipelines {
		out = append(out, ci.RunSummary{
			ID:     strconv.Itoa(p.ID),
			SHA:    p.SHA,
			Ref:    p.Ref,
			Status: pipelineStatus(p.Status),
			WebURL: p.WebURL,
		})
	}
	return out, nil
}

// GetRun returns a pipeline with its latest jobs. Traces are fetched for
// failed and cancelled jobs only.
func (b *Backend) GetRun(ctx context.Context, id string) (*ci.PipelineRun, error) {
	pid, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("pipeline id %q: %w", id, err)
	}
	p, _, err := b.client.Pipelines.GetPipeline(b.project, pid, gl.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get pipeline %d: %w", pid, err)
	}
	run := &ci.PipelineRun{
		ID:     id,
		SHA:    p.SHA,
		Status: pipelineStatus(p.Status),
		WebURL: p.WebURL,
	}
	if p.StartedAt != nil {
		run.StartedAt = *p.StartedAt
	}

	opts := &gl.ListJobsOptions{ListOptions: gl.ListOptions{PerPage: 100, Page: 1}}
	for {
		jobs, resp, err := b.client.Jobs.ListPipelineJobs(b.project, pid, opts, gl.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list jobs for pipeline %d: %w", pid, err)
		}
		for _, j := range jobs {
			run.Jobs = append(run.Jobs, convertJob(j))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	b.fetchTraces(ctx, run)
	return run, nil
}

func convertJob(j *gl.Job) ci.Job {
	job := ci.Job{
		ID:              strconv.Itoa(j.ID),
		Name:            j.Name,
		Conclusion:      conclusion(j.Status, j.AllowFailure),
		DurationSeconds: j.Duration,
	}
	if j.Stage != "" {
		job.Name = j.Stage + " / " + j.Name
	}
	if j.Commit != nil {
		job.SHA = j.Commit.ID
	}
	return job
}

// fetchTraces fills LogExcerpt for failed jobs. A trace that cannot be
// fetched leaves the excerpt empty.
func (b *Backend) fetchTraces(ctx context.Context, run *ci.PipelineRun) {
	var g errgroup.Group
	g.SetLimit(4)
	for i := range run.Jobs {
		j := &run.Jobs[i]
		if !j.Failed() {
			continue
		}
		g.Go(func() error {
			id, _ := strconv.Atoi(j.ID)
			trace, _, err := b.client.Jobs.GetTraceFile(b.project, id, gl.WithContext(ctx))
			if err != nil {
				b.logf("trace for job %s: %v", j.Name, err)
				return nil
			}
			data, err := io.ReadAll(trace)
			if err != nil {
				b.logf("trace for job %s: %v", j.Name, err)
				return nil
			}
			j.LogExcerpt = ci.Tail(string(data), ci.MaxLogExcerpt)
			return nil
		})
	}
	_ = g.Wait()
}

// Merge accepts the open merge request for req.Branch, pinned to req.SHA.
// The rebase strategy accepts without squashing; the project's configured
// merge method decides between merge commit and fast-forward.
func (b *Backend) Merge(ctx context.Context, req ci.MergeRequest) (string, error) {
	mrs, _, err := b.client.MergeRequests.ListProjectMergeRequests(b.project, &gl.ListProjectMergeRequestsOptions{
		State:        gl.Ptr("opened"),
		SourceBranch: gl.Ptr(req.Branch),
		TargetBranch: gl.Ptr(req.Target),
	}, gl.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("list merge requests for %s: %w", req.Branch, err)
	}
	if len(mrs) == 0 {
		return "", fmt.Errorf("%w: %s → %s", ci.ErrNoMergeRequest, req.Branch, req.Target)
	}
	mr := mrs[0]
	squash := req.Strategy == ci.StrategySquash
	b.logf("accepting !%d (%s) at %.8s", mr.IID, req.Strategy, req.SHA)

	opts := &gl.AcceptMergeRequestOptions{
		SHA:    gl.Ptr(req.SHA),
		Squash: gl.Ptr(squash),
	}
	if req.Title != "" {
		if squash {
			opts.SquashCommitMessage = gl.Ptr(req.Title)
		} else {
			opts.MergeCommitMessage = gl.Ptr(req.Title)
		}
	}
	merged, _, err := b.client.MergeRequests.AcceptMergeRequest(b.project, mr.IID, opts, gl.WithContext(ctx))
	if err != nil {
		var er *gl.ErrorResponse
		if errors.As(err, &er) && er.Response != nil {
			switch er.Response.StatusCode {
			case http.StatusMethodNotAllowed, http.StatusNotAcceptable, http.StatusConflict:
				return "", fmt.Errorf("%w: !%d: %s", ci.ErrMergeConflict, mr.IID, er.Message)
			}
		}
		return "", fmt.Errorf("accept merge request !%d: %w", mr.IID, err)
	}
	switch {
	case squash && merged.SquashCommitSHA != "":
		return merged.SquashCommitSHA, nil
	case merged.MergeCommitSHA != "":
		return merged.MergeCommitSHA, nil
	}
	return merged.SHA, nil
}

// DeleteBranch removes branch. A branch that is already gone is not an error.
func (b *Backend) DeleteBranch(ctx context.Context, branch string) error {
	resp, err := b.client.Branches.DeleteBranch(b.project, branch, gl.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("delete branch %s: %w", branch, err)
	}
	return nil
}

// conclusion maps a GitLab job status.
func conclusion(status string, allowFailure bool) ci.Conclusion {
	switch status {
	case "success":
		return ci.ConclusionSuccess
	case "failed":
		if allowFailure {
			return ci.ConclusionSkipped
		}
		return ci.ConclusionFailure
	case "canceled":
		return ci.ConclusionCancelled
	case "skipped", "manual":
		return ci.ConclusionSkipped
	}
	return ci.ConclusionPending
}

func pipelineStatus(status string) ci.RunStatus {
	switch status {
	case "success":
		return ci.RunSuccess
	case "failed":
		return ci.RunFailure
	case "canceled":
		return ci.RunCancelled
	case "running":
		return ci.RunRunning
	}
	return ci.RunPending
}
