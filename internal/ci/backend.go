package ci

import "context"

// MergeRequest describes the merge the backend should perform.
type MergeRequest struct {
	Branch string
	Target string
	// SHA is the revision CI verified. Providers refuse the merge if the
	// branch head has moved past it.
	SHA      string
	Strategy MergeStrategy
	Title    string
}

// Backend is the VCS/CI hosting service.
type Backend interface {
	// ResolveCommit confirms sha exists on the remote and returns its full form.
	ResolveCommit(ctx context.Context, sha string) (string, error)
	// ListRuns returns recent pipeline runs for ref, newest first.
	ListRuns(ctx context.Context, ref string) ([]RunSummary, error)
	// GetRun returns a run with job-level detail. Failed jobs carry a log excerpt.
	GetRun(ctx context.Context, id string) (*PipelineRun, error)
	// Merge lands the branch and returns the resulting commit SHA.
	// Conflicts are reported as ErrMergeConflict.
	Merge(ctx context.Context, req MergeRequest) (string, error)
	// DeleteBranch removes the remote branch.
	DeleteBranch(ctx context.Context, branch string) error
}
