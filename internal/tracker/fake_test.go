package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lucasnoah/mergegate/internal/ci"
)

// fakeBackend replays a sequence of ListRuns responses, one per call. The
// last response repeats once the sequence is exhausted.
type fakeBackend struct {
	commits   map[string]string
	listCalls int
	listed    [][]ci.RunSummary
	listErrs  []error
	runs      map[string]*ci.PipelineRun
}

func (f *fakeBackend) ResolveCommit(_ context.Context, sha string) (string, error) {
	for full := range f.commits {
		if strings.HasPrefix(full, sha) {
			return full, nil
		}
	}
	return "", fmt.Errorf("commit %s not found", sha)
}

func (f *fakeBackend) ListRuns(_ context.Context, _ string) ([]ci.RunSummary, error) {
	i := f.listCalls
	f.listCalls++
	if i < len(f.listErrs) && f.listErrs[i] != nil {
		return nil, f.listErrs[i]
	}
	if len(f.listed) == 0 {
		return nil, nil
	}
	if i >= len(f.listed) {
		i = len(f.listed) - 1
	}
	return f.listed[i], nil
}

func (f *fakeBackend) GetRun(_ context.Context, id string) (*ci.PipelineRun, error) {
	r, ok := f.runs[id]
	if !ok {
		return nil, errors.New("no such run")
	}
	return r, nil
}

func (f *fakeBackend) Merge(context.Context, ci.MergeRequest) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeBackend) DeleteBranch(context.Context, string) error { return nil }
