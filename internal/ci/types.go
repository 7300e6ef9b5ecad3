package ci

import "time"

// Revision is the exact commit a merge attempt is pinned to. Never mutated
// after capture; a new push produces a new Revision.
type Revision struct {
	SHA        string    `json:"sha"`
	Branch     string    `json:"branch"`
	CapturedAt time.Time `json:"captured_at"`
}

// Short returns the abbreviated SHA for display.
func (r Revision) Short() string {
	if len(r.SHA) > 8 {
		return r.SHA[:8]
	}
	return r.SHA
}

// RunStatus is the state of a PipelineRun.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunFailure   RunStatus = "failure"
	RunCancelled RunStatus = "cancelled"
	RunTimeout   RunStatus = "timeout"
)

// Terminal reports whether no further status change is expected.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSuccess, RunFailure, RunCancelled, RunTimeout:
		return true
	}
	return false
}

// Conclusion is the outcome of a single Job.
type Conclusion string

const (
	ConclusionSuccess   Conclusion = "success"
	ConclusionPending   Conclusion = "pending"
	ConclusionFailure   Conclusion = "failure"
	ConclusionCancelled Conclusion = "cancelled"
	ConclusionSkipped   Conclusion = "skipped"
)

// Job is one named unit of work inside a PipelineRun.
type Job struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Conclusion      Conclusion `json:"conclusion"`
	DurationSeconds float64    `json:"duration_seconds"`
	LogExcerpt      string     `json:"log_excerpt,omitempty"`
	// SHA is the commit the provider reports the job ran against, when it
	// reports one. Empty means the provider does not expose it per job.
	SHA string `json:"sha,omitempty"`
}

// Failed reports whether the job blocks the pipeline.
func (j Job) Failed() bool {
	return j.Conclusion == ConclusionFailure || j.Conclusion == ConclusionCancelled
}

// RunSummary is one entry of a "list runs for ref" response.
type RunSummary struct {
	ID     string    `json:"id"`
	SHA    string    `json:"sha"`
	Ref    string    `json:"ref"`
	Status RunStatus `json:"status"`
	WebURL string    `json:"web_url,omitempty"`
}

// PipelineRun is one CI execution tied to a Revision.
type PipelineRun struct {
	ID        string    `json:"id"`
	SHA       string    `json:"sha"`
	Status    RunStatus `json:"status"`
	Jobs      []Job     `json:"jobs"`
	StartedAt time.Time `json:"started_at"`
	WebURL    string    `json:"web_url,omitempty"`
}

// FirstFailure returns the first failing or cancelled job, or nil.
func (p *PipelineRun) FirstFailure() *Job {
	for i := range p.Jobs {
		if p.Jobs[i].Failed() {
			return &p.Jobs[i]
		}
	}
	return nil
}

// Category classifies why a job failed.
type Category string

const (
	CategoryLint           Category = "lint"
	CategoryType           Category = "type"
	CategoryTest           Category = "test"
	CategoryBuild          Category = "build"
	CategorySecurity       Category = "security"
	CategoryDependency     Category = "dependency"
	CategoryInfrastructure Category = "infrastructure"
	CategoryUnknown        Category = "unknown"
)

// Categories lists every category in classification order.
var Categories = []Category{
	CategorySecurity,
	CategoryLint,
	CategoryType,
	CategoryTest,
	CategoryBuild,
	CategoryDependency,
	CategoryInfrastructure,
	CategoryUnknown,
}

// ParseCategory returns the category named s.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Confidence is how sure the classifier is that its fix strategy applies.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNA     Confidence = "n/a"
)

// Severity ranks the impact of a failure.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// FailureCategory is the classification of one failing job.
type FailureCategory struct {
	Category    Category   `json:"category"`
	AutoFixable bool       `json:"auto_fixable"`
	Confidence  Confidence `json:"confidence"`
	Severity    Severity   `json:"severity"`
	// Signature is the pattern that matched, empty for unknown.
	Signature string `json:"signature,omitempty"`
	// Files are the source paths referenced by the log, sorted.
	Files []string `json:"files,omitempty"`
}

// FixOutcome is the result of one auto-fix iteration.
type FixOutcome string

const (
	FixOutcomeFixed      FixOutcome = "fixed"
	FixOutcomeFixFailed  FixOutcome = "fix_failed"
	FixOutcomeReCIPassed FixOutcome = "re_ci_passed"
	FixOutcomeReCIFailed FixOutcome = "re_ci_failed"
)

// FixAttempt records one iteration of the auto-fix loop.
type FixAttempt struct {
	AttemptNumber      int        `json:"attempt_number"`
	Category           Category   `json:"category"`
	Job                string     `json:"job"`
	StrategyApplied    string     `json:"strategy_applied"`
	Files              []string   `json:"files,omitempty"`
	FilesChanged       []string   `json:"files_changed,omitempty"`
	Fingerprint        string     `json:"fingerprint"`
	ResultingCommitSHA string     `json:"resulting_commit_sha,omitempty"`
	Outcome            FixOutcome `json:"outcome"`
	StartedAt          time.Time  `json:"started_at"`
	Duration           string     `json:"duration,omitempty"`
}

// MergeStrategy is how the source branch lands on the target.
type MergeStrategy string

const (
	StrategySquash MergeStrategy = "squash"
	StrategyMerge  MergeStrategy = "merge"
	StrategyRebase MergeStrategy = "rebase"
)

// ParseStrategy validates a strategy name, defaulting to squash.
func ParseStrategy(s string) (MergeStrategy, bool) {
	switch MergeStrategy(s) {
	case "":
		return StrategySquash, true
	case StrategySquash, StrategyMerge, StrategyRebase:
		return MergeStrategy(s), true
	}
	return "", false
}

// MergeDecision is the terminal record of a merge attempt.
type MergeDecision struct {
	Approved  bool          `json:"approved"`
	Reason    string        `json:"reason"`
	MergedSHA string        `json:"merged_sha,omitempty"`
	Strategy  MergeStrategy `json:"strategy"`
	DecidedAt time.Time     `json:"decided_at"`
	// Override marks a decision taken outside the automated gate.
	Override     bool   `json:"override,omitempty"`
	AuthorizedBy string `json:"authorized_by,omitempty"`
}
