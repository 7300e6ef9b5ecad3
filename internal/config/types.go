package config

import "time"

// Config is the top-level configuration parsed from mergegate.yaml (or .toml).
type Config struct {
	// Backend is the hosting service: github or gitlab.
	Backend string `yaml:"backend" toml:"backend"`
	// Repo is owner/name on GitHub, or the project path or ID on GitLab.
	Repo    string `yaml:"repo" toml:"repo"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
	// Dir is the local working tree fixes and dry runs operate on.
	Dir      string `yaml:"dir" toml:"dir"`
	StateDir string `yaml:"state_dir" toml:"state_dir"`

	Merge   MergeConfig   `yaml:"merge" toml:"merge"`
	Tracker TrackerConfig `yaml:"tracker" toml:"tracker"`
	Poller  PollerConfig  `yaml:"poller" toml:"poller"`
	AutoFix AutoFixConfig `yaml:"autofix" toml:"autofix"`
	DryRun  DryRunConfig  `yaml:"dry_run" toml:"dry_run"`
	Cleanup CleanupConfig `yaml:"cleanup" toml:"cleanup"`
	Review  ReviewConfig  `yaml:"review" toml:"review"`

	// Env holds secrets read from the environment, never from the file.
	Env Env `yaml:"-" toml:"-"`
}

// MergeConfig selects the target branch and strategy.
type MergeConfig struct {
	Target   string `yaml:"target" toml:"target"`
	Strategy string `yaml:"strategy" toml:"strategy"`
}

// TrackerConfig controls pipeline discovery after a push.
type TrackerConfig struct {
	Interval string `yaml:"interval" toml:"interval"`
	Timeout  string `yaml:"timeout" toml:"timeout"`
}

// PollerConfig controls the status polling backoff.
type PollerConfig struct {
	InitialInterval string  `yaml:"initial_interval" toml:"initial_interval"`
	Multiplier      float64 `yaml:"multiplier" toml:"multiplier"`
	MaxInterval     string  `yaml:"max_interval" toml:"max_interval"`
	Jitter          float64 `yaml:"jitter" toml:"jitter"`
	Timeout         string  `yaml:"timeout" toml:"timeout"`
	MaxPolls        int     `yaml:"max_polls" toml:"max_polls"`
}

// AutoFixConfig bounds the auto-fix loop and names the fix commands.
type AutoFixConfig struct {
	MaxAttempts     int                    `yaml:"max_attempts" toml:"max_attempts"`
	AttemptTimeout  string                 `yaml:"attempt_timeout" toml:"attempt_timeout"`
	Cooldown        string                 `yaml:"cooldown" toml:"cooldown"`
	RequireHumanFor []string               `yaml:"require_human_for" toml:"require_human_for"`
	FixStrategies   map[string]FixStrategy `yaml:"fix_strategies" toml:"fix_strategies"`
}

// FixStrategy is the command that fixes one failure category.
type FixStrategy struct {
	Command string `yaml:"command" toml:"command"`
	Verify  string `yaml:"verify" toml:"verify"`
	Timeout string `yaml:"timeout" toml:"timeout"`
}

// DryRunConfig controls the trial merge before the real one.
type DryRunConfig struct {
	Enabled     *bool  `yaml:"enabled" toml:"enabled"`
	TestCommand string `yaml:"test_command" toml:"test_command"`
	Timeout     string `yaml:"timeout" toml:"timeout"`
}

// On reports whether the dry run is enabled. It defaults to on.
func (d DryRunConfig) On() bool {
	return Enabled(d.Enabled)
}

// CleanupConfig selects post-merge cleanup steps. All default to on.
type CleanupConfig struct {
	DeleteRemoteBranch *bool `yaml:"delete_remote_branch" toml:"delete_remote_branch"`
	DeleteLocalBranch  *bool `yaml:"delete_local_branch" toml:"delete_local_branch"`
	SyncTarget         *bool `yaml:"sync_target" toml:"sync_target"`
}

// ReviewConfig sets the severity at which review findings block.
type ReviewConfig struct {
	BlockOn string `yaml:"block_on" toml:"block_on"`
}

// Env is read with the MERGEGATE_ prefix; the unprefixed name is a fallback.
type Env struct {
	GitHubToken string `envconfig:"GITHUB_TOKEN"`
	GitLabToken string `envconfig:"GITLAB_TOKEN"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
}

// Token returns the API token for the configured backend.
func (c *Config) Token() string {
	if c.Backend == "gitlab" {
		return c.Env.GitLabToken
	}
	return c.Env.GitHubToken
}

// Duration parses a duration that Validate has already accepted. Invalid
// or empty input yields 0.
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// Enabled reads an optional flag that defaults to on.
func Enabled(b *bool) bool {
	return b == nil || *b
}
