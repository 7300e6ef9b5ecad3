package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lucasnoah/mergegate/internal/ci"
	"github.com/lucasnoah/mergegate/internal/review"
)

// Hard bounds. Config may tighten them, never relax them.
const (
	maxFixAttempts    = 3
	maxPollTimeout    = 600 * time.Second
	maxPolls          = 30
	maxAttemptTimeout = 120 * time.Second
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch cfg.Backend {
	case "github":
		if owner, name, ok := strings.Cut(cfg.Repo, "/"); !ok || owner == "" || name == "" || strings.Contains(name, "/") {
			add("repo", "must be owner/name for the github backend, got %q", cfg.Repo)
		}
	case "gitlab":
		if cfg.Repo == "" {
			add("repo", "is required")
		}
	default:
		add("backend", "must be github or gitlab, got %q", cfg.Backend)
	}

	if cfg.Merge.Target == "" {
		add("merge.target", "is required")
	}
	if _, ok := ci.ParseStrategy(cfg.Merge.Strategy); !ok {
		add("merge.strategy", "unknown strategy %q (want squash, merge or rebase)", cfg.Merge.Strategy)
	}

	durations := []struct {
		field, value string
	}{
		{"tracker.interval", cfg.Tracker.Interval},
		{"tracker.timeout", cfg.Tracker.Timeout},
		{"poller.initial_interval", cfg.Poller.InitialInterval},
		{"poller.max_interval", cfg.Poller.MaxInterval},
		{"poller.timeout", cfg.Poller.Timeout},
		{"autofix.attempt_timeout", cfg.AutoFix.AttemptTimeout},
		{"autofix.cooldown", cfg.AutoFix.Cooldown},
		{"dry_run.timeout", cfg.DryRun.Timeout},
	}
	for _, d := range durations {
		if msg := checkDuration(d.value); msg != "" {
			add(d.field, "%s", msg)
		}
	}
	if d := Duration(cfg.Poller.Timeout); d > maxPollTimeout {
		add("poller.timeout", "must not exceed %s, got %s", maxPollTimeout, cfg.Poller.Timeout)
	}
	if d := Duration(cfg.AutoFix.AttemptTimeout); d > maxAttemptTimeout {
		add("autofix.attempt_timeout", "must not exceed %s, got %s", maxAttemptTimeout, cfg.AutoFix.AttemptTimeout)
	}
	if Duration(cfg.Poller.InitialInterval) > Duration(cfg.Poller.MaxInterval) {
		add("poller.initial_interval", "must not exceed poller.max_interval")
	}

	if cfg.Poller.Multiplier < 1 {
		add("poller.multiplier", "must be at least 1, got %v", cfg.Poller.Multiplier)
	}
	if cfg.Poller.Jitter < 0 || cfg.Poller.Jitter >= 1 {
		add("poller.jitter", "must be in [0, 1), got %v", cfg.Poller.Jitter)
	}
	if n := cfg.Poller.MaxPolls; n < 1 || n > maxPolls {
		add("poller.max_polls", "must be between 1 and %d, got %d", maxPolls, n)
	}

	if n := cfg.AutoFix.MaxAttempts; n < 1 || n > maxFixAttempts {
		add("autofix.max_attempts", "must be between 1 and %d, got %d", maxFixAttempts, n)
	}
	for i, name := range cfg.AutoFix.RequireHumanFor {
		if _, ok := ci.ParseCategory(name); !ok {
			add(fmt.Sprintf("autofix.require_human_for[%d]", i), "unknown category %q", name)
		}
	}

	names := make([]string, 0, len(cfg.AutoFix.FixStrategies))
	for name := range cfg.AutoFix.FixStrategies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := cfg.AutoFix.FixStrategies[name]
		field := "autofix.fix_strategies." + name
		cat, ok := ci.ParseCategory(name)
		switch {
		case !ok:
			add(field, "unknown category %q", name)
			continue
		case cat == ci.CategorySecurity:
			add(field, "security failures are never fixed automatically")
		case cat == ci.CategoryUnknown:
			add(field, "unknown failures cannot have a fix strategy")
		}
		if strings.TrimSpace(s.Command) == "" {
			add(field+".command", "is required")
		}
		if msg := checkDuration(s.Timeout); msg != "" {
			add(field+".timeout", "%s", msg)
		} else if Duration(s.Timeout) > maxAttemptTimeout {
			add(field+".timeout", "must not exceed %s, got %s", maxAttemptTimeout, s.Timeout)
		}
	}

	if _, ok := review.ParseSeverity(cfg.Review.BlockOn); !ok {
		add("review.block_on", "unknown severity %q (want info, minor, major or critical)", cfg.Review.BlockOn)
	}
	return errs
}

func checkDuration(s string) string {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Sprintf("invalid duration %q", s)
	}
	if d <= 0 {
		return fmt.Sprintf("must be positive, got %s", s)
	}
	return ""
}
