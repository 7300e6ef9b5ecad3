package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/mergegate/internal/attempt"
	"github.com/lucasnoah/mergegate/internal/autofix"
	"github.com/lucasnoah/mergegate/internal/ci"
	"github.com/lucasnoah/mergegate/internal/classify"
	"github.com/lucasnoah/mergegate/internal/clock"
	"github.com/lucasnoah/mergegate/internal/config"
	"github.com/lucasnoah/mergegate/internal/db"
	"github.com/lucasnoah/mergegate/internal/fixer"
	"github.com/lucasnoah/mergegate/internal/git"
	"github.com/lucasnoah/mergegate/internal/lock"
	"github.com/lucasnoah/mergegate/internal/merge"
	"github.com/lucasnoah/mergegate/internal/poller"
	"github.com/lucasnoah/mergegate/internal/tracker"
	ghvcs "github.com/lucasnoah/mergegate/internal/vcs/github"
	glvcs "github.com/lucasnoah/mergegate/internal/vcs/gitlab"
)

// resolveConfigPath turns the --config flag into an absolute path that exists.
func resolveConfigPath(flag string) (string, error) {
	if flag == "" {
		return "", nil
	}
	abs, err := filepath.Abs(flag)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("config file not found: %s", abs)
	}
	return abs, nil
}

func loadConfig() (*config.Config, string, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, "", err
	}
	return config.LoadDefault(path)
}

// loadValidConfig loads the config and fails on any validation error.
func loadValidConfig() (*config.Config, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid config %s:\n  - %s", path, strings.Join(msgs, "\n  - "))
	}
	return cfg, nil
}

func loadEnv() (config.Env, error) {
	return config.LoadEnv()
}

// progressWriter is where components log, nil when --quiet.
func progressWriter(cmd *cobra.Command) io.Writer {
	if quiet {
		return nil
	}
	return cmd.ErrOrStderr()
}

func newBackend(cfg *config.Config, progress io.Writer) (ci.Backend, error) {
	switch cfg.Backend {
	case "github":
		owner, name, _ := strings.Cut(cfg.Repo, "/")
		var b *ghvcs.Backend
		if cfg.BaseURL != "" {
			client, err := gh.NewClient(nil).WithAuthToken(cfg.Token()).WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
			if err != nil {
				return nil, fmt.Errorf("github client: %w", err)
			}
			b = ghvcs.New(client, owner, name)
		} else {
			b = ghvcs.NewWithToken(cfg.Token(), owner, name)
		}
		b.SetProgress(progress)
		return b, nil
	case "gitlab":
		b, err := glvcs.NewWithToken(cfg.BaseURL, cfg.Token(), cfg.Repo)
		if err != nil {
			return nil, err
		}
		b.SetProgress(progress)
		return b, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// openStore returns the PostgreSQL store when a database URL is set,
// otherwise the JSON file store under the state directory.
func openStore(ctx context.Context, cfg *config.Config) (attempt.Store, *db.DB, func(), error) {
	if cfg.Env.DatabaseURL != "" {
		d, err := db.Open(ctx, cfg.Env.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := d.Migrate(ctx); err != nil {
			d.Close()
			return nil, nil, nil, err
		}
		return d, d, d.Close, nil
	}
	return attempt.NewFileStore(filepath.Join(cfg.StateDir, "attempts")), nil, func() {}, nil
}

func requireHuman(cfg *config.Config) []ci.Category {
	var out []ci.Category
	for _, name := range cfg.AutoFix.RequireHumanFor {
		if c, ok := ci.ParseCategory(name); ok {
			out = append(out, c)
		}
	}
	return out
}

func fixStrategies(cfg *config.Config) map[ci.Category]fixer.Strategy {
	out := make(map[ci.Category]fixer.Strategy, len(cfg.AutoFix.FixStrategies))
	for name, s := range cfg.AutoFix.FixStrategies {
		c, ok := ci.ParseCategory(name)
		if !ok {
			continue
		}
		out[c] = fixer.Strategy{
			Command: s.Command,
			Verify:  s.Verify,
			Timeout: config.Duration(s.Timeout),
		}
	}
	return out
}

// newExecutor wires every component of a merge from cfg.
func newExecutor(cfg *config.Config, backend ci.Backend, store attempt.Store, progress io.Writer) *merge.Executor {
	clk := clock.Real()

	trk := tracker.New(backend, clk, tracker.Options{
		Interval: config.Duration(cfg.Tracker.Interval),
		Timeout:  config.Duration(cfg.Tracker.Timeout),
	})
	trk.SetProgress(progress)

	pl := poller.New(backend, clk, poller.Options{
		InitialInterval: config.Duration(cfg.Poller.InitialInterval),
		Multiplier:      cfg.Poller.Multiplier,
		MaxInterval:     config.Duration(cfg.Poller.MaxInterval),
		Jitter:          cfg.Poller.Jitter,
		Timeout:         config.Duration(cfg.Poller.Timeout),
		MaxPolls:        cfg.Poller.MaxPolls,
	})
	pl.SetProgress(progress)

	gitClient := git.NewClient(&git.ExecRunner{})
	shell := &fixer.ExecRunner{}
	fx := fixer.New(shell, gitClient, fixStrategies(cfg), clk)

	loop := autofix.New(classify.New(requireHuman(cfg)), fx, gitClient, trk, pl, clk, autofix.Options{
		MaxAttempts: cfg.AutoFix.MaxAttempts,
		Cooldown:    config.Duration(cfg.AutoFix.Cooldown),
		Dir:         cfg.Dir,
	})
	loop.SetProgress(progress)
	loop.SetCheckpoint(func(ctx context.Context, mctx *attempt.Context) {
		if err := store.Save(ctx, mctx); err != nil && progress != nil {
			fmt.Fprintf(progress, "  → warning: save attempt %s: %v\n", mctx.ID, err)
		}
	})

	strategy, _ := ci.ParseStrategy(cfg.Merge.Strategy)
	ex := merge.New(merge.Deps{
		Backend: backend,
		Tracker: trk,
		Poller:  pl,
		AutoFix: loop,
		Git:     gitClient,
		Runner:  shell,
		Locks:   lock.NewManager(filepath.Join(cfg.StateDir, "locks")),
		Store:   store,
		Clock:   clk,
	}, merge.Options{
		Target:             cfg.Merge.Target,
		Strategy:           strategy,
		Dir:                cfg.Dir,
		DryRun:             cfg.DryRun.On(),
		TestCommand:        cfg.DryRun.TestCommand,
		TestTimeout:        config.Duration(cfg.DryRun.Timeout),
		DeleteRemoteBranch: config.Enabled(cfg.Cleanup.DeleteRemoteBranch),
		DeleteLocalBranch:  config.Enabled(cfg.Cleanup.DeleteLocalBranch),
		SyncTarget:         config.Enabled(cfg.Cleanup.SyncTarget),
	})
	ex.SetProgress(progress)
	return ex
}

// mergeDeps loads config and opens everything a merge needs.
func mergeDeps(cmd *cobra.Command) (*merge.Executor, func(), error) {
	cfg, err := loadValidConfig()
	if err != nil {
		return nil, nil, err
	}
	progress := progressWriter(cmd)
	backend, err := newBackend(cfg, progress)
	if err != nil {
		return nil, nil, err
	}
	store, _, cleanup, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return newExecutor(cfg, backend, store, progress), cleanup, nil
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}
