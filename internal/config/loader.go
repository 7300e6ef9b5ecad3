package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/mergegate/internal/ci"
)

// EnvPrefix prefixes every environment variable mergegate reads.
const EnvPrefix = "MERGEGATE"

// Load reads and parses a configuration from the given YAML or TOML file.
// Defaults are applied and secrets are read from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config TOML: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	env, err := LoadEnv()
	if err != nil {
		return nil, err
	}
	cfg.Env = env
	return &cfg, nil
}

// LoadDefault loads the first config found. Search order: explicit,
// $MERGEGATE_CONFIG, ./mergegate.yaml, ./mergegate.toml,
// ~/.mergegate/config.yaml. It returns the path it loaded.
func LoadDefault(explicit string) (*Config, string, error) {
	if explicit != "" {
		cfg, err := Load(explicit)
		return cfg, explicit, err
	}
	if err := loadDotEnv(); err != nil {
		return nil, "", err
	}

	var candidates []string
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		candidates = append(candidates, p)
	}
	candidates = append(candidates, "mergegate.yaml", "mergegate.toml")
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".mergegate", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	return nil, "", fmt.Errorf("no mergegate config found (searched: %v)", candidates)
}

// LoadEnv reads secrets from the environment after loading ./.env, if present.
func LoadEnv() (Env, error) {
	var env Env
	if err := loadDotEnv(); err != nil {
		return env, err
	}
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return env, fmt.Errorf("reading environment: %w", err)
	}
	return env, nil
}

// loadDotEnv never overrides variables already set.
func loadDotEnv() error {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// applyDefaults fills unset fields. Security is always added to
// require_human_for.
func applyDefaults(cfg *Config) {
	if cfg.Backend == "" {
		cfg.Backend = "github"
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.StateDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.StateDir = filepath.Join(home, ".mergegate")
		} else {
			cfg.StateDir = ".mergegate"
		}
	}

	m := &cfg.Merge
	setDefault(&m.Target, "main")
	setDefault(&m.Strategy, string(ci.StrategySquash))

	setDefault(&cfg.Tracker.Interval, "2s")
	setDefault(&cfg.Tracker.Timeout, "60s")

	p := &cfg.Poller
	setDefault(&p.InitialInterval, "10s")
	setDefault(&p.MaxInterval, "120s")
	setDefault(&p.Timeout, "600s")
	if p.Multiplier == 0 {
		p.Multiplier = 1.5
	}
	if p.Jitter == 0 {
		p.Jitter = 0.2
	}
	if p.MaxPolls == 0 {
		p.MaxPolls = 30
	}

	a := &cfg.AutoFix
	if a.MaxAttempts == 0 {
		a.MaxAttempts = 3
	}
	setDefault(&a.AttemptTimeout, "120s")
	setDefault(&a.Cooldown, "30s")
	if a.RequireHumanFor == nil {
		a.RequireHumanFor = []string{string(ci.CategorySecurity), string(ci.CategoryInfrastructure)}
	}
	hasSecurity := false
	for _, c := range a.RequireHumanFor {
		if c == string(ci.CategorySecurity) {
			hasSecurity = true
		}
	}
	if !hasSecurity {
		a.RequireHumanFor = append([]string{string(ci.CategorySecurity)}, a.RequireHumanFor...)
	}
	for name, s := range a.FixStrategies {
		if s.Timeout == "" {
			s.Timeout = a.AttemptTimeout
			a.FixStrategies[name] = s
		}
	}

	setDefault(&cfg.DryRun.Timeout, "10m")
	setDefault(&cfg.Review.BlockOn, "major")
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
