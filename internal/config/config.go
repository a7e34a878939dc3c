// Package config loads the operational run configuration. Secrets are
// never stored in the file; they come from the environment. Governance
// thresholds live in a separate CUE policy file (see internal/policy).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Run modes.
const (
	ModeDryRun     = "dry-run"
	ModeProduction = "production"
)

// Config is the full run configuration for one pipeline invocation.
type Config struct {
	Mode string `yaml:"mode"` // dry-run | production

	// RepoPath is the root the tracked file patterns are resolved against.
	RepoPath string   `yaml:"repo_path"`
	Patterns []string `yaml:"patterns"`

	LedgerPath string `yaml:"ledger_path"`  // SQLite evidence ledger
	ReportDir  string `yaml:"report_dir"`   // one report file per run
	RunLogPath string `yaml:"run_log_path"` // JSONL, append-only

	PolicyPath string `yaml:"policy_path"` // CUE governance policy

	AuthorID string `yaml:"author_id"` // recorded on ledger entries

	TestCommand   string `yaml:"test_command"`
	SBOMCommand   string `yaml:"sbom_command"`
	AttestCommand string `yaml:"attest_command"`

	// TimeoutSeconds bounds every external call (tests, sbom, attest,
	// remote gate, publishers). A timeout is a stage failure, fail-closed.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	GateURL string `yaml:"gate_url"` // remote governance endpoint, empty = local

	Publishers []string         `yaml:"publishers"`
	ArchiveDir string           `yaml:"archive_dir"`
	Forge      ForgeConfig      `yaml:"forge"`
	Repository RepositoryConfig `yaml:"repository"`

	// SigningKey comes only from the environment, never the file.
	SigningKey []byte `yaml:"-"`
}

// ForgeConfig configures the forge push publisher.
type ForgeConfig struct {
	Remote  string `yaml:"remote"`
	Command string `yaml:"command"`
	Token   string `yaml:"-"` // SEALGATE_FORGE_TOKEN
}

// RepositoryConfig configures the repository upload publisher.
type RepositoryConfig struct {
	BaseURL string `yaml:"base_url"`
	Title   string `yaml:"title"`
	Creator string `yaml:"creator"`
	License string `yaml:"license"`
	Token   string `yaml:"-"` // SEALGATE_REPOSITORY_TOKEN
}

// Default returns a configuration with workable local defaults. The signing
// key is intentionally absent: it must be provided, and Validate enforces
// that.
func Default() Config {
	return Config{
		Mode:           ModeDryRun,
		RepoPath:       ".",
		Patterns:       []string{"**/*.tex", "**/*.pdf", "**/*.json"},
		LedgerPath:     "sealgate.db",
		ReportDir:      "deploy_reports",
		RunLogPath:     "deploy_reports/runs.jsonl",
		AuthorID:       "sealgate",
		TestCommand:    "go test ./...",
		TimeoutSeconds: 120,
		Publishers:     []string{"archive"},
		ArchiveDir:     "archives",
	}
}

// Load reads a YAML configuration file, applies environment overrides, and
// validates the result. An empty path loads defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if mode := os.Getenv("SEALGATE_MODE"); mode != "" {
		c.Mode = mode
	}
	if url := os.Getenv("SEALGATE_GATE_URL"); url != "" {
		c.GateURL = url
	}
	if token := os.Getenv("SEALGATE_FORGE_TOKEN"); token != "" {
		c.Forge.Token = token
	}
	if token := os.Getenv("SEALGATE_REPOSITORY_TOKEN"); token != "" {
		c.Repository.Token = token
	}

	if key := os.Getenv("SEALGATE_SIGNING_KEY"); key != "" {
		c.SigningKey = []byte(key)
		return nil
	}
	if keyPath := os.Getenv("SEALGATE_SIGNING_KEY_FILE"); keyPath != "" {
		key, err := os.ReadFile(keyPath)
		if err != nil {
			return fmt.Errorf("config: signing key file: %w", err)
		}
		c.SigningKey = key
	}
	return nil
}

// Validate enforces the fatal configuration rules: a signing key must be
// configured and the mode must be known. Publisher names are resolved
// against the registry separately, also at startup.
func (c *Config) Validate() error {
	if len(c.SigningKey) == 0 {
		return fmt.Errorf("config: missing manifest signing key (set SEALGATE_SIGNING_KEY or SEALGATE_SIGNING_KEY_FILE)")
	}
	if c.Mode != ModeDryRun && c.Mode != ModeProduction {
		return fmt.Errorf("config: invalid mode %q: must be %q or %q", c.Mode, ModeDryRun, ModeProduction)
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: timeout_seconds must be positive, got %d", c.TimeoutSeconds)
	}
	return nil
}

// Timeout returns the per-call timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DryRun reports whether external side effects are disabled.
func (c *Config) DryRun() bool {
	return c.Mode != ModeProduction
}
