// Package config defines the immutable per-run Config and its JSON
// load/migrate path described in spec.md §3 and §6.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ticklab/runner/pkg/constants"
	"github.com/ticklab/runner/pkg/logger"
)

var log = logger.New("config")

// RunnerKnobs configures the runner's own housekeeping.
type RunnerKnobs struct {
	LockfilePath     string       `json:"lockfile_path"`
	MaxTickSeconds   int          `json:"max_tick_seconds"`
	RunnerOwnedGlobs []string     `json:"runner_owned_globs"`
	CrashCleanup     CrashCleanup `json:"crash_cleanup"`
	RenderReport     bool         `json:"render_report"`
	ReportByteCap    int          `json:"report_byte_cap"`
	// BranchMode is "" (stay on the current branch) or "per_tick" (create or
	// switch to a deterministic branch name templated from the task id
	// before BUILD).
	BranchMode string `json:"branch_mode,omitempty"`
	// MaxRedispatch gates a task whose fingerprint equals the last failed
	// one: at 1 (the default) the tick refuses it with
	// STOP_REDISPATCH_IDENTICAL_TASK. Any value above 1 turns that check
	// off; no count of consecutive redispatches is kept.
	MaxRedispatch int `json:"max_redispatch,omitempty"`
}

// CrashCleanup configures the preflight crash-recovery step.
type CrashCleanup struct {
	DeleteTmpGlob      string `json:"delete_tmp_glob"`
	ValidateRunnerJSON bool   `json:"validate_runner_json"`
}

// InvokerConfig describes how to invoke an external CLI-based agent.
type InvokerConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Model   string   `json:"model,omitempty"`
}

// OrchestratorKnobs configures the orchestrator adapter.
type OrchestratorKnobs struct {
	SystemPromptPath string        `json:"system_prompt_path"`
	UserPromptPath   string        `json:"user_prompt_path"`
	SchemaPath       string        `json:"schema_path"`
	MaxTurns         int           `json:"max_turns"`
	PermissionMode   string        `json:"permission_mode"`
	RetryBudget      int           `json:"retry_budget"`
	Invoker          InvokerConfig `json:"invoker"`
	TimeoutSeconds   int           `json:"timeout_seconds"`
}

// BuilderKnobs configures one builder mode's invocation.
type BuilderKnobs struct {
	Invoker        InvokerConfig `json:"invoker"`
	SchemaPath     string        `json:"schema_path"`
	TimeoutSeconds int           `json:"timeout_seconds"`
}

// ScopeDefaults are the task-scope defaults applied when a task omits a field.
type ScopeDefaults struct {
	AllowedGlobs   []string `json:"allowed_globs"`
	ForbiddenGlobs []string `json:"forbidden_globs"`
	AllowNewFiles  bool     `json:"allow_new_files"`
	LockfileNames  []string `json:"lockfile_names"`
}

// DiffLimits are the default diff-size caps applied when a task omits them.
type DiffLimits struct {
	MaxFiles int `json:"max_files"`
	MaxLines int `json:"max_lines"`
}

// VerifyTemplate is one named verification command template.
type VerifyTemplate struct {
	Cmd    string   `json:"cmd"`
	Args   []string `json:"args"`
	Params []string `json:"params"` // declared parameter names this template accepts
}

// VerificationConfig configures the verification runner.
type VerificationConfig struct {
	MaxParamLength     int                       `json:"max_param_length"`
	RejectWhitespace   bool                      `json:"reject_whitespace"`
	RejectDotDot       bool                      `json:"reject_dotdot"`
	MetacharRegex      string                    `json:"metachar_regex"`
	FastTimeoutSeconds int                       `json:"fast_timeout_seconds"`
	SlowTimeoutSeconds int                       `json:"slow_timeout_seconds"`
	Templates          map[string]VerifyTemplate `json:"templates"`
}

// Budgets are per-milestone caps.
type Budgets struct {
	MaxTicks             int     `json:"max_ticks"`
	MaxOrchestratorCalls int     `json:"max_orchestrator_calls"`
	MaxBuilderCalls      int     `json:"max_builder_calls"`
	MaxVerifyRuns        int     `json:"max_verify_runs"`
	WarnAtFraction       float64 `json:"warn_at_fraction"`
}

// ReviewerConfig configures the conditional reviewer adapter.
type ReviewerConfig struct {
	Enabled            bool          `json:"enabled"`
	HighRiskGlobs      []string      `json:"high_risk_globs"`
	NearCapThreshold   float64       `json:"near_cap_threshold"`
	RepeatedStopWindow int           `json:"repeated_stop_window"`
	MaxStopsInWindow   int           `json:"max_stops_in_window"`
	PromptPath         string        `json:"prompt_path"`
	Invoker            InvokerConfig `json:"invoker"`
	TimeoutSeconds     int           `json:"timeout_seconds"`
}

// AutonomyProfile is one of the three named profiles from spec.md §3.
type AutonomyProfile string

const (
	ProfileStrict   AutonomyProfile = "strict"
	ProfileBalanced AutonomyProfile = "balanced"
	ProfileFast     AutonomyProfile = "fast"
)

// Autonomy configures allow/deny command prefixes per profile.
type Autonomy struct {
	Profile     AutonomyProfile `json:"profile"`
	AllowPrefix []string        `json:"allow_command_prefixes"`
	DenyPrefix  []string        `json:"deny_command_prefixes"`
}

// Allowed reports whether command is permitted to run under this autonomy
// profile, per spec.md §3: a deny-prefix match always rejects; when any
// allow-prefixes are configured, command must match one of them. An
// unconfigured profile (no prefixes at all) allows everything.
func (a Autonomy) Allowed(command string) bool {
	for _, deny := range a.DenyPrefix {
		if deny != "" && strings.HasPrefix(command, deny) {
			return false
		}
	}
	if len(a.AllowPrefix) == 0 {
		return true
	}
	for _, allow := range a.AllowPrefix {
		if strings.HasPrefix(command, allow) {
			return true
		}
	}
	return false
}

// Config is the immutable per-run configuration.
type Config struct {
	WorkspaceDir     string                  `json:"workspace_dir"`
	Runner           RunnerKnobs             `json:"runner"`
	Orchestrator     OrchestratorKnobs       `json:"orchestrator"`
	Builders         map[string]BuilderKnobs `json:"builders"`
	Scope            ScopeDefaults           `json:"scope_defaults"`
	DiffLimits       DiffLimits              `json:"diff_limits"`
	Verification     VerificationConfig      `json:"verification"`
	Budgets          Budgets                 `json:"budgets"`
	Reviewer         ReviewerConfig          `json:"reviewer"`
	Autonomy         Autonomy                `json:"autonomy"`
	HistoryRetention int                     `json:"history_retention"`
	RequireGit       bool                    `json:"require_git"`
}

// LockPath is the absolute lock file path for this config.
func (c *Config) LockPath() string {
	if filepath.IsAbs(c.Runner.LockfilePath) {
		return c.Runner.LockfilePath
	}
	return filepath.Join(c.WorkspaceDir, c.Runner.LockfilePath)
}

func (c *Config) path(name string) string {
	return filepath.Join(c.WorkspaceDir, name)
}

func (c *Config) StatePath() string      { return c.path("STATE.json") }
func (c *Config) ReportJSONPath() string { return c.path("REPORT.json") }
func (c *Config) ReportMDPath() string   { return c.path("REPORT.md") }
func (c *Config) BlockedPath() string    { return c.path("BLOCKED.json") }
func (c *Config) FactsPath() string      { return c.path("FACTS.md") }
func (c *Config) HistoryDir() string     { return c.path("history") }

// applyDefaults fills zero-valued knobs with sane defaults so a minimal
// config file is still usable.
func (c *Config) applyDefaults() {
	if c.Runner.LockfilePath == "" {
		c.Runner.LockfilePath = constants.DefaultLockFile
	}
	if c.Runner.MaxTickSeconds == 0 {
		c.Runner.MaxTickSeconds = 1800
	}
	if len(c.Runner.RunnerOwnedGlobs) == 0 {
		c.Runner.RunnerOwnedGlobs = append([]string(nil), constants.DefaultRunnerOwnedGlobs...)
	}
	if c.Runner.ReportByteCap == 0 {
		c.Runner.ReportByteCap = 1 << 20
	}
	if c.Budgets.WarnAtFraction == 0 {
		c.Budgets.WarnAtFraction = 0.8
	}
	if c.Verification.MaxParamLength == 0 {
		c.Verification.MaxParamLength = 256
	}
	if c.Verification.FastTimeoutSeconds == 0 {
		c.Verification.FastTimeoutSeconds = 120
	}
	if c.Verification.SlowTimeoutSeconds == 0 {
		c.Verification.SlowTimeoutSeconds = 900
	}
	if c.Orchestrator.TimeoutSeconds == 0 {
		c.Orchestrator.TimeoutSeconds = 300
	}
	if c.Runner.MaxRedispatch == 0 {
		c.Runner.MaxRedispatch = 1
	}
}

// Load reads the config at dir, preferring constants.DefaultConfigName and
// falling back to constants.LegacyConfigName (auto-migrating on first load
// by rewriting "${workspace}" tokens to absolute paths).
func Load(dir string) (*Config, error) {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	canonical := filepath.Join(dir, constants.DefaultConfigName)
	legacy := filepath.Join(dir, constants.LegacyConfigName)

	path := canonical
	migrated := false
	if _, err := os.Stat(canonical); err != nil {
		if _, lerr := os.Stat(legacy); lerr == nil {
			path = legacy
			migrated = true
		} else {
			return nil, fmt.Errorf("config: no %s or %s found in %s", constants.DefaultConfigName, constants.LegacyConfigName, dir)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	text := strings.ReplaceAll(string(data), "${workspace}", dir)

	var cfg Config
	if err := json.Unmarshal([]byte(text), &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = dir
	}
	cfg.applyDefaults()

	if migrated {
		log.Printf("migrating legacy config %s to %s", legacy, canonical)
		if err := os.WriteFile(canonical, []byte(text), 0o644); err != nil {
			return nil, fmt.Errorf("config: migrating legacy config: %w", err)
		}
	}

	return &cfg, nil
}
