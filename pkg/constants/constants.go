// Package constants holds small cross-package literals shared by the tick
// engine, the loop driver, and the CLI.
package constants

// CLIName is the prefix used in user-facing output to refer to the runner binary.
const CLIName = "tickrun"

// ProtocolVersion is the machine-contract protocol advertised to external
// builder/orchestrator agents via the PROTOCOL environment variable.
const ProtocolVersion = "v2_machine"

// DefaultLockFile is the advisory lock filename inside the workspace directory.
const DefaultLockFile = "lock.json"

// DefaultConfigName is the canonical config file name at the repository root.
const DefaultConfigName = "tickrun.json"

// LegacyConfigName is accepted alongside DefaultConfigName and auto-migrated
// on first load.
const LegacyConfigName = ".tickrunrc.json"

// DefaultRunnerOwnedGlobs are workspace-relative globs that the core
// exclusively owns and writes; the preflight worktree-clean check ignores
// dirt here.
var DefaultRunnerOwnedGlobs = []string{
	"STATE.json",
	"REPORT.json",
	"REPORT.md",
	"BLOCKED.json",
	"lock.json",
	"lock.json.flock",
	"history/**",
}
