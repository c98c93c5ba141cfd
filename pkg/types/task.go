// Package types holds the data model shared across the tick engine: the
// orchestrator-produced Task, the BuilderResult, and their closed enums.
package types

import "fmt"

// TaskKind is the closed set of task kinds an orchestrator may produce.
type TaskKind string

const (
	TaskExecute    TaskKind = "execute"
	TaskVerifyOnly TaskKind = "verify_only"
	TaskQuestion   TaskKind = "question"
)

// Scope constrains which paths a builder may touch for this task.
type Scope struct {
	AllowedGlobs        []string `json:"allowed_globs"`
	ForbiddenGlobs      []string `json:"forbidden_globs"`
	AllowNewFiles       bool     `json:"allow_new_files"`
	AllowLockfileChange bool     `json:"allow_lockfile_changes"`
}

// DiffLimits bound the size of a task's resulting diff.
type DiffLimits struct {
	MaxFiles int `json:"max_files"`
	MaxLines int `json:"max_lines"`
}

// Verification describes which verification templates to run, in what
// order, and with what parameters.
type Verification struct {
	Fast       []string          `json:"fast"`
	Slow       []string          `json:"slow"`
	Parameters map[string]string `json:"parameters"`
}

// BuilderMode selects which builder implementation executes an execute task.
type BuilderMode string

const (
	BuilderClaudeCode  BuilderMode = "claude_code"
	BuilderCursorAgent BuilderMode = "cursor_agent"
	BuilderExternal    BuilderMode = "external"
	BuilderPatch       BuilderMode = "patch"
)

// BuilderSpec is the builder-mode directive carried by an execute task.
type BuilderSpec struct {
	Mode         BuilderMode `json:"mode"`
	MaxTurns     int         `json:"max_turns,omitempty"`
	Instructions string      `json:"instructions,omitempty"`
	Patch        string      `json:"patch,omitempty"` // only for BuilderPatch
}

// ControlAction is the closed set of actions a control-kind task directive
// may request.
type ControlAction string

const (
	ControlContinue ControlAction = "continue"
	ControlStop     ControlAction = "stop"
)

// Control carries an orchestrator-requested loop action instead of a build.
type Control struct {
	Action ControlAction `json:"action"`
	Reason string        `json:"reason,omitempty"`
}

// Question is the payload of a question-kind task.
type Question struct {
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices,omitempty"`
}

// Task is the orchestrator's plan for a single tick.
type Task struct {
	ID          string         `json:"id"`
	MilestoneID string         `json:"milestone_id"`
	Kind        TaskKind       `json:"kind"`
	Intent      string         `json:"intent"`
	Scope       Scope          `json:"scope"`
	DiffLimits  DiffLimits     `json:"diff_limits"`
	Verify      Verification   `json:"verification"`
	Builder     *BuilderSpec   `json:"builder,omitempty"`
	Control     *Control       `json:"control,omitempty"`
	Question    *Question      `json:"question,omitempty"`
	Planning    map[string]any `json:"planning,omitempty"`
}

// Validate enforces spec.md §3's invariant: execute requires builder,
// question requires question, verify_only requires no builder.
func (t *Task) Validate() error {
	switch t.Kind {
	case TaskExecute:
		if t.Builder == nil {
			return fmt.Errorf("task %q: kind=execute requires a builder spec", t.ID)
		}
	case TaskQuestion:
		if t.Question == nil {
			return fmt.Errorf("task %q: kind=question requires a question field", t.ID)
		}
	case TaskVerifyOnly:
		if t.Builder != nil {
			return fmt.Errorf("task %q: kind=verify_only must not carry a builder spec", t.ID)
		}
	default:
		return fmt.Errorf("task %q: unknown kind %q", t.ID, t.Kind)
	}
	return nil
}

// BuilderResult is what a builder adapter produces after executing an
// execute-kind task.
type BuilderResult struct {
	Summary       string   `json:"summary"`
	FilesIntended []string `json:"files_intended,omitempty"`
	CommandsRan   []string `json:"commands_ran,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}
