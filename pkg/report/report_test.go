package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticklab/runner/pkg/config"
	"github.com/ticklab/runner/pkg/types"
)

func sampleReport() *types.Report {
	return &types.Report{
		RunID:       "20260731T000000Z-abcdef12",
		StartedAt:   time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
		DurationMS:  1500,
		BaseCommit:  "aaaa111",
		HeadCommit:  "bbbb222",
		TaskSummary: "added greeting file",
		Verdict:     types.VerdictSuccess,
		Code:        types.CodeSuccess,
		BlastRadius: types.BlastRadius{FilesTouched: 1, LinesAdded: 3, NewFiles: 1},
		Scope:       types.ScopeResult{OK: true, Touched: []string{"greeting.txt"}},
		Verification: types.VerificationSummary{
			Runs: []types.VerifyRunRecord{
				{Template: "unit", Phase: "fast", ExitCode: 0, DurationMS: 200},
			},
		},
		Budgets: types.BudgetsSnapshot{Ticks: 1, OrchestratorCalls: 1, BuilderCalls: 1, VerifyRuns: 1},
	}
}

func TestRenderMarkdown_ContainsCoreFields(t *testing.T) {
	md := RenderMarkdown(sampleReport())

	assert.Contains(t, md, "# Tick 20260731T000000Z-abcdef12")
	assert.Contains(t, md, "**Verdict:** success")
	assert.Contains(t, md, "**Code:** SUCCESS")
	assert.Contains(t, md, "`aaaa111`")
	assert.Contains(t, md, "`bbbb222`")
	assert.Contains(t, md, "added greeting file")
	assert.Contains(t, md, "greeting.txt")
	assert.Contains(t, md, "| unit | fast | 0 |")
}

func TestRenderMarkdown_OmitsEmptySections(t *testing.T) {
	rep := sampleReport()
	rep.Scope.Touched = nil
	rep.Verification.Runs = nil

	md := RenderMarkdown(rep)
	assert.NotContains(t, md, "## Touched paths")
	assert.NotContains(t, md, "## Verification")
}

func TestRenderAndWrite_WritesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{WorkspaceDir: dir}

	require.NoError(t, RenderAndWrite(cfg, sampleReport()))

	data, err := os.ReadFile(filepath.Join(dir, "REPORT.md"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Tick 20260731T000000Z-abcdef12"))
}

func TestRenderTerminal_StylesByVerdict(t *testing.T) {
	blocked := sampleReport()
	blocked.Verdict = types.VerdictBlocked
	blocked.Code = types.CodeBlockedLockHeld

	out := RenderTerminal(blocked)
	assert.Contains(t, out, "blocked")
	assert.Contains(t, out, "BLOCKED_LOCK_HELD")
	assert.Contains(t, out, "budgets: ticks=1")
}
