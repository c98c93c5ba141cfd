package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ticklab/runner/pkg/gitadapter"
	"github.com/ticklab/runner/pkg/types"
)

func TestMatchesGlob(t *testing.T) {
	assert.True(t, MatchesGlob("src/foo/bar.go", []string{"src/**"}))
	assert.False(t, MatchesGlob("docs/readme.md", []string{"src/**"}))
	assert.False(t, MatchesGlob("anything", nil))
}

func TestIsLockfile(t *testing.T) {
	assert.True(t, IsLockfile("package-lock.json", []string{"package-lock.json"}))
	assert.True(t, IsLockfile("sub/dir/go.sum", []string{"go.sum"}))
	assert.False(t, IsLockfile("go.modx", []string{"go.mod"}))
	assert.True(t, IsLockfile("vendor/x.lock", []string{"*.lock"}))
}

func TestCheckScope_ForbiddenPathRollbackScenario(t *testing.T) {
	// Scenario 1 from spec.md §8: allow=[src/**], forbid=[.git/**]; touching
	// .git/config must be flagged forbidden.
	taskScope := types.Scope{AllowedGlobs: []string{"src/**"}, ForbiddenGlobs: []string{".git/**"}}
	res := CheckScope([]string{".git/config"}, nil, taskScope, nil)
	assert.False(t, res.OK)
	assert.Equal(t, ViolationForbidden, res.Violations[0].Kind)
}

func TestCheckScope_NewFileDenial(t *testing.T) {
	// Scenario 2: allow_new_files=false, builder creates an untracked file.
	taskScope := types.Scope{AllowedGlobs: []string{"src/**"}, AllowNewFiles: false}
	res := CheckScope([]string{"src/new.ts"}, []string{"src/new.ts"}, taskScope, nil)
	assert.False(t, res.OK)
	assert.Equal(t, ViolationNewFileForbidden, res.Violations[0].Kind)
	assert.Equal(t, "src/new.ts", res.Violations[0].Path)
}

func TestCheckScope_LockfileForbidden(t *testing.T) {
	taskScope := types.Scope{AllowedGlobs: []string{"**"}, AllowLockfileChange: false}
	res := CheckScope([]string{"go.sum"}, nil, taskScope, []string{"go.sum"})
	assert.False(t, res.OK)
	assert.Equal(t, ViolationLockfileForbidden, res.Violations[0].Kind)
}

func TestCheckScope_OK(t *testing.T) {
	taskScope := types.Scope{AllowedGlobs: []string{"src/**"}, AllowNewFiles: true}
	res := CheckScope([]string{"src/a.go", "src/new.ts"}, []string{"src/new.ts"}, taskScope, nil)
	assert.True(t, res.OK)
	assert.Empty(t, res.Violations)
}

func TestCheckDiffLimits_BoundaryExactPasses(t *testing.T) {
	analysis := &gitadapter.Analysis{Paths: make([]string, 20), LinesAdded: 60, LinesDeleted: 40}
	limits := types.DiffLimits{MaxFiles: 20, MaxLines: 100}
	assert.Empty(t, CheckDiffLimits(analysis, limits))
}

func TestCheckDiffLimits_BoundaryPlusOneFails(t *testing.T) {
	analysis := &gitadapter.Analysis{Paths: make([]string, 25), LinesAdded: 110, LinesDeleted: 100}
	limits := types.DiffLimits{MaxFiles: 20, MaxLines: 100}
	violations := CheckDiffLimits(analysis, limits)
	assert.Len(t, violations, 2)
}

func TestCheckHeadMoved(t *testing.T) {
	assert.False(t, CheckHeadMoved("abc", "abc"))
	assert.True(t, CheckHeadMoved("abc", "def"))
}
