package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ticklab/runner/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{WorkspaceDir: dir}
}

func TestLoad_FreshState(t *testing.T) {
	cfg := testConfig(t)
	s, err := Load(cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Budgets.Ticks)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	cfg := testConfig(t)
	s := &WorkspaceState{MilestoneID: "m1"}
	s.Budgets.Ticks = 3
	require.NoError(t, s.Save(cfg))

	loaded, err := Load(cfg)
	require.NoError(t, err)
	assert.Equal(t, "m1", loaded.MilestoneID)
	assert.Equal(t, 3, loaded.Budgets.Ticks)
}

func TestExceededFields(t *testing.T) {
	s := &WorkspaceState{}
	s.Budgets.Ticks = 5
	budgets := config.Budgets{MaxTicks: 5, MaxBuilderCalls: 10}
	exceeded := s.ExceededFields(budgets)
	require.Len(t, exceeded, 1)
	assert.Equal(t, FieldTicks, exceeded[0])
}

func TestRecomputeWarning(t *testing.T) {
	s := &WorkspaceState{}
	s.Budgets.Ticks = 8
	budgets := config.Budgets{MaxTicks: 10, WarnAtFraction: 0.8}
	s.RecomputeWarning(budgets)
	assert.True(t, s.BudgetWarning)
}

func TestEnsureMilestone_ResetsCounters(t *testing.T) {
	s := &WorkspaceState{MilestoneID: "m1"}
	s.Budgets.Ticks = 7
	s.FailureStreak = 2

	changed := s.EnsureMilestone("m1")
	assert.False(t, changed)
	assert.Equal(t, 7, s.Budgets.Ticks)

	changed = s.EnsureMilestone("m2")
	assert.True(t, changed)
	assert.Equal(t, 0, s.Budgets.Ticks)
	assert.Equal(t, 0, s.FailureStreak)
}
