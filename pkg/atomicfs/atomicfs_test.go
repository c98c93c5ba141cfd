package atomicfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONThenReadJSON_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	type payload struct {
		RunID   string `json:"run_id"`
		Verdict string `json:"verdict"`
	}
	in := payload{RunID: "abc", Verdict: "success"}
	require.NoError(t, WriteJSON(path, in))

	var out payload
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in, out)

	// no leftover temp files
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteJSON_NeverLeavesTruncatedTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, WriteJSON(path, map[string]int{"ticks": 1}))

	// Overwrite with new content; target must reflect only the new content,
	// never a half-written blend.
	require.NoError(t, WriteJSON(path, map[string]int{"ticks": 2}))

	var out map[string]int
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, 2, out["ticks"])
}

func TestCleanupTemp_RemovesOnlyMatchingSuffix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.json"), []byte("x"), 0o644))

	failures := CleanupTemp(dir, ".tmp")
	assert.Empty(t, failures)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep.json", entries[0].Name())
}

func TestGlobSafe(t *testing.T) {
	cases := []struct {
		pattern string
		safe    bool
	}{
		{"relais/*.tmp", true},
		{"", false},
		{"   ", false},
		{"../*.tmp", false},
		{"/etc/*.tmp", false},
		{`C:\Windows\*.tmp`, false},
		{`\\host\share\*.tmp`, false},
		{"//host/share/*.tmp", false},
	}
	for _, c := range cases {
		got := GlobSafe(c.pattern)
		assert.Equalf(t, c.safe, got.Safe, "pattern %q: %s", c.pattern, got.Reason)
		if !c.safe {
			assert.NotEmpty(t, got.Reason)
		}
	}
}

func TestCleanupGlob_RemovesMatches(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.json"), []byte("x"), 0o644))

	failures := CleanupGlob(dir, "*.tmp")
	assert.Empty(t, failures)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep.json", entries[0].Name())
}

func TestCleanupGlob_RefusesUnsafePattern(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(filepath.Dir(dir), "stray.tmp")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	defer os.Remove(outside)

	failures := CleanupGlob(dir, "../*.tmp")
	require.Len(t, failures, 1)

	_, err := os.Stat(outside)
	assert.NoError(t, err, "unsafe pattern must delete nothing")
}
