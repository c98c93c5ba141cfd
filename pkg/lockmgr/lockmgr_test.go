package lockmgr

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withStubs(t *testing.T, boot string, alive func(int) bool) {
	t.Helper()
	oldBoot, oldAlive := bootIDFunc, aliveFunc
	bootIDFunc = func() string { return boot }
	aliveFunc = alive
	t.Cleanup(func() {
		bootIDFunc = oldBoot
		aliveFunc = oldAlive
	})
}

func TestAcquireRelease_Basic(t *testing.T) {
	withStubs(t, "boot-a", func(int) bool { return true })
	dir := t.TempDir()
	path := filepath.Join(dir, "lock.json")

	l, err := Acquire(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), l.PID)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	l.Release()
	_, statErr = os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAcquire_HeldByLiveOwnerSameBoot(t *testing.T) {
	withStubs(t, "boot-a", func(pid int) bool { return true })
	dir := t.TempDir()
	path := filepath.Join(dir, "lock.json")

	contents := Contents{PID: 999999, BootID: "boot-a", AcquiredAt: time.Now()}
	data, _ := json.Marshal(contents)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err := Acquire(path)
	require.Error(t, err)
	var acqErr *AcquireError
	require.ErrorAs(t, err, &acqErr)
	assert.Equal(t, ErrHeld, acqErr.Kind)
}

func TestAcquire_ReclaimsStaleOwnerDifferentBoot(t *testing.T) {
	withStubs(t, "boot-current", func(pid int) bool { return true })
	dir := t.TempDir()
	path := filepath.Join(dir, "lock.json")

	contents := Contents{PID: 999999, BootID: "boot-old", AcquiredAt: time.Now().Add(-time.Hour)}
	data, _ := json.Marshal(contents)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	l, err := Acquire(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), l.PID)
	l.Release()
}

func TestAcquire_ReclaimsStaleOwnerDeadPID(t *testing.T) {
	withStubs(t, "boot-a", func(pid int) bool { return false })
	dir := t.TempDir()
	path := filepath.Join(dir, "lock.json")

	contents := Contents{PID: 123456, BootID: "boot-a", AcquiredAt: time.Now()}
	data, _ := json.Marshal(contents)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	l, err := Acquire(path)
	require.NoError(t, err)
	l.Release()
}

func TestAcquire_CorruptLockFile(t *testing.T) {
	withStubs(t, "boot-a", func(int) bool { return true })
	dir := t.TempDir()
	path := filepath.Join(dir, "lock.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := Acquire(path)
	require.Error(t, err)
	var acqErr *AcquireError
	require.ErrorAs(t, err, &acqErr)
	assert.Equal(t, ErrCorrupt, acqErr.Kind)
}
