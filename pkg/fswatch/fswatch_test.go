package fswatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForChange_ReturnsOnWatchedFileWrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "REPORT.json")
	require.NoError(t, os.WriteFile(target, []byte("{}"), 0o644))

	done := make(chan error, 1)
	go func() {
		done <- WaitForChange(context.Background(), dir, []string{"REPORT.json"})
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(target, []byte(`{"verdict":"success"}`), 0o644))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForChange did not return after watched file changed")
	}
}

func TestWaitForChange_IgnoresUnwatchedFiles(t *testing.T) {
	dir := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- WaitForChange(ctx, dir, []string{"REPORT.json"})
	}()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "noise.txt"), []byte("x"), 0o644))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForChange did not return after context deadline")
	}
}
