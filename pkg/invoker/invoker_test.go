package invoker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgvInvoker_CapturesExitCodeAndOutput(t *testing.T) {
	inv := ArgvInvoker{}
	res, err := inv.Invoke(context.Background(), Request{
		Command: "sh",
		Args:    []string{"-c", "echo out; echo err 1>&2; exit 3"},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Stdout, "out")
	assert.Contains(t, res.Stderr, "err")
	assert.False(t, res.TimedOut)
}

func TestArgvInvoker_TimesOut(t *testing.T) {
	inv := ArgvInvoker{}
	res, err := inv.Invoke(context.Background(), Request{
		Command: "sleep",
		Args:    []string{"5"},
		Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, 124, res.ExitCode)
}

func TestArgvInvoker_CommandNotFound(t *testing.T) {
	inv := ArgvInvoker{}
	_, err := inv.Invoke(context.Background(), Request{
		Command: "this-binary-does-not-exist-xyz",
		Timeout: time.Second,
	})
	require.Error(t, err)
}
