//go:build !windows

package processstate

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsProcessRunningSelf(t *testing.T) {
	running, err := IsProcessRunning(os.Getpid())
	require.NoError(t, err)
	assert.True(t, running)
}

func TestIsProcessRunningDeadProcess(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	require.NoError(t, cmd.Wait())

	// The child has been reaped, so its PID no longer exists (barring
	// immediate PID reuse).
	running, err := IsProcessRunning(pid)
	require.NoError(t, err)
	assert.False(t, running)
}

func TestIsProcessRunningInvalidPID(t *testing.T) {
	_, err := IsProcessRunning(0)
	assert.Error(t, err)

	_, err = IsProcessRunning(-1)
	assert.Error(t, err)
}
