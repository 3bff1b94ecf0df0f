package processstate

import (
	"os"
	"os/exec"
	"testing"

	"github.com/core-tools/palantir-deploy/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsProcessRunning_Self(t *testing.T) {
	running, err := IsProcessRunning(os.Getpid())

	require.NoError(t, err)
	assert.True(t, running)
}

func TestIsProcessRunning_Exited(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	require.NoError(t, cmd.Run())

	running, err := IsProcessRunning(cmd.Process.Pid)

	require.NoError(t, err)
	assert.False(t, running)
}

func TestIsProcessRunning_InvalidPID(t *testing.T) {
	for _, pid := range []int{0, -1} {
		running, err := IsProcessRunning(pid)

		assert.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
		assert.False(t, running)
	}
}
