package process

import (
	"context"
	"testing"

	"github.com/core-tools/palantir-deploy/pkg/errors"
	"github.com/core-tools/palantir-deploy/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner_Success(t *testing.T) {
	runner := NewExecRunner(logging.NewNopLogger())

	result, err := runner.Run(context.Background(), Command{Name: "/bin/sh", Args: []string{"-c", "echo hello"}})

	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello\n", result.Stdout)
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	runner := NewExecRunner(logging.NewNopLogger())

	result, err := runner.Run(context.Background(), Command{Name: "/bin/sh", Args: []string{"-c", "echo broken >&2; exit 3"}})

	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 3, result.ExitCode)
	assert.True(t, errors.IsProcessError(err))
	assert.Contains(t, err.Error(), "broken")

	code, ok := ExitCode(err)
	assert.True(t, ok)
	assert.Equal(t, 3, code)
}

func TestExecRunner_Environment(t *testing.T) {
	runner := NewExecRunner(logging.NewNopLogger())

	result, err := runner.Run(context.Background(), Command{
		Name: "/bin/sh",
		Args: []string{"-c", "echo $DEBIAN_FRONTEND"},
		Env:  []string{"DEBIAN_FRONTEND=noninteractive"},
	})

	require.NoError(t, err)
	assert.Equal(t, "noninteractive\n", result.Stdout)
}

func TestExecRunner_MissingExecutable(t *testing.T) {
	runner := NewExecRunner(logging.NewNopLogger())

	result, err := runner.Run(context.Background(), Command{Name: "/nonexistent/definitely-not-here"})

	require.Error(t, err)
	assert.Nil(t, result)
	_, ok := ExitCode(err)
	assert.False(t, ok)
}

func TestExecRunner_CancelledBeforeStart(t *testing.T) {
	runner := NewExecRunner(logging.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := runner.Run(ctx, Command{Name: "/bin/true"})

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.IsCancelledError(err))
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name      string
		cmd       Command
		shouldErr bool
	}{
		{"valid", Command{Name: "systemctl", Args: []string{"daemon-reload"}}, false},
		{"valid_env", Command{Name: "apt-get", Env: []string{"A=b"}}, false},
		{"empty_name", Command{Name: "  "}, true},
		{"bad_env", Command{Name: "apt-get", Env: []string{"NOEQUALS"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCommand(tt.cmd)
			if tt.shouldErr {
				assert.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "systemctl", Command{Name: "systemctl"}.String())
	assert.Equal(t, "systemctl stop palantir-collector.service",
		Command{Name: "systemctl", Args: []string{"stop", "palantir-collector.service"}}.String())
}
