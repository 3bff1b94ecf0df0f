package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from     ServiceState
		to       ServiceState
		expected bool
	}{
		{StateUnknown, StateStopped, true},
		{StateStopped, StateArtifactReplaced, true},
		{StateArtifactReplaced, StateUnitReplaced, true},
		{StateUnitReplaced, StateReloaded, true},
		{StateReloaded, StateEnabled, true},
		{StateEnabled, StateRunning, true},

		{StateUnknown, StateRunning, false},
		{StateStopped, StateUnitReplaced, false},
		{StateStopped, StateReloaded, false},
		{StateRunning, StateStopped, false},
		{StateStopped, StateStopped, false},
		{StateRunning, StateRunning, false},
		{ServiceState("BOGUS"), StateStopped, false},
		{StateStopped, ServiceState("BOGUS"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.expected, CanTransition(tt.from, tt.to))
		})
	}
}

func TestServiceState_Valid(t *testing.T) {
	for _, state := range stateOrder {
		assert.True(t, state.Valid(), state)
	}
	assert.False(t, ServiceState("").Valid())
	assert.False(t, ServiceState("running").Valid())
}

func TestServiceState_IsTerminalSuccess(t *testing.T) {
	assert.True(t, StateRunning.IsTerminalSuccess())
	assert.False(t, StateEnabled.IsTerminalSuccess())
	assert.False(t, StateStopped.IsTerminalSuccess())
}
