package deploy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/palantir-deploy/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "state.yaml")
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	record := &Record{
		Operation:    "deploy",
		Service:      "palantir-collector",
		State:        StateStopped,
		FailedStep:   StepReplaceArtifact,
		Error:        "permission denied",
		StartedAt:    started,
		FinishedAt:   started.Add(3 * time.Second),
		ArtifactHash: "sha256:abc",
		Steps: []StepSummary{
			{Name: StepQuiesce, Outcome: "ok", Duration: "12ms"},
		},
	}
	require.NoError(t, SaveRecord(path, record))

	loaded, err := LoadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, record, loaded)
	assert.False(t, loaded.Succeeded())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadRecord_Missing(t *testing.T) {
	_, err := LoadRecord(filepath.Join(t.TempDir(), "state.yaml"))

	assert.True(t, errors.IsNotFoundError(err))
}

func TestLoadRecord_Invalid(t *testing.T) {
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.yaml")
	require.NoError(t, os.WriteFile(garbage, []byte("state: [oops"), 0644))
	_, err := LoadRecord(garbage)
	assert.True(t, errors.IsValidationError(err))

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("state: HALF_DONE\n"), 0644))
	_, err = LoadRecord(unknown)
	assert.True(t, errors.IsValidationError(err))
}

func TestRecord_Succeeded(t *testing.T) {
	var missing *Record
	assert.False(t, missing.Succeeded())
	assert.True(t, (&Record{State: StateRunning}).Succeeded())
}

func TestRecord_LastKnownGood(t *testing.T) {
	var missing *Record
	assert.Nil(t, missing.LastKnownGood())

	succeeded := &Record{State: StateRunning, ArtifactHash: "sha256:a", UnitHash: "sha256:u"}
	assert.Equal(t, &InstalledPair{ArtifactHash: "sha256:a", UnitHash: "sha256:u"}, succeeded.LastKnownGood())

	carried := &Record{State: StateReloaded, FailedStep: StepEnableAndStart, ArtifactHash: "sha256:b",
		KnownGood: &InstalledPair{ArtifactHash: "sha256:a", UnitHash: "sha256:u"}}
	assert.Equal(t, "sha256:a", carried.LastKnownGood().ArtifactHash)

	assert.Nil(t, (&Record{State: StateStopped, FailedStep: StepReplaceArtifact}).LastKnownGood())
}
