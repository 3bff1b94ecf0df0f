package deploy

import (
	"os"
	"path/filepath"
	"time"

	"github.com/core-tools/palantir-deploy/pkg/errors"
	"github.com/core-tools/palantir-deploy/pkg/runfile"

	"gopkg.in/yaml.v3"
)

// Record is the persisted summary of the last deploy or rollback
type Record struct {
	Operation    string         `yaml:"operation"`
	Service      string         `yaml:"service"`
	State        ServiceState   `yaml:"state"`
	FailedStep   string         `yaml:"failed_step,omitempty"`
	Error        string         `yaml:"error,omitempty"`
	StartedAt    time.Time      `yaml:"started_at"`
	FinishedAt   time.Time      `yaml:"finished_at"`
	ArtifactHash string         `yaml:"artifact_hash,omitempty"`
	UnitHash     string         `yaml:"unit_hash,omitempty"`
	KnownGood    *InstalledPair `yaml:"known_good,omitempty"`
	Steps        []StepSummary  `yaml:"steps,omitempty"`
}

// InstalledPair identifies an installed artifact and unit definition by
// content hash. An empty hash means the file was absent.
type InstalledPair struct {
	ArtifactHash string `yaml:"artifact_hash"`
	UnitHash     string `yaml:"unit_hash"`
}

// StepSummary is the persisted form of a step record
type StepSummary struct {
	Name     string `yaml:"name"`
	Outcome  string `yaml:"outcome"`
	Duration string `yaml:"duration"`
}

// Succeeded reports whether the recorded run reached RUNNING
func (r *Record) Succeeded() bool {
	return r != nil && r.State.IsTerminalSuccess()
}

// LastKnownGood returns the pair installed by the most recent run that reached
// RUNNING, or nil if the record does not say
func (r *Record) LastKnownGood() *InstalledPair {
	switch {
	case r == nil:
		return nil
	case r.KnownGood != nil:
		return r.KnownGood
	case r.Succeeded():
		return &InstalledPair{ArtifactHash: r.ArtifactHash, UnitHash: r.UnitHash}
	}
	return nil
}

// LoadRecord reads the state record, returning a not-found error when absent
func LoadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("no state record", err).WithContext("path", path)
		}
		return nil, errors.NewIOError("failed to read state record", err).WithContext("path", path)
	}

	var record Record
	if err := yaml.Unmarshal(data, &record); err != nil {
		return nil, errors.NewValidationError("invalid state record", err).WithContext("path", path)
	}
	if !record.State.Valid() {
		return nil, errors.NewValidationError("unknown state in state record: "+string(record.State), nil).WithContext("path", path)
	}
	return &record, nil
}

// SaveRecord writes the state record atomically
func SaveRecord(path string, record *Record) error {
	data, err := yaml.Marshal(record)
	if err != nil {
		return errors.NewInternalError("failed to encode state record", err)
	}

	dir := filepath.Dir(path)
	if err := runfile.EnsureDirectory(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".state-*.yaml")
	if err != nil {
		return errors.NewIOError("failed to create temporary state record", err).WithContext("directory", dir)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.NewIOError("failed to write state record", err).WithContext("path", tmpPath)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.NewIOError("failed to sync state record", err).WithContext("path", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.NewIOError("failed to close state record", err).WithContext("path", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.NewIOError("failed to commit state record", err).WithContext("path", path)
	}
	return nil
}
