package deploy

import (
	"context"

	"github.com/core-tools/palantir-deploy/pkg/errors"
	"github.com/core-tools/palantir-deploy/pkg/fileinstall"
	"github.com/core-tools/palantir-deploy/pkg/servicemanager"
)

// Status is a read-only view of the managed service and the last run
type Status struct {
	Service           string
	Unit              string
	Active            bool
	Enabled           bool
	ArtifactPath      string
	ArtifactHash      string // Empty when not installed
	UnitPath          string
	UnitHash          string
	SnapshotAvailable bool
	LastRun           *Record // Nil when no run was recorded
}

// Status reports live service state, installed file hashes and the last
// recorded run. It takes no lock and needs no privilege.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	name := o.config.Service.Name
	status := &Status{
		Service:           name,
		Unit:              servicemanager.UnitName(name),
		ArtifactPath:      o.config.Service.Artifact.InstallPath,
		UnitPath:          o.unitInstallPath(),
		SnapshotAvailable: o.snapshots.Available(),
	}

	var err error
	if status.Active, err = o.services.IsActive(ctx, name); err != nil {
		return nil, err
	}
	if status.Enabled, err = o.services.IsEnabled(ctx, name); err != nil {
		return nil, err
	}

	if status.ArtifactHash, err = fileinstall.HashIfExists(status.ArtifactPath); err != nil {
		return nil, err
	}
	if status.UnitHash, err = fileinstall.HashIfExists(status.UnitPath); err != nil {
		return nil, err
	}

	record, err := LoadRecord(o.runFiles.GenerateStateFilePath())
	switch {
	case err == nil:
		status.LastRun = record
	case errors.IsNotFoundError(err):
	default:
		o.logger.Warnf("Ignoring unreadable state record, error: %v", err)
	}

	return status, nil
}
