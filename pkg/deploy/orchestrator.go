package deploy

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/core-tools/palantir-deploy/pkg/errors"
	"github.com/core-tools/palantir-deploy/pkg/fileinstall"
	"github.com/core-tools/palantir-deploy/pkg/logging"
	"github.com/core-tools/palantir-deploy/pkg/packages"
	"github.com/core-tools/palantir-deploy/pkg/process"
	"github.com/core-tools/palantir-deploy/pkg/runfile"
	"github.com/core-tools/palantir-deploy/pkg/servicemanager"
	"github.com/core-tools/palantir-deploy/pkg/snapshot"
)

// Step names. They appear verbatim in diagnostics and the state record.
const (
	StepCheckPreconditions = "check preconditions"
	StepAcquireSession     = "acquire privileged session"
	StepProvision          = "provision dependencies"
	StepSnapshot           = "snapshot prior version"
	StepQuiesce            = "quiesce"
	StepReplaceArtifact    = "replace artifact"
	StepReplaceUnit        = "replace unit definition"
	StepReload             = "reload manager state"
	StepEnableAndStart     = "enable and start"
	StepExplicitStart      = "explicit start"
	StepRestoreSnapshot    = "restore snapshot"
)

const (
	OperationDeploy   = "deploy"
	OperationRollback = "rollback"
)

// StepOutcome is how a step ended
type StepOutcome string

const (
	OutcomeOK        StepOutcome = "ok"
	OutcomeUnchanged StepOutcome = "unchanged"
	OutcomeSkipped   StepOutcome = "skipped"
	OutcomeFailed    StepOutcome = "failed"
)

// StepRecord describes one executed step
type StepRecord struct {
	Name     string
	Outcome  StepOutcome
	Duration time.Duration
	Err      error
}

// Result is the outcome of a deploy or rollback run
type Result struct {
	Operation         string
	Service           string
	State             ServiceState
	FailedStep        string
	Steps             []StepRecord
	StartedAt         time.Time
	FinishedAt        time.Time
	InstalledPackages []string
	Artifact          fileinstall.Outcome
	Unit              fileinstall.Outcome
	SnapshotTaken     bool
}

// Succeeded reports whether the run reached RUNNING
func (r *Result) Succeeded() bool {
	return r.FailedStep == "" && r.State.IsTerminalSuccess()
}

// StepNames lists the names of executed steps in order
func (r *Result) StepNames() []string {
	names := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		names[i] = s.Name
	}
	return names
}

// Dependencies are the collaborators of an Orchestrator. Nil fields get the
// host implementations.
type Dependencies struct {
	Runner         process.Runner
	Packages       packages.Manager
	Services       servicemanager.Manager
	Installer      fileinstall.Installer
	PrivilegeCheck PrivilegeCheck
}

// Orchestrator deploys the managed service
type Orchestrator struct {
	config         *Config
	runner         process.Runner
	packages       packages.Manager
	services       servicemanager.Manager
	installer      fileinstall.Installer
	runFiles       *runfile.RunFileManager
	snapshots      *snapshot.Store
	checkPrivilege PrivilegeCheck
	logger         logging.Logger
}

// NewOrchestrator validates config and wires the orchestrator
func NewOrchestrator(config *Config, deps Dependencies, logger logging.Logger) (*Orchestrator, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	if deps.Runner == nil {
		deps.Runner = process.NewExecRunner(logger)
	}
	if deps.Services == nil {
		deps.Services = servicemanager.NewSystemd(deps.Runner, config.Service.Unit.InstallDir, logger)
	}
	if deps.Installer == nil {
		deps.Installer = fileinstall.NewAtomicInstaller(logger)
	}
	if deps.PrivilegeCheck == nil {
		deps.PrivilegeCheck = RequireRoot
	}
	if !config.RequiresRoot() {
		deps.PrivilegeCheck = nil
	}

	runFiles := runfile.NewRunFileManager(runfile.RunFileConfig{
		RunDirectory:   config.Deploy.RunDir,
		StateDirectory: config.Deploy.StateDir,
	}, logger)

	return &Orchestrator{
		config:         config,
		runner:         deps.Runner,
		packages:       deps.Packages,
		services:       deps.Services,
		installer:      deps.Installer,
		runFiles:       runFiles,
		snapshots:      snapshot.NewStore(runFiles.GenerateSnapshotDirectoryPath(config.Service.Name), deps.Installer, logger),
		checkPrivilege: deps.PrivilegeCheck,
		logger:         logger,
	}, nil
}

type stepFunc func(ctx context.Context, result *Result) (StepOutcome, error)

type step struct {
	name    string
	kind    errors.ErrorType // Type given to untyped failures; empty keeps the cause's type
	reaches []ServiceState
	run     stepFunc
}

// Deploy runs the full deployment. On failure the returned Result names the
// failing step and the state reached; nothing is retried or rolled back.
func (o *Orchestrator) Deploy(ctx context.Context) (*Result, error) {
	result := o.newResult(OperationDeploy)
	o.logger.Infof("Deployment started, service: %s", o.config.Service.Name)

	var sess *session
	err := o.runSteps(ctx, result, []step{
		{name: StepCheckPreconditions, kind: errors.ErrorTypePrecondition, run: o.checkSources},
		{name: StepAcquireSession, run: o.openSessionStep(&sess)},
	})
	if err != nil {
		return o.finish(result, err, nil, false)
	}
	defer sess.Close()

	knownGood := o.knownGoodPair(o.lastRecord())

	// The snapshot only reads installed files, so it runs before the service is stopped
	steps := []step{
		{name: StepProvision, kind: errors.ErrorTypeProvisioning, run: o.provision},
	}
	if o.config.SnapshotEnabled() {
		steps = append(steps, step{name: StepSnapshot, kind: errors.ErrorTypeIO, run: o.snapshotStep(knownGood)})
	}
	steps = append(steps,
		step{name: StepQuiesce, kind: errors.ErrorTypeQuiesce, reaches: []ServiceState{StateStopped}, run: o.quiesce},
		step{name: StepReplaceArtifact, kind: errors.ErrorTypeReplacement, reaches: []ServiceState{StateArtifactReplaced}, run: o.replaceArtifact},
		step{name: StepReplaceUnit, kind: errors.ErrorTypeReplacement, reaches: []ServiceState{StateUnitReplaced}, run: o.replaceUnit},
	)
	steps = append(steps, o.activationSteps()...)

	return o.finish(result, o.runSteps(ctx, result, steps), knownGood, true)
}

// Rollback restores the snapshot taken before the last replacement and brings
// the service back up. It is only ever run on operator request.
func (o *Orchestrator) Rollback(ctx context.Context) (*Result, error) {
	result := o.newResult(OperationRollback)
	o.logger.Infof("Rollback started, service: %s", o.config.Service.Name)

	var sess *session
	err := o.runSteps(ctx, result, []step{
		{name: StepCheckPreconditions, kind: errors.ErrorTypeNotFound, run: o.checkSnapshot},
		{name: StepAcquireSession, run: o.openSessionStep(&sess)},
	})
	if err != nil {
		return o.finish(result, err, nil, false)
	}
	defer sess.Close()

	knownGood := o.knownGoodPair(o.lastRecord())

	steps := []step{
		{name: StepQuiesce, kind: errors.ErrorTypeQuiesce, reaches: []ServiceState{StateStopped}, run: o.quiesce},
		{name: StepRestoreSnapshot, kind: errors.ErrorTypeReplacement, reaches: []ServiceState{StateArtifactReplaced, StateUnitReplaced}, run: o.restoreSnapshot},
	}
	steps = append(steps, o.activationSteps()...)

	return o.finish(result, o.runSteps(ctx, result, steps), knownGood, true)
}

func (o *Orchestrator) activationSteps() []step {
	return []step{
		{name: StepReload, kind: errors.ErrorTypeActivation, reaches: []ServiceState{StateReloaded}, run: o.reload},
		{name: StepEnableAndStart, kind: errors.ErrorTypeActivation, reaches: []ServiceState{StateEnabled}, run: o.enableAndStart},
		{name: StepExplicitStart, kind: errors.ErrorTypeActivation, reaches: []ServiceState{StateRunning}, run: o.explicitStart},
	}
}

func (o *Orchestrator) newResult(operation string) *Result {
	return &Result{
		Operation: operation,
		Service:   o.config.Service.Name,
		State:     StateUnknown,
		StartedAt: time.Now().UTC(),
	}
}

// runSteps executes steps in order and stops at the first failure. The
// context is only consulted between steps; a started step runs to completion.
func (o *Orchestrator) runSteps(ctx context.Context, result *Result, steps []step) error {
	stepCtx := context.WithoutCancel(ctx)

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			result.FailedStep = s.name
			o.logger.Warnf("Interrupted before step: %s, state: %s", s.name, result.State)
			return errors.NewCancelledError("interrupted before step started", err).WithStep(s.name)
		}

		o.logger.Infof("Step started: %s", s.name)
		started := time.Now()
		outcome, err := s.run(stepCtx, result)
		record := StepRecord{Name: s.name, Outcome: outcome, Duration: time.Since(started)}

		if err == nil {
			err = o.advance(result, s.reaches)
		}
		if err != nil {
			err = stepError(s, err)
			record.Outcome = OutcomeFailed
			record.Err = err
			result.Steps = append(result.Steps, record)
			result.FailedStep = s.name
			o.logger.Errorf("Step failed: %s, state: %s, error: %v", s.name, result.State, err)
			return err
		}

		result.Steps = append(result.Steps, record)
		o.logger.Infof("Step finished: %s, outcome: %s, state: %s, duration: %s", s.name, record.Outcome, result.State, record.Duration.Round(time.Millisecond))
	}
	return nil
}

func (o *Orchestrator) advance(result *Result, states []ServiceState) error {
	for _, to := range states {
		if result.State == to {
			continue
		}
		if !CanTransition(result.State, to) {
			return errors.NewInternalError(fmt.Sprintf("illegal state transition %s -> %s", result.State, to), nil)
		}
		result.State = to
	}
	return nil
}

func stepError(s step, err error) error {
	domainErr, ok := err.(*errors.DomainError)
	if ok && (s.kind == "" || domainErr.Type == s.kind) {
		return domainErr.WithStep(s.name)
	}
	kind := s.kind
	if kind == "" {
		kind = errors.ErrorTypeInternal
	}
	return errors.NewDomainError(kind, s.name+" failed", err).WithStep(s.name)
}

func (o *Orchestrator) finish(result *Result, err error, knownGood *InstalledPair, persist bool) (*Result, error) {
	result.FinishedAt = time.Now().UTC()

	if persist {
		o.saveRecord(result, err, knownGood)
	}

	if err != nil {
		o.logger.Errorf("%s failed, service: %s, step: %s, state: %s, error: %v",
			capitalize(result.Operation), result.Service, result.FailedStep, result.State, err)
		return result, err
	}

	o.logger.Infof("%s finished, service: %s, state: %s, duration: %s",
		capitalize(result.Operation), result.Service, result.State, result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	return result, nil
}

func (o *Orchestrator) openSessionStep(out **session) stepFunc {
	return func(ctx context.Context, result *Result) (StepOutcome, error) {
		sess, err := openSession(o.checkPrivilege, o.runFiles, o.config.Service.Name, o.logger)
		if err != nil {
			return OutcomeFailed, err
		}
		*out = sess
		return OutcomeOK, nil
	}
}

func (o *Orchestrator) checkSources(ctx context.Context, result *Result) (StepOutcome, error) {
	sources := []struct {
		what string
		path string
	}{
		{"artifact", o.config.Service.Artifact.Source},
		{"unit definition", o.config.Service.Unit.Source},
	}

	for _, src := range sources {
		info, err := os.Stat(src.path)
		if err != nil {
			return OutcomeFailed, errors.NewPreconditionError(src.what+" source is missing: "+src.path, err).WithContext("path", src.path)
		}
		if !info.Mode().IsRegular() {
			return OutcomeFailed, errors.NewPreconditionError(src.what+" source is not a regular file: "+src.path, nil).WithContext("path", src.path)
		}
	}
	return OutcomeOK, nil
}

func (o *Orchestrator) checkSnapshot(ctx context.Context, result *Result) (StepOutcome, error) {
	if !o.snapshots.Available() {
		return OutcomeFailed, errors.NewNotFoundError("no snapshot available to roll back to", nil).WithContext("directory", o.snapshots.Dir())
	}
	return OutcomeOK, nil
}

func (o *Orchestrator) packageManager() (packages.Manager, error) {
	if o.packages == nil {
		manager, err := packages.Detect(o.runner, o.config.Packages.Manager, o.logger)
		if err != nil {
			return nil, errors.NewProvisioningError("no usable package manager", err)
		}
		o.packages = manager
	}
	return o.packages, nil
}

func (o *Orchestrator) provision(ctx context.Context, result *Result) (StepOutcome, error) {
	if len(o.config.Packages.Names) == 0 {
		o.logger.Infof("No packages configured")
		return OutcomeSkipped, nil
	}

	manager, err := o.packageManager()
	if err != nil {
		return OutcomeFailed, err
	}

	installed, err := packages.EnsureInstalled(ctx, manager, o.config.Packages.Names, o.config.RefreshIndex(), o.logger)
	if err != nil {
		return OutcomeFailed, err
	}
	result.InstalledPackages = installed
	if len(installed) == 0 {
		return OutcomeUnchanged, nil
	}
	return OutcomeOK, nil
}

func (o *Orchestrator) quiesce(ctx context.Context, result *Result) (StepOutcome, error) {
	if err := o.services.Stop(ctx, o.config.Service.Name); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeOK, nil
}

func (o *Orchestrator) snapshotStep(knownGood *InstalledPair) stepFunc {
	return func(ctx context.Context, result *Result) (StepOutcome, error) {
		if knownGood == nil {
			o.logger.Infof("No known good version on record, keeping existing snapshot")
			return OutcomeSkipped, nil
		}

		installed, err := o.installedPair()
		if err != nil {
			return OutcomeFailed, err
		}
		// Files left behind by a failed run are not a consistent pair
		if *installed != *knownGood {
			o.logger.Infof("Installed files differ from the last version that reached %s, keeping existing snapshot, artifact: %s, unit: %s",
				StateRunning, hashOrAbsent(installed.ArtifactHash), hashOrAbsent(installed.UnitHash))
			return OutcomeSkipped, nil
		}

		incoming, err := o.sourcePair()
		if err != nil {
			return OutcomeFailed, err
		}
		if *incoming == *installed && o.snapshots.Available() {
			o.logger.Infof("Installed files match the build inputs, keeping existing snapshot")
			return OutcomeUnchanged, nil
		}

		paths := []string{o.config.Service.Artifact.InstallPath, o.unitInstallPath()}
		if _, err := o.snapshots.Save(o.config.Service.Name, paths); err != nil {
			return OutcomeFailed, err
		}
		result.SnapshotTaken = true
		return OutcomeOK, nil
	}
}

func (o *Orchestrator) replaceArtifact(ctx context.Context, result *Result) (StepOutcome, error) {
	outcome, err := o.installer.Install(o.config.Service.Artifact.Source, o.config.Service.Artifact.InstallPath, o.config.ArtifactMode())
	result.Artifact = outcome
	if err != nil {
		return OutcomeFailed, err
	}
	if !outcome.Changed() {
		return OutcomeUnchanged, nil
	}
	return OutcomeOK, nil
}

func (o *Orchestrator) replaceUnit(ctx context.Context, result *Result) (StepOutcome, error) {
	unitPath := o.unitInstallPath()

	diff, truncated, err := fileinstall.DiffFiles(unitPath, o.config.Service.Unit.Source, fileinstall.DefaultDiffMaxLines)
	switch {
	case err != nil:
		o.logger.Warnf("Failed to diff unit definition, path: %s, error: %v", unitPath, err)
	case diff != "":
		o.logger.Infof("Unit definition changes, path: %s, truncated: %t\n%s", unitPath, truncated, strings.TrimRight(diff, "\n"))
	}

	outcome, err := o.installer.Install(o.config.Service.Unit.Source, unitPath, unitFileMode)
	result.Unit = outcome
	if err != nil {
		return OutcomeFailed, err
	}
	if !outcome.Changed() {
		return OutcomeUnchanged, nil
	}
	return OutcomeOK, nil
}

func (o *Orchestrator) restoreSnapshot(ctx context.Context, result *Result) (StepOutcome, error) {
	if _, err := o.snapshots.Restore(); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeOK, nil
}

func (o *Orchestrator) reload(ctx context.Context, result *Result) (StepOutcome, error) {
	if err := o.services.Reload(ctx); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeOK, nil
}

func (o *Orchestrator) enableAndStart(ctx context.Context, result *Result) (StepOutcome, error) {
	if err := o.services.Enable(ctx, o.config.Service.Name, true); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeOK, nil
}

func (o *Orchestrator) explicitStart(ctx context.Context, result *Result) (StepOutcome, error) {
	name := o.config.Service.Name
	if err := o.services.Start(ctx, name); err != nil {
		return OutcomeFailed, err
	}

	if delay := o.config.VerifyDelay(); delay > 0 {
		time.Sleep(delay)
	}

	active, err := o.services.IsActive(ctx, name)
	if err != nil {
		return OutcomeFailed, err
	}
	if !active {
		return OutcomeFailed, errors.NewActivationError("service is not active after start", nil).WithContext("service", name)
	}
	return OutcomeOK, nil
}

func (o *Orchestrator) unitInstallPath() string {
	return o.services.UnitPath(o.config.Service.Name)
}

func (o *Orchestrator) lastRecord() *Record {
	record, err := LoadRecord(o.runFiles.GenerateStateFilePath())
	if err != nil {
		if !errors.IsNotFoundError(err) {
			o.logger.Warnf("Ignoring unreadable state record, error: %v", err)
		}
		return nil
	}
	return record
}

// knownGoodPair is the pair a snapshot may capture. With no record at all the
// files found on the host are the baseline.
func (o *Orchestrator) knownGoodPair(previous *Record) *InstalledPair {
	if previous != nil {
		return previous.LastKnownGood()
	}
	installed, err := o.installedPair()
	if err != nil {
		o.logger.Warnf("Failed to hash installed files, error: %v", err)
		return nil
	}
	return installed
}

func (o *Orchestrator) installedPair() (*InstalledPair, error) {
	artifactHash, err := fileinstall.HashIfExists(o.config.Service.Artifact.InstallPath)
	if err != nil {
		return nil, err
	}
	unitHash, err := fileinstall.HashIfExists(o.unitInstallPath())
	if err != nil {
		return nil, err
	}
	return &InstalledPair{ArtifactHash: artifactHash, UnitHash: unitHash}, nil
}

func (o *Orchestrator) sourcePair() (*InstalledPair, error) {
	artifactHash, err := fileinstall.HashFile(o.config.Service.Artifact.Source)
	if err != nil {
		return nil, err
	}
	unitHash, err := fileinstall.HashFile(o.config.Service.Unit.Source)
	if err != nil {
		return nil, err
	}
	return &InstalledPair{ArtifactHash: artifactHash, UnitHash: unitHash}, nil
}

func (o *Orchestrator) saveRecord(result *Result, runErr error, knownGood *InstalledPair) {
	record := &Record{
		Operation:  result.Operation,
		Service:    result.Service,
		State:      result.State,
		FailedStep: result.FailedStep,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		KnownGood:  knownGood,
	}
	if runErr != nil {
		record.Error = runErr.Error()
	}
	for _, s := range result.Steps {
		record.Steps = append(record.Steps, StepSummary{
			Name:     s.Name,
			Outcome:  string(s.Outcome),
			Duration: s.Duration.Round(time.Millisecond).String(),
		})
	}

	installed, err := o.installedPair()
	if err != nil {
		o.logger.Warnf("Failed to hash installed files, error: %v", err)
	} else {
		record.ArtifactHash = installed.ArtifactHash
		record.UnitHash = installed.UnitHash
		if runErr == nil && result.Succeeded() {
			record.KnownGood = installed
		}
	}

	path := o.runFiles.GenerateStateFilePath()
	if err := SaveRecord(path, record); err != nil {
		o.logger.Warnf("Failed to persist state record, path: %s, error: %v", path, err)
		return
	}
	o.logger.Debugf("State record written, path: %s", path)
}

func hashOrAbsent(hash string) string {
	if hash == "" {
		return "absent"
	}
	return hash
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
