package servicemanager

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/core-tools/palantir-deploy/pkg/errors"
	"github.com/core-tools/palantir-deploy/pkg/logging"
	"github.com/core-tools/palantir-deploy/pkg/process"
)

// DefaultUnitDirectory is where administrator-installed unit files live
const DefaultUnitDirectory = "/etc/systemd/system"

// systemctl exit code for a unit that is not loaded
const exitCodeNotLoaded = 5

// Manager is the host's service manager
type Manager interface {
	IsActive(ctx context.Context, unit string) (bool, error)
	IsEnabled(ctx context.Context, unit string) (bool, error)

	// Stop stops the unit whatever state it reports. Stopping an inactive or
	// unknown unit succeeds.
	Stop(ctx context.Context, unit string) error

	// Reload makes the manager re-read unit definitions
	Reload(ctx context.Context) error

	// Enable enables the unit, starting it as well when startNow is set
	Enable(ctx context.Context, unit string, startNow bool) error

	Start(ctx context.Context, unit string) error

	// UnitPath returns where the unit definition for unit is installed
	UnitPath(unit string) string
}

// UnitName returns the systemd unit name for a service
func UnitName(service string) string {
	if strings.HasSuffix(service, ".service") {
		return service
	}
	return service + ".service"
}

type systemd struct {
	runner  process.Runner
	unitDir string
	logger  logging.Logger
}

// NewSystemd returns a Manager driving systemctl
func NewSystemd(runner process.Runner, unitDir string, logger logging.Logger) Manager {
	if unitDir == "" {
		unitDir = DefaultUnitDirectory
	}
	return &systemd{
		runner:  runner,
		unitDir: unitDir,
		logger:  logger,
	}
}

func (s *systemd) IsActive(ctx context.Context, unit string) (bool, error) {
	return s.probe(ctx, "is-active", unit)
}

func (s *systemd) IsEnabled(ctx context.Context, unit string) (bool, error) {
	return s.probe(ctx, "is-enabled", unit)
}

func (s *systemd) probe(ctx context.Context, verb, unit string) (bool, error) {
	result, err := s.systemctl(ctx, verb, "--quiet", UnitName(unit))
	if err == nil {
		return true, nil
	}
	if result != nil {
		return false, nil
	}
	return false, errors.NewProcessError("failed to query unit", err).WithContext("unit", unit).WithContext("query", verb)
}

// Stop always issues systemctl stop. Units that are activating, deactivating
// or failed report inactive but still need the stop to settle.
func (s *systemd) Stop(ctx context.Context, unit string) error {
	name := UnitName(unit)

	if active, err := s.IsActive(ctx, name); err != nil {
		s.logger.Debugf("Failed to query service state before stop, unit: %s, error: %v", name, err)
	} else {
		s.logger.Infof("Stopping service, unit: %s, active: %t", name, active)
	}

	if _, err := s.systemctl(ctx, "stop", name); err != nil {
		if code, ok := process.ExitCode(err); ok && code == exitCodeNotLoaded {
			s.logger.Infof("Unit not loaded, nothing to stop, unit: %s", name)
			return nil
		}
		return errors.NewQuiesceError("failed to stop service", err).WithContext("unit", name)
	}
	return nil
}

func (s *systemd) Reload(ctx context.Context) error {
	s.logger.Infof("Reloading service manager state")
	if _, err := s.systemctl(ctx, "daemon-reload"); err != nil {
		return errors.NewActivationError("failed to reload service manager", err)
	}
	return nil
}

func (s *systemd) Enable(ctx context.Context, unit string, startNow bool) error {
	name := UnitName(unit)
	args := []string{"enable"}
	if startNow {
		args = append(args, "--now")
	}
	args = append(args, name)

	s.logger.Infof("Enabling service, unit: %s, now: %t", name, startNow)
	if _, err := s.systemctl(ctx, args...); err != nil {
		return errors.NewActivationError("failed to enable service", err).WithContext("unit", name)
	}
	return nil
}

func (s *systemd) Start(ctx context.Context, unit string) error {
	name := UnitName(unit)
	s.logger.Infof("Starting service, unit: %s", name)
	if _, err := s.systemctl(ctx, "start", name); err != nil {
		return errors.NewActivationError("failed to start service", err).WithContext("unit", name)
	}
	return nil
}

func (s *systemd) UnitPath(unit string) string {
	return filepath.Join(s.unitDir, UnitName(unit))
}

func (s *systemd) systemctl(ctx context.Context, args ...string) (*process.Result, error) {
	return s.runner.Run(ctx, process.Command{Name: "systemctl", Args: args})
}
