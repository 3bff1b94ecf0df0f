package packages

import (
	"context"
	"strings"

	"github.com/core-tools/palantir-deploy/pkg/errors"
	"github.com/core-tools/palantir-deploy/pkg/logging"
	"github.com/core-tools/palantir-deploy/pkg/process"
)

// Supported package manager names
const (
	ManagerAuto   = "auto"
	ManagerAptGet = "apt-get"
	ManagerDnf    = "dnf"
	ManagerYum    = "yum"
	ManagerPacman = "pacman"
)

// Manager is the host's OS package manager
type Manager interface {
	Name() string

	// Installed reports whether a package is present on the host
	Installed(ctx context.Context, name string) (bool, error)

	// Refresh updates the package index
	Refresh(ctx context.Context) error

	// Install installs the given packages non-interactively
	Install(ctx context.Context, names []string) error
}

type backendSpec struct {
	name    string
	query   []string // Package name appended, exit code 0 means installed
	marker  string   // Required substring of query stdout, if any
	refresh []string // Nil when the index is refreshed by install itself
	install []string // Package names appended
	env     []string
}

var backends = []backendSpec{
	{
		name:    ManagerAptGet,
		query:   []string{"dpkg-query", "-W", "-f=${Status}"},
		marker:  "ok installed",
		refresh: []string{"apt-get", "update", "-qq"},
		install: []string{"apt-get", "install", "-y", "-qq"},
		env:     []string{"DEBIAN_FRONTEND=noninteractive"},
	},
	{
		name:    ManagerDnf,
		query:   []string{"rpm", "-q"},
		refresh: []string{"dnf", "makecache", "-q"},
		install: []string{"dnf", "install", "-y", "-q"},
	},
	{
		name:    ManagerYum,
		query:   []string{"rpm", "-q"},
		refresh: []string{"yum", "makecache", "-q"},
		install: []string{"yum", "install", "-y", "-q"},
	},
	{
		name:    ManagerPacman,
		query:   []string{"pacman", "-Q"},
		install: []string{"pacman", "-S", "--needed", "--noconfirm"},
	},
}

// KnownManager reports whether name is a supported manager or "auto"
func KnownManager(name string) bool {
	if name == ManagerAuto {
		return true
	}
	_, ok := findBackend(name)
	return ok
}

func findBackend(name string) (backendSpec, bool) {
	for _, b := range backends {
		if b.name == name {
			return b, true
		}
	}
	return backendSpec{}, false
}

// Detect picks the package manager to use. With "auto" (or empty) the first
// manager found on PATH wins, in the order apt-get, dnf, yum, pacman.
func Detect(runner process.Runner, preferred string, logger logging.Logger) (Manager, error) {
	if preferred == "" || preferred == ManagerAuto {
		for _, b := range backends {
			if _, err := runner.LookPath(b.name); err == nil {
				logger.Debugf("Detected package manager: %s", b.name)
				return newCommandManager(b, runner, logger), nil
			}
		}
		return nil, errors.NewNotFoundError("no supported package manager found (tried apt-get, dnf, yum, pacman)", nil)
	}

	b, ok := findBackend(preferred)
	if !ok {
		return nil, errors.NewValidationError("unknown package manager: "+preferred, nil)
	}
	if _, err := runner.LookPath(b.name); err != nil {
		return nil, errors.NewNotFoundError("package manager not found on PATH", err).WithContext("manager", b.name)
	}
	return newCommandManager(b, runner, logger), nil
}

type commandManager struct {
	spec   backendSpec
	runner process.Runner
	logger logging.Logger
}

func newCommandManager(spec backendSpec, runner process.Runner, logger logging.Logger) *commandManager {
	return &commandManager{
		spec:   spec,
		runner: runner,
		logger: logger,
	}
}

func (m *commandManager) Name() string {
	return m.spec.name
}

func (m *commandManager) Installed(ctx context.Context, name string) (bool, error) {
	result, err := m.runner.Run(ctx, m.command(m.spec.query, name))
	if err != nil {
		if result != nil {
			// Ran and said no
			return false, nil
		}
		return false, errors.NewProvisioningError("failed to query package", err).WithContext("package", name)
	}
	if m.spec.marker != "" && !strings.Contains(result.Stdout, m.spec.marker) {
		return false, nil
	}
	return true, nil
}

func (m *commandManager) Refresh(ctx context.Context) error {
	if m.spec.refresh == nil {
		return nil
	}
	if _, err := m.runner.Run(ctx, m.command(m.spec.refresh)); err != nil {
		return errors.NewProvisioningError("package index refresh failed", err).WithContext("manager", m.spec.name)
	}
	return nil
}

func (m *commandManager) Install(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	if _, err := m.runner.Run(ctx, m.command(m.spec.install, names...)); err != nil {
		return errors.NewProvisioningError("package installation failed", err).
			WithContext("manager", m.spec.name).
			WithContext("packages", names)
	}
	return nil
}

func (m *commandManager) command(base []string, extra ...string) process.Command {
	args := make([]string, 0, len(base)-1+len(extra))
	args = append(args, base[1:]...)
	args = append(args, extra...)
	return process.Command{Name: base[0], Args: args, Env: m.spec.env}
}
