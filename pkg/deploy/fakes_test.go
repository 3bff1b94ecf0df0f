package deploy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/core-tools/palantir-deploy/pkg/errors"
	"github.com/core-tools/palantir-deploy/pkg/fileinstall"
	"github.com/core-tools/palantir-deploy/pkg/logging"
	"github.com/core-tools/palantir-deploy/pkg/servicemanager"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// MockPackageManager is a mock implementation of packages.Manager
type MockPackageManager struct {
	mock.Mock
}

func (m *MockPackageManager) Name() string {
	return "mock"
}

func (m *MockPackageManager) Installed(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockPackageManager) Refresh(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockPackageManager) Install(ctx context.Context, names []string) error {
	return m.Called(ctx, names).Error(0)
}

// fakeServices is an in-memory service manager that records calls
type fakeServices struct {
	mu      sync.Mutex
	unitDir string
	active  bool
	enabled bool
	calls   []string
	failOn  map[string]error

	startLeavesInactive bool
	onStop              func()
}

func newFakeServices(unitDir string) *fakeServices {
	return &fakeServices{unitDir: unitDir, failOn: map[string]error{}}
}

func (f *fakeServices) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.failOn[call]
}

func (f *fakeServices) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeServices) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *fakeServices) IsActive(ctx context.Context, unit string) (bool, error) {
	if err := f.record("is-active"); err != nil {
		return false, err
	}
	return f.active, nil
}

func (f *fakeServices) IsEnabled(ctx context.Context, unit string) (bool, error) {
	if err := f.record("is-enabled"); err != nil {
		return false, err
	}
	return f.enabled, nil
}

func (f *fakeServices) Stop(ctx context.Context, unit string) error {
	if err := f.record("stop"); err != nil {
		return err
	}
	f.active = false
	if f.onStop != nil {
		f.onStop()
	}
	return nil
}

func (f *fakeServices) Reload(ctx context.Context) error {
	return f.record("daemon-reload")
}

func (f *fakeServices) Enable(ctx context.Context, unit string, startNow bool) error {
	call := "enable"
	if startNow {
		call = "enable --now"
	}
	if err := f.record(call); err != nil {
		return err
	}
	f.enabled = true
	if startNow {
		f.active = !f.startLeavesInactive
	}
	return nil
}

func (f *fakeServices) Start(ctx context.Context, unit string) error {
	if err := f.record("start"); err != nil {
		return err
	}
	f.active = !f.startLeavesInactive
	return nil
}

func (f *fakeServices) UnitPath(unit string) string {
	return filepath.Join(f.unitDir, servicemanager.UnitName(unit))
}

// failingInstaller fails installs to one destination
type failingInstaller struct {
	fileinstall.Installer
	failFor string
	cause   error
}

func (f *failingInstaller) Install(src, dst string, mode os.FileMode) (fileinstall.Outcome, error) {
	if dst == f.failFor {
		return fileinstall.Outcome{Path: dst}, errors.NewReplacementError("failed to install file", f.cause).WithContext("path", dst)
	}
	return f.Installer.Install(src, dst, mode)
}

// harness is a throwaway host: build inputs, install targets, state and run dirs
type harness struct {
	t         *testing.T
	dir       string
	config    *Config
	services  *fakeServices
	packages  *MockPackageManager
	installer fileinstall.Installer
	privilege PrivilegeCheck
	logger    logging.Logger
}

func newHarness(t *testing.T) *harness {
	dir := t.TempDir()

	config := DefaultConfig()
	config.Deploy.StateDir = filepath.Join(dir, "var", "lib", "palantir-deploy")
	config.Deploy.RunDir = filepath.Join(dir, "run")
	delay := time.Duration(0)
	config.Deploy.VerifyDelay = &delay
	config.Packages.Names = []string{"libpcap", "tshark"}
	config.Service.Artifact.Source = filepath.Join(dir, "target", "release", "collector")
	config.Service.Artifact.InstallPath = filepath.Join(dir, "usr", "local", "bin", "palantir-collector")
	config.Service.Unit.Source = filepath.Join(dir, "palantir-collector.service")
	config.Service.Unit.InstallDir = filepath.Join(dir, "etc", "systemd", "system")

	h := &harness{
		t:         t,
		dir:       dir,
		config:    config,
		services:  newFakeServices(config.Service.Unit.InstallDir),
		packages:  &MockPackageManager{},
		privilege: func() error { return nil },
		logger:    logging.FromZap("", zaptest.NewLogger(t)),
	}
	h.installer = fileinstall.NewAtomicInstaller(h.logger)
	h.writeSources("collector-v1", "[Service]\nExecStart=/usr/local/bin/palantir-collector --v1\n")
	return h
}

func (h *harness) writeSources(artifact, unit string) {
	h.t.Helper()
	h.writeFile(h.config.Service.Artifact.Source, artifact, 0644)
	h.writeFile(h.config.Service.Unit.Source, unit, 0644)
}

func (h *harness) writeFile(path, content string, mode os.FileMode) {
	h.t.Helper()
	require.NoError(h.t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(h.t, os.WriteFile(path, []byte(content), mode))
}

func (h *harness) readFile(path string) string {
	h.t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(h.t, err)
	return string(content)
}

func (h *harness) artifactPath() string {
	return h.config.Service.Artifact.InstallPath
}

func (h *harness) unitPath() string {
	return h.services.UnitPath(h.config.Service.Name)
}

func (h *harness) packagesPresent() {
	h.packages.On("Installed", mock.Anything, mock.Anything).Return(true, nil)
}

func (h *harness) orchestrator() *Orchestrator {
	h.t.Helper()
	o, err := NewOrchestrator(h.config, Dependencies{
		Packages:       h.packages,
		Services:       h.services,
		Installer:      h.installer,
		PrivilegeCheck: h.privilege,
	}, h.logger)
	require.NoError(h.t, err)
	return o
}
