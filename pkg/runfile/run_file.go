package runfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/core-tools/palantir-deploy/pkg/errors"
	"github.com/core-tools/palantir-deploy/pkg/logging"
	"github.com/core-tools/palantir-deploy/pkg/processstate"

	"golang.org/x/sys/unix"
)

// Default application name used for runtime and state subdirectories
const DefaultAppName = "palantir-deploy"

const (
	stateFileName   = "state.yaml"
	snapshotDirName = "snapshots"
)

// RunFileConfig holds configuration for runtime and state file placement
type RunFileConfig struct {
	// Base directory for lock files. If empty, /run is used with fallback to /var/run
	RunDirectory string

	// Directory for persistent state. If empty, /var/lib/<AppName> is used
	StateDirectory string

	// Application name for subdirectory creation
	AppName string
}

// RunFileManager generates runtime/state paths and manages the deployment lock
type RunFileManager struct {
	config RunFileConfig
	logger logging.Logger
}

// NewRunFileManager creates a new run file manager with the given configuration
func NewRunFileManager(config RunFileConfig, logger logging.Logger) *RunFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}

	return &RunFileManager{
		config: config,
		logger: logger,
	}
}

// GenerateLockFilePath generates the lock file path for the given service
func (m *RunFileManager) GenerateLockFilePath(service string) string {
	return filepath.Join(m.getRunDirectory(), m.config.AppName, service+".lock")
}

// StateDirectoryPath returns the directory holding persistent deployment state
func (m *RunFileManager) StateDirectoryPath() string {
	if m.config.StateDirectory != "" {
		return m.config.StateDirectory
	}
	return filepath.Join("/var/lib", m.config.AppName)
}

// GenerateStateFilePath generates the path of the last-run state record
func (m *RunFileManager) GenerateStateFilePath() string {
	return filepath.Join(m.StateDirectoryPath(), stateFileName)
}

// GenerateSnapshotDirectoryPath generates the snapshot store path for the given service
func (m *RunFileManager) GenerateSnapshotDirectoryPath(service string) string {
	return filepath.Join(m.StateDirectoryPath(), snapshotDirName, service)
}

func (m *RunFileManager) getRunDirectory() string {
	if m.config.RunDirectory != "" {
		return m.config.RunDirectory
	}

	// Modern standard is /run, with fallback to /var/run
	if _, err := os.Stat("/run"); err == nil {
		return "/run"
	}
	return "/var/run"
}

// Lock is an exclusive advisory lock held on a file for the lifetime of a deployment
type Lock struct {
	path   string
	file   *os.File
	logger logging.Logger
}

// Path returns the lock file path
func (l *Lock) Path() string {
	return l.path
}

// AcquireLock takes the exclusive deployment lock for the given service without blocking.
// If another run holds it, a conflict error naming the holder PID is returned.
func (m *RunFileManager) AcquireLock(service string) (*Lock, error) {
	lockPath := m.GenerateLockFilePath(service)
	m.logger.Debugf("Acquiring deployment lock, service: %s, path: %s", service, lockPath)

	if err := EnsureDirectory(filepath.Dir(lockPath), 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		if os.IsPermission(err) {
			return nil, errors.NewPermissionError("cannot open lock file", err).WithContext("lock_file", lockPath)
		}
		return nil, errors.NewIOError("failed to open lock file", err).WithContext("lock_file", lockPath)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if err == unix.EWOULDBLOCK {
			return nil, m.describeHolder(lockPath)
		}
		return nil, errors.NewIOError("failed to lock file", err).WithContext("lock_file", lockPath)
	}

	if err := writeHolderPID(file, os.Getpid()); err != nil {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
		return nil, errors.NewIOError("failed to write lock holder", err).WithContext("lock_file", lockPath)
	}

	m.logger.Infof("Deployment lock acquired, service: %s, path: %s", service, lockPath)
	return &Lock{path: lockPath, file: file, logger: m.logger}, nil
}

// Release drops the lock. The lock file itself stays in place.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil {
		return errors.NewIOError("failed to unlock file", unlockErr).WithContext("lock_file", l.path)
	}
	if closeErr != nil {
		return errors.NewIOError("failed to close lock file", closeErr).WithContext("lock_file", l.path)
	}

	l.logger.Debugf("Deployment lock released, path: %s", l.path)
	return nil
}

func (m *RunFileManager) describeHolder(lockPath string) error {
	conflict := errors.NewConflictError("another deployment is in progress", nil).WithContext("lock_file", lockPath)

	pid, err := ReadLockHolder(lockPath)
	if err != nil {
		m.logger.Warnf("Failed to read lock holder, path: %s, error: %v", lockPath, err)
		return conflict
	}
	conflict = conflict.WithContext("holder_pid", pid)

	running, err := processstate.IsProcessRunning(pid)
	switch {
	case err != nil:
		m.logger.Warnf("Failed to probe lock holder, pid: %d, error: %v", pid, err)
	case running:
		conflict.Message = fmt.Sprintf("another deployment is in progress (pid %d)", pid)
	default:
		conflict.Message = fmt.Sprintf("lock held by exited process %d via an inherited descriptor", pid)
		conflict = conflict.WithContext("stale", true)
	}
	return conflict
}

// ReadLockHolder returns the PID recorded in a lock file
func ReadLockHolder(lockPath string) (int, error) {
	content, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, errors.NewIOError("failed to read lock file", err).WithContext("lock_file", lockPath)
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, errors.NewValidationError("invalid PID in lock file", err).WithContext("lock_file", lockPath).WithContext("content", pidStr)
	}
	return pid, nil
}

func writeHolderPID(file *os.File, pid int) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(fmt.Sprintf("%d\n", pid)), 0); err != nil {
		return err
	}
	return file.Sync()
}

// EnsureDirectory creates dir if needed and checks that it is a directory
func EnsureDirectory(dir string, mode os.FileMode) error {
	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, mode); err != nil {
			if os.IsPermission(err) {
				return errors.NewPermissionError("cannot create directory", err).WithContext("directory", dir)
			}
			return errors.NewIOError("failed to create directory", err).WithContext("directory", dir)
		}
		return nil
	}
	if !info.IsDir() {
		return errors.NewValidationError("path is not a directory", nil).WithContext("path", dir)
	}
	return nil
}
