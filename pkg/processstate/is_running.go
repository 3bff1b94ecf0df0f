package processstate

import (
	"github.com/core-tools/palantir-deploy/pkg/errors"

	"golang.org/x/sys/unix"
)

// IsProcessRunning reports whether a process with the given PID exists.
// A process owned by another user (EPERM) counts as running.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	err := unix.Kill(pid, 0)
	switch err {
	case nil, unix.EPERM:
		return true, nil
	case unix.ESRCH:
		return false, nil
	}
	return false, errors.NewProcessError("failed to probe process", err).WithContext("pid", pid)
}
