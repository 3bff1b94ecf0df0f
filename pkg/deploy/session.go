package deploy

import (
	"github.com/core-tools/palantir-deploy/pkg/errors"
	"github.com/core-tools/palantir-deploy/pkg/logging"
	"github.com/core-tools/palantir-deploy/pkg/runfile"

	"golang.org/x/sys/unix"
)

// PrivilegeCheck fails when the process lacks the privilege a deployment needs
type PrivilegeCheck func() error

// RequireRoot fails unless the effective UID is 0
func RequireRoot() error {
	if euid := unix.Geteuid(); euid != 0 {
		return errors.NewPermissionError("deployment requires root privileges", nil).WithContext("euid", euid)
	}
	return nil
}

// session is the scoped privileged context of one run: privilege verified
// once up front, exclusive lock held until Close
type session struct {
	lock   *runfile.Lock
	logger logging.Logger
}

func openSession(check PrivilegeCheck, runFiles *runfile.RunFileManager, service string, logger logging.Logger) (*session, error) {
	if check != nil {
		if err := check(); err != nil {
			return nil, err
		}
	}

	lock, err := runFiles.AcquireLock(service)
	if err != nil {
		return nil, err
	}

	logger.Debugf("Privileged session opened, service: %s", service)
	return &session{lock: lock, logger: logger}, nil
}

func (s *session) Close() {
	if s == nil {
		return
	}
	if err := s.lock.Release(); err != nil {
		s.logger.Warnf("Failed to release deployment lock, error: %v", err)
	}
	s.logger.Debugf("Privileged session closed")
}
