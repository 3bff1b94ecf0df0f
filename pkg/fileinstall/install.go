package fileinstall

import (
	"io"
	"os"
	"path/filepath"

	"github.com/core-tools/palantir-deploy/pkg/errors"
	"github.com/core-tools/palantir-deploy/pkg/logging"
)

// Action describes what an install did to the destination
type Action string

const (
	ActionUnchanged Action = "unchanged"
	ActionCreated   Action = "created"
	ActionReplaced  Action = "replaced"
)

// Outcome reports the effect of a single install
type Outcome struct {
	Action       Action
	Path         string
	PreviousHash string // Empty when the destination did not exist
	Hash         string
}

// Changed reports whether the destination was written
func (o Outcome) Changed() bool {
	return o.Action != ActionUnchanged
}

// Installer places files at their destination atomically
type Installer interface {
	// Install copies src to dst with the given mode. Readers of dst see either
	// the old or the new content, never a partial file. An identical
	// destination is left untouched.
	Install(src, dst string, mode os.FileMode) (Outcome, error)

	// Remove deletes dst if present
	Remove(dst string) error
}

type atomicInstaller struct {
	logger logging.Logger
}

// NewAtomicInstaller returns an Installer using write-to-temp and rename
func NewAtomicInstaller(logger logging.Logger) Installer {
	return &atomicInstaller{logger: logger}
}

func (i *atomicInstaller) Install(src, dst string, mode os.FileMode) (Outcome, error) {
	outcome := Outcome{Path: dst}

	srcHash, err := HashFile(src)
	if err != nil {
		return outcome, errors.NewReplacementError("cannot read source file", err).WithContext("source", src)
	}
	outcome.Hash = srcHash

	dstInfo, err := os.Stat(dst)
	switch {
	case err == nil:
		if dstInfo.IsDir() {
			return outcome, errors.NewReplacementError("destination is a directory", nil).WithContext("path", dst)
		}
		prevHash, err := HashFile(dst)
		if err != nil {
			return outcome, errors.NewReplacementError("cannot read destination file", err).WithContext("path", dst)
		}
		outcome.PreviousHash = prevHash
		if prevHash == srcHash && dstInfo.Mode().Perm() == mode.Perm() {
			outcome.Action = ActionUnchanged
			i.logger.Debugf("File up to date, path: %s, hash: %s", dst, srcHash)
			return outcome, nil
		}
		outcome.Action = ActionReplaced
	case os.IsNotExist(err):
		outcome.Action = ActionCreated
	default:
		return outcome, errors.NewReplacementError("cannot stat destination", err).WithContext("path", dst)
	}

	if err := atomicCopy(src, dst, mode); err != nil {
		return outcome, errors.NewReplacementError("failed to install file", err).WithContext("source", src).WithContext("path", dst)
	}

	i.logger.Infof("File installed, path: %s, action: %s, hash: %s", dst, outcome.Action, srcHash)
	return outcome, nil
}

func (i *atomicInstaller) Remove(dst string) error {
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return errors.NewReplacementError("failed to remove file", err).WithContext("path", dst)
	}
	i.logger.Infof("File removed, path: %s", dst)
	return syncDir(filepath.Dir(dst))
}

// atomicCopy writes src into a temp file beside dst, then renames it over dst
func atomicCopy(src, dst string, mode os.FileMode) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return err
	}
	committed = true

	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.NewIOError("failed to open directory", err).WithContext("directory", dir)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return errors.NewIOError("failed to sync directory", err).WithContext("directory", dir)
	}
	return nil
}
