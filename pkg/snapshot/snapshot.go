package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/core-tools/palantir-deploy/pkg/errors"
	"github.com/core-tools/palantir-deploy/pkg/fileinstall"
	"github.com/core-tools/palantir-deploy/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	manifestFileName = "manifest.yaml"
	filesDirName     = "files"
)

// Entry records one installed file as it was when the snapshot was taken
type Entry struct {
	Path   string `yaml:"path"`
	Stored string `yaml:"stored,omitempty"` // Empty when the file did not exist
	Mode   string `yaml:"mode,omitempty"`
	Hash   string `yaml:"hash,omitempty"`
}

// Existed reports whether the file was present at snapshot time
func (e Entry) Existed() bool {
	return e.Stored != ""
}

// Manifest describes a stored snapshot
type Manifest struct {
	Service   string    `yaml:"service"`
	CreatedAt time.Time `yaml:"created_at"`
	Entries   []Entry   `yaml:"entries"`
}

// Store keeps a single prior-version snapshot of a service's installed files
type Store struct {
	dir       string
	installer fileinstall.Installer
	logger    logging.Logger
}

// NewStore creates a snapshot store rooted at dir
func NewStore(dir string, installer fileinstall.Installer, logger logging.Logger) *Store {
	return &Store{
		dir:       dir,
		installer: installer,
		logger:    logger,
	}
}

// Dir returns the store directory
func (s *Store) Dir() string {
	return s.dir
}

// Available reports whether a complete snapshot exists
func (s *Store) Available() bool {
	_, err := os.Stat(filepath.Join(s.dir, manifestFileName))
	return err == nil
}

// Save captures the current content of paths, replacing any previous snapshot.
// Paths that do not exist are recorded so a restore removes them.
func (s *Store) Save(service string, paths []string) (*Manifest, error) {
	staging := s.dir + ".staging"
	if err := os.RemoveAll(staging); err != nil {
		return nil, errors.NewIOError("failed to clear snapshot staging", err).WithContext("directory", staging)
	}
	if err := os.MkdirAll(filepath.Join(staging, filesDirName), 0700); err != nil {
		return nil, errors.NewIOError("failed to create snapshot staging", err).WithContext("directory", staging)
	}

	manifest := &Manifest{
		Service:   service,
		CreatedAt: time.Now().UTC(),
	}

	for i, path := range paths {
		entry := Entry{Path: path}

		info, err := os.Stat(path)
		switch {
		case os.IsNotExist(err):
			s.logger.Debugf("Snapshot: file absent, path: %s", path)
		case err != nil:
			os.RemoveAll(staging)
			return nil, errors.NewIOError("failed to stat file for snapshot", err).WithContext("path", path)
		default:
			entry.Stored = fmt.Sprintf("%d-%s", i, filepath.Base(path))
			entry.Mode = fmt.Sprintf("%04o", info.Mode().Perm())

			outcome, err := s.installer.Install(path, filepath.Join(staging, filesDirName, entry.Stored), info.Mode().Perm())
			if err != nil {
				os.RemoveAll(staging)
				return nil, errors.NewIOError("failed to copy file into snapshot", err).WithContext("path", path)
			}
			entry.Hash = outcome.Hash
		}

		manifest.Entries = append(manifest.Entries, entry)
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		os.RemoveAll(staging)
		return nil, errors.NewInternalError("failed to encode snapshot manifest", err)
	}
	if err := os.WriteFile(filepath.Join(staging, manifestFileName), data, 0600); err != nil {
		os.RemoveAll(staging)
		return nil, errors.NewIOError("failed to write snapshot manifest", err).WithContext("directory", staging)
	}

	if err := s.swapIn(staging); err != nil {
		return nil, err
	}

	s.logger.Infof("Snapshot saved, service: %s, directory: %s, files: %d", service, s.dir, len(manifest.Entries))
	return manifest, nil
}

func (s *Store) swapIn(staging string) error {
	previous := s.dir + ".previous"
	os.RemoveAll(previous)

	if _, err := os.Stat(s.dir); err == nil {
		if err := os.Rename(s.dir, previous); err != nil {
			return errors.NewIOError("failed to retire previous snapshot", err).WithContext("directory", s.dir)
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.dir), 0755); err != nil {
		return errors.NewIOError("failed to create snapshot parent", err).WithContext("directory", s.dir)
	}
	if err := os.Rename(staging, s.dir); err != nil {
		os.Rename(previous, s.dir)
		return errors.NewIOError("failed to commit snapshot", err).WithContext("directory", s.dir)
	}
	os.RemoveAll(previous)
	return nil
}

// Load reads the manifest of the stored snapshot
func (s *Store) Load() (*Manifest, error) {
	path := filepath.Join(s.dir, manifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("no snapshot available", err).WithContext("directory", s.dir)
		}
		return nil, errors.NewIOError("failed to read snapshot manifest", err).WithContext("path", path)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, errors.NewValidationError("invalid snapshot manifest", err).WithContext("path", path)
	}
	return &manifest, nil
}

// Restore puts every recorded file back as it was and removes files that did
// not exist at snapshot time. The snapshot is kept so a restore can be repeated.
func (s *Store) Restore() (*Manifest, error) {
	manifest, err := s.Load()
	if err != nil {
		return nil, err
	}

	for _, entry := range manifest.Entries {
		if !entry.Existed() {
			s.logger.Infof("Restore: removing file absent from snapshot, path: %s", entry.Path)
			if err := s.installer.Remove(entry.Path); err != nil {
				return nil, err
			}
			continue
		}

		mode, err := strconv.ParseUint(entry.Mode, 8, 32)
		if err != nil {
			return nil, errors.NewValidationError("invalid mode in snapshot manifest", err).WithContext("path", entry.Path)
		}

		stored := filepath.Join(s.dir, filesDirName, entry.Stored)
		s.logger.Infof("Restore: restoring file, path: %s", entry.Path)
		if _, err := s.installer.Install(stored, entry.Path, os.FileMode(mode)); err != nil {
			return nil, err
		}
	}

	return manifest, nil
}
