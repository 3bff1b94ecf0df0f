package fileinstall

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/core-tools/palantir-deploy/pkg/errors"
)

const hashPrefix = "sha256:"

// HashFile returns the content hash of a file as "sha256:<hex>"
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NewNotFoundError("file does not exist", err).WithContext("path", path)
		}
		return "", errors.NewIOError("failed to open file", err).WithContext("path", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.NewIOError("failed to read file", err).WithContext("path", path)
	}
	return hashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// HashIfExists is HashFile that returns "" for a missing file
func HashIfExists(path string) (string, error) {
	hash, err := HashFile(path)
	if errors.IsNotFoundError(err) {
		return "", nil
	}
	return hash, err
}
