package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates a directory and all parent directories if they don't exist.
// Uses mode 0755. Returns nil if directory already exists.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// EnsureDirForFile creates the parent directory of filePath if it does not
// already exist, ensuring the file can be created without a missing-directory error.
func EnsureDirForFile(filePath string) error {
	if err := EnsureDir(filepath.Dir(filePath)); err != nil {
		return fmt.Errorf("ensure dir for %s: %w", filePath, err)
	}
	return nil
}

// CreateExclusive creates filePath for reading and writing, failing with an
// error matching os.ErrExist if it already exists. Missing parent directories
// are created.
func CreateExclusive(filePath string, perm os.FileMode) (*os.File, error) {
	if err := EnsureDirForFile(filePath); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_EXCL|os.O_RDWR, perm)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", filePath, err)
	}
	return f, nil
}

// Touch creates filePath if it does not exist and leaves it untouched
// otherwise. Missing parent directories are created.
func Touch(filePath string, perm os.FileMode) error {
	if err := EnsureDirForFile(filePath); err != nil {
		return err
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", filePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filePath, err)
	}
	return nil
}

// RemoveIfExists deletes filePath. A file that is already gone is not an
// error.
func RemoveIfExists(filePath string) error {
	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", filePath, err)
	}
	return nil
}
