// Package fileutil holds the small filesystem primitives the daemon's state
// files are built on: parent-directory creation, atomic replacement, and an
// exclusive advisory lock with platform-specific implementations.
package fileutil

import (
	"os"
	"path/filepath"
)

// EnsureParentDir creates the parent directories of path as needed.
func EnsureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// ReplaceFileAtomically renames tempPath over targetPath. Where the rename
// fails (some filesystems refuse to clobber), it removes the target and
// retries once.
func ReplaceFileAtomically(tempPath, targetPath string) error {
	if err := os.Rename(tempPath, targetPath); err == nil {
		return nil
	}

	if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	return os.Rename(tempPath, targetPath)
}
