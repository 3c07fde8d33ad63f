// Package fsutil holds small filesystem helpers for config and listener
// paths.
package fsutil

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
)

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Annotate(err, "home dir")
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// PathExists checks if the given path exists.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !os.IsNotExist(err)
}

// EnsureParentDir creates the directory that will hold path.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if PathExists(dir) {
		return nil
	}
	return errors.Annotatef(os.MkdirAll(dir, 0o755), "creating %s", dir)
}
