// Package pathutil turns user-supplied directories and remote file names
// into local download destinations.
package pathutil

import (
	"os"
	"path/filepath"

	"github.com/rescale/rescale-files/internal/config"
)

// ResolveAbsolutePath makes path absolute with ~ expanded and symlinks
// resolved. Only the existing prefix is resolved; missing trailing
// components are kept as given, so an output directory that is created
// later still lands under its real parent. An empty path is the working
// directory.
func ResolveAbsolutePath(path string) (string, error) {
	if path == "" {
		return os.Getwd()
	}
	abs, err := filepath.Abs(config.ExpandHome(path))
	if err != nil {
		return "", err
	}

	existing, missing := abs, ""
	for {
		if real, err := filepath.EvalSymlinks(existing); err == nil {
			return filepath.Join(real, missing), nil
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		missing = filepath.Join(filepath.Base(existing), missing)
		existing = parent
	}
}
