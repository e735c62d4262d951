// Package diskspace checks free space on the filesystem that will receive a download.
package diskspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/rescale/rescale-files/internal/constants"
)

// InsufficientSpaceError reports a download that would not fit.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space for %s: need %s, have %s available",
		e.Path, humanize.IBytes(uint64(e.RequiredBytes)), humanize.IBytes(uint64(e.AvailableBytes)))
}

// CheckAvailableSpace fails with *InsufficientSpaceError when the filesystem
// holding targetPath has less than requiredBytes*safetyMargin free.
// targetPath need not exist; its nearest existing ancestor is measured.
// Filesystems that don't report free space always pass.
func CheckAvailableSpace(targetPath string, requiredBytes int64, safetyMargin float64) error {
	availableBytes, ok := availableSpace(existingDir(targetPath))
	if !ok {
		return nil
	}

	requiredWithMargin := int64(float64(requiredBytes) * safetyMargin)
	if availableBytes < requiredWithMargin {
		return &InsufficientSpaceError{
			Path:           targetPath,
			RequiredBytes:  requiredWithMargin,
			AvailableBytes: availableBytes,
		}
	}

	return nil
}

// Check applies the default download margin.
func Check(targetPath string, requiredBytes int64) error {
	return CheckAvailableSpace(targetPath, requiredBytes, constants.DiskSpaceSafetyMargin)
}

// GetAvailableSpace returns free bytes for path's filesystem, or 0 when
// unknown.
func GetAvailableSpace(path string) int64 {
	n, ok := availableSpace(existingDir(path))
	if !ok {
		return 0
	}
	return n
}

// IsInsufficientSpaceError reports whether err wraps *InsufficientSpaceError.
func IsInsufficientSpaceError(err error) bool {
	var target *InsufficientSpaceError
	return errors.As(err, &target)
}

// existingDir walks up from path's directory to the first one that exists.
func existingDir(path string) string {
	dir := filepath.Dir(path)
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
