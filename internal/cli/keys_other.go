//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package cli

// Windows raw mode leaves console output processing alone.
func keepOutputProcessing(fd int) error { return nil }
