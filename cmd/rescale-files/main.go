// rescale-files - terminal client for Rescale cloud storage
package main

import (
	"os"

	"github.com/rescale/rescale-files/internal/cli"
	"github.com/rescale/rescale-files/internal/version"
)

// Version information, set by ldflags during build.
var (
	Version   = ""
	BuildTime = ""
)

func main() {
	if Version != "" {
		version.Version = Version
	}
	if BuildTime != "" {
		version.BuildTime = BuildTime
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
