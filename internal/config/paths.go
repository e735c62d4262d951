// Package config provides configuration management for rescale-files.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ConfigDir is the vendor configuration directory name, AppDir the client's subdirectory.
const (
	ConfigDir = "rescale"
	AppDir    = "files"
)

// ConfigDirectory returns the platform-appropriate config directory.
//   - Windows: %APPDATA%\Rescale\Files
//   - Unix: ~/.config/rescale/files (XDG standard)
func ConfigDirectory() string {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Rescale", "Files")
		}
		if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
			return filepath.Join(userProfile, "AppData", "Roaming", "Rescale", "Files")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", ConfigDir, AppDir)
	}
	return filepath.Join(os.TempDir(), "rescale-files")
}

// DefaultConfigPath returns the default INI config file path.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDirectory(), "config")
}

// DefaultStatePath returns where unfinished downloads are saved between runs.
func DefaultStatePath() string {
	return filepath.Join(ConfigDirectory(), "queue.json")
}

// DefaultTokenPath returns the token file written by 'config init'.
func DefaultTokenPath() string {
	return filepath.Join(ConfigDirectory(), "token")
}

// DefaultDownloadDir returns ~/Downloads/rescale, or the working directory
// if the home directory is unknown.
func DefaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Downloads", "rescale")
}

// LogDirectory returns the log directory.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\Rescale\Files\logs
//   - Unix: ~/.config/rescale/files/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "rescale-files-logs")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, "Rescale", "Files", "logs")
	}
	return filepath.Join(ConfigDirectory(), "logs")
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
