// Package config provides configuration management for rescale-files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// DefaultPlatformURL is used when neither the file, env nor flags set one.
const DefaultPlatformURL = "https://platform.rescale.com"

// Config holds every setting the client needs.
//
// Config file location:
//   - Windows: %APPDATA%\Rescale\Files\config
//   - Unix: ~/.config/rescale/files/config
//
// INI format:
//
//	[rescale]
//	platform_url = https://platform.rescale.com
//	api_key = <token-or-api-key>
//
//	[files]
//	download_dir = ~/Downloads/rescale
//	state_file = ~/.config/rescale/files/queue.json
//	chunk_kib = 64
//	progress_interval_ms = 500
//	tick_ms = 50
//
//	[proxy]
//	mode = no-proxy
//	host = proxy.corp
//	port = 8080
//	user = jdoe
//	no_proxy = *.internal,10.0.0.0/8
type Config struct {
	// Rescale connection settings
	APIBaseURL string
	APIKey     string

	// Transfer settings
	DownloadDir        string
	StateFile          string
	ChunkKiB           int
	ProgressIntervalMS int
	TickMS             int

	// Logging
	LogDir string // Empty disables the log file

	// Proxy settings
	ProxyMode     string // "no-proxy", "system", "basic", "ntlm"
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string // Never written back to disk
	NoProxy       string // Comma-separated list of hosts to bypass proxy
	ProxyWarmup   bool
}

// Overrides are values from the command line. Empty fields are ignored.
type Overrides struct {
	APIKey      string
	TokenFile   string
	APIBaseURL  string
	DownloadDir string
	StateFile   string
	ProxyMode   string
	ProxyHost   string
	ProxyPort   int
}

// Validation errors
var (
	ErrMissingPlatformURL   = errors.New("platform_url is required")
	ErrMissingAPIKey        = errors.New("api_key is required (set RESCALE_API_KEY, --api-key or --token-file)")
	ErrInvalidChunkSize     = errors.New("chunk_kib must be between 4 and 16384")
	ErrInvalidProgressRate  = errors.New("progress_interval_ms must be between 50 and 60000")
	ErrInvalidTick          = errors.New("tick_ms must be between 10 and 1000")
	ErrInvalidProxyMode     = errors.New("proxy mode must be one of no-proxy, system, basic, ntlm")
	ErrMissingProxyHost     = errors.New("proxy host is required for basic and ntlm modes")
	ErrMissingStateLocation = errors.New("state_file is required")
)

// New creates a Config with default values.
func New() *Config {
	return &Config{
		APIBaseURL:         DefaultPlatformURL,
		DownloadDir:        DefaultDownloadDir(),
		StateFile:          DefaultStatePath(),
		ChunkKiB:           64,
		ProgressIntervalMS: 500,
		TickMS:             50,
		LogDir:             LogDirectory(),
		ProxyMode:          "no-proxy",
		ProxyPort:          8080,
	}
}

// Load reads configuration from an INI file.
// If the file doesn't exist, returns defaults and no error.
// If the file exists but is invalid, returns an error.
func Load(path string) (*Config, error) {
	cfg := New()

	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	rescaleSection := iniFile.Section("rescale")
	cfg.APIBaseURL = rescaleSection.Key("platform_url").MustString(cfg.APIBaseURL)
	cfg.APIKey = rescaleSection.Key("api_key").String()

	filesSection := iniFile.Section("files")
	cfg.DownloadDir = ExpandHome(filesSection.Key("download_dir").MustString(cfg.DownloadDir))
	cfg.StateFile = ExpandHome(filesSection.Key("state_file").MustString(cfg.StateFile))
	cfg.ChunkKiB = filesSection.Key("chunk_kib").MustInt(cfg.ChunkKiB)
	cfg.ProgressIntervalMS = filesSection.Key("progress_interval_ms").MustInt(cfg.ProgressIntervalMS)
	cfg.TickMS = filesSection.Key("tick_ms").MustInt(cfg.TickMS)
	cfg.LogDir = ExpandHome(filesSection.Key("log_dir").MustString(cfg.LogDir))

	proxySection := iniFile.Section("proxy")
	cfg.ProxyMode = strings.ToLower(proxySection.Key("mode").MustString(cfg.ProxyMode))
	cfg.ProxyHost = proxySection.Key("host").String()
	cfg.ProxyPort = proxySection.Key("port").MustInt(cfg.ProxyPort)
	cfg.ProxyUser = proxySection.Key("user").String()
	cfg.ProxyPassword = proxySection.Key("password").String()
	cfg.NoProxy = proxySection.Key("no_proxy").String()
	cfg.ProxyWarmup = proxySection.Key("warmup").MustBool(false)

	return cfg, nil
}

// Save writes configuration to an INI file.
// Creates parent directories if they don't exist. The proxy password is not saved.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	rescaleSection, err := iniFile.NewSection("rescale")
	if err != nil {
		return fmt.Errorf("failed to create rescale section: %w", err)
	}
	rescaleSection.Key("platform_url").SetValue(cfg.APIBaseURL)
	rescaleSection.Key("api_key").SetValue(cfg.APIKey)

	filesSection, err := iniFile.NewSection("files")
	if err != nil {
		return fmt.Errorf("failed to create files section: %w", err)
	}
	filesSection.Key("download_dir").SetValue(cfg.DownloadDir)
	filesSection.Key("state_file").SetValue(cfg.StateFile)
	filesSection.Key("chunk_kib").SetValue(strconv.Itoa(cfg.ChunkKiB))
	filesSection.Key("progress_interval_ms").SetValue(strconv.Itoa(cfg.ProgressIntervalMS))
	filesSection.Key("tick_ms").SetValue(strconv.Itoa(cfg.TickMS))
	filesSection.Key("log_dir").SetValue(cfg.LogDir)

	proxySection, err := iniFile.NewSection("proxy")
	if err != nil {
		return fmt.Errorf("failed to create proxy section: %w", err)
	}
	proxySection.Key("mode").SetValue(cfg.ProxyMode)
	proxySection.Key("host").SetValue(cfg.ProxyHost)
	proxySection.Key("port").SetValue(strconv.Itoa(cfg.ProxyPort))
	proxySection.Key("user").SetValue(cfg.ProxyUser)
	proxySection.Key("no_proxy").SetValue(cfg.NoProxy)
	proxySection.Key("warmup").SetValue(strconv.FormatBool(cfg.ProxyWarmup))

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	// Set restrictive permissions (API key is sensitive)
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Merge applies token file, environment and flag values on top of the file.
// Priority (highest to lowest): flags > environment > token file > config file.
func (c *Config) Merge(o Overrides) error {
	if o.TokenFile != "" {
		key, err := ReadTokenFile(o.TokenFile)
		if err != nil {
			return err
		}
		c.APIKey = key
	} else if c.APIKey == "" {
		if key, err := ReadTokenFile(DefaultTokenPath()); err == nil {
			c.APIKey = key
		}
	}

	if envKey := os.Getenv("RESCALE_API_KEY"); envKey != "" {
		c.APIKey = envKey
	}
	if envURL := os.Getenv("RESCALE_API_URL"); envURL != "" {
		c.APIBaseURL = envURL
	}
	if envProxy := os.Getenv("HTTPS_PROXY"); envProxy != "" && c.ProxyHost == "" && c.ProxyMode == "no-proxy" {
		c.parseProxyURL(envProxy)
	}

	if o.APIKey != "" {
		c.APIKey = o.APIKey
	}
	if o.APIBaseURL != "" {
		c.APIBaseURL = o.APIBaseURL
	}
	if o.DownloadDir != "" {
		c.DownloadDir = ExpandHome(o.DownloadDir)
	}
	if o.StateFile != "" {
		c.StateFile = ExpandHome(o.StateFile)
	}
	if o.ProxyMode != "" {
		c.ProxyMode = strings.ToLower(o.ProxyMode)
	}
	if o.ProxyHost != "" {
		c.ProxyHost = o.ProxyHost
	}
	if o.ProxyPort > 0 {
		c.ProxyPort = o.ProxyPort
	}

	// Ensure HTTPS scheme
	c.APIBaseURL = strings.TrimSuffix(strings.TrimSpace(c.APIBaseURL), "/")
	if c.APIBaseURL != "" && !strings.HasPrefix(c.APIBaseURL, "http") {
		c.APIBaseURL = "https://" + c.APIBaseURL
	}
	return nil
}

// parseProxyURL parses a proxy URL from environment variable
func (c *Config) parseProxyURL(proxyURL string) {
	proxyURL = strings.TrimPrefix(proxyURL, "http://")
	proxyURL = strings.TrimPrefix(proxyURL, "https://")
	proxyURL = strings.TrimSuffix(proxyURL, "/")

	parts := strings.Split(proxyURL, ":")
	if len(parts) >= 1 {
		c.ProxyHost = parts[0]
	}
	if len(parts) >= 2 {
		if port, err := strconv.Atoi(parts[1]); err == nil {
			c.ProxyPort = port
		}
	}
	if c.ProxyHost != "" {
		c.ProxyMode = "system"
	}
}

// Validate checks the settings needed for any remote call.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return ErrMissingPlatformURL
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return c.ValidateLocal()
}

// ValidateLocal checks only settings that don't involve the platform,
// e.g. for commands that just inspect the saved queue.
func (c *Config) ValidateLocal() error {
	if c.ChunkKiB < 4 || c.ChunkKiB > 16384 {
		return ErrInvalidChunkSize
	}
	if c.ProgressIntervalMS < 50 || c.ProgressIntervalMS > 60000 {
		return ErrInvalidProgressRate
	}
	if c.TickMS < 10 || c.TickMS > 1000 {
		return ErrInvalidTick
	}
	if strings.TrimSpace(c.StateFile) == "" {
		return ErrMissingStateLocation
	}
	switch c.ProxyMode {
	case "no-proxy", "", "system":
	case "basic", "ntlm":
		if c.ProxyHost == "" {
			return ErrMissingProxyHost
		}
	default:
		return ErrInvalidProxyMode
	}
	return nil
}

// ChunkSize returns the download chunk size in bytes.
func (c *Config) ChunkSize() int {
	return c.ChunkKiB * 1024
}

// ProgressInterval returns the progress sampling cadence.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMS) * time.Millisecond
}

// TickInterval returns the event loop period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickMS) * time.Millisecond
}
