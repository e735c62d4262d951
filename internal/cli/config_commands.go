package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/rescale-files/internal/api"
	"github.com/rescale/rescale-files/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage rescale-files configuration",
		Long: `Configuration management commands for rescale-files.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  test  - Test API connection
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// tokenPathFor keeps the token beside a custom config file, otherwise at the
// default location that is read automatically.
func tokenPathFor(configPath string) string {
	if cfgFile == "" {
		return config.DefaultTokenPath()
	}
	return filepath.Join(filepath.Dir(configPath), "token")
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for rescale-files.

The API key is written to a separate token file readable only by you;
the remaining settings go to the INI configuration file.

Use --force to overwrite existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := configPath()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			fmt.Fprintln(out, "Rescale Files Configuration Setup")
			fmt.Fprintln(out, "=================================")
			fmt.Fprintln(out)

			p := newPrompter(cmd.InOrStdin(), out)
			cfg := config.New()

			key, err := p.required("API Key")
			if err != nil {
				return err
			}
			cfg.APIBaseURL = p.line("Platform URL", cfg.APIBaseURL)
			cfg.DownloadDir = config.ExpandHome(p.line("Download directory", cfg.DownloadDir))
			cfg.ChunkKiB = p.number("Download chunk size in KiB", cfg.ChunkKiB)

			fmt.Fprintln(out)
			if p.yes("Configure proxy?") {
				fmt.Fprintln(out, "Proxy modes: no-proxy, system, basic, ntlm")
				cfg.ProxyMode = p.line("Proxy mode", "system")
				if cfg.ProxyMode != "no-proxy" {
					cfg.ProxyHost = p.line("Proxy host", "")
					cfg.ProxyPort = p.number("Proxy port", cfg.ProxyPort)
				}
				if cfg.ProxyMode == "basic" || cfg.ProxyMode == "ntlm" {
					cfg.ProxyUser = p.line("Proxy user", "")
				}
			}
			if err := cfg.ValidateLocal(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			// The key lives in the token file only.
			tokenPath := tokenPathFor(path)
			if err := config.WriteTokenFile(tokenPath, key); err != nil {
				return fmt.Errorf("failed to save API token file: %w", err)
			}
			if err := config.Save(cfg, path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			GetLogger().Info().Str("path", path).Msg("Configuration saved")

			fmt.Fprintln(out)
			fmt.Fprintf(out, "✓ Configuration saved to: %s\n", path)
			fmt.Fprintf(out, "✓ API token saved to: %s\n", tokenPath)
			if cfgFile != "" {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "The token is not in the default location. Pass it explicitly:")
				fmt.Fprintf(out, "    rescale-files --config %s --token-file %s <command>\n", path, tokenPath)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Test your configuration with: rescale-files config test")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")

	return cmd
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration settings.

This command shows the merged configuration from:
  1. Configuration file
  2. Token file
  3. Environment variables (RESCALE_API_KEY, RESCALE_API_URL, HTTPS_PROXY)
  4. Command-line flags (--api-key, --token-file, --api-url, --state-file)

Priority: flags > environment > token file > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			out := cmd.OutOrStdout()
			path := configPath()

			fmt.Fprintln(out, "Current Configuration")
			fmt.Fprintln(out, "=====================")
			fmt.Fprintln(out)

			fmt.Fprintln(out, "API Settings:")
			fmt.Fprintf(out, "  Platform URL: %s\n", cfg.APIBaseURL)
			if cfg.APIKey != "" {
				// Never display any portion of the key
				fmt.Fprintf(out, "  API Key:      <set (%d chars)>\n", len(cfg.APIKey))
			} else {
				fmt.Fprintln(out, "  API Key:      <not set>")
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Transfer Settings:")
			fmt.Fprintf(out, "  Download Dir:      %s\n", cfg.DownloadDir)
			fmt.Fprintf(out, "  Queue State File:  %s\n", cfg.StateFile)
			fmt.Fprintf(out, "  Chunk Size:        %d KiB\n", cfg.ChunkKiB)
			fmt.Fprintf(out, "  Progress Interval: %s\n", cfg.ProgressInterval())
			fmt.Fprintf(out, "  Tick Interval:     %s\n", cfg.TickInterval())
			if cfg.LogDir != "" {
				fmt.Fprintf(out, "  Log Dir:           %s\n", cfg.LogDir)
			} else {
				fmt.Fprintln(out, "  Log Dir:           <disabled>")
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Proxy Settings:")
			fmt.Fprintf(out, "  Proxy Mode: %s\n", cfg.ProxyMode)
			if cfg.ProxyHost != "" {
				fmt.Fprintf(out, "  Proxy Host: %s\n", cfg.ProxyHost)
				fmt.Fprintf(out, "  Proxy Port: %d\n", cfg.ProxyPort)
			}
			if cfg.ProxyUser != "" {
				fmt.Fprintf(out, "  Proxy User: %s\n", cfg.ProxyUser)
			}
			if cfg.NoProxy != "" {
				fmt.Fprintf(out, "  No Proxy:   %s\n", cfg.NoProxy)
			}
			fmt.Fprintln(out)

			fmt.Fprintf(out, "Configuration file: %s\n", path)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintln(out, "  (file does not exist - using defaults)")
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(out, "  Warning: %v\n", err)
			}
			return nil
		},
	}
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test API connection",
		Long: `Test the API connection with current configuration.

Use this to verify your API key, proxy settings and network connectivity.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "Testing API Connection")
			fmt.Fprintln(out, "======================")
			fmt.Fprintln(out)

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			fmt.Fprintf(out, "Platform URL: %s\n", cfg.APIBaseURL)
			if cfg.ProxyMode != "" && cfg.ProxyMode != "no-proxy" {
				fmt.Fprintf(out, "Proxy:        %s %s:%d\n", cfg.ProxyMode, cfg.ProxyHost, cfg.ProxyPort)
			}
			fmt.Fprintln(out, "Testing connection...")
			fmt.Fprintln(out)

			client, err := api.NewClient(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create API client: %w", err)
			}

			ctx, cancel := context.WithTimeout(GetContext(), 10*time.Second)
			defer cancel()

			user, err := client.GetUserProfile(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("Connection test failed")
				fmt.Fprintln(out, "✗ Connection FAILED")
				fmt.Fprintf(out, "  Error: %v\n", err)
				return fmt.Errorf("connection test failed")
			}

			logger.Info().Msg("Connection test successful")

			fmt.Fprintln(out, "✓ Connection SUCCESSFUL")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "User Information:")
			fmt.Fprintf(out, "  Email: %s\n", user.Email)
			if user.FullName != "" {
				fmt.Fprintf(out, "  Name:  %s\n", user.FullName)
			}
			return nil
		},
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path to the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := configPath()
			if cfgFile == "" {
				fmt.Fprintln(out, "Default configuration path:")
			} else {
				fmt.Fprintln(out, "Configuration path (from --config flag):")
			}
			fmt.Fprintf(out, "  %s\n", path)
			fmt.Fprintln(out)

			if fileInfo, err := os.Stat(path); err == nil {
				fmt.Fprintln(out, "Status: ✓ File exists")
				fmt.Fprintf(out, "Size:   %d bytes\n", fileInfo.Size())
				fmt.Fprintf(out, "Modified: %s\n", fileInfo.ModTime().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprintln(out, "Status: File does not exist")
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Create a configuration file with: rescale-files config init")
			}
			return nil
		},
	}
}
