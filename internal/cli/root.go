// Package cli provides the command-line interface for rescale-files.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rescale/rescale-files/internal/logging"
	"github.com/rescale/rescale-files/internal/version"
)

var (
	// Global flags
	cfgFile    string
	apiKey     string
	tokenFile  string // Path to file containing API key
	apiBaseURL string
	stateFile  string
	verbose    bool
	debug      bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rescale-files",
		Short: "Browse and transfer files in Rescale cloud storage",
		Long: `rescale-files ` + version.Version + ` - Built: ` + version.BuildTime + `
Terminal client for Rescale cloud storage.

Remote operations (ls, mkdir, mv, cp, rename, rm, put) run in the
background and report when they finish. Downloads (get) go through a
single-lane queue: one file at a time, resumable across restarts.
Interrupted downloads are kept in the queue file and can be continued
with 'queue resume'.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefaultCLILogger()
			if verbose || debug {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Rescale API key (overrides all other sources)")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", "", "Path to file containing API key")
	rootCmd.PersistentFlags().StringVar(&apiBaseURL, "api-url", "", "Rescale API base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&stateFile, "state-file", "", "Download queue state file (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output (same as --verbose)")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			if sig != nil {
				interrupt(sig.String())
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// interrupt cancels the global context. Used by signals and by the
// Ctrl+C key while the terminal is in raw mode.
func interrupt(reason string) {
	fmt.Fprintf(os.Stderr, "\n\nReceived %s, stopping...\n", reason)
	fmt.Fprintf(os.Stderr, "   Unfinished downloads are saved and can be resumed with 'queue resume'.\n\n")
	if cancelFunc != nil {
		cancelFunc()
	}
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newMkdirCmd())
	rootCmd.AddCommand(newMvCmd())
	rootCmd.AddCommand(newCpCmd())
	rootCmd.AddCommand(newRenameCmd())
	rootCmd.AddCommand(newRmCmd())
	rootCmd.AddCommand(newPutCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newQueueCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context with signal handling.
// This context will be cancelled when the user presses Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}
