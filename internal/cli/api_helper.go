package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/rescale/rescale-files/internal/api"
	"github.com/rescale/rescale-files/internal/app"
	"github.com/rescale/rescale-files/internal/config"
	"github.com/rescale/rescale-files/internal/constants"
	"github.com/rescale/rescale-files/internal/logging"
)

// configPath returns --config or the default location.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file and applies token file, environment and
// flag overrides. Priority: flags > environment > token file > config file > defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Merge(config.Overrides{
		APIKey:     apiKey,
		TokenFile:  tokenFile,
		APIBaseURL: apiBaseURL,
		StateFile:  stateFile,
	}); err != nil {
		return nil, err
	}
	if err := promptProxyPassword(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// consoleLevel keeps routine info lines in the log file only, unless -v.
func consoleLevel() zerolog.Level {
	if verbose || debug {
		return zerolog.DebugLevel
	}
	return zerolog.WarnLevel
}

// session is one command's event loop and the client behind it.
type session struct {
	cfg    *config.Config
	client *api.Client
	app    *app.App
	log    *logging.Logger
}

// openSession loads config, builds the API client and the event loop, and
// restores saved downloads (as Paused). console receives log lines, so
// commands that draw progress bars pass the bars' writer.
func openSession(console io.Writer) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if console == nil {
		console = os.Stderr
	}

	log := logging.NewCLILoggerWithFile(logging.FileOptions{
		Dir:          cfg.LogDir,
		Console:      console,
		ConsoleLevel: consoleLevel(),
	})
	logger = log

	client, err := api.NewClient(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	a, err := app.NewFromConfig(GetContext(), cfg, client, log)
	if err != nil {
		return nil, err
	}
	if n := a.Restore(); n > 0 {
		log.Debug().Int("count", n).Msg("restored saved downloads")
	}
	return &session{cfg: cfg, client: client, app: a, log: log}, nil
}

// close stops the active download, if any, and saves the queue.
func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownGrace)
	defer cancel()
	if err := s.app.Close(ctx); err != nil {
		s.log.Warn().Err(err).Msg("shutdown incomplete")
	}
}

// run ticks the loop until every dispatched operation and queued download
// has finished or the user interrupts.
func (s *session) run() error {
	err := s.app.RunUntilIdle(GetContext())
	if err == context.Canceled {
		return fmt.Errorf("interrupted")
	}
	return err
}
