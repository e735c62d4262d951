// Package logging provides structured logging for the terminal client.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zerolog with the console format used across the client.
type Logger struct {
	zlog zerolog.Logger
}

// FileOptions configures the rotating log file and the console beside it.
type FileOptions struct {
	Dir        string // Directory for the log file; empty disables file logging
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	Console      io.Writer     // Defaults to os.Stderr
	ConsoleLevel zerolog.Level // Console drops events below this; the file keeps them
}

// NewLogger creates a logger writing console-formatted lines to w.
func NewLogger(w io.Writer) *Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}
	return &Logger{zlog: zerolog.New(output).With().Timestamp().Logger()}
}

// NewDefaultCLILogger creates the default CLI logger. Logs go to stderr so
// stdout stays clean for command output.
func NewDefaultCLILogger() *Logger {
	return NewLogger(os.Stderr)
}

// NewCLILoggerWithFile logs to the console and to a rotating JSON file in opts.Dir.
func NewCLILoggerWithFile(opts FileOptions) *Logger {
	if opts.Console == nil {
		opts.Console = os.Stderr
	}
	console := levelFilter{
		w:   zerolog.ConsoleWriter{Out: opts.Console, TimeFormat: "15:04:05"},
		min: opts.ConsoleLevel,
	}
	newLogger := func(w io.Writer) *Logger {
		return &Logger{zlog: zerolog.New(w).With().Timestamp().Logger()}
	}

	if opts.Dir == "" {
		return newLogger(console)
	}
	if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		l := newLogger(console)
		l.Warn().Err(err).Str("dir", opts.Dir).Msg("log directory unavailable, file logging disabled")
		return l
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 3
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = 14
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(opts.Dir, "rescale-files.log"),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	return newLogger(zerolog.MultiLevelWriter(console, file))
}

// levelFilter drops events below min.
type levelFilter struct {
	w   io.Writer
	min zerolog.Level
}

func (f levelFilter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f levelFilter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < f.min {
		return len(p), nil
	}
	return f.w.Write(p)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", component).Logger()}
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
