package common

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetLogLevel configures the global logging verbosity.
// Valid levels: "debug", "info", "warn", "error", "disabled"
// Use "debug" to see per-operation logs (getattr, read, cache hits/misses)
func SetLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "disabled", "none", "off":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		return fmt.Errorf("invalid log level %q: must be one of: debug, info, warn, error, disabled", level)
	}
	return nil
}

type LogOptions struct {
	Level string

	// File switches output to JSON lines in a rotating log file. The mount
	// process runs detached, so its stderr is usually not observed.
	File       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// ConfigureLogger installs the global logger. It returns the writer so
// callers can close a rotating file on shutdown.
func ConfigureLogger(opts LogOptions) (io.Writer, error) {
	if opts.Level == "" {
		opts.Level = "info"
	}
	if err := SetLogLevel(opts.Level); err != nil {
		return nil, err
	}

	if opts.File == "" {
		w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		log.Logger = log.Output(w)
		return w, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if opts.MaxSizeMB == 0 {
		opts.MaxSizeMB = 100
	}
	if opts.MaxBackups == 0 {
		opts.MaxBackups = 3
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   opts.Compress,
		LocalTime:  true,
	}
	log.Logger = zerolog.New(rotator).With().Timestamp().Int("pid", os.Getpid()).Logger()
	return rotator, nil
}
