package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestSetLogLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	tests := []struct {
		name     string
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", "debug", zerolog.DebugLevel, false},
		{"info", "info", zerolog.InfoLevel, false},
		{"warn", "warn", zerolog.WarnLevel, false},
		{"warning", "warning", zerolog.WarnLevel, false},
		{"error", "error", zerolog.ErrorLevel, false},
		{"disabled", "disabled", zerolog.Disabled, false},
		{"none", "none", zerolog.Disabled, false},
		{"off", "off", zerolog.Disabled, false},
		{"case insensitive", "DEBUG", zerolog.DebugLevel, false},
		{"invalid", "invalid", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SetLogLevel(tt.level)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid log level")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, zerolog.GlobalLevel())
			}
		})
	}
}

func TestConfigureLoggerFile(t *testing.T) {
	prev := log.Logger
	defer func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}()

	logFile := filepath.Join(t.TempDir(), "logs", "httpfs.log")
	w, err := ConfigureLogger(LogOptions{Level: "info", File: logFile})
	require.NoError(t, err)

	rotator, ok := w.(*lumberjack.Logger)
	require.True(t, ok)
	assert.Equal(t, 100, rotator.MaxSize)
	assert.Equal(t, 3, rotator.MaxBackups)

	log.Info().Str("path", "/http/example.test/data.bin..").Msg("hello")
	require.NoError(t, rotator.Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"message":"hello"`)
	assert.Contains(t, string(content), `"pid":`)
}

func TestConfigureLoggerRejectsBadLevel(t *testing.T) {
	_, err := ConfigureLogger(LogOptions{Level: "loud"})
	require.Error(t, err)
}

func ExampleSetLogLevel() {
	// Enable debug logging to see per-operation logs
	SetLogLevel("debug")

	// Use info logging for normal operation (default)
	SetLogLevel("info")

	// Disable all logging
	SetLogLevel("disabled")
}
