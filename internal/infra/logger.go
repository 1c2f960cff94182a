package infra

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger constructs a zerolog.Logger for the given environment. Development
// gets human readable console output at debug level; everything else logs JSON.
func NewLogger(appEnv string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", "lookbook").
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}

// Logger aliases the zerolog.Logger so callers outside the infra package can
// depend on the logging contract without importing the third-party module.
type Logger = zerolog.Logger

// LoggerOrDiscard returns l when set and a logger that drops everything otherwise.
func LoggerOrDiscard(l *Logger) *Logger {
	if l != nil {
		return l
	}
	discard := zerolog.New(io.Discard)
	return &discard
}
