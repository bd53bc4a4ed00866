package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level     `yaml:"level" env:"SHUTTER_LOG_LEVEL"`
	JSONOutput bool      `yaml:"json" env:"SHUTTER_LOG_JSON"`
	Output     io.Writer `yaml:"-"`
}

// Init initializes the global logger
func Init(cfg Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

func parseLevel(l Level) zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ValidLevel reports whether l names a known level. Empty means info.
func ValidLevel(l Level) bool {
	switch l {
	case "", DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
		return true
	}
	return false
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithCamera creates a child logger with camera_exid field
func WithCamera(component, exid string) zerolog.Logger {
	return Logger.With().Str("component", component).Str("camera_exid", exid).Logger()
}

// WithWorker creates a child logger for one worker incarnation
func WithWorker(name, incarnation string) zerolog.Logger {
	return Logger.With().
		Str("component", "worker").
		Str("worker", name).
		Str("incarnation", incarnation).
		Logger()
}
