package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
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
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithClientID attaches the client_id field to an existing logger (normally
// one already scoped by WithComponent), so a single record carries both
// which subsystem logged it and which SOME/IP client it concerns.
func WithClientID(base zerolog.Logger, clientID uint16) zerolog.Logger {
	return base.With().Uint16("client_id", clientID).Logger()
}

// WithService attaches service_id/instance_id fields to an existing logger.
func WithService(base zerolog.Logger, serviceID, instanceID uint16) zerolog.Logger {
	return base.With().
		Uint16("service_id", serviceID).
		Uint16("instance_id", instanceID).
		Logger()
}

// WithEventgroup attaches service_id/instance_id/eventgroup_id fields to an
// existing logger, for the subscription ack state machine's per-eventgroup
// log lines.
func WithEventgroup(base zerolog.Logger, serviceID, instanceID, eventgroupID uint16) zerolog.Logger {
	return base.With().
		Uint16("service_id", serviceID).
		Uint16("instance_id", instanceID).
		Uint16("eventgroup_id", eventgroupID).
		Logger()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
