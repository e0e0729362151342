// Package logging builds the engine's zerolog logger and its field helpers.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "market-alerts", "logs", "alertd.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

var levelLabels = map[string]string{
	"debug": "\033[36mDBG\033[0m",
	"info":  "\033[32mINF\033[0m",
	"warn":  "\033[33mWRN\033[0m",
	"error": "\033[31mERR\033[0m",
}

// NewLoggerWithConfig creates the process logger. Console output goes to stderr so command
// output on stdout stays machine-readable.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(os.Stderr))
	}
	if cfg.File && cfg.FilePath != "" {
		if w, ok := rotatingWriter(cfg); ok {
			writers = append(writers, w)
		}
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = os.Stderr
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	return zerolog.New(out).With().Timestamp().Caller().Logger()
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		FormatLevel: func(i interface{}) string {
			level, _ := i.(string)
			if label, ok := levelLabels[level]; ok {
				return label
			}
			return level
		},
	}
}

// rotatingWriter returns a lumberjack file writer, or false if the log directory cannot be created.
func rotatingWriter(cfg LogConfig) (io.Writer, bool) {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return nil, false
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}, true
}

// ParseLevel maps a level name to a zerolog level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

type ctxKey struct{}

// WithLogger attaches logger to ctx.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContextOr returns the logger attached to ctx, or fallback.
func FromContextOr(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return logger
	}
	return fallback
}

// WithComponent adds a component name to the logger context.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithPass tags log lines with the pass name and id.
func WithPass(logger zerolog.Logger, pass, passID string) zerolog.Logger {
	return logger.With().Str("pass", pass).Str("pass_id", passID).Logger()
}

// WithRule tags log lines with a rule reference.
func WithRule(logger zerolog.Logger, kind string, id int64) zerolog.Logger {
	return logger.With().Str("rule_kind", kind).Int64("rule_id", id).Logger()
}

// LogTrigger logs a rule firing.
func LogTrigger(logger zerolog.Logger, symbol, condition string, current, target float64) {
	logger.Info().
		Str("event", "trigger").
		Str("symbol", symbol).
		Str("condition", condition).
		Float64("current", current).
		Float64("target", target).
		Msg("Alert triggered")
}

// LogDispatch logs the outcome of one channel delivery. Skipped channels log at debug.
func LogDispatch(logger zerolog.Logger, channel string, attempted bool, err error) {
	switch {
	case err != nil:
		logger.Warn().Str("event", "dispatch").Str("channel", channel).Err(err).
			Msg("Notification delivery failed")
	case attempted:
		logger.Info().Str("event", "dispatch").Str("channel", channel).
			Msg("Notification delivered")
	default:
		logger.Debug().Str("event", "dispatch").Str("channel", channel).
			Msg("Channel not enabled for recipient")
	}
}

// LogAPICall logs an outbound API call at debug level.
func LogAPICall(logger zerolog.Logger, method, endpoint string, duration time.Duration, err error) {
	ev := logger.Debug().
		Str("event", "api_call").
		Str("method", method).
		Str("endpoint", endpoint).
		Dur("duration", duration)
	if err != nil {
		ev.Err(err).Msg("API call failed")
		return
	}
	ev.Msg("API call completed")
}
