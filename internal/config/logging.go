package config

import (
	"io"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/runledger/internal/foundation"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel enumerates supported logging levels.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var logLevelNormalizer = foundation.NewNormalizer(map[string]LogLevel{
	"debug": LogLevelDebug,
	"info":  LogLevelInfo,
	"warn":  LogLevelWarn,
	"error": LogLevelError,
}, LogLevelInfo)

// NormalizeLogLevel maps a raw string onto a supported level (default info).
func NormalizeLogLevel(raw string) LogLevel {
	return logLevelNormalizer.Normalize(raw)
}

// LogFormat enumerates supported log output formats.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

var logFormatNormalizer = foundation.NewNormalizer(map[string]LogFormat{
	"json": LogFormatJSON,
	"text": LogFormatText,
}, LogFormatText)

// NormalizeLogFormat maps a raw string onto a supported format (default text).
func NormalizeLogFormat(raw string) LogFormat {
	return logFormatNormalizer.Normalize(raw)
}

// SlogLevel converts the config level to a slog.Level.
func (lc LoggingConfig) SlogLevel() slog.Level {
	switch NormalizeLogLevel(lc.Level) {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger: stdout plus an optional rotated file.
func (lc LoggingConfig) NewLogger() *slog.Logger {
	return lc.NewLeveledLogger(nil)
}

// NewLeveledLogger builds the process logger against a caller-owned level var
// so the level can be adjusted at runtime (config reload).
func (lc LoggingConfig) NewLeveledLogger(level *slog.LevelVar) *slog.Logger {
	var out io.Writer = os.Stdout
	if lc.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotated)
	}

	var lvl slog.Leveler = lc.SlogLevel()
	if level != nil {
		level.Set(lc.SlogLevel())
		lvl = level
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if NormalizeLogFormat(lc.Format) == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}
