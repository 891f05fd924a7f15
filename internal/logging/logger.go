// Package logging provides structured diagnostic logging for fleetrun.
// Diagnostics go to stderr; the audit trail is owned by the report package.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// Level is the minimum level to emit.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Format selects the handler encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config holds logger configuration.
type Config struct {
	Level  Level
	Format Format
	Output io.Writer // defaults to stderr
	Quiet  bool      // suppress non-error output
}

// Logger wraps slog with fleetrun-specific event helpers.
type Logger struct {
	logger *slog.Logger
	quiet  bool
}

// New creates a logger from config.
func New(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: slogLevel(config.Level)}
	var handler slog.Handler
	if config.Format == FormatJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &Logger{logger: slog.New(handler), quiet: config.Quiet}
}

// NewFromSettings creates a logger from string-valued config knobs.
func NewFromSettings(level, format string, quiet bool) *Logger {
	cfg := Config{Level: LevelInfo, Format: FormatText, Quiet: quiet}
	if level == "error" {
		cfg.Level = LevelError
	}
	if format == "json" {
		cfg.Format = FormatJSON
	}
	return New(cfg)
}

func slogLevel(level Level) slog.Level {
	if level == LevelError {
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Info logs an informational message unless quiet mode is on.
func (l *Logger) Info(msg string, args ...any) {
	if l.quiet {
		return
	}
	l.logger.Info(msg, args...)
}

// Warn logs a warning unless quiet mode is on.
func (l *Logger) Warn(msg string, args ...any) {
	if l.quiet {
		return
	}
	l.logger.Warn(msg, args...)
}

// Error logs an error message. Never suppressed.
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// LogExecution records a completed remote command.
func (l *Logger) LogExecution(host string, exitCode int, duration time.Duration) {
	l.Info("remote command finished",
		"host", host,
		"exit_code", exitCode,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogExecutionError records a remote command that never returned a status.
func (l *Logger) LogExecutionError(host string, err error) {
	l.Error("remote command failed",
		"host", host,
		"error", err.Error(),
	)
}

// LogConnectionError records a transport-level failure. Identity file paths
// are never logged.
func (l *Logger) LogConnectionError(host string, err error) {
	l.Error("connection failed",
		"host", host,
		"error", err.Error(),
	)
}

// LogCredentialRejected records a host skipped by the local credential gate.
func (l *Logger) LogCredentialRejected(host string, err error) {
	l.Error("credential rejected before connection",
		"host", host,
		"error", err.Error(),
	)
}

// LogBatchStart records the start of a batch run.
func (l *Logger) LogBatchStart(hosts, concurrency int) {
	l.Info("batch started",
		"host_count", hosts,
		"concurrency", concurrency,
	)
}

// LogBatchComplete records the end of a batch run.
func (l *Logger) LogBatchComplete(hosts, succeeded, failed int, duration time.Duration) {
	l.Info("batch completed",
		"host_count", hosts,
		"succeeded", succeeded,
		"failed", failed,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogConfigLoad records where configuration came from.
func (l *Logger) LogConfigLoad(source string) {
	l.Info("configuration loaded", "source", source)
}

// LogHostsLoaded records a parsed host source.
func (l *Logger) LogHostsLoaded(source string, count int) {
	l.Info("hosts loaded", "source", source, "count", count)
}
