// Package logger is the application facing API: it formats messages with
// the configured template and hands them to a storage.Log.
package logger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mvaleed/levellog/internal/config"
	"github.com/mvaleed/levellog/internal/format"
	"github.com/mvaleed/levellog/internal/level"
	"github.com/mvaleed/levellog/internal/storage"
)

type Logger struct {
	log       *storage.Log
	formatter *format.Formatter
}

type Option func(*storage.Options)

// WithOnWrite registers a callback run after every stored entry.
func WithOnWrite(fn func(entry string, lvl level.Level)) Option {
	return func(o *storage.Options) {
		o.OnWrite = fn
	}
}

// WithSlog routes the engine's own operational logs to l.
func WithSlog(l *slog.Logger) Option {
	return func(o *storage.Options) {
		o.Logger = l
	}
}

// New opens the log file named by cfg, with $(TargetDir) resolved. cfg is
// not modified. cfg nil means config.Default plus environment overrides.
func New(cfg *config.Config, opts ...Option) (*Logger, error) {
	if cfg == nil {
		loaded, err := config.Load("")
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	resolved := *cfg
	cfg = &resolved
	if err := cfg.ResolveTargetDir(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	storageOpts, err := cfg.ToOptions(nil)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(&storageOpts)
	}

	log, err := storage.Open(cfg.LogFilePath, storageOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open log %s: %w", cfg.LogFilePath, err)
	}

	return &Logger{
		log:       log,
		formatter: format.New(cfg.LogEntryFormat, cfg.TimestampFormat),
	}, nil
}

// Log writes message at Info.
func (l *Logger) Log(message any) error {
	return l.LogLevel(level.Info, message)
}

// LogLevel formats and writes message when lvl is enabled. Disabled levels
// cost one atomic load.
func (l *Logger) LogLevel(lvl level.Level, message any, additionalInfo ...any) error {
	if !l.log.IsEnabled(lvl) {
		return nil
	}
	return l.log.Write(lvl, l.formatter.Format(lvl, message, additionalInfo...))
}

func (l *Logger) Critical(message any, additionalInfo ...any) error {
	return l.LogLevel(level.Critical, message, additionalInfo...)
}

func (l *Logger) Error(message any, additionalInfo ...any) error {
	return l.LogLevel(level.Error, message, additionalInfo...)
}

func (l *Logger) Warn(message any, additionalInfo ...any) error {
	return l.LogLevel(level.Warn, message, additionalInfo...)
}

func (l *Logger) Info(message any, additionalInfo ...any) error {
	return l.LogLevel(level.Info, message, additionalInfo...)
}

func (l *Logger) Debug(message any, additionalInfo ...any) error {
	return l.LogLevel(level.Debug, message, additionalInfo...)
}

func (l *Logger) IsEnabled(lvl level.Level) bool {
	return l.log.IsEnabled(lvl)
}

func (l *Logger) SetMinLevel(lvl level.Level) error {
	return l.log.SetMinLevel(lvl)
}

// Storage exposes the underlying engine, e.g. for Recover or Positions.
func (l *Logger) Storage() *storage.Log {
	return l.log
}

// WatchConfig applies log_level changes of the config file at path until
// ctx is canceled. Other fields are fixed for the lifetime of the Logger.
func (l *Logger) WatchConfig(ctx context.Context, path string) error {
	return config.Watch(ctx, path, func(cfg *config.Config) {
		if err := l.log.SetMinLevel(cfg.LogLevel); err != nil {
			slog.Warn("Ignoring reloaded log level", "level", cfg.LogLevel, "error", err)
		}
	})
}

func (l *Logger) Flush() error {
	return l.log.Flush()
}

func (l *Logger) Close() error {
	return l.log.Close()
}
