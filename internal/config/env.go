package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/mvaleed/levellog/internal/level"
	"github.com/mvaleed/levellog/internal/storage"
)

// EnvPrefix is prepended to every environment override, e.g.
// LEVELLOG_LOG_LEVEL.
const EnvPrefix = "LEVELLOG_"

// envSource resolves overrides from the process environment first, then
// from the values of a .env file. The process environment is never modified.
type envSource struct {
	dotenv map[string]string
}

func (s envSource) lookup(key string) (string, bool) {
	if val, exists := os.LookupEnv(EnvPrefix + key); exists {
		return val, true
	}
	val, exists := s.dotenv[EnvPrefix+key]
	return val, exists
}

func (s envSource) getString(key, fallback string) string {
	val, exists := s.lookup(key)
	if !exists {
		return fallback
	}
	return val
}

func (s envSource) getInt(key string, fallback int) int {
	val, exists := s.lookup(key)
	if !exists {
		return fallback
	}
	valInt, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("Ignoring invalid environment override", "key", EnvPrefix+key, "value", val, "error", err)
		return fallback
	}
	return valInt
}

func (s envSource) getInt64(key string, fallback int64) int64 {
	val, exists := s.lookup(key)
	if !exists {
		return fallback
	}
	valInt, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		slog.Warn("Ignoring invalid environment override", "key", EnvPrefix+key, "value", val, "error", err)
		return fallback
	}
	return valInt
}

func (s envSource) getBool(key string, fallback bool) bool {
	val, exists := s.lookup(key)
	if !exists {
		return fallback
	}
	valBool, err := strconv.ParseBool(val)
	if err != nil {
		slog.Warn("Ignoring invalid environment override", "key", EnvPrefix+key, "value", val, "error", err)
		return fallback
	}
	return valBool
}

func (s envSource) getDuration(key string, fallback time.Duration) time.Duration {
	val, exists := s.lookup(key)
	if !exists {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("Ignoring invalid environment override", "key", EnvPrefix+key, "value", val, "error", err)
		return fallback
	}
	return d
}

func (s envSource) getLevel(key string, fallback level.Level) level.Level {
	val, exists := s.lookup(key)
	if !exists {
		return fallback
	}
	l, err := level.ParseLevel(val)
	if err != nil {
		slog.Warn("Ignoring invalid environment override", "key", EnvPrefix+key, "value", val, "error", err)
		return fallback
	}
	return l
}

func (s envSource) getDurability(key string, fallback storage.Durability) storage.Durability {
	val, exists := s.lookup(key)
	if !exists {
		return fallback
	}
	d, err := storage.ParseDurability(val)
	if err != nil {
		slog.Warn("Ignoring invalid environment override", "key", EnvPrefix+key, "value", val, "error", err)
		return fallback
	}
	return d
}

// apply overrides cfg fields from LEVELLOG_* variables.
func (s envSource) apply(cfg *Config) {
	cfg.LogFilePath = s.getString("LOG_FILE_PATH", cfg.LogFilePath)
	cfg.LogFileMaxBytes = s.getInt64("LOG_FILE_MAX_BYTES", cfg.LogFileMaxBytes)
	cfg.LogFileMaxAge = s.getDuration("LOG_FILE_MAX_AGE", cfg.LogFileMaxAge)
	cfg.OrderEntriesByLogLevel = s.getBool("ORDER_ENTRIES_BY_LOG_LEVEL", cfg.OrderEntriesByLogLevel)
	cfg.LogEntryFormat = s.getString("LOG_ENTRY_FORMAT", cfg.LogEntryFormat)
	cfg.TimestampFormat = s.getString("TIMESTAMP_FORMAT", cfg.TimestampFormat)
	cfg.LogLevel = s.getLevel("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFileEncoding = s.getString("LOG_FILE_ENCODING", cfg.LogFileEncoding)
	cfg.Durability = s.getDurability("DURABILITY", cfg.Durability)
	cfg.SpliceChunkBytes = s.getInt("SPLICE_CHUNK_BYTES", cfg.SpliceChunkBytes)
}
