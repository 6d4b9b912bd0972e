package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/mvaleed/levellog/internal/level"
	"github.com/mvaleed/levellog/internal/storage"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "levellog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.True(t, cfg.OrderEntriesByLogLevel)
	require.Equal(t, level.Debug, cfg.LogLevel)
	require.Equal(t, storage.DurabilityMedium, cfg.Durability)
	require.Equal(t, storage.DefaultChunkSize, cfg.SpliceChunkBytes)
}

func TestLoad(t *testing.T) {
	t.Run("all fields", func(t *testing.T) {
		dir := t.TempDir()
		path := writeConfig(t, dir, `
log_file_path: /var/log/app/app.log
log_file_max_bytes: 1048576
log_file_max_age: 24h
order_entries_by_log_level: false
log_entry_format: "$(LogLevel) $(Message)"
timestamp_format: "2006-01-02"
log_level: warn
log_file_encoding: windows-1252
durability: full
splice_chunk_bytes: 4096
`)

		cfg, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, &Config{
			LogFilePath:            "/var/log/app/app.log",
			LogFileMaxBytes:        1 << 20,
			LogFileMaxAge:          24 * time.Hour,
			OrderEntriesByLogLevel: false,
			LogEntryFormat:         "$(LogLevel) $(Message)",
			TimestampFormat:        "2006-01-02",
			LogLevel:               level.Warn,
			LogFileEncoding:        "windows-1252",
			Durability:             storage.DurabilityFull,
			SpliceChunkBytes:       4096,
		}, cfg)
	})

	t.Run("empty file keeps defaults and expands target dir", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "")

		cfg, err := Load(path)
		require.NoError(t, err)

		wd, err := os.Getwd()
		require.NoError(t, err)
		require.Equal(t, filepath.Join(wd, "levellog.log"), cfg.LogFilePath)
		require.Equal(t, level.Debug, cfg.LogLevel)
	})

	t.Run("target dir in a nested path", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "log_file_path: $(TargetDir)logs/app.log\n")

		cfg, err := Load(path)
		require.NoError(t, err)
		wd, err := os.Getwd()
		require.NoError(t, err)
		require.Equal(t, filepath.Join(wd, "logs", "app.log"), cfg.LogFilePath)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("unknown field", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "log_levle: info\n")
		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("invalid level name", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "log_level: verbose\n")
		_, err := Load(path)
		require.ErrorIs(t, err, level.ErrInvalidLevel)
	})

	t.Run("invalid durability name", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "durability: sometimes\n")
		_, err := Load(path)
		require.ErrorIs(t, err, storage.ErrInvalidDurability)
	})

	t.Run("failed validation", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "log_file_max_bytes: -1\n")
		_, err := Load(path)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestLoad_Environment(t *testing.T) {
	t.Run("environment overrides file", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "log_level: info\nlog_file_path: /tmp/a.log\n")
		t.Setenv("LEVELLOG_LOG_LEVEL", "critical")
		t.Setenv("LEVELLOG_ORDER_ENTRIES_BY_LOG_LEVEL", "false")
		t.Setenv("LEVELLOG_LOG_FILE_MAX_AGE", "90m")
		t.Setenv("LEVELLOG_DURABILITY", "async")

		cfg, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, level.Critical, cfg.LogLevel)
		require.False(t, cfg.OrderEntriesByLogLevel)
		require.Equal(t, 90*time.Minute, cfg.LogFileMaxAge)
		require.Equal(t, storage.DurabilityAsync, cfg.Durability)
		require.Equal(t, "/tmp/a.log", cfg.LogFilePath)
	})

	t.Run("invalid override is ignored", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "splice_chunk_bytes: 2048\n")
		t.Setenv("LEVELLOG_SPLICE_CHUNK_BYTES", "lots")
		t.Setenv("LEVELLOG_LOG_LEVEL", "loud")

		cfg, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, 2048, cfg.SpliceChunkBytes)
		require.Equal(t, level.Debug, cfg.LogLevel)
	})

	t.Run("dotenv next to the config file", func(t *testing.T) {
		dir := t.TempDir()
		path := writeConfig(t, dir, "log_level: info\n")
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
			[]byte("LEVELLOG_LOG_LEVEL=error\nLEVELLOG_LOG_FILE_MAX_BYTES=500\n"), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, level.Error, cfg.LogLevel)
		require.Equal(t, int64(500), cfg.LogFileMaxBytes)

		_, set := os.LookupEnv("LEVELLOG_LOG_FILE_MAX_BYTES")
		require.False(t, set, ".env values must not leak into the process environment")
	})

	t.Run("process environment wins over dotenv", func(t *testing.T) {
		dir := t.TempDir()
		path := writeConfig(t, dir, "")
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LEVELLOG_LOG_LEVEL=error\n"), 0o644))
		t.Setenv("LEVELLOG_LOG_LEVEL", "warn")

		cfg, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, level.Warn, cfg.LogLevel)
	})
}

func TestConfig_ResolveTargetDir(t *testing.T) {
	t.Chdir(t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)

	cfg := Default()
	require.NoError(t, cfg.ResolveTargetDir())
	require.Equal(t, filepath.Join(wd, "levellog.log"), cfg.LogFilePath)

	cfg.LogFilePath = "/var/log/app.log"
	require.NoError(t, cfg.ResolveTargetDir())
	require.Equal(t, "/var/log/app.log", cfg.LogFilePath)
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Config)
		err    error
	}{
		{"empty path", func(c *Config) { c.LogFilePath = "" }, ErrInvalidConfig},
		{"negative max bytes", func(c *Config) { c.LogFileMaxBytes = -1 }, ErrInvalidConfig},
		{"negative max age", func(c *Config) { c.LogFileMaxAge = -time.Second }, ErrInvalidConfig},
		{"zero chunk", func(c *Config) { c.SpliceChunkBytes = 0 }, ErrInvalidConfig},
		{"empty template", func(c *Config) { c.LogEntryFormat = "" }, ErrInvalidConfig},
		{"invalid level", func(c *Config) { c.LogLevel = level.Level(9) }, ErrInvalidConfig},
		{"invalid durability", func(c *Config) { c.Durability = storage.Durability(7) }, ErrInvalidConfig},
		{"unknown encoding", func(c *Config) { c.LogFileEncoding = "klingon" }, ErrUnknownEncoding},
		{"multi-line ordered", func(c *Config) { c.LogEntryFormat = "$(Message)$(NewLine)" }, ErrMultiLineTemplate},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)
			require.ErrorIs(t, cfg.Validate(), tc.err)
		})
	}

	t.Run("multi-line unordered", func(t *testing.T) {
		cfg := Default()
		cfg.OrderEntriesByLogLevel = false
		cfg.LogEntryFormat = "$(Message)$(NewLine)$(AdditionalInfo)"
		require.NoError(t, cfg.Validate())
	})
}

func TestConfig_Encoding(t *testing.T) {
	cfg := Default()
	enc, err := cfg.Encoding()
	require.NoError(t, err)
	require.Equal(t, unicode.UTF8, enc)

	cfg.LogFileEncoding = "windows-1252"
	enc, err = cfg.Encoding()
	require.NoError(t, err)
	require.Equal(t, charmap.Windows1252, enc)
}

func TestConfig_ToOptions(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = level.Info
	cfg.LogFileMaxBytes = 10
	cfg.LogFileMaxAge = time.Hour
	cfg.Durability = storage.DurabilityFull

	opts, err := cfg.ToOptions(nil)
	require.NoError(t, err)
	require.True(t, opts.OrderByLevel)
	require.Equal(t, level.Info, opts.MinLevel)
	require.Equal(t, unicode.UTF8, opts.Encoding)
	require.Equal(t, storage.DurabilityFull, opts.Durability)
	require.Equal(t, storage.DefaultChunkSize, opts.ChunkSize)
	require.Equal(t, int64(10), opts.MaxBytes)
	require.Equal(t, time.Hour, opts.MaxAge)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log_level: debug\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg *Config) { changes <- cfg })
	}()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	writeConfig(t, dir, "log_level: verbose\n")
	writeConfig(t, dir, "log_level: error\n")

	select {
	case cfg := <-changes:
		require.Equal(t, level.Error, cfg.LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not delivered")
	}

	// unrelated files in the directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o644))
	select {
	case cfg := <-changes:
		t.Fatalf("unexpected reload: %+v", cfg)
	case <-time.After(3 * WatchDebounce):
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
