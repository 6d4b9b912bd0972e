// Package config loads logger settings from a YAML file, a .env file and
// LEVELLOG_* environment variables, in increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"gopkg.in/yaml.v3"

	"github.com/mvaleed/levellog/internal/format"
	"github.com/mvaleed/levellog/internal/level"
	"github.com/mvaleed/levellog/internal/storage"
)

// TargetDir in LogFilePath is replaced with the working directory,
// separator included: "$(TargetDir)app.log".
const TargetDir = "$(TargetDir)"

const DefaultLogFilePath = TargetDir + "levellog.log"

var (
	ErrInvalidConfig     = errors.New("invalid config")
	ErrUnknownEncoding   = errors.New("unknown log file encoding")
	ErrMultiLineTemplate = errors.New("entry template spans several lines, which ordered mode can not store")
)

type Config struct {
	LogFilePath            string             `yaml:"log_file_path" validate:"required"`
	LogFileMaxBytes        int64              `yaml:"log_file_max_bytes" validate:"gte=0"`
	LogFileMaxAge          time.Duration      `yaml:"log_file_max_age" validate:"gte=0"`
	OrderEntriesByLogLevel bool               `yaml:"order_entries_by_log_level"`
	LogEntryFormat         string             `yaml:"log_entry_format" validate:"required"`
	TimestampFormat        string             `yaml:"timestamp_format" validate:"required"`
	LogLevel               level.Level        `yaml:"log_level" validate:"loglevel"`
	LogFileEncoding        string             `yaml:"log_file_encoding" validate:"required"`
	Durability             storage.Durability `yaml:"durability" validate:"durability"`
	SpliceChunkBytes       int                `yaml:"splice_chunk_bytes" validate:"gt=0"`
}

// Default returns ordered, UTF-8 settings with every level enabled.
func Default() *Config {
	return &Config{
		LogFilePath:            DefaultLogFilePath,
		OrderEntriesByLogLevel: true,
		LogEntryFormat:         format.DefaultTemplate,
		TimestampFormat:        format.DefaultTimestampLayout,
		LogLevel:               level.Debug,
		LogFileEncoding:        "UTF-8",
		Durability:             storage.DurabilityMedium,
		SpliceChunkBytes:       storage.DefaultChunkSize,
	}
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		return level.Level(fl.Field().Uint()).Valid()
	})
	_ = v.RegisterValidation("durability", func(fl validator.FieldLevel) bool {
		_, err := storage.Durability(fl.Field().Int()).MarshalText()
		return err == nil
	})
	return v
}()

// Load builds a Config from defaults, the YAML file at path, a .env file in
// the same directory and the process environment. An empty path skips the
// YAML file and looks for .env in the working directory.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	dotenv, err := readDotEnv(filepath.Join(filepath.Dir(path), ".env"))
	if err != nil {
		return nil, err
	}
	envSource{dotenv: dotenv}.apply(cfg)

	if err := cfg.ResolveTargetDir(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readDotEnv(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return values, nil
}

// ResolveTargetDir replaces $(TargetDir) in LogFilePath with the working
// directory. Load calls it; configs built in code must call it before the
// path is used.
func (c *Config) ResolveTargetDir() error {
	path, err := expandTargetDir(c.LogFilePath)
	if err != nil {
		return err
	}
	c.LogFilePath = path
	return nil
}

func expandTargetDir(path string) (string, error) {
	if !strings.Contains(path, TargetDir) {
		return path, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", TargetDir, err)
	}
	return strings.ReplaceAll(path, TargetDir, wd+string(filepath.Separator)), nil
}

// Validate checks field constraints, resolves the encoding name and rejects
// multi-line templates in ordered mode.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.Encoding(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.OrderEntriesByLogLevel && format.New(c.LogEntryFormat, c.TimestampFormat).MultiLine() {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrMultiLineTemplate)
	}
	return nil
}

// Encoding resolves LogFileEncoding by its IANA name or alias.
func (c *Config) Encoding() (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(c.LogFileEncoding)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrUnknownEncoding, c.LogFileEncoding, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("%w: %q has no implementation", ErrUnknownEncoding, c.LogFileEncoding)
	}
	return enc, nil
}

// ToOptions maps the file settings onto storage options. logger may be nil.
func (c *Config) ToOptions(logger *slog.Logger) (storage.Options, error) {
	enc, err := c.Encoding()
	if err != nil {
		return storage.Options{}, err
	}
	return storage.Options{
		OrderByLevel: c.OrderEntriesByLogLevel,
		MinLevel:     c.LogLevel,
		Encoding:     enc,
		Durability:   c.Durability,
		ChunkSize:    c.SpliceChunkBytes,
		MaxBytes:     c.LogFileMaxBytes,
		MaxAge:       c.LogFileMaxAge,
		Logger:       logger,
	}, nil
}
