// Package config loads benchmark configuration from YAML or JSON files
// and from KVBENCH_-prefixed environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kvbench/kvbench/internal/errors"
	"github.com/kvbench/kvbench/internal/serializer"
	"github.com/kvbench/kvbench/internal/writer"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "KVBENCH_"

// Config is the root configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend" json:"backend"`
	Bench   BenchConfig   `yaml:"bench" json:"bench"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// BackendConfig selects and configures the KV backend.
type BackendConfig struct {
	// Type is one of memory, sqlite, s3.
	Type   string       `yaml:"type" json:"type"`
	SQLite SQLiteConfig `yaml:"sqlite" json:"sqlite"`
	S3     S3Config     `yaml:"s3" json:"s3"`
}

// SQLiteConfig configures the sqlite backend.
type SQLiteConfig struct {
	Path string `yaml:"path" json:"path"`
}

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket string `yaml:"bucket" json:"bucket"`
	Region string `yaml:"region" json:"region"`
	// Endpoint overrides the AWS endpoint, for MinIO or LocalStack.
	Endpoint     string `yaml:"endpoint" json:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style" json:"use_path_style"`
}

// BenchConfig holds the benchmark run parameters.
type BenchConfig struct {
	NumItems   int    `yaml:"num_items" json:"num_items"`
	Strategy   string `yaml:"strategy" json:"strategy"`
	Serializer string `yaml:"serializer" json:"serializer"`
}

// DefaultConfig returns a configuration that runs entirely in memory.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Type:   "memory",
			SQLite: SQLiteConfig{Path: "kvbench.db"},
			S3:     S3Config{Region: "us-east-1"},
		},
		Bench: BenchConfig{
			NumItems:   10,
			Strategy:   string(writer.Sequential),
			Serializer: string(serializer.Raw),
		},
		LogLevel: "info",
	}
}

// LoadFromFile reads configuration from a YAML or JSON file, selected by
// extension, on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewInternalError(fmt.Sprintf("failed to read config file %s", path), err)
	}

	cfg := DefaultConfig()
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return nil, errors.NewValidationError(errors.CodeUnexpected,
			fmt.Sprintf("unsupported config extension %q", ext))
	}
	if err != nil {
		return nil, errors.NewInternalError(fmt.Sprintf("failed to parse config file %s", path), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies KVBENCH_-prefixed environment overrides on top of
// the given configuration (or the defaults when nil).
func LoadFromEnv(cfg *Config) (*Config, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if v := os.Getenv(EnvPrefix + "BACKEND"); v != "" {
		cfg.Backend.Type = v
	}
	if v := os.Getenv(EnvPrefix + "SQLITE_PATH"); v != "" {
		cfg.Backend.SQLite.Path = v
	}
	if v := os.Getenv(EnvPrefix + "S3_BUCKET"); v != "" {
		cfg.Backend.S3.Bucket = v
	}
	if v := os.Getenv(EnvPrefix + "S3_REGION"); v != "" {
		cfg.Backend.S3.Region = v
	}
	if v := os.Getenv(EnvPrefix + "S3_ENDPOINT"); v != "" {
		cfg.Backend.S3.Endpoint = v
	}
	if v := os.Getenv(EnvPrefix + "NUM_ITEMS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.NewValidationError(errors.CodeUnexpected,
				fmt.Sprintf("invalid %sNUM_ITEMS %q", EnvPrefix, v))
		}
		cfg.Bench.NumItems = n
	}
	if v := os.Getenv(EnvPrefix + "STRATEGY"); v != "" {
		cfg.Bench.Strategy = v
	}
	if v := os.Getenv(EnvPrefix + "SERIALIZER"); v != "" {
		cfg.Bench.Serializer = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Backend.Type {
	case "memory":
	case "sqlite":
		if c.Backend.SQLite.Path == "" {
			return errors.NewValidationError(errors.CodeUnexpected, "sqlite backend requires a path")
		}
	case "s3":
		if c.Backend.S3.Bucket == "" {
			return errors.NewValidationError(errors.CodeUnexpected, "s3 backend requires a bucket")
		}
	default:
		return errors.NewValidationError(errors.CodeUnexpected,
			fmt.Sprintf("unknown backend type %q", c.Backend.Type))
	}

	if c.Bench.NumItems <= 0 {
		return errors.NewValidationError(errors.CodeUnexpected,
			fmt.Sprintf("num_items must be positive, got %d", c.Bench.NumItems))
	}
	if _, err := writer.ParseStrategy(c.Bench.Strategy); err != nil {
		return err
	}
	if _, err := serializer.ParseType(c.Bench.Serializer); err != nil {
		return err
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.NewValidationError(errors.CodeUnexpected,
			fmt.Sprintf("unknown log level %q", c.LogLevel))
	}
	return nil
}
