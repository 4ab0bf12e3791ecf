// Package config provides unified configuration for the lakemeta service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// StoreDriver selects the metadata store implementation.
type StoreDriver string

const (
	DriverMemory        StoreDriver = "memory"
	DriverSQLite        StoreDriver = "sqlite"
	DriverSQLiteSharded StoreDriver = "sqlite-sharded"
	DriverPostgres      StoreDriver = "postgres"
)

// DefaultMaxCommitAttempts bounds conflict resolution when nothing is configured.
const DefaultMaxCommitAttempts = 5

// Config holds the unified configuration for the lakemeta service.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log" toml:"log"`

	// Store configuration
	Store StoreConfig `json:"store" yaml:"store" toml:"store"`

	// Meta (commit protocol) configuration
	Meta MetaConfig `json:"meta" yaml:"meta" toml:"meta"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http" toml:"http"`

	// gRPC configuration
	GRPC GRPCConfig `json:"grpc" yaml:"grpc" toml:"grpc"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage" toml:"storage"`

	// Garbage collection configuration
	GC GCConfig `json:"gc" yaml:"gc" toml:"gc"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level" toml:"level"`

	// Format is console or json
	Format string `json:"format" yaml:"format" toml:"format"`

	// File, when set, receives logs through a rotating writer
	File string `json:"file" yaml:"file" toml:"file"`

	// MaxSizeMB is the size at which the log file is rotated
	MaxSizeMB int `json:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb"`

	// MaxBackups is the number of rotated files kept
	MaxBackups int `json:"max_backups" yaml:"max_backups" toml:"max_backups"`

	// MaxAgeDays is the age after which rotated files are removed
	MaxAgeDays int `json:"max_age_days" yaml:"max_age_days" toml:"max_age_days"`
}

// StoreConfig holds metadata store configuration.
type StoreConfig struct {
	// Driver is memory, sqlite, sqlite-sharded or postgres
	Driver StoreDriver `json:"driver" yaml:"driver" toml:"driver"`

	// Path is the SQLite database file (sqlite) or directory (sqlite-sharded)
	Path string `json:"path" yaml:"path" toml:"path"`

	// Shards is the number of shard databases for sqlite-sharded
	Shards int `json:"shards" yaml:"shards" toml:"shards"`

	// DSN is the PostgreSQL connection string
	DSN string `json:"dsn" yaml:"dsn" toml:"dsn"`
}

// MetaConfig holds commit protocol configuration.
type MetaConfig struct {
	// MaxCommitAttempts bounds the conflict resolution loop of one commit
	MaxCommitAttempts int `json:"max_commit_attempts" yaml:"max_commit_attempts" toml:"max_commit_attempts"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout" toml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" toml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout" toml:"idle_timeout"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// Enabled controls whether gRPC is enabled
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`
}

// StorageConfig holds object storage configuration used by garbage collection.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type" toml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path" toml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3" toml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket" toml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region" toml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
}

// GCConfig holds garbage collector configuration.
type GCConfig struct {
	// Enabled starts the GC daemon alongside the servers
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`

	// Interval is the time between sweeps
	Interval time.Duration `json:"interval" yaml:"interval" toml:"interval"`

	// MinAge is the grace period before an unreferenced commit is removed
	MinAge time.Duration `json:"min_age" yaml:"min_age" toml:"min_age"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/lakemeta",
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			Shards: 8,
		},
		Meta: MetaConfig{
			MaxCommitAttempts: DefaultMaxCommitAttempts,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Storage: StorageConfig{
			Type: "local",
		},
		GC: GCConfig{
			Enabled:  false,
			Interval: 10 * time.Minute,
			MinAge:   24 * time.Hour,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/lakemeta"
	}

	if c.Store.Path == "" {
		switch c.Store.Driver {
		case DriverSQLite:
			c.Store.Path = filepath.Join(c.DataDir, "meta.db")
		case DriverSQLiteSharded:
			c.Store.Path = filepath.Join(c.DataDir, "shards")
		}
	}

	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}

	if c.Meta.MaxCommitAttempts <= 0 {
		c.Meta.MaxCommitAttempts = DefaultMaxCommitAttempts
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Store.Driver {
	case DriverMemory, DriverSQLite:
	case DriverSQLiteSharded:
		if c.Store.Shards < 1 {
			return fmt.Errorf("store.shards must be at least 1, got %d", c.Store.Shards)
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required when store driver is postgres")
		}
	default:
		return fmt.Errorf("invalid store driver: %s (must be memory, sqlite, sqlite-sharded, or postgres)", c.Store.Driver)
	}

	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be console or json)", c.Log.Format)
	}

	if c.Meta.MaxCommitAttempts < 1 {
		return fmt.Errorf("meta.max_commit_attempts must be at least 1, got %d", c.Meta.MaxCommitAttempts)
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.GC.Enabled && c.GC.Interval <= 0 {
		return fmt.Errorf("gc.interval must be positive when gc is enabled")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML, JSON or TOML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the LAKEMETA_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("LAKEMETA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Log configuration
	if v := os.Getenv("LAKEMETA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LAKEMETA_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LAKEMETA_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}

	// Store configuration
	if v := os.Getenv("LAKEMETA_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = StoreDriver(v)
	}
	if v := os.Getenv("LAKEMETA_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("LAKEMETA_STORE_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.Shards = n
		}
	}
	if v := os.Getenv("LAKEMETA_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}

	// Meta configuration
	if v := os.Getenv("LAKEMETA_META_MAX_COMMIT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Meta.MaxCommitAttempts = n
		}
	}

	// HTTP / gRPC configuration
	if v := os.Getenv("LAKEMETA_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("LAKEMETA_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("LAKEMETA_GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = v == "true" || v == "1"
	}

	// Storage configuration
	if v := os.Getenv("LAKEMETA_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("LAKEMETA_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("LAKEMETA_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("LAKEMETA_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("LAKEMETA_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}

	// GC configuration
	if v := os.Getenv("LAKEMETA_GC_ENABLED"); v != "" {
		cfg.GC.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("LAKEMETA_GC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.GC.Interval = d
		}
	}
	if v := os.Getenv("LAKEMETA_GC_MIN_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.GC.MinAge = d
		}
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}
	switch c.Store.Driver {
	case DriverSQLite:
		dirs = append(dirs, filepath.Dir(c.Store.Path))
	case DriverSQLiteSharded:
		dirs = append(dirs, c.Store.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
