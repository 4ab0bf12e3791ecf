package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultMaxCommitAttempts, cfg.Meta.MaxCommitAttempts)
	assert.Equal(t, filepath.Join(cfg.DataDir, "meta.db"), cfg.Store.Path)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }},
		{"sharded without shards", func(c *Config) { c.Store.Driver = DriverSQLiteSharded; c.Store.Shards = 0 }},
		{"zero attempts", func(c *Config) { c.Meta.MaxCommitAttempts = 0 }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
		{"gc without interval", func(c *Config) { c.GC.Enabled = true; c.GC.Interval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile_Formats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"c.yaml": "store:\n  driver: memory\nmeta:\n  max_commit_attempts: 9\ngc:\n  interval: 90s\n",
		"c.json": `{"store":{"driver":"memory"},"meta":{"max_commit_attempts":9},"gc":{"interval":90000000000}}`,
		"c.toml": "[store]\ndriver = \"memory\"\n\n[meta]\nmax_commit_attempts = 9\n\n[gc]\ninterval = \"90s\"\n",
	}
	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(body), 0644))

			cfg, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, DriverMemory, cfg.Store.Driver)
			assert.Equal(t, 9, cfg.Meta.MaxCommitAttempts)
			assert.Equal(t, 90*time.Second, cfg.GC.Interval)
			// untouched sections keep their defaults
			assert.Equal(t, ":8080", cfg.HTTP.Addr)
		})
	}
}

func TestLoadFromFile_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.ini")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0644))
	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LAKEMETA_STORE_DRIVER", "postgres")
	t.Setenv("LAKEMETA_STORE_DSN", "postgres://localhost/meta")
	t.Setenv("LAKEMETA_META_MAX_COMMIT_ATTEMPTS", "3")
	t.Setenv("LAKEMETA_GC_MIN_AGE", "1h")
	t.Setenv("LAKEMETA_GRPC_ENABLED", "false")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/meta", cfg.Store.DSN)
	assert.Equal(t, 3, cfg.Meta.MaxCommitAttempts)
	assert.Equal(t, time.Hour, cfg.GC.MinAge)
	assert.False(t, cfg.GRPC.Enabled)
	require.NoError(t, cfg.Validate())
}
