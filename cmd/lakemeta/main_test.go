package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakemeta/lakemeta/internal/config"
)

func TestVersionCommand(t *testing.T) {
	cmd := rootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "lakemeta version dev")
}

func TestConfigFlags_OverrideFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "lakemeta.yaml")
	require.NoError(t, os.WriteFile(file, []byte("store:\n  driver: sqlite-sharded\n  shards: 4\nhttp:\n  addr: \":7000\"\n"), 0o644))

	flags := &configFlags{configFile: file, httpAddr: "127.0.0.1:9999", dataDir: dir}
	cfg, err := flags.load()
	require.NoError(t, err)

	assert.Equal(t, config.DriverSQLiteSharded, cfg.Store.Driver)
	assert.Equal(t, 4, cfg.Store.Shards)
	assert.Equal(t, "127.0.0.1:9999", cfg.HTTP.Addr)
	assert.Equal(t, dir, cfg.DataDir)
}

func TestGCCommand_EmptyStore(t *testing.T) {
	cmd := rootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"gc", "--store", "memory", "--data-dir", t.TempDir(), "--log-level", "error"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "tables=0")
}
