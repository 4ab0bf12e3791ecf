package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lakemeta/lakemeta/internal/config"
)

// configFlags are the persistent flags shared by every subcommand.
type configFlags struct {
	configFile string
	dataDir    string
	driver     string
	storePath  string
	dsn        string
	httpAddr   string
	grpcAddr   string
	logLevel   string
}

func (f *configFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configFile, "config", "", "Path to configuration file (YAML, JSON or TOML)")
	pf.StringVar(&f.dataDir, "data-dir", "", "Base directory for all data files")
	pf.StringVar(&f.driver, "store", "", "Metadata store driver: memory, sqlite, sqlite-sharded, postgres")
	pf.StringVar(&f.storePath, "store-path", "", "SQLite database file or shard directory")
	pf.StringVar(&f.dsn, "dsn", "", "PostgreSQL connection string")
	pf.StringVar(&f.httpAddr, "http-addr", "", "HTTP listen address")
	pf.StringVar(&f.grpcAddr, "grpc-addr", "", "gRPC listen address")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// load builds the configuration from file, environment, then flags.
func (f *configFlags) load() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(f.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	config.LoadFromEnv(cfg)

	if f.dataDir != "" {
		cfg.DataDir = f.dataDir
	}
	if f.driver != "" {
		cfg.Store.Driver = config.StoreDriver(f.driver)
	}
	if f.storePath != "" {
		cfg.Store.Path = f.storePath
	}
	if f.dsn != "" {
		cfg.Store.DSN = f.dsn
	}
	if f.httpAddr != "" {
		cfg.HTTP.Addr = f.httpAddr
	}
	if f.grpcAddr != "" {
		cfg.GRPC.Addr = f.grpcAddr
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	return cfg, nil
}
