// Package app provides the application lifecycle for the lakemeta service.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	grpcapi "github.com/lakemeta/lakemeta/internal/api/grpc"
	httpapi "github.com/lakemeta/lakemeta/internal/api/http"
	"github.com/lakemeta/lakemeta/internal/config"
	"github.com/lakemeta/lakemeta/internal/gc"
	"github.com/lakemeta/lakemeta/internal/logging"
	"github.com/lakemeta/lakemeta/internal/meta"
	"github.com/lakemeta/lakemeta/internal/observability"
	"github.com/lakemeta/lakemeta/internal/server"
	"github.com/lakemeta/lakemeta/internal/storage"
	"github.com/lakemeta/lakemeta/internal/store"
	"github.com/lakemeta/lakemeta/internal/store/memstore"
	"github.com/lakemeta/lakemeta/internal/store/pgstore"
	"github.com/lakemeta/lakemeta/internal/store/sqlitestore"
)

// conflictWindow is how far back /v1/stats/conflicts looks.
const conflictWindow = 15 * time.Minute

// pinger is implemented by stores backed by a real database.
type pinger interface {
	Ping(ctx context.Context) error
}

// App manages the lakemeta service lifecycle.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	// Shared resources
	store     store.Store
	manager   *meta.Manager
	conflicts *observability.ConflictStats
	storage   storage.ObjectStorage
	shutdown  *server.ShutdownManager

	// Service components
	httpServer *http.Server
	httpAddr   net.Addr
	grpcAddr   net.Addr
	gcDaemon   *gc.Daemon

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Manager returns the metadata manager. Nil until Start or Open succeeds.
func (a *App) Manager() *meta.Manager { return a.manager }

// HTTPAddr returns the bound HTTP address once Start has returned.
func (a *App) HTTPAddr() net.Addr { return a.httpAddr }

// GRPCAddr returns the bound gRPC address, or nil when gRPC is disabled.
func (a *App) GRPCAddr() net.Addr { return a.grpcAddr }

// Start opens the store and starts the HTTP server, the gRPC server when
// enabled, and the GC daemon when enabled.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.Open(ctx); err != nil {
		a.cleanup()
		return err
	}

	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		ShutdownTimeout: server.DefaultShutdownConfig().ShutdownTimeout,
		DrainTimeout:    server.DefaultShutdownConfig().DrainTimeout,
		Logger:          a.logger,
	})

	if err := a.startHTTP(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start http server: %w", err)
	}

	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start grpc server: %w", err)
		}
	}

	if a.cfg.GC.Enabled {
		if err := a.startGC(ctx); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start gc daemon: %w", err)
		}
	}

	a.logger.Info("lakemeta started",
		zap.String("store", string(a.cfg.Store.Driver)),
		zap.Bool("grpc", a.cfg.GRPC.Enabled),
		zap.Bool("gc", a.cfg.GC.Enabled))
	return nil
}

// Open initializes the store and the metadata manager without starting any
// server. Used by one-shot commands.
func (a *App) Open(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	st, err := openStore(ctx, a.cfg.Store, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	a.store = st
	a.logger.Info("metadata store opened",
		zap.String("driver", string(a.cfg.Store.Driver)),
		zap.String("path", a.cfg.Store.Path))

	a.conflicts = observability.NewConflictStats(conflictWindow)
	a.manager = meta.New(st,
		meta.WithLogger(a.logger),
		meta.WithMaxCommitAttempts(a.cfg.Meta.MaxCommitAttempts),
		meta.WithConflictStats(a.conflicts),
	)
	return nil
}

// openStore selects the store implementation by driver.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memstore.New(), nil
	case config.DriverSQLite:
		return sqlitestore.Open(cfg.Path)
	case config.DriverSQLiteSharded:
		return sqlitestore.OpenSharded(cfg.Path, cfg.Shards)
	case config.DriverPostgres:
		return pgstore.Open(ctx, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

// health reports store reachability for /health.
func (a *App) health(ctx context.Context) error {
	if p, ok := a.store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (a *App) startHTTP() error {
	handler := httpapi.NewHandler(httpapi.Options{
		Manager:   a.manager,
		Conflicts: a.conflicts,
		Shutdown:  a.shutdown,
		Health:    a.health,
		Logger:    a.logger,
	})

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	lis, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	a.httpAddr = lis.Addr()

	srv := server.NewGracefulHTTPServer(a.httpServer, a.shutdown)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("http server listening", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil {
			a.logger.Error("http server error", zap.Error(err))
		}
	}()
	return nil
}

func (a *App) startGRPC() error {
	lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.GRPC.Addr, err)
	}
	a.grpcAddr = lis.Addr()

	srv := server.NewGracefulGRPCServer(grpcapi.NewServer(a.manager, a.logger), a.shutdown)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil {
			a.logger.Error("grpc server error", zap.Error(err))
		}
	}()
	return nil
}

func (a *App) startGC(ctx context.Context) error {
	collector, err := a.Collector(ctx)
	if err != nil {
		return err
	}
	a.gcDaemon = gc.NewDaemon(collector, a.cfg.GC.Interval)
	return a.gcDaemon.Start(ctx)
}

// Collector builds a garbage collector over the configured object storage.
// Open must have succeeded.
func (a *App) Collector(ctx context.Context) (*gc.Collector, error) {
	if a.store == nil {
		return nil, fmt.Errorf("metadata store is not open")
	}
	if a.storage == nil {
		objs, err := storage.Open(ctx, a.cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.storage = objs
		a.logger.Info("object storage initialized",
			zap.String("type", a.cfg.Storage.Type),
			zap.String("bucket", a.cfg.Storage.S3.Bucket))
	}
	return gc.NewCollector(a.store, a.storage, a.cfg.GC.MinAge, a.logger), nil
}

// Stop gracefully stops all services and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return a.closeStore()
	}
	a.running = false
	a.mu.Unlock()

	a.logger.Info("initiating graceful shutdown")

	if a.cancel != nil {
		a.cancel()
	}

	if a.gcDaemon != nil {
		if err := a.gcDaemon.Stop(); err != nil {
			a.logger.Warn("gc daemon stop error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var shutdownErr error
	if a.shutdown != nil {
		shutdownErr = a.shutdown.Shutdown(shutdownCtx, "stop requested")
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("timed out waiting for servers to stop")
	}

	if err := a.closeStore(); err != nil && shutdownErr == nil {
		shutdownErr = err
	}

	a.logger.Info("lakemeta stopped")
	_ = a.logger.Sync()
	return shutdownErr
}

// cleanup releases resources after a failed Start.
func (a *App) cleanup() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.gcDaemon != nil {
		_ = a.gcDaemon.Stop()
	}
	if a.shutdown != nil {
		_ = a.shutdown.Shutdown(context.Background(), "start failed")
	}
	a.wg.Wait()
	_ = a.closeStore()

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	if err != nil {
		return fmt.Errorf("failed to close metadata store: %w", err)
	}
	return nil
}
