// Package server holds the listener lifecycle shared by the HTTP and gRPC
// front ends: request draining and ordered teardown on shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/lakemeta/lakemeta/internal/logging"
)

// ShutdownConfig configures a ShutdownManager.
type ShutdownConfig struct {
	// ShutdownTimeout bounds the whole shutdown, draining included.
	ShutdownTimeout time.Duration

	// DrainTimeout bounds the wait for in-flight requests.
	DrainTimeout time.Duration

	// ServerStopTimeout bounds each graceful server stop before it is forced.
	ServerStopTimeout time.Duration

	// Logger receives shutdown progress. Optional.
	Logger *zap.Logger
}

// DefaultShutdownConfig returns the timeouts used by the service binary.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		ShutdownTimeout:   30 * time.Second,
		DrainTimeout:      15 * time.Second,
		ServerStopTimeout: 10 * time.Second,
	}
}

type namedCloser struct {
	name string
	c    io.Closer
}

// ShutdownManager gates new requests once shutdown starts, waits for the
// in-flight ones, then closes registered resources newest first.
type ShutdownManager struct {
	cfg    ShutdownConfig
	logger *zap.Logger

	mu       sync.Mutex
	closing  bool
	inFlight int64
	idle     chan struct{} // closed while inFlight == 0 during shutdown
	closers  []namedCloser

	started chan struct{}
	once    sync.Once
	err     error
}

// NewShutdownManager creates a manager. Zero timeouts take the defaults.
func NewShutdownManager(cfg ShutdownConfig) *ShutdownManager {
	def := DefaultShutdownConfig()
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if cfg.ServerStopTimeout <= 0 {
		cfg.ServerStopTimeout = def.ServerStopTimeout
	}
	return &ShutdownManager{
		cfg:     cfg,
		logger:  logging.OrNop(cfg.Logger).With(zap.String("component", "shutdown")),
		started: make(chan struct{}),
	}
}

// RegisterCloser adds a resource to close on shutdown.
func (sm *ShutdownManager) RegisterCloser(closer io.Closer) {
	sm.register(fmt.Sprintf("%T", closer), closer)
}

func (sm *ShutdownManager) register(name string, closer io.Closer) {
	sm.mu.Lock()
	sm.closers = append(sm.closers, namedCloser{name: name, c: closer})
	sm.mu.Unlock()
}

// TrackRequest admits a request. It returns false once shutdown has started.
func (sm *ShutdownManager) TrackRequest() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closing {
		return false
	}
	sm.inFlight++
	return true
}

// UntrackRequest releases a request admitted by TrackRequest.
func (sm *ShutdownManager) UntrackRequest() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.inFlight--
	if sm.inFlight == 0 && sm.idle != nil {
		close(sm.idle)
		sm.idle = nil
	}
}

// InFlightCount returns the number of admitted requests still running.
func (sm *ShutdownManager) InFlightCount() int64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.inFlight
}

// IsShuttingDown reports whether Shutdown has been called.
func (sm *ShutdownManager) IsShuttingDown() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.closing
}

// ShutdownCh is closed when shutdown begins.
func (sm *ShutdownManager) ShutdownCh() <-chan struct{} {
	return sm.started
}

// Shutdown runs once; later calls return the first call's result.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.once.Do(func() {
		sm.err = sm.shutdown(ctx, reason)
	})
	return sm.err
}

func (sm *ShutdownManager) shutdown(ctx context.Context, reason string) error {
	sm.mu.Lock()
	sm.closing = true
	idle := make(chan struct{})
	if sm.inFlight == 0 {
		close(idle)
	} else {
		sm.idle = idle
	}
	pending := sm.inFlight
	closers := append([]namedCloser(nil), sm.closers...)
	sm.mu.Unlock()
	close(sm.started)

	sm.logger.Info("shutdown started", zap.String("reason", reason), zap.Int64("in_flight", pending))

	ctx, cancel := context.WithTimeout(ctx, sm.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	drain := time.NewTimer(sm.cfg.DrainTimeout)
	defer drain.Stop()
	select {
	case <-idle:
	case <-drain.C:
		errs = append(errs, fmt.Errorf("drain failed: %d requests still in flight", sm.InFlightCount()))
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("drain failed: %w", ctx.Err()))
	}

	for i := len(closers) - 1; i >= 0; i-- {
		nc := closers[i]
		if err := nc.c.Close(); err != nil {
			sm.logger.Warn("close failed", zap.String("resource", nc.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", nc.name, err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		sm.logger.Warn("shutdown finished with errors", zap.Error(err))
	} else {
		sm.logger.Info("shutdown finished")
	}
	return err
}

// ShutdownMiddleware admits requests through sm and answers 503 once
// shutdown has started.
func ShutdownMiddleware(sm *ShutdownManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !sm.TrackRequest() {
				w.Header().Set("Connection", "close")
				http.Error(w, "service is shutting down", http.StatusServiceUnavailable)
				return
			}
			defer sm.UntrackRequest()
			next.ServeHTTP(w, r)
		})
	}
}

// GracefulHTTPServer ties an http.Server to a ShutdownManager.
type GracefulHTTPServer struct {
	server   *http.Server
	shutdown *ShutdownManager
}

// NewGracefulHTTPServer registers srv for shutdown.
func NewGracefulHTTPServer(srv *http.Server, sm *ShutdownManager) *GracefulHTTPServer {
	sm.register("http server", CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), sm.cfg.ServerStopTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}))
	return &GracefulHTTPServer{server: srv, shutdown: sm}
}

// Serve blocks until the server fails or is shut down. A clean shutdown
// returns nil.
func (gs *GracefulHTTPServer) Serve(lis net.Listener) error {
	if err := gs.server.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// GracefulGRPCServer ties a grpc.Server to a ShutdownManager.
type GracefulGRPCServer struct {
	server   *grpc.Server
	shutdown *ShutdownManager
}

// NewGracefulGRPCServer registers srv for shutdown. GracefulStop is forced
// into Stop after ServerStopTimeout.
func NewGracefulGRPCServer(srv *grpc.Server, sm *ShutdownManager) *GracefulGRPCServer {
	sm.register("grpc server", CloserFunc(func() error {
		stopped := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stopped)
		}()
		timer := time.NewTimer(sm.cfg.ServerStopTimeout)
		defer timer.Stop()
		select {
		case <-stopped:
		case <-timer.C:
			sm.logger.Warn("grpc graceful stop timed out, forcing")
			srv.Stop()
		}
		return nil
	}))
	return &GracefulGRPCServer{server: srv, shutdown: sm}
}

// Serve blocks until the server fails or is stopped. A clean stop returns nil.
func (gs *GracefulGRPCServer) Serve(lis net.Listener) error {
	if err := gs.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error { return f() }
