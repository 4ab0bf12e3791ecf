package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Daemon sweeps on start, then every interval, and on demand through Trigger.
type Daemon struct {
	collector *Collector
	interval  time.Duration
	logger    *zap.Logger
	trigger   chan struct{}

	mu      sync.Mutex
	stop    context.CancelFunc
	stopped chan struct{}
	last    *Result
}

// NewDaemon creates a daemon. A non-positive interval means ten minutes.
func NewDaemon(collector *Collector, interval time.Duration) *Daemon {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Daemon{
		collector: collector,
		interval:  interval,
		logger:    collector.logger.With(zap.Duration("interval", interval)),
		trigger:   make(chan struct{}, 1),
	}
}

// Start launches the sweep loop, bound to ctx.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return fmt.Errorf("gc: daemon is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.stop = cancel
	d.stopped = make(chan struct{})
	go d.loop(ctx, d.stopped)
	d.logger.Info("gc daemon started")
	return nil
}

// Stop cancels the loop and waits for a running sweep to return.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	stop, stopped := d.stop, d.stopped
	d.stop, d.stopped = nil, nil
	d.mu.Unlock()

	if stop == nil {
		return nil
	}
	stop()
	<-stopped
	d.logger.Info("gc daemon stopped")
	return nil
}

// Trigger asks the loop for an extra sweep. Requests coalesce.
func (d *Daemon) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// LastResult returns the outcome of the most recent completed sweep.
func (d *Daemon) LastResult() *Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func (d *Daemon) loop(ctx context.Context, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		d.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.trigger:
		}
	}
}

// RunOnce performs a single sweep in the caller's goroutine.
func (d *Daemon) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := d.collector.Collect(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error("sweep failed", zap.Error(err))
		}
		return
	}
	d.mu.Lock()
	d.last = res
	d.mu.Unlock()
}
