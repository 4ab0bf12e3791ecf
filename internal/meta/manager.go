// Package meta implements the table metadata engine: table registration,
// versioned partition commits with optimistic conflict resolution, logical
// delete and rollback.
//
// Every mutation of partition state goes through PartitionStore.AtomicInsert,
// which acts as a compare-and-swap on (table, partition, version). The
// Manager holds no locks and no cached state between calls, so any number of
// Managers may share one store.
package meta

import (
	"time"

	"go.uber.org/zap"

	"github.com/lakemeta/lakemeta/internal/config"
	"github.com/lakemeta/lakemeta/internal/logging"
	"github.com/lakemeta/lakemeta/internal/observability"
	"github.com/lakemeta/lakemeta/internal/store"
)

// Manager is the entry point for every metadata operation.
type Manager struct {
	store       store.Store
	maxAttempts int
	logger      *zap.Logger
	conflicts   *observability.ConflictStats
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxCommitAttempts bounds the number of resolver attempts per commit.
// Values below 1 are ignored.
func WithMaxCommitAttempts(n int) Option {
	return func(m *Manager) {
		if n >= 1 {
			m.maxAttempts = n
		}
	}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = logging.OrNop(l) }
}

// WithConflictStats records every lost optimistic insert in cs.
func WithConflictStats(cs *observability.ConflictStats) Option {
	return func(m *Manager) { m.conflicts = cs }
}

// WithClock overrides the time source used to stamp data commits.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager over s.
func New(s store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:       s,
		maxAttempts: config.DefaultMaxCommitAttempts,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "meta"))
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() store.Store { return m.store }

// MaxCommitAttempts returns the resolver attempt budget.
func (m *Manager) MaxCommitAttempts() int { return m.maxAttempts }

func (m *Manager) recordConflict(tableID, desc, op string) {
	if m.conflicts != nil {
		m.conflicts.RecordConflict(tableID, desc, op)
	}
}
