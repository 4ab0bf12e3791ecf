package meta

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lakemeta/lakemeta/internal/store"
	"github.com/lakemeta/lakemeta/internal/store/memstore"
	"github.com/lakemeta/lakemeta/pkg/types"
)

const (
	testTable = "tbl-1"
	testPath  = "s3://lake/tbl-1"
)

// fileID returns a stable commit id for a short file label.
func fileID(label string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(label))
}

func snap(labels ...string) []uuid.UUID {
	out := make([]uuid.UUID, len(labels))
	for i, l := range labels {
		out[i] = fileID(l)
	}
	return out
}

// racingStore runs a hook before selected AtomicInsert calls so tests can
// land a competing write between a commit's read and its insert. Hooks write
// through the wrapped store and do not count as calls.
type racingStore struct {
	store.Store
	parts *racingPartitions
}

func (s *racingStore) Partitions() store.PartitionStore { return s.parts }

type racingPartitions struct {
	store.PartitionStore
	mu    sync.Mutex
	calls int
	hooks map[int]func()
}

func (p *racingPartitions) AtomicInsert(ctx context.Context, rows []types.PartitionInfo) (bool, error) {
	p.mu.Lock()
	p.calls++
	hook := p.hooks[p.calls]
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return p.PartitionStore.AtomicInsert(ctx, rows)
}

func (p *racingPartitions) insertCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newRacingStore() (*racingStore, *memstore.Store) {
	base := memstore.New()
	return &racingStore{
		Store: base,
		parts: &racingPartitions{PartitionStore: base.Partitions(), hooks: map[int]func(){}},
	}, base
}

// newTestManager returns a manager over a racing store with testTable
// registered.
func newTestManager(t *testing.T, opts ...Option) (*Manager, *racingStore, *memstore.Store) {
	t.Helper()
	rs, base := newRacingStore()
	m := New(rs, opts...)
	require.NoError(t, m.CreateTable(context.Background(), types.TableInfo{
		TableID:   testTable,
		TablePath: testPath,
	}))
	return m, rs, base
}

// seed writes partition versions 0..n-1 directly to the store.
func seed(t *testing.T, s store.Store, desc string, versions ...types.PartitionInfo) {
	t.Helper()
	for i, v := range versions {
		v.TableID = testTable
		v.PartitionDesc = desc
		v.Version = i
		ok, err := s.Partitions().AtomicInsert(context.Background(), []types.PartitionInfo{v})
		require.NoError(t, err)
		require.True(t, ok)
	}
}

// land returns a hook that writes one competing row.
func land(t *testing.T, s store.Store, desc string, version int, op types.CommitOp, snapshot []uuid.UUID) func() {
	return func() {
		ok, err := s.Partitions().AtomicInsert(context.Background(), []types.PartitionInfo{{
			TableID:       testTable,
			PartitionDesc: desc,
			Version:       version,
			CommitOp:      op,
			Snapshot:      snapshot,
		}})
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func proposal(parts ...types.PartitionInfo) types.MetaInfo {
	return types.MetaInfo{
		Table:      types.TableInfo{TableID: testTable, TablePath: testPath},
		Partitions: parts,
	}
}

func part(desc string, snapshot []uuid.UUID) types.PartitionInfo {
	return types.PartitionInfo{PartitionDesc: desc, Snapshot: snapshot}
}

func latest(t *testing.T, m *Manager, desc string) *types.PartitionInfo {
	t.Helper()
	p, err := m.GetSinglePartitionInfo(context.Background(), testTable, desc)
	require.NoError(t, err)
	require.NotNil(t, p, "partition %s", desc)
	return p
}

func versionCount(t *testing.T, m *Manager, desc string) int {
	t.Helper()
	vs, err := m.GetPartitionVersions(context.Background(), testTable, desc)
	require.NoError(t, err)
	for i, v := range vs {
		require.Equal(t, i, v.Version, "versions must be gap-free")
	}
	return len(vs)
}
