package gc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakemeta/lakemeta/internal/meta"
	"github.com/lakemeta/lakemeta/internal/storage"
	"github.com/lakemeta/lakemeta/internal/store/memstore"
	"github.com/lakemeta/lakemeta/pkg/types"
)

const table = "t1"

func commitID(label string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(label))
}

type fixture struct {
	mgr   *meta.Manager
	store *memstore.Store
	objs  *storage.LocalStorage
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	objs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr := meta.New(st)
	require.NoError(t, mgr.CreateTable(context.Background(), types.TableInfo{TableID: table, TablePath: "s3://lake/t1"}))
	return &fixture{mgr: mgr, store: st, objs: objs, now: now}
}

// record writes a data commit with one data file, aged by age.
func (f *fixture) record(t *testing.T, desc, label string, age time.Duration) string {
	t.Helper()
	key := filepath.ToSlash(filepath.Join(table, desc, label+".parquet"))
	full := filepath.Join(f.objs.BasePath(), key)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(label), 0644))

	ok, err := f.mgr.BatchCommitDataCommitInfo(context.Background(), []types.DataCommitInfo{{
		TableID:       table,
		PartitionDesc: desc,
		CommitID:      commitID(label),
		CommitOp:      types.AppendCommit,
		FileOps:       []types.DataFileOp{{Path: key, FileOp: types.FileOpAdd, Size: int64(len(label))}},
		Timestamp:     f.now.Add(-age).UnixMilli(),
	}})
	require.NoError(t, err)
	require.True(t, ok)
	return key
}

func (f *fixture) commit(t *testing.T, desc string, op types.CommitOp, labels ...string) {
	t.Helper()
	ids := make([]uuid.UUID, len(labels))
	for i, l := range labels {
		ids[i] = commitID(l)
	}
	ok, err := f.mgr.CommitData(context.Background(), types.MetaInfo{
		Table:      types.TableInfo{TableID: table},
		Partitions: []types.PartitionInfo{{PartitionDesc: desc, Snapshot: ids}},
	}, false, op)
	require.NoError(t, err)
	require.True(t, ok)
}

func (f *fixture) collector() *Collector {
	c := NewCollector(f.store, f.objs, time.Hour, nil)
	c.now = func() time.Time { return f.now }
	return c
}

func TestCollect_RemovesOnlyOldOrphans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	refKey := f.record(t, "p1", "a", 48*time.Hour)
	f.commit(t, "p1", types.AppendCommit, "a")
	orphanKey := f.record(t, "p1", "orphan", 48*time.Hour)
	youngKey := f.record(t, "p1", "young", time.Minute)

	res, err := f.collector().Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tables)
	assert.Equal(t, 1, res.Partitions)
	assert.Equal(t, []uuid.UUID{commitID("orphan")}, res.DeletedCommits)
	assert.Equal(t, []string{orphanKey}, res.DeletedFiles)
	assert.Empty(t, res.Errors)

	for key, want := range map[string]bool{refKey: true, orphanKey: false, youngKey: true} {
		exists, err := f.objs.Exists(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, exists, key)
	}
	left, err := f.store.DataCommits().ListByPartition(ctx, table, "p1")
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestCollect_KeepsCommitsOfOlderVersions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.record(t, "p1", "a", 48*time.Hour)
	f.record(t, "p1", "b", 48*time.Hour)
	f.record(t, "p1", "c", 48*time.Hour)
	f.commit(t, "p1", types.AppendCommit, "a")
	f.commit(t, "p1", types.AppendCommit, "b")
	// Compaction replaces a and b with c; both stay reachable through history.
	f.commit(t, "p1", types.CompactionCommit, "c")

	res, err := f.collector().Collect(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.DeletedCommits)

	ok, err := f.mgr.RollbackPartition(ctx, table, "p1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	p, err := f.mgr.GetSinglePartitionInfo(ctx, table, "p1")
	require.NoError(t, err)
	files, err := f.mgr.GetTableSinglePartitionDataInfo(ctx, *p)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestCollect_ForeignFileKeepsCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ok, err := f.mgr.BatchCommitDataCommitInfo(ctx, []types.DataCommitInfo{{
		TableID:       table,
		PartitionDesc: "p1",
		CommitID:      commitID("foreign"),
		CommitOp:      types.AppendCommit,
		FileOps:       []types.DataFileOp{{Path: "/somewhere/else/x.parquet", FileOp: types.FileOpAdd}},
		Timestamp:     f.now.Add(-48 * time.Hour).UnixMilli(),
	}})
	require.NoError(t, err)
	require.True(t, ok)
	f.record(t, "p1", "a", 48*time.Hour)
	f.commit(t, "p1", types.AppendCommit, "a")

	res, err := f.collector().Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, res.Errors, 1)
	assert.Empty(t, res.DeletedCommits)
}

func TestDaemon_StartStop(t *testing.T) {
	f := newFixture(t)
	f.record(t, "p1", "a", 48*time.Hour)
	f.record(t, "p1", "orphan", 48*time.Hour)
	f.commit(t, "p1", types.AppendCommit, "a")

	d := NewDaemon(f.collector(), time.Hour)
	require.NoError(t, d.Start(context.Background()))
	require.Error(t, d.Start(context.Background()))

	require.Eventually(t, func() bool {
		left, err := f.store.DataCommits().ListByPartition(context.Background(), table, "p1")
		return err == nil && len(left) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop())
}

func TestDaemon_TriggerSweepsAgain(t *testing.T) {
	f := newFixture(t)
	f.record(t, "p1", "a", 48*time.Hour)
	f.commit(t, "p1", types.AppendCommit, "a")

	d := NewDaemon(f.collector(), time.Hour)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop() })

	require.Eventually(t, func() bool { return d.LastResult() != nil }, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, d.LastResult().DeletedCommits)

	f.record(t, "p1", "late-orphan", 48*time.Hour)
	d.Trigger()

	require.Eventually(t, func() bool {
		res := d.LastResult()
		return res != nil && len(res.DeletedCommits) == 1
	}, 5*time.Second, 10*time.Millisecond)
}
