// Package storetest holds the behavioural test suite every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lakeerrors "github.com/lakemeta/lakemeta/internal/errors"
	"github.com/lakemeta/lakemeta/internal/store"
	"github.com/lakemeta/lakemeta/pkg/types"
)

// Factory opens a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"PartitionLatestAndVersions", testPartitionLatestAndVersions},
		{"PartitionAtomicInsertAllOrNothing", testAtomicInsertAllOrNothing},
		{"PartitionAtomicInsertEmpty", testAtomicInsertEmpty},
		{"PartitionAtomicInsertSingleWinner", testAtomicInsertSingleWinner},
		{"PartitionRangeLookup", testRangeLookup},
		{"PartitionRangeLookupWide", testRangeLookupWide},
		{"PartitionAllLatest", testAllLatest},
		{"PartitionDelete", testPartitionDelete},
		{"DataCommitInsertAndLookup", testDataCommitInsertAndLookup},
		{"DataCommitDelete", testDataCommitDelete},
		{"DataCommitLookupWide", testDataCommitLookupWide},
		{"TableCreateAndLookup", testTableCreateAndLookup},
		{"TableCreateConflict", testTableCreateConflict},
		{"TableUpdates", testTableUpdates},
		{"TableShortName", testTableShortName},
		{"TableShortNameMovesPath", testTableShortNameMovesPath},
		{"TableDelete", testTableDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

func row(table, desc string, version int, op types.CommitOp, snapshot ...uuid.UUID) types.PartitionInfo {
	return types.PartitionInfo{
		TableID:       table,
		PartitionDesc: desc,
		Version:       version,
		CommitOp:      op,
		Snapshot:      types.CopySnapshot(snapshot),
		Expression:    "",
	}
}

func insert(t *testing.T, s store.Store, rows ...types.PartitionInfo) {
	t.Helper()
	ok, err := s.Partitions().AtomicInsert(context.Background(), rows)
	require.NoError(t, err)
	require.True(t, ok)
}

func testPartitionLatestAndVersions(t *testing.T, s store.Store) {
	ctx := context.Background()
	ps := s.Partitions()
	a, b := uuid.New(), uuid.New()

	got, err := ps.Latest(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Nil(t, got)

	insert(t, s, row("t1", "p1", 0, types.AppendCommit, a))
	insert(t, s, row("t1", "p1", 1, types.AppendCommit, a, b))

	latest, err := ps.Latest(ctx, "t1", "p1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 1, latest.Version)
	assert.Equal(t, []uuid.UUID{a, b}, latest.Snapshot)
	assert.Equal(t, types.AppendCommit, latest.CommitOp)

	v0, err := ps.AtVersion(ctx, "t1", "p1", 0)
	require.NoError(t, err)
	require.NotNil(t, v0)
	assert.Equal(t, []uuid.UUID{a}, v0.Snapshot)

	missing, err := ps.AtVersion(ctx, "t1", "p1", 7)
	require.NoError(t, err)
	assert.Nil(t, missing)

	versions, err := ps.Versions(ctx, "t1", "p1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 0, versions[0].Version)
	assert.Equal(t, 1, versions[1].Version)
}

func testAtomicInsertAllOrNothing(t *testing.T, s store.Store) {
	ctx := context.Background()
	ps := s.Partitions()
	insert(t, s, row("t1", "p2", 0, types.AppendCommit))

	// p1@0 is new but p2@0 collides: neither may be written
	ok, err := ps.AtomicInsert(ctx, []types.PartitionInfo{
		row("t1", "p1", 0, types.AppendCommit, uuid.New()),
		row("t1", "p2", 0, types.AppendCommit, uuid.New()),
	})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := ps.Latest(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Nil(t, got)

	p2, err := ps.Latest(ctx, "t1", "p2")
	require.NoError(t, err)
	require.NotNil(t, p2)
	assert.Empty(t, p2.Snapshot)
}

func testAtomicInsertEmpty(t *testing.T, s store.Store) {
	ok, err := s.Partitions().AtomicInsert(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testAtomicInsertSingleWinner(t *testing.T, s store.Store) {
	ctx := context.Background()
	const writers = 8

	var wins atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Partitions().AtomicInsert(ctx, []types.PartitionInfo{
				row("t1", "hot", 0, types.AppendCommit, uuid.New()),
			})
			if err != nil {
				errs <- err
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), wins.Load())
}

func testRangeLookup(t *testing.T, s store.Store) {
	ctx := context.Background()
	insert(t, s, row("t1", "a", 0, types.AppendCommit), row("t1", "b", 0, types.AppendCommit))
	insert(t, s, row("t1", "b", 1, types.CompactionCommit))
	insert(t, s, row("t2", "a", 0, types.AppendCommit))

	rows, err := s.Partitions().RangeLookup(ctx, "t1", []string{"a", "b", "zzz"})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byDesc := map[string]types.PartitionInfo{}
	for _, r := range rows {
		assert.Equal(t, "t1", r.TableID)
		byDesc[r.PartitionDesc] = r
	}
	assert.Equal(t, 0, byDesc["a"].Version)
	assert.Equal(t, 1, byDesc["b"].Version)
	assert.Equal(t, types.CompactionCommit, byDesc["b"].CommitOp)

	none, err := s.Partitions().RangeLookup(ctx, "t1", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// wideList is longer than any single IN list a SQL store may bind.
const wideList = 1200

func testRangeLookupWide(t *testing.T, s store.Store) {
	ctx := context.Background()
	rows := make([]types.PartitionInfo, 0, wideList)
	descs := make([]string, 0, wideList+2)
	for i := 0; i < wideList; i++ {
		desc := fmt.Sprintf("day=%05d", i)
		rows = append(rows, row("t1", desc, 0, types.AppendCommit))
		descs = append(descs, desc)
	}
	insert(t, s, rows...)
	insert(t, s, row("t1", "day=00700", 1, types.UpdateCommit))
	descs = append(descs, "day=00003", "missing")

	got, err := s.Partitions().RangeLookup(ctx, "t1", descs)
	require.NoError(t, err)
	require.Len(t, got, wideList)
	seen := make(map[string]int, len(got))
	for _, r := range got {
		seen[r.PartitionDesc] = r.Version
	}
	assert.Len(t, seen, wideList)
	assert.Equal(t, 1, seen["day=00700"])
	assert.Equal(t, 0, seen["day=01199"])
}

func testAllLatest(t *testing.T, s store.Store) {
	ctx := context.Background()
	insert(t, s, row("t1", "b", 0, types.AppendCommit), row("t1", "a", 0, types.AppendCommit))
	insert(t, s, row("t1", "a", 1, types.AppendCommit))
	insert(t, s, row("t2", "c", 0, types.AppendCommit))

	rows, err := s.Partitions().AllLatest(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].PartitionDesc)
	assert.Equal(t, 1, rows[0].Version)
	assert.Equal(t, "b", rows[1].PartitionDesc)
	assert.Equal(t, 0, rows[1].Version)
}

func testPartitionDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	ps := s.Partitions()
	insert(t, s, row("t1", "a", 0, types.AppendCommit), row("t1", "b", 0, types.AppendCommit))
	insert(t, s, row("t2", "a", 0, types.AppendCommit))

	require.NoError(t, ps.DeleteByPartition(ctx, "t1", "a"))
	rows, err := ps.AllLatest(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0].PartitionDesc)

	require.NoError(t, ps.DeleteByTable(ctx, "t1"))
	rows, err = ps.AllLatest(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	other, err := ps.Latest(ctx, "t2", "a")
	require.NoError(t, err)
	assert.NotNil(t, other)
}

func commit(table, desc string, paths ...string) types.DataCommitInfo {
	ops := make([]types.DataFileOp, len(paths))
	for i, p := range paths {
		ops[i] = types.DataFileOp{Path: p, FileOp: types.FileOpAdd, Size: int64(100 * (i + 1)), FileExistCols: "id,name"}
	}
	return types.DataCommitInfo{
		TableID:       table,
		PartitionDesc: desc,
		CommitID:      uuid.New(),
		FileOps:       ops,
		CommitOp:      types.AppendCommit,
		Timestamp:     1700000000000,
	}
}

func testDataCommitInsertAndLookup(t *testing.T, s store.Store) {
	ctx := context.Background()
	cs := s.DataCommits()
	c1 := commit("t1", "p", "s3://bucket/t1/a.parquet")
	c2 := commit("t1", "p", "s3://bucket/t1/b.parquet", "s3://bucket/t1/c.parquet")

	ok, err := cs.InsertMany(ctx, []types.DataCommitInfo{c1, c2})
	require.NoError(t, err)
	require.True(t, ok)

	// collision with c1 aborts the whole batch
	c3 := commit("t1", "p", "s3://bucket/t1/d.parquet")
	ok, err = cs.InsertMany(ctx, []types.DataCommitInfo{c3, c1})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := cs.ByCommitIDs(ctx, "t1", "p", []uuid.UUID{c2.CommitID, uuid.New(), c1.CommitID, c3.CommitID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, c2.CommitID, got[0].CommitID)
	assert.Equal(t, c1.CommitID, got[1].CommitID)
	assert.Equal(t, c2.FileOps, got[0].FileOps)
	assert.Equal(t, int64(1700000000000), got[0].Timestamp)

	all, err := cs.ListByPartition(ctx, "t1", "p")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	empty, err := cs.ByCommitIDs(ctx, "t1", "p", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testDataCommitLookupWide(t *testing.T, s store.Store) {
	ctx := context.Background()
	cs := s.DataCommits()
	batch := make([]types.DataCommitInfo, 0, wideList)
	ids := make([]uuid.UUID, 0, wideList)
	for i := 0; i < wideList; i++ {
		c := commit("t1", "p", fmt.Sprintf("s3://bucket/t1/%d.parquet", i))
		batch = append(batch, c)
		ids = append(ids, c.CommitID)
	}
	ok, err := cs.InsertMany(ctx, batch)
	require.NoError(t, err)
	require.True(t, ok)

	// reversed, so every batch boundary is crossed out of insert order
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	got, err := cs.ByCommitIDs(ctx, "t1", "p", ids)
	require.NoError(t, err)
	require.Len(t, got, wideList)
	for i := range ids {
		assert.Equal(t, ids[i], got[i].CommitID)
	}
}

func testDataCommitDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	cs := s.DataCommits()
	a := commit("t1", "p", "a")
	b := commit("t1", "p", "b")
	c := commit("t1", "q", "c")
	d := commit("t2", "p", "d")
	ok, err := cs.InsertMany(ctx, []types.DataCommitInfo{a, b, c, d})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, cs.Delete(ctx, "t1", "p", a.CommitID))
	rows, err := cs.ListByPartition(ctx, "t1", "p")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, b.CommitID, rows[0].CommitID)

	require.NoError(t, cs.DeleteByPartition(ctx, "t1", "p"))
	rows, err = cs.ListByPartition(ctx, "t1", "p")
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, cs.DeleteByTable(ctx, "t1"))
	rows, err = cs.ListByPartition(ctx, "t1", "q")
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = cs.ListByPartition(ctx, "t2", "p")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func table(id, name, path string) types.TableInfo {
	return types.TableInfo{
		TableID:     id,
		TableName:   name,
		TablePath:   path,
		TableSchema: `{"type":"struct","fields":[]}`,
		Properties:  map[string]string{"hashBucketNum": "2"},
		Partitions:  []string{"date", "region"},
	}
}

func testTableCreateAndLookup(t *testing.T, s store.Store) {
	ctx := context.Background()
	ts := s.Tables()
	require.NoError(t, ts.CreateTable(ctx, table("t1", "orders", "s3://b/orders")))
	require.NoError(t, ts.CreateTable(ctx, table("t2", "", "s3://b/events")))

	got, err := ts.GetTable(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, table("t1", "orders", "s3://b/orders"), *got)

	pid, err := ts.GetTablePathID(ctx, "s3://b/orders")
	require.NoError(t, err)
	require.NotNil(t, pid)
	assert.Equal(t, "t1", pid.TableID)

	nid, err := ts.GetTableNameID(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, nid)
	assert.Equal(t, "t1", nid.TableID)

	none, err := ts.GetTableNameID(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, none)

	missing, err := ts.GetTable(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	paths, err := ts.ListTablePaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s3://b/events", "s3://b/orders"}, paths)
}

func testTableCreateConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	ts := s.Tables()
	require.NoError(t, ts.CreateTable(ctx, table("t1", "orders", "s3://b/orders")))

	// duplicate name: nothing of t2 may remain
	err := ts.CreateTable(ctx, table("t2", "orders", "s3://b/other"))
	require.Error(t, err)
	assert.True(t, lakeerrors.IsNameConflict(err), "got %v", err)

	got, err := ts.GetTable(ctx, "t2")
	require.NoError(t, err)
	assert.Nil(t, got)
	pid, err := ts.GetTablePathID(ctx, "s3://b/other")
	require.NoError(t, err)
	assert.Nil(t, pid)

	// duplicate path
	err = ts.CreateTable(ctx, table("t3", "other", "s3://b/orders"))
	require.Error(t, err)
	assert.True(t, lakeerrors.IsNameConflict(err), "got %v", err)
	nid, err := ts.GetTableNameID(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, nid)
}

func testTableUpdates(t *testing.T, s store.Store) {
	ctx := context.Background()
	ts := s.Tables()
	require.NoError(t, ts.CreateTable(ctx, table("t1", "", "s3://b/t1")))

	require.NoError(t, ts.UpdateProperties(ctx, "t1", map[string]string{"k": "v"}))
	require.NoError(t, ts.UpdateSchema(ctx, "t1", `{"v":2}`))

	got, err := ts.GetTable(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k": "v"}, got.Properties)
	assert.Equal(t, `{"v":2}`, got.TableSchema)

	err = ts.UpdateSchema(ctx, "missing", "x")
	assert.Equal(t, lakeerrors.CodeTableNotFound, lakeerrors.GetCode(err))
}

func testTableShortName(t *testing.T, s store.Store) {
	ctx := context.Background()
	ts := s.Tables()
	require.NoError(t, ts.CreateTable(ctx, table("t1", "", "s3://b/t1")))
	require.NoError(t, ts.CreateTable(ctx, table("t2", "taken", "s3://b/t2")))

	require.NoError(t, ts.SetShortName(ctx, "t1", "fresh", "s3://b/t1"))
	got, err := ts.GetTable(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.TableName)
	nid, err := ts.GetTableNameID(ctx, "fresh")
	require.NoError(t, err)
	require.NotNil(t, nid)
	assert.Equal(t, "t1", nid.TableID)

	require.NoError(t, ts.CreateTable(ctx, table("t3", "", "s3://b/t3")))
	err = ts.SetShortName(ctx, "t3", "taken", "s3://b/t3")
	assert.True(t, lakeerrors.IsNameConflict(err), "got %v", err)
	t3, err := ts.GetTable(ctx, "t3")
	require.NoError(t, err)
	assert.Empty(t, t3.TableName)

	require.NoError(t, ts.DeleteShortName(ctx, "fresh"))
	nid, err = ts.GetTableNameID(ctx, "fresh")
	require.NoError(t, err)
	assert.Nil(t, nid)
	got, err = ts.GetTable(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, got.TableName)
}

func testTableShortNameMovesPath(t *testing.T, s store.Store) {
	ctx := context.Background()
	ts := s.Tables()
	require.NoError(t, ts.CreateTable(ctx, table("t1", "", "s3://b/t1")))
	require.NoError(t, ts.CreateTable(ctx, table("t2", "", "s3://b/t2")))

	require.NoError(t, ts.SetShortName(ctx, "t1", "first", ""))
	got, err := ts.GetTable(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "s3://b/t1", got.TablePath)

	require.NoError(t, ts.SetShortName(ctx, "t1", "first", "s3a://b/t1"))
	got, err = ts.GetTable(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "s3a://b/t1", got.TablePath)
	pid, err := ts.GetTablePathID(ctx, "s3a://b/t1")
	require.NoError(t, err)
	require.NotNil(t, pid)
	assert.Equal(t, "t1", pid.TableID)
	pid, err = ts.GetTablePathID(ctx, "s3://b/t1")
	require.NoError(t, err)
	assert.Nil(t, pid)

	err = ts.SetShortName(ctx, "t1", "second", "s3://b/t2")
	assert.True(t, lakeerrors.IsNameConflict(err), "got %v", err)
	got, err = ts.GetTable(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.TableName)
	assert.Equal(t, "s3a://b/t1", got.TablePath)
	pid, err = ts.GetTablePathID(ctx, "s3://b/t2")
	require.NoError(t, err)
	require.NotNil(t, pid)
	assert.Equal(t, "t2", pid.TableID)
	nid, err := ts.GetTableNameID(ctx, "second")
	require.NoError(t, err)
	assert.Nil(t, nid)
}

func testTableDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	ts := s.Tables()
	require.NoError(t, ts.CreateTable(ctx, table("t1", "orders", "s3://b/orders")))

	require.NoError(t, ts.DeleteTable(ctx, "t1", "s3://b/orders"))

	got, err := ts.GetTable(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, got)
	pid, err := ts.GetTablePathID(ctx, "s3://b/orders")
	require.NoError(t, err)
	assert.Nil(t, pid)
	nid, err := ts.GetTableNameID(ctx, "orders")
	require.NoError(t, err)
	assert.Nil(t, nid)

	// the name and path are free again
	require.NoError(t, ts.CreateTable(ctx, table("t9", "orders", "s3://b/orders")))
}
