package meta

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lakeerrors "github.com/lakemeta/lakemeta/internal/errors"
	"github.com/lakemeta/lakemeta/internal/observability"
	"github.com/lakemeta/lakemeta/internal/store"
	"github.com/lakemeta/lakemeta/internal/store/memstore"
	"github.com/lakemeta/lakemeta/pkg/types"
)

func TestCommitData_UncontendedAppends(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	ok, err := m.CommitData(ctx, proposal(part("p1", snap("f1"))), false, types.AppendCommit)
	require.NoError(t, err)
	require.True(t, ok)

	p := latest(t, m, "p1")
	assert.Equal(t, 0, p.Version)
	assert.Equal(t, snap("f1"), p.Snapshot)
	assert.Equal(t, types.AppendCommit, p.CommitOp)

	ok, err = m.CommitData(ctx, proposal(part("p1", snap("f2"))), false, types.AppendCommit)
	require.NoError(t, err)
	require.True(t, ok)

	p = latest(t, m, "p1")
	assert.Equal(t, 1, p.Version)
	assert.Equal(t, snap("f1", "f2"), p.Snapshot)
	assert.Equal(t, 2, versionCount(t, m, "p1"))
}

func TestCommitData_AppendAfterConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	stats := observability.NewConflictStats(0)
	m, rs, base := newTestManager(t, WithConflictStats(stats))
	seed(t, base, "p1",
		types.PartitionInfo{CommitOp: types.AppendCommit, Snapshot: snap("f1")},
		types.PartitionInfo{CommitOp: types.AppendCommit, Snapshot: snap("f1", "f2")},
	)
	rs.parts.hooks[1] = land(t, base, "p1", 2, types.AppendCommit, snap("f1", "f2", "f3"))

	ok, err := m.CommitData(ctx, proposal(part("p1", snap("f4"))), false, types.AppendCommit)
	require.NoError(t, err)
	require.True(t, ok)

	p := latest(t, m, "p1")
	assert.Equal(t, 3, p.Version)
	assert.Equal(t, snap("f1", "f2", "f3", "f4"), p.Snapshot)
	assert.Equal(t, 4, versionCount(t, m, "p1"))
	assert.Equal(t, 2, rs.parts.insertCalls())

	top := stats.TopPartitions(1)
	require.Len(t, top, 1)
	assert.Equal(t, "p1", top[0].PartitionDesc)
	assert.Equal(t, int64(1), top[0].Conflicts)
}

func TestCommitData_MergeLosesToUpdate(t *testing.T) {
	ctx := context.Background()
	m, rs, base := newTestManager(t)
	seed(t, base, "p1",
		types.PartitionInfo{CommitOp: types.AppendCommit, Snapshot: snap("f1")},
		types.PartitionInfo{CommitOp: types.AppendCommit, Snapshot: snap("f1", "f2")},
		types.PartitionInfo{CommitOp: types.CompactionCommit, Snapshot: snap("c1")},
	)
	rs.parts.hooks[1] = land(t, base, "p1", 3, types.UpdateCommit, snap("u1"))

	ok, err := m.CommitData(ctx, proposal(part("p1", snap("f5"))), false, types.MergeCommit)
	require.NoError(t, err)
	assert.False(t, ok)

	p := latest(t, m, "p1")
	assert.Equal(t, 3, p.Version)
	assert.Equal(t, types.UpdateCommit, p.CommitOp)
	assert.Equal(t, 4, versionCount(t, m, "p1"))
	assert.Equal(t, 1, rs.parts.insertCalls(), "only the baseline insert")
}

func TestCommitData_MergeAfterCompaction(t *testing.T) {
	ctx := context.Background()
	m, rs, base := newTestManager(t)
	seed(t, base, "p1", types.PartitionInfo{CommitOp: types.AppendCommit, Snapshot: snap("f1", "f2")})
	rs.parts.hooks[1] = land(t, base, "p1", 1, types.CompactionCommit, snap("c1"))

	ok, err := m.CommitData(ctx, proposal(part("p1", snap("m1"))), false, types.MergeCommit)
	require.NoError(t, err)
	require.True(t, ok)

	p := latest(t, m, "p1")
	assert.Equal(t, 2, p.Version)
	assert.Equal(t, snap("c1", "m1"), p.Snapshot)
	assert.Equal(t, types.MergeCommit, p.CommitOp)
}

func TestCommitData_CompactionKeepsConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	m, rs, base := newTestManager(t)
	seed(t, base, "p1",
		types.PartitionInfo{CommitOp: types.AppendCommit, Snapshot: snap("a")},
		types.PartitionInfo{CommitOp: types.AppendCommit, Snapshot: snap("a", "b")},
	)
	rs.parts.hooks[1] = land(t, base, "p1", 2, types.AppendCommit, snap("a", "b", "y"))

	ok, err := m.CommitData(ctx, proposal(part("p1", snap("r"))), false, types.CompactionCommit)
	require.NoError(t, err)
	require.True(t, ok)

	p := latest(t, m, "p1")
	assert.Equal(t, 3, p.Version)
	assert.Equal(t, snap("r", "y"), p.Snapshot)
	assert.Equal(t, types.CompactionCommit, p.CommitOp)
}

func TestCommitData_CompactionKeepsAppendsAcrossRetries(t *testing.T) {
	ctx := context.Background()
	m, rs, base := newTestManager(t)
	seed(t, base, "p1",
		types.PartitionInfo{CommitOp: types.AppendCommit, Snapshot: snap("a")},
		types.PartitionInfo{CommitOp: types.AppendCommit, Snapshot: snap("a", "b")},
	)
	rs.parts.hooks[1] = land(t, base, "p1", 2, types.AppendCommit, snap("a", "b", "y"))
	rs.parts.hooks[2] = land(t, base, "p1", 3, types.MergeCommit, snap("a", "b", "y", "z"))

	ok, err := m.CommitData(ctx, proposal(part("p1", snap("r"))), false, types.CompactionCommit)
	require.NoError(t, err)
	require.True(t, ok)

	p := latest(t, m, "p1")
	assert.Equal(t, 4, p.Version)
	assert.Equal(t, snap("r", "y", "z"), p.Snapshot)
	assert.Equal(t, 3, rs.parts.insertCalls())
}

func TestCommitData_CompactionOnNewPartition(t *testing.T) {
	ctx := context.Background()
	m, rs, base := newTestManager(t)
	rs.parts.hooks[1] = land(t, base, "p1", 0, types.AppendCommit, snap("y"))

	ok, err := m.CommitData(ctx, proposal(part("p1", snap("r"))), false, types.CompactionCommit)
	require.NoError(t, err)
	require.True(t, ok)

	p := latest(t, m, "p1")
	assert.Equal(t, 1, p.Version)
	assert.Equal(t, snap("r", "y"), p.Snapshot)
}

func TestCommitData_ConcurrentCompactionSubsumes(t *testing.T) {
	ctx := context.Background()
	m, rs, base := newTestManager(t)
	seed(t, base, "p1", types.PartitionInfo{CommitOp: types.AppendCommit, Snapshot: snap("a", "b")})
	seed(t, base, "p2", types.PartitionInfo{CommitOp: types.AppendCommit, Snapshot: snap("c", "d")})
	rs.parts.hooks[1] = func() {
		land(t, base, "p1", 1, types.CompactionCommit, snap("x"))()
		land(t, base, "p2", 1, types.AppendCommit, snap("c", "d", "e"))()
	}

	ok, err := m.CommitData(ctx, proposal(part("p1", snap("r1")), part("p2", snap("r2"))), false, types.CompactionCommit)
	require.NoError(t, err)
	require.True(t, ok)

	p1 := latest(t, m, "p1")
	assert.Equal(t, 1, p1.Version, "competing compaction stays latest")
	assert.Equal(t, snap("x"), p1.Snapshot)

	p2 := latest(t, m, "p2")
	assert.Equal(t, 2, p2.Version)
	assert.Equal(t, snap("r2", "e"), p2.Snapshot)
}

func TestCommitData_CompactionDroppedEverywhere(t *testing.T) {
	ctx := context.Background()
	m, rs, base := newTestManager(t)
	seed(t, base, "p1", types.PartitionInfo{CommitOp: types.AppendCommit, Snapshot: snap("a")})
	rs.parts.hooks[1] = land(t, base, "p1", 1, types.CompactionCommit, snap("x"))

	ok, err := m.CommitData(ctx, proposal(part("p1", snap("r"))), false, types.CompactionCommit)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, versionCount(t, m, "p1"))
}

func TestCommitData_UpdateRules(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces concurrent compaction", func(t *testing.T) {
		m, rs, base := newTestManager(t)
		seed(t, base, "p1", types.PartitionInfo{CommitOp: types.AppendCommit, Snapshot: snap("a")})
		rs.parts.hooks[1] = land(t, base, "p1", 1, types.CompactionCommit, snap("x"))

		ok, err := m.CommitData(ctx, proposal(part("p1", snap("u"))), false, types.UpdateCommit)
		require.NoError(t, err)
		require.True(t, ok)
		p := latest(t, m, "p1")
		assert.Equal(t, 2, p.Version)
		assert.Equal(t, snap("u"), p.Snapshot)
	})

	t.Run("loses to concurrent append", func(t *testing.T) {
		m, rs, base := newTestManager(t)
		seed(t, base, "p1", types.PartitionInfo{CommitOp: types.AppendCommit, Snapshot: snap("a")})
		rs.parts.hooks[1] = land(t, base, "p1", 1, types.AppendCommit, snap("a", "b"))

		ok, err := m.CommitData(ctx, proposal(part("p1", snap("u"))), false, types.UpdateCommit)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 2, versionCount(t, m, "p1"))
	})
}

func TestCommitData_AppendLosesToMerge(t *testing.T) {
	ctx := context.Background()
	m, rs, base := newTestManager(t)
	seed(t, base, "p1", types.PartitionInfo{CommitOp: types.AppendCommit, Snapshot: snap("a")})
	rs.parts.hooks[1] = land(t, base, "p1", 1, types.MergeCommit, snap("a", "m"))

	ok, err := m.CommitData(ctx, proposal(part("p1", snap("b"))), false, types.AppendCommit)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommitData_RejectionInsertsNothingAcrossPartitions(t *testing.T) {
	ctx := context.Background()
	m, rs, base := newTestManager(t)
	seed(t, base, "p1", types.PartitionInfo{CommitOp: types.AppendCommit, Snapshot: snap("a")})
	seed(t, base, "p2", types.PartitionInfo{CommitOp: types.AppendCommit, Snapshot: snap("b")})
	rs.parts.hooks[1] = land(t, base, "p2", 1, types.UpdateCommit, snap("u"))

	ok, err := m.CommitData(ctx, proposal(part("p1", snap("c")), part("p2", snap("d"))), false, types.AppendCommit)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, versionCount(t, m, "p1"))
	assert.Equal(t, 2, versionCount(t, m, "p2"))
}

func TestCommitData_ExhaustsBudget(t *testing.T) {
	ctx := context.Background()
	m, rs, base := newTestManager(t, WithMaxCommitAttempts(2))
	seed(t, base, "p1", types.PartitionInfo{CommitOp: types.AppendCommit, Snapshot: snap("a")})
	rs.parts.hooks[1] = land(t, base, "p1", 1, types.AppendCommit, snap("a", "b"))
	rs.parts.hooks[2] = land(t, base, "p1", 2, types.AppendCommit, snap("a", "b", "c"))
	rs.parts.hooks[3] = land(t, base, "p1", 3, types.AppendCommit, snap("a", "b", "c", "d"))

	ok, err := m.CommitData(ctx, proposal(part("p1", snap("z"))), false, types.AppendCommit)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, rs.parts.insertCalls(), "baseline plus two resolver attempts")
	assert.Equal(t, 4, versionCount(t, m, "p1"))
	assert.NotContains(t, latest(t, m, "p1").Snapshot, fileID("z"))
}

func TestCommitData_Validation(t *testing.T) {
	ctx := context.Background()
	// A nil store panics on any access, so these must fail before reaching it.
	m := New(nil)

	for _, op := range []types.CommitOp{types.DeleteCommit, "Bogus", ""} {
		_, err := m.CommitData(ctx, proposal(part("p1", snap("a"))), false, op)
		require.Error(t, err, "op %q", op)
		assert.Equal(t, lakeerrors.CodeInvalidCommitOp, lakeerrors.GetCode(err))
	}

	mismatched := part("p1", snap("a"))
	mismatched.CommitOp = types.CompactionCommit
	_, err := m.CommitData(ctx, proposal(mismatched), false, types.AppendCommit)
	require.Error(t, err)
	assert.True(t, lakeerrors.IsValidation(err))

	foreign := part("p1", snap("a"))
	foreign.TableID = "other"
	_, err = m.CommitData(ctx, proposal(foreign), false, types.AppendCommit)
	assert.Equal(t, lakeerrors.CodeInvalidArgument, lakeerrors.GetCode(err))

	_, err = m.CommitData(ctx, types.MetaInfo{}, false, types.AppendCommit)
	assert.Equal(t, lakeerrors.CodeInvalidArgument, lakeerrors.GetCode(err))
}

func TestCommitData_MatchingPartitionOpAccepted(t *testing.T) {
	m, _, _ := newTestManager(t)
	p := part("p1", snap("a"))
	p.CommitOp = types.AppendCommit
	ok, err := m.CommitData(context.Background(), proposal(p), false, types.AppendCommit)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCommitData_UnknownTable(t *testing.T) {
	m, _, _ := newTestManager(t)
	meta := proposal(part("p1", snap("a")))
	meta.Table.TableID = "missing"

	_, err := m.CommitData(context.Background(), meta, false, types.AppendCommit)
	require.Error(t, err)
	assert.Equal(t, lakeerrors.CodeTableNotFound, lakeerrors.GetCode(err))
}

func TestCommitData_TableReconcile(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	meta := proposal(part("p1", snap("a")))
	meta.Table.TableName = "events"
	meta.Table.Properties = map[string]string{"hashBucketNum": "4"}
	ok, err := m.CommitData(ctx, meta, false, types.AppendCommit)
	require.NoError(t, err)
	require.True(t, ok)

	info, err := m.GetTableInfoByID(ctx, testTable)
	require.NoError(t, err)
	assert.Equal(t, "events", info.TableName)
	assert.Equal(t, map[string]string{"hashBucketNum": "4"}, info.Properties)

	path, err := m.GetTablePathFromShortName(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, testPath, path)

	// Same name again is a no-op; properties are overwritten.
	meta.Table.Properties = map[string]string{"owner": "ingest"}
	_, err = m.CommitData(ctx, meta, false, types.AppendCommit)
	require.NoError(t, err)
	info, err = m.GetTableInfoByID(ctx, testTable)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"owner": "ingest"}, info.Properties)

	// A different name is a conflict and nothing is committed.
	meta.Table.TableName = "clicks"
	ok, err = m.CommitData(ctx, meta, false, types.AppendCommit)
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, lakeerrors.IsNameConflict(err))
	assert.Equal(t, 2, versionCount(t, m, "p1"))
}

func TestCommitData_ChangeSchema(t *testing.T) {
	ctx := context.Background()
	m, rs, base := newTestManager(t)

	meta := proposal(part("p1", snap("a")))
	meta.Table.TableSchema = `{"type":"struct","fields":[]}`
	ok, err := m.CommitData(ctx, meta, true, types.AppendCommit)
	require.NoError(t, err)
	require.True(t, ok)

	info, err := m.GetTableInfoByID(ctx, testTable)
	require.NoError(t, err)
	assert.Equal(t, meta.Table.TableSchema, info.TableSchema)

	// A rejected commit leaves the schema alone.
	rs.parts.hooks[rs.parts.insertCalls()+1] = land(t, base, "p1", 1, types.UpdateCommit, snap("u"))
	meta.Table.TableSchema = `{"type":"struct","fields":[{"name":"x"}]}`
	ok, err = m.CommitData(ctx, meta, true, types.AppendCommit)
	require.NoError(t, err)
	require.False(t, ok)

	info, err = m.GetTableInfoByID(ctx, testTable)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"struct","fields":[]}`, info.TableSchema)
}

func TestCommitData_NameWithForeignPathRejected(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	meta := proposal(part("p1", snap("a")))
	meta.Table.TableName = "events"
	meta.Table.TablePath = "s3a://lake/tbl-1"
	ok, err := m.CommitData(ctx, meta, false, types.AppendCommit)
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, lakeerrors.IsNameConflict(err), "got %v", err)
	assert.Equal(t, 0, versionCount(t, m, "p1"))

	info, err := m.GetTableInfo(ctx, testPath)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, testPath, info.TablePath)
	assert.Empty(t, info.TableName)

	info, err = m.GetTableInfo(ctx, "s3a://lake/tbl-1")
	require.NoError(t, err)
	assert.Nil(t, info)

	// The registered path, or none at all, still assigns the name.
	meta.Table.TablePath = ""
	ok, err = m.CommitData(ctx, meta, false, types.AppendCommit)
	require.NoError(t, err)
	require.True(t, ok)
	path, err := m.GetTablePathFromShortName(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, testPath, path)
}

// schemaFailTables fails every schema update.
type schemaFailTables struct {
	store.TableStore
}

func (schemaFailTables) UpdateSchema(context.Context, string, string) error {
	return lakeerrors.NewStoreError("update table_info", errors.New("disk I/O error"))
}

type schemaFailStore struct {
	store.Store
}

func (s schemaFailStore) Tables() store.TableStore { return schemaFailTables{s.Store.Tables()} }

func TestCommitData_SchemaUpdateFailsAfterCommit(t *testing.T) {
	ctx := context.Background()
	m := New(schemaFailStore{memstore.New()})
	require.NoError(t, m.CreateTable(ctx, types.TableInfo{TableID: testTable, TablePath: testPath}))

	meta := proposal(part("p1", snap("a")))
	meta.Table.TableSchema = `{"type":"struct","fields":[]}`
	ok, err := m.CommitData(ctx, meta, true, types.AppendCommit)
	require.Error(t, err)
	assert.True(t, ok, "partition versions were written")
	assert.Equal(t, lakeerrors.CodeSchemaUpdateFailed, lakeerrors.GetCode(err))
	assert.False(t, lakeerrors.IsRetryable(err))
	assert.Equal(t, 1, versionCount(t, m, "p1"))

	// Without a schema change the same store commits cleanly.
	ok, err = m.CommitData(ctx, proposal(part("p1", snap("b"))), false, types.AppendCommit)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCommitData_DuplicateDescriptorFirstWins(t *testing.T) {
	m, _, _ := newTestManager(t)
	ok, err := m.CommitData(context.Background(),
		proposal(part("p1", snap("first")), part("p1", snap("second"))), false, types.AppendCommit)
	require.NoError(t, err)
	require.True(t, ok)

	p := latest(t, m, "p1")
	assert.Equal(t, 0, p.Version)
	assert.Equal(t, snap("first"), p.Snapshot)
}

func TestCommitData_ProposalNotAliased(t *testing.T) {
	m, _, _ := newTestManager(t)
	p := part("p1", snap("a"))
	meta := proposal(p)
	ok, err := m.CommitData(context.Background(), meta, false, types.AppendCommit)
	require.NoError(t, err)
	require.True(t, ok)

	meta.Partitions[0].Snapshot[0] = fileID("mutated")
	assert.Equal(t, snap("a"), latest(t, m, "p1").Snapshot)
}

func TestCommitData_EmptyProposal(t *testing.T) {
	m, _, _ := newTestManager(t)
	ok, err := m.CommitData(context.Background(), proposal(), false, types.AppendCommit)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCommitData_ConcurrentAppendersAllLand(t *testing.T) {
	const writers = 8
	m, _, _ := newTestManager(t, WithMaxCommitAttempts(writers))

	var wg sync.WaitGroup
	results := make([]bool, writers)
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			label := string(rune('a' + i))
			results[i], errs[i] = m.CommitData(context.Background(), proposal(part("p1", snap(label))), false, types.AppendCommit)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.True(t, results[i], "writer %d", i)
	}
	p := latest(t, m, "p1")
	assert.Equal(t, writers-1, p.Version)
	assert.Len(t, p.Snapshot, writers)
	assert.Equal(t, writers, versionCount(t, m, "p1"))
}
