package types

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommitOp(t *testing.T) {
	for _, s := range []string{"AppendCommit", "MergeCommit", "CompactionCommit", "UpdateCommit", "DeleteCommit"} {
		op, err := ParseCommitOp(s)
		require.NoError(t, err)
		assert.Equal(t, CommitOp(s), op)
		assert.True(t, op.Valid())
	}

	_, err := ParseCommitOp("append")
	assert.True(t, errors.Is(err, ErrUnknownCommitOp))
	assert.False(t, CommitOp("").Valid())
}

func TestCommitOp_Appends(t *testing.T) {
	assert.True(t, AppendCommit.Appends())
	assert.True(t, MergeCommit.Appends())
	assert.False(t, CompactionCommit.Appends())
	assert.False(t, UpdateCommit.Appends())
	assert.False(t, DeleteCommit.Appends())
}

func TestPartitionInfo_Next(t *testing.T) {
	f1, f2 := uuid.New(), uuid.New()
	cur := Virtual("t1", "p1")
	assert.Equal(t, VirtualVersion, cur.Version)

	snap := []uuid.UUID{f1}
	next := cur.Next(snap, AppendCommit, "a > 1")
	assert.Equal(t, 0, next.Version)
	assert.Equal(t, "t1", next.TableID)
	assert.Equal(t, "p1", next.PartitionDesc)
	assert.Equal(t, AppendCommit, next.CommitOp)
	assert.Equal(t, "a > 1", next.Expression)

	// the new row must not alias the input snapshot
	snap[0] = f2
	assert.Equal(t, f1, next.Snapshot[0])
}

func TestPartitionInfo_CloneNilSnapshot(t *testing.T) {
	p := PartitionInfo{TableID: "t", PartitionDesc: "p"}
	cp := p.Clone()
	assert.NotNil(t, cp.Snapshot)
	assert.Empty(t, cp.Snapshot)
}

func TestDataCommitInfo_AddedPaths(t *testing.T) {
	d := DataCommitInfo{FileOps: []DataFileOp{
		{Path: "s3://b/a.parquet", FileOp: FileOpAdd},
		{Path: "s3://b/b.parquet", FileOp: FileOpDel},
		{Path: "s3://b/c.parquet", FileOp: FileOpAdd},
	}}
	assert.Equal(t, []string{"s3://b/a.parquet", "s3://b/c.parquet"}, d.AddedPaths())

	_, err := ParseFileOp("rename")
	assert.True(t, errors.Is(err, ErrUnknownFileOp))
}

func TestTableInfo_Clone(t *testing.T) {
	orig := TableInfo{TableID: "t", Properties: map[string]string{"k": "v"}, Partitions: []string{"date"}}
	cp := orig.Clone()
	cp.Properties["k"] = "changed"
	cp.Partitions[0] = "region"
	assert.Equal(t, "v", orig.Properties["k"])
	assert.Equal(t, "date", orig.Partitions[0])
}
