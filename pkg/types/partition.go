package types

import (
	"fmt"

	"github.com/google/uuid"
)

// CommitOp classifies the intent of a write.
type CommitOp string

const (
	// AppendCommit adds new data commits on top of the current snapshot
	AppendCommit CommitOp = "AppendCommit"

	// MergeCommit adds upsert/merge commits on top of the current snapshot
	MergeCommit CommitOp = "MergeCommit"

	// CompactionCommit replaces the snapshot with compacted commits
	CompactionCommit CommitOp = "CompactionCommit"

	// UpdateCommit replaces the snapshot with rewritten commits
	UpdateCommit CommitOp = "UpdateCommit"

	// DeleteCommit empties the snapshot (logical delete)
	DeleteCommit CommitOp = "DeleteCommit"
)

// VirtualVersion is the version of a partition that has never been written.
const VirtualVersion = -1

// ParseCommitOp converts a string to a CommitOp.
func ParseCommitOp(s string) (CommitOp, error) {
	switch op := CommitOp(s); op {
	case AppendCommit, MergeCommit, CompactionCommit, UpdateCommit, DeleteCommit:
		return op, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommitOp, s)
}

// Valid reports whether op is one of the five known commit kinds.
func (op CommitOp) Valid() bool {
	_, err := ParseCommitOp(string(op))
	return err == nil
}

// Appends reports whether op extends the current snapshot rather than replacing it.
func (op CommitOp) Appends() bool {
	return op == AppendCommit || op == MergeCommit
}

// PartitionInfo is one version of a partition.
// The key is (TableID, PartitionDesc, Version).
type PartitionInfo struct {
	TableID       string      `json:"table_id"`
	PartitionDesc string      `json:"partition_desc"`
	Version       int         `json:"version"`
	CommitOp      CommitOp    `json:"commit_op,omitempty"`
	Snapshot      []uuid.UUID `json:"snapshot"`
	Expression    string      `json:"expression,omitempty"`
}

// Virtual returns the "not yet written" state of a partition.
func Virtual(tableID, partitionDesc string) PartitionInfo {
	return PartitionInfo{
		TableID:       tableID,
		PartitionDesc: partitionDesc,
		Version:       VirtualVersion,
	}
}

// Clone returns a copy that shares no slice memory with p.
func (p PartitionInfo) Clone() PartitionInfo {
	cp := p
	cp.Snapshot = CopySnapshot(p.Snapshot)
	return cp
}

// Next returns the row that follows p with the given snapshot, op and expression.
func (p PartitionInfo) Next(snapshot []uuid.UUID, op CommitOp, expression string) PartitionInfo {
	return PartitionInfo{
		TableID:       p.TableID,
		PartitionDesc: p.PartitionDesc,
		Version:       p.Version + 1,
		CommitOp:      op,
		Snapshot:      CopySnapshot(snapshot),
		Expression:    expression,
	}
}

// Key identifies the row for logging and map lookups.
func (p PartitionInfo) Key() string {
	return fmt.Sprintf("%s/%s@%d", p.TableID, p.PartitionDesc, p.Version)
}

// MetaInfo is a commit proposal: the target table plus proposed partitions.
type MetaInfo struct {
	Table      TableInfo       `json:"table"`
	Partitions []PartitionInfo `json:"partitions"`
}
