package types

import (
	"fmt"

	"github.com/google/uuid"
)

// FileOp is the action a data commit performs on a physical file.
type FileOp string

const (
	FileOpAdd FileOp = "add"
	FileOpDel FileOp = "del"
)

// ParseFileOp converts a string to a FileOp.
func ParseFileOp(s string) (FileOp, error) {
	switch op := FileOp(s); op {
	case FileOpAdd, FileOpDel:
		return op, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFileOp, s)
}

// DataFileOp references one physical file touched by a commit.
type DataFileOp struct {
	Path          string `json:"path"`
	FileOp        FileOp `json:"file_op"`
	Size          int64  `json:"size"`
	FileExistCols string `json:"file_exist_cols,omitempty"`
}

// DataCommitInfo is the record of one physical commit.
// The key is (TableID, PartitionDesc, CommitID).
type DataCommitInfo struct {
	TableID       string       `json:"table_id"`
	PartitionDesc string       `json:"partition_desc"`
	CommitID      uuid.UUID    `json:"commit_id"`
	FileOps       []DataFileOp `json:"file_ops"`
	CommitOp      CommitOp     `json:"commit_op"`
	// Timestamp is unix milliseconds at which the commit was written
	Timestamp int64 `json:"timestamp"`
}

// AddedPaths returns the paths of files this commit adds.
func (d DataCommitInfo) AddedPaths() []string {
	var paths []string
	for _, op := range d.FileOps {
		if op.FileOp == FileOpAdd {
			paths = append(paths, op.Path)
		}
	}
	return paths
}
