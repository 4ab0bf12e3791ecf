// Package store defines the metadata store accessors the commit protocol is
// built on. Implementations live in the memstore, sqlitestore and pgstore
// subpackages.
//
// Absent entities are reported as nil results, never as errors. Driver
// failures are wrapped as STORE/STORE_FAILED. A duplicate table name or path
// is reported as META/NAME_CONFLICT, and an update against a missing table
// row as META/TABLE_NOT_FOUND.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/lakemeta/lakemeta/pkg/types"
)

// PartitionStore reads and writes versioned partition rows.
type PartitionStore interface {
	// Latest returns the highest version of a partition, or nil.
	Latest(ctx context.Context, tableID, partitionDesc string) (*types.PartitionInfo, error)

	// AtVersion returns one version of a partition, or nil.
	AtVersion(ctx context.Context, tableID, partitionDesc string, version int) (*types.PartitionInfo, error)

	// AllLatest returns the latest row of every partition of a table,
	// ordered by partition descriptor.
	AllLatest(ctx context.Context, tableID string) ([]types.PartitionInfo, error)

	// Versions returns the full history of a partition in ascending version order.
	Versions(ctx context.Context, tableID, partitionDesc string) ([]types.PartitionInfo, error)

	// RangeLookup returns the latest row of each listed descriptor that
	// exists. Unknown descriptors are omitted.
	RangeLookup(ctx context.Context, tableID string, partitionDescs []string) ([]types.PartitionInfo, error)

	// AtomicInsert inserts every row or none. It returns false, with nothing
	// written, when any (table, descriptor, version) key already exists.
	// An empty batch succeeds.
	AtomicInsert(ctx context.Context, rows []types.PartitionInfo) (bool, error)

	// DeleteByTable physically removes every partition row of a table.
	DeleteByTable(ctx context.Context, tableID string) error

	// DeleteByPartition physically removes every version of one partition.
	DeleteByPartition(ctx context.Context, tableID, partitionDesc string) error
}

// DataCommitStore reads and writes data commit records.
type DataCommitStore interface {
	// InsertMany inserts every row or none. It returns false on a key collision.
	InsertMany(ctx context.Context, rows []types.DataCommitInfo) (bool, error)

	// ByCommitIDs returns the records of the given ids in the order of ids.
	// Ids without a record are skipped.
	ByCommitIDs(ctx context.Context, tableID, partitionDesc string, ids []uuid.UUID) ([]types.DataCommitInfo, error)

	// ListByPartition returns every record of one partition.
	ListByPartition(ctx context.Context, tableID, partitionDesc string) ([]types.DataCommitInfo, error)

	DeleteByTable(ctx context.Context, tableID string) error
	DeleteByPartition(ctx context.Context, tableID, partitionDesc string) error
	Delete(ctx context.Context, tableID, partitionDesc string, commitID uuid.UUID) error
}

// TableStore manages table rows and their name and path indexes.
type TableStore interface {
	// CreateTable inserts the table row and its path and name index rows in
	// one transaction.
	CreateTable(ctx context.Context, info types.TableInfo) error

	GetTable(ctx context.Context, tableID string) (*types.TableInfo, error)
	GetTablePathID(ctx context.Context, tablePath string) (*types.TablePathID, error)
	GetTableNameID(ctx context.Context, tableName string) (*types.TableNameID, error)

	// ListTablePaths returns every registered table path in lexical order.
	ListTablePaths(ctx context.Context) ([]string, error)

	UpdateProperties(ctx context.Context, tableID string, properties map[string]string) error
	UpdateSchema(ctx context.Context, tableID, tableSchema string) error

	// SetShortName sets the table's name and inserts the name index row in
	// one transaction. A non-empty tablePath that differs from the stored one
	// moves the path index row too; an empty one keeps the stored path.
	SetShortName(ctx context.Context, tableID, tableName, tablePath string) error

	// DeleteShortName removes a name index row and clears the name on the
	// table it pointed at.
	DeleteShortName(ctx context.Context, tableName string) error

	// DeleteTable removes the table row and both index rows in one transaction.
	DeleteTable(ctx context.Context, tableID, tablePath string) error
}

// Store bundles the three accessors over one backing database.
type Store interface {
	Tables() TableStore
	Partitions() PartitionStore
	DataCommits() DataCommitStore
	Close() error
}
