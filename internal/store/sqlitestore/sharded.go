package sqlitestore

// Sharded spreads partition and data commit rows over N SQLite shard files
// to get past single-file write throughput. The shard is chosen by
// murmur3(table_id) % N, so every row of a table lives in one shard and a
// commit batch stays a single local transaction. Table registry rows live in
// a separate catalog.db.

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/errgroup"

	lakeerrors "github.com/lakemeta/lakemeta/internal/errors"
	"github.com/lakemeta/lakemeta/internal/store"
	"github.com/lakemeta/lakemeta/pkg/types"
)

// DefaultShardCount is the default number of shard files.
const DefaultShardCount = 8

// Sharded implements store.Store over a catalog database plus N shards.
type Sharded struct {
	catalog    *Store
	shards     []*Store
	shardCount uint32
	baseDir    string
}

var _ store.Store = (*Sharded)(nil)

// OpenSharded opens catalog.db and shard_NNNN.db files in baseDir.
func OpenSharded(baseDir string, shardCount int) (*Sharded, error) {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}

	catalog, err := Open(filepath.Join(baseDir, "catalog.db"))
	if err != nil {
		return nil, err
	}

	sc := &Sharded{
		catalog:    catalog,
		shards:     make([]*Store, shardCount),
		shardCount: uint32(shardCount),
		baseDir:    baseDir,
	}
	for i := 0; i < shardCount; i++ {
		shard, err := Open(filepath.Join(baseDir, fmt.Sprintf("shard_%04d.db", i)))
		if err != nil {
			for j := 0; j < i; j++ {
				sc.shards[j].Close()
			}
			catalog.Close()
			return nil, fmt.Errorf("sqlitestore: failed to open shard %d: %w", i, err)
		}
		sc.shards[i] = shard
	}
	return sc, nil
}

// ShardFor returns the shard index owning a table.
func (sc *Sharded) ShardFor(tableID string) int {
	return int(murmur3.Sum32([]byte(tableID)) % sc.shardCount)
}

func (sc *Sharded) shard(tableID string) *Store {
	return sc.shards[sc.ShardFor(tableID)]
}

// ShardCount returns the number of shards.
func (sc *Sharded) ShardCount() int {
	return int(sc.shardCount)
}

func (sc *Sharded) Tables() store.TableStore           { return sc.catalog.Tables() }
func (sc *Sharded) Partitions() store.PartitionStore   { return shardedPartitions{sc} }
func (sc *Sharded) DataCommits() store.DataCommitStore { return shardedCommits{sc} }

// Ping checks the catalog and every shard in parallel.
func (sc *Sharded) Ping(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sc.catalog.Ping(gctx) })
	for _, s := range sc.shards {
		s := s
		g.Go(func() error { return s.Ping(gctx) })
	}
	return g.Wait()
}

// Close closes every database, returning the first error.
func (sc *Sharded) Close() error {
	var first error
	for _, s := range sc.shards {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := sc.catalog.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

type shardedPartitions struct{ sc *Sharded }

func (p shardedPartitions) Latest(ctx context.Context, tableID, desc string) (*types.PartitionInfo, error) {
	return p.sc.shard(tableID).Partitions().Latest(ctx, tableID, desc)
}

func (p shardedPartitions) AtVersion(ctx context.Context, tableID, desc string, version int) (*types.PartitionInfo, error) {
	return p.sc.shard(tableID).Partitions().AtVersion(ctx, tableID, desc, version)
}

func (p shardedPartitions) AllLatest(ctx context.Context, tableID string) ([]types.PartitionInfo, error) {
	return p.sc.shard(tableID).Partitions().AllLatest(ctx, tableID)
}

func (p shardedPartitions) Versions(ctx context.Context, tableID, desc string) ([]types.PartitionInfo, error) {
	return p.sc.shard(tableID).Partitions().Versions(ctx, tableID, desc)
}

func (p shardedPartitions) RangeLookup(ctx context.Context, tableID string, descs []string) ([]types.PartitionInfo, error) {
	return p.sc.shard(tableID).Partitions().RangeLookup(ctx, tableID, descs)
}

// AtomicInsert requires every row to belong to tables of one shard.
func (p shardedPartitions) AtomicInsert(ctx context.Context, rows []types.PartitionInfo) (bool, error) {
	if len(rows) == 0 {
		return true, nil
	}
	idx := p.sc.ShardFor(rows[0].TableID)
	for _, r := range rows[1:] {
		if p.sc.ShardFor(r.TableID) != idx {
			return false, lakeerrors.NewValidationError(lakeerrors.CodeInvalidArgument,
				"atomic insert spans tables in different shards")
		}
	}
	return p.sc.shards[idx].Partitions().AtomicInsert(ctx, rows)
}

func (p shardedPartitions) DeleteByTable(ctx context.Context, tableID string) error {
	return p.sc.shard(tableID).Partitions().DeleteByTable(ctx, tableID)
}

func (p shardedPartitions) DeleteByPartition(ctx context.Context, tableID, desc string) error {
	return p.sc.shard(tableID).Partitions().DeleteByPartition(ctx, tableID, desc)
}

type shardedCommits struct{ sc *Sharded }

// InsertMany groups rows by shard. Batches spanning shards are rejected so
// the all-or-nothing guarantee holds.
func (c shardedCommits) InsertMany(ctx context.Context, rows []types.DataCommitInfo) (bool, error) {
	if len(rows) == 0 {
		return true, nil
	}
	idx := c.sc.ShardFor(rows[0].TableID)
	for _, r := range rows[1:] {
		if c.sc.ShardFor(r.TableID) != idx {
			return false, lakeerrors.NewValidationError(lakeerrors.CodeInvalidArgument,
				"data commit batch spans tables in different shards")
		}
	}
	return c.sc.shards[idx].DataCommits().InsertMany(ctx, rows)
}

func (c shardedCommits) ByCommitIDs(ctx context.Context, tableID, desc string, ids []uuid.UUID) ([]types.DataCommitInfo, error) {
	return c.sc.shard(tableID).DataCommits().ByCommitIDs(ctx, tableID, desc, ids)
}

func (c shardedCommits) ListByPartition(ctx context.Context, tableID, desc string) ([]types.DataCommitInfo, error) {
	return c.sc.shard(tableID).DataCommits().ListByPartition(ctx, tableID, desc)
}

func (c shardedCommits) DeleteByTable(ctx context.Context, tableID string) error {
	return c.sc.shard(tableID).DataCommits().DeleteByTable(ctx, tableID)
}

func (c shardedCommits) DeleteByPartition(ctx context.Context, tableID, desc string) error {
	return c.sc.shard(tableID).DataCommits().DeleteByPartition(ctx, tableID, desc)
}

func (c shardedCommits) Delete(ctx context.Context, tableID, desc string, commitID uuid.UUID) error {
	return c.sc.shard(tableID).DataCommits().Delete(ctx, tableID, desc, commitID)
}
