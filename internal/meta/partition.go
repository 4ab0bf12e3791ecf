package meta

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	lakeerrors "github.com/lakemeta/lakemeta/internal/errors"
	"github.com/lakemeta/lakemeta/internal/metrics"
	"github.com/lakemeta/lakemeta/pkg/types"
)

// GetSinglePartitionInfo returns the latest version of a partition, or nil.
func (m *Manager) GetSinglePartitionInfo(ctx context.Context, tableID, partitionDesc string) (*types.PartitionInfo, error) {
	return m.store.Partitions().Latest(ctx, tableID, partitionDesc)
}

// GetPartitionSnapshot returns one version of a partition, or nil.
func (m *Manager) GetPartitionSnapshot(ctx context.Context, tableID, partitionDesc string, version int) (*types.PartitionInfo, error) {
	return m.store.Partitions().AtVersion(ctx, tableID, partitionDesc, version)
}

// PartitionExists reports whether any version of the partition is stored.
func (m *Manager) PartitionExists(ctx context.Context, tableID, partitionDesc string) (bool, error) {
	p, err := m.store.Partitions().Latest(ctx, tableID, partitionDesc)
	return p != nil, err
}

// GetAllPartitionInfo returns the latest version of every partition of a
// table, ordered by descriptor.
func (m *Manager) GetAllPartitionInfo(ctx context.Context, tableID string) ([]types.PartitionInfo, error) {
	return m.store.Partitions().AllLatest(ctx, tableID)
}

// GetPartitionVersions returns the full history of a partition, oldest first.
func (m *Manager) GetPartitionVersions(ctx context.Context, tableID, partitionDesc string) ([]types.PartitionInfo, error) {
	return m.store.Partitions().Versions(ctx, tableID, partitionDesc)
}

// GetTableSinglePartitionDataInfo materializes the data commits referenced by
// a partition version's snapshot, in snapshot order.
func (m *Manager) GetTableSinglePartitionDataInfo(ctx context.Context, p types.PartitionInfo) ([]types.DataCommitInfo, error) {
	if len(p.Snapshot) == 0 {
		return []types.DataCommitInfo{}, nil
	}
	return m.store.DataCommits().ByCommitIDs(ctx, p.TableID, p.PartitionDesc, p.Snapshot)
}

// BatchCommitDataCommitInfo records data commits. It returns false, and
// writes nothing, when any commit id is already recorded for its partition.
func (m *Manager) BatchCommitDataCommitInfo(ctx context.Context, rows []types.DataCommitInfo) (bool, error) {
	now := m.now().UnixMilli()
	batch := make([]types.DataCommitInfo, 0, len(rows))
	for _, r := range rows {
		if r.TableID == "" {
			return false, lakeerrors.NewValidationError(lakeerrors.CodeInvalidArgument, "data commit has no table id")
		}
		if r.CommitID == uuid.Nil {
			return false, lakeerrors.NewValidationError(lakeerrors.CodeInvalidArgument,
				fmt.Sprintf("data commit for %s/%s has no commit id", r.TableID, r.PartitionDesc))
		}
		if !r.CommitOp.Valid() {
			return false, lakeerrors.NewValidationError(lakeerrors.CodeInvalidCommitOp,
				fmt.Sprintf("data commit %s carries commit op %q", r.CommitID, r.CommitOp))
		}
		for _, f := range r.FileOps {
			if _, err := types.ParseFileOp(string(f.FileOp)); err != nil {
				return false, lakeerrors.NewValidationError(lakeerrors.CodeInvalidArgument, err.Error())
			}
		}
		if r.Timestamp == 0 {
			r.Timestamp = now
		}
		r.FileOps = append([]types.DataFileOp(nil), r.FileOps...)
		batch = append(batch, r)
	}
	return m.store.DataCommits().InsertMany(ctx, batch)
}

// DeleteDataCommitInfo removes data commit records. A nil commit id removes
// every commit of the partition; an empty descriptor removes every commit of
// the table.
func (m *Manager) DeleteDataCommitInfo(ctx context.Context, tableID, partitionDesc string, commitID uuid.UUID) error {
	switch {
	case partitionDesc == "":
		return m.store.DataCommits().DeleteByTable(ctx, tableID)
	case commitID == uuid.Nil:
		return m.store.DataCommits().DeleteByPartition(ctx, tableID, partitionDesc)
	default:
		return m.store.DataCommits().Delete(ctx, tableID, partitionDesc, commitID)
	}
}

// LogicalDeleteTable appends an empty DeleteCommit version to every
// partition of a table in one atomic insert. History stays readable.
func (m *Manager) LogicalDeleteTable(ctx context.Context, tableID string) (bool, error) {
	latest, err := m.store.Partitions().AllLatest(ctx, tableID)
	if err != nil {
		metrics.LogicalDeletes.WithLabelValues("table", metrics.ResultError).Inc()
		return false, err
	}
	rows := make([]types.PartitionInfo, 0, len(latest))
	for _, p := range latest {
		rows = append(rows, p.Next([]uuid.UUID{}, types.DeleteCommit, ""))
	}
	ok, err := m.store.Partitions().AtomicInsert(ctx, rows)
	m.observeDelete("table", ok, err)
	if ok {
		m.logger.Info("table logically deleted", zapTable(tableID), zap.Int("partitions", len(rows)))
	}
	return ok, err
}

// LogicalDeletePartition appends an empty DeleteCommit version to one
// partition. It returns false when the partition does not exist or a
// concurrent commit took the next version.
func (m *Manager) LogicalDeletePartition(ctx context.Context, tableID, partitionDesc string) (bool, error) {
	latest, err := m.store.Partitions().Latest(ctx, tableID, partitionDesc)
	if err != nil {
		metrics.LogicalDeletes.WithLabelValues("partition", metrics.ResultError).Inc()
		return false, err
	}
	if latest == nil {
		metrics.LogicalDeletes.WithLabelValues("partition", metrics.ResultRejected).Inc()
		return false, nil
	}
	ok, err := m.store.Partitions().AtomicInsert(ctx, []types.PartitionInfo{
		latest.Next([]uuid.UUID{}, types.DeleteCommit, ""),
	})
	m.observeDelete("partition", ok, err)
	if ok {
		m.logger.Info("partition logically deleted", zapTable(tableID), zapDesc(partitionDesc), zap.Int("version", latest.Version+1))
	}
	return ok, err
}

func (m *Manager) observeDelete(scope string, ok bool, err error) {
	switch {
	case err != nil:
		metrics.LogicalDeletes.WithLabelValues(scope, metrics.ResultError).Inc()
	case ok:
		metrics.LogicalDeletes.WithLabelValues(scope, metrics.ResultCommitted).Inc()
	default:
		metrics.LogicalDeletes.WithLabelValues(scope, metrics.ResultRejected).Inc()
	}
}

// RollbackPartition republishes version toVersion as a new latest version.
// It returns false when toVersion does not exist or a concurrent commit took
// the next version.
func (m *Manager) RollbackPartition(ctx context.Context, tableID, partitionDesc string, toVersion int) (bool, error) {
	target, err := m.store.Partitions().AtVersion(ctx, tableID, partitionDesc, toVersion)
	if err != nil {
		metrics.Rollbacks.WithLabelValues(metrics.ResultError).Inc()
		return false, err
	}
	if target == nil {
		metrics.Rollbacks.WithLabelValues(metrics.ResultRejected).Inc()
		return false, nil
	}
	latest, err := m.store.Partitions().Latest(ctx, tableID, partitionDesc)
	if err != nil {
		metrics.Rollbacks.WithLabelValues(metrics.ResultError).Inc()
		return false, err
	}
	if latest == nil {
		metrics.Rollbacks.WithLabelValues(metrics.ResultError).Inc()
		return false, corruption(fmt.Sprintf("partition %s/%s has version %d but no latest version", tableID, partitionDesc, toVersion))
	}
	ok, err := m.store.Partitions().AtomicInsert(ctx, []types.PartitionInfo{
		latest.Next(target.Snapshot, target.CommitOp, target.Expression),
	})
	switch {
	case err != nil:
		metrics.Rollbacks.WithLabelValues(metrics.ResultError).Inc()
	case ok:
		metrics.Rollbacks.WithLabelValues(metrics.ResultCommitted).Inc()
		m.logger.Info("partition rolled back",
			zapTable(tableID), zapDesc(partitionDesc),
			zap.Int("to_version", toVersion), zap.Int("new_version", latest.Version+1))
	default:
		metrics.Rollbacks.WithLabelValues(metrics.ResultRejected).Inc()
	}
	return ok, err
}

// DeletePartitionInfoByTableID physically removes every partition version of
// a table.
func (m *Manager) DeletePartitionInfoByTableID(ctx context.Context, tableID string) error {
	return m.store.Partitions().DeleteByTable(ctx, tableID)
}

// DeletePartitionInfoByTableAndPartition physically removes every version of
// one partition and its data commits.
func (m *Manager) DeletePartitionInfoByTableAndPartition(ctx context.Context, tableID, partitionDesc string) error {
	if err := m.store.Partitions().DeleteByPartition(ctx, tableID, partitionDesc); err != nil {
		return err
	}
	return m.store.DataCommits().DeleteByPartition(ctx, tableID, partitionDesc)
}
