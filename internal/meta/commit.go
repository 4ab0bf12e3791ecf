package meta

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	lakeerrors "github.com/lakemeta/lakemeta/internal/errors"
	"github.com/lakemeta/lakemeta/internal/metrics"
	"github.com/lakemeta/lakemeta/pkg/types"
)

// CommitData applies a commit proposal as new partition versions.
//
// It returns (true, nil) when the versions were written, (false, nil) when a
// concurrent commit made the proposal unresolvable or the attempt budget ran
// out, and an error for invalid input, naming conflicts and store failures.
// A false result means nothing was written. The one case returning true with
// an error is SCHEMA_UPDATE_FAILED: the versions landed but the schema did
// not, and the commit must not be replayed.
func (m *Manager) CommitData(ctx context.Context, meta types.MetaInfo, changeSchema bool, op types.CommitOp) (bool, error) {
	start := time.Now()
	defer func() { metrics.CommitDuration.Observe(time.Since(start).Seconds()) }()

	if err := validateProposal(meta, op); err != nil {
		return false, err
	}
	tableID := meta.Table.TableID
	log := m.logger.With(zap.String("table_id", tableID), zap.String("commit_op", string(op)))

	if err := m.reconcileTable(ctx, meta.Table); err != nil {
		metrics.CommitsTotal.WithLabelValues(string(op), metrics.ResultError).Inc()
		return false, err
	}

	descs, raw := indexProposal(tableID, meta.Partitions)

	cur, err := m.currentState(ctx, tableID, descs)
	if err != nil {
		metrics.CommitsTotal.WithLabelValues(string(op), metrics.ResultError).Inc()
		return false, err
	}

	baseline := make(map[string]types.PartitionInfo, len(descs))
	batch := make([]types.PartitionInfo, 0, len(descs))
	for _, desc := range descs {
		row := baselineRow(cur[desc], raw[desc], op)
		baseline[desc] = row
		batch = append(batch, row)
	}

	ok, err := m.store.Partitions().AtomicInsert(ctx, batch)
	if err != nil {
		metrics.CommitsTotal.WithLabelValues(string(op), metrics.ResultError).Inc()
		return false, err
	}
	result := metrics.ResultCommitted
	if !ok {
		metrics.ConflictsTotal.WithLabelValues(string(op)).Inc()
		log.Debug("optimistic insert lost, resolving", zap.Strings("partitions", descs))

		var outcome resolveOutcome
		outcome, err = m.resolve(ctx, tableID, op, descs, raw, baseline)
		if err != nil {
			metrics.CommitsTotal.WithLabelValues(string(op), metrics.ResultError).Inc()
			return false, err
		}
		ok = outcome == outcomeCommitted
		result = outcome.metricLabel()
	}
	metrics.CommitsTotal.WithLabelValues(string(op), result).Inc()

	if !ok {
		log.Warn("commit not applied", zap.String("reason", result), zap.Strings("partitions", descs))
		return false, nil
	}

	if changeSchema {
		if err := m.store.Tables().UpdateSchema(ctx, tableID, meta.Table.TableSchema); err != nil {
			log.Warn("commit applied, schema update failed", zap.Strings("partitions", descs), zap.Error(err))
			return true, lakeerrors.NewMetaError(lakeerrors.CodeSchemaUpdateFailed,
				fmt.Sprintf("partitions of table %s committed but schema was not updated", tableID), err)
		}
	}
	log.Debug("commit applied", zap.Int("partitions", len(descs)), zap.Bool("change_schema", changeSchema))
	return true, nil
}

// validateProposal runs before any store access.
func validateProposal(meta types.MetaInfo, op types.CommitOp) error {
	if !op.Valid() || op == types.DeleteCommit {
		return lakeerrors.NewValidationError(lakeerrors.CodeInvalidCommitOp,
			fmt.Sprintf("commit op %q is not one of AppendCommit, MergeCommit, CompactionCommit, UpdateCommit", op))
	}
	if meta.Table.TableID == "" {
		return lakeerrors.NewValidationError(lakeerrors.CodeInvalidArgument, "proposal has no table id")
	}
	for _, p := range meta.Partitions {
		if p.CommitOp != "" && p.CommitOp != op {
			return lakeerrors.NewValidationError(lakeerrors.CodeInvalidCommitOp,
				fmt.Sprintf("partition %q carries commit op %s but the commit is %s", p.PartitionDesc, p.CommitOp, op))
		}
		if p.TableID != "" && p.TableID != meta.Table.TableID {
			return lakeerrors.NewValidationError(lakeerrors.CodeInvalidArgument,
				fmt.Sprintf("partition %q belongs to table %s, not %s", p.PartitionDesc, p.TableID, meta.Table.TableID))
		}
	}
	return nil
}

// reconcileTable applies the table-level part of a proposal: the short name
// and the properties.
func (m *Manager) reconcileTable(ctx context.Context, proposal types.TableInfo) error {
	if proposal.TableName != "" {
		if err := m.UpdateTableShortName(ctx, proposal.TablePath, proposal.TableID, proposal.TableName); err != nil {
			return err
		}
	}
	return m.store.Tables().UpdateProperties(ctx, proposal.TableID, proposal.Properties)
}

// indexProposal returns the descriptors in proposal order and the proposal
// rows keyed by descriptor. The first occurrence of a descriptor wins.
func indexProposal(tableID string, partitions []types.PartitionInfo) ([]string, map[string]types.PartitionInfo) {
	descs := make([]string, 0, len(partitions))
	raw := make(map[string]types.PartitionInfo, len(partitions))
	for _, p := range partitions {
		if _, dup := raw[p.PartitionDesc]; dup {
			continue
		}
		row := p.Clone()
		row.TableID = tableID
		raw[p.PartitionDesc] = row
		descs = append(descs, p.PartitionDesc)
	}
	return descs, raw
}

// currentState returns the latest persisted row of every descriptor, with
// never-written descriptors filled in as virtual rows.
func (m *Manager) currentState(ctx context.Context, tableID string, descs []string) (map[string]types.PartitionInfo, error) {
	out := make(map[string]types.PartitionInfo, len(descs))
	if len(descs) == 0 {
		return out, nil
	}
	rows, err := m.store.Partitions().RangeLookup(ctx, tableID, descs)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.PartitionDesc] = r
	}
	for _, desc := range descs {
		if _, ok := out[desc]; !ok {
			out[desc] = types.Virtual(tableID, desc)
		}
	}
	return out, nil
}

// baselineRow computes the uncontended next version of a partition.
func baselineRow(cur, proposal types.PartitionInfo, op types.CommitOp) types.PartitionInfo {
	if op.Appends() {
		return cur.Next(types.AppendSnapshot(cur.Snapshot, proposal.Snapshot), op, proposal.Expression)
	}
	return cur.Next(proposal.Snapshot, op, proposal.Expression)
}
