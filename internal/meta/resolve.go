package meta

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lakemeta/lakemeta/internal/metrics"
	"github.com/lakemeta/lakemeta/pkg/types"
)

type resolveOutcome int

const (
	outcomeCommitted resolveOutcome = iota
	outcomeRejected
	outcomeExhausted
)

func (o resolveOutcome) metricLabel() string {
	switch o {
	case outcomeCommitted:
		return metrics.ResultCommitted
	case outcomeRejected:
		return metrics.ResultRejected
	default:
		return metrics.ResultExhausted
	}
}

// verdict is a rule's decision for one partition.
type verdict int

const (
	verdictReplace verdict = iota
	verdictDrop
	verdictReject
)

// conflict describes one partition whose persisted version moved past the
// version the pending row was computed against.
type conflict struct {
	persisted types.PartitionInfo
	proposal  types.PartitionInfo
	// base is the snapshot the first baseline was computed from.
	// Only compaction reads it.
	base []uuid.UUID
	op   types.CommitOp
}

// rule recomputes a pending row on top of a newer persisted row.
type rule func(c conflict) (types.PartitionInfo, verdict)

var rules = map[types.CommitOp]rule{
	types.AppendCommit:     appendRule,
	types.MergeCommit:      mergeRule,
	types.CompactionCommit: compactionRule,
	types.UpdateCommit:     updateRule,
}

// appendRule stacks the proposal on top of appends and compactions.
func appendRule(c conflict) (types.PartitionInfo, verdict) {
	switch c.persisted.CommitOp {
	case types.CompactionCommit, types.AppendCommit:
		return c.persisted.Next(types.AppendSnapshot(c.persisted.Snapshot, c.proposal.Snapshot), c.op, c.proposal.Expression), verdictReplace
	}
	return types.PartitionInfo{}, verdictReject
}

// mergeRule stacks the proposal on top of a compaction only.
func mergeRule(c conflict) (types.PartitionInfo, verdict) {
	if c.persisted.CommitOp == types.CompactionCommit {
		return c.persisted.Next(types.AppendSnapshot(c.persisted.Snapshot, c.proposal.Snapshot), c.op, c.proposal.Expression), verdictReplace
	}
	return types.PartitionInfo{}, verdictReject
}

// compactionRule keeps the compacted files and carries over every commit
// that landed after the compaction's base. A competing compaction wins.
func compactionRule(c conflict) (types.PartitionInfo, verdict) {
	switch c.persisted.CommitOp {
	case types.AppendCommit, types.MergeCommit:
		landed := types.SubtractSnapshot(c.persisted.Snapshot, c.base)
		return c.persisted.Next(types.AppendSnapshot(c.proposal.Snapshot, landed), c.op, c.proposal.Expression), verdictReplace
	case types.CompactionCommit:
		return types.PartitionInfo{}, verdictDrop
	}
	return types.PartitionInfo{}, verdictReject
}

// updateRule replaces a compacted snapshot; any other newer state wins.
func updateRule(c conflict) (types.PartitionInfo, verdict) {
	if c.persisted.CommitOp == types.CompactionCommit {
		return c.persisted.Next(c.proposal.Snapshot, c.op, c.proposal.Expression), verdictReplace
	}
	return types.PartitionInfo{}, verdictReject
}

// resolve retries a lost optimistic insert. Each attempt re-reads the latest
// persisted rows, keeps pending rows that are still next in line, recomputes
// the rest with the op's rule, and tries AtomicInsert again with a freshly
// built batch. Pending state is never mutated in place.
func (m *Manager) resolve(
	ctx context.Context,
	tableID string,
	op types.CommitOp,
	descs []string,
	raw map[string]types.PartitionInfo,
	baseline map[string]types.PartitionInfo,
) (resolveOutcome, error) {
	apply := rules[op]
	log := m.logger.With(zap.String("table_id", tableID), zap.String("commit_op", string(op)))

	var bases map[string][]uuid.UUID
	if op == types.CompactionCommit {
		var err error
		if bases, err = m.compactionBases(ctx, tableID, descs, baseline); err != nil {
			return outcomeRejected, err
		}
	}

	prev := baseline
	attempt := 0
	defer func() { metrics.ResolverAttempts.WithLabelValues(string(op)).Observe(float64(attempt)) }()

	for attempt = 1; attempt <= m.maxAttempts; attempt++ {
		live := make([]string, 0, len(prev))
		for _, desc := range descs {
			if _, ok := prev[desc]; ok {
				live = append(live, desc)
			}
		}

		persisted, err := m.currentState(ctx, tableID, live)
		if err != nil {
			return outcomeRejected, err
		}

		next := make(map[string]types.PartitionInfo, len(live))
		batch := make([]types.PartitionInfo, 0, len(live))
		for _, desc := range live {
			pending := prev[desc]
			cur := persisted[desc]
			if cur.Version+1 == pending.Version {
				next[desc] = pending
				batch = append(batch, pending)
				continue
			}

			m.recordConflict(tableID, desc, string(op))
			row, v := apply(conflict{
				persisted: cur,
				proposal:  raw[desc],
				base:      bases[desc],
				op:        op,
			})
			switch v {
			case verdictDrop:
				log.Info("dropping partition superseded by a concurrent compaction",
					zap.String("partition_desc", desc), zap.Int("persisted_version", cur.Version))
				continue
			case verdictReject:
				log.Info("commit conflicts with concurrent change",
					zap.String("partition_desc", desc),
					zap.Int("persisted_version", cur.Version),
					zap.String("persisted_op", string(cur.CommitOp)),
					zap.Int("attempt", attempt))
				return outcomeRejected, nil
			}
			next[desc] = row
			batch = append(batch, row)
		}

		ok, err := m.store.Partitions().AtomicInsert(ctx, batch)
		if err != nil {
			return outcomeRejected, err
		}
		if ok {
			log.Debug("commit resolved", zap.Int("attempt", attempt), zap.Int("partitions", len(batch)))
			return outcomeCommitted, nil
		}
		metrics.ConflictsTotal.WithLabelValues(string(op)).Inc()
		prev = next
	}
	attempt = m.maxAttempts

	log.Warn("commit attempts exhausted", zap.Int("max_attempts", m.maxAttempts), zap.Strings("partitions", descs))
	return outcomeExhausted, nil
}

// compactionBases loads, per partition, the snapshot the first baseline
// was computed from. A partition whose baseline is its first version has an
// empty base.
func (m *Manager) compactionBases(ctx context.Context, tableID string, descs []string, baseline map[string]types.PartitionInfo) (map[string][]uuid.UUID, error) {
	bases := make(map[string][]uuid.UUID, len(descs))
	for _, desc := range descs {
		v := baseline[desc].Version - 1
		if v < 0 {
			bases[desc] = []uuid.UUID{}
			continue
		}
		row, err := m.store.Partitions().AtVersion(ctx, tableID, desc, v)
		if err != nil {
			return nil, err
		}
		if row == nil {
			bases[desc] = []uuid.UUID{}
			continue
		}
		bases[desc] = row.Snapshot
	}
	return bases, nil
}
