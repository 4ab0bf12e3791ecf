package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	lakeerrors "github.com/lakemeta/lakemeta/internal/errors"
	"github.com/lakemeta/lakemeta/pkg/types"
)

type partitionStore struct{ s *Store }

const partitionColumns = "table_id, partition_desc, version, commit_op, snapshot, expression"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPartition(sc rowScanner) (types.PartitionInfo, error) {
	var p types.PartitionInfo
	var op string
	var snap []byte
	if err := sc.Scan(&p.TableID, &p.PartitionDesc, &p.Version, &op, &snap, &p.Expression); err != nil {
		return p, err
	}
	p.CommitOp = types.CommitOp(op)
	ids, err := decodeSnapshot(snap)
	if err != nil {
		return p, err
	}
	p.Snapshot = ids
	return p, nil
}

func (p partitionStore) queryOne(ctx context.Context, query string, args ...any) (*types.PartitionInfo, error) {
	row, err := scanPartition(p.s.readDB.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, lakeerrors.NewStoreError("query partition_info", err)
	}
	return &row, nil
}

func (p partitionStore) queryMany(ctx context.Context, query string, args ...any) ([]types.PartitionInfo, error) {
	rows, err := p.s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, lakeerrors.NewStoreError("query partition_info", err)
	}
	defer rows.Close()

	var out []types.PartitionInfo
	for rows.Next() {
		row, err := scanPartition(rows)
		if err != nil {
			return nil, lakeerrors.NewStoreError("scan partition_info", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, lakeerrors.NewStoreError("iterate partition_info", err)
	}
	return out, nil
}

func (p partitionStore) Latest(ctx context.Context, tableID, desc string) (*types.PartitionInfo, error) {
	return p.queryOne(ctx,
		"SELECT "+partitionColumns+" FROM partition_info WHERE table_id = ? AND partition_desc = ? ORDER BY version DESC LIMIT 1",
		tableID, desc)
}

func (p partitionStore) AtVersion(ctx context.Context, tableID, desc string, version int) (*types.PartitionInfo, error) {
	return p.queryOne(ctx,
		"SELECT "+partitionColumns+" FROM partition_info WHERE table_id = ? AND partition_desc = ? AND version = ?",
		tableID, desc, version)
}

// latestSQL selects the max-version row per descriptor of one table.
const latestSQL = `
SELECT p.table_id, p.partition_desc, p.version, p.commit_op, p.snapshot, p.expression
FROM partition_info p
JOIN (
    SELECT partition_desc, MAX(version) AS version
    FROM partition_info
    WHERE table_id = ?%s
    GROUP BY partition_desc
) m ON p.partition_desc = m.partition_desc AND p.version = m.version
WHERE p.table_id = ?
ORDER BY p.partition_desc`

func (p partitionStore) AllLatest(ctx context.Context, tableID string) ([]types.PartitionInfo, error) {
	return p.queryMany(ctx, fmt.Sprintf(latestSQL, ""), tableID, tableID)
}

func (p partitionStore) Versions(ctx context.Context, tableID, desc string) ([]types.PartitionInfo, error) {
	return p.queryMany(ctx,
		"SELECT "+partitionColumns+" FROM partition_info WHERE table_id = ? AND partition_desc = ? ORDER BY version",
		tableID, desc)
}

func (p partitionStore) RangeLookup(ctx context.Context, tableID string, descs []string) ([]types.PartitionInfo, error) {
	if len(descs) == 0 {
		return nil, nil
	}
	descs = dedupe(descs)
	var out []types.PartitionInfo
	err := inBatches(len(descs), func(lo, hi int) error {
		args := make([]any, 0, hi-lo+2)
		args = append(args, tableID)
		for _, d := range descs[lo:hi] {
			args = append(args, d)
		}
		args = append(args, tableID)
		rows, err := p.queryMany(ctx, fmt.Sprintf(latestSQL, " AND partition_desc IN ("+placeholders(hi-lo)+")"), args...)
		out = append(out, rows...)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(descs) > maxInArgs {
		sort.Slice(out, func(i, j int) bool { return out[i].PartitionDesc < out[j].PartitionDesc })
	}
	return out, nil
}

func dedupe(descs []string) []string {
	seen := make(map[string]struct{}, len(descs))
	out := make([]string, 0, len(descs))
	for _, d := range descs {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}

func (p partitionStore) AtomicInsert(ctx context.Context, rows []types.PartitionInfo) (bool, error) {
	if len(rows) == 0 {
		return true, nil
	}
	err := p.s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO partition_info ("+partitionColumns+") VALUES (?, ?, ?, ?, ?, ?)")
		if err != nil {
			return lakeerrors.NewStoreError("prepare partition insert", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			_, err := stmt.ExecContext(ctx, r.TableID, r.PartitionDesc, r.Version,
				string(r.CommitOp), encodeSnapshot(r.Snapshot), r.Expression)
			if isConstraint(err) {
				return errCollision
			}
			if err != nil {
				return lakeerrors.NewStoreError("insert partition_info", err)
			}
		}
		return nil
	})
	if err == errCollision {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p partitionStore) DeleteByTable(ctx context.Context, tableID string) error {
	return p.s.exec(ctx, "DELETE FROM partition_info WHERE table_id = ?", tableID)
}

func (p partitionStore) DeleteByPartition(ctx context.Context, tableID, desc string) error {
	return p.s.exec(ctx, "DELETE FROM partition_info WHERE table_id = ? AND partition_desc = ?", tableID, desc)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return lakeerrors.NewStoreError("exec", err)
	}
	return nil
}
