package sqlitestore

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	lakeerrors "github.com/lakemeta/lakemeta/internal/errors"
	"github.com/lakemeta/lakemeta/pkg/types"
)

type commitStore struct{ s *Store }

const commitColumns = "table_id, partition_desc, commit_id, file_ops, commit_op, timestamp"

func scanCommit(sc rowScanner) (types.DataCommitInfo, error) {
	var c types.DataCommitInfo
	var id, op string
	var blob []byte
	if err := sc.Scan(&c.TableID, &c.PartitionDesc, &id, &blob, &op, &c.Timestamp); err != nil {
		return c, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return c, err
	}
	c.CommitID = parsed
	c.CommitOp = types.CommitOp(op)
	if c.FileOps, err = decodeFileOps(blob); err != nil {
		return c, err
	}
	return c, nil
}

func (c commitStore) InsertMany(ctx context.Context, rows []types.DataCommitInfo) (bool, error) {
	if len(rows) == 0 {
		return true, nil
	}
	err := c.s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO data_commit_info ("+commitColumns+") VALUES (?, ?, ?, ?, ?, ?)")
		if err != nil {
			return lakeerrors.NewStoreError("prepare data commit insert", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			blob, err := encodeFileOps(r.FileOps)
			if err != nil {
				return lakeerrors.NewInternalError("encode file ops", err)
			}
			_, err = stmt.ExecContext(ctx, r.TableID, r.PartitionDesc, r.CommitID.String(),
				blob, string(r.CommitOp), r.Timestamp)
			if isConstraint(err) {
				return errCollision
			}
			if err != nil {
				return lakeerrors.NewStoreError("insert data_commit_info", err)
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

func (c commitStore) queryMany(ctx context.Context, query string, args ...any) ([]types.DataCommitInfo, error) {
	rows, err := c.s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, lakeerrors.NewStoreError("query data_commit_info", err)
	}
	defer rows.Close()

	var out []types.DataCommitInfo
	for rows.Next() {
		row, err := scanCommit(rows)
		if err != nil {
			return nil, lakeerrors.NewStoreError("scan data_commit_info", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, lakeerrors.NewStoreError("iterate data_commit_info", err)
	}
	return out, nil
}

func (c commitStore) ByCommitIDs(ctx context.Context, tableID, desc string, ids []uuid.UUID) ([]types.DataCommitInfo, error) {
	if len(ids) == 0 {
		return []types.DataCommitInfo{}, nil
	}
	var found []types.DataCommitInfo
	err := inBatches(len(ids), func(lo, hi int) error {
		args := make([]any, 0, hi-lo+2)
		args = append(args, tableID, desc)
		for _, id := range ids[lo:hi] {
			args = append(args, id.String())
		}
		rows, err := c.queryMany(ctx,
			"SELECT "+commitColumns+" FROM data_commit_info WHERE table_id = ? AND partition_desc = ? AND commit_id IN ("+placeholders(hi-lo)+")",
			args...)
		found = append(found, rows...)
		return err
	})
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]types.DataCommitInfo, len(found))
	for _, r := range found {
		byID[r.CommitID] = r
	}
	out := make([]types.DataCommitInfo, 0, len(found))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c commitStore) ListByPartition(ctx context.Context, tableID, desc string) ([]types.DataCommitInfo, error) {
	return c.queryMany(ctx,
		"SELECT "+commitColumns+" FROM data_commit_info WHERE table_id = ? AND partition_desc = ? ORDER BY commit_id",
		tableID, desc)
}

func (c commitStore) DeleteByTable(ctx context.Context, tableID string) error {
	return c.s.exec(ctx, "DELETE FROM data_commit_info WHERE table_id = ?", tableID)
}

func (c commitStore) DeleteByPartition(ctx context.Context, tableID, desc string) error {
	return c.s.exec(ctx, "DELETE FROM data_commit_info WHERE table_id = ? AND partition_desc = ?", tableID, desc)
}

func (c commitStore) Delete(ctx context.Context, tableID, desc string, commitID uuid.UUID) error {
	return c.s.exec(ctx,
		"DELETE FROM data_commit_info WHERE table_id = ? AND partition_desc = ? AND commit_id = ?",
		tableID, desc, commitID.String())
}
