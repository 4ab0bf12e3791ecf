package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	lakeerrors "github.com/lakemeta/lakemeta/internal/errors"
	"github.com/lakemeta/lakemeta/pkg/types"
)

type tableStore struct{ s *Store }

func nameConflict(info types.TableInfo, cause error) error {
	return lakeerrors.NewMetaError(lakeerrors.CodeNameConflict,
		fmt.Sprintf("table id %s, name %q or path %q is already registered", info.TableID, info.TableName, info.TablePath),
		cause)
}

func tableNotFound(tableID string) error {
	return lakeerrors.NewMetaError(lakeerrors.CodeTableNotFound, fmt.Sprintf("table %s not found", tableID), nil)
}

func (t tableStore) CreateTable(ctx context.Context, info types.TableInfo) error {
	props, err := json.Marshal(info.Properties)
	if err != nil {
		return lakeerrors.NewValidationError(lakeerrors.CodeInvalidArgument, "properties are not serializable")
	}

	err = t.s.withTx(ctx, func(tx pgx.Tx) error {
		stmts := []struct {
			query string
			args  []any
			skip  bool
		}{
			{`INSERT INTO table_info (table_id, table_name, table_path, table_schema, properties, partitions)
				VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
				[]any{info.TableID, info.TableName, info.TablePath, info.TableSchema, string(props), info.Partitions}, false},
			{`INSERT INTO table_path_id (table_path, table_id) VALUES ($1, $2)`,
				[]any{info.TablePath, info.TableID}, info.TablePath == ""},
			{`INSERT INTO table_name_id (table_name, table_id) VALUES ($1, $2)`,
				[]any{info.TableName, info.TableID}, info.TableName == ""},
		}
		for _, st := range stmts {
			if st.skip {
				continue
			}
			_, err := tx.Exec(ctx, st.query, st.args...)
			if isUniqueViolation(err) {
				return nameConflict(info, err)
			}
			if err != nil {
				return lakeerrors.NewStoreError("create table", err)
			}
		}
		return nil
	})
	if err == errCollision {
		return nameConflict(info, nil)
	}
	return err
}

func (t tableStore) GetTable(ctx context.Context, tableID string) (*types.TableInfo, error) {
	var info types.TableInfo
	var props []byte
	err := t.s.pool.QueryRow(ctx,
		`SELECT table_id, table_name, table_path, table_schema, properties, partitions FROM table_info WHERE table_id = $1`,
		tableID,
	).Scan(&info.TableID, &info.TableName, &info.TablePath, &info.TableSchema, &props, &info.Partitions)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, lakeerrors.NewStoreError("query table_info", err)
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &info.Properties); err != nil {
			return nil, lakeerrors.NewStoreError("decode table properties", err)
		}
	}
	return &info, nil
}

func (t tableStore) GetTablePathID(ctx context.Context, tablePath string) (*types.TablePathID, error) {
	var id string
	err := t.s.pool.QueryRow(ctx, `SELECT table_id FROM table_path_id WHERE table_path = $1`, tablePath).Scan(&id)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, lakeerrors.NewStoreError("query table_path_id", err)
	}
	return &types.TablePathID{TablePath: tablePath, TableID: id}, nil
}

func (t tableStore) GetTableNameID(ctx context.Context, tableName string) (*types.TableNameID, error) {
	var id string
	err := t.s.pool.QueryRow(ctx, `SELECT table_id FROM table_name_id WHERE table_name = $1`, tableName).Scan(&id)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, lakeerrors.NewStoreError("query table_name_id", err)
	}
	return &types.TableNameID{TableName: tableName, TableID: id}, nil
}

func (t tableStore) ListTablePaths(ctx context.Context) ([]string, error) {
	rows, err := t.s.pool.Query(ctx, `SELECT table_path FROM table_path_id ORDER BY table_path`)
	if err != nil {
		return nil, lakeerrors.NewStoreError("query table_path_id", err)
	}
	paths, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, lakeerrors.NewStoreError("scan table_path_id", err)
	}
	if paths == nil {
		paths = []string{}
	}
	return paths, nil
}

func (t tableStore) updateOne(ctx context.Context, tableID, query string, args ...any) error {
	tag, err := t.s.pool.Exec(ctx, query, args...)
	if err != nil {
		return lakeerrors.NewStoreError("update table_info", err)
	}
	if tag.RowsAffected() == 0 {
		return tableNotFound(tableID)
	}
	return nil
}

func (t tableStore) UpdateProperties(ctx context.Context, tableID string, properties map[string]string) error {
	props, err := json.Marshal(properties)
	if err != nil {
		return lakeerrors.NewValidationError(lakeerrors.CodeInvalidArgument, "properties are not serializable")
	}
	return t.updateOne(ctx, tableID, `UPDATE table_info SET properties = $1::jsonb WHERE table_id = $2`, string(props), tableID)
}

func (t tableStore) UpdateSchema(ctx context.Context, tableID, tableSchema string) error {
	return t.updateOne(ctx, tableID, `UPDATE table_info SET table_schema = $1 WHERE table_id = $2`, tableSchema, tableID)
}

func (t tableStore) SetShortName(ctx context.Context, tableID, tableName, tablePath string) error {
	err := t.s.withTx(ctx, func(tx pgx.Tx) error {
		var current, currentPath string
		err := tx.QueryRow(ctx, `SELECT table_name, table_path FROM table_info WHERE table_id = $1 FOR UPDATE`, tableID).
			Scan(&current, &currentPath)
		if err == pgx.ErrNoRows {
			return tableNotFound(tableID)
		}
		if err != nil {
			return lakeerrors.NewStoreError("query table_info", err)
		}

		var owner string
		err = tx.QueryRow(ctx, `SELECT table_id FROM table_name_id WHERE table_name = $1`, tableName).Scan(&owner)
		switch {
		case err == pgx.ErrNoRows:
			_, err := tx.Exec(ctx, `INSERT INTO table_name_id (table_name, table_id) VALUES ($1, $2)`, tableName, tableID)
			if isUniqueViolation(err) {
				return errCollision
			}
			if err != nil {
				return lakeerrors.NewStoreError("insert table_name_id", err)
			}
		case err != nil:
			return lakeerrors.NewStoreError("query table_name_id", err)
		case owner != tableID:
			return nameConflict(types.TableInfo{TableID: owner, TableName: tableName}, nil)
		}

		if current != "" && current != tableName {
			if _, err := tx.Exec(ctx, `DELETE FROM table_name_id WHERE table_name = $1 AND table_id = $2`, current, tableID); err != nil {
				return lakeerrors.NewStoreError("delete table_name_id", err)
			}
		}
		if tablePath == "" {
			tablePath = currentPath
		}
		if tablePath != currentPath {
			var owner string
			err := tx.QueryRow(ctx, `SELECT table_id FROM table_path_id WHERE table_path = $1`, tablePath).Scan(&owner)
			switch {
			case err == pgx.ErrNoRows:
				if _, err := tx.Exec(ctx, `DELETE FROM table_path_id WHERE table_path = $1 AND table_id = $2`,
					currentPath, tableID); err != nil {
					return lakeerrors.NewStoreError("delete table_path_id", err)
				}
				_, err := tx.Exec(ctx, `INSERT INTO table_path_id (table_path, table_id) VALUES ($1, $2)`, tablePath, tableID)
				if isUniqueViolation(err) {
					return errCollision
				}
				if err != nil {
					return lakeerrors.NewStoreError("insert table_path_id", err)
				}
			case err != nil:
				return lakeerrors.NewStoreError("query table_path_id", err)
			case owner != tableID:
				return nameConflict(types.TableInfo{TableID: owner, TablePath: tablePath}, nil)
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE table_info SET table_name = $1, table_path = $2 WHERE table_id = $3`,
			tableName, tablePath, tableID); err != nil {
			return lakeerrors.NewStoreError("update table_info", err)
		}
		return nil
	})
	if err == errCollision {
		return nameConflict(types.TableInfo{TableID: tableID, TableName: tableName}, nil)
	}
	return err
}

func (t tableStore) DeleteShortName(ctx context.Context, tableName string) error {
	return t.s.withTx(ctx, func(tx pgx.Tx) error {
		var owner string
		err := tx.QueryRow(ctx, `DELETE FROM table_name_id WHERE table_name = $1 RETURNING table_id`, tableName).Scan(&owner)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return lakeerrors.NewStoreError("delete table_name_id", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE table_info SET table_name = '' WHERE table_id = $1 AND table_name = $2`,
			owner, tableName); err != nil {
			return lakeerrors.NewStoreError("update table_info", err)
		}
		return nil
	})
}

func (t tableStore) DeleteTable(ctx context.Context, tableID, tablePath string) error {
	return t.s.withTx(ctx, func(tx pgx.Tx) error {
		var name string
		err := tx.QueryRow(ctx, `DELETE FROM table_info WHERE table_id = $1 RETURNING table_name`, tableID).Scan(&name)
		if err != nil && err != pgx.ErrNoRows {
			return lakeerrors.NewStoreError("delete table_info", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM table_path_id WHERE table_path = $1 AND table_id = $2`, tablePath, tableID); err != nil {
			return lakeerrors.NewStoreError("delete table_path_id", err)
		}
		if name != "" {
			if _, err := tx.Exec(ctx, `DELETE FROM table_name_id WHERE table_name = $1 AND table_id = $2`, name, tableID); err != nil {
				return lakeerrors.NewStoreError("delete table_name_id", err)
			}
		}
		return nil
	})
}
