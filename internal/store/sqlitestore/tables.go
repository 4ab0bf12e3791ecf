package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

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
	return lakeerrors.NewMetaError(lakeerrors.CodeTableNotFound,
		fmt.Sprintf("table %s not found", tableID), nil)
}

func (t tableStore) CreateTable(ctx context.Context, info types.TableInfo) error {
	props, err := json.Marshal(info.Properties)
	if err != nil {
		return lakeerrors.NewValidationError(lakeerrors.CodeInvalidArgument, "properties are not serializable")
	}
	parts, err := json.Marshal(info.Partitions)
	if err != nil {
		return lakeerrors.NewValidationError(lakeerrors.CodeInvalidArgument, "partitions are not serializable")
	}

	return t.s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO table_info (table_id, table_name, table_path, table_schema, properties, partitions) VALUES (?, ?, ?, ?, ?, ?)",
			info.TableID, info.TableName, info.TablePath, info.TableSchema, string(props), string(parts))
		if isConstraint(err) {
			return nameConflict(info, err)
		}
		if err != nil {
			return lakeerrors.NewStoreError("insert table_info", err)
		}

		if info.TablePath != "" {
			_, err = tx.ExecContext(ctx, "INSERT INTO table_path_id (table_path, table_id) VALUES (?, ?)",
				info.TablePath, info.TableID)
			if isConstraint(err) {
				return nameConflict(info, err)
			}
			if err != nil {
				return lakeerrors.NewStoreError("insert table_path_id", err)
			}
		}

		if info.TableName != "" {
			_, err = tx.ExecContext(ctx, "INSERT INTO table_name_id (table_name, table_id) VALUES (?, ?)",
				info.TableName, info.TableID)
			if isConstraint(err) {
				return nameConflict(info, err)
			}
			if err != nil {
				return lakeerrors.NewStoreError("insert table_name_id", err)
			}
		}
		return nil
	})
}

func (t tableStore) GetTable(ctx context.Context, tableID string) (*types.TableInfo, error) {
	var info types.TableInfo
	var props, parts string
	err := t.s.readDB.QueryRowContext(ctx,
		"SELECT table_id, table_name, table_path, table_schema, properties, partitions FROM table_info WHERE table_id = ?",
		tableID,
	).Scan(&info.TableID, &info.TableName, &info.TablePath, &info.TableSchema, &props, &parts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, lakeerrors.NewStoreError("query table_info", err)
	}
	if err := json.Unmarshal([]byte(props), &info.Properties); err != nil {
		return nil, lakeerrors.NewStoreError("decode table properties", err)
	}
	if err := json.Unmarshal([]byte(parts), &info.Partitions); err != nil {
		return nil, lakeerrors.NewStoreError("decode table partitions", err)
	}
	return &info, nil
}

func (t tableStore) GetTablePathID(ctx context.Context, tablePath string) (*types.TablePathID, error) {
	var id string
	err := t.s.readDB.QueryRowContext(ctx,
		"SELECT table_id FROM table_path_id WHERE table_path = ?", tablePath).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, lakeerrors.NewStoreError("query table_path_id", err)
	}
	return &types.TablePathID{TablePath: tablePath, TableID: id}, nil
}

func (t tableStore) GetTableNameID(ctx context.Context, tableName string) (*types.TableNameID, error) {
	var id string
	err := t.s.readDB.QueryRowContext(ctx,
		"SELECT table_id FROM table_name_id WHERE table_name = ?", tableName).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, lakeerrors.NewStoreError("query table_name_id", err)
	}
	return &types.TableNameID{TableName: tableName, TableID: id}, nil
}

func (t tableStore) ListTablePaths(ctx context.Context) ([]string, error) {
	rows, err := t.s.readDB.QueryContext(ctx, "SELECT table_path FROM table_path_id ORDER BY table_path")
	if err != nil {
		return nil, lakeerrors.NewStoreError("query table_path_id", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, lakeerrors.NewStoreError("scan table_path_id", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, lakeerrors.NewStoreError("iterate table_path_id", err)
	}
	return out, nil
}

func (t tableStore) updateOne(ctx context.Context, tableID, query string, args ...any) error {
	return t.s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return lakeerrors.NewStoreError("update table_info", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return tableNotFound(tableID)
		}
		return nil
	})
}

func (t tableStore) UpdateProperties(ctx context.Context, tableID string, properties map[string]string) error {
	props, err := json.Marshal(properties)
	if err != nil {
		return lakeerrors.NewValidationError(lakeerrors.CodeInvalidArgument, "properties are not serializable")
	}
	return t.updateOne(ctx, tableID, "UPDATE table_info SET properties = ? WHERE table_id = ?", string(props), tableID)
}

func (t tableStore) UpdateSchema(ctx context.Context, tableID, tableSchema string) error {
	return t.updateOne(ctx, tableID, "UPDATE table_info SET table_schema = ? WHERE table_id = ?", tableSchema, tableID)
}

func (t tableStore) SetShortName(ctx context.Context, tableID, tableName, tablePath string) error {
	return t.s.withTx(ctx, func(tx *sql.Tx) error {
		var current, currentPath string
		err := tx.QueryRowContext(ctx, "SELECT table_name, table_path FROM table_info WHERE table_id = ?", tableID).
			Scan(&current, &currentPath)
		if err == sql.ErrNoRows {
			return tableNotFound(tableID)
		}
		if err != nil {
			return lakeerrors.NewStoreError("query table_info", err)
		}

		var owner string
		err = tx.QueryRowContext(ctx, "SELECT table_id FROM table_name_id WHERE table_name = ?", tableName).Scan(&owner)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx, "INSERT INTO table_name_id (table_name, table_id) VALUES (?, ?)",
				tableName, tableID); err != nil {
				return lakeerrors.NewStoreError("insert table_name_id", err)
			}
		case err != nil:
			return lakeerrors.NewStoreError("query table_name_id", err)
		case owner != tableID:
			return nameConflict(types.TableInfo{TableID: owner, TableName: tableName}, nil)
		}

		if current != "" && current != tableName {
			if _, err := tx.ExecContext(ctx, "DELETE FROM table_name_id WHERE table_name = ? AND table_id = ?",
				current, tableID); err != nil {
				return lakeerrors.NewStoreError("delete table_name_id", err)
			}
		}
		if tablePath == "" {
			tablePath = currentPath
		}
		if tablePath != currentPath {
			if err := movePathIndex(ctx, tx, tableID, currentPath, tablePath); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, "UPDATE table_info SET table_name = ?, table_path = ? WHERE table_id = ?",
			tableName, tablePath, tableID); err != nil {
			return lakeerrors.NewStoreError("update table_info", err)
		}
		return nil
	})
}

// movePathIndex repoints the table's path index row from oldPath to newPath.
func movePathIndex(ctx context.Context, tx *sql.Tx, tableID, oldPath, newPath string) error {
	var owner string
	err := tx.QueryRowContext(ctx, "SELECT table_id FROM table_path_id WHERE table_path = ?", newPath).Scan(&owner)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return lakeerrors.NewStoreError("query table_path_id", err)
	case owner != tableID:
		return nameConflict(types.TableInfo{TableID: owner, TablePath: newPath}, nil)
	default:
		return nil
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM table_path_id WHERE table_path = ? AND table_id = ?",
		oldPath, tableID); err != nil {
		return lakeerrors.NewStoreError("delete table_path_id", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO table_path_id (table_path, table_id) VALUES (?, ?)",
		newPath, tableID); err != nil {
		return lakeerrors.NewStoreError("insert table_path_id", err)
	}
	return nil
}

func (t tableStore) DeleteShortName(ctx context.Context, tableName string) error {
	return t.s.withTx(ctx, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx, "SELECT table_id FROM table_name_id WHERE table_name = ?", tableName).Scan(&owner)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return lakeerrors.NewStoreError("query table_name_id", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM table_name_id WHERE table_name = ?", tableName); err != nil {
			return lakeerrors.NewStoreError("delete table_name_id", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE table_info SET table_name = '' WHERE table_id = ? AND table_name = ?",
			owner, tableName); err != nil {
			return lakeerrors.NewStoreError("update table_info", err)
		}
		return nil
	})
}

func (t tableStore) DeleteTable(ctx context.Context, tableID, tablePath string) error {
	return t.s.withTx(ctx, func(tx *sql.Tx) error {
		var name string
		err := tx.QueryRowContext(ctx, "SELECT table_name FROM table_info WHERE table_id = ?", tableID).Scan(&name)
		if err != nil && err != sql.ErrNoRows {
			return lakeerrors.NewStoreError("query table_info", err)
		}

		stmts := []struct {
			query string
			args  []any
		}{
			{"DELETE FROM table_path_id WHERE table_path = ? AND table_id = ?", []any{tablePath, tableID}},
			{"DELETE FROM table_name_id WHERE table_name = ? AND table_id = ?", []any{name, tableID}},
			{"DELETE FROM table_info WHERE table_id = ?", []any{tableID}},
		}
		for _, st := range stmts {
			if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
				return lakeerrors.NewStoreError("delete table", err)
			}
		}
		return nil
	})
}
