package meta

import (
	"context"
	"fmt"

	lakeerrors "github.com/lakemeta/lakemeta/internal/errors"
	"github.com/lakemeta/lakemeta/pkg/types"
)

// CreateTable registers a table under its id and path, and under its short
// name when one is set.
func (m *Manager) CreateTable(ctx context.Context, info types.TableInfo) error {
	if info.TableID == "" || info.TablePath == "" {
		return lakeerrors.NewValidationError(lakeerrors.CodeInvalidArgument, "table id and table path are required")
	}
	if err := m.store.Tables().CreateTable(ctx, info.Clone()); err != nil {
		return err
	}
	m.logger.Info("table created", zapTable(info.TableID), zapPath(info.TablePath))
	return nil
}

// GetTableInfo resolves a table by path. It returns nil when the path is not
// registered.
func (m *Manager) GetTableInfo(ctx context.Context, tablePath string) (*types.TableInfo, error) {
	pid, err := m.store.Tables().GetTablePathID(ctx, tablePath)
	if err != nil || pid == nil {
		return nil, err
	}
	info, err := m.store.Tables().GetTable(ctx, pid.TableID)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, corruption(fmt.Sprintf("path %s points at table %s which has no table record", tablePath, pid.TableID))
	}
	return info, nil
}

// GetTableInfoByID returns the table record, or nil.
func (m *Manager) GetTableInfoByID(ctx context.Context, tableID string) (*types.TableInfo, error) {
	return m.store.Tables().GetTable(ctx, tableID)
}

// TableExists reports whether a table is registered at tablePath.
func (m *Manager) TableExists(ctx context.Context, tablePath string) (bool, error) {
	info, err := m.GetTableInfo(ctx, tablePath)
	return info != nil, err
}

// TableIDExists reports whether tablePath is registered to tableID.
func (m *Manager) TableIDExists(ctx context.Context, tablePath, tableID string) (bool, error) {
	pid, err := m.store.Tables().GetTablePathID(ctx, tablePath)
	if err != nil || pid == nil {
		return false, err
	}
	return pid.TableID == tableID, nil
}

// ShortTableNameExists reports whether a short name is taken.
func (m *Manager) ShortTableNameExists(ctx context.Context, tableName string) (bool, error) {
	nid, err := m.store.Tables().GetTableNameID(ctx, tableName)
	return nid != nil, err
}

// GetTableNameID returns the name index row, or nil.
func (m *Manager) GetTableNameID(ctx context.Context, tableName string) (*types.TableNameID, error) {
	return m.store.Tables().GetTableNameID(ctx, tableName)
}

// GetTablePathFromShortName returns the path of the table holding tableName,
// or "" when the name is free.
func (m *Manager) GetTablePathFromShortName(ctx context.Context, tableName string) (string, error) {
	nid, err := m.store.Tables().GetTableNameID(ctx, tableName)
	if err != nil || nid == nil {
		return "", err
	}
	info, err := m.store.Tables().GetTable(ctx, nid.TableID)
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", corruption(fmt.Sprintf("name %s points at table %s which has no table record", tableName, nid.TableID))
	}
	return info.TablePath, nil
}

// ListTables returns every registered table path in sorted order.
func (m *Manager) ListTables(ctx context.Context) ([]string, error) {
	return m.store.Tables().ListTablePaths(ctx)
}

func (m *Manager) UpdateTableSchema(ctx context.Context, tableID, tableSchema string) error {
	return m.store.Tables().UpdateSchema(ctx, tableID, tableSchema)
}

func (m *Manager) UpdateTableProperties(ctx context.Context, tableID string, properties map[string]string) error {
	return m.store.Tables().UpdateProperties(ctx, tableID, properties)
}

// UpdateTableShortName assigns tableName to a table that has none. Assigning
// the name the table already has is a no-op; a different one is a conflict.
// A non-empty tablePath must match the registered path, otherwise the call
// fails with NAME_CONFLICT and nothing changes.
func (m *Manager) UpdateTableShortName(ctx context.Context, tablePath, tableID, tableName string) error {
	info, err := m.store.Tables().GetTable(ctx, tableID)
	if err != nil {
		return err
	}
	if info == nil {
		return lakeerrors.NewMetaError(lakeerrors.CodeTableNotFound, fmt.Sprintf("table %s not found", tableID), nil)
	}
	if tablePath != "" && tablePath != info.TablePath {
		return lakeerrors.NewMetaError(lakeerrors.CodeNameConflict,
			fmt.Sprintf("table %s is registered at %s, not %s", tableID, info.TablePath, tablePath), nil).
			WithDetails(map[string]interface{}{"table_id": tableID, "existing_path": info.TablePath, "requested_path": tablePath})
	}
	switch info.TableName {
	case tableName:
		return nil
	case "":
		if err := m.store.Tables().SetShortName(ctx, tableID, tableName, info.TablePath); err != nil {
			return err
		}
		m.logger.Info("table short name set", zapTable(tableID), zapName(tableName))
		return nil
	default:
		return lakeerrors.NewMetaError(lakeerrors.CodeNameConflict,
			fmt.Sprintf("table %s already has short name %s, cannot rename to %s", tableID, info.TableName, tableName), nil).
			WithDetails(map[string]interface{}{"table_id": tableID, "existing": info.TableName, "requested": tableName})
	}
}

// AddShortTableName binds tableName to the table registered at tablePath.
func (m *Manager) AddShortTableName(ctx context.Context, tableName, tablePath string) error {
	info, err := m.GetTableInfo(ctx, tablePath)
	if err != nil {
		return err
	}
	if info == nil {
		return lakeerrors.NewMetaError(lakeerrors.CodeTableNotFound, fmt.Sprintf("no table registered at %s", tablePath), nil)
	}
	return m.UpdateTableShortName(ctx, tablePath, info.TableID, tableName)
}

// DeleteShortTableName frees tableName.
func (m *Manager) DeleteShortTableName(ctx context.Context, tableName string) error {
	return m.store.Tables().DeleteShortName(ctx, tableName)
}

// DeleteTable removes the table record and its path and name index rows.
// Partition history and data commits are left untouched.
func (m *Manager) DeleteTable(ctx context.Context, tableID, tablePath string) error {
	if err := m.store.Tables().DeleteTable(ctx, tableID, tablePath); err != nil {
		return err
	}
	m.logger.Info("table deleted", zapTable(tableID), zapPath(tablePath))
	return nil
}

// PurgeTable removes the table registration together with its whole
// partition history and every data commit. It is not reversible.
func (m *Manager) PurgeTable(ctx context.Context, tableID, tablePath string) error {
	if err := m.store.Partitions().DeleteByTable(ctx, tableID); err != nil {
		return err
	}
	if err := m.store.DataCommits().DeleteByTable(ctx, tableID); err != nil {
		return err
	}
	if err := m.store.Tables().DeleteTable(ctx, tableID, tablePath); err != nil {
		return err
	}
	m.logger.Warn("table purged", zapTable(tableID), zapPath(tablePath))
	return nil
}

func corruption(msg string) error {
	return lakeerrors.NewMetaError(lakeerrors.CodeCorruptionDetected, msg, nil)
}
