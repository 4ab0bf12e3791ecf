// Package sqlitestore implements store.Store on SQLite, either as one
// database file or as a catalog plus murmur3-selected shard files.
package sqlitestore

// CreateTableInfoSQL creates the table registry.
// properties and partitions hold JSON.
const CreateTableInfoSQL = `
CREATE TABLE IF NOT EXISTS table_info (
    table_id TEXT PRIMARY KEY,
    table_name TEXT NOT NULL DEFAULT '',
    table_path TEXT NOT NULL,
    table_schema TEXT NOT NULL DEFAULT '',
    properties TEXT NOT NULL DEFAULT 'null',
    partitions TEXT NOT NULL DEFAULT 'null'
)`

// CreateTableNameIDSQL creates the unique short-name index.
const CreateTableNameIDSQL = `
CREATE TABLE IF NOT EXISTS table_name_id (
    table_name TEXT PRIMARY KEY,
    table_id TEXT NOT NULL
)`

// CreateTablePathIDSQL creates the unique path index.
const CreateTablePathIDSQL = `
CREATE TABLE IF NOT EXISTS table_path_id (
    table_path TEXT PRIMARY KEY,
    table_id TEXT NOT NULL
)`

// CreatePartitionInfoSQL creates the versioned partition table.
// snapshot is the concatenation of 16-byte commit ids.
// The primary key is what makes concurrent inserts of one version collide.
const CreatePartitionInfoSQL = `
CREATE TABLE IF NOT EXISTS partition_info (
    table_id TEXT NOT NULL,
    partition_desc TEXT NOT NULL,
    version INTEGER NOT NULL,
    commit_op TEXT NOT NULL,
    snapshot BLOB NOT NULL,
    expression TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (table_id, partition_desc, version)
)`

// CreatePartitionInfoIndexSQL serves latest-version lookups.
const CreatePartitionInfoIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_partition_info_latest
    ON partition_info(table_id, partition_desc, version DESC)`

// CreateDataCommitInfoSQL creates the data commit table.
// file_ops is snappy-compressed JSON.
const CreateDataCommitInfoSQL = `
CREATE TABLE IF NOT EXISTS data_commit_info (
    table_id TEXT NOT NULL,
    partition_desc TEXT NOT NULL,
    commit_id TEXT NOT NULL,
    file_ops BLOB NOT NULL,
    commit_op TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    PRIMARY KEY (table_id, partition_desc, commit_id)
)`

// AllSchemaSQL returns all SQL statements needed to initialize a database.
func AllSchemaSQL() []string {
	return []string{
		CreateTableInfoSQL,
		CreateTableNameIDSQL,
		CreateTablePathIDSQL,
		CreatePartitionInfoSQL,
		CreatePartitionInfoIndexSQL,
		CreateDataCommitInfoSQL,
	}
}
