// Package pgstore implements store.Store on PostgreSQL through a pgx pool.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	lakeerrors "github.com/lakemeta/lakemeta/internal/errors"
	"github.com/lakemeta/lakemeta/internal/logging"
	"github.com/lakemeta/lakemeta/internal/store"
	"github.com/lakemeta/lakemeta/pkg/types"
)

// uniqueViolation is the SQLSTATE of a duplicate key.
const uniqueViolation = "23505"

var schemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS table_info (
		table_id     TEXT PRIMARY KEY,
		table_name   TEXT NOT NULL DEFAULT '',
		table_path   TEXT NOT NULL,
		table_schema TEXT NOT NULL DEFAULT '',
		properties   JSONB,
		partitions   TEXT[]
	)`,
	`CREATE TABLE IF NOT EXISTS table_name_id (
		table_name TEXT PRIMARY KEY,
		table_id   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS table_path_id (
		table_path TEXT PRIMARY KEY,
		table_id   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS partition_info (
		table_id       TEXT NOT NULL,
		partition_desc TEXT NOT NULL,
		version        INTEGER NOT NULL,
		commit_op      TEXT NOT NULL,
		snapshot       UUID[] NOT NULL,
		expression     TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (table_id, partition_desc, version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_partition_info_latest
		ON partition_info (table_id, partition_desc, version DESC)`,
	`CREATE TABLE IF NOT EXISTS data_commit_info (
		table_id       TEXT NOT NULL,
		partition_desc TEXT NOT NULL,
		commit_id      UUID NOT NULL,
		file_ops       JSONB NOT NULL,
		commit_op      TEXT NOT NULL,
		timestamp      BIGINT NOT NULL,
		PRIMARY KEY (table_id, partition_desc, commit_id)
	)`,
}

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and creates the schema if needed.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore connect: %w", err)
	}
	s := &Store{pool: pool, logger: logging.OrNop(logger).With(zap.String("component", "pgstore"))}

	for _, stmt := range schemaSQL {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("pgstore create schema: %w", err)
		}
	}
	s.logger.Info("postgres metadata store ready")
	return s, nil
}

func (s *Store) Tables() store.TableStore           { return tableStore{s} }
func (s *Store) Partitions() store.PartitionStore   { return partitionStore{s} }
func (s *Store) DataCommits() store.DataCommitStore { return commitStore{s} }

// Ping checks that a pooled connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return lakeerrors.NewStoreError("ping", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// errCollision aborts a transaction whose insert hit an existing key.
var errCollision = errors.New("pgstore: key collision")

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return lakeerrors.NewStoreError("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return errCollision
		}
		return lakeerrors.NewStoreError("commit transaction", err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return lakeerrors.NewStoreError("exec", err)
	}
	return nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(ss []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(ss))
	for i, s := range ss {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

type partitionStore struct{ s *Store }

const partitionSelect = `SELECT table_id, partition_desc, version, commit_op, snapshot::text[], expression FROM partition_info`

func scanPartition(row pgx.Row) (types.PartitionInfo, error) {
	var p types.PartitionInfo
	var op string
	var snap []string
	if err := row.Scan(&p.TableID, &p.PartitionDesc, &p.Version, &op, &snap, &p.Expression); err != nil {
		return p, err
	}
	p.CommitOp = types.CommitOp(op)
	ids, err := parseUUIDs(snap)
	if err != nil {
		return p, err
	}
	p.Snapshot = ids
	return p, nil
}

func (p partitionStore) queryOne(ctx context.Context, query string, args ...any) (*types.PartitionInfo, error) {
	row, err := scanPartition(p.s.pool.QueryRow(ctx, query, args...))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, lakeerrors.NewStoreError("query partition_info", err)
	}
	return &row, nil
}

func (p partitionStore) queryMany(ctx context.Context, query string, args ...any) ([]types.PartitionInfo, error) {
	rows, err := p.s.pool.Query(ctx, query, args...)
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
	return p.queryOne(ctx, partitionSelect+` WHERE table_id = $1 AND partition_desc = $2 ORDER BY version DESC LIMIT 1`,
		tableID, desc)
}

func (p partitionStore) AtVersion(ctx context.Context, tableID, desc string, version int) (*types.PartitionInfo, error) {
	return p.queryOne(ctx, partitionSelect+` WHERE table_id = $1 AND partition_desc = $2 AND version = $3`,
		tableID, desc, version)
}

func (p partitionStore) AllLatest(ctx context.Context, tableID string) ([]types.PartitionInfo, error) {
	return p.queryMany(ctx, `SELECT DISTINCT ON (partition_desc)
		table_id, partition_desc, version, commit_op, snapshot::text[], expression
		FROM partition_info WHERE table_id = $1
		ORDER BY partition_desc, version DESC`, tableID)
}

func (p partitionStore) Versions(ctx context.Context, tableID, desc string) ([]types.PartitionInfo, error) {
	return p.queryMany(ctx, partitionSelect+` WHERE table_id = $1 AND partition_desc = $2 ORDER BY version`,
		tableID, desc)
}

func (p partitionStore) RangeLookup(ctx context.Context, tableID string, descs []string) ([]types.PartitionInfo, error) {
	if len(descs) == 0 {
		return nil, nil
	}
	return p.queryMany(ctx, `SELECT DISTINCT ON (partition_desc)
		table_id, partition_desc, version, commit_op, snapshot::text[], expression
		FROM partition_info WHERE table_id = $1 AND partition_desc = ANY($2::text[])
		ORDER BY partition_desc, version DESC`, tableID, descs)
}

func (p partitionStore) AtomicInsert(ctx context.Context, rows []types.PartitionInfo) (bool, error) {
	if len(rows) == 0 {
		return true, nil
	}
	err := p.s.withTx(ctx, func(tx pgx.Tx) error {
		for _, r := range rows {
			_, err := tx.Exec(ctx, `INSERT INTO partition_info
				(table_id, partition_desc, version, commit_op, snapshot, expression)
				VALUES ($1, $2, $3, $4, $5::text[]::uuid[], $6)`,
				r.TableID, r.PartitionDesc, r.Version, string(r.CommitOp), uuidStrings(r.Snapshot), r.Expression)
			if isUniqueViolation(err) {
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
	return p.s.exec(ctx, `DELETE FROM partition_info WHERE table_id = $1`, tableID)
}

func (p partitionStore) DeleteByPartition(ctx context.Context, tableID, desc string) error {
	return p.s.exec(ctx, `DELETE FROM partition_info WHERE table_id = $1 AND partition_desc = $2`, tableID, desc)
}

type commitStore struct{ s *Store }

const commitSelect = `SELECT table_id, partition_desc, commit_id::text, file_ops, commit_op, timestamp FROM data_commit_info`

func scanCommit(row pgx.Row) (types.DataCommitInfo, error) {
	var c types.DataCommitInfo
	var id, op string
	var ops []byte
	if err := row.Scan(&c.TableID, &c.PartitionDesc, &id, &ops, &op, &c.Timestamp); err != nil {
		return c, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return c, err
	}
	c.CommitID = parsed
	c.CommitOp = types.CommitOp(op)
	if err := json.Unmarshal(ops, &c.FileOps); err != nil {
		return c, err
	}
	return c, nil
}

func (c commitStore) queryMany(ctx context.Context, query string, args ...any) ([]types.DataCommitInfo, error) {
	rows, err := c.s.pool.Query(ctx, query, args...)
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

func (c commitStore) InsertMany(ctx context.Context, rows []types.DataCommitInfo) (bool, error) {
	if len(rows) == 0 {
		return true, nil
	}
	err := c.s.withTx(ctx, func(tx pgx.Tx) error {
		for _, r := range rows {
			ops, err := json.Marshal(r.FileOps)
			if err != nil {
				return lakeerrors.NewInternalError("encode file ops", err)
			}
			_, err = tx.Exec(ctx, `INSERT INTO data_commit_info
				(table_id, partition_desc, commit_id, file_ops, commit_op, timestamp)
				VALUES ($1, $2, $3::text::uuid, $4::jsonb, $5, $6)`,
				r.TableID, r.PartitionDesc, r.CommitID.String(), string(ops), string(r.CommitOp), r.Timestamp)
			if isUniqueViolation(err) {
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

func (c commitStore) ByCommitIDs(ctx context.Context, tableID, desc string, ids []uuid.UUID) ([]types.DataCommitInfo, error) {
	if len(ids) == 0 {
		return []types.DataCommitInfo{}, nil
	}
	found, err := c.queryMany(ctx, commitSelect+` WHERE table_id = $1 AND partition_desc = $2 AND commit_id = ANY($3::text[]::uuid[])`,
		tableID, desc, uuidStrings(ids))
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
	return c.queryMany(ctx, commitSelect+` WHERE table_id = $1 AND partition_desc = $2 ORDER BY commit_id`, tableID, desc)
}

func (c commitStore) DeleteByTable(ctx context.Context, tableID string) error {
	return c.s.exec(ctx, `DELETE FROM data_commit_info WHERE table_id = $1`, tableID)
}

func (c commitStore) DeleteByPartition(ctx context.Context, tableID, desc string) error {
	return c.s.exec(ctx, `DELETE FROM data_commit_info WHERE table_id = $1 AND partition_desc = $2`, tableID, desc)
}

func (c commitStore) Delete(ctx context.Context, tableID, desc string, commitID uuid.UUID) error {
	return c.s.exec(ctx, `DELETE FROM data_commit_info WHERE table_id = $1 AND partition_desc = $2 AND commit_id = $3::text::uuid`,
		tableID, desc, commitID.String())
}
