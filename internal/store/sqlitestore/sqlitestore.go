package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	lakeerrors "github.com/lakemeta/lakemeta/internal/errors"
	"github.com/lakemeta/lakemeta/internal/store"
	"github.com/lakemeta/lakemeta/pkg/types"
)

// Store implements store.Store on a single SQLite file.
type Store struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at dbPath.
func Open(dbPath string) (*Store, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: failed to initialize schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	s.readDB = readDB

	return s, nil
}

func (s *Store) initSchema() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) Tables() store.TableStore           { return tableStore{s} }
func (s *Store) Partitions() store.PartitionStore   { return partitionStore{s} }
func (s *Store) DataCommits() store.DataCommitStore { return commitStore{s} }

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// Ping checks both connections.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return lakeerrors.NewStoreError("ping", err)
	}
	if err := s.readDB.PingContext(ctx); err != nil {
		return lakeerrors.NewStoreError("ping read pool", err)
	}
	return nil
}

// Close closes both connections.
func (s *Store) Close() error {
	rerr := s.readDB.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return rerr
}

// withTx runs fn in a write transaction, committing when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lakeerrors.NewStoreError("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return lakeerrors.NewStoreError("commit transaction", err)
	}
	return nil
}

// errCollision aborts a transaction whose insert hit an existing key.
var errCollision = errors.New("sqlitestore: key collision")

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

// maxInArgs caps the IN list of one statement. SQLite rejects statements
// with more than 32766 host parameters.
const maxInArgs = 500

// inBatches calls fn with consecutive [lo, hi) windows of at most maxInArgs
// entries covering n.
func inBatches(n int, fn func(lo, hi int) error) error {
	for lo := 0; lo < n; lo += maxInArgs {
		if err := fn(lo, min(lo+maxInArgs, n)); err != nil {
			return err
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func encodeSnapshot(ids []uuid.UUID) []byte {
	b := make([]byte, 0, 16*len(ids))
	for _, id := range ids {
		b = append(b, id[:]...)
	}
	return b
}

func decodeSnapshot(b []byte) ([]uuid.UUID, error) {
	if len(b)%16 != 0 {
		return nil, fmt.Errorf("sqlitestore: snapshot blob of %d bytes is not a multiple of 16", len(b))
	}
	out := make([]uuid.UUID, len(b)/16)
	for i := range out {
		copy(out[i][:], b[i*16:(i+1)*16])
	}
	return out, nil
}

func encodeFileOps(ops []types.DataFileOp) ([]byte, error) {
	raw, err := json.Marshal(ops)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decodeFileOps(b []byte) ([]types.DataFileOp, error) {
	raw, err := snappy.Decode(nil, b)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: corrupt file_ops blob: %w", err)
	}
	var ops []types.DataFileOp
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("sqlitestore: corrupt file_ops json: %w", err)
	}
	return ops, nil
}
