// Package memstore is an in-memory store.Store backed by ordered btrees.
// A single mutex serializes writers, so AtomicInsert is a true
// compare-and-swap on (table, descriptor, version).
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/btree"
	"github.com/google/uuid"

	lakeerrors "github.com/lakemeta/lakemeta/internal/errors"
	"github.com/lakemeta/lakemeta/internal/store"
	"github.com/lakemeta/lakemeta/pkg/types"
)

const degree = 32

// Store holds every table, partition and data commit in memory.
type Store struct {
	mu sync.RWMutex

	tables map[string]types.TableInfo
	names  map[string]string // table_name -> table_id
	paths  map[string]string // table_path -> table_id

	partitions *btree.BTreeG[types.PartitionInfo]
	commits    *btree.BTreeG[types.DataCommitInfo]
}

var _ store.Store = (*Store)(nil)

func partitionLess(a, b types.PartitionInfo) bool {
	if a.TableID != b.TableID {
		return a.TableID < b.TableID
	}
	if a.PartitionDesc != b.PartitionDesc {
		return a.PartitionDesc < b.PartitionDesc
	}
	return a.Version < b.Version
}

func commitLess(a, b types.DataCommitInfo) bool {
	if a.TableID != b.TableID {
		return a.TableID < b.TableID
	}
	if a.PartitionDesc != b.PartitionDesc {
		return a.PartitionDesc < b.PartitionDesc
	}
	return bytes.Compare(a.CommitID[:], b.CommitID[:]) < 0
}

// New returns an empty store.
func New() *Store {
	return &Store{
		tables:     make(map[string]types.TableInfo),
		names:      make(map[string]string),
		paths:      make(map[string]string),
		partitions: btree.NewG[types.PartitionInfo](degree, partitionLess),
		commits:    btree.NewG[types.DataCommitInfo](degree, commitLess),
	}
}

func (s *Store) Tables() store.TableStore           { return tableStore{s} }
func (s *Store) Partitions() store.PartitionStore   { return partitionStore{s} }
func (s *Store) DataCommits() store.DataCommitStore { return commitStore{s} }
func (s *Store) Close() error                       { return nil }

type partitionStore struct{ s *Store }

func pivot(tableID, desc string, version int) types.PartitionInfo {
	return types.PartitionInfo{TableID: tableID, PartitionDesc: desc, Version: version}
}

// latestLocked must be called with s.mu held.
func (s *Store) latestLocked(tableID, desc string) *types.PartitionInfo {
	var out *types.PartitionInfo
	s.partitions.DescendLessOrEqual(pivot(tableID, desc, math.MaxInt), func(p types.PartitionInfo) bool {
		if p.TableID == tableID && p.PartitionDesc == desc {
			cp := p.Clone()
			out = &cp
		}
		return false
	})
	return out
}

func (p partitionStore) Latest(_ context.Context, tableID, desc string) (*types.PartitionInfo, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	return p.s.latestLocked(tableID, desc), nil
}

func (p partitionStore) AtVersion(_ context.Context, tableID, desc string, version int) (*types.PartitionInfo, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	row, ok := p.s.partitions.Get(pivot(tableID, desc, version))
	if !ok {
		return nil, nil
	}
	cp := row.Clone()
	return &cp, nil
}

func (p partitionStore) AllLatest(_ context.Context, tableID string) ([]types.PartitionInfo, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()

	var out []types.PartitionInfo
	p.s.partitions.AscendGreaterOrEqual(pivot(tableID, "", math.MinInt), func(row types.PartitionInfo) bool {
		if row.TableID != tableID {
			return false
		}
		// versions ascend within a descriptor, so the last one seen wins
		if n := len(out); n > 0 && out[n-1].PartitionDesc == row.PartitionDesc {
			out[n-1] = row.Clone()
		} else {
			out = append(out, row.Clone())
		}
		return true
	})
	return out, nil
}

func (p partitionStore) Versions(_ context.Context, tableID, desc string) ([]types.PartitionInfo, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()

	var out []types.PartitionInfo
	p.s.partitions.AscendGreaterOrEqual(pivot(tableID, desc, math.MinInt), func(row types.PartitionInfo) bool {
		if row.TableID != tableID || row.PartitionDesc != desc {
			return false
		}
		out = append(out, row.Clone())
		return true
	})
	return out, nil
}

func (p partitionStore) RangeLookup(_ context.Context, tableID string, descs []string) ([]types.PartitionInfo, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()

	seen := make(map[string]struct{}, len(descs))
	var out []types.PartitionInfo
	for _, desc := range descs {
		if _, dup := seen[desc]; dup {
			continue
		}
		seen[desc] = struct{}{}
		if row := p.s.latestLocked(tableID, desc); row != nil {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (p partitionStore) AtomicInsert(_ context.Context, rows []types.PartitionInfo) (bool, error) {
	if len(rows) == 0 {
		return true, nil
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	batch := btree.NewG[types.PartitionInfo](degree, partitionLess)
	for _, row := range rows {
		if p.s.partitions.Has(row) {
			return false, nil
		}
		if _, dup := batch.ReplaceOrInsert(row); dup {
			return false, nil
		}
	}
	for _, row := range rows {
		p.s.partitions.ReplaceOrInsert(row.Clone())
	}
	return true, nil
}

func (p partitionStore) DeleteByTable(_ context.Context, tableID string) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.s.deletePartitionsLocked(func(row types.PartitionInfo) bool { return row.TableID == tableID },
		pivot(tableID, "", math.MinInt))
	return nil
}

func (p partitionStore) DeleteByPartition(_ context.Context, tableID, desc string) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.s.deletePartitionsLocked(func(row types.PartitionInfo) bool {
		return row.TableID == tableID && row.PartitionDesc == desc
	}, pivot(tableID, desc, math.MinInt))
	return nil
}

func (s *Store) deletePartitionsLocked(match func(types.PartitionInfo) bool, from types.PartitionInfo) {
	var doomed []types.PartitionInfo
	s.partitions.AscendGreaterOrEqual(from, func(row types.PartitionInfo) bool {
		if !match(row) {
			return false
		}
		doomed = append(doomed, row)
		return true
	})
	for _, row := range doomed {
		s.partitions.Delete(row)
	}
}

type commitStore struct{ s *Store }

func commitKey(tableID, desc string, id uuid.UUID) types.DataCommitInfo {
	return types.DataCommitInfo{TableID: tableID, PartitionDesc: desc, CommitID: id}
}

func cloneCommit(c types.DataCommitInfo) types.DataCommitInfo {
	cp := c
	cp.FileOps = append([]types.DataFileOp(nil), c.FileOps...)
	return cp
}

func (c commitStore) InsertMany(_ context.Context, rows []types.DataCommitInfo) (bool, error) {
	if len(rows) == 0 {
		return true, nil
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	batch := btree.NewG[types.DataCommitInfo](degree, commitLess)
	for _, row := range rows {
		if c.s.commits.Has(row) {
			return false, nil
		}
		if _, dup := batch.ReplaceOrInsert(row); dup {
			return false, nil
		}
	}
	for _, row := range rows {
		c.s.commits.ReplaceOrInsert(cloneCommit(row))
	}
	return true, nil
}

func (c commitStore) ByCommitIDs(_ context.Context, tableID, desc string, ids []uuid.UUID) ([]types.DataCommitInfo, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	out := make([]types.DataCommitInfo, 0, len(ids))
	for _, id := range ids {
		if row, ok := c.s.commits.Get(commitKey(tableID, desc, id)); ok {
			out = append(out, cloneCommit(row))
		}
	}
	return out, nil
}

func (c commitStore) ListByPartition(_ context.Context, tableID, desc string) ([]types.DataCommitInfo, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	var out []types.DataCommitInfo
	c.s.commits.AscendGreaterOrEqual(commitKey(tableID, desc, uuid.Nil), func(row types.DataCommitInfo) bool {
		if row.TableID != tableID || row.PartitionDesc != desc {
			return false
		}
		out = append(out, cloneCommit(row))
		return true
	})
	return out, nil
}

func (c commitStore) deleteMatching(from types.DataCommitInfo, match func(types.DataCommitInfo) bool) {
	var doomed []types.DataCommitInfo
	c.s.commits.AscendGreaterOrEqual(from, func(row types.DataCommitInfo) bool {
		if !match(row) {
			return false
		}
		doomed = append(doomed, row)
		return true
	})
	for _, row := range doomed {
		c.s.commits.Delete(row)
	}
}

func (c commitStore) DeleteByTable(_ context.Context, tableID string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.deleteMatching(commitKey(tableID, "", uuid.Nil), func(row types.DataCommitInfo) bool {
		return row.TableID == tableID
	})
	return nil
}

func (c commitStore) DeleteByPartition(_ context.Context, tableID, desc string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.deleteMatching(commitKey(tableID, desc, uuid.Nil), func(row types.DataCommitInfo) bool {
		return row.TableID == tableID && row.PartitionDesc == desc
	})
	return nil
}

func (c commitStore) Delete(_ context.Context, tableID, desc string, commitID uuid.UUID) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.commits.Delete(commitKey(tableID, desc, commitID))
	return nil
}

type tableStore struct{ s *Store }

func nameConflict(kind, value, owner string) error {
	return lakeerrors.NewMetaError(lakeerrors.CodeNameConflict,
		fmt.Sprintf("table %s %q already belongs to table %s", kind, value, owner), nil)
}

func tableNotFound(tableID string) error {
	return lakeerrors.NewMetaError(lakeerrors.CodeTableNotFound,
		fmt.Sprintf("table %s not found", tableID), nil)
}

func (t tableStore) CreateTable(_ context.Context, info types.TableInfo) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if _, ok := t.s.tables[info.TableID]; ok {
		return nameConflict("id", info.TableID, info.TableID)
	}
	if info.TableName != "" {
		if owner, ok := t.s.names[info.TableName]; ok {
			return nameConflict("name", info.TableName, owner)
		}
	}
	if info.TablePath != "" {
		if owner, ok := t.s.paths[info.TablePath]; ok {
			return nameConflict("path", info.TablePath, owner)
		}
	}

	t.s.tables[info.TableID] = info.Clone()
	if info.TableName != "" {
		t.s.names[info.TableName] = info.TableID
	}
	if info.TablePath != "" {
		t.s.paths[info.TablePath] = info.TableID
	}
	return nil
}

func (t tableStore) GetTable(_ context.Context, tableID string) (*types.TableInfo, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	info, ok := t.s.tables[tableID]
	if !ok {
		return nil, nil
	}
	cp := info.Clone()
	return &cp, nil
}

func (t tableStore) GetTablePathID(_ context.Context, tablePath string) (*types.TablePathID, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	id, ok := t.s.paths[tablePath]
	if !ok {
		return nil, nil
	}
	return &types.TablePathID{TablePath: tablePath, TableID: id}, nil
}

func (t tableStore) GetTableNameID(_ context.Context, tableName string) (*types.TableNameID, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	id, ok := t.s.names[tableName]
	if !ok {
		return nil, nil
	}
	return &types.TableNameID{TableName: tableName, TableID: id}, nil
}

func (t tableStore) ListTablePaths(_ context.Context) ([]string, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	out := make([]string, 0, len(t.s.paths))
	for p := range t.s.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (t tableStore) update(tableID string, fn func(*types.TableInfo)) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	info, ok := t.s.tables[tableID]
	if !ok {
		return tableNotFound(tableID)
	}
	fn(&info)
	t.s.tables[tableID] = info
	return nil
}

func (t tableStore) UpdateProperties(_ context.Context, tableID string, properties map[string]string) error {
	props := types.TableInfo{Properties: properties}.Clone().Properties
	return t.update(tableID, func(info *types.TableInfo) { info.Properties = props })
}

func (t tableStore) UpdateSchema(_ context.Context, tableID, tableSchema string) error {
	return t.update(tableID, func(info *types.TableInfo) { info.TableSchema = tableSchema })
}

func (t tableStore) SetShortName(_ context.Context, tableID, tableName, tablePath string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	info, ok := t.s.tables[tableID]
	if !ok {
		return tableNotFound(tableID)
	}
	if owner, ok := t.s.names[tableName]; ok && owner != tableID {
		return nameConflict("name", tableName, owner)
	}
	movePath := tablePath != "" && tablePath != info.TablePath
	if owner, ok := t.s.paths[tablePath]; movePath && ok && owner != tableID {
		return nameConflict("path", tablePath, owner)
	}
	if info.TableName != "" && info.TableName != tableName {
		delete(t.s.names, info.TableName)
	}
	if movePath {
		if t.s.paths[info.TablePath] == tableID {
			delete(t.s.paths, info.TablePath)
		}
		t.s.paths[tablePath] = tableID
		info.TablePath = tablePath
	}
	info.TableName = tableName
	t.s.tables[tableID] = info
	t.s.names[tableName] = tableID
	return nil
}

func (t tableStore) DeleteShortName(_ context.Context, tableName string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	id, ok := t.s.names[tableName]
	if !ok {
		return nil
	}
	delete(t.s.names, tableName)
	if info, ok := t.s.tables[id]; ok && info.TableName == tableName {
		info.TableName = ""
		t.s.tables[id] = info
	}
	return nil
}

func (t tableStore) DeleteTable(_ context.Context, tableID, tablePath string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if owner, ok := t.s.paths[tablePath]; ok && owner == tableID {
		delete(t.s.paths, tablePath)
	}
	if info, ok := t.s.tables[tableID]; ok {
		if info.TableName != "" && t.s.names[info.TableName] == tableID {
			delete(t.s.names, info.TableName)
		}
		delete(t.s.tables, tableID)
	}
	return nil
}
