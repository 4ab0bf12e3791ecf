// Package observability tracks commit conflict hot spots per partition.
package observability

import (
	"sort"
	"sync"
	"time"
)

// ConflictStats counts failed optimistic inserts per table and partition.
type ConflictStats struct {
	mu        sync.RWMutex
	partition map[string]*PartitionStats
	table     map[string]*PartitionStats
	window    time.Duration
}

// PartitionStats holds conflict statistics for one partition (or one table
// when PartitionDesc is empty).
type PartitionStats struct {
	TableID       string         `json:"table_id"`
	PartitionDesc string         `json:"partition_desc,omitempty"`
	Conflicts     int64          `json:"conflicts"`
	LastSeen      time.Time      `json:"last_seen"`
	Ops           map[string]int `json:"ops"` // commit op → count
}

// NewConflictStats creates a tracker whose entries expire after window.
func NewConflictStats(window time.Duration) *ConflictStats {
	return &ConflictStats{
		partition: make(map[string]*PartitionStats),
		table:     make(map[string]*PartitionStats),
		window:    window,
	}
}

// RecordConflict records that a commit with op lost a race on the partition.
func (c *ConflictStats) RecordConflict(tableID, partitionDesc, op string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	bump(c.partition, tableID+"\x00"+partitionDesc, tableID, partitionDesc, op, now)
	bump(c.table, tableID, tableID, "", op, now)
}

func bump(m map[string]*PartitionStats, key, tableID, desc, op string, now time.Time) {
	s, ok := m[key]
	if !ok {
		s = &PartitionStats{
			TableID:       tableID,
			PartitionDesc: desc,
			Ops:           make(map[string]int),
		}
		m[key] = s
	}
	s.Conflicts++
	s.LastSeen = now
	s.Ops[op]++
}

// TopPartitions returns the n most contended partitions, most conflicts first.
func (c *ConflictStats) TopPartitions(n int) []PartitionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return top(c.partition, n)
}

// TopTables returns the n most contended tables, most conflicts first.
func (c *ConflictStats) TopTables(n int) []PartitionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return top(c.table, n)
}

func top(m map[string]*PartitionStats, n int) []PartitionStats {
	if n <= 0 || len(m) == 0 {
		return []PartitionStats{}
	}

	out := make([]PartitionStats, 0, len(m))
	for _, s := range m {
		cp := *s
		cp.Ops = make(map[string]int, len(s.Ops))
		for op, count := range s.Ops {
			cp.Ops[op] = count
		}
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Conflicts != out[j].Conflicts {
			return out[i].Conflicts > out[j].Conflicts
		}
		if out[i].TableID != out[j].TableID {
			return out[i].TableID < out[j].TableID
		}
		return out[i].PartitionDesc < out[j].PartitionDesc
	})

	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}

// Prune removes entries not seen within the window.
func (c *ConflictStats) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()

	threshold := time.Now().Add(-c.window)
	for k, s := range c.partition {
		if s.LastSeen.Before(threshold) {
			delete(c.partition, k)
		}
	}
	for k, s := range c.table {
		if s.LastSeen.Before(threshold) {
			delete(c.table, k)
		}
	}
}
