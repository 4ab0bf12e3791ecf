package observability

import (
	"sync"
	"testing"
	"time"
)

// TestRecordConflictConcurrent tests concurrent RecordConflict calls for race conditions.
func TestRecordConflictConcurrent(t *testing.T) {
	cs := NewConflictStats(time.Hour)
	var wg sync.WaitGroup
	numGoroutines := 10
	perGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				cs.RecordConflict("t1", "date=1", "AppendCommit")
				cs.RecordConflict("t1", "date=2", "CompactionCommit")
			}
		}()
	}
	wg.Wait()

	parts := cs.TopPartitions(10)
	if len(parts) != 2 {
		t.Fatalf("expected 2 partitions, got %d", len(parts))
	}
	want := int64(numGoroutines * perGoroutine)
	for _, p := range parts {
		if p.Conflicts != want {
			t.Errorf("expected %d conflicts for %s, got %d", want, p.PartitionDesc, p.Conflicts)
		}
	}

	tables := cs.TopTables(10)
	if len(tables) != 1 || tables[0].Conflicts != 2*want {
		t.Errorf("expected one table with %d conflicts, got %+v", 2*want, tables)
	}
}

// TestTopPartitionsOrdering tests that results are sorted by conflict count.
func TestTopPartitionsOrdering(t *testing.T) {
	cs := NewConflictStats(time.Hour)
	for i := 0; i < 10; i++ {
		cs.RecordConflict("t1", "a", "AppendCommit")
	}
	for i := 0; i < 5; i++ {
		cs.RecordConflict("t1", "b", "MergeCommit")
	}
	for i := 0; i < 20; i++ {
		cs.RecordConflict("t2", "c", "UpdateCommit")
	}

	top := cs.TopPartitions(2)
	if len(top) != 2 {
		t.Fatalf("expected 2 partitions, got %d", len(top))
	}
	if top[0].PartitionDesc != "c" || top[0].Conflicts != 20 {
		t.Errorf("expected c with 20 conflicts, got %s with %d", top[0].PartitionDesc, top[0].Conflicts)
	}
	if top[1].PartitionDesc != "a" || top[1].Conflicts != 10 {
		t.Errorf("expected a with 10 conflicts, got %s with %d", top[1].PartitionDesc, top[1].Conflicts)
	}
}

// TestRecordConflictTracksOps tests the per-op distribution.
func TestRecordConflictTracksOps(t *testing.T) {
	cs := NewConflictStats(time.Hour)
	cs.RecordConflict("t1", "a", "AppendCommit")
	cs.RecordConflict("t1", "a", "AppendCommit")
	cs.RecordConflict("t1", "a", "CompactionCommit")

	top := cs.TopPartitions(1)
	if top[0].Ops["AppendCommit"] != 2 || top[0].Ops["CompactionCommit"] != 1 {
		t.Errorf("unexpected op distribution: %v", top[0].Ops)
	}

	// returned copies must not alias internal state
	top[0].Ops["AppendCommit"] = 99
	if cs.TopPartitions(1)[0].Ops["AppendCommit"] != 2 {
		t.Error("TopPartitions should return copies")
	}
}

// TestPruneRemovesOldEntries tests that Prune removes entries older than the window.
func TestPruneRemovesOldEntries(t *testing.T) {
	window := 100 * time.Millisecond
	cs := NewConflictStats(window)
	cs.RecordConflict("t1", "a", "AppendCommit")

	if len(cs.TopPartitions(10)) != 1 {
		t.Fatal("expected 1 partition before prune")
	}

	time.Sleep(window + 50*time.Millisecond)
	cs.Prune()

	if len(cs.TopPartitions(10)) != 0 || len(cs.TopTables(10)) != 0 {
		t.Error("expected no entries after prune")
	}
}

// TestTopEmpty tests the empty and non-positive limit cases.
func TestTopEmpty(t *testing.T) {
	cs := NewConflictStats(time.Hour)
	if len(cs.TopPartitions(10)) != 0 {
		t.Error("expected empty result")
	}
	cs.RecordConflict("t1", "a", "AppendCommit")
	if len(cs.TopPartitions(0)) != 0 {
		t.Error("expected empty result for n=0")
	}
}
