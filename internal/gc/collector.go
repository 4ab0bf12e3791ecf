// Package gc removes data commits that no partition version references,
// together with the data files they added.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	lakeerrors "github.com/lakemeta/lakemeta/internal/errors"
	"github.com/lakemeta/lakemeta/internal/logging"
	"github.com/lakemeta/lakemeta/internal/metrics"
	"github.com/lakemeta/lakemeta/internal/storage"
	"github.com/lakemeta/lakemeta/internal/store"
	"github.com/lakemeta/lakemeta/pkg/types"
)

// DefaultMinAge is the grace period used when none is configured.
const DefaultMinAge = 24 * time.Hour

// tableConcurrency bounds the number of tables swept in parallel.
const tableConcurrency = 4

// Collector sweeps orphaned data commits. A commit is orphaned when no
// version of its partition lists it in the snapshot. Orphans younger than
// the grace period are kept: a writer records its data commits before the
// partition commit that references them.
type Collector struct {
	store   store.Store
	storage storage.ObjectStorage
	minAge  time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewCollector creates a new collector. A nil objs skips file deletion.
func NewCollector(st store.Store, objs storage.ObjectStorage, minAge time.Duration, logger *zap.Logger) *Collector {
	if minAge <= 0 {
		minAge = DefaultMinAge
	}
	return &Collector{
		store:   st,
		storage: objs,
		minAge:  minAge,
		logger:  logging.OrNop(logger).With(zap.String("component", "gc")),
		now:     time.Now,
	}
}

// Result holds the outcome of one sweep.
type Result struct {
	Tables         int
	Partitions     int
	DeletedCommits []uuid.UUID
	DeletedFiles   []string
	// Skipped counts orphans left in place because a file could not be removed.
	Skipped int
	Errors  []string
}

// MinAge returns the grace period.
func (c *Collector) MinAge() time.Duration { return c.minAge }

// Collect runs one sweep over every registered table. Per-commit failures
// are reported in the result; only failures to read the registry abort.
func (c *Collector) Collect(ctx context.Context) (*Result, error) {
	paths, err := c.store.Tables().ListTablePaths(ctx)
	if err != nil {
		metrics.GCSweeps.WithLabelValues(metrics.ResultError).Inc()
		return nil, fmt.Errorf("gc: failed to list tables: %w", err)
	}

	result := &Result{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tableConcurrency)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			pid, err := c.store.Tables().GetTablePathID(gctx, path)
			if err != nil {
				return err
			}
			if pid == nil {
				// Deleted since listing.
				return nil
			}
			tr, err := c.collectTable(gctx, pid.TableID)
			if err != nil {
				return fmt.Errorf("gc: table %s: %w", pid.TableID, err)
			}
			mu.Lock()
			result.merge(tr)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.GCSweeps.WithLabelValues(metrics.ResultError).Inc()
		return result, err
	}

	metrics.GCSweeps.WithLabelValues(metrics.ResultCommitted).Inc()
	metrics.GCCommitsRemoved.Add(float64(len(result.DeletedCommits)))
	metrics.GCFilesRemoved.Add(float64(len(result.DeletedFiles)))
	if len(result.DeletedCommits) > 0 || len(result.Errors) > 0 {
		c.logger.Info("sweep finished",
			zap.Int("tables", result.Tables),
			zap.Int("partitions", result.Partitions),
			zap.Int("deleted_commits", len(result.DeletedCommits)),
			zap.Int("deleted_files", len(result.DeletedFiles)),
			zap.Int("skipped", result.Skipped),
			zap.Int("errors", len(result.Errors)))
	}
	return result, nil
}

func (r *Result) merge(o *Result) {
	r.Tables += o.Tables
	r.Partitions += o.Partitions
	r.DeletedCommits = append(r.DeletedCommits, o.DeletedCommits...)
	r.DeletedFiles = append(r.DeletedFiles, o.DeletedFiles...)
	r.Skipped += o.Skipped
	r.Errors = append(r.Errors, o.Errors...)
}

func (c *Collector) collectTable(ctx context.Context, tableID string) (*Result, error) {
	latest, err := c.store.Partitions().AllLatest(ctx, tableID)
	if err != nil {
		return nil, err
	}
	result := &Result{Tables: 1}
	for _, p := range latest {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.collectPartition(ctx, tableID, p.PartitionDesc, result); err != nil {
			return nil, err
		}
		result.Partitions++
	}
	return result, nil
}

func (c *Collector) collectPartition(ctx context.Context, tableID, desc string, result *Result) error {
	versions, err := c.store.Partitions().Versions(ctx, tableID, desc)
	if err != nil {
		return err
	}
	referenced := make(map[uuid.UUID]struct{})
	for _, v := range versions {
		for _, id := range v.Snapshot {
			referenced[id] = struct{}{}
		}
	}

	commits, err := c.store.DataCommits().ListByPartition(ctx, tableID, desc)
	if err != nil {
		return err
	}
	cutoff := c.now().Add(-c.minAge).UnixMilli()
	for _, dc := range commits {
		if _, ok := referenced[dc.CommitID]; ok {
			continue
		}
		if dc.Timestamp > cutoff {
			continue
		}
		files, err := c.removeFiles(ctx, dc)
		result.DeletedFiles = append(result.DeletedFiles, files...)
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, err.Error())
			c.logger.Warn("keeping orphaned commit, file removal failed",
				zap.String("table_id", tableID), zap.String("partition_desc", desc),
				zap.Stringer("commit_id", dc.CommitID), zap.Bool("retryable", lakeerrors.IsRetryable(err)),
				zap.Error(err))
			continue
		}
		if err := c.store.DataCommits().Delete(ctx, tableID, desc, dc.CommitID); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.DeletedCommits = append(result.DeletedCommits, dc.CommitID)
		c.logger.Debug("removed orphaned commit",
			zap.String("table_id", tableID), zap.String("partition_desc", desc),
			zap.Stringer("commit_id", dc.CommitID), zap.Int("files", len(files)))
	}
	return nil
}

// removeFiles deletes the files a commit added. It stops at the first
// failure and returns the files removed so far.
func (c *Collector) removeFiles(ctx context.Context, dc types.DataCommitInfo) ([]string, error) {
	if c.storage == nil {
		return nil, nil
	}
	var removed []string
	for _, path := range dc.AddedPaths() {
		if err := c.storage.Delete(ctx, path); err != nil {
			return removed, lakeerrors.NewStorageError(lakeerrors.CodeDeleteFailed,
				fmt.Sprintf("commit %s: delete %s", dc.CommitID, path), err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}
