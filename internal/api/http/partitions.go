package http

import (
	"fmt"
	"net/http"
	"strconv"

	lakeerrors "github.com/lakemeta/lakemeta/internal/errors"
	"github.com/lakemeta/lakemeta/internal/observability"
	"github.com/lakemeta/lakemeta/pkg/types"
)

// CommitRequest is a commit proposal. The table id comes from the URL; the
// table block only carries an optional short name, properties and schema.
type CommitRequest struct {
	Op           string                `json:"op"`
	ChangeSchema bool                  `json:"change_schema,omitempty"`
	Table        types.TableInfo       `json:"table"`
	Partitions   []types.PartitionInfo `json:"partitions"`
}

// CommitResponse reports whether a commit or delete was applied.
type CommitResponse struct {
	Committed bool   `json:"committed"`
	RequestID string `json:"request_id,omitempty"`
}

// DataCommitsRequest records data commits in one batch.
type DataCommitsRequest struct {
	Commits []types.DataCommitInfo `json:"commits"`
}

// RollbackRequest names the version to republish.
type RollbackRequest struct {
	Version int `json:"version"`
}

// SnapshotResponse is a partition version with its data commits resolved.
type SnapshotResponse struct {
	Partition   types.PartitionInfo    `json:"partition"`
	DataCommits []types.DataCommitInfo `json:"data_commits"`
}

// ConflictStatsResponse lists the partitions and tables losing the most
// optimistic inserts.
type ConflictStatsResponse struct {
	Partitions []observability.PartitionStats `json:"partitions"`
	Tables     []observability.PartitionStats `json:"tables"`
}

func (h *handlers) writeOutcome(w http.ResponseWriter, r *http.Request, ok bool) {
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	writeJSON(w, status, CommitResponse{Committed: ok, RequestID: GetRequestID(r.Context())})
}

func (h *handlers) commitData(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	op, err := types.ParseCommitOp(req.Op)
	if err != nil {
		h.fail(w, r, lakeerrors.NewValidationError(lakeerrors.CodeInvalidCommitOp, err.Error()))
		return
	}
	req.Table.TableID = urlParam(r, "tableID")

	ok, err := h.mgr.CommitData(r.Context(), types.MetaInfo{Table: req.Table, Partitions: req.Partitions}, req.ChangeSchema, op)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeOutcome(w, r, ok)
}

func (h *handlers) commitDataInfo(w http.ResponseWriter, r *http.Request) {
	var req DataCommitsRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	tableID := urlParam(r, "tableID")
	for i := range req.Commits {
		if req.Commits[i].TableID == "" {
			req.Commits[i].TableID = tableID
		}
		if req.Commits[i].TableID != tableID {
			h.fail(w, r, lakeerrors.NewValidationError(lakeerrors.CodeInvalidArgument,
				fmt.Sprintf("data commit %s belongs to table %s", req.Commits[i].CommitID, req.Commits[i].TableID)))
			return
		}
	}

	ok, err := h.mgr.BatchCommitDataCommitInfo(r.Context(), req.Commits)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if ok {
		writeJSON(w, http.StatusCreated, CommitResponse{Committed: true, RequestID: GetRequestID(r.Context())})
		return
	}
	h.writeOutcome(w, r, false)
}

func (h *handlers) listPartitions(w http.ResponseWriter, r *http.Request) {
	parts, err := h.mgr.GetAllPartitionInfo(r.Context(), urlParam(r, "tableID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if parts == nil {
		parts = []types.PartitionInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"partitions": parts, "count": len(parts)})
}

func (h *handlers) logicalDeleteTable(w http.ResponseWriter, r *http.Request) {
	ok, err := h.mgr.LogicalDeleteTable(r.Context(), urlParam(r, "tableID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeOutcome(w, r, ok)
}

// versionParam parses ?version=. It returns -1 when the parameter is absent.
func versionParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("version")
	if raw == "" {
		return -1, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, lakeerrors.NewValidationError(lakeerrors.CodeInvalidArgument, fmt.Sprintf("invalid version %q", raw))
	}
	return v, nil
}

// lookupPartition resolves the latest version or the ?version= one.
func (h *handlers) lookupPartition(r *http.Request) (*types.PartitionInfo, error) {
	tableID, desc := urlParam(r, "tableID"), urlParam(r, "desc")
	version, err := versionParam(r)
	if err != nil {
		return nil, err
	}
	var p *types.PartitionInfo
	if version < 0 {
		p, err = h.mgr.GetSinglePartitionInfo(r.Context(), tableID, desc)
	} else {
		p, err = h.mgr.GetPartitionSnapshot(r.Context(), tableID, desc, version)
	}
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, lakeerrors.NewMetaError(lakeerrors.CodeObjectNotFound,
			fmt.Sprintf("partition %s/%s not found", tableID, desc), nil)
	}
	return p, nil
}

func (h *handlers) getPartition(w http.ResponseWriter, r *http.Request) {
	p, err := h.lookupPartition(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) deletePartition(w http.ResponseWriter, r *http.Request) {
	tableID, desc := urlParam(r, "tableID"), urlParam(r, "desc")
	if r.URL.Query().Get("purge") == "true" {
		if err := h.mgr.DeletePartitionInfoByTableAndPartition(r.Context(), tableID, desc); err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "purged", "table_id": tableID, "partition_desc": desc})
		return
	}
	ok, err := h.mgr.LogicalDeletePartition(r.Context(), tableID, desc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeOutcome(w, r, ok)
}

func (h *handlers) partitionVersions(w http.ResponseWriter, r *http.Request) {
	tableID, desc := urlParam(r, "tableID"), urlParam(r, "desc")
	versions, err := h.mgr.GetPartitionVersions(r.Context(), tableID, desc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(versions) == 0 {
		h.fail(w, r, lakeerrors.NewMetaError(lakeerrors.CodeObjectNotFound,
			fmt.Sprintf("partition %s/%s not found", tableID, desc), nil))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": versions, "count": len(versions)})
}

func (h *handlers) partitionSnapshot(w http.ResponseWriter, r *http.Request) {
	p, err := h.lookupPartition(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	commits, err := h.mgr.GetTableSinglePartitionDataInfo(r.Context(), *p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotResponse{Partition: *p, DataCommits: commits})
}

func (h *handlers) rollbackPartition(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ok, err := h.mgr.RollbackPartition(r.Context(), urlParam(r, "tableID"), urlParam(r, "desc"), req.Version)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeOutcome(w, r, ok)
}

func (h *handlers) conflictStats(w http.ResponseWriter, r *http.Request) {
	n := 10
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			h.fail(w, r, lakeerrors.NewValidationError(lakeerrors.CodeInvalidArgument, fmt.Sprintf("invalid n %q", raw)))
			return
		}
		n = v
	}
	resp := ConflictStatsResponse{
		Partitions: []observability.PartitionStats{},
		Tables:     []observability.PartitionStats{},
	}
	if h.conflicts != nil {
		h.conflicts.Prune()
		if top := h.conflicts.TopPartitions(n); top != nil {
			resp.Partitions = top
		}
		if top := h.conflicts.TopTables(n); top != nil {
			resp.Tables = top
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
