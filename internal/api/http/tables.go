package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	lakeerrors "github.com/lakemeta/lakemeta/internal/errors"
	"github.com/lakemeta/lakemeta/pkg/types"
)

// TablesResponse lists registered table paths.
type TablesResponse struct {
	Tables []string `json:"tables"`
	Count  int      `json:"count"`
}

// SchemaRequest replaces a table schema.
type SchemaRequest struct {
	Schema string `json:"schema"`
}

// PropertiesRequest replaces table properties.
type PropertiesRequest struct {
	Properties map[string]string `json:"properties"`
}

// NameRequest assigns a short name.
type NameRequest struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return lakeerrors.NewValidationError(lakeerrors.CodeInvalidArgument, fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

func (h *handlers) createTable(w http.ResponseWriter, r *http.Request) {
	var info types.TableInfo
	if err := decode(r, &info); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.mgr.CreateTable(r.Context(), info); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *handlers) getTables(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := r.URL.Query().Get("path")
	if name := r.URL.Query().Get("name"); name != "" {
		p, err := h.mgr.GetTablePathFromShortName(ctx, name)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if p == "" {
			h.fail(w, r, lakeerrors.NewMetaError(lakeerrors.CodeTableNotFound, fmt.Sprintf("no table named %s", name), nil))
			return
		}
		path = p
	}

	if path == "" {
		paths, err := h.mgr.ListTables(ctx)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, TablesResponse{Tables: paths, Count: len(paths)})
		return
	}

	info, err := h.mgr.GetTableInfo(ctx, path)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if info == nil {
		h.fail(w, r, lakeerrors.NewMetaError(lakeerrors.CodeTableNotFound, fmt.Sprintf("no table at %s", path), nil))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handlers) deleteTable(w http.ResponseWriter, r *http.Request) {
	tableID := urlParam(r, "tableID")
	path := r.URL.Query().Get("path")
	if path == "" {
		info, err := h.mgr.GetTableInfoByID(r.Context(), tableID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if info == nil {
			h.fail(w, r, lakeerrors.NewMetaError(lakeerrors.CodeTableNotFound, fmt.Sprintf("table %s not found", tableID), nil))
			return
		}
		path = info.TablePath
	}

	var err error
	purge := r.URL.Query().Get("purge") == "true"
	if purge {
		err = h.mgr.PurgeTable(r.Context(), tableID, path)
	} else {
		err = h.mgr.DeleteTable(r.Context(), tableID, path)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "deleted", "table_id": tableID, "purged": purge})
}

func (h *handlers) updateSchema(w http.ResponseWriter, r *http.Request) {
	var req SchemaRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	tableID := urlParam(r, "tableID")
	if err := h.mgr.UpdateTableSchema(r.Context(), tableID, req.Schema); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "table_id": tableID})
}

func (h *handlers) updateProperties(w http.ResponseWriter, r *http.Request) {
	var req PropertiesRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	tableID := urlParam(r, "tableID")
	if err := h.mgr.UpdateTableProperties(r.Context(), tableID, req.Properties); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "table_id": tableID})
}

func (h *handlers) updateShortName(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Name == "" {
		h.fail(w, r, lakeerrors.NewValidationError(lakeerrors.CodeInvalidArgument, "name is required"))
		return
	}
	tableID := urlParam(r, "tableID")
	if err := h.mgr.UpdateTableShortName(r.Context(), req.Path, tableID, req.Name); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "named", "table_id": tableID, "name": req.Name})
}

func (h *handlers) deleteShortName(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")
	if err := h.mgr.DeleteShortTableName(r.Context(), name); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
}
