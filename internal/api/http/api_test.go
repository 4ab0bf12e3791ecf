package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lakemeta/lakemeta/internal/meta"
	"github.com/lakemeta/lakemeta/internal/observability"
	"github.com/lakemeta/lakemeta/internal/server"
	"github.com/lakemeta/lakemeta/internal/store/memstore"
	"github.com/lakemeta/lakemeta/pkg/types"
)

func fileID(label string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(label))
}

type apiFixture struct {
	srv *httptest.Server
	mgr *meta.Manager
}

func newAPI(t *testing.T, opts ...func(*Options)) *apiFixture {
	t.Helper()
	stats := observability.NewConflictStats(time.Hour)
	mgr := meta.New(memstore.New(), meta.WithConflictStats(stats))
	o := Options{Manager: mgr, Conflicts: stats}
	for _, fn := range opts {
		fn(&o)
	}
	srv := httptest.NewServer(NewHandler(o))
	t.Cleanup(srv.Close)
	return &apiFixture{srv: srv, mgr: mgr}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (f *apiFixture) createTable(t *testing.T) {
	t.Helper()
	resp, _ := f.do(t, http.MethodPost, "/v1/tables", types.TableInfo{TableID: "t1", TablePath: "s3://lake/t1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestAPI_TableLifecycle(t *testing.T) {
	f := newAPI(t)
	f.createTable(t)

	resp, body := f.do(t, http.MethodPost, "/v1/tables", types.TableInfo{TableID: "t2", TablePath: "s3://lake/t1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "NAME_CONFLICT", body["code"])

	resp, body = f.do(t, http.MethodPost, "/v1/tables", types.TableInfo{TableID: "t3"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/v1/tables", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, body = f.do(t, http.MethodGet, "/v1/tables?path="+url.QueryEscape("s3://lake/t1"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "t1", body["table_id"])

	resp, _ = f.do(t, http.MethodPut, "/v1/tables/t1/name", NameRequest{Name: "events"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = f.do(t, http.MethodGet, "/v1/tables?name=events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "s3://lake/t1", body["table_path"])

	resp, _ = f.do(t, http.MethodPut, "/v1/tables/t1/name", NameRequest{Name: "clicks"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/v1/tables/t1/schema", SchemaRequest{Schema: "s1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPut, "/v1/tables/t1/properties", PropertiesRequest{Properties: map[string]string{"k": "v"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info, err := f.mgr.GetTableInfoByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "s1", info.TableSchema)
	assert.Equal(t, map[string]string{"k": "v"}, info.Properties)

	resp, _ = f.do(t, http.MethodPut, "/v1/tables/missing/schema", SchemaRequest{Schema: "s1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/v1/names/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/v1/tables?name=events", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/v1/tables/t1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/v1/tables?path="+url.QueryEscape("s3://lake/t1"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_CommitAndRead(t *testing.T) {
	f := newAPI(t)
	f.createTable(t)

	resp, body := f.do(t, http.MethodPost, "/v1/tables/t1/data-commits", DataCommitsRequest{Commits: []types.DataCommitInfo{{
		PartitionDesc: "date=2026-01-01",
		CommitID:      fileID("f1"),
		CommitOp:      types.AppendCommit,
		FileOps:       []types.DataFileOp{{Path: "s3://lake/t1/f1.parquet", FileOp: types.FileOpAdd, Size: 1}},
	}}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["committed"])

	commit := CommitRequest{
		Op:         "AppendCommit",
		Partitions: []types.PartitionInfo{{PartitionDesc: "date=2026-01-01", Snapshot: []uuid.UUID{fileID("f1")}}},
	}
	resp, body = f.do(t, http.MethodPost, "/v1/tables/t1/commits", commit)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["committed"])

	desc := url.PathEscape("date=2026-01-01")
	resp, body = f.do(t, http.MethodGet, "/v1/tables/t1/partitions/"+desc, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["version"])
	assert.Equal(t, "AppendCommit", body["commit_op"])

	resp, body = f.do(t, http.MethodGet, "/v1/tables/t1/partitions/"+desc+"/snapshot", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	commits := body["data_commits"].([]interface{})
	require.Len(t, commits, 1)
	assert.Equal(t, fileID("f1").String(), commits[0].(map[string]interface{})["commit_id"])

	resp, _ = f.do(t, http.MethodGet, "/v1/tables/t1/partitions/"+desc+"?version=7", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/v1/tables/t1/partitions/"+desc+"?version=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/v1/tables/t1/partitions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	commit.Op = "DeleteCommit"
	resp, body = f.do(t, http.MethodPost, "/v1/tables/t1/commits", commit)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_COMMIT_OP", body["code"])

	commit.Op = "Bogus"
	resp, _ = f.do(t, http.MethodPost, "/v1/tables/t1/commits", commit)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_DeleteAndRollback(t *testing.T) {
	f := newAPI(t)
	f.createTable(t)

	for _, label := range []string{"a", "b"} {
		resp, _ := f.do(t, http.MethodPost, "/v1/tables/t1/commits", CommitRequest{
			Op:         "AppendCommit",
			Partitions: []types.PartitionInfo{{PartitionDesc: "p1", Snapshot: []uuid.UUID{fileID(label)}}},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodDelete, "/v1/tables/t1/partitions/p1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["committed"])

	resp, body = f.do(t, http.MethodDelete, "/v1/tables/t1/partitions/missing", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, false, body["committed"])

	resp, _ = f.do(t, http.MethodPost, "/v1/tables/t1/partitions/p1/rollback", RollbackRequest{Version: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/v1/tables/t1/partitions/p1/versions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(4), body["count"])

	resp, _ = f.do(t, http.MethodPost, "/v1/tables/t1/partitions/p1/rollback", RollbackRequest{Version: 42})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/v1/tables/t1/partitions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p, err := f.mgr.GetSinglePartitionInfo(context.Background(), "t1", "p1")
	require.NoError(t, err)
	assert.Equal(t, types.DeleteCommit, p.CommitOp)

	resp, _ = f.do(t, http.MethodDelete, "/v1/tables/t1/partitions/p1?purge=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/v1/tables/t1/partitions/p1/versions", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ConflictStatsAndHealth(t *testing.T) {
	var unhealthy atomic.Bool
	f := newAPI(t, func(o *Options) {
		o.Health = func(context.Context) error {
			if !unhealthy.Load() {
				return nil
			}
			return errors.New("store unreachable")
		}
	})

	resp, body := f.do(t, http.MethodGet, "/v1/stats/conflicts?n=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["partitions"])

	resp, _ = f.do(t, http.MethodGet, "/v1/stats/conflicts?n=zero", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	unhealthy.Store(true)
	resp, _ = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_ShutdownGate(t *testing.T) {
	sm := server.NewShutdownManager(server.DefaultShutdownConfig())
	f := newAPI(t, func(o *Options) { o.Shutdown = sm })

	resp, _ := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	resp, _ = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRequestIDPropagation(t *testing.T) {
	f := newAPI(t)
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-1", resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "req-1", resp.Header.Get("X-Correlation-ID"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := DefaultMiddleware(nopLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func nopLogger() *zap.Logger { return zap.NewNop() }
