package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	lakeerrors "github.com/lakemeta/lakemeta/internal/errors"
	"github.com/lakemeta/lakemeta/internal/logging"
	"github.com/lakemeta/lakemeta/internal/meta"
	"github.com/lakemeta/lakemeta/internal/observability"
	"github.com/lakemeta/lakemeta/internal/server"
)

// Options configures the API handler.
type Options struct {
	Manager *meta.Manager
	// Conflicts backs /v1/stats/conflicts. Optional.
	Conflicts *observability.ConflictStats
	// Shutdown rejects new requests once shutdown starts. Optional.
	Shutdown *server.ShutdownManager
	// Health reports store reachability for /health. Optional.
	Health func(ctx context.Context) error
	Logger *zap.Logger
}

// NewHandler returns a chi router with the metadata REST API.
//
//	POST   /v1/tables                                     register table
//	GET    /v1/tables[?path=|?name=]                      list or look up tables
//	DELETE /v1/tables/{tableID}?path=[&purge=true]        delete table
//	PUT    /v1/tables/{tableID}/schema                    replace schema
//	PUT    /v1/tables/{tableID}/properties                replace properties
//	PUT    /v1/tables/{tableID}/name                      assign short name
//	DELETE /v1/names/{name}                               free short name
//	POST   /v1/tables/{tableID}/commits                   commit partitions
//	POST   /v1/tables/{tableID}/data-commits              record data commits
//	GET    /v1/tables/{tableID}/partitions                latest of every partition
//	DELETE /v1/tables/{tableID}/partitions                logically delete table
//	GET    /v1/tables/{tableID}/partitions/{desc}         latest or ?version=
//	DELETE /v1/tables/{tableID}/partitions/{desc}         logical delete, ?purge=true physical
//	GET    /v1/tables/{tableID}/partitions/{desc}/versions
//	GET    /v1/tables/{tableID}/partitions/{desc}/snapshot[?version=]
//	POST   /v1/tables/{tableID}/partitions/{desc}/rollback
//	GET    /v1/stats/conflicts[?n=]
//	GET    /health
//	GET    /metrics
func NewHandler(opts Options) http.Handler {
	logger := logging.OrNop(opts.Logger).With(zap.String("component", "http"))
	h := &handlers{mgr: opts.Manager, conflicts: opts.Conflicts, health: opts.Health, logger: logger}

	r := chi.NewRouter()
	if opts.Shutdown != nil {
		r.Use(server.ShutdownMiddleware(opts.Shutdown))
	}
	r.Use(DefaultMiddleware(logger))

	r.Get("/health", h.healthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/tables", h.createTable)
		r.Get("/tables", h.getTables)
		r.Delete("/names/{name}", h.deleteShortName)
		r.Get("/stats/conflicts", h.conflictStats)

		r.Route("/tables/{tableID}", func(r chi.Router) {
			r.Delete("/", h.deleteTable)
			r.Put("/schema", h.updateSchema)
			r.Put("/properties", h.updateProperties)
			r.Put("/name", h.updateShortName)
			r.Post("/commits", h.commitData)
			r.Post("/data-commits", h.commitDataInfo)
			r.Get("/partitions", h.listPartitions)
			r.Delete("/partitions", h.logicalDeleteTable)
			r.Get("/partitions/{desc}", h.getPartition)
			r.Delete("/partitions/{desc}", h.deletePartition)
			r.Get("/partitions/{desc}/versions", h.partitionVersions)
			r.Get("/partitions/{desc}/snapshot", h.partitionSnapshot)
			r.Post("/partitions/{desc}/rollback", h.rollbackPartition)
		})
	})
	return r
}

type handlers struct {
	mgr       *meta.Manager
	conflicts *observability.ConflictStats
	health    func(ctx context.Context) error
	logger    *zap.Logger
}

func (h *handlers) healthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "lakemeta"})
}

// fail maps err to a status code and writes it.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	requestID := GetRequestID(r.Context())
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", requestID),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, status, err.Error(), lakeerrors.GetCode(err), requestID)
}

func statusFor(err error) int {
	switch {
	case lakeerrors.IsValidation(err):
		return http.StatusBadRequest
	case lakeerrors.IsNameConflict(err):
		return http.StatusConflict
	case lakeerrors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// urlParam returns a path parameter with percent-escapes decoded, so
// partition descriptors may carry '/'.
func urlParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
