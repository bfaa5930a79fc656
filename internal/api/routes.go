// Package api provides the REST handlers for source registration and
// sync queue access.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codelens/sourcereg/internal/queue"
	"github.com/codelens/sourcereg/internal/store"
	"github.com/codelens/sourcereg/internal/versions"
	"github.com/codelens/sourcereg/pkg/models"
)

// SyncQueue is the queue surface the API depends on
type SyncQueue interface {
	// Enqueue requests a sync for the source; idempotent
	Enqueue(ctx context.Context, sourceID string) error

	// CancelQueued removes a queued-but-not-started entry
	CancelQueued(ctx context.Context, sourceID string) error

	// Retract removes any queued entry as part of source deletion
	Retract(ctx context.Context, sourceID string) error

	// Snapshot returns the current queue state
	Snapshot() *models.QueueSnapshot
}

// ErrorResponse is the JSON error envelope returned by every handler
type ErrorResponse struct {
	Error string `json:"error"`
}

// ListSourcesResponse wraps the full source list
type ListSourcesResponse struct {
	Sources []*models.Source `json:"sources"`
}

// CreateSourceRequest is the body for registering a new source
type CreateSourceRequest struct {
	Origin models.Origin `json:"origin"`
}

// UpdateSourceRequest is the body for patching a source's origin
type UpdateSourceRequest struct {
	Origin *models.Origin `json:"origin,omitempty"`
}

// ShareRequest is the body for updating a source's access tier
type ShareRequest struct {
	Access  models.Access `json:"access"`
	UserIDs []string      `json:"user_ids"`
}

// Routes holds the handler dependencies
type Routes struct {
	store store.Store
	queue SyncQueue
}

// NewRoutes creates a Routes instance with the provided dependencies
func NewRoutes(st store.Store, q SyncQueue) *Routes {
	return &Routes{store: st, queue: q}
}

// Router builds the full API router, including health, version, and
// metrics endpoints. authToken guards the /api subtree; an empty token
// disables authentication.
func Router(st store.Store, q SyncQueue, authToken string, promReg *prometheus.Registry) http.Handler {
	routes := NewRoutes(st, q)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler)
	if promReg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(bearerAuth(authToken))

		r.Get("/sources", routes.listSources)
		r.Post("/sources", routes.createSource)
		r.Patch("/sources/{id}", routes.updateSource)
		r.Delete("/sources/{id}", routes.deleteSource)
		r.Post("/sources/{id}/sync", routes.requestSync)
		r.Post("/sources/{id}/share", routes.updateAccess)

		r.Get("/index/queue", routes.queueSnapshot)
		r.Delete("/index/queue/{sourceId}", routes.cancelQueued)
	})

	return r
}

// listSources handles GET /api/v1/sources
func (rr *Routes) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := rr.store.List(r.Context())
	if err != nil {
		slog.Error("Failed to list sources", "error", err)
		writeError(w, "failed to list sources", http.StatusInternalServerError)
		return
	}
	if sources == nil {
		sources = []*models.Source{}
	}
	writeJSON(w, http.StatusOK, ListSourcesResponse{Sources: sources})
}

// createSource handles POST /api/v1/sources
func (rr *Routes) createSource(w http.ResponseWriter, r *http.Request) {
	var req CreateSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Origin.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	src := &models.Source{
		ID:     uuid.NewString(),
		Origin: req.Origin,
		Status: models.StatusConfigured,
		Access: models.AccessPrivate,
	}
	if err := rr.store.Create(r.Context(), src); err != nil {
		slog.Error("Failed to create source", "error", err)
		writeError(w, "failed to create source", http.StatusInternalServerError)
		return
	}

	slog.Info("Registered source", "source_id", src.ID, "origin", src.Origin.DisplayName())
	writeJSON(w, http.StatusCreated, src)
}

// updateSource handles PATCH /api/v1/sources/{id}
func (rr *Routes) updateSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	src, err := rr.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req UpdateSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Origin != nil {
		if err := req.Origin.Validate(); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		src.Origin = *req.Origin
	}

	if err := rr.store.Update(r.Context(), src); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

// deleteSource handles DELETE /api/v1/sources/{id}. A queued sync for
// the source is retracted first; a running sync blocks deletion.
func (rr *Routes) deleteSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := rr.queue.Retract(r.Context(), id); err != nil {
		if errors.Is(err, queue.ErrRunning) {
			writeError(w, "source sync is running; cancel it before deleting", http.StatusConflict)
			return
		}
		slog.Error("Failed to retract queued sync", "source_id", id, "error", err)
		writeError(w, "failed to retract queued sync", http.StatusInternalServerError)
		return
	}

	if err := rr.store.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}

	slog.Info("Deleted source", "source_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// requestSync handles POST /api/v1/sources/{id}/sync. Enqueueing is
// idempotent; the response only acknowledges the request.
func (rr *Routes) requestSync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := rr.queue.Enqueue(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "source not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to enqueue sync", "source_id", id, "error", err)
		writeError(w, "failed to enqueue sync", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// updateAccess handles POST /api/v1/sources/{id}/share
func (rr *Routes) updateAccess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	src, err := rr.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Access.Valid() {
		writeError(w, "invalid access tier", http.StatusBadRequest)
		return
	}

	src.Access = req.Access
	if req.Access == models.AccessShared {
		if req.UserIDs == nil {
			req.UserIDs = []string{}
		}
		src.UserIDs = req.UserIDs
	} else {
		src.UserIDs = nil
	}

	if err := rr.store.Update(r.Context(), src); err != nil {
		writeStoreError(w, err)
		return
	}

	slog.Info("Updated source access", "source_id", id, "access", src.Access, "user_count", len(src.UserIDs))
	writeJSON(w, http.StatusOK, src)
}

// queueSnapshot handles GET /api/v1/index/queue
func (rr *Routes) queueSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rr.queue.Snapshot())
}

// cancelQueued handles DELETE /api/v1/index/queue/{sourceId}
func (rr *Routes) cancelQueued(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sourceId")

	err := rr.queue.CancelQueued(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, queue.ErrRunning):
		writeError(w, "sync already started", http.StatusConflict)
	case errors.Is(err, queue.ErrNotQueued):
		writeError(w, "no queued sync for source", http.StatusNotFound)
	default:
		slog.Error("Failed to cancel queued sync", "source_id", id, "error", err)
		writeError(w, "failed to cancel queued sync", http.StatusInternalServerError)
	}
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// versionHandler handles version information requests
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, versions.GetVersionInfo())
}

// writeJSON writes a JSON response with the given status and data
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeError writes the standard error envelope
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeStoreError maps store errors onto HTTP statuses
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "source not found", http.StatusNotFound)
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("Store operation failed", "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}
