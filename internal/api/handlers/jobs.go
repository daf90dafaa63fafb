package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/graphport/graphport/internal/domain/job"
	"github.com/graphport/graphport/internal/pkg/httputil"
)

// JobsHandler serves the migration job history and live progress.
type JobsHandler struct {
	store    *job.Store
	registry *Registry
}

// NewJobsHandler creates a handler over the persistent store and the live
// job registry.
func NewJobsHandler(store *job.Store, registry *Registry) *JobsHandler {
	return &JobsHandler{store: store, registry: registry}
}

// RegisterRoutes mounts the job routes on the given router.
func (h *JobsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Get("/progress", h.HandleProgress)
			r.Delete("/", h.HandleDelete)
		})
	})
}

// HandleList returns all saved jobs, newest first.
func (h *JobsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	jobs := h.store.List()
	render.JSON(w, r, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// HandleGet returns one job by ID.
func (h *JobsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookup(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, j)
}

// HandleProgress returns the job's progress counters. For a job running in
// this process the counters are live; otherwise they reflect the last save.
func (h *JobsHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookup(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, j.Progress().Snapshot())
}

// HandleDelete removes a job record. Running jobs cannot be deleted.
func (h *JobsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if h.registry.Get(id) != nil {
		httputil.BadRequest(w, r, "job is running and cannot be deleted")
		return
	}
	if err := h.store.Delete(id); err != nil {
		if errors.Is(err, job.ErrNotFound) {
			httputil.NotFound(w, r, "job not found")
			return
		}
		httputil.InternalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// lookup resolves the job ID from the URL, preferring the live registry.
func (h *JobsHandler) lookup(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	id := chi.URLParam(r, "jobID")
	if j := h.registry.Get(id); j != nil {
		return j, true
	}
	j, err := h.store.Get(id)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			httputil.NotFound(w, r, "job not found")
		} else {
			httputil.InternalError(w, r, err)
		}
		return nil, false
	}
	return j, true
}
