package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/graphport/graphport/internal/infrastructure/graph"
	"github.com/graphport/graphport/internal/pkg/httputil"
)

// HealthQuerier is the slice of the graph client the target handler needs.
type HealthQuerier interface {
	Health(ctx context.Context) ([]graph.InstanceStatus, error)
	Count(ctx context.Context) (int64, error)
}

// TargetHandler proxies read-only status queries to the deployment target.
type TargetHandler struct {
	querier HealthQuerier
}

// NewTargetHandler creates a handler over a graph client. querier may be nil
// when no target is configured; routes then report 503.
func NewTargetHandler(querier HealthQuerier) *TargetHandler {
	return &TargetHandler{querier: querier}
}

// RegisterRoutes mounts the target routes on the given router.
func (h *TargetHandler) RegisterRoutes(r chi.Router) {
	r.Route("/target", func(r chi.Router) {
		r.Get("/health", h.HandleHealth)
		r.Get("/count", h.HandleCount)
	})
}

// HandleHealth returns the per-instance health of the target database.
func (h *TargetHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.querier == nil {
		httputil.WriteError(w, r, http.StatusServiceUnavailable,
			httputil.CodeServiceUnavailable, "no deployment target configured", "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	instances, err := h.querier.Health(ctx)
	if err != nil {
		httputil.BadGateway(w, r, "target health query failed", err)
		return
	}

	healthy := len(instances) > 0
	for _, inst := range instances {
		if !inst.Healthy() {
			healthy = false
		}
	}
	render.JSON(w, r, map[string]any{
		"healthy":   healthy,
		"instances": instances,
	})
}

// HandleCount returns the target's total record count.
func (h *TargetHandler) HandleCount(w http.ResponseWriter, r *http.Request) {
	if h.querier == nil {
		httputil.WriteError(w, r, http.StatusServiceUnavailable,
			httputil.CodeServiceUnavailable, "no deployment target configured", "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	count, err := h.querier.Count(ctx)
	if err != nil {
		httputil.BadGateway(w, r, "target count query failed", err)
		return
	}
	render.JSON(w, r, map[string]any{"count": count})
}
