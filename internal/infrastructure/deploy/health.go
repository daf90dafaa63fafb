package deploy

import (
	"context"
	"fmt"
	"strings"

	"github.com/graphport/graphport/internal/domain/target"
	"github.com/graphport/graphport/internal/infrastructure/graph"
)

// healthAPI is the slice of the graph client the checker needs.
type healthAPI interface {
	Health(ctx context.Context) ([]graph.InstanceStatus, error)
}

// GraphHealth adapts the database health endpoint to the driver's
// HealthChecker. All instances must report healthy; an empty instance list
// means the cluster has not formed yet.
type GraphHealth struct {
	api healthAPI
}

// NewGraphHealth builds a checker for a serving URL.
func NewGraphHealth(url, authToken string) *GraphHealth {
	t := &target.Target{Address: strings.TrimRight(url, "/")}
	return &GraphHealth{api: graph.NewClient(t, graph.WithAuthToken(authToken))}
}

// Ready reports whether every database instance is serving, with a short
// status description for logs.
func (h *GraphHealth) Ready(ctx context.Context) (bool, string) {
	statuses, err := h.api.Health(ctx)
	if err != nil {
		return false, err.Error()
	}
	if len(statuses) == 0 {
		return false, "no instances reported"
	}

	var unhealthy []string
	for _, s := range statuses {
		if !s.Healthy() {
			unhealthy = append(unhealthy, fmt.Sprintf("%s=%s", s.Instance, s.Status))
		}
	}
	if len(unhealthy) > 0 {
		return false, strings.Join(unhealthy, ", ")
	}
	return true, fmt.Sprintf("%d instance(s) healthy", len(statuses))
}
