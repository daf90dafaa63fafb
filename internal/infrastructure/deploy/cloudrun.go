// Package deploy drives Cloud Run deployments of the database service.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	run "cloud.google.com/go/run/apiv2"
	"cloud.google.com/go/run/apiv2/runpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	domain "github.com/graphport/graphport/internal/domain/deploy"
	"github.com/graphport/graphport/internal/pkg/logger"
)

// servicesAPI is the slice of the Cloud Run Admin API the driver needs.
type servicesAPI interface {
	Get(ctx context.Context, name string) (*runpb.Service, error)
	Create(ctx context.Context, parent, serviceID string, svc *runpb.Service) (*runpb.Service, error)
	Update(ctx context.Context, svc *runpb.Service) (*runpb.Service, error)
}

// HealthChecker reports whether the deployed endpoint is serving.
type HealthChecker interface {
	Ready(ctx context.Context) (bool, string)
}

// Driver deploys revisions and rolls traffic back on failure. Cloud Run keeps
// traffic on the prior ready revision until the new one is ready, which gives
// the rolling-update guarantee of never serving zero healthy instances.
type Driver struct {
	api     servicesAPI
	project string
	region  string

	// healthFor builds a checker for a serving URL; replaced in tests.
	healthFor func(url string) HealthChecker

	pollInterval time.Duration
}

// NewDriver creates a driver with a real Cloud Run client.
func NewDriver(ctx context.Context, project, region string, healthFor func(url string) HealthChecker, opts ...option.ClientOption) (*Driver, error) {
	client, err := run.NewServicesClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud Run client: %w", err)
	}
	return &Driver{
		api:          &servicesAdapter{client: client},
		project:      project,
		region:       region,
		healthFor:    healthFor,
		pollInterval: 5 * time.Second,
	}, nil
}

// newWithAPI is the constructor used by tests.
func newWithAPI(api servicesAPI, project, region string, healthFor func(string) HealthChecker) *Driver {
	return &Driver{
		api:          api,
		project:      project,
		region:       region,
		healthFor:    healthFor,
		pollInterval: 10 * time.Millisecond,
	}
}

func (d *Driver) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", d.project, d.region)
}

func (d *Driver) serviceName(name string) string {
	return d.parent() + "/services/" + name
}

// Deploy issues a create or update for the service and waits for the new
// revision to serve a healthy database. The serving URL is returned on
// success.
func (d *Driver) Deploy(ctx context.Context, req domain.Request) (*domain.Revision, error) {
	fullName := d.serviceName(req.ServiceName)

	existing, err := d.api.Get(ctx, fullName)
	var prior string
	switch {
	case err == nil:
		prior = existing.GetLatestReadyRevision()
	case isNotFound(err):
		// first deploy
	default:
		return nil, &domain.RejectedError{ServiceName: req.ServiceName, Reason: "lookup failed", Err: err}
	}

	svc := buildService(fullName, req)

	var deployed *runpb.Service
	if existing == nil {
		deployed, err = d.api.Create(ctx, d.parent(), req.ServiceName, svc)
	} else {
		deployed, err = d.api.Update(ctx, svc)
	}
	if err != nil {
		return nil, classifyDeployError(req.ServiceName, err)
	}

	rev := &domain.Revision{
		Name:          deployed.GetLatestCreatedRevision(),
		URL:           deployed.GetUri(),
		PriorRevision: prior,
		DeployedAt:    time.Now(),
	}
	logger.Info("revision deployed, waiting for health",
		"service", req.ServiceName, "revision", rev.Name, "url", rev.URL)

	if err := d.waitHealthy(ctx, req, rev); err != nil {
		return rev, err
	}
	return rev, nil
}

// waitHealthy polls the database health endpoint with a bounded interval
// until every instance reports healthy or the window closes.
func (d *Driver) waitHealthy(ctx context.Context, req domain.Request, rev *domain.Revision) error {
	checker := d.healthFor(rev.URL)

	timeout := req.HealthTimeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	deadline := time.Now().Add(timeout)

	lastStatus := "no response"
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ready, detail := checker.Ready(ctx)
		if ready {
			logger.Info("revision healthy", "service", req.ServiceName, "revision", rev.Name)
			return nil
		}
		lastStatus = detail
		logger.Debug("revision not ready yet", "service", req.ServiceName, "status", detail)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.pollInterval):
		}
	}

	return &domain.TimeoutError{
		ServiceName: req.ServiceName,
		Revision:    rev.Name,
		Waited:      timeout,
		LastStatus:  lastStatus,
	}
}

// Rollback re-points 100% of traffic at the prior revision.
func (d *Driver) Rollback(ctx context.Context, serviceName, revision string) error {
	if revision == "" {
		return fmt.Errorf("no prior revision recorded for %s, nothing to roll back to", serviceName)
	}

	fullName := d.serviceName(serviceName)
	svc, err := d.api.Get(ctx, fullName)
	if err != nil {
		return fmt.Errorf("rollback lookup for %s: %w", serviceName, err)
	}

	svc.Traffic = []*runpb.TrafficTarget{{
		Type:     runpb.TrafficTargetAllocationType_TRAFFIC_TARGET_ALLOCATION_TYPE_REVISION,
		Revision: revision,
		Percent:  100,
	}}

	if _, err := d.api.Update(ctx, svc); err != nil {
		return fmt.Errorf("rollback of %s to %s: %w", serviceName, revision, err)
	}
	logger.Info("rolled traffic back", "service", serviceName, "revision", revision)
	return nil
}

// buildService maps the deploy request onto the Cloud Run service resource.
func buildService(fullName string, req domain.Request) *runpb.Service {
	container := &runpb.Container{
		Image: req.Image,
		Resources: &runpb.ResourceRequirements{
			Limits: map[string]string{
				"cpu":    req.CPU,
				"memory": req.Memory,
			},
		},
		Ports: []*runpb.ContainerPort{{ContainerPort: req.Port}},
	}
	for k, v := range req.Env {
		container.Env = append(container.Env, &runpb.EnvVar{
			Name:   k,
			Values: &runpb.EnvVar_Value{Value: v},
		})
	}

	var volumes []*runpb.Volume
	for _, m := range req.VolumeMounts {
		container.VolumeMounts = append(container.VolumeMounts, &runpb.VolumeMount{
			Name:      m.Name,
			MountPath: m.MountPath,
		})
		volumes = append(volumes, &runpb.Volume{
			Name: m.Name,
			VolumeType: &runpb.Volume_Gcs{
				Gcs: &runpb.GCSVolumeSource{Bucket: m.Bucket, ReadOnly: m.ReadOnly},
			},
		})
	}

	return &runpb.Service{
		Name: fullName,
		Template: &runpb.RevisionTemplate{
			Containers:                    []*runpb.Container{container},
			Volumes:                       volumes,
			MaxInstanceRequestConcurrency: req.Concurrency,
			Timeout:                       durationpb.New(req.Timeout),
			Scaling: &runpb.RevisionScaling{
				MinInstanceCount: req.MinInstances,
				MaxInstanceCount: req.MaxInstances,
			},
		},
	}
}

func classifyDeployError(serviceName string, err error) error {
	st, ok := status.FromError(err)
	if ok {
		switch st.Code() {
		case codes.InvalidArgument, codes.PermissionDenied, codes.FailedPrecondition, codes.ResourceExhausted:
			return &domain.RejectedError{ServiceName: serviceName, Reason: st.Code().String(), Err: err}
		case codes.DeadlineExceeded:
			return &domain.TimeoutError{ServiceName: serviceName, LastStatus: st.Message()}
		}
	}
	return &domain.RejectedError{ServiceName: serviceName, Reason: "request failed", Err: err}
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if ok && st.Code() == codes.NotFound {
		return true
	}
	return errors.Is(err, errNotFound)
}

// errNotFound lets fakes signal a missing service without grpc plumbing.
var errNotFound = errors.New("service not found")

// servicesAdapter implements servicesAPI on the real client, waiting on the
// long-running operations so callers see the settled service state.
type servicesAdapter struct {
	client *run.ServicesClient
}

func (a *servicesAdapter) Get(ctx context.Context, name string) (*runpb.Service, error) {
	return a.client.GetService(ctx, &runpb.GetServiceRequest{Name: name})
}

func (a *servicesAdapter) Create(ctx context.Context, parent, serviceID string, svc *runpb.Service) (*runpb.Service, error) {
	op, err := a.client.CreateService(ctx, &runpb.CreateServiceRequest{
		Parent:    parent,
		ServiceId: serviceID,
		Service:   svc,
	})
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

func (a *servicesAdapter) Update(ctx context.Context, svc *runpb.Service) (*runpb.Service, error) {
	op, err := a.client.UpdateService(ctx, &runpb.UpdateServiceRequest{Service: svc})
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}
