// Package deploy defines the deployment request and revision types.
package deploy

import "time"

// VolumeMount attaches a bucket-backed volume to the service container.
type VolumeMount struct {
	Name      string `json:"name"`
	Bucket    string `json:"bucket"`
	MountPath string `json:"mount_path"`
	ReadOnly  bool   `json:"read_only"`
}

// Request describes one deploy or update of the database service.
type Request struct {
	// ServiceName is the managed service name within the region.
	ServiceName string `json:"service_name"`
	// Image is the full container image reference to deploy.
	Image string `json:"image"`

	// Resource configuration for the revision.
	CPU          string        `json:"cpu"`    // e.g. "4"
	Memory       string        `json:"memory"` // e.g. "8Gi"
	Concurrency  int32         `json:"concurrency"`
	Timeout      time.Duration `json:"timeout"`
	MinInstances int32         `json:"min_instances"`
	MaxInstances int32         `json:"max_instances"`
	Port         int32         `json:"port"`
	Env          map[string]string `json:"env,omitempty"`
	VolumeMounts []VolumeMount `json:"volume_mounts,omitempty"`

	// HealthTimeout bounds how long to wait for the new revision's health
	// endpoint to report every instance healthy.
	HealthTimeout time.Duration `json:"health_timeout"`
}

// Revision is a deployed, versioned instance of the service configuration.
type Revision struct {
	// Name is the revision identifier.
	Name string `json:"name"`
	// URL is the serving URL of the service.
	URL string `json:"url"`
	// PriorRevision is the revision that was serving before this deploy,
	// empty on first deploy. Recorded for rollback.
	PriorRevision string `json:"prior_revision,omitempty"`
	DeployedAt    time.Time `json:"deployed_at"`
}
