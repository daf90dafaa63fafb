package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/graphport/graphport/internal/config"
	domaindeploy "github.com/graphport/graphport/internal/domain/deploy"
	"github.com/graphport/graphport/internal/domain/job"
	"github.com/graphport/graphport/internal/domain/provision"
	"github.com/graphport/graphport/internal/domain/target"
	"github.com/graphport/graphport/internal/infrastructure/graph"
	"github.com/graphport/graphport/internal/infrastructure/secrets"
)

// exportVolumeName is the Cloud Run volume the staging bucket mounts as.
const exportVolumeName = "exports"

// loadConfig unmarshals and validates the active configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// newResolver builds the credential resolver with every supported scheme.
func newResolver(project string) *secrets.Resolver {
	return secrets.NewResolver(
		secrets.NewEnvProvider(),
		secrets.NewFileProvider(),
		secrets.NewGCPProvider(project),
	)
}

// resolveCredential resolves a credential reference, or returns "" for none.
func resolveCredential(ctx context.Context, r *secrets.Resolver, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	token, err := r.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve credential %q: %w", ref, err)
	}
	return token, nil
}

// buildTarget constructs the deployment target from configuration. The
// address may be empty before deployment; it is filled in from the service
// URL once the rollout completes.
func buildTarget(cfg *config.Config) (*target.Target, error) {
	if cfg.Target.Address == "" {
		return &target.Target{
			Port:          cfg.Target.Port,
			CredentialRef: cfg.Target.Credential,
			Insecure:      cfg.Target.Insecure,
		}, nil
	}
	t, err := target.New(cfg.Target.Address, cfg.Target.Port, cfg.Target.Credential)
	if err != nil {
		return nil, err
	}
	t.Insecure = cfg.Target.Insecure
	return t, nil
}

// graphClientFor builds a graph client for a target, resolving its
// credential reference.
func graphClientFor(ctx context.Context, cfg *config.Config, t *target.Target) (*graph.Client, error) {
	token, err := resolveCredential(ctx, newResolver(cfg.Project), t.CredentialRef)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return graph.NewClient(t), nil
	}
	return graph.NewClient(t, graph.WithAuthToken(token)), nil
}

// provisionSpecFrom maps the configuration onto a declarative resource spec.
func provisionSpecFrom(cfg *config.Config) provision.Spec {
	location := cfg.Storage.Location
	if location == "" {
		location = cfg.Region
	}
	return provision.Spec{
		Project: cfg.Project,
		Region:  cfg.Region,
		Bucket: provision.BucketSpec{
			Name:     cfg.Storage.Bucket,
			Location: location,
		},
		Network: provision.NetworkSpec{
			Name:      cfg.Network.Name,
			Subnet:    cfg.Network.Subnet,
			CIDRRange: cfg.Network.CIDR,
		},
	}
}

// deployRequestFrom maps the configuration onto a deployment request.
func deployRequestFrom(cfg *config.Config) domaindeploy.Request {
	req := domaindeploy.Request{
		ServiceName:   cfg.Service.Name,
		Image:         cfg.Service.Image,
		CPU:           cfg.Service.CPU,
		Memory:        cfg.Service.Memory,
		Concurrency:   cfg.Service.Concurrency,
		Timeout:       cfg.Service.Timeout,
		MinInstances:  cfg.Service.MinInstances,
		MaxInstances:  cfg.Service.MaxInstances,
		Port:          cfg.Service.Port,
		Env:           cfg.Service.Env,
		HealthTimeout: cfg.Service.HealthTimeout,
	}
	if cfg.Service.ExportMountPath != "" && cfg.Storage.Bucket != "" {
		req.VolumeMounts = []domaindeploy.VolumeMount{{
			Name:      exportVolumeName,
			Bucket:    cfg.Storage.Bucket,
			MountPath: cfg.Service.ExportMountPath,
			ReadOnly:  true,
		}}
	}
	return req
}

// newJobFrom creates a pending migration job from the configured sources.
func newJobFrom(cfg *config.Config) (*job.Job, error) {
	var sources []job.SourceFile
	if cfg.Migration.SchemaFile != "" {
		path, err := filepath.Abs(cfg.Migration.SchemaFile)
		if err != nil {
			return nil, err
		}
		sources = append(sources, job.SourceFile{Path: path, Kind: "schema"})
	}
	for _, f := range cfg.Migration.DataFiles {
		path, err := filepath.Abs(f)
		if err != nil {
			return nil, err
		}
		sources = append(sources, job.SourceFile{Path: path, Kind: "data"})
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no migration sources configured: set migration.schema_file or migration.data_files")
	}
	return job.New(sources, cfg.Migration.BatchSize), nil
}
