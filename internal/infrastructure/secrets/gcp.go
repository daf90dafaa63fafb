package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// GCPProvider resolves credentials from GCP Secret Manager.
type GCPProvider struct {
	// Project is used when the reference is a bare secret name rather than
	// a full resource path.
	Project    string
	clientOpts []option.ClientOption
}

// NewGCPProvider creates a Secret Manager provider for the given project.
func NewGCPProvider(project string, opts ...option.ClientOption) *GCPProvider {
	return &GCPProvider{Project: project, clientOpts: opts}
}

// Scheme returns the provider's reference prefix.
func (p *GCPProvider) Scheme() string { return "gcp" }

// Resolve fetches the secret version payload. The key is either a full
// resource path ("projects/<p>/secrets/<name>/versions/<v>") or a bare
// secret name, which resolves to the latest version in the configured
// project.
func (p *GCPProvider) Resolve(ctx context.Context, key string) (string, error) {
	name := key
	if !strings.HasPrefix(key, "projects/") {
		if p.Project == "" {
			return "", fmt.Errorf("bare secret name %q requires a project", key)
		}
		name = fmt.Sprintf("projects/%s/secrets/%s/versions/latest", p.Project, key)
	}

	client, err := secretmanager.NewClient(ctx, p.clientOpts...)
	if err != nil {
		return "", fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	defer client.Close()

	resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", name, err)
	}
	return string(resp.GetPayload().GetData()), nil
}
