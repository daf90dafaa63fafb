// Package secrets resolves credential references at run time. Configuration
// files never contain credential values, only references.
package secrets

import (
	"context"
	"fmt"
	"strings"
)

// Provider resolves credential references from one source.
type Provider interface {
	// Scheme returns the reference prefix this provider handles, e.g. "env".
	Scheme() string

	// Resolve retrieves the credential value for the reference payload
	// (the part after "scheme:").
	Resolve(ctx context.Context, key string) (string, error)
}

// Resolver dispatches credential references to the registered providers.
// Reference form: "<scheme>:<key>", e.g. "env:GRAPHDB_TOKEN",
// "file:/run/secrets/token", "gcp:projects/p/secrets/s/versions/latest".
type Resolver struct {
	providers map[string]Provider
}

// NewResolver creates a resolver with the given providers.
func NewResolver(providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.providers[p.Scheme()] = p
	}
	return r
}

// Register adds or replaces a provider.
func (r *Resolver) Register(p Provider) {
	r.providers[p.Scheme()] = p
}

// Resolve resolves a credential reference. An empty reference resolves to an
// empty credential (unauthenticated target).
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}

	scheme, key, ok := strings.Cut(ref, ":")
	if !ok || key == "" {
		return "", fmt.Errorf("invalid credential reference %q: want <scheme>:<key>", ref)
	}

	p, ok := r.providers[scheme]
	if !ok {
		return "", fmt.Errorf("no credential provider for scheme %q", scheme)
	}

	value, err := p.Resolve(ctx, key)
	if err != nil {
		return "", fmt.Errorf("resolve credential %q: %w", ref, err)
	}
	return value, nil
}
