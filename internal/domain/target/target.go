// Package target defines the deployment target a migration runs against.
package target

import (
	"fmt"
	"net/url"
	"strings"
)

// Target identifies a running graph database endpoint. A Target is built
// from configuration at startup and is immutable for the duration of a run.
type Target struct {
	// Address is the scheme and host of the database endpoint,
	// e.g. "https://graphdb-abc123-uc.a.run.app".
	Address string

	// Port is the endpoint port. Zero means the scheme default.
	Port int

	// CredentialRef is a reference to the access credential, resolved by the
	// secrets resolver. Supported forms: "env:NAME", "file:/path",
	// "gcp:projects/<p>/secrets/<name>/versions/<v>". Empty means no auth.
	CredentialRef string

	// Insecure disables TLS verification for self-signed test endpoints.
	Insecure bool
}

// New builds a Target and validates the address.
func New(address string, port int, credentialRef string) (*Target, error) {
	t := &Target{
		Address:       strings.TrimRight(address, "/"),
		Port:          port,
		CredentialRef: credentialRef,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks that the target address is a usable HTTP(S) URL.
func (t *Target) Validate() error {
	if t.Address == "" {
		return fmt.Errorf("target address is required")
	}
	u, err := url.Parse(t.Address)
	if err != nil {
		return fmt.Errorf("invalid target address %q: %w", t.Address, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target address must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("target address %q has no host", t.Address)
	}
	if t.Port < 0 || t.Port > 65535 {
		return fmt.Errorf("target port out of range: %d", t.Port)
	}
	return nil
}

// BaseURL returns the endpoint base URL including the port when set.
func (t *Target) BaseURL() string {
	if t.Port == 0 {
		return t.Address
	}
	u, err := url.Parse(t.Address)
	if err != nil || u.Port() != "" {
		return t.Address
	}
	return fmt.Sprintf("%s:%d", t.Address, t.Port)
}

// WithAddress returns a copy of the target pointing at a different address.
// Used when the serving URL only becomes known after deployment.
func (t *Target) WithAddress(address string) *Target {
	c := *t
	c.Address = strings.TrimRight(address, "/")
	return &c
}
