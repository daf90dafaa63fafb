package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvProvider resolves credentials from environment variables.
type EnvProvider struct {
	// Prefix is an optional prefix prepended to variable names.
	Prefix string
}

// NewEnvProvider creates an environment variable provider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

// Scheme returns the provider's reference prefix.
func (p *EnvProvider) Scheme() string { return "env" }

// Resolve reads the named environment variable.
func (p *EnvProvider) Resolve(_ context.Context, key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	if p.Prefix != "" {
		if value := os.Getenv(p.Prefix + key); value != "" {
			return value, nil
		}
	}
	return "", fmt.Errorf("environment variable %s not set", key)
}

// FileProvider resolves credentials from local files, for mounted secret
// volumes and the like.
type FileProvider struct{}

// NewFileProvider creates a file provider.
func NewFileProvider() *FileProvider {
	return &FileProvider{}
}

// Scheme returns the provider's reference prefix.
func (p *FileProvider) Scheme() string { return "file" }

// Resolve reads the credential from the file at the given path.
func (p *FileProvider) Resolve(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read credential file: %w", err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("credential file %s is empty", path)
	}
	return value, nil
}
