package deploy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/graphport/graphport/internal/pkg/logger"
)

// ImageService builds and pushes the database container image.
type ImageService struct {
	client *client.Client
}

// NewImageService connects to the local Docker daemon.
func NewImageService() (*ImageService, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &ImageService{client: cli}, nil
}

// Close releases the client connection.
func (s *ImageService) Close() error {
	return s.client.Close()
}

// Build builds contextDir with the given dockerfile and tags the result.
func (s *ImageService) Build(ctx context.Context, contextDir, dockerfile, tag string) error {
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to tar build context %s: %w", contextDir, err)
	}
	defer buildCtx.Close()

	resp, err := s.client.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: dockerfile,
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("image build failed: %w", err)
	}
	defer resp.Body.Close()

	if err := drainStream(resp.Body); err != nil {
		return fmt.Errorf("image build failed: %w", err)
	}
	logger.Info("built image", "tag", tag)
	return nil
}

// Push pushes the image reference to its registry. The token is a registry
// access token resolved from the credential reference.
func (s *ImageService) Push(ctx context.Context, ref, username, token string) error {
	authConfig := registry.AuthConfig{Username: username, Password: token}
	encoded, err := json.Marshal(authConfig)
	if err != nil {
		return err
	}

	rc, err := s.client.ImagePush(ctx, ref, image.PushOptions{
		RegistryAuth: base64.URLEncoding.EncodeToString(encoded),
	})
	if err != nil {
		return fmt.Errorf("image push failed: %w", err)
	}
	defer rc.Close()

	if err := drainStream(rc); err != nil {
		return fmt.Errorf("image push failed: %w", err)
	}
	logger.Info("pushed image", "ref", ref)
	return nil
}

// drainStream consumes a docker JSON message stream and surfaces any error
// frame it carries.
func drainStream(r io.Reader) error {
	return jsonmessage.DisplayJSONMessagesStream(r, io.Discard, 0, false, nil)
}
