package provision

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/graphport/graphport/internal/pkg/logger"
)

// Stager uploads schema and data export files to the staging bucket so the
// deployed service can bulk-load them from a mounted volume.
type Stager struct {
	client *storage.Client
}

// NewStager creates a stager with a real storage client.
func NewStager(ctx context.Context, opts ...option.ClientOption) (*Stager, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &Stager{client: client}, nil
}

// Upload copies each local file into the bucket under exports/<basename>.
// Existing objects are overwritten: staging is re-runnable.
func (s *Stager) Upload(ctx context.Context, bucket string, files []string) ([]string, error) {
	var objects []string
	for _, path := range files {
		object := "exports/" + filepath.Base(path)
		if err := s.uploadOne(ctx, bucket, object, path); err != nil {
			return objects, fmt.Errorf("stage %s to gs://%s/%s: %w", path, bucket, object, err)
		}
		logger.Info("staged export file", "file", path, "object", object)
		objects = append(objects, object)
	}
	return objects, nil
}

func (s *Stager) uploadOne(ctx context.Context, bucket, object, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
