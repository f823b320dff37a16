//go:build gcp

package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore keeps files in a Cloud Storage bucket under prefix/<kind>/<name>.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSStoreConfig holds configuration for GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore creates a GCS-backed store using application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) object(ref Ref) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + ref.Key())
}

func (s *GCSStore) Put(ctx context.Context, ref Ref, data []byte, contentType string) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	w := s.object(ref).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %s: %w", ref.Key(), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close %s: %w", ref.Key(), err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, ref Ref) ([]byte, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	r, err := s.object(ref).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.Key())
	}
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", ref.Key(), err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (s *GCSStore) Delete(ctx context.Context, ref Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	err := s.object(ref).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, ref.Key())
	}
	if err != nil {
		return fmt.Errorf("gcs delete %s: %w", ref.Key(), err)
	}
	return nil
}
