package blob

import (
	"context"
	"fmt"

	"safeworks.org/ptw/internal/config"
)

// New builds the store selected by the storage options.
func New(ctx context.Context, opts config.StorageOptions) (Store, error) {
	switch opts.Backend {
	case "", "fs":
		return NewFileStore(opts.Root)
	case "memory":
		return NewMemStore(), nil
	case "s3":
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   opts.Bucket,
			Region:   opts.Region,
			Endpoint: opts.Endpoint,
			Prefix:   opts.Prefix,
		})
	case "gcs":
		return newGCSStore(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", opts.Backend)
	}
}
