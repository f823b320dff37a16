//go:build gcp

package blob

import (
	"context"

	"safeworks.org/ptw/internal/config"
)

func newGCSStore(ctx context.Context, opts config.StorageOptions) (Store, error) {
	return NewGCSStore(ctx, GCSStoreConfig{Bucket: opts.Bucket, Prefix: opts.Prefix})
}
