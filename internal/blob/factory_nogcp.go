//go:build !gcp

package blob

import (
	"context"
	"fmt"

	"safeworks.org/ptw/internal/config"
)

func newGCSStore(context.Context, config.StorageOptions) (Store, error) {
	return nil, fmt.Errorf("GCS storage is not enabled in this build (use -tags gcp)")
}
