//go:build gcp

package artifacts

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("ACCORD_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("ACCORD_GCS_BUCKET is required for GCS payload storage")
	}
	return NewGCSStore(ctx, GCSConfig{
		Bucket: bucket,
		Prefix: os.Getenv("ACCORD_GCS_PREFIX"),
	})
}
