package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType selects a payload storage backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFS     StoreType = "fs"
	StoreTypeS3     StoreType = "s3"
	StoreTypeGCS    StoreType = "gcs"
)

// NewStoreFromEnv creates a payload store from environment variables.
//
//   - ACCORD_PAYLOAD_STORE: "fs" (default), "memory", "s3", or "gcs"
//   - ACCORD_DATA_DIR: base directory for the fs store (default "data")
//
// For S3:
//   - ACCORD_S3_BUCKET (required)
//   - ACCORD_S3_REGION or AWS_REGION (default "us-east-1")
//   - ACCORD_S3_ENDPOINT (optional, MinIO/LocalStack)
//   - ACCORD_S3_PREFIX (optional)
//
// For GCS (requires the gcp build tag):
//   - ACCORD_GCS_BUCKET (required)
//   - ACCORD_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	storeType := StoreType(os.Getenv("ACCORD_PAYLOAD_STORE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeFS:
		dataDir := os.Getenv("ACCORD_DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileStore(filepath.Join(dataDir, "payloads"))
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported payload store type: %s", storeType)
	}
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("ACCORD_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("ACCORD_S3_BUCKET is required for S3 payload storage")
	}

	region := os.Getenv("ACCORD_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3Config{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("ACCORD_S3_ENDPOINT"),
		Prefix:   os.Getenv("ACCORD_S3_PREFIX"),
	})
}
