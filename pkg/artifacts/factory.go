package artifacts

import (
	"context"
	"fmt"
)

// Backend names a storage backend.
type Backend string

const (
	BackendNone Backend = "none"
	BackendFile Backend = "file"
	BackendS3   Backend = "s3"
	BackendGCS  Backend = "gcs"
)

// Config selects and configures a backend.
type Config struct {
	Backend    Backend
	Dir        string
	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string
	GCSBucket  string
	GCSPrefix  string
}

// New builds the configured store. BackendNone returns a nil Store and no
// error: packs are sealed but not published.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendNone:
		return nil, nil
	case BackendFile, "":
		dir := cfg.Dir
		if dir == "" {
			dir = "data/evidence"
		}
		return NewFileStore(dir)
	case BackendS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("artifacts: GATE_S3_BUCKET is required for s3 storage")
		}
		region := cfg.S3Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.S3Bucket,
			Region:   region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	case BackendGCS:
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("artifacts: GATE_GCS_BUCKET is required for gcs storage")
		}
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("artifacts: unsupported backend %q", cfg.Backend)
	}
}
