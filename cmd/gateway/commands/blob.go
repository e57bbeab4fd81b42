package commands

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/objectgate/gateway/pkg/blob"
	blobfs "github.com/objectgate/gateway/pkg/blob/store/fs"
	blobmemory "github.com/objectgate/gateway/pkg/blob/store/memory"
	blobs3 "github.com/objectgate/gateway/pkg/blob/store/s3"
	"github.com/objectgate/gateway/pkg/config"
)

// newBlobBackend constructs the blob.Backend variant selected by
// cfg.Storage.Backend (§4.A).
func newBlobBackend(ctx context.Context, cfg config.StorageConfig) (blob.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return blobmemory.New(), nil

	case "fs":
		if cfg.FS.BasePath == "" {
			return nil, fmt.Errorf("storage.fs.base_path is required for the fs backend")
		}
		return blobfs.New(blobfs.DefaultConfig(cfg.FS.BasePath))

	case "s3":
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3.Region))
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.S3.Endpoint != "" {
				o.BaseEndpoint = &cfg.S3.Endpoint
			}
			o.UsePathStyle = cfg.S3.ForcePathStyle
		})
		return blobs3.New(blobs3.Config{
			Client: client,
			Bucket: cfg.S3.Bucket,
		})

	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Backend)
	}
}
