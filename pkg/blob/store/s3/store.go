// Package s3 implements the Blob Backend Adapter (§4.A) over an
// S3-compatible object store.
package s3

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/objectgate/gateway/pkg/blob"
)

// retryConfig controls the exponential backoff applied to transient S3
// errors (throttling, 5xx, network resets).
type retryConfig struct {
	maxRetries        uint
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
}

// Config configures a Store.
type Config struct {
	Client    *s3.Client
	Bucket    string
	KeyPrefix string

	// PartSize is the multipart part size; must be 5MB-5GB. Default 5MB.
	PartSize int64

	MaxRetries        uint
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// Store implements blob.Backend over Amazon S3 or an S3-compatible
// endpoint (MinIO, localstack). Keys are derived as "{keyPrefix}{key}/{version}".
type Store struct {
	client   *s3.Client
	presign  *s3.PresignClient
	bucket   string
	prefix   string
	partSize int64
	retry    retryConfig

	sessionsMu sync.RWMutex
	sessions   map[string]*uploadSession
}

type uploadSession struct {
	mu    sync.Mutex
	parts []blob.Part
}

// New creates a Store backed by an already-configured S3 client.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("blob/s3: client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob/s3: bucket is required")
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = 5 * 1024 * 1024
	}
	if partSize < 5*1024*1024 || partSize > 5*1024*1024*1024 {
		return nil, fmt.Errorf("blob/s3: part size must be between 5MB and 5GB, got %d", partSize)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff == 0 {
		initialBackoff = 100 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff == 0 {
		maxBackoff = 2 * time.Second
	}
	backoffMultiplier := cfg.BackoffMultiplier
	if backoffMultiplier == 0 {
		backoffMultiplier = 2.0
	}

	return &Store{
		client:   cfg.Client,
		presign:  s3.NewPresignClient(cfg.Client),
		bucket:   cfg.Bucket,
		prefix:   cfg.KeyPrefix,
		partSize: partSize,
		retry: retryConfig{
			maxRetries:        maxRetries,
			initialBackoff:    initialBackoff,
			maxBackoff:        maxBackoff,
			backoffMultiplier: backoffMultiplier,
		},
		sessions: make(map[string]*uploadSession),
	}, nil
}

// objectKey derives the physical S3 key for (key, version) per §4.A's
// "{key}/{version}" derived-path rule.
func (s *Store) objectKey(key, version string) string {
	return s.prefix + key + "/" + version
}

func (s *Store) calculateBackoff(attempt int) time.Duration {
	backoff := float64(s.retry.initialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= s.retry.backoffMultiplier
	}
	if backoff > float64(s.retry.maxBackoff) {
		backoff = float64(s.retry.maxBackoff)
	}
	return time.Duration(backoff)
}

// PrivateAssetURL returns a presigned GET URL valid for ttl.
func (s *Store) PrivateAssetURL(ctx context.Context, key, version string, ttl time.Duration) (string, error) {
	objKey := s.objectKey(key, version)
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", mapS3Error("presign", err)
	}
	return req.URL, nil
}

var _ blob.Backend = (*Store)(nil)
