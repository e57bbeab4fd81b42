package s3

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/objectgate/gateway/internal/logger"
	"github.com/objectgate/gateway/internal/telemetry"
	"github.com/objectgate/gateway/pkg/blob"
)

// Read streams key/version, optionally restricted to a byte range, retrying
// transient S3 errors with exponential backoff.
func (s *Store) Read(ctx context.Context, key, version string, r *blob.ByteRange) (blob.Metadata, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return blob.Metadata{}, nil, err
	}

	ctx, span := telemetry.StartBlobSpan(ctx, telemetry.SpanBlobRead, "s3", key, telemetry.Version(version))
	defer span.End()

	objKey := s.objectKey(key, version)
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	}
	if r != nil && r.End > r.Start {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1))
	}

	var result *s3.GetObjectOutput
	var lastErr error

	for attempt := 0; attempt <= int(s.retry.maxRetries); attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("blob/s3 read: retrying", "backoff", backoff, "attempt", attempt, "key", objKey)
			select {
			case <-ctx.Done():
				return blob.Metadata{}, nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, lastErr = s.client.GetObject(ctx, input)
		if lastErr == nil {
			break
		}
		if !isRetryableError(lastErr) {
			break
		}
	}
	if lastErr != nil {
		err := mapS3Error("read", lastErr)
		telemetry.RecordError(ctx, err)
		return blob.Metadata{}, nil, err
	}

	md := blob.Metadata{}
	if result.ContentLength != nil {
		md.Size = *result.ContentLength
	}
	if result.ETag != nil {
		md.ETag = *result.ETag
	}
	if result.LastModified != nil {
		md.LastModified = *result.LastModified
	}
	if result.ContentType != nil {
		md.ContentType = *result.ContentType
	}
	if result.CacheControl != nil {
		md.CacheControl = *result.CacheControl
	}
	md.UserMetadata = result.Metadata
	telemetry.SetAttributes(ctx, telemetry.BlobSize(md.Size))

	return md, result.Body, nil
}

// Head returns metadata for key/version without reading its body.
func (s *Store) Head(ctx context.Context, key, version string) (blob.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return blob.Metadata{}, err
	}

	ctx, span := telemetry.StartBlobSpan(ctx, telemetry.SpanBlobHead, "s3", key, telemetry.Version(version))
	defer span.End()

	objKey := s.objectKey(key, version)
	var result *s3.HeadObjectOutput
	var lastErr error

	for attempt := 0; attempt <= int(s.retry.maxRetries); attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("blob/s3 head: retrying", "backoff", backoff, "attempt", attempt, "key", objKey)
			select {
			case <-ctx.Done():
				return blob.Metadata{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, lastErr = s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objKey),
		})
		if lastErr == nil {
			break
		}
		if !isRetryableError(lastErr) {
			break
		}
	}
	if lastErr != nil {
		err := mapS3Error("head", lastErr)
		telemetry.RecordError(ctx, err)
		return blob.Metadata{}, err
	}

	md := blob.Metadata{}
	if result.ContentLength != nil {
		md.Size = *result.ContentLength
	}
	if result.ETag != nil {
		md.ETag = *result.ETag
	}
	if result.LastModified != nil {
		md.LastModified = *result.LastModified
	}
	if result.ContentType != nil {
		md.ContentType = *result.ContentType
	}
	if result.CacheControl != nil {
		md.CacheControl = *result.CacheControl
	}
	md.UserMetadata = result.Metadata
	return md, nil
}
