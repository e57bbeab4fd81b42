package s3

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/objectgate/gateway/internal/logger"
	"github.com/objectgate/gateway/internal/telemetry"
	"github.com/objectgate/gateway/pkg/blob"
)

// Delete removes one object version. Idempotent: a missing object is not an error.
func (s *Store) Delete(ctx context.Context, key, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, span := telemetry.StartBlobSpan(ctx, telemetry.SpanBlobDelete, "s3", key, telemetry.Version(version))
	defer span.End()

	objKey := s.objectKey(key, version)
	var lastErr error

	for attempt := 0; attempt <= int(s.retry.maxRetries); attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("blob/s3 delete: retrying", "backoff", backoff, "attempt", attempt, "key", objKey)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		_, lastErr = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objKey),
		})
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) {
			break
		}
	}
	if isNotFoundError(lastErr) {
		return nil
	}
	err := mapS3Error("delete", lastErr)
	telemetry.RecordError(ctx, err)
	return err
}

// DeleteMany removes several object versions in one S3 DeleteObjects batch
// call (max 1000 keys per S3 request).
func (s *Store) DeleteMany(ctx context.Context, refs []blob.ObjectRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(refs) == 0 {
		return nil
	}

	const batchSize = 1000
	for start := 0; start < len(refs); start += batchSize {
		end := start + batchSize
		if end > len(refs) {
			end = len(refs)
		}
		if err := s.deleteBatch(ctx, refs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) deleteBatch(ctx context.Context, refs []blob.ObjectRef) error {
	objects := make([]types.ObjectIdentifier, len(refs))
	for i, ref := range refs {
		objects[i] = types.ObjectIdentifier{Key: aws.String(s.objectKey(ref.Key, ref.Version))}
	}

	var lastErr error
	for attempt := 0; attempt <= int(s.retry.maxRetries); attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("blob/s3 delete_many: retrying", "backoff", backoff, "attempt", attempt, "count", len(refs))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		_, lastErr = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) {
			break
		}
	}
	return mapS3Error("delete_many", lastErr)
}
