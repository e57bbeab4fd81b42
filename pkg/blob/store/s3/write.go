package s3

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/objectgate/gateway/internal/logger"
	"github.com/objectgate/gateway/internal/telemetry"
	"github.com/objectgate/gateway/pkg/blob"
)

// Write stores data at key/version via S3 PutObject, retrying transient
// errors with exponential backoff.
func (s *Store) Write(ctx context.Context, key, version string, data io.Reader, contentType, cacheControl string, userMetadata map[string]string) (blob.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return blob.Metadata{}, err
	}

	ctx, span := telemetry.StartBlobSpan(ctx, telemetry.SpanBlobWrite, "s3", key, telemetry.Version(version))
	defer span.End()

	objKey := s.objectKey(key, version)

	var buf io.ReadSeeker
	if seeker, ok := data.(io.ReadSeeker); ok {
		buf = seeker
	} else {
		b, err := io.ReadAll(data)
		if err != nil {
			return blob.Metadata{}, mapS3Error("write", err)
		}
		buf = &bytesReaderSeeker{b: b}
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
		Body:   buf,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if cacheControl != "" {
		input.CacheControl = aws.String(cacheControl)
	}
	if len(userMetadata) > 0 {
		input.Metadata = userMetadata
	}

	var result *s3.PutObjectOutput
	var lastErr error

	for attempt := 0; attempt <= int(s.retry.maxRetries); attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("blob/s3 write: retrying", "backoff", backoff, "attempt", attempt, "key", objKey)
			if _, err := buf.Seek(0, io.SeekStart); err != nil {
				return blob.Metadata{}, mapS3Error("write", err)
			}
			select {
			case <-ctx.Done():
				return blob.Metadata{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, lastErr = s.client.PutObject(ctx, input)
		if lastErr == nil {
			break
		}
		if !isRetryableError(lastErr) {
			break
		}
	}
	if lastErr != nil {
		err := mapS3Error("write", lastErr)
		telemetry.RecordError(ctx, err)
		return blob.Metadata{}, err
	}

	md := blob.Metadata{ContentType: contentType, CacheControl: cacheControl, UserMetadata: userMetadata}
	if result.ETag != nil {
		md.ETag = *result.ETag
	}
	return md, nil
}

// Copy duplicates (srcKey, srcVersion) to (dstKey, dstVersion) with a single
// server-side S3 CopyObject call.
func (s *Store) Copy(ctx context.Context, srcKey, srcVersion, dstKey, dstVersion string) (blob.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return blob.Metadata{}, err
	}

	ctx, span := telemetry.StartBlobSpan(ctx, telemetry.SpanBlobCopy, "s3", srcKey, telemetry.Version(srcVersion))
	defer span.End()

	srcObjKey := s.objectKey(srcKey, srcVersion)
	dstObjKey := s.objectKey(dstKey, dstVersion)
	copySource := s.bucket + "/" + srcObjKey

	var result *s3.CopyObjectOutput
	var lastErr error

	for attempt := 0; attempt <= int(s.retry.maxRetries); attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("blob/s3 copy: retrying", "backoff", backoff, "attempt", attempt, "key", dstObjKey)
			select {
			case <-ctx.Done():
				return blob.Metadata{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, lastErr = s.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(dstObjKey),
			CopySource: aws.String(copySource),
		})
		if lastErr == nil {
			break
		}
		if !isRetryableError(lastErr) {
			break
		}
	}
	if lastErr != nil {
		err := mapS3Error("copy", lastErr)
		telemetry.RecordError(ctx, err)
		return blob.Metadata{}, err
	}

	md := blob.Metadata{}
	if result.CopyObjectResult != nil && result.CopyObjectResult.ETag != nil {
		md.ETag = *result.CopyObjectResult.ETag
	}
	if result.CopyObjectResult != nil && result.CopyObjectResult.LastModified != nil {
		md.LastModified = *result.CopyObjectResult.LastModified
	}
	return md, nil
}

// bytesReaderSeeker adapts a byte slice drained from a non-seekable reader
// so PutObject retries can rewind the body between attempts.
type bytesReaderSeeker struct {
	b   []byte
	off int64
}

func (r *bytesReaderSeeker) Read(p []byte) (int, error) {
	if r.off >= int64(len(r.b)) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.off:])
	r.off += int64(n)
	return n, nil
}

func (r *bytesReaderSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.off + offset
	case io.SeekEnd:
		abs = int64(len(r.b)) + offset
	}
	r.off = abs
	return abs, nil
}
