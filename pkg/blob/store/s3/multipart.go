package s3

import (
	"context"
	"errors"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/objectgate/gateway/pkg/apierror"
	"github.com/objectgate/gateway/pkg/blob"
)

// CreateMultipart begins a multipart upload session for key/version.
func (s *Store) CreateMultipart(ctx context.Context, key, version, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	objKey := s.objectKey(key, version)
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	result, err := s.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", mapS3Error("create_multipart", err)
	}

	uploadID := *result.UploadId
	s.sessionsMu.Lock()
	s.sessions[uploadID] = &uploadSession{}
	s.sessionsMu.Unlock()

	return uploadID, nil
}

// UploadPart uploads one part (1-10000) of an in-progress multipart upload.
func (s *Store) UploadPart(ctx context.Context, key, version, uploadID string, partNumber int, data io.Reader, size int64) (blob.Part, error) {
	if err := ctx.Err(); err != nil {
		return blob.Part{}, err
	}

	objKey := s.objectKey(key, version)

	s.sessionsMu.RLock()
	session, ok := s.sessions[uploadID]
	s.sessionsMu.RUnlock()
	if !ok {
		return blob.Part{}, apierror.New(apierror.KindConflict, "unknown multipart upload session")
	}

	result, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objKey),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(partNumber)),
		Body:          data,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return blob.Part{}, mapS3Error("upload_part", err)
	}

	part := blob.Part{Number: partNumber, Size: size}
	if result.ETag != nil {
		part.ETag = *result.ETag
	}

	session.mu.Lock()
	session.parts = append(session.parts, part)
	session.mu.Unlock()

	return part, nil
}

// ListParts returns the parts uploaded so far for uploadID.
func (s *Store) ListParts(ctx context.Context, key, version, uploadID string) ([]blob.Part, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.sessionsMu.RLock()
	session, ok := s.sessions[uploadID]
	s.sessionsMu.RUnlock()
	if !ok {
		return nil, apierror.New(apierror.KindConflict, "unknown multipart upload session")
	}

	session.mu.Lock()
	parts := make([]blob.Part, len(session.parts))
	copy(parts, session.parts)
	session.mu.Unlock()

	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	return parts, nil
}

// CompleteMultipart assembles the uploaded parts into the final object.
func (s *Store) CompleteMultipart(ctx context.Context, key, version, uploadID string, parts []blob.Part) (blob.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return blob.Metadata{}, err
	}

	objKey := s.objectKey(key, version)

	sorted := make([]blob.Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	completed := make([]types.CompletedPart, len(sorted))
	for i, p := range sorted {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(int32(p.Number)),
		}
	}

	result, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(objKey),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return blob.Metadata{}, mapS3Error("complete_multipart", err)
	}

	s.sessionsMu.Lock()
	delete(s.sessions, uploadID)
	s.sessionsMu.Unlock()

	md := blob.Metadata{}
	if result.ETag != nil {
		md.ETag = *result.ETag
	}
	return md, nil
}

// AbortMultipart cancels an in-progress multipart upload. Idempotent: a
// missing upload session is not an error.
func (s *Store) AbortMultipart(ctx context.Context, key, version, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	objKey := s.objectKey(key, version)
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(objKey),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		var noSuchUpload *types.NoSuchUpload
		if !errors.As(err, &noSuchUpload) {
			return mapS3Error("abort_multipart", err)
		}
	}

	s.sessionsMu.Lock()
	delete(s.sessions, uploadID)
	s.sessionsMu.Unlock()

	return nil
}
