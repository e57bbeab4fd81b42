// Package upload implements the Uploader (§4.F): a two-phase pipeline that
// persists an object's bytes and metadata atomically from the caller's
// viewpoint, coordinating the Metadata Store Adapter and the Blob Backend
// Adapter.
//
// Architecture:
//
//	Uploader
//	     ├── metadata.Store: authorization, row locking, object/event rows
//	     └── blob.Backend: physical bytes at "{key}/{version}"
//
// A successful upload runs CanUpload -> ValidateMimeType -> PrepareUpload
// (caller streams bytes to the blob backend in between) -> CompleteUpload.
package upload

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/objectgate/gateway/internal/telemetry"
	"github.com/objectgate/gateway/pkg/apierror"
	"github.com/objectgate/gateway/pkg/blob"
	"github.com/objectgate/gateway/pkg/metadata"
	"github.com/objectgate/gateway/pkg/metrics"
)

// Uploader coordinates the metadata store and blob backend for the
// two-phase upload pipeline.
type Uploader struct {
	store     metadata.Store
	blobs     blob.Backend
	deletions *DeletionQueue
}

// New creates an Uploader. deletions may be nil, in which case superseded
// blob versions are deleted synchronously within CompleteUpload instead of
// being scheduled for background removal.
func New(store metadata.Store, blobs blob.Backend, deletions *DeletionQueue) *Uploader {
	return &Uploader{store: store, blobs: blobs, deletions: deletions}
}

// CanUploadRequest is the input to CanUpload.
type CanUploadRequest struct {
	BucketID   string
	ObjectName string
	Owner      string
	IsUpsert   bool
}

// CanUpload consults the store under the caller's authorization to decide
// whether an INSERT (new object) or UPDATE (upsert) would be permitted.
func (u *Uploader) CanUpload(ctx context.Context, scope metadata.Scope, req CanUploadRequest) error {
	return u.store.WithAuthorizedTx(ctx, scope, func(ctx context.Context, tx metadata.Transaction) error {
		existing, err := tx.GetObject(ctx, req.BucketID, req.ObjectName)
		if err != nil {
			if apiErr, ok := apierror.As(err); !ok || apiErr.Kind != apierror.KindObjectNotFound {
				return err
			}
			// Object doesn't exist: this would be an INSERT. The row-level
			// authorization policy for GetObject having succeeded (or a
			// typed not-found, rather than AccessDenied) is itself the
			// caller's insert permission check under §4.B's RLS model.
			return nil
		}
		if !req.IsUpsert {
			return apierror.New(apierror.KindConflict, "object already exists")
		}
		if existing.Owner != "" && existing.Owner != req.Owner {
			return apierror.New(apierror.KindAccessDenied, "caller does not own the existing object version")
		}
		return nil
	})
}

// PrepareUploadRequest is the input to PrepareUpload.
type PrepareUploadRequest struct {
	TenantID   string
	BucketID   string
	ObjectName string
}

// PrepareUploadResult carries the version assigned to the in-flight upload.
type PrepareUploadResult struct {
	Version string
}

// PrepareUpload reserves a new version UUID for (bucket, name) under the
// (bucket, name, version) row lock, so concurrent uploads to the same
// object never interleave their blob writes under the same key.
func (u *Uploader) PrepareUpload(ctx context.Context, scope metadata.Scope, req PrepareUploadRequest) (PrepareUploadResult, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanUploadStart, trace.WithAttributes(
		telemetry.Tenant(req.TenantID), telemetry.Bucket(req.BucketID), telemetry.Object(req.ObjectName),
	))
	defer span.End()

	version := uuid.NewString()

	err := u.store.WithAuthorizedTx(ctx, scope, func(ctx context.Context, tx metadata.Transaction) error {
		locked, err := tx.LockObject(ctx, req.BucketID, req.ObjectName, version, true)
		if err != nil {
			return err
		}
		if !locked {
			return apierror.New(apierror.KindResourceLocked, "object version is locked by a concurrent upload")
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return PrepareUploadResult{}, err
	}

	return PrepareUploadResult{Version: version}, nil
}

// ValidateMimeType matches contentType against a bucket's allow-list
// patterns ("*/*", "type/*", or an exact match).
func ValidateMimeType(contentType string, allowedPatterns []string) error {
	if len(allowedPatterns) == 0 {
		return nil
	}
	for _, pattern := range allowedPatterns {
		if mimeMatches(contentType, pattern) {
			return nil
		}
	}
	return apierror.New(apierror.KindInvalidMimeType, fmt.Sprintf("content type %q is not permitted by this bucket", contentType))
}

func mimeMatches(contentType, pattern string) bool {
	if pattern == "*/*" {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		return strings.HasPrefix(contentType, strings.TrimSuffix(pattern, "*"))
	}
	return contentType == pattern
}

// FileSizeLimit computes the effective upload-size ceiling as the smaller
// of the bucket's own limit (0 means unlimited) and the tenant-wide limit.
func FileSizeLimit(bucketLimit, tenantLimit int64) int64 {
	if bucketLimit <= 0 {
		return tenantLimit
	}
	if tenantLimit <= 0 {
		return bucketLimit
	}
	if bucketLimit < tenantLimit {
		return bucketLimit
	}
	return tenantLimit
}

// NormalizeCacheControl applies §4.G's cache-control normalization rule: an
// integer value becomes "max-age=N"; anything else becomes "no-cache".
func NormalizeCacheControl(value string) string {
	if value == "" {
		return "no-cache"
	}
	if n, err := strconv.Atoi(value); err == nil {
		return fmt.Sprintf("max-age=%d", n)
	}
	return "no-cache"
}

// Operation identifies which HTTP/S3 operation produced an upload, so
// CompleteUpload can emit the right §4.I event kind.
type Operation string

const (
	// OperationPost is a plain non-upsert create (the common case).
	OperationPost Operation = "post"
	// OperationPut is an explicit create-or-overwrite (X-Upsert/S3 PutObject semantics).
	OperationPut Operation = "put"
	// OperationCopy is a server-side copy into this (bucket, name).
	OperationCopy Operation = "copy"
	// OperationMove is the write half of a cross-bucket or renaming move.
	OperationMove Operation = "move"
)

func (op Operation) eventKind() metadata.EventKind {
	switch op {
	case OperationPut:
		return metadata.EventObjectCreatedPut
	case OperationCopy:
		return metadata.EventObjectCreatedCopy
	case OperationMove:
		return metadata.EventObjectCreatedMove
	default:
		return metadata.EventObjectCreatedPost
	}
}

// CompleteUploadRequest is the input to CompleteUpload.
type CompleteUploadRequest struct {
	TenantID     string
	Version      string
	BucketID     string
	ObjectName   string
	ContentType  string
	CacheControl string
	UserMetadata map[string]string
	IsUpsert     bool
	UploadType   metadata.UploadType
	Owner        string
	Operation    Operation
}

// CompleteUpload finalizes an upload: verifies the blob exists at
// {key}/{version} via Head, writes the final object row (or updates the
// existing one) and enqueues the lifecycle event in a single transaction,
// then schedules deletion of the superseded version's blob.
func (u *Uploader) CompleteUpload(ctx context.Context, scope metadata.Scope, req CompleteUploadRequest) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanUploadFin, trace.WithAttributes(
		telemetry.Tenant(req.TenantID), telemetry.Bucket(req.BucketID), telemetry.Object(req.ObjectName), telemetry.Version(req.Version),
	))
	defer span.End()

	key := objectKey(req.TenantID, req.BucketID, req.ObjectName)

	head, err := u.blobs.Head(ctx, key, req.Version)
	if err != nil {
		metrics.Inc(metrics.UploadsTotal, string(req.Operation), "error")
		telemetry.RecordError(ctx, err)
		return apierror.Wrap(apierror.KindInternalError, "complete upload: blob not found at expected key/version", err)
	}

	var supersededVersion string

	txErr := u.store.WithAuthorizedTx(ctx, scope, func(ctx context.Context, tx metadata.Transaction) error {
		existing, err := tx.GetObject(ctx, req.BucketID, req.ObjectName)
		if err != nil {
			if apiErr, ok := apierror.As(err); !ok || apiErr.Kind != apierror.KindObjectNotFound {
				return err
			}
		}
		if err == nil {
			if !req.IsUpsert {
				return apierror.New(apierror.KindConflict, "object already exists")
			}
			supersededVersion = existing.Version
		}

		obj := &metadata.Object{
			BucketID:     req.BucketID,
			Name:         req.ObjectName,
			Version:      req.Version,
			Size:         head.Size,
			ContentType:  req.ContentType,
			ETag:         head.ETag,
			Owner:        req.Owner,
			UserMetadata: req.UserMetadata,
			UploadType:   req.UploadType,
		}
		if err := tx.PutObject(ctx, obj); err != nil {
			return err
		}

		if err := tx.EnsurePrefixes(ctx, req.BucketID, req.ObjectName); err != nil {
			return err
		}

		return tx.EmitEvent(ctx, &metadata.Event{
			BucketID:   req.BucketID,
			ObjectName: req.ObjectName,
			Kind:       req.Operation.eventKind(),
			Payload:    eventPayload(req, head),
			CreatedAt:  time.Now(),
		})
	})

	if txErr != nil {
		// Commit failed: the new version's bytes are now orphaned, not the
		// old version's. Schedule deletion of what we just wrote instead.
		u.scheduleDeletion(key, req.Version)
		metrics.Inc(metrics.UploadsTotal, string(req.Operation), "error")
		telemetry.RecordError(ctx, txErr)
		return txErr
	}

	if supersededVersion != "" && supersededVersion != req.Version {
		u.scheduleDeletion(key, supersededVersion)
	}

	metrics.Inc(metrics.UploadsTotal, string(req.Operation), "ok")
	return nil
}

func (u *Uploader) scheduleDeletion(key, version string) {
	if u.deletions != nil {
		u.deletions.Schedule(key, version)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = u.blobs.Delete(ctx, key, version)
}

// objectKey derives the blob key for (tenantID, bucketID, objectName):
// "{tenant}/{bucket}/{name}" (§3, §6), so the physical key layout at the
// blob backend stays tenant-segmented the same way lock keys are.
func objectKey(tenantID, bucketID, objectName string) string {
	return path.Join(tenantID, bucketID, objectName)
}

func eventPayload(req CompleteUploadRequest, head blob.Metadata) []byte {
	return []byte(fmt.Sprintf(
		`{"bucketId":%q,"name":%q,"version":%q,"size":%d,"contentType":%q}`,
		req.BucketID, req.ObjectName, req.Version, head.Size, req.ContentType,
	))
}
