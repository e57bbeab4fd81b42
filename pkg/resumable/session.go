// Package resumable implements the Resumable Upload Subsystem (§4.G): the
// TUS-style lifecycle (POST create, PATCH append, HEAD status, OPTIONS
// discovery, DELETE abort) on top of the Uploader, the distributed Locker,
// and the Upload-URL Signer. The HTTP/TUS wire protocol itself is an
// external collaborator (outside this module's scope); this package exposes
// the hooks that collaborator calls at each stage.
package resumable

import (
	"context"
	"time"

	"github.com/objectgate/gateway/pkg/apierror"
	"github.com/objectgate/gateway/pkg/metadata"
	"github.com/objectgate/gateway/pkg/resumable/lock"
	"github.com/objectgate/gateway/pkg/resumable/uploadid"
	"github.com/objectgate/gateway/pkg/signer"
	"github.com/objectgate/gateway/pkg/upload"
)

// Session coordinates one resumable-upload lifecycle.
type Session struct {
	store    metadata.Store
	uploader *upload.Uploader
	locker   lock.Locker
}

// New creates a Session.
func New(store metadata.Store, uploader *upload.Uploader, locker lock.Locker) *Session {
	return &Session{store: store, uploader: uploader, locker: locker}
}

// CreateRequest is the input to Create (the TUS POST).
type CreateRequest struct {
	Scope        metadata.Scope
	TenantID     string
	BucketName   string
	ObjectName   string
	Owner        string
	IsUpsert     bool
	ContentType  string
	CacheControl string
	TenantLimit  int64
}

// CreateResult carries what the caller needs to start accepting PATCH
// chunks: the upload id to hand back to the client, and the normalized
// cache-control value to persist alongside the upload.
type CreateResult struct {
	UploadID        string
	Version         string
	NormalizedCache string
	FileSizeCeiling int64
}

// Create validates the bucket and request, reserves a new version, and
// returns the upload id the client will address subsequent PATCH/HEAD/
// DELETE requests to.
func (s *Session) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	var bucket *metadata.Bucket
	err := s.store.WithAuthorizedTx(ctx, req.Scope, func(ctx context.Context, tx metadata.Transaction) error {
		var err error
		bucket, err = tx.GetBucket(ctx, req.TenantID, req.BucketName)
		return err
	})
	if err != nil {
		return CreateResult{}, err
	}

	if err := upload.ValidateMimeType(req.ContentType, bucket.AllowedMimePatterns); err != nil {
		return CreateResult{}, err
	}

	if err := s.uploader.CanUpload(ctx, req.Scope, upload.CanUploadRequest{
		BucketID:   bucket.ID,
		ObjectName: req.ObjectName,
		Owner:      req.Owner,
		IsUpsert:   req.IsUpsert,
	}); err != nil {
		return CreateResult{}, err
	}

	prepared, err := s.uploader.PrepareUpload(ctx, req.Scope, upload.PrepareUploadRequest{
		TenantID:   req.TenantID,
		BucketID:   bucket.ID,
		ObjectName: req.ObjectName,
	})
	if err != nil {
		return CreateResult{}, err
	}

	id := uploadid.ID{Tenant: req.TenantID, Bucket: req.BucketName, ObjectName: req.ObjectName, Version: prepared.Version}

	return CreateResult{
		UploadID:        uploadid.Encode(id),
		Version:         prepared.Version,
		NormalizedCache: upload.NormalizeCacheControl(req.CacheControl),
		FileSizeCeiling: upload.FileSizeLimit(bucket.FileSizeLimit, req.TenantLimit),
	}, nil
}

// Authorize is called on every request in an upload's lifetime except
// OPTIONS/HEAD (§4.G): it re-runs canUpload under the caller's scope. It
// does not check signed-upload-URL tokens; a request under a `/sign` suffix
// has its token verified separately by VerifySignedRequest.
func (s *Session) Authorize(ctx context.Context, scope metadata.Scope, bucketID string, id uploadid.ID, owner string, isUpsert bool) error {
	return s.uploader.CanUpload(ctx, scope, upload.CanUploadRequest{
		BucketID:   bucketID,
		ObjectName: id.ObjectName,
		Owner:      owner,
		IsUpsert:   isUpsert,
	})
}

// VerifySignedRequest validates a `/sign`-suffixed request's token against
// the resource's upload id, returning the owner/upsert it authorizes.
func VerifySignedRequest(jwtSecret, token string, id uploadid.ID) (owner string, upsert bool, err error) {
	claims, err := signer.VerifyUploadURL(jwtSecret, token, id.Resource())
	if err != nil {
		return "", false, err
	}
	return claims.Owner, claims.Upsert, nil
}

// FinishRequest is the input to Finish (the TUS upload reaching its
// declared length).
type FinishRequest struct {
	Scope        metadata.Scope
	BucketID     string
	ObjectName   string
	Version      string
	ContentType  string
	CacheControl string
	UserMetadata map[string]string
	Owner        string
	IsUpsert     bool
}

// Finish completes the upload: heads the blob, writes the final object row,
// and emits the lifecycle event via the Uploader, tagged as a resumable
// upload per §4.F's uploadType enum.
func (s *Session) Finish(ctx context.Context, req FinishRequest) error {
	return s.uploader.CompleteUpload(ctx, req.Scope, upload.CompleteUploadRequest{
		TenantID:     req.Scope.TenantID,
		Version:      req.Version,
		BucketID:     req.BucketID,
		ObjectName:   req.ObjectName,
		ContentType:  req.ContentType,
		CacheControl: req.CacheControl,
		UserMetadata: req.UserMetadata,
		IsUpsert:     req.IsUpsert,
		UploadType:   metadata.UploadTypeResumable,
		Owner:        req.Owner,
		Operation:    upload.OperationPost,
	})
}

// WithLock runs fn while holding the distributed mutex for id, releasing it
// afterward regardless of outcome. Acquisition failure (timeout, canceled
// context) surfaces as-is; fn's error is returned once the lock is released.
func (s *Session) WithLock(ctx context.Context, id uploadid.ID, fn func(ctx context.Context, lease *lock.Lease) error) error {
	lease, err := s.locker.Acquire(ctx, id.Resource())
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.locker.Release(releaseCtx, lease)
	}()
	return fn(ctx, lease)
}

// WrapError classifies any error returned from a lifecycle hook into the
// renderable error taxonomy (§4.K), per §4.G's "on response error" hook.
func WrapError(err error) *apierror.Error {
	return apierror.FromError(err)
}
