package upload

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectgate/gateway/pkg/apierror"
	memblob "github.com/objectgate/gateway/pkg/blob/store/memory"
	"github.com/objectgate/gateway/pkg/metadata"
	memstore "github.com/objectgate/gateway/pkg/metadata/store/memory"
)

func newTestUploader(t *testing.T) (*Uploader, *memblob.Store, metadata.Scope) {
	t.Helper()
	store := memstore.New()
	blobs := memblob.New()
	u := New(store, blobs, nil)
	scope := metadata.Scope{Role: "authenticated", TenantID: "tenant-1", Subject: "user-1"}
	return u, blobs, scope
}

func TestCanUploadAllowsNewObject(t *testing.T) {
	u, _, scope := newTestUploader(t)
	err := u.CanUpload(context.Background(), scope, CanUploadRequest{
		BucketID: "bucket-1", ObjectName: "reports/q1.csv", Owner: "user-1",
	})
	assert.NoError(t, err)
}

func TestCanUploadRejectsExistingWithoutUpsert(t *testing.T) {
	u, blobs, scope := newTestUploader(t)
	ctx := context.Background()

	res, err := u.PrepareUpload(ctx, scope, PrepareUploadRequest{TenantID: "tenant-1", BucketID: "bucket-1", ObjectName: "k"})
	require.NoError(t, err)
	_, err = blobs.Write(ctx, "tenant-1/bucket-1/k", res.Version, bytes.NewReader([]byte("x")), "", "", nil)
	require.NoError(t, err)
	require.NoError(t, u.CompleteUpload(ctx, scope, CompleteUploadRequest{
		TenantID: "tenant-1", Version: res.Version, BucketID: "bucket-1", ObjectName: "k", Owner: "user-1", UploadType: metadata.UploadTypePlain,
	}))

	err = u.CanUpload(ctx, scope, CanUploadRequest{BucketID: "bucket-1", ObjectName: "k", Owner: "user-1", IsUpsert: false})
	require.Error(t, err)
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindConflict, apiErr.Kind)
}

func TestCanUploadAllowsUpsertBySameOwner(t *testing.T) {
	u, blobs, scope := newTestUploader(t)
	ctx := context.Background()

	res, err := u.PrepareUpload(ctx, scope, PrepareUploadRequest{TenantID: "tenant-1", BucketID: "bucket-1", ObjectName: "k"})
	require.NoError(t, err)
	_, err = blobs.Write(ctx, "tenant-1/bucket-1/k", res.Version, bytes.NewReader([]byte("x")), "", "", nil)
	require.NoError(t, err)
	require.NoError(t, u.CompleteUpload(ctx, scope, CompleteUploadRequest{
		TenantID: "tenant-1", Version: res.Version, BucketID: "bucket-1", ObjectName: "k", Owner: "user-1", UploadType: metadata.UploadTypePlain,
	}))

	err = u.CanUpload(ctx, scope, CanUploadRequest{BucketID: "bucket-1", ObjectName: "k", Owner: "user-1", IsUpsert: true})
	assert.NoError(t, err)
}

func TestValidateMimeTypeMatchesWildcardAndExact(t *testing.T) {
	assert.NoError(t, ValidateMimeType("image/png", []string{"image/*"}))
	assert.NoError(t, ValidateMimeType("text/csv", []string{"text/csv"}))
	assert.NoError(t, ValidateMimeType("anything/here", []string{"*/*"}))

	err := ValidateMimeType("video/mp4", []string{"image/*", "text/csv"})
	require.Error(t, err)
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindInvalidMimeType, apiErr.Kind)
}

func TestFileSizeLimitTakesSmaller(t *testing.T) {
	assert.EqualValues(t, 100, FileSizeLimit(100, 200))
	assert.EqualValues(t, 100, FileSizeLimit(200, 100))
	assert.EqualValues(t, 200, FileSizeLimit(0, 200))
	assert.EqualValues(t, 100, FileSizeLimit(100, 0))
}

func TestNormalizeCacheControl(t *testing.T) {
	assert.Equal(t, "max-age=3600", NormalizeCacheControl("3600"))
	assert.Equal(t, "no-cache", NormalizeCacheControl(""))
	assert.Equal(t, "no-cache", NormalizeCacheControl("public"))
}

func TestCompleteUploadFailsWithoutBlob(t *testing.T) {
	u, _, scope := newTestUploader(t)
	err := u.CompleteUpload(context.Background(), scope, CompleteUploadRequest{
		TenantID: "tenant-1", Version: "missing-version", BucketID: "bucket-1", ObjectName: "k", UploadType: metadata.UploadTypePlain,
	})
	require.Error(t, err)
}

func TestCompleteUploadSchedulesSupersededVersionDeletion(t *testing.T) {
	u, blobs, scope := newTestUploader(t)
	ctx := context.Background()

	firstVersion, err := u.PrepareUpload(ctx, scope, PrepareUploadRequest{TenantID: "tenant-1", BucketID: "bucket-1", ObjectName: "k"})
	require.NoError(t, err)
	_, err = blobs.Write(ctx, "tenant-1/bucket-1/k", firstVersion.Version, bytes.NewReader([]byte("v1")), "", "", nil)
	require.NoError(t, err)
	require.NoError(t, u.CompleteUpload(ctx, scope, CompleteUploadRequest{
		TenantID: "tenant-1", Version: firstVersion.Version, BucketID: "bucket-1", ObjectName: "k", UploadType: metadata.UploadTypePlain,
	}))

	secondVersion, err := u.PrepareUpload(ctx, scope, PrepareUploadRequest{TenantID: "tenant-1", BucketID: "bucket-1", ObjectName: "k"})
	require.NoError(t, err)
	_, err = blobs.Write(ctx, "tenant-1/bucket-1/k", secondVersion.Version, bytes.NewReader([]byte("v2")), "", "", nil)
	require.NoError(t, err)
	require.NoError(t, u.CompleteUpload(ctx, scope, CompleteUploadRequest{
		TenantID: "tenant-1", Version: secondVersion.Version, BucketID: "bucket-1", ObjectName: "k", IsUpsert: true, UploadType: metadata.UploadTypePlain,
	}))

	// Synchronous deletion path (deletions == nil) should have removed v1.
	_, _, err = blobs.Read(ctx, "tenant-1/bucket-1/k", firstVersion.Version, nil)
	assert.Error(t, err)

	_, _, err = blobs.Read(ctx, "tenant-1/bucket-1/k", secondVersion.Version, nil)
	assert.NoError(t, err)
}
