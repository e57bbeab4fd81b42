package resumable

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectgate/gateway/pkg/blob"
	memblob "github.com/objectgate/gateway/pkg/blob/store/memory"
	"github.com/objectgate/gateway/pkg/metadata"
	memstore "github.com/objectgate/gateway/pkg/metadata/store/memory"
	"github.com/objectgate/gateway/pkg/resumable/lock"
	"github.com/objectgate/gateway/pkg/resumable/uploadid"
	"github.com/objectgate/gateway/pkg/upload"
)

type noopLocker struct{}

func (noopLocker) Acquire(ctx context.Context, id string) (*lock.Lease, error) {
	return &lock.Lease{ID: id}, nil
}
func (noopLocker) Release(ctx context.Context, lease *lock.Lease) error { return nil }

func newTestSession(t *testing.T) (*Session, metadata.Store, blob.Backend, metadata.Bucket) {
	t.Helper()
	store := memstore.New()
	backend := memblob.New()
	uploader := upload.New(store, backend, nil)

	scope := metadata.Scope{TenantID: "tenant-1", Role: "service"}
	bucket := metadata.Bucket{TenantID: "tenant-1", Name: "avatars", FileSizeLimit: 1000, AllowedMimePatterns: []string{"image/*"}}
	require.NoError(t, store.WithAuthorizedTx(context.Background(), scope, func(ctx context.Context, tx metadata.Transaction) error {
		return tx.CreateBucket(ctx, &bucket)
	}))

	return New(store, uploader, noopLocker{}), store, backend, bucket
}

func TestCreateReservesVersionAndNormalizesCache(t *testing.T) {
	session, _, _, bucket := newTestSession(t)
	scope := metadata.Scope{TenantID: "tenant-1", Role: "service"}

	result, err := session.Create(context.Background(), CreateRequest{
		Scope:        scope,
		TenantID:     "tenant-1",
		BucketName:   bucket.Name,
		ObjectName:   "user-1/avatar.png",
		Owner:        "user-1",
		ContentType:  "image/png",
		CacheControl: "300",
		TenantLimit:  5000,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.UploadID)
	assert.NotEmpty(t, result.Version)
	assert.Equal(t, "max-age=300", result.NormalizedCache)
	assert.EqualValues(t, 1000, result.FileSizeCeiling)

	decoded, err := uploadid.Decode(result.UploadID)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", decoded.Tenant)
	assert.Equal(t, "user-1/avatar.png", decoded.ObjectName)
	assert.Equal(t, result.Version, decoded.Version)
}

func TestCreateRejectsDisallowedMimeType(t *testing.T) {
	session, _, _, bucket := newTestSession(t)
	scope := metadata.Scope{TenantID: "tenant-1", Role: "service"}

	_, err := session.Create(context.Background(), CreateRequest{
		Scope:       scope,
		TenantID:    "tenant-1",
		BucketName:  bucket.Name,
		ObjectName:  "user-1/doc.pdf",
		ContentType: "application/pdf",
	})
	assert.Error(t, err)
}

func TestFinishCompletesUploadAfterBlobWrite(t *testing.T) {
	session, _, backend, bucket := newTestSession(t)
	scope := metadata.Scope{TenantID: "tenant-1", Role: "service"}

	result, err := session.Create(context.Background(), CreateRequest{
		Scope:        scope,
		TenantID:     "tenant-1",
		BucketName:   bucket.Name,
		ObjectName:   "user-1/avatar.png",
		Owner:        "user-1",
		ContentType:  "image/png",
		CacheControl: "",
	})
	require.NoError(t, err)

	key := "tenant-1/" + bucket.ID + "/user-1/avatar.png"
	_, err = backend.Write(context.Background(), key, result.Version, strings.NewReader("hello"), "image/png", "no-cache", nil)
	require.NoError(t, err)

	err = session.Finish(context.Background(), FinishRequest{
		Scope:        scope,
		BucketID:     bucket.ID,
		ObjectName:   "user-1/avatar.png",
		Version:      result.Version,
		ContentType:  "image/png",
		CacheControl: result.NormalizedCache,
		Owner:        "user-1",
	})
	require.NoError(t, err)
}

func TestWithLockAcquiresAndReleases(t *testing.T) {
	session, _, _, _ := newTestSession(t)
	id := uploadid.ID{Tenant: "tenant-1", Bucket: "avatars", ObjectName: "user-1/avatar.png", Version: "v1"}

	called := false
	err := session.WithLock(context.Background(), id, func(ctx context.Context, lease *lock.Lease) error {
		called = true
		assert.Equal(t, id.Resource(), lease.ID)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
