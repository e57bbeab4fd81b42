package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectgate/gateway/pkg/apierror"
	memblob "github.com/objectgate/gateway/pkg/blob/store/memory"
)

func TestBlobLockerAcquireReleaseRoundTrip(t *testing.T) {
	backend := memblob.New()
	l := NewBlobLocker(backend, nil, BlobLockerOptions{}, nil)

	lease, err := l.Acquire(context.Background(), "tenant-1/bucket-1/obj.txt/v1")
	require.NoError(t, err)
	require.NotNil(t, lease)

	require.NoError(t, l.Release(context.Background(), lease))

	// After release, the same id can be acquired again immediately.
	lease2, err := l.Acquire(context.Background(), "tenant-1/bucket-1/obj.txt/v1")
	require.NoError(t, err)
	assert.NotNil(t, lease2)
}

func TestBlobLockerContentionTimesOut(t *testing.T) {
	backend := memblob.New()
	l := NewBlobLocker(backend, nil, BlobLockerOptions{
		TTL:         time.Hour,
		BaseBackoff: time.Millisecond,
		MaxRetries:  3,
		Timeout:     50 * time.Millisecond,
	}, nil)

	id := "tenant-1/bucket-1/obj.txt/v1"
	_, err := l.Acquire(context.Background(), id)
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), id)
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindAcquiringLockTimeout, apiErr.Kind)
}

func TestBlobLockerReapsExpiredLock(t *testing.T) {
	backend := memblob.New()
	l := NewBlobLocker(backend, nil, BlobLockerOptions{
		TTL:           time.Millisecond,
		RenewInterval: time.Nanosecond,
		BaseBackoff:   time.Millisecond,
		MaxRetries:    5,
		Timeout:       time.Second,
	}, nil)

	id := "tenant-1/bucket-1/obj.txt/v1"
	first, err := l.Acquire(context.Background(), id)
	require.NoError(t, err)

	// Stop the renewal goroutine without releasing, simulating a crashed
	// holder whose lock object is left behind with a past expiresAt.
	state := first.impl.(*blobState)
	close(state.stop)
	time.Sleep(5 * time.Millisecond)

	second, err := l.Acquire(context.Background(), id)
	require.NoError(t, err)
	assert.NotEqual(t, first.impl.(*blobState).lockID, second.impl.(*blobState).lockID)
}
