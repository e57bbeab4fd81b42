package apierror

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCodeMapping(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidJWT, 400},
		{KindInvalidSignature, 400},
		{KindInvalidMetadata, 400},
		{KindMetadataRequired, 400},
		{KindInvalidParameter, 400},
		{KindAccessDenied, 403},
		{KindBucketNotFound, 404},
		{KindObjectNotFound, 404},
		{KindReservationNotFound, 404},
		{KindConflict, 409},
		{KindBucketNotEmpty, 409},
		{KindResourceLocked, 409},
		{KindExpiredReservation, 409},
		{KindEntityTooLarge, 413},
		{KindPayloadTooLarge, 413},
		{KindInvalidMimeType, 415},
		{KindNoActiveShard, 507},
		{KindNoAvailableShard, 507},
		{KindDatabaseTimeout, 544},
		{KindAcquiringLockTimeout, 503},
		{KindBackendUnavailable, 503},
		{KindTransactionError, 500},
		{KindInternalError, 500},
		{Kind("SomeUnrecognizedKind"), 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.StatusCode())
		})
	}
}

func TestWrapRetainsCauseForErrorsIs(t *testing.T) {
	cause := errors.New("advisory lock held by another session")
	err := Wrap(KindResourceLocked, "object is locked", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, 409, err.StatusCode())
}

func TestInternalSanitizesMessage(t *testing.T) {
	cause := errors.New("pq: connection refused on 10.0.4.12:5432")
	err := Internal(cause)

	assert.Equal(t, "Internal Server Error", err.Message)
	assert.True(t, errors.Is(err, cause))
}

func TestFromErrorPassesThroughTaxonomyErrors(t *testing.T) {
	original := New(KindBucketNotFound, "bucket \"avatars\" does not exist")

	got := FromError(original)

	require.NotNil(t, got)
	assert.Equal(t, KindBucketNotFound, got.Kind)
	assert.Same(t, original, got)
}

func TestFromErrorClassifiesUnknownErrorsAsInternal(t *testing.T) {
	got := FromError(errors.New("boom"))

	require.NotNil(t, got)
	assert.Equal(t, KindInternalError, got.Kind)
	assert.Equal(t, "Internal Server Error", got.Message)
}

func TestFromErrorNilIsNil(t *testing.T) {
	assert.Nil(t, FromError(nil))
}

func TestAsUnwrapsThroughWrappedErrors(t *testing.T) {
	apiErr := New(KindConflict, "version conflict")
	wrapped := errors.Join(errors.New("context"), apiErr)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindConflict, got.Kind)
}
