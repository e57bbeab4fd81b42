package s3

import (
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeClient(t *testing.T) *s3.Client {
	t.Helper()
	return s3.New(s3.Options{Region: "us-east-1"})
}

type fakeAPIError struct{ code string }

func (e fakeAPIError) Error() string        { return e.code }
func (e fakeAPIError) ErrorCode() string    { return e.code }
func (e fakeAPIError) ErrorMessage() string { return e.code }
func (e fakeAPIError) ErrorFault() smithy.ErrorFault {
	return smithy.FaultUnknown
}

func TestObjectKeyDerivesPrefixKeyVersion(t *testing.T) {
	s := &Store{prefix: "tenants/acme/"}
	assert.Equal(t, "tenants/acme/reports/q1.csv/v2", s.objectKey("reports/q1.csv", "v2"))
}

func TestObjectKeyWithoutPrefix(t *testing.T) {
	s := &Store{}
	assert.Equal(t, "k/v1", s.objectKey("k", "v1"))
}

func TestCalculateBackoffGrowsExponentiallyAndCaps(t *testing.T) {
	s := &Store{retry: retryConfig{
		initialBackoff:    10 * time.Millisecond,
		maxBackoff:        50 * time.Millisecond,
		backoffMultiplier: 2,
	}}

	assert.Equal(t, 10*time.Millisecond, s.calculateBackoff(0))
	assert.Equal(t, 20*time.Millisecond, s.calculateBackoff(1))
	assert.Equal(t, 40*time.Millisecond, s.calculateBackoff(2))
	assert.Equal(t, 50*time.Millisecond, s.calculateBackoff(3))
}

func TestNewRejectsMissingClientOrBucket(t *testing.T) {
	_, err := New(Config{Bucket: "b"})
	require.Error(t, err)

	_, err = New(Config{})
	require.Error(t, err)
}

func TestNewRejectsPartSizeOutOfBounds(t *testing.T) {
	_, err := New(Config{Client: fakeClient(t), Bucket: "b", PartSize: 1})
	require.Error(t, err)
}

func TestIsRetryableErrorClassifiesThrottlingAnd5xxAsRetryable(t *testing.T) {
	assert.True(t, isRetryableError(fakeAPIError{code: "ThrottlingException"}))
	assert.True(t, isRetryableError(fakeAPIError{code: "ServiceUnavailable"}))
	assert.False(t, isRetryableError(fakeAPIError{code: "AccessDenied"}))
	assert.False(t, isRetryableError(fakeAPIError{code: "NoSuchKey"}))
	assert.False(t, isRetryableError(nil))
}

func TestIsNotFoundErrorMatchesNoSuchKeyCode(t *testing.T) {
	assert.True(t, isNotFoundError(fakeAPIError{code: "NoSuchKey"}))
	assert.True(t, isNotFoundError(fakeAPIError{code: "NotFound"}))
	assert.False(t, isNotFoundError(fakeAPIError{code: "AccessDenied"}))
}

func TestMapS3ErrorClassifiesByKind(t *testing.T) {
	err := mapS3Error("read", fakeAPIError{code: "NoSuchKey"})
	require.Error(t, err)

	err = mapS3Error("read", fakeAPIError{code: "AccessDenied"})
	require.Error(t, err)

	err = mapS3Error("read", errors.New("connection reset"))
	require.Error(t, err)

	assert.Nil(t, mapS3Error("read", nil))
}
