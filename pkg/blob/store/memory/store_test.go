package memory

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectgate/gateway/pkg/apierror"
	"github.com/objectgate/gateway/pkg/blob"
)

func TestWriteThenReadRoundTrips(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Write(ctx, "k", "v1", bytes.NewReader([]byte("hello")), "text/plain", "", nil)
	require.NoError(t, err)

	_, rc, err := s.Read(ctx, "k", "v1", nil)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestReadMissingReturnsNotFound(t *testing.T) {
	s := New()
	_, _, err := s.Read(context.Background(), "missing", "v1", nil)
	require.Error(t, err)
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindObjectNotFound, apiErr.Kind)
}

func TestCopyPreservesData(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Write(ctx, "src", "v1", bytes.NewReader([]byte("data")), "", "", nil)
	require.NoError(t, err)

	_, err = s.Copy(ctx, "src", "v1", "dst", "v1")
	require.NoError(t, err)

	_, rc, err := s.Read(ctx, "dst", "v1", nil)
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "data", string(data))
}

func TestMultipartAssemblesInOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	uploadID, err := s.CreateMultipart(ctx, "big", "v1", "")
	require.NoError(t, err)

	p2, err := s.UploadPart(ctx, "big", "v1", uploadID, 2, bytes.NewReader([]byte("world")), 5)
	require.NoError(t, err)
	p1, err := s.UploadPart(ctx, "big", "v1", uploadID, 1, bytes.NewReader([]byte("hello ")), 6)
	require.NoError(t, err)

	_, err = s.CompleteMultipart(ctx, "big", "v1", uploadID, []blob.Part{p2, p1})
	require.NoError(t, err)

	_, rc, err := s.Read(ctx, "big", "v1", nil)
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "hello world", string(data))
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Delete(ctx, "nonexistent", "v1"))
}
