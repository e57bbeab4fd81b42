package uploadid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectgate/gateway/pkg/apierror"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	id := ID{Tenant: "tenant-1", Bucket: "avatars", ObjectName: "users/42/profile.png", Version: "v1"}

	encoded := Encode(id)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, id, decoded)
}

func TestEncodeIsBase64URLSafe(t *testing.T) {
	id := ID{Tenant: "t", Bucket: "b", ObjectName: "n", Version: "v"}
	encoded := Encode(id)
	assert.NotContains(t, encoded, "/")
	assert.NotContains(t, encoded, "+")
}

func TestDecodeRejectsMalformedBase64(t *testing.T) {
	_, err := Decode("not-valid-base64!!!")
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindInvalidParameter, apiErr.Kind)
}

func TestDecodeRejectsEmptyObjectName(t *testing.T) {
	encoded := Encode(ID{Tenant: "t", Bucket: "b", ObjectName: "", Version: "v"})
	_, err := Decode(encoded)
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindInvalidParameter, apiErr.Kind)
}

func TestResourceMatchesUnencodedTuple(t *testing.T) {
	id := ID{Tenant: "t", Bucket: "b", ObjectName: "a/b/c.txt", Version: "v1"}
	assert.Equal(t, "t/b/a/b/c.txt/v1", id.Resource())
}
