// Package uploadid codecs the resumable-upload identifier (§4.G): a
// base64url-encoded `{tenant}/{bucket}/{objectName}/{version}` tuple, the
// value every resumable-upload URL and lock key is keyed by.
package uploadid

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/objectgate/gateway/pkg/apierror"
)

// ID is a decoded resumable-upload identifier.
type ID struct {
	Tenant     string
	Bucket     string
	ObjectName string
	Version    string
}

// Encode renders id as `{tenant}/{bucket}/{objectName}/{version}`,
// base64url-encoded for safe use in a URL path segment.
func Encode(id ID) string {
	raw := fmt.Sprintf("%s/%s/%s/%s", id.Tenant, id.Bucket, id.ObjectName, id.Version)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode reverses Encode. Splitting is anchored at the edges: the first
// segment is always the tenant and the last is always the version, so an
// objectName containing "/" round-trips correctly.
func Decode(encoded string) (ID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return ID{}, apierror.Wrap(apierror.KindInvalidParameter, "malformed upload id", err)
	}

	parts := strings.Split(string(raw), "/")
	if len(parts) < 4 {
		return ID{}, apierror.New(apierror.KindInvalidParameter, "upload id is missing required segments")
	}

	tenant := parts[0]
	version := parts[len(parts)-1]
	objectName := strings.Join(parts[1:len(parts)-1], "/")

	// objectName currently carries "bucket/objectName"; split off the bucket.
	bucketAndName := strings.SplitN(objectName, "/", 2)
	if len(bucketAndName) != 2 {
		return ID{}, apierror.New(apierror.KindInvalidParameter, "upload id is missing a bucket segment")
	}

	if tenant == "" || bucketAndName[0] == "" || bucketAndName[1] == "" || version == "" {
		return ID{}, apierror.New(apierror.KindInvalidParameter, "upload id has an empty segment")
	}

	return ID{Tenant: tenant, Bucket: bucketAndName[0], ObjectName: bucketAndName[1], Version: version}, nil
}

// Resource returns the key the Sharding Allocator and Locker identify this
// upload by: the raw, decoded tuple joined identically to Encode's input,
// before base64 — distinct from the opaque encoded id exposed in URLs.
func (id ID) Resource() string {
	return fmt.Sprintf("%s/%s/%s/%s", id.Tenant, id.Bucket, id.ObjectName, id.Version)
}
