// Package blob defines the Blob Backend Adapter (§4.A): a uniform
// read/write/head/copy/delete/multipart contract over a physical blob
// store, implemented by S3-compatible, filesystem, and in-memory variants.
package blob

import (
	"context"
	"io"
	"time"
)

// ByteRange is an inclusive-start, exclusive-end byte range for a partial
// Read. A zero-value ByteRange (End <= Start) means "read everything".
type ByteRange struct {
	Start int64
	End   int64
}

// Metadata describes a stored object, returned by Write/Head/Copy.
type Metadata struct {
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
	CacheControl string
	UserMetadata map[string]string
}

// Part describes one uploaded multipart part.
type Part struct {
	Number int
	ETag   string
	Size   int64
}

// Backend is the uniform operation set every blob store variant implements
// (§4.A). All operations fail with an *apierror.Error of kind NotFound,
// AccessDenied, BackendUnavailable, or Conflict.
type Backend interface {
	// Read streams the content at key/version, optionally restricted to a
	// byte range. The caller must close the returned reader.
	Read(ctx context.Context, key, version string, r *ByteRange) (Metadata, io.ReadCloser, error)

	// Write stores data at key/version and returns the resulting metadata.
	Write(ctx context.Context, key, version string, data io.Reader, contentType, cacheControl string, userMetadata map[string]string) (Metadata, error)

	// Head returns metadata for key/version without reading its body.
	Head(ctx context.Context, key, version string) (Metadata, error)

	// Copy duplicates the object at (srcKey, srcVersion) to (dstKey, dstVersion).
	Copy(ctx context.Context, srcKey, srcVersion, dstKey, dstVersion string) (Metadata, error)

	// Delete removes one object version. Idempotent.
	Delete(ctx context.Context, key, version string) error

	// DeleteMany removes several object versions in one call. Idempotent.
	DeleteMany(ctx context.Context, refs []ObjectRef) error

	// PrivateAssetURL returns a time-limited URL for key/version, valid for ttl.
	PrivateAssetURL(ctx context.Context, key, version string, ttl time.Duration) (string, error)

	Multipart
}

// ObjectRef identifies one object version for batch operations.
type ObjectRef struct {
	Key     string
	Version string
}

// Multipart is the subset of Backend the resumable upload subsystem drives
// when the backend is S3-compatible. Non-S3 backends still implement it
// (§4.A requires it on every variant) but may do so trivially.
type Multipart interface {
	// CreateMultipart begins a multipart upload session for key/version,
	// returning an opaque upload id.
	CreateMultipart(ctx context.Context, key, version, contentType string) (uploadID string, err error)

	// UploadPart uploads one part (1-10000) of an in-progress multipart upload.
	UploadPart(ctx context.Context, key, version, uploadID string, partNumber int, data io.Reader, size int64) (Part, error)

	// ListParts returns the parts uploaded so far for uploadID.
	ListParts(ctx context.Context, key, version, uploadID string) ([]Part, error)

	// CompleteMultipart assembles the uploaded parts into the final object.
	CompleteMultipart(ctx context.Context, key, version, uploadID string, parts []Part) (Metadata, error)

	// AbortMultipart cancels an in-progress multipart upload. Idempotent.
	AbortMultipart(ctx context.Context, key, version, uploadID string) error
}
