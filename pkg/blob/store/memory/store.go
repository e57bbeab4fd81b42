// Package memory implements the Blob Backend Adapter (§4.A) entirely
// in-process. It backs unit tests for components layered on blob.Backend
// without requiring a real S3 endpoint or filesystem.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/objectgate/gateway/pkg/apierror"
	"github.com/objectgate/gateway/pkg/blob"
)

type object struct {
	data         []byte
	contentType  string
	cacheControl string
	userMetadata map[string]string
	lastModified time.Time
}

func objectKey(key, version string) string { return key + "/" + version }

// Store is an in-memory blob.Backend, guarded by a single RWMutex.
type Store struct {
	mu      sync.RWMutex
	objects map[string]*object

	uploadsMu sync.Mutex
	uploads   map[string]*multipartUpload
}

type multipartUpload struct {
	key, version string
	mu           sync.Mutex
	parts        map[int][]byte
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		objects: make(map[string]*object),
		uploads: make(map[string]*multipartUpload),
	}
}

func (s *Store) Read(ctx context.Context, key, version string, r *blob.ByteRange) (blob.Metadata, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return blob.Metadata{}, nil, err
	}

	s.mu.RLock()
	obj, ok := s.objects[objectKey(key, version)]
	s.mu.RUnlock()
	if !ok {
		return blob.Metadata{}, nil, apierror.New(apierror.KindObjectNotFound, "object not found")
	}

	data := obj.data
	if r != nil && r.End > r.Start {
		start, end := r.Start, r.End
		if start > int64(len(data)) {
			start = int64(len(data))
		}
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		data = data[start:end]
	}

	return s.metadataFor(obj, int64(len(data))), io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) Write(ctx context.Context, key, version string, data io.Reader, contentType, cacheControl string, userMetadata map[string]string) (blob.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return blob.Metadata{}, err
	}

	b, err := io.ReadAll(data)
	if err != nil {
		return blob.Metadata{}, apierror.Wrap(apierror.KindBackendUnavailable, "write", err)
	}

	obj := &object{
		data:         b,
		contentType:  contentType,
		cacheControl: cacheControl,
		userMetadata: userMetadata,
		lastModified: time.Now(),
	}

	s.mu.Lock()
	s.objects[objectKey(key, version)] = obj
	s.mu.Unlock()

	return s.metadataFor(obj, int64(len(b))), nil
}

func (s *Store) Head(ctx context.Context, key, version string) (blob.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return blob.Metadata{}, err
	}

	s.mu.RLock()
	obj, ok := s.objects[objectKey(key, version)]
	s.mu.RUnlock()
	if !ok {
		return blob.Metadata{}, apierror.New(apierror.KindObjectNotFound, "object not found")
	}
	return s.metadataFor(obj, int64(len(obj.data))), nil
}

func (s *Store) Copy(ctx context.Context, srcKey, srcVersion, dstKey, dstVersion string) (blob.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return blob.Metadata{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.objects[objectKey(srcKey, srcVersion)]
	if !ok {
		return blob.Metadata{}, apierror.New(apierror.KindObjectNotFound, "source object not found")
	}

	dataCopy := make([]byte, len(src.data))
	copy(dataCopy, src.data)
	dst := &object{
		data:         dataCopy,
		contentType:  src.contentType,
		cacheControl: src.cacheControl,
		userMetadata: src.userMetadata,
		lastModified: time.Now(),
	}
	s.objects[objectKey(dstKey, dstVersion)] = dst
	return s.metadataFor(dst, int64(len(dataCopy))), nil
}

func (s *Store) Delete(ctx context.Context, key, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.objects, objectKey(key, version))
	s.mu.Unlock()
	return nil
}

func (s *Store) DeleteMany(ctx context.Context, refs []blob.ObjectRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	for _, ref := range refs {
		delete(s.objects, objectKey(ref.Key, ref.Version))
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) PrivateAssetURL(ctx context.Context, key, version string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[objectKey(key, version)]
	s.mu.RUnlock()
	if !ok {
		return "", apierror.New(apierror.KindObjectNotFound, "object not found")
	}
	return fmt.Sprintf("memory://%s/%s?ttl=%s", key, version, ttl), nil
}

func (s *Store) CreateMultipart(ctx context.Context, key, version, contentType string) (string, error) {
	uploadID := fmt.Sprintf("%s-%s-%d", key, version, time.Now().UnixNano())
	s.uploadsMu.Lock()
	s.uploads[uploadID] = &multipartUpload{key: key, version: version, parts: make(map[int][]byte)}
	s.uploadsMu.Unlock()
	return uploadID, nil
}

func (s *Store) UploadPart(ctx context.Context, key, version, uploadID string, partNumber int, data io.Reader, size int64) (blob.Part, error) {
	s.uploadsMu.Lock()
	upload, ok := s.uploads[uploadID]
	s.uploadsMu.Unlock()
	if !ok {
		return blob.Part{}, apierror.New(apierror.KindConflict, "unknown multipart upload session")
	}

	b, err := io.ReadAll(data)
	if err != nil {
		return blob.Part{}, apierror.Wrap(apierror.KindBackendUnavailable, "upload_part", err)
	}

	hash := md5.Sum(b)
	part := blob.Part{Number: partNumber, Size: int64(len(b)), ETag: hex.EncodeToString(hash[:])}

	upload.mu.Lock()
	upload.parts[partNumber] = b
	upload.mu.Unlock()

	return part, nil
}

func (s *Store) ListParts(ctx context.Context, key, version, uploadID string) ([]blob.Part, error) {
	s.uploadsMu.Lock()
	upload, ok := s.uploads[uploadID]
	s.uploadsMu.Unlock()
	if !ok {
		return nil, apierror.New(apierror.KindConflict, "unknown multipart upload session")
	}

	upload.mu.Lock()
	defer upload.mu.Unlock()
	parts := make([]blob.Part, 0, len(upload.parts))
	for num, data := range upload.parts {
		parts = append(parts, blob.Part{Number: num, Size: int64(len(data))})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	return parts, nil
}

func (s *Store) CompleteMultipart(ctx context.Context, key, version, uploadID string, parts []blob.Part) (blob.Metadata, error) {
	s.uploadsMu.Lock()
	upload, ok := s.uploads[uploadID]
	s.uploadsMu.Unlock()
	if !ok {
		return blob.Metadata{}, apierror.New(apierror.KindConflict, "unknown multipart upload session")
	}

	sorted := make([]blob.Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	var buf bytes.Buffer
	upload.mu.Lock()
	for _, p := range sorted {
		data, ok := upload.parts[p.Number]
		if !ok {
			upload.mu.Unlock()
			return blob.Metadata{}, apierror.New(apierror.KindConflict, fmt.Sprintf("missing staged part %d", p.Number))
		}
		buf.Write(data)
	}
	upload.mu.Unlock()

	md, err := s.Write(ctx, key, version, &buf, "", "", nil)
	if err != nil {
		return blob.Metadata{}, err
	}

	s.uploadsMu.Lock()
	delete(s.uploads, uploadID)
	s.uploadsMu.Unlock()

	return md, nil
}

func (s *Store) AbortMultipart(ctx context.Context, key, version, uploadID string) error {
	s.uploadsMu.Lock()
	delete(s.uploads, uploadID)
	s.uploadsMu.Unlock()
	return nil
}

func (s *Store) metadataFor(obj *object, size int64) blob.Metadata {
	hash := md5.Sum(obj.data)
	return blob.Metadata{
		Size:         size,
		ETag:         hex.EncodeToString(hash[:]),
		LastModified: obj.lastModified,
		ContentType:  obj.contentType,
		CacheControl: obj.cacheControl,
		UserMetadata: obj.userMetadata,
	}
}

var _ blob.Backend = (*Store)(nil)
