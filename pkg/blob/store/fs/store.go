// Package fs implements the Blob Backend Adapter (§4.A) over a local
// filesystem tree. Objects are stored as files at "{basePath}/{key}/{version}";
// multipart uploads are emulated with a staging directory since plain
// filesystems have no native multipart protocol.
package fs

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/objectgate/gateway/pkg/apierror"
	"github.com/objectgate/gateway/pkg/blob"
)

// Config configures a Store.
type Config struct {
	// BasePath is the root directory for object storage.
	BasePath string

	// CreateDir creates BasePath if it doesn't exist. Default: true.
	CreateDir bool

	// DirMode is the permission mode for created directories. Default: 0755.
	DirMode os.FileMode

	// FileMode is the permission mode for created files. Default: 0644.
	FileMode os.FileMode

	// PrivateURLBase, if set, is prefixed to a key/version to build the
	// string PrivateAssetURL returns (e.g. "file:///srv/objectgate/private").
	PrivateURLBase string
}

// DefaultConfig returns sensible defaults for basePath.
func DefaultConfig(basePath string) Config {
	return Config{BasePath: basePath, CreateDir: true, DirMode: 0755, FileMode: 0644}
}

// Store is a filesystem-backed blob.Backend.
type Store struct {
	mu       sync.RWMutex
	basePath string
	dirMode  os.FileMode
	fileMode os.FileMode
	urlBase  string

	uploadsMu sync.Mutex
	uploads   map[string]*multipartUpload
}

type multipartUpload struct {
	key, version string
	mu           sync.Mutex
	parts        map[int]string // part number -> staged file path
}

// New creates a Store rooted at cfg.BasePath.
func New(cfg Config) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("blob/fs: base path is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}
	if cfg.CreateDir {
		if err := os.MkdirAll(cfg.BasePath, cfg.DirMode); err != nil {
			return nil, err
		}
	}
	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("blob/fs: base path is not a directory")
	}
	return &Store{
		basePath: cfg.BasePath,
		dirMode:  cfg.DirMode,
		fileMode: cfg.FileMode,
		urlBase:  cfg.PrivateURLBase,
		uploads:  make(map[string]*multipartUpload),
	}, nil
}

// objectPath derives the filesystem path for (key, version).
func (s *Store) objectPath(key, version string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key), version)
}

func mapFSError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return apierror.Wrap(apierror.KindObjectNotFound, operation+": object not found", err)
	}
	if os.IsPermission(err) {
		return apierror.Wrap(apierror.KindAccessDenied, operation+": access denied", err)
	}
	return apierror.Wrap(apierror.KindBackendUnavailable, operation+": backend unavailable", err)
}

// Read streams key/version, optionally restricted to a byte range.
func (s *Store) Read(ctx context.Context, key, version string, r *blob.ByteRange) (blob.Metadata, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return blob.Metadata{}, nil, err
	}

	path := s.objectPath(key, version)
	f, err := os.Open(path)
	if err != nil {
		return blob.Metadata{}, nil, mapFSError("read", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return blob.Metadata{}, nil, mapFSError("read", err)
	}

	if r != nil && r.End > r.Start {
		if _, err := f.Seek(r.Start, io.SeekStart); err != nil {
			f.Close()
			return blob.Metadata{}, nil, mapFSError("read", err)
		}
		return blob.Metadata{Size: r.End - r.Start, LastModified: info.ModTime()},
			struct {
				io.Reader
				io.Closer
			}{io.LimitReader(f, r.End-r.Start), f}, nil
	}

	return blob.Metadata{Size: info.Size(), LastModified: info.ModTime()}, f, nil
}

// Write stores data at key/version, replacing it atomically via a temp
// file + rename (teacher's blockPath write idiom).
func (s *Store) Write(ctx context.Context, key, version string, data io.Reader, contentType, cacheControl string, userMetadata map[string]string) (blob.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return blob.Metadata{}, err
	}

	path := s.objectPath(key, version)
	if err := os.MkdirAll(filepath.Dir(path), s.dirMode); err != nil {
		return blob.Metadata{}, mapFSError("write", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, s.fileMode)
	if err != nil {
		return blob.Metadata{}, mapFSError("write", err)
	}

	hasher := md5.New()
	n, err := io.Copy(f, io.TeeReader(data, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return blob.Metadata{}, mapFSError("write", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return blob.Metadata{}, mapFSError("write", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return blob.Metadata{}, mapFSError("write", err)
	}

	return blob.Metadata{
		Size:         n,
		ETag:         hex.EncodeToString(hasher.Sum(nil)),
		LastModified: time.Now(),
		ContentType:  contentType,
		CacheControl: cacheControl,
		UserMetadata: userMetadata,
	}, nil
}

// Head returns metadata for key/version without reading its body.
func (s *Store) Head(ctx context.Context, key, version string) (blob.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return blob.Metadata{}, err
	}
	path := s.objectPath(key, version)
	info, err := os.Stat(path)
	if err != nil {
		return blob.Metadata{}, mapFSError("head", err)
	}
	return blob.Metadata{Size: info.Size(), LastModified: info.ModTime()}, nil
}

// Copy duplicates (srcKey, srcVersion) to (dstKey, dstVersion).
func (s *Store) Copy(ctx context.Context, srcKey, srcVersion, dstKey, dstVersion string) (blob.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return blob.Metadata{}, err
	}

	srcPath := s.objectPath(srcKey, srcVersion)
	src, err := os.Open(srcPath)
	if err != nil {
		return blob.Metadata{}, mapFSError("copy", err)
	}
	defer src.Close()

	return s.Write(ctx, dstKey, dstVersion, src, "", "", nil)
}

// Delete removes one object version. Idempotent.
func (s *Store) Delete(ctx context.Context, key, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.objectPath(key, version)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return mapFSError("delete", err)
	}
	s.cleanEmptyDirs(filepath.Dir(path))
	return nil
}

// DeleteMany removes several object versions.
func (s *Store) DeleteMany(ctx context.Context, refs []blob.ObjectRef) error {
	for _, ref := range refs {
		if err := s.Delete(ctx, ref.Key, ref.Version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) cleanEmptyDirs(dir string) {
	for dir != s.basePath && strings.HasPrefix(dir, s.basePath) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}

// PrivateAssetURL returns a file-scheme URL for key/version. ttl is
// advisory only: plain filesystem access has no expiring-signature
// mechanism, so this backend is only suitable behind a trusted proxy.
func (s *Store) PrivateAssetURL(ctx context.Context, key, version string, ttl time.Duration) (string, error) {
	if _, err := os.Stat(s.objectPath(key, version)); err != nil {
		return "", mapFSError("presign", err)
	}
	base := s.urlBase
	if base == "" {
		base = "file://" + s.basePath
	}
	return fmt.Sprintf("%s/%s/%s", base, key, version), nil
}

// CreateMultipart begins a staged multipart upload for key/version.
func (s *Store) CreateMultipart(ctx context.Context, key, version, contentType string) (string, error) {
	uploadID := fmt.Sprintf("%s-%d", strings.ReplaceAll(key, "/", "_"), time.Now().UnixNano())
	stagingDir := filepath.Join(s.basePath, ".uploads", uploadID)
	if err := os.MkdirAll(stagingDir, s.dirMode); err != nil {
		return "", mapFSError("create_multipart", err)
	}

	s.uploadsMu.Lock()
	s.uploads[uploadID] = &multipartUpload{key: key, version: version, parts: make(map[int]string)}
	s.uploadsMu.Unlock()

	return uploadID, nil
}

// UploadPart stages one part under the upload's directory.
func (s *Store) UploadPart(ctx context.Context, key, version, uploadID string, partNumber int, data io.Reader, size int64) (blob.Part, error) {
	s.uploadsMu.Lock()
	upload, ok := s.uploads[uploadID]
	s.uploadsMu.Unlock()
	if !ok {
		return blob.Part{}, apierror.New(apierror.KindConflict, "unknown multipart upload session")
	}

	partPath := filepath.Join(s.basePath, ".uploads", uploadID, strconv.Itoa(partNumber))
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, s.fileMode)
	if err != nil {
		return blob.Part{}, mapFSError("upload_part", err)
	}
	defer f.Close()

	hasher := md5.New()
	n, err := io.Copy(f, io.TeeReader(data, hasher))
	if err != nil {
		return blob.Part{}, mapFSError("upload_part", err)
	}

	part := blob.Part{Number: partNumber, Size: n, ETag: hex.EncodeToString(hasher.Sum(nil))}

	upload.mu.Lock()
	upload.parts[partNumber] = partPath
	upload.mu.Unlock()

	return part, nil
}

// ListParts returns the parts uploaded so far for uploadID.
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
	for num, path := range upload.parts {
		info, err := os.Stat(path)
		if err != nil {
			return nil, mapFSError("list_parts", err)
		}
		parts = append(parts, blob.Part{Number: num, Size: info.Size()})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	return parts, nil
}

// CompleteMultipart concatenates staged parts in order into the final object.
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
		path, ok := upload.parts[p.Number]
		if !ok {
			upload.mu.Unlock()
			return blob.Metadata{}, apierror.New(apierror.KindConflict, fmt.Sprintf("missing staged part %d", p.Number))
		}
		data, err := os.ReadFile(path)
		if err != nil {
			upload.mu.Unlock()
			return blob.Metadata{}, mapFSError("complete_multipart", err)
		}
		buf.Write(data)
	}
	upload.mu.Unlock()

	md, err := s.Write(ctx, key, version, &buf, "", "", nil)
	if err != nil {
		return blob.Metadata{}, err
	}

	s.removeUploadStaging(uploadID)
	return md, nil
}

// AbortMultipart discards staged parts for an in-progress upload. Idempotent.
func (s *Store) AbortMultipart(ctx context.Context, key, version, uploadID string) error {
	s.removeUploadStaging(uploadID)
	return nil
}

func (s *Store) removeUploadStaging(uploadID string) {
	s.uploadsMu.Lock()
	delete(s.uploads, uploadID)
	s.uploadsMu.Unlock()
	os.RemoveAll(filepath.Join(s.basePath, ".uploads", uploadID))
}

var _ blob.Backend = (*Store)(nil)
