// Package sink implements a spill-to-disk hashing sink: it ingests a byte
// stream, computes its SHA-256 digest and size, and lets callers replay the
// bytes afterward without forcing the whole stream to be buffered in memory.
package sink

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/objectgate/gateway/pkg/bufpool"
)

// Sink accumulates a byte stream in memory up to a configured limit, then
// spills to a uniquely-named temp file. Safe for concurrent toReadable
// calls once Finish has been called; Write must not be called concurrently
// with itself.
type Sink struct {
	limitInMemory int64
	tmpRoot       string

	mu        sync.Mutex
	buf       []byte
	pooled    bool
	hasher    hash.Hash
	size      int64
	spilled   bool
	spillDir  string
	spillPath string
	file      *os.File

	finished bool
	digest   string

	refcount int
}

// New creates a Sink that buffers up to limitInMemoryBytes before spilling
// subsequent writes to a fresh subdirectory under tmpRoot.
func New(limitInMemoryBytes int64, tmpRoot string) *Sink {
	buf := bufpool.Get(int(limitInMemoryBytes))
	return &Sink{
		limitInMemory: limitInMemoryBytes,
		tmpRoot:       tmpRoot,
		hasher:        sha256.New(),
		buf:           buf[:0],
		pooled:        true,
	}
}

// Write accumulates chunk, hashing it immediately and spilling to disk once
// the in-memory limit is exceeded. It must not be called after Finish.
func (s *Sink) Write(chunk []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return 0, fmt.Errorf("sink: write after finish")
	}

	s.hasher.Write(chunk)
	s.size += int64(len(chunk))

	if s.spilled {
		n, err := s.file.Write(chunk)
		if err != nil {
			return n, fmt.Errorf("sink: spill write: %w", err)
		}
		return n, nil
	}

	s.buf = append(s.buf, chunk...)
	if int64(len(s.buf)) <= s.limitInMemory {
		return len(chunk), nil
	}

	if err := s.spill(); err != nil {
		return 0, err
	}
	return len(chunk), nil
}

// spill creates the unique spill directory and file, and flushes the
// already-buffered bytes into it in order. Must be called with s.mu held.
func (s *Sink) spill() error {
	dirName := fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString())
	dir := filepath.Join(s.tmpRoot, dirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("sink: create spill dir: %w", err)
	}

	path := filepath.Join(dir, "data")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		_ = os.RemoveAll(dir)
		return fmt.Errorf("sink: create spill file: %w", err)
	}

	if _, err := f.Write(s.buf); err != nil {
		_ = f.Close()
		_ = os.RemoveAll(dir)
		return fmt.Errorf("sink: flush buffered bytes to spill file: %w", err)
	}

	s.spillDir = dir
	s.spillPath = path
	s.file = f
	s.spilled = true
	if s.pooled {
		bufpool.Put(s.buf)
		s.pooled = false
	}
	s.buf = nil
	return nil
}

// Finish finalizes the digest. After Finish, Size, DigestHex, and
// ToReadable become valid; Write must no longer be called.
func (s *Sink) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return nil
	}

	if s.spilled {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("sink: sync spill file: %w", err)
		}
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("sink: close spill file: %w", err)
		}
	}

	s.digest = hex.EncodeToString(s.hasher.Sum(nil))
	s.finished = true
	return nil
}

// Size returns the total number of bytes written. Valid any time after
// construction; stable once Finish has been called.
func (s *Sink) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// DigestHex returns the SHA-256 digest of the byte sequence, hex-encoded.
// Must be called after Finish.
func (s *Sink) DigestHex() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		return "", fmt.Errorf("sink: digest requested before finish")
	}
	return s.digest, nil
}

// ReadableOptions configures a ToReadable replay stream.
type ReadableOptions struct {
	// AutoCleanup, if true, removes the spill artifacts once this is the
	// last outstanding reader to close.
	AutoCleanup bool
}

// ToReadable returns a fresh stream replaying the sink's full byte
// sequence from the start. Multiple concurrent readers are supported and
// each sees the identical sequence. Must be called after Finish.
func (s *Sink) ToReadable(opts ReadableOptions) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.finished {
		return nil, fmt.Errorf("sink: toReadable requested before finish")
	}

	if !s.spilled {
		return &memoryReader{data: s.buf}, nil
	}

	f, err := os.Open(s.spillPath)
	if err != nil {
		return nil, fmt.Errorf("sink: open spill file for replay: %w", err)
	}

	s.refcount++
	return &spillReader{sink: s, file: f, autoCleanup: opts.AutoCleanup}, nil
}

// Cleanup removes the spill artifacts. No-op if the sink never spilled.
// Safe to call multiple times; if readers are currently open, cleanup is
// deferred until the last one closes.
func (s *Sink) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked()
}

// cleanupLocked performs the actual removal. Must be called with s.mu held.
func (s *Sink) cleanupLocked() error {
	if !s.spilled || s.spillDir == "" {
		return nil
	}
	if s.refcount > 0 {
		return nil
	}
	dir := s.spillDir
	s.spillDir = ""
	s.spillPath = ""
	return os.RemoveAll(dir)
}

// releaseReader decrements the refcount and runs deferred cleanup if this
// was the last reader and autoCleanup was requested.
func (s *Sink) releaseReader(autoCleanup bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refcount > 0 {
		s.refcount--
	}
	if autoCleanup && s.refcount == 0 {
		_ = s.cleanupLocked()
	}
}

// memoryReader replays a sink's buffered bytes for the not-spilled case.
type memoryReader struct {
	data []byte
	pos  int
}

func (r *memoryReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func (r *memoryReader) Close() error { return nil }

// spillReader replays a sink's spilled file for one concurrent reader.
type spillReader struct {
	sink        *Sink
	file        *os.File
	autoCleanup bool
	closed      bool
}

func (r *spillReader) Read(p []byte) (int, error) {
	return r.file.Read(p)
}

func (r *spillReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.file.Close()
	r.sink.releaseReader(r.autoCleanup)
	return err
}
