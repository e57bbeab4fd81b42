package sink

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digestOf(t *testing.T, data []byte) string {
	t.Helper()
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func writeAll(t *testing.T, s *Sink, data []byte, chunkSize int) {
	t.Helper()
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		_, err := s.Write(data[:n])
		require.NoError(t, err)
		data = data[n:]
	}
}

func TestNotSpilledProducesNoFSArtifacts(t *testing.T) {
	tmpRoot := t.TempDir()
	s := New(1<<20, tmpRoot)
	data := []byte("hello world")

	writeAll(t, s, data, 4)
	require.NoError(t, s.Finish())

	entries, err := os.ReadDir(tmpRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Equal(t, int64(len(data)), s.Size())
	digest, err := s.DigestHex()
	require.NoError(t, err)
	assert.Equal(t, digestOf(t, data), digest)
}

func TestSpilledProducesExactlyOneDirAndFile(t *testing.T) {
	tmpRoot := t.TempDir()
	s := New(8, tmpRoot)
	data := []byte("this payload is well beyond the in-memory limit")

	writeAll(t, s, data, 5)
	require.NoError(t, s.Finish())

	entries, err := os.ReadDir(tmpRoot)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsDir())

	files, err := os.ReadDir(filepath.Join(tmpRoot, entries[0].Name()))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "data", files[0].Name())

	assert.Equal(t, int64(len(data)), s.Size())
	digest, err := s.DigestHex()
	require.NoError(t, err)
	assert.Equal(t, digestOf(t, data), digest)

	require.NoError(t, s.Cleanup())
}

func TestSpillDirectoriesAreUniqueEvenForConcurrentSinks(t *testing.T) {
	tmpRoot := t.TempDir()
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := New(1, tmpRoot)
			_, err := s.Write([]byte("spill me"))
			require.NoError(t, err)
			require.NoError(t, s.Finish())
		}()
	}
	wg.Wait()

	entries, err := os.ReadDir(tmpRoot)
	require.NoError(t, err)
	assert.Len(t, entries, n)

	seen := make(map[string]bool, n)
	for _, e := range entries {
		assert.False(t, seen[e.Name()], "duplicate spill dir name %q", e.Name())
		seen[e.Name()] = true
	}
}

func TestToReadableReplaysNotSpilledBytes(t *testing.T) {
	tmpRoot := t.TempDir()
	s := New(1<<20, tmpRoot)
	data := []byte("replay me please")
	writeAll(t, s, data, 3)
	require.NoError(t, s.Finish())

	r, err := s.ToReadable(ReadableOptions{})
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestToReadableReplaysSpilledBytes(t *testing.T) {
	tmpRoot := t.TempDir()
	s := New(4, tmpRoot)
	data := []byte("this goes to disk because it is long")
	writeAll(t, s, data, 3)
	require.NoError(t, s.Finish())

	r, err := s.ToReadable(ReadableOptions{})
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestConcurrentReadersSeeIdenticalSequences(t *testing.T) {
	tmpRoot := t.TempDir()
	s := New(4, tmpRoot)
	data := []byte("the quick brown fox jumps over the lazy dog, repeatedly")
	writeAll(t, s, data, 7)
	require.NoError(t, s.Finish())

	const readers = 5
	results := make([][]byte, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := s.ToReadable(ReadableOptions{})
			require.NoError(t, err)
			defer r.Close()
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		assert.Equal(t, data, got, "reader %d saw a different sequence", i)
	}
}

func TestAutoCleanupRemovesArtifactsOnlyAfterLastReaderCloses(t *testing.T) {
	tmpRoot := t.TempDir()
	s := New(4, tmpRoot)
	data := []byte("spilled bytes for auto cleanup test")
	writeAll(t, s, data, 6)
	require.NoError(t, s.Finish())

	r1, err := s.ToReadable(ReadableOptions{AutoCleanup: true})
	require.NoError(t, err)
	r2, err := s.ToReadable(ReadableOptions{AutoCleanup: true})
	require.NoError(t, err)

	require.NoError(t, r1.Close())

	entries, err := os.ReadDir(tmpRoot)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "artifacts must survive while a reader is still open")

	require.NoError(t, r2.Close())

	entries, err = os.ReadDir(tmpRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "artifacts must be removed once the last reader closes")
}

func TestCleanupIsIdempotentAndSafeWhileReadersAreOpen(t *testing.T) {
	tmpRoot := t.TempDir()
	s := New(4, tmpRoot)
	data := []byte("spilled bytes for manual cleanup test")
	writeAll(t, s, data, 6)
	require.NoError(t, s.Finish())

	r, err := s.ToReadable(ReadableOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Cleanup())
	entries, err := os.ReadDir(tmpRoot)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "cleanup must be deferred while a reader is open")

	require.NoError(t, r.Close())
	require.NoError(t, s.Cleanup())
	require.NoError(t, s.Cleanup())

	entries, err = os.ReadDir(tmpRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCleanupOnNotSpilledSinkIsNoop(t *testing.T) {
	tmpRoot := t.TempDir()
	s := New(1<<20, tmpRoot)
	_, err := s.Write([]byte("small"))
	require.NoError(t, err)
	require.NoError(t, s.Finish())

	assert.NoError(t, s.Cleanup())
}

func TestWriteAfterFinishFails(t *testing.T) {
	tmpRoot := t.TempDir()
	s := New(1<<20, tmpRoot)
	require.NoError(t, s.Finish())

	_, err := s.Write([]byte("too late"))
	assert.Error(t, err)
}

func TestDigestHexBeforeFinishFails(t *testing.T) {
	tmpRoot := t.TempDir()
	s := New(1<<20, tmpRoot)
	_, err := s.DigestHex()
	assert.Error(t, err)
}
