// Package memory implements metadata.Store in-process, for unit tests that
// exercise metadata.Transaction callers without a PostgreSQL instance.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/objectgate/gateway/pkg/apierror"
	"github.com/objectgate/gateway/pkg/metadata"
)

// Store is a single-process, mutex-guarded metadata.Store. Unlike the
// postgres backend it has no real transaction isolation: WithAuthorizedTx
// and WithPrivilegedTx both simply hold the store lock for fn's duration,
// which is sufficient for deterministic unit tests.
type Store struct {
	mu sync.Mutex

	buckets      map[string]metadata.Bucket // keyed by id
	objects      map[bucketName]metadata.Object
	prefixes     map[bucketName]metadata.Prefix
	shards       map[string]metadata.Shard
	shardSlots   map[string]metadata.ShardSlot
	reservations map[string]metadata.ShardReservation
	events       []metadata.Event
	nextEventID  int64

	allowUnsafeDelete bool
}

type bucketName struct {
	bucketID string
	name     string
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		buckets:      map[string]metadata.Bucket{},
		objects:      map[bucketName]metadata.Object{},
		prefixes:     map[bucketName]metadata.Prefix{},
		shards:       map[string]metadata.Shard{},
		shardSlots:   map[string]metadata.ShardSlot{},
		reservations: map[string]metadata.ShardReservation{},
	}
}

func (s *Store) Close() {}

func (s *Store) WithAuthorizedTx(ctx context.Context, scope metadata.Scope, fn func(ctx context.Context, tx metadata.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, &tx{store: s, scope: scope})
}

func (s *Store) WithPrivilegedTx(ctx context.Context, fn func(ctx context.Context, tx metadata.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, &tx{store: s, privileged: true})
}

// tx implements metadata.Transaction directly against the Store's maps.
// It assumes the caller already holds s.mu (true for every entry point
// above), matching the single-writer semantics that make this fine for
// tests even though it offers none of postgres.transaction's isolation.
type tx struct {
	store      *Store
	scope      metadata.Scope
	privileged bool
}

func (t *tx) AllowUnsafeDelete(ctx context.Context, fn func(ctx context.Context) error) error {
	t.store.allowUnsafeDelete = true
	defer func() { t.store.allowUnsafeDelete = false }()
	return fn(ctx)
}

func (t *tx) CreateBucket(ctx context.Context, b *metadata.Bucket) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now
	t.store.buckets[b.ID] = *b
	return nil
}

func (t *tx) GetBucket(ctx context.Context, tenantID, name string) (*metadata.Bucket, error) {
	for _, b := range t.store.buckets {
		if b.TenantID == tenantID && b.Name == name {
			bucket := b
			return &bucket, nil
		}
	}
	return nil, apierror.New(apierror.KindBucketNotFound, "bucket not found")
}

func (t *tx) ListBuckets(ctx context.Context, tenantID string) ([]metadata.Bucket, error) {
	var out []metadata.Bucket
	for _, b := range t.store.buckets {
		if b.TenantID == tenantID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *tx) UpdateBucket(ctx context.Context, b *metadata.Bucket) error {
	existing, ok := t.store.buckets[b.ID]
	if !ok {
		return apierror.New(apierror.KindBucketNotFound, "bucket not found")
	}
	existing.FileSizeLimit = b.FileSizeLimit
	existing.AllowedMimePatterns = b.AllowedMimePatterns
	existing.UpdatedAt = time.Now()
	t.store.buckets[b.ID] = existing
	return nil
}

func (t *tx) DeleteBucket(ctx context.Context, bucketID string) error {
	if !t.store.allowUnsafeDelete {
		return apierror.New(apierror.KindAccessDenied, "direct bucket delete requires AllowUnsafeDelete scope")
	}
	for key := range t.store.objects {
		if key.bucketID == bucketID {
			return apierror.New(apierror.KindBucketNotEmpty, "bucket is not empty")
		}
	}
	if _, ok := t.store.buckets[bucketID]; !ok {
		return apierror.New(apierror.KindBucketNotFound, "bucket not found")
	}
	delete(t.store.buckets, bucketID)
	return nil
}

func (t *tx) GetObject(ctx context.Context, bucketID, name string) (*metadata.Object, error) {
	o, ok := t.store.objects[bucketName{bucketID, name}]
	if !ok {
		return nil, apierror.New(apierror.KindObjectNotFound, "object not found")
	}
	return &o, nil
}

func (t *tx) PutObject(ctx context.Context, o *metadata.Object) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Version == "" {
		o.Version = uuid.NewString()
	}
	now := time.Now()
	key := bucketName{o.BucketID, o.Name}
	if existing, ok := t.store.objects[key]; ok {
		o.CreatedAt = existing.CreatedAt
	} else {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	t.store.objects[key] = *o
	return t.EnsurePrefixes(ctx, o.BucketID, o.Name)
}

func (t *tx) DeleteObject(ctx context.Context, bucketID, name string) error {
	if !t.store.allowUnsafeDelete {
		return apierror.New(apierror.KindAccessDenied, "direct object delete requires AllowUnsafeDelete scope")
	}
	key := bucketName{bucketID, name}
	if _, ok := t.store.objects[key]; !ok {
		return apierror.New(apierror.KindObjectNotFound, "object not found")
	}
	delete(t.store.objects, key)
	return t.CleanupPrefixes(ctx, bucketID, name)
}

func (t *tx) ListObjects(ctx context.Context, bucketID string, opts metadata.ListOptions) (*metadata.ListPage, error) {
	var matches []metadata.Object
	for key, o := range t.store.objects {
		if key.bucketID == bucketID && strings.HasPrefix(o.Name, opts.Prefix) {
			matches = append(matches, o)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if opts.Order == metadata.SortDesc {
			return matches[i].Name > matches[j].Name
		}
		return matches[i].Name < matches[j].Name
	})

	page := &metadata.ListPage{}
	folders := map[string]bool{}
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}
	for _, o := range matches {
		if opts.Cursor != "" && o.Name <= opts.Cursor {
			continue
		}
		if opts.Delimiter != "" {
			rest := strings.TrimPrefix(o.Name, opts.Prefix)
			if idx := strings.Index(rest, opts.Delimiter); idx >= 0 {
				folders[opts.Prefix+rest[:idx+len(opts.Delimiter)]] = true
				continue
			}
		}
		if len(page.Objects) >= limit {
			page.HasNext = true
			page.NextCursor = page.Objects[len(page.Objects)-1].Name
			break
		}
		page.Objects = append(page.Objects, o)
	}
	for folder := range folders {
		page.Folders = append(page.Folders, folder)
	}
	sort.Strings(page.Folders)
	return page, nil
}

func (t *tx) LockObject(ctx context.Context, bucketID, name, version string, blocking bool) (bool, error) {
	// The in-memory store already serializes all transactions under a
	// single mutex, so any lock request trivially succeeds.
	return true, nil
}

func (t *tx) UnlockObject(ctx context.Context, bucketID, name, version string) error {
	return nil
}
