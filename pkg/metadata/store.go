package metadata

import "context"

// Transaction is the set of operations available inside a single
// authorized or privileged transaction (§4.B).
type Transaction interface {
	// Buckets
	CreateBucket(ctx context.Context, b *Bucket) error
	GetBucket(ctx context.Context, tenantID, name string) (*Bucket, error)
	ListBuckets(ctx context.Context, tenantID string) ([]Bucket, error)
	UpdateBucket(ctx context.Context, b *Bucket) error
	DeleteBucket(ctx context.Context, bucketID string) error

	// Objects
	GetObject(ctx context.Context, bucketID, name string) (*Object, error)
	ListObjects(ctx context.Context, bucketID string, opts ListOptions) (*ListPage, error)
	PutObject(ctx context.Context, o *Object) error
	DeleteObject(ctx context.Context, bucketID, name string) error

	// Advisory locks keyed by (bucket, name, version), per §4.B and §4.F.
	LockObject(ctx context.Context, bucketID, name, version string, blocking bool) (bool, error)
	UnlockObject(ctx context.Context, bucketID, name, version string) error

	// Prefixes (§4.E)
	EnsurePrefixes(ctx context.Context, bucketID, objectName string) error
	CleanupPrefixes(ctx context.Context, bucketID, objectName string) error
	ListChildPrefixes(ctx context.Context, bucketID, prefix string) ([]string, error)

	// Shards (§4.H)
	CreateShard(ctx context.Context, s *Shard) error
	ListActiveShards(ctx context.Context) ([]Shard, error)
	ReserveSlot(ctx context.Context, shardID, resourceID string, ttl int64) (*ShardReservation, error)
	ConfirmReservation(ctx context.Context, reservationID string) error
	CancelReservation(ctx context.Context, reservationID string) error
	FreeByResource(ctx context.Context, resourceID string) error
	FindReservationByResource(ctx context.Context, resourceID string) (*ShardReservation, error)
	ExpireReservations(ctx context.Context) (int64, error)

	// Events (§4.I)
	EmitEvent(ctx context.Context, e *Event) error
	ClaimPendingEvents(ctx context.Context, limit int) ([]Event, error)
	MarkEventDelivered(ctx context.Context, id int64) error
	MarkEventFailed(ctx context.Context, id int64) error

	// AllowUnsafeDelete scopes fn with the session flag that permits direct
	// DELETE on the object/bucket tables; without it, DELETE fails with
	// KindAccessDenied (§4.B).
	AllowUnsafeDelete(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store is the top-level entry point bound to one tenant's connection
// pool (obtained via the Tenant Connection Manager, §4.C).
type Store interface {
	// WithAuthorizedTx runs fn inside a transaction scoped to scope's role
	// and claims, so row-level authorization policies apply.
	WithAuthorizedTx(ctx context.Context, scope Scope, fn func(ctx context.Context, tx Transaction) error) error

	// WithPrivilegedTx runs fn inside a super-user transaction that
	// bypasses row-level authorization policies.
	WithPrivilegedTx(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error

	// Close releases the store's resources. Idempotent.
	Close()
}
