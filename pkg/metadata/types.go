// Package metadata defines the relational metadata model for the gateway
// (buckets, objects, prefixes, shards, reservations, events) and the
// Store interface that the postgres and memory backends implement.
package metadata

import "time"

// Bucket is a tenant-scoped namespace for objects.
type Bucket struct {
	ID                 string
	TenantID           string
	Name                string
	FileSizeLimit       int64 // bytes; 0 means unlimited
	AllowedMimePatterns []string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Object is one named entry within a bucket; each write produces a new
// Version, with the previous version's blob scheduled for async deletion.
type Object struct {
	ID          string
	BucketID    string
	Name        string
	Version     string // UUID
	Size        int64
	ContentType string
	ETag        string
	Owner       string
	UserMetadata map[string]string
	UploadType  UploadType
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UploadType records which pipeline produced an object's current version.
type UploadType string

const (
	UploadTypePlain      UploadType = "plain"
	UploadTypeMultipart  UploadType = "multipart"
	UploadTypeResumable  UploadType = "resumable"
)

// Prefix is a synthetic directory-like ancestor of one or more objects,
// maintained by the Prefix Hierarchy Maintainer (§4.E).
type Prefix struct {
	ID        string
	BucketID  string
	Name      string // e.g. "a/b/c", never has a trailing slash
	CreatedAt time.Time
}

// ListPage is the result of a delimiter-aware listing.
type ListPage struct {
	Objects    []Object
	Folders    []string
	HasNext    bool
	NextCursor string
}

// SortField/SortOrder control list pagination ordering.
type SortField string

const (
	SortByName      SortField = "name"
	SortByCreatedAt SortField = "created_at"
	SortByUpdatedAt SortField = "updated_at"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ListOptions configures a cursor-paginated object listing.
type ListOptions struct {
	Prefix    string
	Delimiter string
	Cursor    string
	Limit     int
	Sort      SortField
	Order     SortOrder
}

// Tenant is a logical customer namespace with its own connection string and
// process-wide resource ceilings.
type Tenant struct {
	ID            string
	Name          string
	DSN           string
	FileSizeLimit int64
	// JWTSecret is the HMAC key backing this tenant's signed render and
	// upload URLs (§4.J). Never logged or rendered.
	JWTSecret string
	CreatedAt time.Time
}

// Shard is a physical storage partition a bucket's objects can be placed on.
type Shard struct {
	ID       string
	Kind     string
	Location string
	Active   bool
	Capacity int64
	Used     int64
}

// ShardSlot is one reservable unit of capacity within a shard. SlotNo is
// the shard-local ordinal (0-based) used to pick the lowest-numbered free
// slot and to cap minting at the shard's declared capacity.
type ShardSlot struct {
	ID      string
	ShardID string
	SlotNo  int64
	Size    int64
	InUse   bool
}

// ShardReservation is a lease on a shard slot for an in-flight upload.
type ShardReservation struct {
	ID         string
	ShardID    string
	SlotID     string
	ResourceID string
	ExpiresAt  time.Time
	Confirmed  bool
}

// EventKind enumerates object lifecycle events emitted on commit (§4.I):
// ObjectCreated is split by the operation that produced the version,
// ObjectRemoved by the operation that removed it.
type EventKind string

const (
	EventObjectCreatedPost EventKind = "ObjectCreated:Post"
	EventObjectCreatedPut  EventKind = "ObjectCreated:Put"
	EventObjectCreatedCopy EventKind = "ObjectCreated:Copy"
	EventObjectCreatedMove EventKind = "ObjectCreated:Move"

	EventObjectRemovedDelete EventKind = "ObjectRemoved:Delete"
	EventObjectRemovedMove   EventKind = "ObjectRemoved:Move"
)

// Event is a lifecycle event row, inserted in the same transaction as the
// mutation it describes and claimed/delivered asynchronously (§4.I).
type Event struct {
	ID          int64
	BucketID    string
	ObjectName  string
	Kind        EventKind
	Payload     []byte // JSON
	CreatedAt   time.Time
	DeliveredAt *time.Time
	Attempts    int
}

// Scope carries the caller identity a transaction's session-local
// configuration is set to, driving row-level authorization policies (§4.B,
// §4.C). Role is the Postgres role the transaction runs as.
type Scope struct {
	Role      string
	TenantID  string
	Subject   string
	JWTRaw    string
	JWTClaims map[string]any
	Headers   map[string]string
	Method    string
	Path      string
}
