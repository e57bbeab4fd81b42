package postgres

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/objectgate/gateway/pkg/apierror"
	"github.com/objectgate/gateway/pkg/metadata"
)

// transaction implements metadata.Transaction over one pgx.Tx.
type transaction struct {
	store      *Store
	tx         pgx.Tx
	privileged bool
}

// AllowUnsafeDelete scopes fn with the session flag that permits direct
// DELETE on the object/bucket tables (§4.B); the flag is cleared again once
// fn returns, whether or not it errored.
func (t *transaction) AllowUnsafeDelete(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, err := t.tx.Exec(ctx, `SELECT set_config('app.allow_unsafe_delete', 'true', true)`); err != nil {
		return metadata.MapPgError(err, "AllowUnsafeDelete: enable")
	}
	defer func() {
		_, _ = t.tx.Exec(ctx, `SELECT set_config('app.allow_unsafe_delete', 'false', true)`)
	}()
	return fn(ctx)
}

func (t *transaction) CreateBucket(ctx context.Context, b *metadata.Bucket) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	patterns, err := json.Marshal(b.AllowedMimePatterns)
	if err != nil {
		return apierror.Wrap(apierror.KindInternalError, "encode allowed mime patterns", err)
	}
	now := time.Now()
	_, err = t.tx.Exec(ctx, `
		INSERT INTO buckets (id, tenant_id, name, file_size_limit, allowed_mime_patterns, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, b.ID, b.TenantID, b.Name, b.FileSizeLimit, patterns, now)
	if err != nil {
		return metadata.MapPgError(err, "CreateBucket")
	}
	b.CreatedAt, b.UpdatedAt = now, now
	return nil
}

func (t *transaction) GetBucket(ctx context.Context, tenantID, name string) (*metadata.Bucket, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, tenant_id, name, file_size_limit, allowed_mime_patterns, created_at, updated_at
		FROM buckets WHERE tenant_id = $1 AND name = $2
	`, tenantID, name)
	return scanBucket(row)
}

func (t *transaction) ListBuckets(ctx context.Context, tenantID string) ([]metadata.Bucket, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, tenant_id, name, file_size_limit, allowed_mime_patterns, created_at, updated_at
		FROM buckets WHERE tenant_id = $1 ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, metadata.MapPgError(err, "ListBuckets")
	}
	defer rows.Close()

	var out []metadata.Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (t *transaction) UpdateBucket(ctx context.Context, b *metadata.Bucket) error {
	patterns, err := json.Marshal(b.AllowedMimePatterns)
	if err != nil {
		return apierror.Wrap(apierror.KindInternalError, "encode allowed mime patterns", err)
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE buckets SET file_size_limit = $1, allowed_mime_patterns = $2, updated_at = now()
		WHERE id = $3
	`, b.FileSizeLimit, patterns, b.ID)
	if err != nil {
		return metadata.MapPgError(err, "UpdateBucket")
	}
	if tag.RowsAffected() == 0 {
		return apierror.New(apierror.KindBucketNotFound, "bucket not found")
	}
	return nil
}

func (t *transaction) DeleteBucket(ctx context.Context, bucketID string) error {
	if !t.unsafeDeleteAllowed(ctx) {
		return apierror.New(apierror.KindAccessDenied, "direct bucket delete requires AllowUnsafeDelete scope")
	}

	var count int64
	if err := t.tx.QueryRow(ctx, `SELECT count(*) FROM objects WHERE bucket_id = $1`, bucketID).Scan(&count); err != nil {
		return metadata.MapPgError(err, "DeleteBucket: count objects")
	}
	if count > 0 {
		return apierror.New(apierror.KindBucketNotEmpty, "bucket is not empty")
	}

	tag, err := t.tx.Exec(ctx, `DELETE FROM buckets WHERE id = $1`, bucketID)
	if err != nil {
		return metadata.MapPgError(err, "DeleteBucket")
	}
	if tag.RowsAffected() == 0 {
		return apierror.New(apierror.KindBucketNotFound, "bucket not found")
	}
	return nil
}

func (t *transaction) unsafeDeleteAllowed(ctx context.Context) bool {
	var flag string
	_ = t.tx.QueryRow(ctx, `SELECT current_setting('app.allow_unsafe_delete', true)`).Scan(&flag)
	return flag == "true"
}

func scanBucket(row pgx.Row) (*metadata.Bucket, error) {
	var b metadata.Bucket
	var patterns []byte
	if err := row.Scan(&b.ID, &b.TenantID, &b.Name, &b.FileSizeLimit, &patterns, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, metadata.MapPgError(err, "scanBucket")
	}
	if len(patterns) > 0 {
		if err := json.Unmarshal(patterns, &b.AllowedMimePatterns); err != nil {
			return nil, apierror.Wrap(apierror.KindInternalError, "decode allowed mime patterns", err)
		}
	}
	return &b, nil
}

func (t *transaction) GetObject(ctx context.Context, bucketID, name string) (*metadata.Object, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, bucket_id, name, version, size, content_type, etag, owner, user_metadata, upload_type, created_at, updated_at
		FROM objects WHERE bucket_id = $1 AND name = $2
	`, bucketID, name)
	return scanObject(row)
}

func (t *transaction) PutObject(ctx context.Context, o *metadata.Object) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Version == "" {
		o.Version = uuid.NewString()
	}
	userMeta, err := json.Marshal(o.UserMetadata)
	if err != nil {
		return apierror.Wrap(apierror.KindInternalError, "encode user metadata", err)
	}
	now := time.Now()

	tag, err := t.tx.Exec(ctx, `
		UPDATE objects SET
			version = $1, size = $2, content_type = $3, etag = $4, owner = $5,
			user_metadata = $6, upload_type = $7, updated_at = $8
		WHERE bucket_id = $9 AND name = $10
	`, o.Version, o.Size, o.ContentType, o.ETag, o.Owner, userMeta, o.UploadType, now, o.BucketID, o.Name)
	if err != nil {
		return metadata.MapPgError(err, "PutObject")
	}

	if tag.RowsAffected() == 0 {
		_, err = t.tx.Exec(ctx, `
			INSERT INTO objects (id, bucket_id, name, version, size, content_type, etag, owner, user_metadata, upload_type, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		`, o.ID, o.BucketID, o.Name, o.Version, o.Size, o.ContentType, o.ETag, o.Owner, userMeta, o.UploadType, now)
		if err != nil {
			return metadata.MapPgError(err, "PutObject: insert")
		}
	}

	if err := t.EnsurePrefixes(ctx, o.BucketID, o.Name); err != nil {
		return err
	}

	o.CreatedAt, o.UpdatedAt = now, now
	return nil
}

func (t *transaction) DeleteObject(ctx context.Context, bucketID, name string) error {
	if !t.unsafeDeleteAllowed(ctx) {
		return apierror.New(apierror.KindAccessDenied, "direct object delete requires AllowUnsafeDelete scope")
	}

	tag, err := t.tx.Exec(ctx, `DELETE FROM objects WHERE bucket_id = $1 AND name = $2`, bucketID, name)
	if err != nil {
		return metadata.MapPgError(err, "DeleteObject")
	}
	if tag.RowsAffected() == 0 {
		return apierror.New(apierror.KindObjectNotFound, "object not found")
	}

	return t.CleanupPrefixes(ctx, bucketID, name)
}

// objectCursor is the decoded form of ListOptions.Cursor/ListPage.NextCursor:
// the sort column's value for the last row of the previous page, plus that
// row's id as a tie-breaker for sort columns (created_at, updated_at) that
// are not themselves unique per bucket.
type objectCursor struct {
	Value string `json:"v"`
	ID    string `json:"id"`
}

// encodeObjectCursor builds the opaque cursor string for o under sort.
func encodeObjectCursor(o *metadata.Object, sort metadata.SortField) string {
	var value string
	switch sort {
	case metadata.SortByCreatedAt:
		value = o.CreatedAt.UTC().Format(time.RFC3339Nano)
	case metadata.SortByUpdatedAt:
		value = o.UpdatedAt.UTC().Format(time.RFC3339Nano)
	default:
		value = o.Name
	}
	raw, _ := json.Marshal(objectCursor{Value: value, ID: o.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// decodeObjectCursor parses a cursor string produced by encodeObjectCursor.
func decodeObjectCursor(cursor string) (objectCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return objectCursor{}, apierror.Wrap(apierror.KindInvalidParameter, "invalid cursor", err)
	}
	var c objectCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return objectCursor{}, apierror.Wrap(apierror.KindInvalidParameter, "invalid cursor", err)
	}
	return c, nil
}

func (t *transaction) ListObjects(ctx context.Context, bucketID string, opts metadata.ListOptions) (*metadata.ListPage, error) {
	if opts.Limit <= 0 {
		opts.Limit = 1000
	}

	sortCol := "name"
	castType := "text"
	switch opts.Sort {
	case metadata.SortByCreatedAt:
		sortCol = "created_at"
		castType = "timestamptz"
	case metadata.SortByUpdatedAt:
		sortCol = "updated_at"
		castType = "timestamptz"
	}
	order := "ASC"
	if opts.Order == metadata.SortDesc {
		order = "DESC"
	}
	cmp := ">"
	if order == "DESC" {
		cmp = "<"
	}

	query := `
		SELECT id, bucket_id, name, version, size, content_type, etag, owner, user_metadata, upload_type, created_at, updated_at
		FROM objects
		WHERE bucket_id = $1 AND name LIKE $2 ESCAPE '\'
	`
	args := []any{bucketID, escapeLikePattern(opts.Prefix) + "%"}
	if opts.Cursor != "" {
		cursor, err := decodeObjectCursor(opts.Cursor)
		if err != nil {
			return nil, err
		}
		// Row-value comparison: ties on sortCol (possible for created_at/
		// updated_at, never for the unique name column) break on id. $3 is
		// cast explicitly since Postgres can't always infer a bare
		// parameter's type inside a row-constructor comparison.
		query += " AND (" + sortCol + ", id) " + cmp + " (($3)::" + castType + ", ($4)::uuid)"
		args = append(args, cursor.Value, cursor.ID)
	}
	query += " ORDER BY " + sortCol + " " + order + ", id " + order + " LIMIT " + placeholderLimit(len(args)+1)
	args = append(args, opts.Limit+1)

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, metadata.MapPgError(err, "ListObjects")
	}
	defer rows.Close()

	var objects []metadata.Object
	folders := map[string]bool{}
	for rows.Next() && len(objects) < opts.Limit {
		o, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		if opts.Delimiter != "" {
			rest := strings.TrimPrefix(o.Name, opts.Prefix)
			if idx := strings.Index(rest, opts.Delimiter); idx >= 0 {
				folders[opts.Prefix+rest[:idx+len(opts.Delimiter)]] = true
				continue
			}
		}
		objects = append(objects, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, metadata.MapPgError(err, "ListObjects")
	}

	page := &metadata.ListPage{Objects: objects}
	for folder := range folders {
		page.Folders = append(page.Folders, folder)
	}
	if len(objects) >= opts.Limit && rows.Next() {
		page.HasNext = true
		page.NextCursor = encodeObjectCursor(&objects[len(objects)-1], opts.Sort)
	}
	return page, nil
}

func placeholderLimit(n int) string {
	return "$" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func scanObject(row pgx.Row) (*metadata.Object, error) {
	var o metadata.Object
	var userMeta []byte
	if err := row.Scan(&o.ID, &o.BucketID, &o.Name, &o.Version, &o.Size, &o.ContentType, &o.ETag, &o.Owner, &userMeta, &o.UploadType, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, metadata.MapPgError(err, "scanObject")
	}
	if len(userMeta) > 0 {
		if err := json.Unmarshal(userMeta, &o.UserMetadata); err != nil {
			return nil, apierror.Wrap(apierror.KindInternalError, "decode user metadata", err)
		}
	}
	return &o, nil
}

// LockObject acquires a transaction-scoped advisory lock keyed by
// (bucket, name, version) (§4.B, §4.F). In blocking mode it waits for the
// lock; in non-blocking mode it returns (false, nil) immediately if held
// elsewhere.
func (t *transaction) LockObject(ctx context.Context, bucketID, name, version string, blocking bool) (bool, error) {
	key1, key2 := lockKeys(bucketID, name, version)
	if blocking {
		if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, key1, key2); err != nil {
			return false, metadata.MapPgError(err, "LockObject")
		}
		return true, nil
	}

	var acquired bool
	if err := t.tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1, $2)`, key1, key2).Scan(&acquired); err != nil {
		return false, metadata.MapPgError(err, "LockObject")
	}
	return acquired, nil
}

// UnlockObject is a no-op: advisory xact locks release automatically at
// transaction end, matching the Store's authorized/privileged tx scoping.
func (t *transaction) UnlockObject(ctx context.Context, bucketID, name, version string) error {
	return nil
}

func lockKeys(bucketID, name, version string) (int32, int32) {
	h := uuid.NewSHA1(uuid.NameSpaceOID, []byte(bucketID+"/"+name+"/"+version))
	return int32(uint32(h[0])<<24 | uint32(h[1])<<16 | uint32(h[2])<<8 | uint32(h[3])),
		int32(uint32(h[4])<<24 | uint32(h[5])<<16 | uint32(h[6])<<8 | uint32(h[7]))
}
