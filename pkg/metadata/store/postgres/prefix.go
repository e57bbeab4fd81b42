package postgres

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/objectgate/gateway/pkg/metadata"
)

// EnsurePrefixes inserts every missing proper ancestor prefix of
// objectName (§4.E). Ancestors are locked in lexicographic (bucket_id,
// name) order before insertion so concurrent inserts/deletes across
// different object trees never deadlock against each other.
func (t *transaction) EnsurePrefixes(ctx context.Context, bucketID, objectName string) error {
	ancestors := ancestorsOf(objectName)
	if len(ancestors) == 0 {
		return nil
	}
	sort.Strings(ancestors)

	for _, name := range ancestors {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO prefixes (id, bucket_id, name, created_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (bucket_id, name) DO NOTHING
		`, uuid.NewString(), bucketID, name); err != nil {
			return metadata.MapPgError(err, "EnsurePrefixes")
		}
	}
	return nil
}

// CleanupPrefixes deletes every ancestor prefix of objectName left with no
// remaining child object and no remaining child prefix, walking bottom-up
// (§4.E). Each prefix is locked and its child counts re-verified under that
// lock immediately before deletion, closing the gap where a concurrent
// insert could land between the emptiness check and the DELETE.
func (t *transaction) CleanupPrefixes(ctx context.Context, bucketID, objectName string) error {
	ancestors := ancestorsOf(objectName)
	if len(ancestors) == 0 {
		return nil
	}
	// Deepest first: a prefix can only become deletable after its deeper
	// children have already been removed this same call.
	sort.Sort(sort.Reverse(sort.StringSlice(ancestors)))

	for _, name := range ancestors {
		deleted, err := t.deletePrefixIfEmpty(ctx, bucketID, name)
		if err != nil {
			return err
		}
		if !deleted {
			// A non-empty ancestor means every shallower ancestor still has
			// this prefix as a child prefix, so recursion can stop here.
			break
		}
	}
	return nil
}

// deletePrefixIfEmpty locks the prefix row, verifies under that lock that
// it has no child objects and no child prefixes, and deletes it if so.
func (t *transaction) deletePrefixIfEmpty(ctx context.Context, bucketID, name string) (bool, error) {
	var prefixID string
	err := t.tx.QueryRow(ctx, `
		SELECT id FROM prefixes WHERE bucket_id = $1 AND name = $2 FOR UPDATE
	`, bucketID, name).Scan(&prefixID)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, metadata.MapPgError(err, "deletePrefixIfEmpty")
	}

	childPattern := escapeLikePattern(name) + "/%"

	var childObjects int64
	if err := t.tx.QueryRow(ctx, `
		SELECT count(*) FROM objects
		WHERE bucket_id = $1 AND name LIKE $2 ESCAPE '\' AND name <> $3
	`, bucketID, childPattern, name).Scan(&childObjects); err != nil {
		return false, metadata.MapPgError(err, "deletePrefixIfEmpty: count objects")
	}

	var childPrefixes int64
	if err := t.tx.QueryRow(ctx, `
		SELECT count(*) FROM prefixes
		WHERE bucket_id = $1 AND name LIKE $2 ESCAPE '\' AND name <> $3
	`, bucketID, childPattern, name).Scan(&childPrefixes); err != nil {
		return false, metadata.MapPgError(err, "deletePrefixIfEmpty: count prefixes")
	}

	if childObjects > 0 || childPrefixes > 0 {
		return false, nil
	}

	if _, err := t.tx.Exec(ctx, `DELETE FROM prefixes WHERE id = $1`, prefixID); err != nil {
		return false, metadata.MapPgError(err, "deletePrefixIfEmpty: delete")
	}
	return true, nil
}

func (t *transaction) ListChildPrefixes(ctx context.Context, bucketID, prefix string) ([]string, error) {
	like := escapeLikePattern(prefix) + "/%"
	if prefix == "" {
		like = "%"
	}
	rows, err := t.tx.Query(ctx, `
		SELECT name FROM prefixes WHERE bucket_id = $1 AND name LIKE $2 ESCAPE '\' ORDER BY name
	`, bucketID, like)
	if err != nil {
		return nil, metadata.MapPgError(err, "ListChildPrefixes")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, metadata.MapPgError(err, "ListChildPrefixes")
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// ancestorsOf returns the proper ancestor prefixes of objectName, e.g.
// "a/b/c/f.txt" -> ["a", "a/b", "a/b/c"]. A root-level object (no "/")
// contributes no prefixes (§4.E).
func ancestorsOf(objectName string) []string {
	parts := strings.Split(objectName, "/")
	if len(parts) <= 1 {
		return nil
	}
	ancestors := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		ancestors = append(ancestors, strings.Join(parts[:i], "/"))
	}
	return ancestors
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// escapeLikePattern escapes the LIKE metacharacters '%', '_', and the
// escape character itself ('\') in s, so s can be embedded in a LIKE
// pattern (paired with "ESCAPE '\'") and matched literally rather than as
// wildcards.
func escapeLikePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
