// Package prefix provides the orchestration helpers the Uploader calls on
// rename/move so the prefix hierarchy (§4.E) stays in sync even when a
// move crosses bucket boundaries or reuses a destination name an object
// already occupies.
package prefix

import (
	"context"
	"strings"

	"github.com/objectgate/gateway/pkg/metadata"
)

// Move cleans up the source object's ancestor prefixes bottom-up and
// ensures the destination object's ancestors exist, within tx. Caller is
// responsible for having already moved the object row itself; Move only
// maintains the derived prefix table (§4.E "renaming/moving" rule).
func Move(ctx context.Context, tx metadata.Transaction, srcBucketID, srcName, dstBucketID, dstName string) error {
	if err := tx.CleanupPrefixes(ctx, srcBucketID, srcName); err != nil {
		return err
	}
	return tx.EnsurePrefixes(ctx, dstBucketID, dstName)
}

// ListImmediateChildren returns the names of prefixes that sit directly
// under prefix (one path segment deep; the top-level prefixes when prefix
// is ""), the shape a bucket listing's "folders" view needs. Object names
// are not included.
func ListImmediateChildren(ctx context.Context, tx metadata.Transaction, bucketID, prefix string) ([]string, error) {
	names, err := tx.ListChildPrefixes(ctx, bucketID, prefix)
	if err != nil {
		return nil, err
	}
	base := ""
	if prefix != "" {
		base = prefix + "/"
	}
	children := make([]string, 0, len(names))
	for _, name := range names {
		if !strings.Contains(strings.TrimPrefix(name, base), "/") {
			children = append(children, name)
		}
	}
	return children, nil
}
