package prefix_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectgate/gateway/pkg/metadata"
	"github.com/objectgate/gateway/pkg/metadata/store/memory"
	"github.com/objectgate/gateway/pkg/prefix"
)

func TestMoveCleansSourceAndEnsuresDestinationAncestors(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	var bucketID string
	require.NoError(t, store.WithPrivilegedTx(ctx, func(ctx context.Context, tx metadata.Transaction) error {
		b := metadata.Bucket{TenantID: "t1", Name: "avatars"}
		if err := tx.CreateBucket(ctx, &b); err != nil {
			return err
		}
		bucketID = b.ID
		// The source's ancestor prefixes, left behind once its object row
		// has been moved away (the state Move expects to be called in).
		return tx.EnsurePrefixes(ctx, bucketID, "a/b/src.txt")
	}))

	require.NoError(t, store.WithPrivilegedTx(ctx, func(ctx context.Context, tx metadata.Transaction) error {
		return prefix.Move(ctx, tx, bucketID, "a/b/src.txt", bucketID, "x/y/dst.txt")
	}))

	var names []string
	require.NoError(t, store.WithPrivilegedTx(ctx, func(ctx context.Context, tx metadata.Transaction) error {
		var err error
		names, err = tx.ListChildPrefixes(ctx, bucketID, "")
		return err
	}))

	assert.ElementsMatch(t, []string{"x", "x/y"}, names)
}
