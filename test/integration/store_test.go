//go:build integration

package integration_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/objectgate/gateway/pkg/metadata"
)

func TestStoreBucketLifecycle(t *testing.T) {
	helper := newPostgresHelper(t)
	store := helper.openStore(t)
	ctx := context.Background()

	tenantID := uuid.NewString()
	_, err := store.Pool().Exec(ctx,
		`INSERT INTO tenants (id, name, dsn) VALUES ($1, $2, $3)`,
		tenantID, "tenant-"+tenantID, helper.dsn)
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}

	scope := metadata.Scope{TenantID: tenantID, Role: "gateway_authenticated"}

	bucket := &metadata.Bucket{
		TenantID:      tenantID,
		Name:          "uploads",
		FileSizeLimit: 10 << 20,
	}
	err = store.WithAuthorizedTx(ctx, scope, func(ctx context.Context, tx metadata.Transaction) error {
		return tx.CreateBucket(ctx, bucket)
	})
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	if bucket.ID == "" {
		t.Fatal("expected CreateBucket to assign an id")
	}

	var buckets []metadata.Bucket
	err = store.WithAuthorizedTx(ctx, scope, func(ctx context.Context, tx metadata.Transaction) error {
		var err error
		buckets, err = tx.ListBuckets(ctx, tenantID)
		return err
	})
	if err != nil {
		t.Fatalf("list buckets: %v", err)
	}
	if len(buckets) != 1 || buckets[0].Name != "uploads" {
		t.Fatalf("expected one bucket named uploads, got %+v", buckets)
	}

	// A different tenant's scope must not see this bucket: row-level
	// security should filter it out rather than erroring.
	otherTenantID := uuid.NewString()
	_, err = store.Pool().Exec(ctx,
		`INSERT INTO tenants (id, name, dsn) VALUES ($1, $2, $3)`,
		otherTenantID, "tenant-"+otherTenantID, helper.dsn)
	if err != nil {
		t.Fatalf("seed other tenant: %v", err)
	}
	otherScope := metadata.Scope{TenantID: otherTenantID, Role: "gateway_authenticated"}
	var otherBuckets []metadata.Bucket
	err = store.WithAuthorizedTx(ctx, otherScope, func(ctx context.Context, tx metadata.Transaction) error {
		var err error
		otherBuckets, err = tx.ListBuckets(ctx, tenantID)
		return err
	})
	if err != nil {
		t.Fatalf("list buckets as other tenant: %v", err)
	}
	if len(otherBuckets) != 0 {
		t.Fatalf("expected row-level security to hide bucket from other tenant, got %+v", otherBuckets)
	}
}

func TestStoreShardReservation(t *testing.T) {
	helper := newPostgresHelper(t)
	store := helper.openStore(t)
	ctx := context.Background()

	shard := &metadata.Shard{
		Kind:     "fs",
		Location: "/var/gateway/blobs",
		Active:   true,
		Capacity: 100,
	}
	err := store.WithPrivilegedTx(ctx, func(ctx context.Context, tx metadata.Transaction) error {
		return tx.CreateShard(ctx, shard)
	})
	if err != nil {
		t.Fatalf("create shard: %v", err)
	}

	resourceID := uuid.NewString()
	var reservation *metadata.ShardReservation
	err = store.WithPrivilegedTx(ctx, func(ctx context.Context, tx metadata.Transaction) error {
		var err error
		reservation, err = tx.ReserveSlot(ctx, shard.ID, resourceID, 3600)
		return err
	})
	if err != nil {
		t.Fatalf("reserve slot: %v", err)
	}
	if reservation == nil {
		t.Fatal("expected a reservation")
	}

	err = store.WithPrivilegedTx(ctx, func(ctx context.Context, tx metadata.Transaction) error {
		return tx.ConfirmReservation(ctx, reservation.ID)
	})
	if err != nil {
		t.Fatalf("confirm reservation: %v", err)
	}

	// Looking the resource up again must return the reservation already
	// made for it rather than a second slot (§4.H).
	var second *metadata.ShardReservation
	err = store.WithPrivilegedTx(ctx, func(ctx context.Context, tx metadata.Transaction) error {
		var err error
		second, err = tx.FindReservationByResource(ctx, resourceID)
		return err
	})
	if err != nil {
		t.Fatalf("find reservation by resource: %v", err)
	}
	if second == nil || second.ID != reservation.ID {
		t.Fatalf("expected FindReservationByResource to return the same reservation, got %+v", second)
	}
}
