// Package shard implements the Sharding Allocator (§4.H): assignment of a
// logical resource (kind, tenant, bucket, logicalName) to a slot on some
// physical backend shard, with capacity enforcement and idempotent
// allocation under concurrency. All state lives in the metadata store;
// the allocator itself holds no in-process state beyond a Selector.
package shard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/objectgate/gateway/internal/telemetry"
	"github.com/objectgate/gateway/pkg/apierror"
	"github.com/objectgate/gateway/pkg/metadata"
	"github.com/objectgate/gateway/pkg/metrics"
)

// DefaultLeaseMs is the reservation lease applied when ReserveRequest.LeaseMs is zero.
const DefaultLeaseMs = 60_000

// Selector picks which of the given active, non-full shards a new
// reservation should land on. Candidates are pre-filtered to active
// shards of the requested kind with free capacity (Capacity - Used) > 0;
// a shard with Capacity <= 0 has no slots and is never a candidate.
type Selector interface {
	Select(candidates []metadata.Shard) *metadata.Shard
}

// FillFirstSelector implements the default policy: the active shard with
// the smallest free capacity that still has room, ties broken by the
// lowest shard id. This packs resources onto fewer shards before
// spreading load, the opposite of a round-robin/least-loaded policy.
type FillFirstSelector struct{}

func (FillFirstSelector) Select(candidates []metadata.Shard) *metadata.Shard {
	if len(candidates) == 0 {
		return nil
	}
	ordered := make([]metadata.Shard, len(candidates))
	copy(ordered, candidates)
	sort.Slice(ordered, func(i, j int) bool {
		fi, fj := freeCapacity(ordered[i]), freeCapacity(ordered[j])
		if fi != fj {
			return fi < fj
		}
		return ordered[i].ID < ordered[j].ID
	})
	best := ordered[0]
	return &best
}

func freeCapacity(s metadata.Shard) int64 {
	return s.Capacity - s.Used
}

// Allocator assigns logical resources to shard slots.
type Allocator struct {
	store    metadata.Store
	selector Selector
}

// New creates an Allocator. A nil selector defaults to FillFirstSelector.
func New(store metadata.Store, selector Selector) *Allocator {
	if selector == nil {
		selector = FillFirstSelector{}
	}
	return &Allocator{store: store, selector: selector}
}

// ReserveRequest is the input to Reserve.
type ReserveRequest struct {
	Kind        string
	TenantID    string
	BucketName  string
	LogicalName string
	LeaseMs     int64
}

// ReserveResult is the output of a successful Reserve.
type ReserveResult struct {
	ReservationID  string
	ShardID        string
	ShardKey       string
	SlotID         string
	LeaseExpiresAt time.Time
}

// resourceKey derives the (kind, resourceId) idempotency key from a
// logical resource's coordinates.
func resourceKey(req ReserveRequest) string {
	return fmt.Sprintf("%s:%s:%s:%s", req.Kind, req.TenantID, req.BucketName, req.LogicalName)
}

// Reserve assigns (kind, tenantId, bucketName, logicalName) to a shard
// slot, or returns the existing reservation if one is already in flight
// for the same resource (idempotency).
func (a *Allocator) Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanShardReserve, trace.WithAttributes(
		telemetry.ShardKind(req.Kind), telemetry.Tenant(req.TenantID), telemetry.Bucket(req.BucketName),
	))
	defer span.End()

	leaseMs := req.LeaseMs
	if leaseMs <= 0 {
		leaseMs = DefaultLeaseMs
	}
	key := resourceKey(req)

	var result ReserveResult
	err := a.store.WithPrivilegedTx(ctx, func(ctx context.Context, tx metadata.Transaction) error {
		if existing, err := tx.FindReservationByResource(ctx, key); err == nil {
			result = ReserveResult{
				ReservationID:  existing.ID,
				ShardID:        existing.ShardID,
				SlotID:         existing.SlotID,
				LeaseExpiresAt: existing.ExpiresAt,
			}
			return nil
		} else if apiErr, ok := apierror.As(err); !ok || apiErr.Kind != apierror.KindReservationNotFound {
			return err
		}

		shards, err := tx.ListActiveShards(ctx)
		if err != nil {
			return err
		}

		candidates := make([]metadata.Shard, 0, len(shards))
		for _, s := range shards {
			if s.Kind != req.Kind {
				continue
			}
			if s.Used >= s.Capacity {
				continue
			}
			candidates = append(candidates, s)
		}

		for len(candidates) > 0 {
			picked := a.selector.Select(candidates)
			if picked == nil {
				break
			}

			reservation, err := tx.ReserveSlot(ctx, picked.ID, key, leaseMs/1000)
			if err == nil {
				result = ReserveResult{
					ReservationID:  reservation.ID,
					ShardID:        reservation.ShardID,
					ShardKey:       picked.Location,
					SlotID:         reservation.SlotID,
					LeaseExpiresAt: reservation.ExpiresAt,
				}
				return nil
			}

			apiErr, ok := apierror.As(err)
			if !ok || apiErr.Kind != apierror.KindNoAvailableShard {
				return err
			}

			// This shard's slot rows were exhausted despite its declared
			// capacity headroom; drop it and try the next candidate.
			candidates = removeShard(candidates, picked.ID)
		}

		return apierror.New(apierror.KindNoActiveShard, fmt.Sprintf("no active shard with free capacity for kind %q", req.Kind))
	})
	if err != nil {
		metrics.Inc(metrics.ShardReservationsTotal, req.Kind, "error")
		telemetry.RecordError(ctx, err)
		return ReserveResult{}, err
	}
	metrics.Inc(metrics.ShardReservationsTotal, req.Kind, "ok")
	return result, nil
}

func removeShard(shards []metadata.Shard, id string) []metadata.Shard {
	out := shards[:0]
	for _, s := range shards {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

// Confirm marks a reservation as confirmed, promoting its pending
// resource binding to permanent. key is accepted for parity with the
// confirm(reservationId, key) signature but is not consulted: the
// metadata store's reservation row already carries the resource binding
// set at Reserve time.
func (a *Allocator) Confirm(ctx context.Context, reservationID, key string) error {
	return a.store.WithPrivilegedTx(ctx, func(ctx context.Context, tx metadata.Transaction) error {
		return tx.ConfirmReservation(ctx, reservationID)
	})
}

// Cancel releases a reservation's slot without confirming it.
func (a *Allocator) Cancel(ctx context.Context, reservationID string) error {
	return a.store.WithPrivilegedTx(ctx, func(ctx context.Context, tx metadata.Transaction) error {
		return tx.CancelReservation(ctx, reservationID)
	})
}

// FreeByResource releases whatever reservation currently holds the
// logical resource identified by (kind, tenantId, bucketName, logicalName).
func (a *Allocator) FreeByResource(ctx context.Context, req ReserveRequest) error {
	key := resourceKey(req)
	return a.store.WithPrivilegedTx(ctx, func(ctx context.Context, tx metadata.Transaction) error {
		return tx.FreeByResource(ctx, key)
	})
}

// FindShardByResource looks up the shard currently bound to a logical
// resource, if any.
func (a *Allocator) FindShardByResource(ctx context.Context, req ReserveRequest) (*metadata.ShardReservation, error) {
	key := resourceKey(req)
	var reservation *metadata.ShardReservation
	err := a.store.WithPrivilegedTx(ctx, func(ctx context.Context, tx metadata.Transaction) error {
		r, err := tx.FindReservationByResource(ctx, key)
		if err != nil {
			return err
		}
		reservation = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// ExpireLeases reclaims every unconfirmed reservation past its lease, a
// maintenance sweep intended to run on a timer.
func (a *Allocator) ExpireLeases(ctx context.Context) (int64, error) {
	var count int64
	err := a.store.WithPrivilegedTx(ctx, func(ctx context.Context, tx metadata.Transaction) error {
		n, err := tx.ExpireReservations(ctx)
		count = n
		return err
	})
	return count, err
}

// ShardStat summarizes one shard's capacity usage for reporting.
type ShardStat struct {
	ShardKey string
	Capacity int64
	Used     int64
	Free     int64
}

// ShardStats reports capacity usage for every active shard of the given
// kind.
func (a *Allocator) ShardStats(ctx context.Context, kind string) ([]ShardStat, error) {
	var stats []ShardStat
	err := a.store.WithPrivilegedTx(ctx, func(ctx context.Context, tx metadata.Transaction) error {
		shards, err := tx.ListActiveShards(ctx)
		if err != nil {
			return err
		}
		for _, s := range shards {
			if s.Kind != kind {
				continue
			}
			stats = append(stats, ShardStat{ShardKey: s.Location, Capacity: s.Capacity, Used: s.Used, Free: s.Capacity - s.Used})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// CreateShard registers a shard, idempotent on (kind, location).
func (a *Allocator) CreateShard(ctx context.Context, s *metadata.Shard) error {
	return a.store.WithPrivilegedTx(ctx, func(ctx context.Context, tx metadata.Transaction) error {
		return tx.CreateShard(ctx, s)
	})
}
