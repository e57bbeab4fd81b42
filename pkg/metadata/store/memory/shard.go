package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/objectgate/gateway/pkg/apierror"
	"github.com/objectgate/gateway/pkg/metadata"
)

// CreateShard is idempotent on (kind, location): a second call with the
// same pair is a no-op that reports the existing shard's id back to the
// caller (§4.H: primary key is logically (kind, shard_key)).
func (t *tx) CreateShard(ctx context.Context, s *metadata.Shard) error {
	for _, existing := range t.store.shards {
		if existing.Kind == s.Kind && existing.Location == s.Location {
			*s = existing
			return nil
		}
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	t.store.shards[s.ID] = *s
	return nil
}

func (t *tx) ListActiveShards(ctx context.Context) ([]metadata.Shard, error) {
	var out []metadata.Shard
	for _, s := range t.store.shards {
		if s.Active {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Used < out[j].Used })
	return out, nil
}

// ReserveSlot reuses the lowest-numbered free slot on shardID, or mints
// the next unused slot number if none is free and the shard has room
// under its declared capacity (§4.H step 3).
func (t *tx) ReserveSlot(ctx context.Context, shardID, resourceID string, ttl int64) (*metadata.ShardReservation, error) {
	shardRow, ok := t.store.shards[shardID]
	if !ok {
		return nil, apierror.New(apierror.KindNoActiveShard, "shard not found")
	}

	var slotID string
	var bestSlotNo int64 = -1
	var maxSlotNo int64 = -1
	for id, slot := range t.store.shardSlots {
		if slot.ShardID != shardID {
			continue
		}
		if slot.SlotNo > maxSlotNo {
			maxSlotNo = slot.SlotNo
		}
		if !slot.InUse && (bestSlotNo == -1 || slot.SlotNo < bestSlotNo) {
			bestSlotNo = slot.SlotNo
			slotID = id
		}
	}

	if slotID != "" {
		slot := t.store.shardSlots[slotID]
		slot.InUse = true
		t.store.shardSlots[slotID] = slot
	} else {
		nextSlotNo := maxSlotNo + 1
		if nextSlotNo >= shardRow.Capacity {
			return nil, apierror.New(apierror.KindNoAvailableShard, "no available shard slot")
		}
		slotID = uuid.NewString()
		t.store.shardSlots[slotID] = metadata.ShardSlot{ID: slotID, ShardID: shardID, SlotNo: nextSlotNo, InUse: true}
	}

	shard := t.store.shards[shardID]
	shard.Used++
	t.store.shards[shardID] = shard

	reservation := metadata.ShardReservation{
		ID:         uuid.NewString(),
		ShardID:    shardID,
		SlotID:     slotID,
		ResourceID: resourceID,
		ExpiresAt:  time.Now().Add(time.Duration(ttl) * time.Second),
	}
	t.store.reservations[reservation.ID] = reservation
	return &reservation, nil
}

func (t *tx) ConfirmReservation(ctx context.Context, reservationID string) error {
	r, ok := t.store.reservations[reservationID]
	if !ok || time.Now().After(r.ExpiresAt) {
		return apierror.New(apierror.KindExpiredReservation, "reservation expired or not found")
	}
	r.Confirmed = true
	t.store.reservations[reservationID] = r
	return nil
}

func (t *tx) CancelReservation(ctx context.Context, reservationID string) error {
	r, ok := t.store.reservations[reservationID]
	if !ok {
		return nil
	}
	t.freeSlot(r.SlotID, r.ShardID)
	delete(t.store.reservations, reservationID)
	return nil
}

func (t *tx) FreeByResource(ctx context.Context, resourceID string) error {
	for id, r := range t.store.reservations {
		if r.ResourceID == resourceID {
			t.freeSlot(r.SlotID, r.ShardID)
			delete(t.store.reservations, id)
		}
	}
	return nil
}

func (t *tx) freeSlot(slotID, shardID string) {
	slot, ok := t.store.shardSlots[slotID]
	if ok {
		slot.InUse = false
		t.store.shardSlots[slotID] = slot
	}
	if shard, ok := t.store.shards[shardID]; ok && shard.Used > 0 {
		shard.Used--
		t.store.shards[shardID] = shard
	}
}

func (t *tx) FindReservationByResource(ctx context.Context, resourceID string) (*metadata.ShardReservation, error) {
	for _, r := range t.store.reservations {
		if r.ResourceID == resourceID {
			reservation := r
			return &reservation, nil
		}
	}
	return nil, apierror.New(apierror.KindReservationNotFound, "reservation not found")
}

func (t *tx) ExpireReservations(ctx context.Context) (int64, error) {
	now := time.Now()
	var expired int64
	for id, r := range t.store.reservations {
		if !r.Confirmed && now.After(r.ExpiresAt) {
			t.freeSlot(r.SlotID, r.ShardID)
			delete(t.store.reservations, id)
			expired++
		}
	}
	return expired, nil
}
