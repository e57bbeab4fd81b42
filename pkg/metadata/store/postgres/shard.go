package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/objectgate/gateway/pkg/apierror"
	"github.com/objectgate/gateway/pkg/metadata"
)

// CreateShard is idempotent on (kind, location): a second call with the
// same pair returns the existing shard's row unchanged (§4.H: primary key
// is logically (kind, shard_key)).
func (t *transaction) CreateShard(ctx context.Context, s *metadata.Shard) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := t.tx.QueryRow(ctx, `
		INSERT INTO shards (id, kind, location, active, capacity, used)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kind, location) DO UPDATE SET kind = shards.kind
		RETURNING id, active, capacity, used
	`, s.ID, s.Kind, s.Location, s.Active, s.Capacity, s.Used)
	if err := row.Scan(&s.ID, &s.Active, &s.Capacity, &s.Used); err != nil {
		return metadata.MapPgError(err, "CreateShard")
	}
	return nil
}

func (t *transaction) ListActiveShards(ctx context.Context) ([]metadata.Shard, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, kind, location, active, capacity, used FROM shards WHERE active ORDER BY used ASC
	`)
	if err != nil {
		return nil, metadata.MapPgError(err, "ListActiveShards")
	}
	defer rows.Close()

	var out []metadata.Shard
	for rows.Next() {
		var s metadata.Shard
		if err := rows.Scan(&s.ID, &s.Kind, &s.Location, &s.Active, &s.Capacity, &s.Used); err != nil {
			return nil, metadata.MapPgError(err, "ListActiveShards")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReserveSlot reuses the lowest-numbered free slot on shardID, or mints
// the next unused slot number if none is free and the shard has room
// under its declared capacity (§4.H step 3), locking the shard row for
// the duration of the check and leasing the slot to resourceID for ttl
// seconds. The reserved slot must be confirmed or canceled by the
// caller; expired, unconfirmed reservations are reclaimed by
// ExpireReservations.
func (t *transaction) ReserveSlot(ctx context.Context, shardID, resourceID string, ttl int64) (*metadata.ShardReservation, error) {
	var capacity int64
	if err := t.tx.QueryRow(ctx, `SELECT capacity FROM shards WHERE id = $1 FOR UPDATE`, shardID).Scan(&capacity); err != nil {
		if isNoRows(err) {
			return nil, apierror.New(apierror.KindNoActiveShard, "shard not found")
		}
		return nil, metadata.MapPgError(err, "ReserveSlot: lock shard")
	}

	var slotID string
	err := t.tx.QueryRow(ctx, `
		SELECT id FROM shard_slots
		WHERE shard_id = $1 AND NOT in_use
		ORDER BY slot_no
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, shardID).Scan(&slotID)
	switch {
	case err == nil:
		if _, err := t.tx.Exec(ctx, `UPDATE shard_slots SET in_use = true WHERE id = $1`, slotID); err != nil {
			return nil, metadata.MapPgError(err, "ReserveSlot: mark slot in use")
		}
	case isNoRows(err):
		var nextSlotNo int64
		if err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(slot_no) + 1, 0) FROM shard_slots WHERE shard_id = $1`, shardID).Scan(&nextSlotNo); err != nil {
			return nil, metadata.MapPgError(err, "ReserveSlot: count slots")
		}
		if nextSlotNo >= capacity {
			return nil, apierror.New(apierror.KindNoAvailableShard, "no available shard slot")
		}
		slotID = uuid.NewString()
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO shard_slots (id, shard_id, slot_no, in_use) VALUES ($1, $2, $3, true)
		`, slotID, shardID, nextSlotNo); err != nil {
			return nil, metadata.MapPgError(err, "ReserveSlot: mint slot")
		}
	default:
		return nil, metadata.MapPgError(err, "ReserveSlot")
	}

	if _, err := t.tx.Exec(ctx, `UPDATE shards SET used = used + 1 WHERE id = $1`, shardID); err != nil {
		return nil, metadata.MapPgError(err, "ReserveSlot: bump shard usage")
	}

	reservation := &metadata.ShardReservation{
		ID:         uuid.NewString(),
		ShardID:    shardID,
		SlotID:     slotID,
		ResourceID: resourceID,
		ExpiresAt:  time.Now().Add(time.Duration(ttl) * time.Second),
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO shard_reservations (id, shard_id, slot_id, resource_id, expires_at, confirmed)
		VALUES ($1, $2, $3, $4, $5, false)
	`, reservation.ID, reservation.ShardID, reservation.SlotID, reservation.ResourceID, reservation.ExpiresAt)
	if err != nil {
		return nil, metadata.MapPgError(err, "ReserveSlot: insert reservation")
	}

	return reservation, nil
}

func (t *transaction) ConfirmReservation(ctx context.Context, reservationID string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE shard_reservations SET confirmed = true WHERE id = $1 AND expires_at > now()
	`, reservationID)
	if err != nil {
		return metadata.MapPgError(err, "ConfirmReservation")
	}
	if tag.RowsAffected() == 0 {
		return apierror.New(apierror.KindExpiredReservation, "reservation expired or not found")
	}
	return nil
}

func (t *transaction) CancelReservation(ctx context.Context, reservationID string) error {
	return t.releaseReservation(ctx, `id = $1`, reservationID)
}

func (t *transaction) FreeByResource(ctx context.Context, resourceID string) error {
	return t.releaseReservation(ctx, `resource_id = $1`, resourceID)
}

func (t *transaction) releaseReservation(ctx context.Context, where string, arg string) error {
	var slotID, shardID string
	err := t.tx.QueryRow(ctx, `SELECT slot_id, shard_id FROM shard_reservations WHERE `+where, arg).Scan(&slotID, &shardID)
	if err != nil {
		if isNoRows(err) {
			return nil
		}
		return metadata.MapPgError(err, "releaseReservation: lookup slot")
	}

	if _, err := t.tx.Exec(ctx, `DELETE FROM shard_reservations WHERE `+where, arg); err != nil {
		return metadata.MapPgError(err, "releaseReservation: delete")
	}
	if _, err := t.tx.Exec(ctx, `UPDATE shard_slots SET in_use = false WHERE id = $1`, slotID); err != nil {
		return metadata.MapPgError(err, "releaseReservation: free slot")
	}
	if _, err := t.tx.Exec(ctx, `UPDATE shards SET used = GREATEST(used - 1, 0) WHERE id = $1`, shardID); err != nil {
		return metadata.MapPgError(err, "releaseReservation: drop shard usage")
	}
	return nil
}

func (t *transaction) FindReservationByResource(ctx context.Context, resourceID string) (*metadata.ShardReservation, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, shard_id, slot_id, resource_id, expires_at, confirmed
		FROM shard_reservations WHERE resource_id = $1
	`, resourceID)
	return scanReservation(row)
}

// ExpireReservations reclaims every unconfirmed reservation past its TTL,
// freeing the underlying slot for reuse, and reports how many were reaped.
func (t *transaction) ExpireReservations(ctx context.Context) (int64, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, slot_id, shard_id FROM shard_reservations WHERE NOT confirmed AND expires_at <= now()
	`)
	if err != nil {
		return 0, metadata.MapPgError(err, "ExpireReservations: select")
	}
	type expired struct{ id, slotID, shardID string }
	var batch []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.slotID, &e.shardID); err != nil {
			rows.Close()
			return 0, metadata.MapPgError(err, "ExpireReservations: scan")
		}
		batch = append(batch, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, metadata.MapPgError(err, "ExpireReservations")
	}

	for _, e := range batch {
		if _, err := t.tx.Exec(ctx, `DELETE FROM shard_reservations WHERE id = $1`, e.id); err != nil {
			return 0, metadata.MapPgError(err, "ExpireReservations: delete")
		}
		if _, err := t.tx.Exec(ctx, `UPDATE shard_slots SET in_use = false WHERE id = $1`, e.slotID); err != nil {
			return 0, metadata.MapPgError(err, "ExpireReservations: free slot")
		}
		if _, err := t.tx.Exec(ctx, `UPDATE shards SET used = GREATEST(used - 1, 0) WHERE id = $1`, e.shardID); err != nil {
			return 0, metadata.MapPgError(err, "ExpireReservations: drop shard usage")
		}
	}
	return int64(len(batch)), nil
}

func scanReservation(row pgx.Row) (*metadata.ShardReservation, error) {
	var r metadata.ShardReservation
	if err := row.Scan(&r.ID, &r.ShardID, &r.SlotID, &r.ResourceID, &r.ExpiresAt, &r.Confirmed); err != nil {
		if isNoRows(err) {
			return nil, apierror.New(apierror.KindReservationNotFound, "reservation not found")
		}
		return nil, metadata.MapPgError(err, "scanReservation")
	}
	return &r, nil
}
