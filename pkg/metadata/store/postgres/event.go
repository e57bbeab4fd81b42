package postgres

import (
	"context"

	"github.com/objectgate/gateway/pkg/metadata"
)

// EmitEvent inserts a lifecycle event row in the current transaction, so
// it only becomes visible to ClaimPendingEvents if the surrounding
// mutation commits (§4.I).
func (t *transaction) EmitEvent(ctx context.Context, e *metadata.Event) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO events (bucket_id, object_name, kind, payload, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id, created_at
	`, e.BucketID, e.ObjectName, e.Kind, e.Payload).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return metadata.MapPgError(err, "EmitEvent")
	}
	return nil
}

// ClaimPendingEvents locks up to limit undelivered events for exclusive
// processing by this transaction, skipping rows already locked by another
// worker's in-flight claim.
func (t *transaction) ClaimPendingEvents(ctx context.Context, limit int) ([]metadata.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id, bucket_id, object_name, kind, payload, created_at, delivered_at, attempts
		FROM events
		WHERE delivered_at IS NULL
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, metadata.MapPgError(err, "ClaimPendingEvents")
	}
	defer rows.Close()

	var out []metadata.Event
	for rows.Next() {
		var e metadata.Event
		if err := rows.Scan(&e.ID, &e.BucketID, &e.ObjectName, &e.Kind, &e.Payload, &e.CreatedAt, &e.DeliveredAt, &e.Attempts); err != nil {
			return nil, metadata.MapPgError(err, "ClaimPendingEvents: scan")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *transaction) MarkEventDelivered(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE events SET delivered_at = now() WHERE id = $1`, id)
	if err != nil {
		return metadata.MapPgError(err, "MarkEventDelivered")
	}
	return nil
}

func (t *transaction) MarkEventFailed(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE events SET attempts = attempts + 1 WHERE id = $1`, id)
	if err != nil {
		return metadata.MapPgError(err, "MarkEventFailed")
	}
	return nil
}
