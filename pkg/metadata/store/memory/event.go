package memory

import (
	"context"
	"time"

	"github.com/objectgate/gateway/pkg/metadata"
)

func (t *tx) EmitEvent(ctx context.Context, e *metadata.Event) error {
	t.store.nextEventID++
	e.ID = t.store.nextEventID
	e.CreatedAt = time.Now()
	t.store.events = append(t.store.events, *e)
	return nil
}

func (t *tx) ClaimPendingEvents(ctx context.Context, limit int) ([]metadata.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []metadata.Event
	for _, e := range t.store.events {
		if e.DeliveredAt == nil {
			out = append(out, e)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (t *tx) MarkEventDelivered(ctx context.Context, id int64) error {
	for i, e := range t.store.events {
		if e.ID == id {
			now := time.Now()
			t.store.events[i].DeliveredAt = &now
			return nil
		}
	}
	return nil
}

func (t *tx) MarkEventFailed(ctx context.Context, id int64) error {
	for i, e := range t.store.events {
		if e.ID == id {
			t.store.events[i].Attempts++
			return nil
		}
	}
	return nil
}
