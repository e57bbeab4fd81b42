// Package event implements the dispatch side of the Event Emitter (§4.I):
// a worker that claims rows committed by EmitEvent and delivers them to a
// configured webhook endpoint with at-least-once semantics, moving
// exhausted events to a dead-letter sink instead of retrying forever.
//
// Emission itself (the queue-table insert in the same transaction as the
// metadata mutation) is the metadata store's responsibility
// (metadata.Transaction.EmitEvent); this package is the external
// collaborator described in §4.I that turns queued rows into HTTP POSTs.
package event

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/objectgate/gateway/pkg/metadata"
)

// DeadLetterSink receives events that exhausted their delivery attempts.
type DeadLetterSink interface {
	Send(ctx context.Context, e metadata.Event, deliveryErr error) error
}

// NopDeadLetterSink drops dead-lettered events after logging them. Used
// when no external dead-letter queue is configured.
type NopDeadLetterSink struct {
	Logger *slog.Logger
}

func (s NopDeadLetterSink) Send(ctx context.Context, e metadata.Event, deliveryErr error) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("event delivery exhausted, dropping",
		"event_id", e.ID, "bucket_id", e.BucketID, "object_name", e.ObjectName,
		"kind", e.Kind, "attempts", e.Attempts, "error", deliveryErr)
	return nil
}

// webhookPayload is the wire shape POSTed to the configured endpoint: the
// {version, type, applyTime, payload} envelope. No top-level tenant field
// is sent; metadata.Event carries no tenant.
type webhookPayload struct {
	Version   int64              `json:"version"`
	Type      metadata.EventKind `json:"type"`
	ApplyTime time.Time          `json:"applyTime"`
	Payload   json.RawMessage    `json:"payload"`
}

// Config configures a Dispatcher.
type Config struct {
	WebhookURL string
	HTTPClient *http.Client
	// MaxAttempts is how many delivery attempts an event gets before it is
	// handed to the DeadLetterSink instead of retried further. Default 5.
	MaxAttempts int
	// BatchSize is how many events ClaimPendingEvents pulls per poll. Default 50.
	BatchSize int
	// PollInterval is how often the dispatcher polls for newly queued events. Default 2s.
	PollInterval time.Duration
	DeadLetter   DeadLetterSink
	Logger       *slog.Logger
}

// Dispatcher polls the metadata store for undelivered events and POSTs
// them to a webhook endpoint, retrying on failure up to MaxAttempts
// before dead-lettering.
type Dispatcher struct {
	store        metadata.Store
	webhookURL   string
	httpClient   *http.Client
	maxAttempts  int
	batchSize    int
	pollInterval time.Duration
	deadLetter   DeadLetterSink
	logger       *slog.Logger
}

// New creates a Dispatcher.
func New(store metadata.Store, cfg Config) *Dispatcher {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.DeadLetter == nil {
		cfg.DeadLetter = NopDeadLetterSink{Logger: cfg.Logger}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		store:        store,
		webhookURL:   cfg.WebhookURL,
		httpClient:   cfg.HTTPClient,
		maxAttempts:  cfg.MaxAttempts,
		batchSize:    cfg.BatchSize,
		pollInterval: cfg.PollInterval,
		deadLetter:   cfg.DeadLetter,
		logger:       cfg.Logger,
	}
}

// Run polls and dispatches events until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.PollOnce(ctx); err != nil {
				d.logger.Error("event poll failed", "error", err)
			}
		}
	}
}

// PollOnce claims one batch of pending events and attempts delivery of each.
func (d *Dispatcher) PollOnce(ctx context.Context) error {
	var claimed []metadata.Event
	err := d.store.WithPrivilegedTx(ctx, func(ctx context.Context, tx metadata.Transaction) error {
		var err error
		claimed, err = tx.ClaimPendingEvents(ctx, d.batchSize)
		return err
	})
	if err != nil {
		return fmt.Errorf("claim pending events: %w", err)
	}

	for _, e := range claimed {
		d.deliver(ctx, e)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, e metadata.Event) {
	err := d.post(ctx, e)

	// An event whose last allowed attempt failed is handed to the dead-letter
	// sink and, once the sink accepts it, taken out of the pending queue.
	deadLettered := false
	if err != nil && e.Attempts+1 >= d.maxAttempts {
		if dlErr := d.deadLetter.Send(ctx, e, err); dlErr != nil {
			d.logger.Error("dead-letter send failed", "event_id", e.ID, "error", dlErr)
		} else {
			deadLettered = true
		}
	}

	markErr := d.store.WithPrivilegedTx(ctx, func(ctx context.Context, tx metadata.Transaction) error {
		if err == nil {
			return tx.MarkEventDelivered(ctx, e.ID)
		}
		if failErr := tx.MarkEventFailed(ctx, e.ID); failErr != nil || !deadLettered {
			return failErr
		}
		return tx.MarkEventDelivered(ctx, e.ID)
	})
	if markErr != nil {
		d.logger.Error("failed to record event delivery outcome", "event_id", e.ID, "error", markErr)
	}
}

func (d *Dispatcher) post(ctx context.Context, e metadata.Event) error {
	if d.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(webhookPayload{
		Version:   e.ID,
		Type:      e.Kind,
		ApplyTime: e.CreatedAt,
		Payload:   json.RawMessage(e.Payload),
	})
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, respBody)
	}
	return nil
}
