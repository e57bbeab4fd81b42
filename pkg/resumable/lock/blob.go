package lock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/objectgate/gateway/internal/telemetry"
	"github.com/objectgate/gateway/pkg/apierror"
	"github.com/objectgate/gateway/pkg/blob"
	"github.com/objectgate/gateway/pkg/metrics"
	"github.com/objectgate/gateway/pkg/resumable/notify"
)

// lockPayload is the JSON body stored at a blob lock object's key (§4.G
// variant 2).
type lockPayload struct {
	LockID    string    `json:"lockId"`
	CreatedAt time.Time `json:"createdAt"`
	RenewedAt time.Time `json:"renewedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// BlobLocker implements Locker by writing a deterministic lock object to the
// blob backend instead of taking a database advisory lock, for deployments
// where the upload-handling process has no direct Postgres access. Lacking
// true if-none-match semantics in the Backend contract (§4.A), contention is
// detected by Head-then-Write rather than a single atomic compare-and-swap;
// this is a best-effort simplification acceptable for an optional secondary
// variant whose primary alternative (AdvisoryLocker) is fully linearizable.
type BlobLocker struct {
	backend  blob.Backend
	notifier releaseNotifier
	logger   *slog.Logger

	ttl           time.Duration
	renewInterval time.Duration
	baseBackoff   time.Duration
	maxRetries    int
	timeout       time.Duration

	mu     sync.Mutex
	renews map[string]chan struct{}
}

// BlobLockerOptions configures a BlobLocker. Zero values apply defaults.
type BlobLockerOptions struct {
	TTL           time.Duration // default 30s
	RenewInterval time.Duration // default TTL/3, always < TTL
	BaseBackoff   time.Duration // default 250ms
	MaxRetries    int           // default 40; with the default backoff (250ms doubling to a 5s cap) the 15s Timeout ends acquisition first, after about 8 attempts
	Timeout       time.Duration // default DefaultTimeout
}

// NewBlobLocker creates a BlobLocker. notifier may be nil.
func NewBlobLocker(backend blob.Backend, notifier *notify.Notifier, opts BlobLockerOptions, logger *slog.Logger) *BlobLocker {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.RenewInterval <= 0 || opts.RenewInterval >= opts.TTL {
		opts.RenewInterval = opts.TTL / 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 250 * time.Millisecond
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 40
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	l := &BlobLocker{
		backend:       backend,
		ttl:           opts.TTL,
		renewInterval: opts.RenewInterval,
		baseBackoff:   opts.BaseBackoff,
		maxRetries:    opts.MaxRetries,
		timeout:       opts.Timeout,
		logger:        logger,
		renews:        map[string]chan struct{}{},
	}
	if notifier != nil {
		l.notifier = notifier
	}
	return l
}

// lockKey returns the deterministic lock-object key for an upload id,
// `__tus_locks/{tenant}/{uploadId}.lock`. tenant is the id's own first
// segment (uploadid.ID.Tenant), extracted here to avoid a dependency cycle
// between lock and uploadid.
func lockKey(id string) (key, version string) {
	tenant := id
	if idx := strings.Index(id, "/"); idx >= 0 {
		tenant = id[:idx]
	}
	return fmt.Sprintf("__tus_locks/%s/%s.lock", tenant, id), "lock"
}

type blobState struct {
	key, version, lockID string
	stop                 chan struct{}
}

// Acquire implements Locker.
func (l *BlobLocker) Acquire(ctx context.Context, id string) (*Lease, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanLockAcquire, trace.WithAttributes(telemetry.UploadID(id)))
	defer span.End()

	key, version := lockKey(id)
	lockID := uuid.NewString()
	deadline := time.Now().Add(l.timeout)
	backoff := l.baseBackoff

	for attempt := 0; ; attempt++ {
		ok, err := l.tryCreate(ctx, key, version, lockID)
		if err != nil {
			metrics.Inc(metrics.LockAcquisitionsTotal, "blob", "error")
			telemetry.RecordError(ctx, err)
			return nil, err
		}
		if ok {
			stop := make(chan struct{})
			l.mu.Lock()
			l.renews[id] = stop
			l.mu.Unlock()
			go l.renewLoop(key, version, lockID, stop)

			lease := &Lease{
				ID:         id,
				AcquiredAt: time.Now(),
				impl:       &blobState{key: key, version: version, lockID: lockID, stop: stop},
			}
			if l.notifier != nil {
				l.notifier.Register(id, lease.markReleaseRequested)
			}
			metrics.Inc(metrics.LockAcquisitionsTotal, "blob", "ok")
			return lease, nil
		}

		if time.Now().After(deadline) || attempt >= l.maxRetries {
			err := apierror.New(apierror.KindAcquiringLockTimeout, "timed out acquiring upload lock")
			metrics.Inc(metrics.LockAcquisitionsTotal, "blob", "timeout")
			telemetry.RecordError(ctx, err)
			return nil, err
		}
		if l.notifier != nil {
			if err := l.notifier.Publish(ctx, id); err != nil {
				l.logger.Warn("failed to publish lock release request", "id", id, "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if maxBackoff := 5 * time.Second; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// tryCreate attempts to plant the lock object. If one already exists and is
// still live, it fails (contended). If one exists but has expired (a zombie
// left by a crashed holder — the "periodic sweeper" is folded into this
// on-contact check rather than a separate background scan, since the
// Backend contract has no List operation to drive one), it is overwritten.
func (l *BlobLocker) tryCreate(ctx context.Context, key, version, lockID string) (bool, error) {
	existing, err := l.backend.Head(ctx, key, version)
	if err == nil {
		payload, readErr := l.readPayload(ctx, key, version)
		if readErr == nil && time.Now().Before(payload.ExpiresAt) {
			return false, nil
		}
		_ = existing
		l.logger.Info("reaping expired upload lock", "key", key)
	} else if apiErr, ok := apierror.As(err); !ok || apiErr.Kind != apierror.KindObjectNotFound {
		return false, apierror.Wrap(apierror.KindBackendUnavailable, "head lock object", err)
	}

	now := time.Now()
	body, marshalErr := json.Marshal(lockPayload{LockID: lockID, CreatedAt: now, RenewedAt: now, ExpiresAt: now.Add(l.ttl)})
	if marshalErr != nil {
		return false, fmt.Errorf("marshal lock payload: %w", marshalErr)
	}
	if _, err := l.backend.Write(ctx, key, version, bytes.NewReader(body), "application/json", "no-cache", nil); err != nil {
		return false, apierror.Wrap(apierror.KindBackendUnavailable, "write lock object", err)
	}
	return true, nil
}

func (l *BlobLocker) readPayload(ctx context.Context, key, version string) (lockPayload, error) {
	_, rc, err := l.backend.Read(ctx, key, version, nil)
	if err != nil {
		return lockPayload{}, err
	}
	defer func() { _ = rc.Close() }()
	var p lockPayload
	if err := json.NewDecoder(rc).Decode(&p); err != nil {
		return lockPayload{}, err
	}
	return p, nil
}

// renewLoop refreshes the lock object's expiresAt on a timer strictly
// shorter than the TTL, until stop is closed by Release.
func (l *BlobLocker) renewLoop(key, version, lockID string, stop chan struct{}) {
	ticker := time.NewTicker(l.renewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			now := time.Now()
			body, err := json.Marshal(lockPayload{LockID: lockID, RenewedAt: now, ExpiresAt: now.Add(l.ttl)})
			if err == nil {
				_, _ = l.backend.Write(ctx, key, version, bytes.NewReader(body), "application/json", "no-cache", nil)
			}
			cancel()
		}
	}
}

// Release implements Locker.
func (l *BlobLocker) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	state, ok := lease.impl.(*blobState)
	if !ok || state == nil {
		return nil
	}
	close(state.stop)

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanLockRelease, trace.WithAttributes(telemetry.UploadID(lease.ID)))
	defer span.End()

	l.mu.Lock()
	delete(l.renews, lease.ID)
	l.mu.Unlock()

	if l.notifier != nil {
		l.notifier.Unregister(lease.ID)
	}
	if err := l.backend.Delete(ctx, state.key, state.version); err != nil {
		err = apierror.Wrap(apierror.KindBackendUnavailable, "delete lock object", err)
		telemetry.RecordError(ctx, err)
		return err
	}
	metrics.Observe(metrics.LockHoldDuration, float64(time.Since(lease.AcquiredAt).Milliseconds()), "blob")
	return nil
}
