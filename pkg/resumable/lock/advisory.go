package lock

import (
	"context"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/objectgate/gateway/internal/telemetry"
	"github.com/objectgate/gateway/pkg/apierror"
	"github.com/objectgate/gateway/pkg/metrics"
	"github.com/objectgate/gateway/pkg/resumable/notify"
)

// releaseNotifier is the subset of *notify.Notifier the advisory locker
// needs, narrowed for testability.
type releaseNotifier interface {
	Register(id string, fn notify.CancelFunc)
	Unregister(id string)
	Publish(ctx context.Context, id string) error
}

// AdvisoryLocker implements Locker with a session-scoped Postgres advisory
// lock (§4.G variant 1): `pg_try_advisory_lock` on a dedicated connection
// held for the lease's lifetime, since the lock belongs to the connection,
// not the transaction. On contention it publishes REQUEST_LOCK_RELEASE(id)
// and retries with a short fixed backoff until the lock is free or the
// overall timeout elapses.
type AdvisoryLocker struct {
	pool          *pgxpool.Pool
	notifier      releaseNotifier
	timeout       time.Duration
	retryInterval time.Duration
	logger        *slog.Logger
}

// NewAdvisoryLocker creates an AdvisoryLocker. notifier may be nil, in which
// case contention still retries but never publishes a release request.
func NewAdvisoryLocker(pool *pgxpool.Pool, notifier *notify.Notifier, logger *slog.Logger) *AdvisoryLocker {
	if logger == nil {
		logger = slog.Default()
	}
	l := &AdvisoryLocker{
		pool:          pool,
		timeout:       DefaultTimeout,
		retryInterval: DefaultRetryInterval,
		logger:        logger,
	}
	if notifier != nil {
		l.notifier = notifier
	}
	return l
}

// advisoryState is the connection-pinned state a Lease's impl field carries
// between Acquire and Release: the session-level advisory lock belongs to
// the physical connection that took it, not to any transaction, so the same
// *pgxpool.Conn must be held until Release and then returned to the pool.
type advisoryState struct {
	conn *pgxpool.Conn
	key1 int32
	key2 int32
}

// lockKeys derives the two int32 advisory-lock keys pg_try_advisory_lock
// takes from an arbitrary string id, via a single 64-bit FNV-1a hash split
// into high/low halves.
func lockKeys(id string) (int32, int32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	sum := h.Sum64()
	return int32(sum >> 32), int32(sum & 0xffffffff)
}

// Acquire implements Locker.
func (l *AdvisoryLocker) Acquire(ctx context.Context, id string) (*Lease, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanLockAcquire, trace.WithAttributes(telemetry.UploadID(id)))
	defer span.End()

	key1, key2 := lockKeys(id)
	deadline := time.Now().Add(l.timeout)

	for {
		conn, err := l.pool.Acquire(ctx)
		if err != nil {
			err = apierror.Wrap(apierror.KindBackendUnavailable, "acquire connection for advisory lock", err)
			metrics.Inc(metrics.LockAcquisitionsTotal, "advisory", "error")
			telemetry.RecordError(ctx, err)
			return nil, err
		}

		var locked bool
		err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1, $2)`, key1, key2).Scan(&locked)
		if err != nil {
			conn.Release()
			err = apierror.Wrap(apierror.KindInternalError, "pg_try_advisory_lock failed", err)
			metrics.Inc(metrics.LockAcquisitionsTotal, "advisory", "error")
			telemetry.RecordError(ctx, err)
			return nil, err
		}

		if locked {
			lease := &Lease{
				ID:         id,
				AcquiredAt: time.Now(),
				impl:       &advisoryState{conn: conn, key1: key1, key2: key2},
			}
			if l.notifier != nil {
				l.notifier.Register(id, lease.markReleaseRequested)
			}
			metrics.Inc(metrics.LockAcquisitionsTotal, "advisory", "ok")
			return lease, nil
		}
		conn.Release()

		if time.Now().After(deadline) {
			err := apierror.New(apierror.KindAcquiringLockTimeout, "timed out acquiring upload lock")
			metrics.Inc(metrics.LockAcquisitionsTotal, "advisory", "timeout")
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
		case <-time.After(l.retryInterval):
		}
	}
}

// Release implements Locker.
func (l *AdvisoryLocker) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	state, ok := lease.impl.(*advisoryState)
	if !ok || state == nil {
		return nil
	}
	defer state.conn.Release()

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanLockRelease, trace.WithAttributes(telemetry.UploadID(lease.ID)))
	defer span.End()

	if _, err := state.conn.Exec(ctx, `SELECT pg_advisory_unlock($1, $2)`, state.key1, state.key2); err != nil {
		err = apierror.Wrap(apierror.KindInternalError, "pg_advisory_unlock failed", err)
		telemetry.RecordError(ctx, err)
		return err
	}
	if l.notifier != nil {
		l.notifier.Unregister(lease.ID)
	}
	metrics.Observe(metrics.LockHoldDuration, float64(time.Since(lease.AcquiredAt).Milliseconds()), "advisory")
	return nil
}
