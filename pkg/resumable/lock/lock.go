// Package lock implements the Resumable Upload Subsystem's distributed
// mutex (§4.G): a lock keyed by upload-id, held for the lifetime of a
// resumable upload session (which spans many HTTP requests, unlike the
// Uploader's transaction-scoped metadata.Store.LockObject). Two pluggable
// variants are provided: a Postgres advisory-lock variant (the default) and
// a blob-backend conditional-put variant for deployments without direct
// database access from the upload-handling process.
package lock

import (
	"context"
	"sync/atomic"
	"time"
)

// Lease represents a held lock. ReleaseRequested reports whether a
// concurrent caller has asked this holder to release cooperatively (§4.G's
// lock-release notifier); the holder may check it between chunks of work
// and release early, but is never forced to.
type Lease struct {
	ID         string
	AcquiredAt time.Time

	released atomic.Bool
	// impl carries locker-specific state (e.g. the dedicated connection an
	// AdvisoryLocker must unlock on) between Acquire and Release. Opaque to
	// callers; only the Locker implementation that created it dereferences it.
	impl any
}

// ReleaseRequested reports whether a peer has published a release request
// for this lease's id since it was acquired.
func (l *Lease) ReleaseRequested() bool {
	return l.released.Load()
}

func (l *Lease) markReleaseRequested() {
	l.released.Store(true)
}

// Locker acquires and releases the distributed mutex keyed by upload-id.
type Locker interface {
	// Acquire blocks until the lock for id is held, ctx is canceled, or an
	// internal ~15s timeout elapses (apierror.KindAcquiringLockTimeout).
	Acquire(ctx context.Context, id string) (*Lease, error)

	// Release releases a previously acquired lease. Idempotent.
	Release(ctx context.Context, lease *Lease) error
}

// Default tuning, per §4.G.
const (
	DefaultTimeout       = 15 * time.Second
	DefaultRetryInterval = 100 * time.Millisecond
)
