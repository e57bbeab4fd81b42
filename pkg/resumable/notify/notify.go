// Package notify implements the Resumable Upload Subsystem's lock-release
// notifier (§4.G): a process-wide pub/sub over the metadata store's
// Postgres NOTIFY channel. When a process contends for a lock already held
// by another process (possibly on another node), it publishes
// REQUEST_LOCK_RELEASE(id); every process listening invokes its registered
// cancel callback for that id, inviting whichever holder currently owns the
// lock to release cooperatively instead of forcing the contender to wait out
// the full lease.
//
// The callback-registration shape — register a per-resource cancel/break
// callback, fire it when a remote signal arrives for that resource — mirrors
// the teacher's lock manager's break-callback registration
// (RegisterBreakCallbacks / CheckAndBreakOpLocksForWrite), adapted from
// in-process oplock breaks to a cross-process Postgres NOTIFY channel.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Channel is the Postgres NOTIFY channel name used for release requests.
const Channel = "gateway_lock_release"

// CancelFunc is invited to release its holder's lock cooperatively.
type CancelFunc func()

// Notifier owns one dedicated connection LISTENing on Channel and dispatches
// incoming notifications to registered per-id callbacks. Publishing reuses
// the shared pool since NOTIFY does not require a dedicated connection.
type Notifier struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu        sync.Mutex
	callbacks map[string]CancelFunc
}

// New creates a Notifier. Call Run to start listening; it blocks until ctx
// is canceled, so callers typically run it in its own goroutine.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{pool: pool, logger: logger, callbacks: map[string]CancelFunc{}}
}

// Register installs fn as the cancel callback for id, replacing any
// previous registration. Call Unregister when the lock is released or the
// caller gives up waiting.
func (n *Notifier) Register(id string, fn CancelFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callbacks[id] = fn
}

// Unregister removes id's callback, if any.
func (n *Notifier) Unregister(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.callbacks, id)
}

// Publish broadcasts REQUEST_LOCK_RELEASE(id) to every process listening on
// Channel, including this one.
func (n *Notifier) Publish(ctx context.Context, id string) error {
	_, err := n.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, id)
	return err
}

// Run acquires a dedicated connection and LISTENs on Channel until ctx is
// canceled or the connection is lost, in which case it reconnects after a
// short backoff. Every received notification's payload is the lock id whose
// cancel callback (if registered here) should fire.
func (n *Notifier) Run(ctx context.Context) {
	backoff := 500 * time.Millisecond
	const maxBackoff = 10 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		if err := n.listenOnce(ctx); err != nil {
			n.logger.Warn("lock-release listener disconnected, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = 500 * time.Millisecond
	}
}

func (n *Notifier) listenOnce(ctx context.Context) error {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		n.dispatch(notification.Payload)
	}
}

func (n *Notifier) dispatch(id string) {
	n.mu.Lock()
	fn, ok := n.callbacks[id]
	n.mu.Unlock()
	if ok && fn != nil {
		fn()
	}
}
