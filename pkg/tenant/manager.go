// Package tenant implements the Tenant Connection Manager (§4.C): it binds
// each incoming request to a database handle scoped to its tenant and
// caller, while keeping process-wide connection usage bounded.
//
// The process-wide dbUrl->pool cache is a small hand-rolled TTL map rather
// than an imported cache library: the entries are few (one per active
// tenant) and the eviction policy (reset-on-access, destroy-the-pool
// on-expiry) needs direct control over pool.Close() at eviction time, which
// a generic get/set cache library would only add indirection around. No
// library in the examined corpus's dependency surface is reached for this
// specific concern, so this stays on sync.Mutex/map/time.Ticker.
package tenant

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/objectgate/gateway/pkg/apierror"
	"github.com/objectgate/gateway/pkg/metadata"
	"github.com/objectgate/gateway/pkg/metadata/store/postgres"
)

// Options configures a Manager.
type Options struct {
	// MaxConnections caps each tenant pool's connection count (typically 200).
	MaxConnections int32
	// IdleTTL is how long a tenant pool survives after its last access in
	// multi-tenant mode; SingleTenant mode uses an infinite TTL instead.
	IdleTTL time.Duration
	// SingleTenant, if true, never evicts the one pool it ever opens.
	SingleTenant bool
	Logger       *slog.Logger
}

// Connection is a handle bound to one tenant and caller, returned by
// Acquire. Scope carries the session-local configuration subsequent
// transactions are run with.
type Connection struct {
	Store metadata.Store
	Scope metadata.Scope

	manager  *Manager
	external bool
}

// entry is one cached tenant pool.
type entry struct {
	store      *postgres.Store
	lastAccess time.Time
	refcount   int
}

// Manager owns the process-wide pool cache keyed by DSN.
type Manager struct {
	opts Options

	mu      sync.Mutex
	entries map[string]*entry
	stopCh  chan struct{}
	stopped bool

	// group collapses concurrent first-Acquire calls for the same DSN into
	// a single pool-construction attempt, so a burst of requests for a
	// newly-seen tenant doesn't open maxConnections pools at once.
	group singleflight.Group
}

// New creates a Manager and starts its background eviction sweep (unless
// opts.SingleTenant, in which case nothing ever expires).
func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Second
	}
	m := &Manager{
		opts:    opts,
		entries: map[string]*entry{},
		stopCh:  make(chan struct{}),
	}
	if !opts.SingleTenant {
		go m.sweepLoop()
	}
	return m
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.opts.IdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.evictExpired()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for dsn, e := range m.entries {
		if e.refcount > 0 {
			continue
		}
		if now.Sub(e.lastAccess) < m.opts.IdleTTL {
			continue
		}
		e.store.Close()
		delete(m.entries, dsn)
		m.opts.Logger.Info("tenant pool evicted after inactivity", "idle_for", now.Sub(e.lastAccess))
	}
}

// Acquire binds a Connection to tenantID's database, creating its pool on
// first use. If external is true (proxied connections), the returned
// Connection's pool is single-use and closed on Dispose instead of being
// cached for reuse.
func (m *Manager) Acquire(ctx context.Context, dsn string, scope metadata.Scope, external bool) (*Connection, error) {
	if m.isStopped() {
		return nil, apierror.New(apierror.KindBackendUnavailable, "tenant connection manager stopped")
	}

	if external {
		store, err := postgres.Open(ctx, postgres.Config{DSN: dsn, MaxConnections: m.opts.MaxConnections}, m.opts.Logger)
		if err != nil {
			return nil, apierror.Wrap(apierror.KindBackendUnavailable, "open external tenant connection", err)
		}
		return &Connection{Store: store, Scope: scope, manager: m, external: true}, nil
	}

	m.mu.Lock()
	e, ok := m.entries[dsn]
	m.mu.Unlock()

	if !ok {
		result, err, _ := m.group.Do(dsn, func() (any, error) {
			m.mu.Lock()
			if existing, ok := m.entries[dsn]; ok {
				m.mu.Unlock()
				return existing, nil
			}
			m.mu.Unlock()

			store, err := postgres.Open(ctx, postgres.Config{DSN: dsn, MaxConnections: m.opts.MaxConnections}, m.opts.Logger)
			if err != nil {
				return nil, err
			}

			m.mu.Lock()
			defer m.mu.Unlock()
			if existing, ok := m.entries[dsn]; ok {
				// Lost the race to a concurrent non-grouped caller; close
				// the pool we just opened and use the one already cached.
				store.Close()
				return existing, nil
			}
			created := &entry{store: store}
			m.entries[dsn] = created
			return created, nil
		})
		if err != nil {
			return nil, apierror.Wrap(apierror.KindBackendUnavailable, "open tenant connection", err)
		}
		e = result.(*entry)
	}

	m.mu.Lock()
	e.lastAccess = time.Now()
	e.refcount++
	m.mu.Unlock()

	return &Connection{Store: e.store, Scope: scope, manager: m}, nil
}

// Dispose releases a Connection. Idempotent; safe to call more than once.
func (c *Connection) Dispose() {
	if c.manager == nil {
		return
	}
	if c.external {
		c.Store.Close()
		c.manager = nil
		return
	}

	c.manager.mu.Lock()
	for _, e := range c.manager.entries {
		if e.store == c.Store && e.refcount > 0 {
			e.refcount--
			break
		}
	}
	c.manager.mu.Unlock()
	c.manager = nil
}

// AsSuperUser returns a view of the same Connection that runs its next
// transaction under the service role (gateway_service), bypassing
// row-level authorization.
func (c *Connection) AsSuperUser() *Connection {
	scope := c.Scope
	scope.Role = "gateway_service"
	return &Connection{Store: c.Store, Scope: scope, manager: c.manager, external: c.external}
}

// Retry tuning for WithTransaction (§4.C): up to 10 attempts, exponential
// backoff starting at 50ms and capped at 3s. Package-level so tests can
// shrink them instead of a real test run paying the full backoff schedule.
var (
	retryMaxAttempts = 10
	retryBaseBackoff = 50 * time.Millisecond
	retryMaxBackoff  = 3 * time.Second
)

// WithTransaction runs fn inside an authorized transaction scoped to c's
// Scope, retrying acquisition with exponential backoff when the pool
// reports exhaustion (§4.C).
func (c *Connection) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx metadata.Transaction) error) error {
	backoff := retryBaseBackoff

	var lastErr error
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		err := c.Store.WithAuthorizedTx(ctx, c.Scope, fn)
		if err == nil {
			return nil
		}
		if !isPoolExhausted(err) {
			return err
		}
		lastErr = err
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return apierror.Wrap(apierror.KindDatabaseTimeout, "context canceled while retrying pool acquisition", ctx.Err())
		}
		backoff *= 2
		if backoff > retryMaxBackoff {
			backoff = retryMaxBackoff
		}
	}
	return apierror.Wrap(apierror.KindDatabaseTimeout, "exhausted connection pool retry attempts", lastErr)
}

func isPoolExhausted(err error) bool {
	apiErr, ok := apierror.As(err)
	return ok && apiErr.Kind == apierror.KindDatabaseTimeout
}

func (m *Manager) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// Stop closes every cached pool and halts the eviction sweep. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.stopCh)
	for dsn, e := range m.entries {
		e.store.Close()
		delete(m.entries, dsn)
	}
	m.mu.Unlock()
}
