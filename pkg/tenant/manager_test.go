package tenant

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectgate/gateway/pkg/apierror"
	"github.com/objectgate/gateway/pkg/metadata"
	"github.com/objectgate/gateway/pkg/metadata/store/postgres"
)

// fakeStore lets WithTransaction's retry loop be exercised without a real
// PostgreSQL pool.
type fakeStore struct {
	failuresBeforeSuccess int
	calls                 int
	failWith              error
}

func (f *fakeStore) WithAuthorizedTx(ctx context.Context, scope metadata.Scope, fn func(ctx context.Context, tx metadata.Transaction) error) error {
	f.calls++
	if f.calls <= f.failuresBeforeSuccess {
		return f.failWith
	}
	return fn(ctx, nil)
}

func (f *fakeStore) WithPrivilegedTx(ctx context.Context, fn func(ctx context.Context, tx metadata.Transaction) error) error {
	return fn(ctx, nil)
}

func (f *fakeStore) Close() {}

func init() {
	// Shrink the retry schedule so these tests don't pay the full
	// production backoff (which sums to several seconds).
	retryBaseBackoff = time.Millisecond
	retryMaxBackoff = 5 * time.Millisecond
}

func TestWithTransactionRetriesOnPoolExhaustionThenSucceeds(t *testing.T) {
	store := &fakeStore{failuresBeforeSuccess: 2, failWith: apierror.New(apierror.KindDatabaseTimeout, "pool exhausted")}
	conn := &Connection{Store: store}

	err := conn.WithTransaction(context.Background(), func(ctx context.Context, tx metadata.Transaction) error {
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, store.calls)
}

func TestWithTransactionDoesNotRetryNonTimeoutErrors(t *testing.T) {
	store := &fakeStore{failuresBeforeSuccess: 1, failWith: apierror.New(apierror.KindConflict, "version conflict")}
	conn := &Connection{Store: store}

	err := conn.WithTransaction(context.Background(), func(ctx context.Context, tx metadata.Transaction) error {
		return nil
	})

	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindConflict, apiErr.Kind)
	assert.Equal(t, 1, store.calls)
}

func TestWithTransactionSurfacesDatabaseTimeoutAfterExhaustingAttempts(t *testing.T) {
	store := &fakeStore{failuresBeforeSuccess: 100, failWith: apierror.New(apierror.KindDatabaseTimeout, "pool exhausted")}
	conn := &Connection{Store: store}

	err := conn.WithTransaction(context.Background(), func(ctx context.Context, tx metadata.Transaction) error {
		return nil
	})

	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindDatabaseTimeout, apiErr.Kind)
	assert.Equal(t, retryMaxAttempts, store.calls)
}

func TestWithTransactionStopsOnContextCancellation(t *testing.T) {
	// Widen the backoff just for this test so the context deadline fires
	// before the retry loop would otherwise exhaust on its own.
	prevBase, prevMax := retryBaseBackoff, retryMaxBackoff
	retryBaseBackoff, retryMaxBackoff = 50*time.Millisecond, 50*time.Millisecond
	defer func() { retryBaseBackoff, retryMaxBackoff = prevBase, prevMax }()

	store := &fakeStore{failuresBeforeSuccess: 100, failWith: apierror.New(apierror.KindDatabaseTimeout, "pool exhausted")}
	conn := &Connection{Store: store}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := conn.WithTransaction(ctx, func(ctx context.Context, tx metadata.Transaction) error {
		return nil
	})

	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.KindDatabaseTimeout, apiErr.Kind)
	assert.Less(t, store.calls, retryMaxAttempts)
}

func TestDisposeOnBareConnectionIsNoOp(t *testing.T) {
	conn := &Connection{}
	conn.Dispose()
	conn.Dispose()
}

func TestDisposeDecrementsRefcountOnce(t *testing.T) {
	m := &Manager{entries: map[string]*entry{}, stopCh: make(chan struct{})}
	store := &postgres.Store{}
	m.entries["dsn"] = &entry{store: store, refcount: 2}

	conn := &Connection{Store: store, manager: m}
	conn.Dispose()

	assert.Equal(t, 1, m.entries["dsn"].refcount)
	// A second Dispose on the same Connection must not double-decrement.
	conn.Dispose()
	assert.Equal(t, 1, m.entries["dsn"].refcount)
}

func TestEvictExpiredRemovesOnlyIdleUnreferencedEntries(t *testing.T) {
	m := &Manager{
		opts:    Options{IdleTTL: 10 * time.Millisecond, Logger: slog.Default()},
		entries: map[string]*entry{},
		stopCh:  make(chan struct{}),
	}
	m.entries["active"] = &entry{store: &postgres.Store{}, lastAccess: time.Now(), refcount: 1}
	m.entries["fresh"] = &entry{store: &postgres.Store{}, lastAccess: time.Now()}
	m.entries["idle"] = &entry{store: &postgres.Store{}, lastAccess: time.Now().Add(-time.Hour)}

	m.evictExpired()

	_, stillActive := m.entries["active"]
	_, stillFresh := m.entries["fresh"]
	_, idleGone := m.entries["idle"]
	assert.True(t, stillActive)
	assert.True(t, stillFresh)
	assert.False(t, idleGone)
}

func TestIsPoolExhaustedOnlyMatchesDatabaseTimeout(t *testing.T) {
	assert.True(t, isPoolExhausted(apierror.New(apierror.KindDatabaseTimeout, "x")))
	assert.False(t, isPoolExhausted(apierror.New(apierror.KindConflict, "x")))
	assert.False(t, isPoolExhausted(errors.New("plain error")))
}
