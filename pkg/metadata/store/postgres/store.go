package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/objectgate/gateway/internal/telemetry"
	"github.com/objectgate/gateway/pkg/apierror"
	"github.com/objectgate/gateway/pkg/metadata"
)

const maxTransactionRetries = 3

// Store implements metadata.Store over a single PostgreSQL pool.
type Store struct {
	pool         *pgxpool.Pool
	logger       *slog.Logger
	serviceRole  string
}

// Option configures a Store at construction.
type Option func(*Store)

// WithServiceRole overrides the Postgres role privileged transactions run
// as; defaults to "gateway_service".
func WithServiceRole(role string) Option {
	return func(s *Store) { s.serviceRole = role }
}

// Open creates a Store backed by a fresh connection pool.
func Open(ctx context.Context, cfg Config, logger *slog.Logger, opts ...Option) (*Store, error) {
	pool, err := newPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s := &Store{pool: pool, logger: logger, serviceRole: "gateway_service"}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewWithPool wraps an already-constructed pool, used by tests against
// testcontainers-go.
func NewWithPool(pool *pgxpool.Pool, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{pool: pool, logger: logger, serviceRole: "gateway_service"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pool returns the underlying connection pool, for callers that need a raw
// pgx handle alongside the Store — the resumable-upload subsystem's
// session-scoped advisory locker and LISTEN/NOTIFY notifier (§4.G) both
// take a *pgxpool.Pool directly rather than going through Store's
// transaction-scoped API.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Close() {
	if s.pool == nil {
		return
	}
	s.pool.Close()
}

// WithAuthorizedTx runs fn inside a transaction whose session-local
// configuration is set to scope's role and claims (§4.B, §4.C), so the
// store's row-level authorization policies apply.
func (s *Store) WithAuthorizedTx(ctx context.Context, scope metadata.Scope, fn func(ctx context.Context, tx metadata.Transaction) error) error {
	ctx, span := telemetry.StartMetadataSpan(ctx, "authorized", telemetry.Tenant(scope.TenantID))
	defer span.End()

	err := s.withTransaction(ctx, func(ctx context.Context, ptx pgx.Tx) error {
		if err := applyScope(ctx, ptx, scope); err != nil {
			return err
		}
		return fn(ctx, &transaction{store: s, tx: ptx})
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return err
}

// WithPrivilegedTx runs fn inside a super-user transaction that bypasses
// row-level authorization policies.
func (s *Store) WithPrivilegedTx(ctx context.Context, fn func(ctx context.Context, tx metadata.Transaction) error) error {
	ctx, span := telemetry.StartMetadataSpan(ctx, "privileged")
	defer span.End()

	err := s.withTransaction(ctx, func(ctx context.Context, ptx pgx.Tx) error {
		if _, err := ptx.Exec(ctx, fmt.Sprintf("SET LOCAL ROLE %s", quoteIdent(s.serviceRole))); err != nil {
			return metadata.MapPgError(err, "WithPrivilegedTx")
		}
		return fn(ctx, &transaction{store: s, tx: ptx, privileged: true})
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return err
}

// withTransaction begins a transaction, runs fn, and commits or rolls
// back, making up to maxTransactionRetries attempts in total on
// serialization failures and deadlocks (§4.B, §4.C).
func (s *Store) withTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < maxTransactionRetries; attempt++ {
		acquireCtx, cancel := context.WithTimeout(ctx, poolConnectionAcquireTimeout)
		tx, err := s.pool.Begin(acquireCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return apierror.Wrap(apierror.KindDatabaseTimeout, "acquiring database connection timed out", err)
			}
			return metadata.MapPgError(err, "Begin")
		}

		if err := fn(ctx, tx); err != nil {
			rollbackCtx, rollbackCancel := context.WithTimeout(ctx, poolConnectionAcquireTimeout)
			_ = tx.Rollback(rollbackCtx)
			rollbackCancel()

			if metadata.IsRetryable(err) {
				lastErr = err
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			}
			return err
		}

		commitCtx, commitCancel := context.WithTimeout(ctx, poolConnectionAcquireTimeout)
		err = tx.Commit(commitCtx)
		commitCancel()
		if err != nil {
			if metadata.IsRetryable(err) {
				lastErr = err
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			}
			return metadata.MapPgError(err, "Commit")
		}

		return nil
	}

	return metadata.MapPgError(lastErr, "WithTransaction")
}

// applyScope sets the session-local GUCs that the store's row-level
// security policies read, scoped to this transaction only via SET LOCAL.
func applyScope(ctx context.Context, tx pgx.Tx, scope metadata.Scope) error {
	role := scope.Role
	if role == "" {
		role = "gateway_authenticated"
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ROLE %s", quoteIdent(role))); err != nil {
		return metadata.MapPgError(err, "applyScope: role")
	}

	claims, err := json.Marshal(scope.JWTClaims)
	if err != nil {
		return apierror.Wrap(apierror.KindInternalError, "encode scope claims", err)
	}
	headers, err := json.Marshal(scope.Headers)
	if err != nil {
		return apierror.Wrap(apierror.KindInternalError, "encode scope headers", err)
	}

	settings := map[string]string{
		"app.tenant_id":    scope.TenantID,
		"app.subject":      scope.Subject,
		"app.jwt_raw":      scope.JWTRaw,
		"app.jwt_claims":   string(claims),
		"app.headers":      string(headers),
		"app.method":       scope.Method,
		"app.path":         scope.Path,
	}
	for key, value := range settings {
		if _, err := tx.Exec(ctx, `SELECT set_config($1, $2, true)`, key, value); err != nil {
			return metadata.MapPgError(err, "applyScope: "+key)
		}
	}
	return nil
}

// quoteIdent defends against identifier injection for the small, internally
// controlled set of role names this package ever passes to SET LOCAL ROLE.
func quoteIdent(ident string) string {
	return `"` + stripQuotes(ident) + `"`
}

func stripQuotes(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '"' {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
