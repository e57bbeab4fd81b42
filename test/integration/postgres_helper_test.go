//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/objectgate/gateway/pkg/metadata/store/postgres"
)

// postgresHelper manages a Postgres container shared across this package's
// tests, mirroring the teacher's test/e2e PostgresHelper: reuse an
// externally configured database when POSTGRES_DSN is set (CI with a
// sidecar service container), otherwise start one via testcontainers-go.
type postgresHelper struct {
	container testcontainers.Container
	dsn       string
}

var sharedPostgres *postgresHelper

func newPostgresHelper(t *testing.T) *postgresHelper {
	t.Helper()

	if sharedPostgres != nil {
		return sharedPostgres
	}

	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		sharedPostgres = &postgresHelper{dsn: dsn}
		return sharedPostgres
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("gateway_integration"),
		tcpostgres.WithUsername("gateway"),
		tcpostgres.WithPassword("gateway"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get connection string: %v", err)
	}

	sharedPostgres = &postgresHelper{container: container, dsn: dsn}

	// Not registering t.Cleanup here for the same reason the teacher's
	// e2e helper doesn't: cleanup would run after the first subtest that
	// triggers construction, terminating the container before later
	// tests in the package can reuse it. Ryuk reaps it when the test
	// binary exits.
	return sharedPostgres
}

// openStore runs migrations against the shared container and opens a Store
// against it, logging only warnings and above to stderr to keep test output
// quiet.
func (h *postgresHelper) openStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := postgres.RunMigrations(ctx, h.dsn, logger); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	store, err := postgres.Open(ctx, postgres.Config{
		DSN:               h.dsn,
		MaxConnections:    5,
		ConnectionTimeout: 5 * time.Second,
	}, logger)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func uniqueTenantID(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("tenant-%s-%d", t.Name(), time.Now().UnixNano())
}
