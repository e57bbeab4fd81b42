package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/objectgate/gateway/pkg/metadata/store/postgres/migrations"
)

// RunMigrations applies pending schema migrations to dsn, using a Postgres
// advisory lock (managed internally by golang-migrate) so concurrent
// gateway instances starting up at once don't race each other.
func RunMigrations(ctx context.Context, dsn string, logger *slog.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("metadata: open migration connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("metadata: ping for migration: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "schema_migrations",
		DatabaseName:    "gateway",
	})
	if err != nil {
		return fmt.Errorf("metadata: create postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("metadata: create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("metadata: create migrate instance: %w", err)
	}

	logger.Info("applying metadata store migrations")
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("metadata: migration failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("metadata: read migration version: %w", err)
	}
	if err != migrate.ErrNilVersion {
		logger.Info("metadata store schema version", "version", version, "dirty", dirty)
		if dirty {
			logger.Warn("metadata store schema is dirty, manual intervention may be required")
		}
	}

	return nil
}
