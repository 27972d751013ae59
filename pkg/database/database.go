// Package database is the durable storage layer: Postgres-backed documents,
// shares, and the snapshot read/write surface used by the persistence
// sweeper.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	// Postgres driver
	_ "github.com/lib/pq"

	"github.com/maheshalyana/letterflow/pkg/common/config"
	"github.com/maheshalyana/letterflow/pkg/observability"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Common errors
var (
	ErrNotFound = errors.New("record not found")
)

// Database is the Postgres access layer
type Database struct {
	db     *sqlx.DB
	logger observability.Logger
}

// New opens a connection pool and optionally runs pending migrations
func New(ctx context.Context, cfg config.DatabaseConfig, logger observability.Logger) (*Database, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.BuildDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	d := &Database{db: db, logger: logger}

	if cfg.AutoMigrate {
		if err := d.Migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return d, nil
}

// NewWithDB wraps an existing connection, used by tests with sqlmock
func NewWithDB(db *sqlx.DB, logger observability.Logger) *Database {
	return &Database{db: db, logger: logger}
}

// Migrate applies any pending schema migrations
func (d *Database) Migrate() error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(d.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	d.logger.Info("Database migrations applied", nil)
	return nil
}

// Ping verifies connectivity, used by the readiness endpoint
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close releases the connection pool
func (d *Database) Close() error {
	return d.db.Close()
}
