// Package migrate applies goose migrations against the record store. The
// registry runs Ensure on boot so a fresh database is usable without a
// separate provisioning step.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const migrateTimeout = time.Minute

// Runner applies schema migrations. goose needs database/sql, so the runner
// opens short-lived pgx stdlib connections next to the shared pool.
type Runner struct {
	pool *pgxpool.Pool
	dsn  string
	dir  string
	log  *slog.Logger
}

// New validates inputs and returns a runner.
func New(pool *pgxpool.Pool, dsn, dir string, log *slog.Logger) (Runner, error) {
	switch {
	case pool == nil:
		return Runner{}, errors.New("migrate: nil pool")
	case dsn == "":
		return Runner{}, errors.New("migrate: empty dsn")
	case dir == "":
		return Runner{}, errors.New("migrate: empty migrations dir")
	}
	if _, err := os.Stat(dir); err != nil {
		return Runner{}, fmt.Errorf("migrate: migrations dir: %w", err)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return Runner{}, fmt.Errorf("migrate: set dialect: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return Runner{pool: pool, dsn: dsn, dir: dir, log: log}, nil
}

// Ensure brings the schema up to the latest version.
func (r Runner) Ensure(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, migrateTimeout)
	defer cancel()

	db, err := r.open()
	if err != nil {
		return err
	}
	defer db.Close()

	r.log.Info("applying schema migrations", "dir", r.dir)
	if err := goose.UpContext(ctx, db, r.dir); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Status prints applied and pending versions.
func (r Runner) Status(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, migrateTimeout)
	defer cancel()

	db, err := r.open()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := goose.StatusContext(ctx, db, r.dir); err != nil {
		return fmt.Errorf("migrate status: %w", err)
	}
	return nil
}

// Down rolls back one migration, or down to targetVersion when positive.
func (r Runner) Down(ctx context.Context, targetVersion int64) error {
	ctx, cancel := context.WithTimeout(ctx, migrateTimeout)
	defer cancel()

	db, err := r.open()
	if err != nil {
		return err
	}
	defer db.Close()

	if targetVersion > 0 {
		r.log.Info("rolling back schema", "target_version", targetVersion)
		if err := goose.DownToContext(ctx, db, r.dir, targetVersion); err != nil {
			return fmt.Errorf("migrate down to %d: %w", targetVersion, err)
		}
		return nil
	}
	r.log.Info("rolling back last migration")
	if err := goose.DownContext(ctx, db, r.dir); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Ping verifies database connectivity through the shared pool.
func (r Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases the shared pool.
func (r Runner) Close() {
	r.pool.Close()
}

func (r Runner) open() (*sql.DB, error) {
	db, err := sql.Open("pgx", r.dsn)
	if err != nil {
		return nil, fmt.Errorf("migrate: open connection: %w", err)
	}
	return db, nil
}
