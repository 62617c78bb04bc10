package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const migrateLogPrefix = "db:migrate"

const createSchemaMigrations = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	applied TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	if _, err := pool.Exec(ctx, createSchemaMigrations); err != nil {
		return nil, fmt.Errorf("%s - create schema_migrations: %w", migrateLogPrefix, err)
	}
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%s - list applied migrations: %w", migrateLogPrefix, err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s - scan applied migrations: %w", migrateLogPrefix, err)
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// inTx runs sql and records the version change in one transaction.
func inTx(ctx context.Context, pool *pgxpool.Pool, sql, record, version string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s - begin tx: %w", migrateLogPrefix, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, sql); err != nil {
		return fmt.Errorf("%s - migration %s failed: %w", migrateLogPrefix, version, err)
	}
	if _, err := tx.Exec(ctx, record, version); err != nil {
		return fmt.Errorf("%s - record migration %s: %w", migrateLogPrefix, version, err)
	}
	return tx.Commit(ctx)
}

// RunMigrations applies the migrations not yet recorded in schema_migrations,
// each in its own transaction, and returns how many were applied.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) (int, error) {
	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return 0, err
	}
	pending := pendingMigrations(migrations, applied)
	slog.Info(fmt.Sprintf("%s - Running %d of %d migrations", migrateLogPrefix, len(pending), len(migrations)))

	for i, m := range pending {
		if err := inTx(ctx, pool, m.Up, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version); err != nil {
			return i, err
		}
		slog.Info(fmt.Sprintf("%s - Applied %s", migrateLogPrefix, m.Version))
	}
	return len(pending), nil
}

// MigrationStatus reports which migrations are applied.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) ([]MigrationState, error) {
	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return nil, err
	}
	return migrationStates(migrations, applied), nil
}

// MigrationDown rolls back the last applied migration and returns its version.
// It returns "" when nothing is applied.
func MigrationDown(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) (string, error) {
	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return "", err
	}
	m, ok := lastApplied(migrations, applied)
	if !ok {
		return "", nil
	}
	if m.Down == "" {
		return "", fmt.Errorf("%s - %s: %w", migrateLogPrefix, m.Version, ErrNoDownMigration)
	}
	if err := inTx(ctx, pool, m.Down, `DELETE FROM schema_migrations WHERE version = $1`, m.Version); err != nil {
		return "", err
	}
	slog.Info(fmt.Sprintf("%s - Rolled back %s", migrateLogPrefix, m.Version))
	return m.Version, nil
}
