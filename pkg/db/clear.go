package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearRegistrations truncates indication_consumers, providers and
// provider_modules. The schema is preserved.
func ClearRegistrations(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing registration tables", clearLogPrefix))

	_, err := pool.Exec(ctx, `TRUNCATE TABLE
		indication_consumers,
		providers,
		provider_modules
		CASCADE`)
	if err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Registrations cleared", clearLogPrefix))
	return nil
}
