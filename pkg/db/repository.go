package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/cim-broker/pkg/cim"
)

const repoLogPrefix = "db:repository"

const moduleColumns = `name, vendor, version, interface_type, interface_version, location,
	user_context, designated_user_context, module_group_name, bitness, operational_status,
	created, modified`

// Repository provides database access for provider registrations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// =========================================================================
// PROVIDER MODULE OPERATIONS
// =========================================================================

// GetModule finds a provider module by name. It returns nil, nil when there
// is no such module.
func (r *Repository) GetModule(ctx context.Context, name string) (*ProviderModuleRow, error) {
	slog.Debug(fmt.Sprintf("%s - GetModule name=%s", repoLogPrefix, name))

	row := r.pool.QueryRow(ctx,
		`SELECT `+moduleColumns+` FROM provider_modules WHERE name = $1`, name)
	return scanModule(row)
}

// ListModules returns every provider module ordered by name.
func (r *Repository) ListModules(ctx context.Context) ([]ProviderModuleRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+moduleColumns+` FROM provider_modules ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%s - ListModules failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []ProviderModuleRow
	for rows.Next() {
		m, err := scanModuleFromRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - ListModules rows failed: %w", repoLogPrefix, err)
	}
	return out, nil
}

// ListModuleNamesForGroup returns the names of the modules in a module group.
func (r *Repository) ListModuleNamesForGroup(ctx context.Context, group string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT name FROM provider_modules WHERE module_group_name = $1 ORDER BY name`, group)
	if err != nil {
		return nil, fmt.Errorf("%s - ListModuleNamesForGroup failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s - ListModuleNamesForGroup scan failed: %w", repoLogPrefix, err)
	}
	return names, nil
}

// UpsertModule creates or replaces a provider module registration.
func (r *Repository) UpsertModule(ctx context.Context, m ProviderModuleRow) (*ProviderModuleRow, error) {
	slog.Info(fmt.Sprintf("%s - UpsertModule name=%s", repoLogPrefix, m.Name))

	now := time.Now().UTC()
	row := r.pool.QueryRow(ctx,
		`INSERT INTO provider_modules
		   (name, vendor, version, interface_type, interface_version, location,
		    user_context, designated_user_context, module_group_name, bitness, operational_status,
		    created, modified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		 ON CONFLICT (name) DO UPDATE SET
		   vendor = EXCLUDED.vendor,
		   version = EXCLUDED.version,
		   interface_type = EXCLUDED.interface_type,
		   interface_version = EXCLUDED.interface_version,
		   location = EXCLUDED.location,
		   user_context = EXCLUDED.user_context,
		   designated_user_context = EXCLUDED.designated_user_context,
		   module_group_name = EXCLUDED.module_group_name,
		   bitness = EXCLUDED.bitness,
		   operational_status = EXCLUDED.operational_status,
		   modified = EXCLUDED.modified
		 RETURNING `+moduleColumns,
		m.Name, m.Vendor, m.Version, m.InterfaceType, m.InterfaceVersion, m.Location,
		m.UserContext, m.DesignatedUserContext, m.ModuleGroupName, m.Bitness, m.OperationalStatus,
		now)
	return scanModule(row)
}

// DeleteModule removes a module and, by cascade, its providers and consumer
// bindings. It reports whether a module was removed.
func (r *Repository) DeleteModule(ctx context.Context, name string) (bool, error) {
	slog.Info(fmt.Sprintf("%s - DeleteModule name=%s", repoLogPrefix, name))

	tag, err := r.pool.Exec(ctx, `DELETE FROM provider_modules WHERE name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("%s - DeleteModule failed: %w", repoLogPrefix, err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateModuleStatus removes the statuses in remove from a module's
// OperationalStatus, appends those in add, and persists the result in one
// transaction. It returns nil, nil when the module does not exist.
func (r *Repository) UpdateModuleStatus(ctx context.Context, name string, remove, add []uint16) (*ProviderModuleRow, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s - begin tx: %w", repoLogPrefix, err)
	}
	defer tx.Rollback(ctx)

	var current []int32
	err = tx.QueryRow(ctx,
		`SELECT operational_status FROM provider_modules WHERE name = $1 FOR UPDATE`, name).Scan(&current)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - UpdateModuleStatus select failed: %w", repoLogPrefix, err)
	}

	next := toInt32s(cim.ApplyStatus(fromInt32s(current), remove, add))
	row := tx.QueryRow(ctx,
		`UPDATE provider_modules SET operational_status = $2, modified = $3
		 WHERE name = $1
		 RETURNING `+moduleColumns,
		name, next, time.Now().UTC())
	m, err := scanModule(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s - commit: %w", repoLogPrefix, err)
	}
	slog.Debug(fmt.Sprintf("%s - UpdateModuleStatus name=%s status=%v", repoLogPrefix, name, m.OperationalStatus))
	return m, nil
}

// =========================================================================
// PROVIDER OPERATIONS
// =========================================================================

// UpsertProvider registers a provider in a module.
func (r *Repository) UpsertProvider(ctx context.Context, moduleName, name string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO providers (module_name, name) VALUES ($1, $2)
		 ON CONFLICT (module_name, name) DO NOTHING`, moduleName, name)
	if err != nil {
		return fmt.Errorf("%s - UpsertProvider %s/%s failed: %w", repoLogPrefix, moduleName, name, err)
	}
	return nil
}

// ListProviders returns the providers of a module ordered by name.
func (r *Repository) ListProviders(ctx context.Context, moduleName string) ([]ProviderRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT module_name, name, created FROM providers WHERE module_name = $1 ORDER BY name`, moduleName)
	if err != nil {
		return nil, fmt.Errorf("%s - ListProviders failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []ProviderRow
	for rows.Next() {
		var p ProviderRow
		if err := rows.Scan(&p.ModuleName, &p.Name, &p.Created); err != nil {
			return nil, fmt.Errorf("%s - ListProviders scan failed: %w", repoLogPrefix, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =========================================================================
// INDICATION CONSUMER OPERATIONS
// =========================================================================

// LookupIndicationConsumer finds the consumer bound to a destination. It
// returns nil, nil when there is none.
func (r *Repository) LookupIndicationConsumer(ctx context.Context, destination string) (*IndicationConsumerRow, error) {
	var c IndicationConsumerRow
	err := r.pool.QueryRow(ctx,
		`SELECT destination, module_name, provider_name, created
		 FROM indication_consumers WHERE destination = $1`, destination).
		Scan(&c.Destination, &c.ModuleName, &c.ProviderName, &c.Created)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - LookupIndicationConsumer failed: %w", repoLogPrefix, err)
	}
	return &c, nil
}

// UpsertIndicationConsumer binds a destination to a consumer provider.
func (r *Repository) UpsertIndicationConsumer(ctx context.Context, c IndicationConsumerRow) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO indication_consumers (destination, module_name, provider_name)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (destination) DO UPDATE SET
		   module_name = EXCLUDED.module_name,
		   provider_name = EXCLUDED.provider_name`,
		c.Destination, c.ModuleName, c.ProviderName)
	if err != nil {
		return fmt.Errorf("%s - UpsertIndicationConsumer %s failed: %w", repoLogPrefix, c.Destination, err)
	}
	return nil
}

// =========================================================================
// SCAN HELPERS
// =========================================================================

func scanModule(row pgx.Row) (*ProviderModuleRow, error) {
	var m ProviderModuleRow
	err := row.Scan(
		&m.Name, &m.Vendor, &m.Version, &m.InterfaceType, &m.InterfaceVersion, &m.Location,
		&m.UserContext, &m.DesignatedUserContext, &m.ModuleGroupName, &m.Bitness, &m.OperationalStatus,
		&m.Created, &m.Modified,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - scan module failed: %w", repoLogPrefix, err)
	}
	return &m, nil
}

func scanModuleFromRows(rows pgx.Rows) (*ProviderModuleRow, error) {
	var m ProviderModuleRow
	err := rows.Scan(
		&m.Name, &m.Vendor, &m.Version, &m.InterfaceType, &m.InterfaceVersion, &m.Location,
		&m.UserContext, &m.DesignatedUserContext, &m.ModuleGroupName, &m.Bitness, &m.OperationalStatus,
		&m.Created, &m.Modified,
	)
	if err != nil {
		return nil, fmt.Errorf("%s - scan module from rows failed: %w", repoLogPrefix, err)
	}
	return &m, nil
}
