package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/cim-broker/pkg/bootstrap"
)

const seedBootstrapLogPrefix = "db:seed_bootstrap"

// SeedBootstrap loads the bootstrap file at path and writes its modules,
// providers and consumer bindings in one transaction. Existing modules keep
// their current OperationalStatus.
func SeedBootstrap(ctx context.Context, pool *pgxpool.Pool, bootstrapFilePath string) error {
	slog.Info(fmt.Sprintf("%s - seeding from %s", seedBootstrapLogPrefix, bootstrapFilePath))

	cfg, err := bootstrap.LoadBootstrapConfig(bootstrapFilePath)
	if err != nil {
		return fmt.Errorf("%s - load bootstrap config: %w", seedBootstrapLogPrefix, err)
	}
	rb, err := bootstrap.CreateResolvedBootstrap(cfg)
	if err != nil {
		return fmt.Errorf("%s - resolve bootstrap config: %w", seedBootstrapLogPrefix, err)
	}
	if len(rb.Modules()) == 0 {
		slog.Info(fmt.Sprintf("%s - no provider modules to seed", seedBootstrapLogPrefix))
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s - begin tx: %w", seedBootstrapLogPrefix, err)
	}
	defer tx.Rollback(ctx)

	for _, m := range rb.Modules() {
		row := ModuleRow(m)
		_, err := tx.Exec(ctx,
			`INSERT INTO provider_modules
			   (name, vendor, version, interface_type, interface_version, location,
			    user_context, designated_user_context, module_group_name, bitness, operational_status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
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
			   modified = NOW()`,
			row.Name, row.Vendor, row.Version, row.InterfaceType, row.InterfaceVersion, row.Location,
			row.UserContext, row.DesignatedUserContext, row.ModuleGroupName, row.Bitness, row.OperationalStatus)
		if err != nil {
			return fmt.Errorf("%s - insert module %s: %w", seedBootstrapLogPrefix, m.Name, err)
		}
	}

	for _, p := range rb.Providers() {
		_, err := tx.Exec(ctx,
			`INSERT INTO providers (module_name, name) VALUES ($1, $2)
			 ON CONFLICT (module_name, name) DO NOTHING`, p.ProviderModuleName, p.Name)
		if err != nil {
			return fmt.Errorf("%s - insert provider %s/%s: %w", seedBootstrapLogPrefix, p.ProviderModuleName, p.Name, err)
		}
	}

	for _, c := range rb.Consumers() {
		_, err := tx.Exec(ctx,
			`INSERT INTO indication_consumers (destination, module_name, provider_name)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (destination) DO UPDATE SET
			   module_name = EXCLUDED.module_name,
			   provider_name = EXCLUDED.provider_name`,
			c.Destination, c.Module, c.Provider)
		if err != nil {
			return fmt.Errorf("%s - insert consumer %s: %w", seedBootstrapLogPrefix, c.Destination, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s - commit: %w", seedBootstrapLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - seeded %d modules, %d providers, %d consumers", seedBootstrapLogPrefix,
		len(rb.Modules()), len(rb.Providers()), len(rb.Consumers())))
	return nil
}
