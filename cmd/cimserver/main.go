// Package main is the entrypoint for the cim-broker (binary name "cimserver").
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"

	"github.com/morezero/cim-broker/internal/config"
	"github.com/morezero/cim-broker/internal/server"
	"github.com/morezero/cim-broker/pkg/db"
)

const usage = `Usage: cimserver [command]
       cimserver serve                  Start the provider manager service (NATS, HTTP, dispatcher).
       cimserver agent                  Run a provider agent for AGENT_GROUP.
       cimserver migrate up             Run database migrations.
       cimserver migrate down           Roll back the last applied migration.
       cimserver migrate status         Show migration status.
       cimserver ensure-db [name]       Create database if missing (default name: cimbroker_test). Uses DATABASE_URL host/user.
       cimserver clear                  Truncate all registration tables; schema is preserved.
       cimserver seed [file]            Seed provider modules from a YAML bootstrap file.
       cimserver decode [--hex] <file>  Print a binary request or response message as JSON.

Commands:
  serve           (default) Start the provider manager service.
  agent           Host the providers of one module group in this process.
  migrate up      Run database migrations only.
  migrate down    Roll back the last migration that has a .down.sql script.
  migrate status  Show current migration status.
  ensure-db [name] Create database (e.g. cimbroker_test) on same host as DATABASE_URL.
  clear           Truncate registration data; schema preserved.
  seed [file]     Seed provider modules, providers and consumers (default BOOTSTRAP_FILE).
  decode          Decode a message; --hex reads hexadecimal text instead of raw bytes.

Environment: COMMS_URL, DATABASE_URL (empty keeps registrations in memory), MIGRATION_PATH,
BOOTSTRAP_FILE, AGENT_GROUP, AGENT_USER. See README for the full list.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("cimserver migrate: require subcommand (up, down, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("cimserver migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("cimserver migrate status: %v", err)
			}
		case "down":
			if err := runMigrateDown(); err != nil {
				log.Fatalf("cimserver migrate down: %v", err)
			}
		default:
			log.Fatalf("cimserver migrate: unknown subcommand %q (use up, down, status)", sub)
		}
		return
	case "agent":
		if err := server.RunAgent(); err != nil {
			log.Fatalf("cimserver agent: %v", err)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("cimserver clear: %v", err)
		}
		return
	case "seed":
		bootstrapFile := ""
		if len(args) > 1 {
			bootstrapFile = args[1]
		}
		if err := runSeed(bootstrapFile); err != nil {
			log.Fatalf("cimserver seed: %v", err)
		}
		return
	case "ensure-db":
		dbName := "cimbroker_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("cimserver ensure-db: %v", err)
		}
		return
	case "decode":
		if err := runDecode(args[1:], os.Stdout); err != nil {
			log.Fatalf("cimserver decode: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("cimserver: %v", err)
	}
}

func loadDBConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runMigrateUp() error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrations, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	n, err := db.RunMigrations(ctx, pool, migrations)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	fmt.Printf("Applied %d migration(s).\n", n)
	return nil
}

func runMigrateStatus() error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrations, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	states, err := db.MigrationStatus(ctx, pool, migrations)
	if err != nil {
		return err
	}
	printMigrationStatus(os.Stdout, states)
	return nil
}

func printMigrationStatus(w io.Writer, states []db.MigrationState) {
	if len(states) == 0 {
		fmt.Fprintln(w, "No migrations found.")
		return
	}
	for _, st := range states {
		status := "pending"
		if st.Applied {
			status = "applied"
		}
		down := ""
		if !st.Reversible {
			down = " (irreversible)"
		}
		fmt.Fprintf(w, "%-40s %s%s\n", st.Version, status, down)
	}
}

func runMigrateDown() error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrations, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	version, err := db.MigrationDown(ctx, pool, migrations)
	if err != nil {
		return err
	}
	if version == "" {
		fmt.Println("No applied migrations to roll back.")
	} else {
		fmt.Printf("Rolled back %s.\n", version)
	}
	return nil
}

func runClear() error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := db.ClearRegistrations(ctx, pool); err != nil {
		return fmt.Errorf("clear registrations: %w", err)
	}
	return nil
}

// targetDatabaseURL replaces the database name of databaseURL, keeping the
// query (e.g. sslmode).
func targetDatabaseURL(databaseURL, dbName string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	targetURL, err := targetDatabaseURL(cfg.DatabaseURL, dbName)
	if err != nil {
		return err
	}
	if err := db.EnsureDatabase(context.Background(), targetURL); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}

func runSeed(bootstrapFileOverride string) error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	bootstrapPath := bootstrapFileOverride
	if bootstrapPath == "" {
		bootstrapPath = cfg.BootstrapFile
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := db.SeedBootstrap(ctx, pool, bootstrapPath); err != nil {
		return fmt.Errorf("seed bootstrap: %w", err)
	}
	return nil
}
