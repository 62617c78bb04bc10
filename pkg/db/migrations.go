package db

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const migrationsLogPrefix = "db:migrations"

const downSuffix = ".down.sql"

// Migration is one schema step loaded from <version>.sql and the optional
// <version>.down.sql next to it.
type Migration struct {
	Version string
	Up      string
	// Down is empty when the step cannot be rolled back.
	Down string
}

// LoadMigrations reads the migrations in dir ordered by version.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	byVersion := make(map[string]*Migration)
	get := func(v string) *Migration {
		m, ok := byVersion[v]
		if !ok {
			m = &Migration{Version: v}
			byVersion[v] = m
		}
		return m
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".sql" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, name, err)
		}
		if v, ok := strings.CutSuffix(name, downSuffix); ok {
			get(v).Down = string(data)
		} else {
			get(strings.TrimSuffix(name, ".sql")).Up = string(data)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("%s - %s%s has no up migration", migrationsLogPrefix, m.Version, downSuffix)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	slog.Info(fmt.Sprintf("%s - Loaded %d migrations from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

// ErrNoDownMigration is returned when the last applied migration has no
// down script.
var ErrNoDownMigration = errors.New("db: migration cannot be rolled back")

// MigrationState is the status of one migration.
type MigrationState struct {
	Version    string
	Applied    bool
	Reversible bool
}

func migrationStates(migrations []Migration, applied map[string]bool) []MigrationState {
	out := make([]MigrationState, len(migrations))
	for i, m := range migrations {
		out[i] = MigrationState{Version: m.Version, Applied: applied[m.Version], Reversible: m.Down != ""}
	}
	return out
}

func pendingMigrations(migrations []Migration, applied map[string]bool) []Migration {
	var out []Migration
	for _, m := range migrations {
		if !applied[m.Version] {
			out = append(out, m)
		}
	}
	return out
}

// lastApplied returns the highest applied migration.
func lastApplied(migrations []Migration, applied map[string]bool) (Migration, bool) {
	for i := len(migrations) - 1; i >= 0; i-- {
		if applied[migrations[i].Version] {
			return migrations[i], true
		}
	}
	return Migration{}, false
}
