package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres:// driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationResult reports the schema version after a migration run.
type MigrationResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate applies embedded migrations to databaseURL. steps > 0 applies that many
// up migrations, steps < 0 rolls back that many, and steps == 0 applies all pending ones.
func Migrate(databaseURL string, steps int) (*MigrationResult, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if steps == 0 {
		err = m.Up()
	} else {
		err = m.Steps(steps)
	}

	result := &MigrationResult{Changed: true}
	if errors.Is(err, migrate.ErrNoChange) {
		result.Changed = false
	} else if err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, fmt.Errorf("read migration version: %w", err)
	}
	result.Version = version
	result.Dirty = dirty

	return result, nil
}
