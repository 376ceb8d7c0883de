package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var announcementMigrations embed.FS

// RunMigrations brings the announcement log schema up to date and returns the
// schema version it ends on. Running it against a current schema is a no-op.
// A schema left dirty by an interrupted migration is reported as an error.
func RunMigrations(db *sql.DB) (uint, error) {
	src, err := iofs.New(announcementMigrations, "migrations")
	if err != nil {
		return 0, fmt.Errorf("load announcement migrations: %w", err)
	}

	target, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("attach announcement log: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", target)
	if err != nil {
		return 0, fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate announcement log: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("announcement log schema version %d is dirty", version)
	}

	return version, nil
}
