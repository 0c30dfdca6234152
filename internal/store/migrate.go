package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// MigrationResult reports the schema version before and after Migrate.
type MigrationResult struct {
	From    uint `json:"from"`
	To      uint `json:"to"`
	Changed bool `json:"changed"`
}

// Migrate applies the embedded migrations on a dedicated connection.
//   - targetVersion < 0 migrates to the latest version.
//   - targetVersion == 0 rolls every migration back.
//   - targetVersion > 0 migrates up or down to that version.
//
// SQLite in-memory databases cannot be migrated this way because the
// connection is closed afterwards; use a file path.
func Migrate(backend Backend, dsn string, targetVersion int) (MigrationResult, error) {
	if _, err := ParseBackend(string(backend)); err != nil {
		return MigrationResult{}, err
	}

	db, err := sql.Open(backend.driverName(), dsn)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("open %s database: %w", backend, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return MigrationResult{}, fmt.Errorf("connect to %s database: %w", backend, err)
	}

	var driver database.Driver
	switch backend {
	case SQLite:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	case Postgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	}
	if err != nil {
		_ = db.Close()
		return MigrationResult{}, fmt.Errorf("create %s migrate driver: %w", backend, err)
	}

	sub, err := fs.Sub(migrationsFS, "migrations/"+string(backend))
	if err != nil {
		_ = db.Close()
		return MigrationResult{}, fmt.Errorf("access migrations directory: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		_ = db.Close()
		return MigrationResult{}, fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(backend), driver)
	if err != nil {
		_ = db.Close()
		return MigrationResult{}, fmt.Errorf("create migrate instance: %w", err)
	}
	// Closes the source and the database driver, which closes db.
	defer func() { _, _ = m.Close() }()

	current, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationResult{}, fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return MigrationResult{}, fmt.Errorf("database is in a dirty state at version %d; fix manually or force the version", current)
	}

	switch {
	case targetVersion < 0:
		err = m.Up()
	case targetVersion == 0:
		err = m.Down()
	default:
		err = m.Migrate(uint(targetVersion))
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return MigrationResult{From: current, To: current}, nil
	}
	if err != nil {
		return MigrationResult{}, fmt.Errorf("migrate from version %d: %w", current, err)
	}

	to, _, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		to, err = 0, nil
	}
	if err != nil {
		return MigrationResult{}, fmt.Errorf("read migration version: %w", err)
	}
	return MigrationResult{From: current, To: to, Changed: true}, nil
}
