// Package store persists incidents, zones and the durable geocode cache in
// SQLite or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver
)

// Backend selects the SQL dialect and driver.
type Backend string

const (
	SQLite   Backend = "sqlite"
	Postgres Backend = "postgres"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case SQLite, Postgres:
		return b, nil
	default:
		return "", fmt.Errorf("unsupported database backend %q: must be sqlite or postgres", s)
	}
}

func (b Backend) driverName() string {
	if b == Postgres {
		return "pgx"
	}
	return "sqlite"
}

// DB is the record store, zone store and durable cache tier.
type DB struct {
	db      *sql.DB
	backend Backend
}

// Open connects to the database and verifies the connection. The schema is
// not touched; run Migrate first.
func Open(ctx context.Context, backend Backend, dsn string) (*DB, error) {
	if _, err := ParseBackend(string(backend)); err != nil {
		return nil, err
	}

	db, err := sql.Open(backend.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", backend, err)
	}

	if backend == SQLite {
		// A single connection avoids "database is locked" errors.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to %s database: %w", backend, err)
	}

	return &DB{db: db, backend: backend}, nil
}

// Close releases the connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping verifies the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Backend reports the dialect in use.
func (d *DB) Backend() Backend {
	return d.backend
}

// rebind rewrites ? placeholders as $n for PostgreSQL. Queries must not
// contain literal question marks.
func (d *DB) rebind(query string) string {
	if d.backend != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// inTx runs fn inside a transaction, committing on success and rolling back
// on error or panic.
func (d *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
