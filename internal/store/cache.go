package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/incident-heat-etl/internal/domain"
)

// GetCacheEntry reads the durable cache entry for a normalized address.
func (d *DB) GetCacheEntry(ctx context.Context, address string) (domain.CacheEntry, bool, error) {
	var (
		lat, lon          sql.NullFloat64
		source, precision string
		updatedAt         int64
	)
	query := d.rebind(`SELECT latitude, longitude, source, geocode_precision, updated_at
		FROM geocode_cache WHERE address = ?`)
	err := d.db.QueryRowContext(ctx, query, address).Scan(&lat, &lon, &source, &precision, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CacheEntry{}, false, nil
	}
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("read geocode cache: %w", err)
	}

	e := domain.CacheEntry{
		Address:   address,
		Source:    source,
		Precision: domain.Precision(precision),
		UpdatedAt: time.Unix(updatedAt, 0).UTC(),
	}
	if lat.Valid && lon.Valid {
		e.Coord = &domain.Coord{Lat: lat.Float64, Lon: lon.Float64}
	}
	return e, true, nil
}

// UpsertCacheEntry inserts the entry or replaces the existing row for its
// address in place.
func (d *DB) UpsertCacheEntry(ctx context.Context, e domain.CacheEntry) error {
	var lat, lon *float64
	if e.Coord != nil {
		lat, lon = &e.Coord.Lat, &e.Coord.Lon
	}
	query := d.rebind(`INSERT INTO geocode_cache (address, latitude, longitude, source, geocode_precision, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			source = excluded.source,
			geocode_precision = excluded.geocode_precision,
			updated_at = excluded.updated_at`)
	if _, err := d.db.ExecContext(ctx, query,
		e.Address, nullFloat(lat), nullFloat(lon), e.Source, string(e.Precision), e.UpdatedAt.Unix(),
	); err != nil {
		return fmt.Errorf("upsert geocode cache: %w", err)
	}
	return nil
}

// CountCacheEntries returns the number of cached addresses.
func (d *DB) CountCacheEntries(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM geocode_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count geocode cache: %w", err)
	}
	return n, nil
}
