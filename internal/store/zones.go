package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/couchcryptid/incident-heat-etl/internal/domain"
)

// ZoneCentroid returns the centroid of a zone, or false when the zone does
// not exist.
func (d *DB) ZoneCentroid(ctx context.Context, zoneID int64) (domain.Coord, bool, error) {
	var lat, lon sql.NullFloat64
	query := d.rebind(`SELECT centroid_lat, centroid_lon FROM zones WHERE id = ?`)
	err := d.db.QueryRowContext(ctx, query, zoneID).Scan(&lat, &lon)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Coord{}, false, nil
	}
	if err != nil {
		return domain.Coord{}, false, fmt.Errorf("read zone %d: %w", zoneID, err)
	}
	if !lat.Valid || !lon.Valid {
		return domain.Coord{}, false, nil
	}
	return domain.Coord{Lat: lat.Float64, Lon: lon.Float64}, true, nil
}

// UpsertZones inserts or updates zones by id and reports how many were new.
func (d *DB) UpsertZones(ctx context.Context, zones []domain.Zone) (inserted int, err error) {
	exists := d.rebind(`SELECT COUNT(*) FROM zones WHERE id = ?`)
	upsert := d.rebind(`INSERT INTO zones (id, name, centroid_lat, centroid_lon) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			centroid_lat = excluded.centroid_lat,
			centroid_lon = excluded.centroid_lon`)

	err = d.inTx(ctx, func(tx *sql.Tx) error {
		for _, z := range zones {
			if err := z.Validate(); err != nil {
				return err
			}
			var n int
			if err := tx.QueryRowContext(ctx, exists, z.ID).Scan(&n); err != nil {
				return fmt.Errorf("check zone %d: %w", z.ID, err)
			}
			if _, err := tx.ExecContext(ctx, upsert, z.ID, z.Name, z.Centroid.Lat, z.Centroid.Lon); err != nil {
				return fmt.Errorf("upsert zone %d: %w", z.ID, err)
			}
			if n == 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListZones returns every zone in id order.
func (d *DB) ListZones(ctx context.Context) ([]domain.Zone, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, name, centroid_lat, centroid_lon FROM zones ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	defer rows.Close()

	var zones []domain.Zone
	for rows.Next() {
		var z domain.Zone
		if err := rows.Scan(&z.ID, &z.Name, &z.Centroid.Lat, &z.Centroid.Lon); err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}
