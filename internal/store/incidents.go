package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/couchcryptid/incident-heat-etl/internal/domain"
)

const incidentColumns = `id, occurrence_address, occurrence_district, occurrence_type, outcome,
	occurred_at, zone_id, latitude, longitude, geocode_status, geocode_precision,
	geocode_method, geocoded_at, heat_weight`

const statusExpr = `COALESCE(geocode_status, 'pending')`

var selectionFilters = map[domain.Selection]string{
	domain.SelectPending: `(latitude IS NULL OR longitude IS NULL OR ` + statusExpr + ` IN ('pending', 'fail'))
		AND ` + statusExpr + ` NOT IN ('ok', 'approx')`,
	domain.SelectForced:           statusExpr + ` <> 'approx'`,
	domain.SelectForcedWithApprox: `1 = 1`,
	domain.SelectMissingCoords:    `latitude IS NULL OR longitude IS NULL`,
	domain.SelectAll:              `1 = 1`,
}

// SelectIncidents loads incidents matching q in ascending id order.
// A non-positive limit means no limit.
func (d *DB) SelectIncidents(ctx context.Context, q domain.IncidentQuery) ([]domain.Incident, error) {
	filter, ok := selectionFilters[q.Selection]
	if !ok {
		return nil, fmt.Errorf("unknown incident selection %d", q.Selection)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = math.MaxInt32
	}
	offset := max(q.Offset, 0)

	query := d.rebind(`SELECT ` + incidentColumns + ` FROM incidents WHERE (` + filter + `) ORDER BY id LIMIT ? OFFSET ?`)
	rows, err := d.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("select incidents: %w", err)
	}
	defer rows.Close()

	var out []domain.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return out, nil
}

// SaveEnrichments writes the geocode fields, geocoded_at and heat weight of
// every incident in one transaction.
func (d *DB) SaveEnrichments(ctx context.Context, incidents []domain.Incident) error {
	if len(incidents) == 0 {
		return nil
	}
	query := d.rebind(`UPDATE incidents SET latitude = ?, longitude = ?, geocode_status = ?,
		geocode_precision = ?, geocode_method = ?, geocoded_at = ?, heat_weight = ? WHERE id = ?`)

	return d.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare enrichment update: %w", err)
		}
		defer stmt.Close()

		for _, inc := range incidents {
			var lat, lon *float64
			if c, ok := inc.Geocode.Coord(); ok {
				lat, lon = &c.Lat, &c.Lon
			}
			if _, err := stmt.ExecContext(ctx,
				nullFloat(lat), nullFloat(lon),
				string(inc.Geocode.Status()), string(inc.Geocode.Precision()), inc.Geocode.Method(),
				nullUnix(inc.GeocodedAt), inc.HeatWeight, inc.ID,
			); err != nil {
				return fmt.Errorf("update incident %d: %w", inc.ID, err)
			}
		}
		return nil
	})
}

// SaveWeights writes only the heat weight of every incident in one transaction.
func (d *DB) SaveWeights(ctx context.Context, incidents []domain.Incident) error {
	if len(incidents) == 0 {
		return nil
	}
	query := d.rebind(`UPDATE incidents SET heat_weight = ? WHERE id = ?`)

	return d.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare weight update: %w", err)
		}
		defer stmt.Close()

		for _, inc := range incidents {
			if _, err := stmt.ExecContext(ctx, inc.HeatWeight, inc.ID); err != nil {
				return fmt.Errorf("update weight of incident %d: %w", inc.ID, err)
			}
		}
		return nil
	})
}

// InsertIncidents adds raw incidents the way the ingestion side does, with
// geocode fields at their defaults.
func (d *DB) InsertIncidents(ctx context.Context, incidents []domain.Incident) error {
	query := d.rebind(`INSERT INTO incidents (id, occurrence_address, occurrence_district,
		occurrence_type, outcome, occurred_at, zone_id) VALUES (?, ?, ?, ?, ?, ?, ?)`)

	return d.inTx(ctx, func(tx *sql.Tx) error {
		for _, inc := range incidents {
			var zone sql.NullInt64
			if inc.ZoneID != nil {
				zone = sql.NullInt64{Int64: *inc.ZoneID, Valid: true}
			}
			if _, err := tx.ExecContext(ctx, query,
				inc.ID, nullString(inc.Address), nullString(inc.District),
				nullString(inc.Type), nullString(inc.Outcome), nullUnix(inc.OccurredAt), zone,
			); err != nil {
				return fmt.Errorf("insert incident %d: %w", inc.ID, err)
			}
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIncident(row scanner) (domain.Incident, error) {
	var (
		inc                             domain.Incident
		address, district, typ, outcome sql.NullString
		status, precision, method       sql.NullString
		occurredAt, zoneID, geocodedAt  sql.NullInt64
		lat, lon, weight                sql.NullFloat64
	)
	if err := row.Scan(&inc.ID, &address, &district, &typ, &outcome,
		&occurredAt, &zoneID, &lat, &lon, &status, &precision,
		&method, &geocodedAt, &weight); err != nil {
		return domain.Incident{}, fmt.Errorf("scan incident: %w", err)
	}

	inc.Address = address.String
	inc.District = district.String
	inc.Type = typ.String
	inc.Outcome = outcome.String
	inc.OccurredAt = fromUnix(occurredAt)
	inc.GeocodedAt = fromUnix(geocodedAt)
	inc.HeatWeight = weight.Float64
	if zoneID.Valid {
		z := zoneID.Int64
		inc.ZoneID = &z
	}

	var coord *domain.Coord
	if lat.Valid && lon.Valid {
		coord = &domain.Coord{Lat: lat.Float64, Lon: lon.Float64}
	}
	o, err := domain.RestoreOutcome(domain.Status(status.String), coord, domain.Precision(precision.String), method.String)
	if err != nil {
		// Rows whose stored fields disagree are treated as pending so the
		// next enrichment rewrites them.
		o = domain.Pending()
	}
	inc.Geocode = o
	return inc, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
