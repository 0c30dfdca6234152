package store

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/incident-heat-etl/internal/domain"
)

// StatusCounts returns the number of incidents per geocode status.
func (d *DB) StatusCounts(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+statusExpr+` AS status, COUNT(*) FROM incidents GROUP BY `+statusExpr)
	if err != nil {
		return nil, fmt.Errorf("count incidents by status: %w", err)
	}
	defer rows.Close()

	counts := map[domain.Status]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.Status(status)] = n
	}
	return counts, rows.Err()
}

// HeatPoints returns every geocoded incident as a heat point in id order,
// optionally restricted to incidents that occurred at or after since.
func (d *DB) HeatPoints(ctx context.Context, since *time.Time) ([]domain.HeatPoint, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL AND ` + statusExpr + ` IN ('ok', 'approx')`
	var args []any
	if since != nil {
		query += ` AND occurred_at >= ?`
		args = append(args, since.Unix())
	}
	query += ` ORDER BY id`

	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select heat points: %w", err)
	}
	defer rows.Close()

	var points []domain.HeatPoint
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		if p, ok := inc.HeatPoint(); ok {
			points = append(points, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate heat points: %w", err)
	}
	return points, nil
}
