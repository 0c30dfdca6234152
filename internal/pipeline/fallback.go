package pipeline

import (
	"context"
	"fmt"

	"github.com/couchcryptid/incident-heat-etl/internal/domain"
)

// ZoneStore reads zone centroids by zone id.
type ZoneStore interface {
	ZoneCentroid(ctx context.Context, zoneID int64) (domain.Coord, bool, error)
}

// CentroidFallback resolves an incident's zone to its centroid when the
// provider has nothing better.
type CentroidFallback struct {
	zones ZoneStore
}

// NewCentroidFallback creates a fallback over zones.
func NewCentroidFallback(zones ZoneStore) *CentroidFallback {
	return &CentroidFallback{zones: zones}
}

// Resolve returns the centroid of zoneID, or false when the incident has no
// zone, the zone is unknown or its centroid is out of range.
func (f *CentroidFallback) Resolve(ctx context.Context, zoneID *int64) (domain.Coord, bool, error) {
	if zoneID == nil || f.zones == nil {
		return domain.Coord{}, false, nil
	}
	c, ok, err := f.zones.ZoneCentroid(ctx, *zoneID)
	if err != nil {
		return domain.Coord{}, false, fmt.Errorf("zone %d centroid: %w", *zoneID, err)
	}
	if !ok || !c.Valid() {
		return domain.Coord{}, false, nil
	}
	return c, true, nil
}
