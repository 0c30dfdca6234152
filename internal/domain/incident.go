package domain

import "time"

// Coord is a WGS84 position in decimal degrees.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Incident is one security incident record as stored by the ingestion side.
// Only the geocode fields, GeocodedAt and HeatWeight are written by enrichment.
type Incident struct {
	ID         int64
	Address    string
	District   string // optional per-record override of the default district
	Type       string
	Outcome    string
	OccurredAt *time.Time
	ZoneID     *int64

	Geocode    Outcome
	GeocodedAt *time.Time
	HeatWeight float64
}

// HeatPoint is the projection of an enriched incident consumed by heat maps.
type HeatPoint struct {
	IncidentID int64      `json:"incident_id"`
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	Weight     float64    `json:"weight"`
	Status     Status     `json:"status"`
	Precision  Precision  `json:"precision"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
	GeocodedAt *time.Time `json:"geocoded_at,omitempty"`
}

// HeatPoint returns the heat-map projection of the incident, or false when
// the incident has no coordinates yet.
func (i Incident) HeatPoint() (HeatPoint, bool) {
	c, ok := i.Geocode.Coord()
	if !ok {
		return HeatPoint{}, false
	}
	return HeatPoint{
		IncidentID: i.ID,
		Lat:        c.Lat,
		Lon:        c.Lon,
		Weight:     i.HeatWeight,
		Status:     i.Geocode.Status(),
		Precision:  i.Geocode.Precision(),
		OccurredAt: i.OccurredAt,
		GeocodedAt: i.GeocodedAt,
	}, true
}

// Zone is a named area with a representative centroid.
type Zone struct {
	ID       int64  `yaml:"id"`
	Name     string `yaml:"name"`
	Centroid Coord  `yaml:",inline"`
}

// CacheEntry is a normalized address resolved to coordinates.
type CacheEntry struct {
	Address   string
	Coord     *Coord
	Source    string
	Precision Precision
	UpdatedAt time.Time
}

// Selection picks which incidents a batch run loads.
type Selection int

const (
	// SelectPending loads incidents lacking coordinates or still pending/fail.
	SelectPending Selection = iota
	// SelectForced loads every incident except approx ones.
	SelectForced
	// SelectForcedWithApprox loads every incident.
	SelectForcedWithApprox
	// SelectMissingCoords loads incidents with a null latitude or longitude.
	SelectMissingCoords
	// SelectAll loads every incident for weight-only passes.
	SelectAll
)

// IncidentQuery bounds a selection in ascending id order.
type IncidentQuery struct {
	Selection Selection
	Limit     int
	Offset    int
}

// RunSummary reports what one batch run did.
type RunSummary struct {
	RunID        string         `json:"run_id"`
	StartedAt    time.Time      `json:"started_at"`
	Duration     time.Duration  `json:"duration_ns"`
	Selected     int            `json:"selected"`
	Updated      int            `json:"updated"`
	Commits      int            `json:"commits"`
	DryRun       bool           `json:"dry_run"`
	ByStatus     map[Status]int `json:"by_status"`
	ByResolution map[string]int `json:"by_resolution"`
}
