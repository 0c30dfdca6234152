package domain

import "context"

// GeocodeResult is a coordinate returned by a geocoding provider.
type GeocodeResult struct {
	Coord     Coord
	Precision Precision
	Source    string // provider name, stored as the incident's geocode method
	PlaceType string // raw provider place type, for logs
}

// Geocoder resolves a normalized address to coordinates. A false return means
// not found: transport errors, non-success responses and empty result sets
// all collapse into it and are never returned as errors.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (GeocodeResult, bool)
}
