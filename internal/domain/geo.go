package domain

import "github.com/golang/geo/s2"

const earthRadiusKm = 6371.0088

// DistanceKm is the great-circle distance between two coordinates.
func DistanceKm(a, b Coord) float64 {
	return a.latLng().Distance(b.latLng()).Radians() * earthRadiusKm
}

// CellID returns the S2 cell containing c at the given level (0-30).
func CellID(c Coord, level int) uint64 {
	return uint64(s2.CellIDFromLatLng(c.latLng()).Parent(level))
}

// Valid reports whether c lies within latitude and longitude bounds.
func (c Coord) Valid() bool {
	return c.latLng().IsValid()
}

func (c Coord) latLng() s2.LatLng {
	return s2.LatLngFromDegrees(c.Lat, c.Lon)
}
