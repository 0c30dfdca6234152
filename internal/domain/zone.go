package domain

import "fmt"

// DemoCenter anchors the demo zones used when no zone file is given.
var DemoCenter = Coord{Lat: -16.409, Lon: -71.535}

// DemoZones returns seven zones spread around DemoCenter.
func DemoZones() []Zone {
	offsets := []struct{ dLon, dLat float64 }{
		{0, 0},
		{0.01, 0},
		{-0.01, 0},
		{0, 0.01},
		{0, -0.01},
		{0.008, 0.008},
		{-0.008, -0.008},
	}
	zones := make([]Zone, 0, len(offsets))
	for i, o := range offsets {
		zones = append(zones, Zone{
			ID:       int64(i + 1),
			Name:     fmt.Sprintf("Z%d", i+1),
			Centroid: Coord{Lat: DemoCenter.Lat + o.dLat, Lon: DemoCenter.Lon + o.dLon},
		})
	}
	return zones
}

// Validate checks that a zone can serve as a fallback.
func (z Zone) Validate() error {
	if z.ID <= 0 {
		return fmt.Errorf("zone %q: id must be positive", z.Name)
	}
	if !z.Centroid.Valid() {
		return fmt.Errorf("zone %d: centroid %v out of range", z.ID, z.Centroid)
	}
	return nil
}
