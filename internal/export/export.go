// Package export writes geocoded heat points to Parquet files for offline
// heat-map tooling.
package export

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/couchcryptid/incident-heat-etl/internal/domain"
	"github.com/parquet-go/parquet-go"
)

// CellLevel is the S2 level of the exported cell ids, roughly 280 m across.
const CellLevel = 15

// HeatPointRow is one heat point as written to Parquet.
type HeatPointRow struct {
	IncidentID int64      `parquet:"incident_id,snappy"`
	Lat        float64    `parquet:"lat,snappy"`
	Lon        float64    `parquet:"lon,snappy"`
	Weight     float64    `parquet:"weight,snappy"`
	Status     string     `parquet:"geocode_status,snappy,dict"`
	Precision  string     `parquet:"geocode_precision,snappy,dict"`
	OccurredAt *time.Time `parquet:"occurred_at,optional,snappy"`
	GeocodedAt *time.Time `parquet:"geocoded_at,optional,snappy"`
	CellID     uint64     `parquet:"s2_cell,snappy"`
}

// Rows converts heat points to Parquet rows.
func Rows(points []domain.HeatPoint) []HeatPointRow {
	rows := make([]HeatPointRow, len(points))
	for i, p := range points {
		rows[i] = HeatPointRow{
			IncidentID: p.IncidentID,
			Lat:        p.Lat,
			Lon:        p.Lon,
			Weight:     p.Weight,
			Status:     string(p.Status),
			Precision:  string(p.Precision),
			OccurredAt: p.OccurredAt,
			GeocodedAt: p.GeocodedAt,
			CellID:     domain.CellID(domain.Coord{Lat: p.Lat, Lon: p.Lon}, CellLevel),
		}
	}
	return rows
}

// WriteParquet writes points to w as a single Parquet file.
func WriteParquet(w io.Writer, points []domain.HeatPoint) error {
	writer := parquet.NewGenericWriter[HeatPointRow](w)
	if _, err := writer.Write(Rows(points)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write heat points: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// WriteParquetFile creates path and writes points to it.
func WriteParquetFile(path string, points []domain.HeatPoint) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output file: %w", cerr)
		}
	}()
	return WriteParquet(file, points)
}
