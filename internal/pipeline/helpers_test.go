package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/incident-heat-etl/internal/domain"
	"github.com/couchcryptid/incident-heat-etl/internal/geocache"
	"github.com/couchcryptid/incident-heat-etl/internal/observability"
	"github.com/couchcryptid/incident-heat-etl/internal/pipeline"
	"github.com/couchcryptid/incident-heat-etl/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	nearCenter = domain.Coord{Lat: -16.4231, Lon: -71.5244}
	zoneOne    = domain.Coord{Lat: -16.409, Lon: -71.535}
)

// --- fakes ---

type fakeGeocoder struct {
	mu      sync.Mutex
	queries []string
	// resolve decides the answer for a query; nil means every query misses.
	resolve func(query string) (domain.GeocodeResult, bool)
	// onCall runs before resolve with the 1-based call number.
	onCall func(n int)
}

func (g *fakeGeocoder) Geocode(_ context.Context, query string) (domain.GeocodeResult, bool) {
	g.mu.Lock()
	g.queries = append(g.queries, query)
	n := len(g.queries)
	g.mu.Unlock()

	if g.onCall != nil {
		g.onCall(n)
	}
	if g.resolve == nil {
		return domain.GeocodeResult{}, false
	}
	return g.resolve(query)
}

func (g *fakeGeocoder) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queries)
}

func alwaysHit(c domain.Coord, p domain.Precision) func(string) (domain.GeocodeResult, bool) {
	return func(string) (domain.GeocodeResult, bool) {
		return domain.GeocodeResult{Coord: c, Precision: p, Source: "nominatim", PlaceType: "house"}, true
	}
}

type memCache struct {
	entries   map[string]domain.CacheEntry
	stores    int
	lookupErr error
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]domain.CacheEntry)}
}

func (c *memCache) Lookup(_ context.Context, address string) (domain.CacheEntry, bool, error) {
	if c.lookupErr != nil {
		return domain.CacheEntry{}, false, c.lookupErr
	}
	e, ok := c.entries[address]
	return e, ok, nil
}

func (c *memCache) Store(_ context.Context, address string, coord domain.Coord, source string, precision domain.Precision) error {
	c.stores++
	c.entries[address] = domain.CacheEntry{
		Address:   address,
		Coord:     &coord,
		Source:    source,
		Precision: precision,
		UpdatedAt: domain.Now(),
	}
	return nil
}

type mapZones map[int64]domain.Coord

func (z mapZones) ZoneCentroid(_ context.Context, id int64) (domain.Coord, bool, error) {
	c, ok := z[id]
	return c, ok, nil
}

type failingStore struct {
	pipeline.RecordStore
	err error
}

func (s failingStore) SelectIncidents(context.Context, domain.IncidentQuery) ([]domain.Incident, error) {
	return nil, s.err
}

var errStoreDown = errors.New("store unreachable")

// cancellingStore cancels the run's context while the selection query is in
// flight and fails the way a driver does on cancellation.
type cancellingStore struct {
	pipeline.RecordStore
	cancel context.CancelFunc
}

func (s cancellingStore) SelectIncidents(ctx context.Context, _ domain.IncidentQuery) ([]domain.Incident, error) {
	s.cancel()
	return nil, ctx.Err()
}

type capturePublisher struct {
	batches [][]domain.HeatPoint
	err     error
}

func (p *capturePublisher) PublishHeatPoints(_ context.Context, points []domain.HeatPoint) error {
	p.batches = append(p.batches, points)
	return p.err
}

// --- helpers ---

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testNormalizer() *domain.Normalizer {
	return domain.NewNormalizer(domain.Locality{
		District: "José Luis Bustamante y Rivero",
		Province: "Arequipa",
		Country:  "Peru",
	})
}

// freezeClock pins the domain clock to testNow for the duration of the test.
func freezeClock(t *testing.T) *clockwork.FakeClock {
	t.Helper()
	clk := clockwork.NewFakeClockAt(testNow)
	domain.SetClock(clk)
	t.Cleanup(func() { domain.SetClock(nil) })
	return clk
}

func openStore(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "incidents.db")

	_, err := store.Migrate(store.SQLite, path, -1)
	require.NoError(t, err)

	db, err := store.Open(context.Background(), store.SQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func ptr[T any](v T) *T { return &v }

// seedStore inserts five pending incidents and one zone. Incident 3 has no
// address and falls back to zone 1; incident 5 has neither a provider hit
// nor a zone when the geocoder misses.
func seedStore(t *testing.T, db *store.DB) {
	t.Helper()
	ctx := context.Background()
	occurred := testNow.AddDate(0, 0, -10)
	incidents := []domain.Incident{
		{ID: 1, Address: "Av. Ejército 1020", Type: "Robo agravado", Outcome: "consumado", OccurredAt: &occurred, ZoneID: ptr(int64(1))},
		{ID: 2, Address: "Jr. Moquegua 5", Type: "Hurto menor", OccurredAt: &occurred},
		{ID: 3, Address: "", Type: "Amenazas", ZoneID: ptr(int64(1))},
		{ID: 4, Address: "Calle Peral 12", District: "Cercado", Type: "Homicidio"},
		{ID: 5, Address: "Mz. B Lt. 5"},
	}
	require.NoError(t, db.InsertIncidents(ctx, incidents))
	_, err := db.UpsertZones(ctx, []domain.Zone{{ID: 1, Name: "Z1", Centroid: zoneOne}})
	require.NoError(t, err)
}

type runnerFixture struct {
	db       *store.DB
	geocoder *fakeGeocoder
	metrics  *observability.Metrics
	runner   *pipeline.BatchRunner
}

func newRunnerFixture(t *testing.T, commitEvery int, publisher pipeline.HeatPublisher) *runnerFixture {
	t.Helper()
	clk := freezeClock(t)
	db := openStore(t)
	seedStore(t, db)

	metrics := newTestMetrics()
	geo := &fakeGeocoder{}
	enricher := pipeline.NewEnricher(pipeline.EnricherConfig{
		Normalizer: testNormalizer(),
		Cache:      geocache.New(db, 180*24*time.Hour, 0, clk, metrics),
		Geocoder:   geo,
		Fallback:   pipeline.NewCentroidFallback(db),
		Logger:     discardLogger(),
	})

	runner := pipeline.New(db, enricher, publisher, discardLogger(), metrics, 100, commitEvery)
	return &runnerFixture{db: db, geocoder: geo, metrics: metrics, runner: runner}
}
