package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/incident-heat-etl/internal/domain"
	"github.com/couchcryptid/incident-heat-etl/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hitUnlessBlock resolves every query except the "Manzana" one seeded as incident 5.
func hitUnlessBlock(q string) (domain.GeocodeResult, bool) {
	if strings.Contains(q, "Manzana") {
		return domain.GeocodeResult{}, false
	}
	return domain.GeocodeResult{Coord: nearCenter, Precision: domain.PrecisionRooftop, Source: "nominatim"}, true
}

func TestRun_ProcessesPendingInSubBatches(t *testing.T) {
	f := newRunnerFixture(t, 2, nil)
	f.geocoder.resolve = hitUnlessBlock
	ctx := context.Background()

	summary, err := f.runner.Run(ctx, pipeline.RunOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, testNow, summary.StartedAt)
	assert.Equal(t, 5, summary.Selected)
	assert.Equal(t, 5, summary.Updated)
	assert.Equal(t, 3, summary.Commits)
	assert.Equal(t, map[domain.Status]int{domain.StatusOK: 3, domain.StatusApprox: 1, domain.StatusFail: 1}, summary.ByStatus)
	assert.Equal(t, map[string]int{"provider": 3, "fallback": 1, "failed": 1}, summary.ByResolution)
	assert.Equal(t, 4, f.geocoder.calls(), "the empty address never reaches the provider")

	counts, err := f.db.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[domain.Status]int{domain.StatusOK: 3, domain.StatusApprox: 1, domain.StatusFail: 1}, counts)

	all, err := f.db.SelectIncidents(ctx, domain.IncidentQuery{Selection: domain.SelectAll})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.InDelta(t, 0.95, all[0].HeatWeight, 1e-9, "(0.90 + 0.10) decayed over 10 days")
	require.NotNil(t, all[0].GeocodedAt)
	assert.Equal(t, testNow, *all[0].GeocodedAt)
	c, ok := all[2].Geocode.Coord()
	require.True(t, ok)
	assert.Equal(t, zoneOne, c)
	assert.Equal(t, domain.PrecisionCentroid, all[2].Geocode.Precision())
	_, ok = all[4].Geocode.Coord()
	assert.False(t, ok)
	assert.InDelta(t, domain.DefaultBaseWeight, all[4].HeatWeight, 1e-9)

	assert.InDelta(t, 3, testutil.ToFloat64(f.metrics.SubBatchCommits), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(f.metrics.RecordsProcessed.WithLabelValues("ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.BatchRuns.WithLabelValues("success")), 0)
	require.NoError(t, f.runner.CheckReadiness(ctx))
}

func TestRun_NormalRunSkipsSettled(t *testing.T) {
	f := newRunnerFixture(t, 100, nil)
	f.geocoder.resolve = hitUnlessBlock
	ctx := context.Background()

	_, err := f.runner.Run(ctx, pipeline.RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 4, f.geocoder.calls())

	// Only the failed incident is selected again.
	summary, err := f.runner.Run(ctx, pipeline.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Selected)
	assert.Equal(t, map[domain.Status]int{domain.StatusFail: 1}, summary.ByStatus)
	assert.Equal(t, 5, f.geocoder.calls())
}

func TestRun_EmptySelection(t *testing.T) {
	f := newRunnerFixture(t, 100, nil)
	f.geocoder.resolve = alwaysHit(nearCenter, domain.PrecisionStreet)
	ctx := context.Background()

	_, err := f.runner.Run(ctx, pipeline.RunOptions{})
	require.NoError(t, err)

	summary, err := f.runner.Run(ctx, pipeline.RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, summary.Selected)
	assert.Zero(t, summary.Updated)
	assert.Zero(t, summary.Commits)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.BatchRuns.WithLabelValues("empty")), 0)
}

func TestRun_BatchSizeAndOffset(t *testing.T) {
	f := newRunnerFixture(t, 100, nil)
	f.geocoder.resolve = alwaysHit(nearCenter, domain.PrecisionStreet)
	ctx := context.Background()

	summary, err := f.runner.Run(ctx, pipeline.RunOptions{BatchSize: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Selected)

	pending, err := f.db.SelectIncidents(ctx, domain.IncidentQuery{Selection: domain.SelectPending})
	require.NoError(t, err)
	ids := make([]int64, 0, len(pending))
	for _, inc := range pending {
		ids = append(ids, inc.ID)
	}
	assert.Equal(t, []int64{1, 4, 5}, ids)
}

func TestRun_DryRunPersistsNothing(t *testing.T) {
	f := newRunnerFixture(t, 2, nil)
	f.geocoder.resolve = alwaysHit(nearCenter, domain.PrecisionStreet)
	ctx := context.Background()

	summary, err := f.runner.Run(ctx, pipeline.RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 5, summary.Updated)
	assert.Zero(t, summary.Commits)

	counts, err := f.db.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[domain.Status]int{domain.StatusPending: 5}, counts)
	n, err := f.db.CountCacheEntries(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun_WeightOnly(t *testing.T) {
	f := newRunnerFixture(t, 2, nil)
	f.geocoder.resolve = alwaysHit(nearCenter, domain.PrecisionStreet)
	ctx := context.Background()

	summary, err := f.runner.Run(ctx, pipeline.RunOptions{WeightOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Updated)
	assert.Empty(t, summary.ByStatus)
	assert.Equal(t, map[string]int{"weight-only": 5}, summary.ByResolution)
	assert.Zero(t, f.geocoder.calls())
	assert.InDelta(t, 5, testutil.ToFloat64(f.metrics.WeightOnly), 0)

	all, err := f.db.SelectIncidents(ctx, domain.IncidentQuery{Selection: domain.SelectAll})
	require.NoError(t, err)
	for _, inc := range all {
		assert.Equal(t, domain.StatusPending, inc.Geocode.Status())
		assert.Nil(t, inc.GeocodedAt)
	}
	assert.InDelta(t, 1.00, all[3].HeatWeight, 1e-9)
}

func TestRun_ForcedRevisitsOKButNotApprox(t *testing.T) {
	f := newRunnerFixture(t, 100, nil)
	f.geocoder.resolve = hitUnlessBlock
	ctx := context.Background()

	_, err := f.runner.Run(ctx, pipeline.RunOptions{})
	require.NoError(t, err)
	calls := f.geocoder.calls()

	summary, err := f.runner.Run(ctx, pipeline.RunOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Selected, "ok and fail incidents, approx excluded")
	assert.Equal(t, calls+4, f.geocoder.calls(), "force bypasses the cache")

	summary, err = f.runner.Run(ctx, pipeline.RunOptions{Force: true, IncludeApprox: true})
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Selected)
}

func TestRun_CentroidOnly(t *testing.T) {
	f := newRunnerFixture(t, 100, nil)
	ctx := context.Background()

	summary, err := f.runner.Run(ctx, pipeline.RunOptions{CentroidOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Selected)
	assert.Equal(t, map[string]int{"fallback": 2, "failed": 3}, summary.ByResolution)
	assert.Zero(t, f.geocoder.calls())
}

func TestRun_InterruptKeepsCommittedSubBatches(t *testing.T) {
	f := newRunnerFixture(t, 2, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.geocoder.resolve = alwaysHit(nearCenter, domain.PrecisionStreet)
	f.geocoder.onCall = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	summary, err := f.runner.Run(ctx, pipeline.RunOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrInterrupted))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, summary.Commits)
	assert.Equal(t, 2, summary.Updated)

	counts, err := f.db.StatusCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[domain.Status]int{domain.StatusOK: 2, domain.StatusPending: 3}, counts)

	last, ok := f.runner.LastRun()
	require.True(t, ok)
	assert.Equal(t, summary.RunID, last.RunID)
	assert.Error(t, f.runner.CheckReadiness(context.Background()))
}

func TestRun_StoreErrorIsFatal(t *testing.T) {
	freezeClock(t)
	enricher := pipeline.NewEnricher(pipeline.EnricherConfig{Normalizer: testNormalizer(), Logger: discardLogger()})
	r := pipeline.New(failingStore{err: errStoreDown}, enricher, nil, discardLogger(), newTestMetrics(), 100, 10)

	_, err := r.Run(context.Background(), pipeline.RunOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errStoreDown))
	assert.False(t, errors.Is(err, pipeline.ErrInterrupted))
	assert.Error(t, r.CheckReadiness(context.Background()))
	_, ok := r.LastRun()
	assert.False(t, ok)
}

func TestRun_InterruptDuringSelection(t *testing.T) {
	freezeClock(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	metrics := newTestMetrics()
	enricher := pipeline.NewEnricher(pipeline.EnricherConfig{Normalizer: testNormalizer(), Logger: discardLogger()})
	r := pipeline.New(cancellingStore{cancel: cancel}, enricher, nil, discardLogger(), metrics, 100, 10)

	summary, err := r.Run(ctx, pipeline.RunOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrInterrupted))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.NotEmpty(t, summary.RunID)
	assert.Zero(t, summary.Commits)

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.BatchRuns.WithLabelValues("interrupted")), 1e-9)
	assert.Zero(t, testutil.ToFloat64(metrics.BatchRuns.WithLabelValues("error")))
	last, ok := r.LastRun()
	require.True(t, ok)
	assert.Equal(t, summary.RunID, last.RunID)
	assert.Error(t, r.CheckReadiness(context.Background()))
}

func TestRun_InvalidOptions(t *testing.T) {
	f := newRunnerFixture(t, 100, nil)

	cases := []struct {
		name string
		opts pipeline.RunOptions
		want string
	}{
		{"negative offset", pipeline.RunOptions{Offset: -1}, "offset"},
		{"weight-only with force", pipeline.RunOptions{WeightOnly: true, Force: true}, "weight-only"},
		{"centroid-only with force", pipeline.RunOptions{CentroidOnly: true, Force: true}, "centroid-only"},
		{"include-approx alone", pipeline.RunOptions{IncludeApprox: true}, "include-approx"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.runner.Run(context.Background(), tc.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
	assert.Zero(t, f.geocoder.calls())
}

func TestRun_PublishesCommittedHeatPoints(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	f := newRunnerFixture(t, 2, pub)
	f.geocoder.resolve = hitUnlessBlock

	summary, err := f.runner.Run(context.Background(), pipeline.RunOptions{})
	require.NoError(t, err, "publish failures do not fail the run")
	assert.Equal(t, 3, summary.Commits)

	// The last sub-batch holds only the failed incident and publishes nothing.
	require.Len(t, pub.batches, 2)
	assert.Equal(t, int64(1), pub.batches[0][0].IncidentID)
	assert.Equal(t, domain.StatusOK, pub.batches[0][0].Status)
	assert.Equal(t, domain.PrecisionCentroid, pub.batches[1][0].Precision)
	assert.Len(t, pub.batches[1], 2)
}

func TestServe_StopsOnCancel(t *testing.T) {
	f := newRunnerFixture(t, 100, nil)
	f.geocoder.resolve = alwaysHit(nearCenter, domain.PrecisionStreet)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := f.runner.Serve(ctx, pipeline.RunOptions{}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.runner.CheckReadiness(context.Background()))

	last, ok := f.runner.LastRun()
	require.True(t, ok)
	assert.Equal(t, 5, last.Updated)
}

func TestServe_BacksOffOnStoreError(t *testing.T) {
	freezeClock(t)
	enricher := pipeline.NewEnricher(pipeline.EnricherConfig{Normalizer: testNormalizer(), Logger: discardLogger()})
	metrics := newTestMetrics()
	r := pipeline.New(failingStore{err: errStoreDown}, enricher, nil, discardLogger(), metrics, 100, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, r.Serve(ctx, pipeline.RunOptions{}, time.Millisecond))
	// 200ms then 400ms backoff fit at most three attempts into the window.
	runs := testutil.ToFloat64(metrics.BatchRuns.WithLabelValues("error"))
	assert.GreaterOrEqual(t, runs, 2.0)
	assert.LessOrEqual(t, runs, 3.0)
}
