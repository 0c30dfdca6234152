package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "incident_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the enrichment pipeline.
type Metrics struct {
	RecordsProcessed *prometheus.CounterVec // labels: status={ok,approx,fail,pending}
	WeightOnly       prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch run metrics.
	BatchRuns       *prometheus.CounterVec // labels: outcome={success,empty,error,interrupted}
	BatchDuration   prometheus.Histogram
	SubBatchCommits prometheus.Counter

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,empty,error,skipped}
	GeocodeCache       *prometheus.CounterVec // labels: tier={memory,durable}, result={hit,miss,stale}
	GeocodeAPIDuration prometheus.Histogram
	RateGateWait       prometheus.Histogram
	GeocodeEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates metrics and registers them with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(
		m.RecordsProcessed,
		m.WeightOnly,
		m.PipelineRunning,
		m.BatchRuns,
		m.BatchDuration,
		m.SubBatchCommits,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.RateGateWait,
		m.GeocodeEnabled,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RecordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Incidents enriched and committed, by resulting geocode status.",
		}, []string{"status"}),
		WeightOnly: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weight_only_total",
			Help:      "Incidents whose heat weight was recomputed without geocoding.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a batch run is in progress, 0 otherwise.",
		}),
		BatchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_runs_total",
			Help:      "Batch runs by outcome.",
		}, []string{"outcome"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of a complete batch run.",
			Buckets:   []float64{0.1, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		SubBatchCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subbatch_commits_total",
			Help:      "Sub-batch transactions committed to the record store.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding provider requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocode cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Geocoding provider request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		RateGateWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_gate_wait_seconds",
			Help:      "Time spent waiting on the shared provider rate gate.",
			Buckets:   []float64{0, 0.05, 0.1, 0.25, 0.5, 0.75, 1, 2},
		}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when provider geocoding is enabled, 0 otherwise.",
		}),
	}
}
