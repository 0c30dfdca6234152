package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/couchcryptid/incident-heat-etl/internal/adapter/kafka"
	"github.com/couchcryptid/incident-heat-etl/internal/adapter/nominatim"
	"github.com/couchcryptid/incident-heat-etl/internal/config"
	"github.com/couchcryptid/incident-heat-etl/internal/domain"
	"github.com/couchcryptid/incident-heat-etl/internal/geocache"
	"github.com/couchcryptid/incident-heat-etl/internal/observability"
	"github.com/couchcryptid/incident-heat-etl/internal/pipeline"
	"github.com/couchcryptid/incident-heat-etl/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

// app is the wired enrichment service shared by run and serve.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	db        *store.DB
	runner    *pipeline.BatchRunner
	publisher *kafka.Publisher
}

// loadConfig reads the environment and builds the logger. Logs go to w so
// they never mix with command output.
func loadConfig(w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, WrapExitError(ExitConfigError, "failed to load config", err)
	}
	return cfg, observability.NewLogger(w, cfg.LogLevel, cfg.LogFormat), nil
}

// openStore migrates (when enabled) and opens the record store.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.DB, error) {
	backend, err := store.ParseBackend(cfg.DatabaseBackend)
	if err != nil {
		return nil, WrapExitError(ExitConfigError, "invalid database backend", err)
	}
	if cfg.DatabaseAutoMigrate {
		res, err := store.Migrate(backend, cfg.DatabaseURL, -1)
		if err != nil {
			return nil, WrapExitError(ExitConfigError, "failed to migrate database", err)
		}
		if res.Changed {
			logger.Info("database migrated", "from", res.From, "to", res.To)
		}
	}
	db, err := store.Open(ctx, backend, cfg.DatabaseURL)
	if err != nil {
		return nil, WrapExitError(ExitConfigError, "failed to open database", err)
	}
	return db, nil
}

// newApp wires store, cache, provider, fallback, enricher, publisher and
// runner. reg receives the metrics; serve passes the registry it exposes on
// /metrics.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*app, error) {
	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetricsWith(reg)
	clock := clockwork.NewRealClock()
	cache := geocache.New(db, cfg.GeocoderCacheTTL, cfg.GeocoderMemoSize, clock, metrics)

	var geocoder domain.Geocoder
	if cfg.GeocoderEnabled {
		gate := nominatim.NewRateGate(cfg.GeocoderMinInterval, clock)
		geocoder = nominatim.NewClient(nominatim.Options{
			BaseURL:      cfg.GeocoderURL,
			UserAgent:    cfg.GeocoderUserAgent,
			Email:        cfg.GeocoderEmail,
			CountryCodes: cfg.GeocoderCountryCodes,
			Timeout:      cfg.GeocoderTimeout,
		}, gate, metrics, logger)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("geocoding enabled", "url", cfg.GeocoderURL, "min_interval", cfg.GeocoderMinInterval)
	} else {
		logger.Info("geocoding disabled, cache misses go to zone centroids")
	}

	enricher := pipeline.NewEnricher(pipeline.EnricherConfig{
		Normalizer: domain.NewNormalizer(domain.Locality{
			District: cfg.DefaultDistrict,
			Province: cfg.DefaultProvince,
			Country:  cfg.DefaultCountry,
		}),
		Cache:         cache,
		Geocoder:      geocoder,
		Fallback:      pipeline.NewCentroidFallback(db),
		MaxDistanceKm: cfg.MaxDistanceKm,
		Center:        domain.Coord{Lat: cfg.DistrictCenterLat, Lon: cfg.DistrictCenterLon},
		Logger:        logger,
	})

	a := &app{cfg: cfg, logger: logger, metrics: metrics, db: db}
	var publisher pipeline.HeatPublisher
	if cfg.KafkaEnabled {
		a.publisher = kafka.NewPublisher(cfg, logger)
		publisher = a.publisher
		logger.Info("heat point publishing enabled", "topic", cfg.KafkaHeatTopic)
	}
	a.runner = pipeline.New(db, enricher, publisher, logger, metrics, cfg.BatchSize, cfg.CommitEvery)
	return a, nil
}

func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("kafka publisher close error", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}
}
