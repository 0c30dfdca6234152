package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/incident-heat-etl/internal/domain"
)

// Cache is the two-tier geocode cache the enricher consults before the provider.
type Cache interface {
	Lookup(ctx context.Context, address string) (domain.CacheEntry, bool, error)
	Store(ctx context.Context, address string, coord domain.Coord, source string, precision domain.Precision) error
}

// Resolution names the step that settled an incident's geocode.
type Resolution string

const (
	ResolvedByCache    Resolution = "cache"
	ResolvedByProvider Resolution = "provider"
	ResolvedByFallback Resolution = "fallback"
	ResolutionFailed   Resolution = "failed"
	// ResolutionKept marks a settled incident left as it was; only its weight changed.
	ResolutionKept       Resolution = "kept"
	ResolutionWeightOnly Resolution = "weight-only"
)

// EnrichOptions selects how much of the per-incident pipeline runs.
type EnrichOptions struct {
	// Force skips both cache tiers and re-queries the provider even for
	// settled incidents. A provider hit overwrites the cache entry.
	Force bool
	// WeightOnly recomputes the heat weight and leaves the geocode untouched.
	WeightOnly bool
	// CentroidOnly skips cache and provider and assigns zone centroids to
	// incidents without coordinates.
	CentroidOnly bool
	// DryRun leaves the cache untouched.
	DryRun bool
}

// EnricherConfig wires an Enricher.
type EnricherConfig struct {
	Normalizer *domain.Normalizer
	Cache      Cache
	// Geocoder may be nil, which routes every cache miss to the fallback.
	Geocoder domain.Geocoder
	Fallback *CentroidFallback
	// MaxDistanceKm rejects provider hits farther than this from Center.
	// Zero disables the guard.
	MaxDistanceKm float64
	Center        domain.Coord
	Logger        *slog.Logger
}

// Enricher geocodes and weighs one incident at a time:
// normalize, cache, provider, centroid fallback, then weight.
type Enricher struct {
	normalizer    *domain.Normalizer
	cache         Cache
	geocoder      domain.Geocoder
	fallback      *CentroidFallback
	maxDistanceKm float64
	center        domain.Coord
	logger        *slog.Logger
}

// NewEnricher creates an Enricher from cfg.
func NewEnricher(cfg EnricherConfig) *Enricher {
	fallback := cfg.Fallback
	if fallback == nil {
		fallback = NewCentroidFallback(nil)
	}
	return &Enricher{
		normalizer:    cfg.Normalizer,
		cache:         cfg.Cache,
		geocoder:      cfg.Geocoder,
		fallback:      fallback,
		maxDistanceKm: cfg.MaxDistanceKm,
		center:        cfg.Center,
		logger:        cfg.Logger,
	}
}

// Enrich returns inc with its geocode, geocoded_at and heat weight filled in.
// Provider misses never produce an error: they fall through to the centroid
// and end as StatusFail when no centroid exists. Errors come from the cache
// and zone stores, or from ctx being cancelled mid-record.
func (e *Enricher) Enrich(ctx context.Context, inc domain.Incident, opts EnrichOptions) (domain.Incident, Resolution, error) {
	if err := ctx.Err(); err != nil {
		return inc, "", err
	}

	inc.HeatWeight = domain.HeatWeight(inc.Type, inc.Outcome, inc.OccurredAt)
	if opts.WeightOnly {
		return inc, ResolutionWeightOnly, nil
	}

	if opts.CentroidOnly {
		if _, ok := inc.Geocode.Coord(); ok {
			return inc, ResolutionKept, nil
		}
		return e.settleWithFallback(ctx, inc)
	}

	if inc.Geocode.Settled() && !opts.Force {
		return inc, ResolutionKept, nil
	}

	query := e.normalizer.Normalize(inc.Address, inc.District)
	if query == "" {
		return e.settleWithFallback(ctx, inc)
	}

	if !opts.Force {
		outcome, known, err := e.fromCache(ctx, query)
		if err != nil {
			return inc, "", err
		}
		if known {
			if _, ok := outcome.Coord(); ok {
				return e.settle(inc, outcome, ResolvedByCache), ResolvedByCache, nil
			}
			// A cached null coordinate marks an address the provider cannot resolve.
			return e.settleWithFallback(ctx, inc)
		}
	}

	if e.geocoder != nil {
		res, ok := e.geocoder.Geocode(ctx, query)
		if err := ctx.Err(); err != nil {
			return inc, "", err
		}
		if ok {
			if outcome, accepted := e.accept(inc, query, res); accepted {
				if !opts.DryRun {
					if err := e.store(ctx, query, res); err != nil {
						return inc, "", err
					}
				}
				return e.settle(inc, outcome, ResolvedByProvider), ResolvedByProvider, nil
			}
		} else {
			e.logger.Warn("geocode not found", "incident_id", inc.ID, "query", query)
		}
	}

	return e.settleWithFallback(ctx, inc)
}

// fromCache reports the cached outcome for query. known is true for any
// fresh entry, including one with a null coordinate.
func (e *Enricher) fromCache(ctx context.Context, query string) (domain.Outcome, bool, error) {
	if e.cache == nil {
		return domain.Outcome{}, false, nil
	}
	entry, ok, err := e.cache.Lookup(ctx, query)
	if err != nil {
		return domain.Outcome{}, false, fmt.Errorf("cache lookup: %w", err)
	}
	if !ok {
		return domain.Outcome{}, false, nil
	}
	if entry.Coord == nil {
		return domain.Failed(), true, nil
	}
	outcome, err := domain.Resolved(*entry.Coord, entry.Precision, entry.Source)
	if err != nil {
		e.logger.Warn("ignoring unusable cache entry", "query", query, "error", err)
		return domain.Outcome{}, false, nil
	}
	return outcome, true, nil
}

func (e *Enricher) store(ctx context.Context, query string, res domain.GeocodeResult) error {
	if e.cache == nil {
		return nil
	}
	if err := e.cache.Store(ctx, query, res.Coord, res.Source, res.Precision); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// accept turns a provider hit into an outcome, applying the distance guard.
func (e *Enricher) accept(inc domain.Incident, query string, res domain.GeocodeResult) (domain.Outcome, bool) {
	if e.maxDistanceKm > 0 {
		if d := domain.DistanceKm(e.center, res.Coord); d > e.maxDistanceKm {
			e.logger.Warn("geocode rejected: too far from district center",
				"incident_id", inc.ID,
				"query", query,
				"distance_km", d,
			)
			return domain.Outcome{}, false
		}
	}
	outcome, err := domain.Resolved(res.Coord, res.Precision, res.Source)
	if err != nil {
		e.logger.Warn("geocode rejected", "incident_id", inc.ID, "query", query, "error", err)
		return domain.Outcome{}, false
	}
	return outcome, true
}

func (e *Enricher) settleWithFallback(ctx context.Context, inc domain.Incident) (domain.Incident, Resolution, error) {
	c, ok, err := e.fallback.Resolve(ctx, inc.ZoneID)
	if err != nil {
		return inc, "", err
	}
	if ok {
		return e.settle(inc, domain.Centroid(c), ResolvedByFallback), ResolvedByFallback, nil
	}
	e.logger.Warn("geocode failed: no provider result and no zone centroid", "incident_id", inc.ID)
	return e.settle(inc, domain.Failed(), ResolutionFailed), ResolutionFailed, nil
}

func (e *Enricher) settle(inc domain.Incident, outcome domain.Outcome, res Resolution) domain.Incident {
	now := domain.Now()
	inc.Geocode = outcome
	inc.GeocodedAt = &now
	e.logger.Debug("incident geocoded",
		"incident_id", inc.ID,
		"status", outcome.Status(),
		"precision", outcome.Precision(),
		"resolution", res,
	)
	return inc
}
