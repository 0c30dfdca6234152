// Package geocache resolves normalized addresses to previously geocoded
// coordinates through an in-process memo backed by a durable store.
package geocache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/incident-heat-etl/internal/domain"
	"github.com/couchcryptid/incident-heat-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

const (
	tierMemory  = "memory"
	tierDurable = "durable"
)

// Store is the durable tier, keyed by normalized address with at most one
// entry per key.
type Store interface {
	GetCacheEntry(ctx context.Context, address string) (domain.CacheEntry, bool, error)
	UpsertCacheEntry(ctx context.Context, entry domain.CacheEntry) error
}

// Cache is a two-tier geocode cache. Entries at least ttl old are misses in
// both tiers and get overwritten by the next Store for the same address.
type Cache struct {
	memo    *memo
	store   Store
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics
}

// New creates a cache over store. memoSize <= 0 leaves the memo unbounded
// and ttl <= 0 disables expiry.
func New(store Store, ttl time.Duration, memoSize int, clock clockwork.Clock, metrics *observability.Metrics) *Cache {
	return &Cache{
		memo:    newMemo(memoSize),
		store:   store,
		ttl:     ttl,
		clock:   clock,
		metrics: metrics,
	}
}

// Lookup returns the fresh entry for address, checking the memo before the
// durable store. Durable hits are promoted into the memo. Errors come only
// from the durable store.
func (c *Cache) Lookup(ctx context.Context, address string) (domain.CacheEntry, bool, error) {
	if address == "" {
		return domain.CacheEntry{}, false, nil
	}

	if e, ok := c.memo.get(address); ok {
		if c.fresh(e) {
			c.count(tierMemory, "hit")
			return e, true, nil
		}
		c.memo.drop(address)
		c.count(tierMemory, "stale")
	} else {
		c.count(tierMemory, "miss")
	}

	e, ok, err := c.store.GetCacheEntry(ctx, address)
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("geocode cache lookup %q: %w", address, err)
	}
	if !ok {
		c.count(tierDurable, "miss")
		return domain.CacheEntry{}, false, nil
	}
	if !c.fresh(e) {
		c.count(tierDurable, "stale")
		return domain.CacheEntry{}, false, nil
	}

	c.count(tierDurable, "hit")
	c.memo.put(address, e)
	return e, true, nil
}

// Store upserts a resolved address into both tiers, stamping it with the
// current time.
func (c *Cache) Store(ctx context.Context, address string, coord domain.Coord, source string, precision domain.Precision) error {
	if address == "" {
		return errors.New("geocode cache store: empty address")
	}

	e := domain.CacheEntry{
		Address:   address,
		Coord:     &coord,
		Source:    source,
		Precision: precision,
		UpdatedAt: c.clock.Now().UTC().Truncate(time.Second),
	}
	if err := c.store.UpsertCacheEntry(ctx, e); err != nil {
		return fmt.Errorf("geocode cache store %q: %w", address, err)
	}
	c.memo.put(address, e)
	return nil
}

// MemoLen reports how many entries the in-process tier holds.
func (c *Cache) MemoLen() int {
	return c.memo.len()
}

func (c *Cache) fresh(e domain.CacheEntry) bool {
	if c.ttl <= 0 {
		return true
	}
	return c.clock.Since(e.UpdatedAt) < c.ttl
}

func (c *Cache) count(tier, result string) {
	c.metrics.GeocodeCache.WithLabelValues(tier, result).Inc()
}
