// Package forecast keeps the latest solar production forecast.
package forecast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/hems/core/logger"
	coremetrics "github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/core/model"
)

// Days holds the forecast production in watt-hours, index 0 being today.
type Days []float64

// Provider fetches a forecast from an external service.
type Provider interface {
	Name() string
	Fetch(ctx context.Context) (Days, error)
}

// Cache stores the last successfully fetched forecast.
type Cache struct {
	mu      sync.RWMutex
	days    Days
	fetched time.Time
}

// NewCache returns an empty cache.
func NewCache() *Cache { return &Cache{} }

// Update replaces the cached forecast.
func (c *Cache) Update(d Days, at time.Time) {
	cp := make(Days, len(d))
	copy(cp, d)
	c.mu.Lock()
	c.days = cp
	c.fetched = at
	c.mu.Unlock()
}

// Day returns the forecast for today+offset, unset when unknown.
func (c *Cache) Day(offset int) model.Optional[float64] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if offset < 0 || offset >= len(c.days) {
		return model.None[float64]()
	}
	return model.Some(c.days[offset])
}

// Days returns a copy of the cached forecast.
func (c *Cache) Days() Days {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make(Days, len(c.days))
	copy(cp, c.days)
	return cp
}

// Fetched returns when the cache was last updated.
func (c *Cache) Fetched() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetched
}

// Refresher pulls a forecast from a provider into the cache.
type Refresher struct {
	provider Provider
	cache    *Cache
	rec      coremetrics.ForecastRecorder
	log      logger.Logger
	now      func() time.Time
}

// NewRefresher creates a Refresher. rec may be nil.
func NewRefresher(p Provider, c *Cache, rec coremetrics.ForecastRecorder, log logger.Logger) *Refresher {
	if rec == nil {
		rec = coremetrics.NopSink{}
	}
	return &Refresher{provider: p, cache: c, rec: rec, log: log, now: time.Now}
}

// Refresh fetches the forecast. On failure the previous forecast is kept.
func (r *Refresher) Refresh(ctx context.Context) error {
	days, err := r.provider.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("%s forecast: %w", r.provider.Name(), err)
	}
	now := r.now()
	r.cache.Update(days, now)
	if err := r.rec.RecordForecast(coremetrics.ForecastEvent{Source: r.provider.Name(), Days: days, Time: now}); err != nil {
		r.log.Warnf("record forecast: %v", err)
	}
	r.log.Infof("solar forecast from %s: %v Wh", r.provider.Name(), []float64(days))
	return nil
}
