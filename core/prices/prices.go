// Package prices keeps the hourly retail electricity price derived from the
// Iberian day-ahead market.
package prices

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/kilianp07/hems/core/logger"
	coremetrics "github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/core/model"
	"github.com/kilianp07/hems/core/power"
)

// Tariff components in EUR/MWh.
const (
	capacityCharge = 0.4
	systemCharge   = 0.2893
	retailerMargin = 1.0
	lossFactor     = 0.16
	vat            = 0.23
)

// Access tariffs in cents/kWh.
const (
	AccessOffPeak = 1.57
	AccessPeak    = 8.6
)

const hoursPerDay = 24

// Quote is the market price of the hour starting at Time.
type Quote struct {
	Time      time.Time
	EURPerMWh float64
}

// Entry is the retail price of the hour starting at Time.
type Entry struct {
	Time  time.Time `json:"time"`
	Cents int       `json:"cents"`
}

// Provider fetches day-ahead market quotes.
type Provider interface {
	Name() string
	Fetch(ctx context.Context) ([]Quote, error)
}

// Retail turns a market price into the cents/kWh paid for an hour starting
// at hour, using the off-peak window of the charge controller.
func Retail(eurPerMWh float64, hour int) int {
	access := AccessPeak
	if power.IsOffPeak(hour) {
		access = AccessOffPeak
	}
	eur := ((eurPerMWh+capacityCharge+systemCharge+retailerMargin)*(1+lossFactor) + access*10) * (1 + vat)
	return int(math.Floor(eur/10 + 0.5))
}

// Cache stores the last successfully fetched prices, oldest first.
type Cache struct {
	mu      sync.RWMutex
	entries []Entry
	fetched time.Time
}

// NewCache returns an empty cache.
func NewCache() *Cache { return &Cache{} }

// Update replaces the cached prices.
func (c *Cache) Update(entries []Entry, at time.Time) {
	cp := slices.Clone(entries)
	c.mu.Lock()
	c.entries = cp
	c.fetched = at
	c.mu.Unlock()
}

// At returns the price of the hour containing t.
func (c *Cache) At(t time.Time) model.Optional[int] {
	h := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.Time.Equal(h) {
			return model.Some(e.Cents)
		}
	}
	return model.None[int]()
}

// Entries returns a copy of the cached prices.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.entries)
}

// Fetched returns when the cache was last updated.
func (c *Cache) Fetched() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetched
}

// Refresher pulls quotes from a provider into the cache.
type Refresher struct {
	provider Provider
	cache    *Cache
	rec      coremetrics.PriceRecorder
	log      logger.Logger
	now      func() time.Time
}

// NewRefresher creates a Refresher. rec may be nil.
func NewRefresher(p Provider, c *Cache, rec coremetrics.PriceRecorder, log logger.Logger) *Refresher {
	if rec == nil {
		rec = coremetrics.NopSink{}
	}
	return &Refresher{provider: p, cache: c, rec: rec, log: log, now: time.Now}
}

// Refresh fetches the quotes and keeps those from the start of today on.
// On failure the previous prices are kept.
func (r *Refresher) Refresh(ctx context.Context) error {
	quotes, err := r.provider.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("%s prices: %w", r.provider.Name(), err)
	}
	now := r.now()
	today := startOfDay(now)
	entries := Build(quotes, today)
	r.cache.Update(entries, now)
	if err := r.rec.RecordPrices(coremetrics.PriceEvent{
		Source: r.provider.Name(),
		Points: Points(entries, today),
		Time:   now,
	}); err != nil {
		r.log.Warnf("record prices: %v", err)
	}
	r.log.Infof("loaded %d hourly prices from %s", len(entries), r.provider.Name())
	return nil
}

// Build converts quotes at or after from into retail entries sorted by time.
func Build(quotes []Quote, from time.Time) []Entry {
	entries := make([]Entry, 0, len(quotes))
	for _, q := range quotes {
		if q.Time.Before(from) {
			continue
		}
		entries = append(entries, Entry{Time: q.Time, Cents: Retail(q.EURPerMWh, q.Time.Hour())})
	}
	slices.SortFunc(entries, func(a, b Entry) int { return a.Time.Compare(b.Time) })
	return entries
}

// Points lays entries out on the 48 hours of today and tomorrow. Hours
// without a price are reported as zero.
func Points(entries []Entry, today time.Time) []coremetrics.PricePoint {
	byTime := make(map[int64]int, len(entries))
	for _, e := range entries {
		byTime[e.Time.Unix()] = e.Cents
	}
	points := make([]coremetrics.PricePoint, 0, 2*hoursPerDay)
	for d, day := range []string{"today", "tomorrow"} {
		base := today.AddDate(0, 0, d)
		for h := 0; h < hoursPerDay; h++ {
			at := time.Date(base.Year(), base.Month(), base.Day(), h, 0, 0, 0, base.Location())
			points = append(points, coremetrics.PricePoint{Day: day, Hour: h, Cents: byTime[at.Unix()]})
		}
	}
	return points
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
