// Package freshness decides whether a stored analysis is recent enough to
// serve instead of researching again.
package freshness

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/engine/records"
	"github.com/WessleyAI/wessley-pricing/pkg/metrics"
)

// DefaultWindow is how long an analysis stays fresh.
const DefaultWindow = 30 * 24 * time.Hour

// Cache answers freshness lookups from a record store.
type Cache struct {
	store   records.Store
	window  time.Duration
	now     func() time.Time
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// New creates a Cache over store. A window <= 0 uses DefaultWindow.
func New(store records.Store, window time.Duration, log *slog.Logger, m *metrics.Metrics, opts ...Option) *Cache {
	if window <= 0 {
		window = DefaultWindow
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Cache{store: store, window: window, now: time.Now, log: log, metrics: m}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Window reports the freshness window.
func (c *Cache) Window() time.Duration { return c.window }

// Lookup returns the active record for the key when it is younger than the
// window. force always misses. A store failure is returned as an error, not
// as a miss.
func (c *Cache) Lookup(ctx context.Context, itemID, contextHash string, force bool) (domain.ResearchRecord, bool, error) {
	if force {
		c.metrics.Freshness("forced")
		return domain.ResearchRecord{}, false, nil
	}
	rec, err := c.store.Active(ctx, itemID, contextHash)
	if errors.Is(err, domain.ErrNotFound) {
		c.metrics.Freshness("miss")
		return domain.ResearchRecord{}, false, nil
	}
	if err != nil {
		c.metrics.Freshness("error")
		return domain.ResearchRecord{}, false, err
	}
	if !c.Fresh(rec) {
		c.metrics.Freshness("stale")
		c.log.Debug("cached analysis is stale", "item_id", itemID, "age", c.now().Sub(rec.ResearchDate))
		return rec, false, nil
	}
	c.metrics.Freshness("hit")
	return rec, true, nil
}

// Fresh reports whether rec is active and within the window.
func (c *Cache) Fresh(rec domain.ResearchRecord) bool {
	return rec.IsActive && c.now().Sub(rec.ResearchDate) <= c.window
}

// Store persists rec as the new active record for its key.
func (c *Cache) Store(ctx context.Context, rec domain.ResearchRecord) (domain.ResearchRecord, error) {
	out, err := c.store.Put(ctx, rec)
	switch {
	case err == nil:
		c.metrics.StoreWrite("ok")
	case errors.Is(err, domain.ErrWriteConflict):
		c.metrics.StoreWrite("conflict")
	default:
		c.metrics.StoreWrite("error")
	}
	return out, err
}

// History returns the stored records for itemID, newest first.
func (c *Cache) History(ctx context.Context, itemID string, limit int) ([]domain.ResearchRecord, error) {
	return c.store.History(ctx, itemID, limit)
}
