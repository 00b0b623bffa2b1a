// Package catalog resolves inventory items to research queries and receives
// recommended prices back.
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
)

// Catalog is the inventory the engine prices.
type Catalog interface {
	// Item returns the query for id, or domain.ErrNotFound.
	Item(ctx context.Context, id string) (domain.ItemQuery, error)
	Items(ctx context.Context, opts ListOpts) ([]domain.ItemQuery, error)
	// SyncPrice records a's recommended price on the item.
	SyncPrice(ctx context.Context, id string, a domain.MarketAnalysis) error
}

// ListOpts filters Items. Zero fields match everything.
type ListOpts struct {
	Offset   int
	Limit    int
	Make     string
	Category string
}

// SyncedPrice is what SyncPrice writes.
type SyncedPrice struct {
	Price      decimal.Decimal
	Confidence int
	SyncedAt   time.Time
}

// MemoryCatalog is an in-process Catalog.
type MemoryCatalog struct {
	mu     sync.RWMutex
	items  map[string]domain.ItemQuery
	prices map[string]SyncedPrice
	now    func() time.Time
}

// NewMemoryCatalog creates a catalog holding items.
func NewMemoryCatalog(items ...domain.ItemQuery) *MemoryCatalog {
	c := &MemoryCatalog{
		items:  make(map[string]domain.ItemQuery),
		prices: make(map[string]SyncedPrice),
		now:    time.Now,
	}
	for _, it := range items {
		c.items[it.ItemID] = it
	}
	return c
}

// Put adds or replaces an item.
func (c *MemoryCatalog) Put(it domain.ItemQuery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[it.ItemID] = it
}

func (c *MemoryCatalog) Item(_ context.Context, id string) (domain.ItemQuery, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[id]
	if !ok {
		return domain.ItemQuery{}, domain.ErrNotFound
	}
	return it, nil
}

func (c *MemoryCatalog) Items(_ context.Context, opts ListOpts) ([]domain.ItemQuery, error) {
	c.mu.RLock()
	var out []domain.ItemQuery
	for _, it := range c.items {
		if opts.Make != "" && !sameMake(it.Vehicle.Make, opts.Make) {
			continue
		}
		if opts.Category != "" && it.Category != opts.Category {
			continue
		}
		out = append(out, it)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (c *MemoryCatalog) SyncPrice(_ context.Context, id string, a domain.MarketAnalysis) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return domain.ErrNotFound
	}
	c.prices[id] = SyncedPrice{Price: a.RecommendedPrice, Confidence: a.Confidence, SyncedAt: c.now().UTC()}
	return nil
}

// Price returns the last synced price for id.
func (c *MemoryCatalog) Price(id string) (SyncedPrice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[id]
	return p, ok
}

func sameMake(a, b string) bool {
	return domain.Vehicle{Make: a}.Canonical().Make == domain.Vehicle{Make: b}.Canonical().Make
}
