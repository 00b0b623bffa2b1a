// Package scheduler re-researches catalog items whose analysis has gone
// stale, on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/WessleyAI/wessley-pricing/engine/catalog"
	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/engine/freshness"
	"github.com/WessleyAI/wessley-pricing/engine/research"
	"github.com/WessleyAI/wessley-pricing/pkg/fn"
)

// DefaultSpec runs the refresh nightly at 03:00.
const DefaultSpec = "0 3 * * *"

// pageSize is how many catalog items are read per page.
const pageSize = 200

// Bulk runs one bulk request. *research.Coordinator implements it.
type Bulk interface {
	Run(ctx context.Context, req domain.BulkRequest) (domain.BulkReport, error)
}

// Summary describes one refresh pass.
type Summary struct {
	Scanned   int
	Stale     int
	Refreshed int
	Failed    int
	Skipped   int
}

// Refresher finds stale items and researches them again.
type Refresher struct {
	Catalog catalog.Catalog
	Cache   *freshness.Cache
	Bulk    Bulk
	Log     *slog.Logger
}

// RefreshStale scans the whole catalog. Items are grouped by vehicle so
// each group goes through one bulk run.
func (r *Refresher) RefreshStale(ctx context.Context) (Summary, error) {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	var sum Summary
	var stale []domain.ItemQuery

	for offset := 0; ; offset += pageSize {
		items, err := r.Catalog.Items(ctx, catalog.ListOpts{Offset: offset, Limit: pageSize})
		if err != nil {
			return sum, fmt.Errorf("list catalog: %w", err)
		}
		for _, it := range items {
			sum.Scanned++
			if domain.ValidateItemQuery(it) != nil {
				sum.Skipped++
				continue
			}
			_, fresh, err := r.Cache.Lookup(ctx, it.ItemID, it.Vehicle.ContextHash(), false)
			if err != nil {
				log.Warn("freshness lookup failed", "item_id", it.ItemID, "error", err)
			}
			if !fresh {
				stale = append(stale, it)
			}
		}
		if len(items) < pageSize {
			break
		}
	}
	sum.Stale = len(stale)

	groups := fn.GroupBy(stale, func(it domain.ItemQuery) string { return it.Vehicle.ContextHash() })
	for _, g := range groups {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		req := domain.BulkRequest{Vehicle: g.Items[0].Vehicle, Items: make(map[string]domain.ItemQuery, len(g.Items))}
		for _, it := range g.Items {
			req.ItemIDs = append(req.ItemIDs, it.ItemID)
			req.Items[it.ItemID] = it
		}
		report, err := r.Bulk.Run(ctx, req)
		if err != nil {
			sum.Failed += len(req.ItemIDs)
			log.Warn("refresh group rejected", "vehicle", g.Key, "error", err)
			continue
		}
		sum.Refreshed += len(report.NewResults)
		sum.Failed += len(report.Errors)
	}
	return sum, nil
}

// Scheduler runs a Refresher on a cron schedule. A pass still running when
// the next one is due is skipped.
type Scheduler struct {
	cron    *cron.Cron
	refresh *Refresher
	log     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New parses spec (standard five-field cron, or descriptors such as
// "@daily") and schedules r.
func New(spec string, r *Refresher, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	if spec == "" {
		spec = DefaultSpec
	}
	cl := cronLogger{log}
	s := &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		refresh: r,
		log:     log,
	}
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	start := time.Now()
	sum, err := s.refresh.RefreshStale(ctx)
	if err != nil {
		s.log.Error("stale refresh failed", "error", err, "duration", time.Since(start))
		return
	}
	s.log.Info("stale refresh done", "scanned", sum.Scanned, "stale", sum.Stale,
		"refreshed", sum.Refreshed, "failed", sum.Failed, "skipped", sum.Skipped, "duration", time.Since(start))
}

// Start begins scheduling.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling, cancels a running pass and waits for it or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's logging to slog.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, kv ...any) { l.log.Debug("cron: "+msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kv, "error", err)...)
}

var _ Bulk = (*research.Coordinator)(nil)
