package research

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/wessley-pricing/engine/catalog"
	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/engine/freshness"
	"github.com/WessleyAI/wessley-pricing/pkg/fn"
	"github.com/WessleyAI/wessley-pricing/pkg/metrics"
)

// Bulk defaults.
const (
	DefaultBatchSize  = 5
	DefaultBatchDelay = time.Second
)

// BulkOptions tunes a Coordinator. Zero fields take defaults; a negative
// BatchDelay disables the pause.
type BulkOptions struct {
	BatchSize  int
	BatchDelay time.Duration
	// Parallelism caps in-flight researches within a batch. Zero runs the
	// whole batch at once.
	Parallelism int
}

// Coordinator researches many items of one vehicle, serving fresh cached
// analyses and researching the rest in batches.
type Coordinator struct {
	researcher Researcher
	cache      *freshness.Cache
	catalog    catalog.Catalog
	opts       BulkOptions
	now        func() time.Time
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// NewCoordinator creates a Coordinator. cat resolves ids that the request
// does not describe itself and may be nil.
func NewCoordinator(r Researcher, cache *freshness.Cache, cat catalog.Catalog, opts BulkOptions, log *slog.Logger, m *metrics.Metrics) *Coordinator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchDelay == 0 {
		opts.BatchDelay = DefaultBatchDelay
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{researcher: r, cache: cache, catalog: cat, opts: opts, now: time.Now, log: log, metrics: m}
}

// Run is one bulk invocation. Its report may be read while it executes.
type Run struct {
	mu     sync.Mutex
	report domain.BulkReport
	done   chan struct{}
}

func newRun(id string, total int, started time.Time) *Run {
	return &Run{
		report: domain.BulkReport{
			JobID:         id,
			Results:       []domain.ItemResult{},
			CachedResults: []domain.ItemResult{},
			NewResults:    []domain.ItemResult{},
			Errors:        []domain.ItemResult{},
			Progress:      domain.Progress{Total: total},
			StartedAt:     started,
		},
		done: make(chan struct{}),
	}
}

// Snapshot returns a copy of the report so far.
func (r *Run) Snapshot() domain.BulkReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.report
	s.Results = append([]domain.ItemResult(nil), r.report.Results...)
	s.CachedResults = append([]domain.ItemResult(nil), r.report.CachedResults...)
	s.NewResults = append([]domain.ItemResult(nil), r.report.NewResults...)
	s.Errors = append([]domain.ItemResult(nil), r.report.Errors...)
	return s
}

// Done is closed when the run finishes.
func (r *Run) Done() <-chan struct{} { return r.done }

// add records one item outcome. counted reports whether it advances
// Processed; cancelled items are reported but not processed.
func (r *Run) add(res domain.ItemResult, counted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Results = append(r.report.Results, res)
	switch {
	case !res.Success:
		r.report.Errors = append(r.report.Errors, res)
	case res.Cached:
		r.report.CachedResults = append(r.report.CachedResults, res)
		r.report.Progress.Cached++
	default:
		r.report.NewResults = append(r.report.NewResults, res)
	}
	if counted && r.report.Progress.Processed < r.report.Progress.Total {
		r.report.Progress.Processed++
	}
}

func (r *Run) finish(at time.Time, cancelled bool) {
	r.mu.Lock()
	r.report.Done = true
	r.report.Cancelled = cancelled
	r.report.FinishedAt = &at
	r.mu.Unlock()
	close(r.done)
}

// Run executes req and returns the final report. Structural problems with
// the request fail before any item is looked at.
func (c *Coordinator) Run(ctx context.Context, req domain.BulkRequest) (domain.BulkReport, error) {
	run, err := c.prepare("", req)
	if err != nil {
		return domain.BulkReport{}, err
	}
	c.execute(ctx, run, req)
	return run.Snapshot(), nil
}

// Start validates req and executes it in the background under ctx.
func (c *Coordinator) Start(ctx context.Context, id string, req domain.BulkRequest) (*Run, error) {
	run, err := c.prepare(id, req)
	if err != nil {
		return nil, err
	}
	go c.execute(ctx, run, req)
	return run, nil
}

func (c *Coordinator) prepare(id string, req domain.BulkRequest) (*Run, error) {
	if err := domain.ValidateBulk(req); err != nil {
		return nil, err
	}
	return newRun(id, len(fn.Unique(req.ItemIDs)), c.now().UTC()), nil
}

type pending struct {
	id    string
	query domain.ItemQuery
}

func (c *Coordinator) execute(ctx context.Context, run *Run, req domain.BulkRequest) {
	defer c.metrics.BulkStarted()()
	ids := fn.Unique(req.ItemIDs)
	log := c.log.With("job_id", run.report.JobID)
	log.Info("bulk research started", "items", len(ids), "force", req.ForceRefresh)
	start := c.now()

	var misses []pending
	for _, id := range ids {
		if ctx.Err() != nil {
			c.record(run, cancelledResult(id), false)
			continue
		}
		q, err := c.resolve(ctx, id, req)
		if err != nil {
			c.record(run, failedResult(id, err), true)
			continue
		}
		rec, hit, err := c.cache.Lookup(ctx, id, q.Vehicle.ContextHash(), req.ForceRefresh)
		if err != nil {
			log.Warn("freshness lookup failed, researching", "item_id", id, "error", err)
		}
		if hit {
			a := rec.MarketAnalysis
			c.record(run, domain.ItemResult{ItemID: id, Success: true, Cached: true, MarketAnalysis: &a}, true)
			continue
		}
		misses = append(misses, pending{id: id, query: q})
	}

	batches := fn.Chunk(misses, c.opts.BatchSize)
	for i, batch := range batches {
		if ctx.Err() != nil {
			for _, rest := range batches[i:] {
				for _, p := range rest {
					c.record(run, cancelledResult(p.id), false)
				}
			}
			break
		}
		c.runBatch(ctx, run, batch)

		if i < len(batches)-1 && c.opts.BatchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(c.opts.BatchDelay):
			}
		}
	}

	cancelled := ctx.Err() != nil
	run.finish(c.now().UTC(), cancelled)
	snap := run.Snapshot()
	log.Info("bulk research finished",
		"cached", len(snap.CachedResults), "new", len(snap.NewResults), "failed", len(snap.Errors),
		"cancelled", cancelled, "duration", c.now().Sub(start))
}

// runBatch researches every item of one batch concurrently. One item's
// failure never stops its siblings.
func (c *Coordinator) runBatch(ctx context.Context, run *Run, batch []pending) {
	var g errgroup.Group
	if c.opts.Parallelism > 0 {
		g.SetLimit(c.opts.Parallelism)
	}
	for _, p := range batch {
		p := p
		g.Go(func() error {
			rec, err := c.researcher.Research(ctx, p.query)
			if err != nil {
				c.record(run, failedResult(p.id, err), true)
				return nil
			}
			a := rec.MarketAnalysis
			c.record(run, domain.ItemResult{ItemID: p.id, Success: true, MarketAnalysis: &a}, true)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Coordinator) record(run *Run, res domain.ItemResult, counted bool) {
	outcome := "new"
	switch {
	case !res.Success:
		outcome = res.ErrorKind
	case res.Cached:
		outcome = "cached"
	}
	c.metrics.BulkItem(outcome)
	run.add(res, counted)
}

// resolve builds the query for id. The request's vehicle always applies.
func (c *Coordinator) resolve(ctx context.Context, id string, req domain.BulkRequest) (domain.ItemQuery, error) {
	q, ok := req.Items[id]
	if !ok {
		if c.catalog == nil {
			return q, fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
		}
		var err error
		if q, err = c.catalog.Item(ctx, id); err != nil {
			return q, err
		}
	}
	q.ItemID = id
	q.Vehicle = req.Vehicle
	return q, domain.ValidateItemQuery(q)
}

func failedResult(id string, err error) domain.ItemResult {
	return domain.ItemResult{ItemID: id, Error: err.Error(), ErrorKind: domain.KindOf(err)}
}

func cancelledResult(id string) domain.ItemResult {
	return failedResult(id, context.Canceled)
}
