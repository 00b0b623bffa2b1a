// Package research runs the price research pipeline for one item and
// coordinates bulk runs over many items.
package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/engine/events"
	"github.com/WessleyAI/wessley-pricing/engine/freshness"
	"github.com/WessleyAI/wessley-pricing/engine/market"
	"github.com/WessleyAI/wessley-pricing/engine/sources"
	"github.com/WessleyAI/wessley-pricing/pkg/fn"
	"github.com/WessleyAI/wessley-pricing/pkg/metrics"
)

const tracerName = "github.com/WessleyAI/wessley-pricing/engine/research"

// DefaultAdapterTimeout bounds how long research waits for one source.
const DefaultAdapterTimeout = 10 * time.Second

// StoreRetry is the retry policy for write conflicts on the record store.
var StoreRetry = fn.RetryOpts{
	MaxAttempts: 5,
	InitialWait: 20 * time.Millisecond,
	MaxWait:     500 * time.Millisecond,
	Jitter:      true,
	RetryIf:     func(err error) bool { return errors.Is(err, domain.ErrWriteConflict) },
}

// Fetcher is one protected marketplace source. *sources.Guarded is the
// production implementation.
type Fetcher interface {
	Source() domain.Source
	Fetch(ctx context.Context, q domain.ItemQuery) fn.Result[[]domain.RawListing]
}

// Researcher researches one item and stores the result.
type Researcher interface {
	Research(ctx context.Context, q domain.ItemQuery) (domain.ResearchRecord, error)
}

// Options tunes an Orchestrator. Zero fields take defaults.
type Options struct {
	AdapterTimeout time.Duration
	Policy         market.Policy
	StoreRetry     *fn.RetryOpts
}

// Orchestrator fans a query out to every source, evaluates the combined
// observations and stores the analysis.
type Orchestrator struct {
	fetchers []Fetcher
	cache    *freshness.Cache
	notifier events.Notifier
	timeout  time.Duration
	policy   market.Policy
	retry    fn.RetryOpts
	now      func() time.Time
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewOrchestrator creates an Orchestrator. notifier may be nil.
func NewOrchestrator(fetchers []Fetcher, cache *freshness.Cache, notifier events.Notifier, opts Options, log *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = events.Nop{}
	}
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = DefaultAdapterTimeout
	}
	retry := StoreRetry
	if opts.StoreRetry != nil {
		retry = *opts.StoreRetry
	}
	return &Orchestrator{
		fetchers: fetchers,
		cache:    cache,
		notifier: notifier,
		timeout:  opts.AdapterTimeout,
		policy:   opts.Policy,
		retry:    retry,
		now:      time.Now,
		log:      log,
		metrics:  m,
	}
}

// gathered is what the fetch stage hands to evaluation.
type gathered struct {
	query    domain.ItemQuery
	obs      []domain.Observation
	statuses []domain.SourceStatus
}

// Research validates q, queries every source and stores the analysis as
// the new active record for q's key. It returns domain.ErrNoData when no
// source produced a usable price.
func (o *Orchestrator) Research(ctx context.Context, q domain.ItemQuery) (domain.ResearchRecord, error) {
	if err := domain.ValidateItemQuery(q); err != nil {
		o.metrics.Research(domain.KindStructural, 0)
		return domain.ResearchRecord{}, err
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "research",
		trace.WithAttributes(attribute.String("item_id", q.ItemID), attribute.String("context_hash", q.Vehicle.ContextHash())))
	defer span.End()
	log := o.log.With("item_id", q.ItemID, "trace_id", span.SpanContext().TraceID().String())

	start := o.now()
	pipeline := fn.Then(
		fn.TracedStage("research.fetch", o.fetch),
		fn.Then(
			fn.TracedStage("research.evaluate", fn.MapStage(o.evaluate)),
			fn.TracedStage("research.store", o.store),
		),
	)
	rec, err := pipeline(ctx, q).Unwrap()
	elapsed := o.now().Sub(start)
	if err != nil {
		kind := domain.KindOf(err)
		o.metrics.Research(kind, elapsed)
		log.Warn("research failed", "kind", kind, "error", err, "duration", elapsed)
		return domain.ResearchRecord{}, err
	}
	o.metrics.Research("ok", elapsed)
	span.SetAttributes(attribute.Int("sample_size", rec.MarketAnalysis.SampleSize))
	log.Info("research complete",
		"sample_size", rec.MarketAnalysis.SampleSize,
		"recommended", rec.MarketAnalysis.RecommendedPrice.String(),
		"duration", elapsed)
	o.notifier.ResearchCompleted(ctx, rec)
	return rec, nil
}

func (o *Orchestrator) fetch(ctx context.Context, q domain.ItemQuery) fn.Result[gathered] {
	start := o.now()
	// took[i] stays zero until fetcher i returns; abandoned fetchers are
	// timed when Settle gives up on them.
	took := make([]atomic.Int64, len(o.fetchers))
	tasks := make([]fn.Task[[]domain.RawListing], len(o.fetchers))
	for i, f := range o.fetchers {
		i, f := i, f
		tasks[i] = func(ctx context.Context) fn.Result[[]domain.RawListing] {
			r := f.Fetch(ctx, q)
			took[i].Store(max(o.now().Sub(start).Milliseconds(), 1))
			return r
		}
	}

	results := fn.Settle(ctx, o.timeout, tasks...)
	settled := o.now().Sub(start).Milliseconds()

	if err := ctx.Err(); err != nil {
		return fn.Err[gathered](err)
	}

	raw := make([][]domain.RawListing, len(results))
	statuses := make([]domain.SourceStatus, len(results))
	for i, r := range results {
		src := o.fetchers[i].Source()
		d := took[i].Load()
		if d == 0 {
			d = settled
		}
		statuses[i] = domain.SourceStatus{Source: src, DurationMs: d}
		ls, err := r.Unwrap()
		if err != nil {
			ae := sources.Classify(src, err)
			statuses[i].ErrorKind = string(ae.Kind)
			statuses[i].Error = ae.Error()
			if errors.Is(err, context.DeadlineExceeded) {
				o.log.Warn("source timed out", "source", string(src), "item_id", q.ItemID, "duration", o.timeout)
			}
			continue
		}
		raw[i] = ls
	}

	obs := market.Normalize(raw...)
	for _, ob := range obs {
		for i := range statuses {
			if statuses[i].Source == ob.Source {
				statuses[i].Observations++
				break
			}
		}
	}
	if len(obs) == 0 {
		return fn.Err[gathered](fmt.Errorf("item %s: %w", q.ItemID, domain.ErrNoData))
	}
	return fn.Ok(gathered{query: q, obs: obs, statuses: statuses})
}

func (o *Orchestrator) evaluate(g gathered) domain.ResearchRecord {
	a := o.policy.Evaluate(g.obs)
	o.metrics.Analysis(a.SampleSize, a.OutliersRemoved)
	a.AnalyzedAt = o.now().UTC()
	a.Sources = g.statuses
	return domain.ResearchRecord{
		ItemID:         g.query.ItemID,
		ContextHash:    g.query.Vehicle.ContextHash(),
		Query:          g.query,
		MarketAnalysis: a,
		ResearchDate:   a.AnalyzedAt,
	}
}

func (o *Orchestrator) store(ctx context.Context, draft domain.ResearchRecord) fn.Result[domain.ResearchRecord] {
	return fn.Retry(ctx, o.retry, func(ctx context.Context) fn.Result[domain.ResearchRecord] {
		return fn.FromPair(o.cache.Store(ctx, draft))
	})
}
