package sources

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/pkg/fn"
	"github.com/WessleyAI/wessley-pricing/pkg/metrics"
	"github.com/WessleyAI/wessley-pricing/pkg/resilience"
)

const tracerName = "github.com/WessleyAI/wessley-pricing/engine/sources"

// Classify returns err as an AdapterError for src, keeping an existing
// classification.
func Classify(src domain.Source, err error) *domain.AdapterError {
	var ae *domain.AdapterError
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return domain.NewAdapterError(src, domain.AdapterTimeout, err)
	case errors.Is(err, resilience.ErrCircuitOpen):
		return domain.NewAdapterError(src, domain.AdapterCircuit, err)
	case errors.Is(err, resilience.ErrRateLimited):
		return domain.NewAdapterError(src, domain.AdapterRateLimit, err)
	default:
		return domain.NewAdapterError(src, domain.AdapterNetwork, err)
	}
}

// GuardOpts configures the protection around one adapter.
type GuardOpts struct {
	MaxResults int
	Limiter    resilience.LimiterOpts
	Breaker    resilience.BreakerOpts
}

// Guarded runs an Adapter behind a rate limiter and circuit breaker and
// records the outcome of every call.
type Guarded struct {
	adapter Adapter
	guard   *resilience.Guard
	max     int
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewGuarded wraps a.
func NewGuarded(a Adapter, opts GuardOpts, log *slog.Logger, m *metrics.Metrics) *Guarded {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	src := string(a.Source())
	bo := opts.Breaker
	bo.IsFailure = func(err error) bool {
		// An empty result set says nothing about the marketplace's health.
		var ae *domain.AdapterError
		if errors.As(err, &ae) && ae.Kind == domain.AdapterEmpty {
			return false
		}
		return !errors.Is(err, context.Canceled)
	}
	bo.OnStateChange = func(from, to resilience.State) {
		log.Warn("source breaker state changed", "source", src, "from", from.String(), "to", to.String())
		m.BreakerState(src, int(to))
	}
	return &Guarded{
		adapter: a,
		guard:   resilience.NewGuard(opts.Limiter, bo),
		max:     opts.MaxResults,
		log:     log.With("source", src),
		metrics: m,
	}
}

// Source reports which marketplace the adapter queries.
func (g *Guarded) Source() domain.Source { return g.adapter.Source() }

// State reports the breaker state.
func (g *Guarded) State() resilience.State { return g.guard.State() }

// Fetch calls the adapter. A call that yields no listings is an
// AdapterError of kind empty.
func (g *Guarded) Fetch(ctx context.Context, q domain.ItemQuery) fn.Result[[]domain.RawListing] {
	start := time.Now()
	src := g.adapter.Source()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "source.fetch",
		trace.WithAttributes(attribute.String("source", string(src)), attribute.String("item_id", q.ItemID)))
	defer span.End()

	r := resilience.Through(ctx, g.guard, func(ctx context.Context) fn.Result[[]domain.RawListing] {
		ls, err := g.adapter.Fetch(ctx, q)
		if err != nil {
			return fn.Err[[]domain.RawListing](err)
		}
		if len(ls) == 0 {
			return fn.Err[[]domain.RawListing](domain.NewAdapterError(src, domain.AdapterEmpty, nil))
		}
		return fn.Ok(Truncate(ls, g.max))
	})

	ls, err := r.Unwrap()
	if err != nil {
		ae := Classify(src, err)
		span.SetAttributes(attribute.String("error_kind", string(ae.Kind)))
		if ae.Kind != domain.AdapterEmpty {
			span.SetStatus(codes.Error, ae.Error())
		}
		g.metrics.SourceFetch(string(src), string(ae.Kind), 0, time.Since(start))
		g.log.Warn("source fetch failed", "item_id", q.ItemID, "kind", string(ae.Kind), "error", ae, "duration", time.Since(start))
		return fn.Err[[]domain.RawListing](ae)
	}
	span.SetAttributes(attribute.Int("listings", len(ls)))
	g.metrics.SourceFetch(string(src), "ok", len(ls), time.Since(start))
	g.log.Debug("source fetch ok", "item_id", q.ItemID, "listings", len(ls), "duration", time.Since(start))
	return fn.Ok(ls)
}
