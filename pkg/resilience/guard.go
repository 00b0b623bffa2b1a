package resilience

import (
	"context"

	"github.com/WessleyAI/wessley-pricing/pkg/fn"
)

// Guard protects calls to one upstream dependency with a rate limiter in
// front of a circuit breaker. Either may be nil.
type Guard struct {
	Limiter *Limiter
	Breaker *Breaker
}

// NewGuard builds a Guard from limiter and breaker options.
func NewGuard(lo LimiterOpts, bo BreakerOpts) *Guard {
	return &Guard{Limiter: NewLimiter(lo), Breaker: NewBreaker(bo)}
}

// State reports the breaker state, or StateClosed when there is no breaker.
func (g *Guard) State() State {
	if g == nil || g.Breaker == nil {
		return StateClosed
	}
	return g.Breaker.State()
}

// Through runs f behind the guard. An open breaker rejects the call before a
// rate token is spent.
func Through[T any](ctx context.Context, g *Guard, f func(context.Context) fn.Result[T]) fn.Result[T] {
	if g == nil {
		return f(ctx)
	}
	if g.Breaker != nil && g.Breaker.State() == StateOpen {
		return fn.Err[T](ErrCircuitOpen)
	}
	if g.Limiter != nil {
		if err := g.Limiter.Wait(ctx); err != nil {
			return fn.Err[T](err)
		}
	}
	if g.Breaker == nil {
		return f(ctx)
	}
	return CallResult(g.Breaker, ctx, f)
}
