package fn

import (
	"context"
	"sync"
	"time"
)

// Task is a unit of work that observes its context.
type Task[T any] func(context.Context) Result[T]

// Settle runs every task concurrently and waits for all of them to finish or
// time out. Results are returned in task order. Each task gets its own
// deadline; a task still running when its deadline passes resolves to
// ctx.Err() immediately, so one slow task never holds back the caller even if
// it ignores cancellation. A timeout <= 0 means no per-task deadline.
func Settle[T any](ctx context.Context, timeout time.Duration, tasks ...Task[T]) []Result[T] {
	out := make([]Result[T], len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task[T]) {
			defer wg.Done()
			out[i] = settleOne(ctx, timeout, task)
		}(i, task)
	}
	wg.Wait()
	return out
}

func settleOne[T any](ctx context.Context, timeout time.Duration, task Task[T]) Result[T] {
	tctx := ctx
	cancel := func() {}
	if timeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	// Buffered so an abandoned task can still deliver and exit.
	done := make(chan Result[T], 1)
	go func() {
		done <- task(tctx)
	}()

	select {
	case r := <-done:
		return r
	case <-tctx.Done():
		return Err[T](tctx.Err())
	}
}
