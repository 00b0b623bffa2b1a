package research

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
)

// DefaultJobRetention is how long a finished job stays pollable.
const DefaultJobRetention = time.Hour

// Jobs runs bulk requests asynchronously and keeps their reports for
// polling.
type Jobs struct {
	coord     *Coordinator
	retention time.Duration
	now       func() time.Time

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

type job struct {
	run    *Run
	cancel context.CancelFunc
}

// NewJobs creates a job registry over coord. retention <= 0 uses
// DefaultJobRetention.
func NewJobs(coord *Coordinator, retention time.Duration) *Jobs {
	if retention <= 0 {
		retention = DefaultJobRetention
	}
	return &Jobs{coord: coord, retention: retention, now: time.Now, jobs: make(map[string]*job)}
}

// Start validates req and runs it in the background, detached from any
// request context. It returns the job id.
func (j *Jobs) Start(req domain.BulkRequest) (string, error) {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	run, err := j.coord.Start(ctx, id, req)
	if err != nil {
		cancel()
		return "", err
	}

	j.mu.Lock()
	j.pruneLocked()
	j.jobs[id] = &job{run: run, cancel: cancel}
	j.mu.Unlock()

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		<-run.Done()
		cancel()
	}()
	return id, nil
}

// Get returns the live report of a job.
func (j *Jobs) Get(id string) (domain.BulkReport, bool) {
	j.mu.Lock()
	jb, ok := j.jobs[id]
	j.mu.Unlock()
	if !ok {
		return domain.BulkReport{}, false
	}
	return jb.run.Snapshot(), true
}

// Cancel stops a job at its next batch boundary. Items already in flight
// finish. It reports whether the job exists.
func (j *Jobs) Cancel(id string) bool {
	j.mu.Lock()
	jb, ok := j.jobs[id]
	j.mu.Unlock()
	if ok {
		jb.cancel()
	}
	return ok
}

// Shutdown cancels every job and waits for them to drain or ctx to end.
func (j *Jobs) Shutdown(ctx context.Context) error {
	j.mu.Lock()
	for _, jb := range j.jobs {
		jb.cancel()
	}
	j.mu.Unlock()

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Jobs) pruneLocked() {
	cutoff := j.now().Add(-j.retention)
	for id, jb := range j.jobs {
		r := jb.run.Snapshot()
		if r.Done && r.FinishedAt != nil && r.FinishedAt.Before(cutoff) {
			delete(j.jobs, id)
		}
	}
}
