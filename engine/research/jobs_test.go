package research

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/engine/records"
)

func waitJob(t *testing.T, j *Jobs, id string) domain.BulkReport {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	last := 0
	for time.Now().Before(deadline) {
		r, ok := j.Get(id)
		if !ok {
			t.Fatalf("job %s disappeared", id)
		}
		if r.Progress.Processed < last || r.Progress.Processed > r.Progress.Total {
			t.Fatalf("progress went from %d to %+v", last, r.Progress)
		}
		last = r.Progress.Processed
		if r.Done {
			return r
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("job did not finish")
	return domain.BulkReport{}
}

func TestJobsRunToCompletion(t *testing.T) {
	r := &fakeResearcher{delay: 3 * time.Millisecond}
	j := NewJobs(newCoordinator(r, records.NewMemoryStore(), nil, BulkOptions{BatchSize: 2, BatchDelay: 5 * time.Millisecond}), 0)

	id, err := j.Start(bulkRequest("a", "b", "c", "d", "e"))
	if err != nil {
		t.Fatal(err)
	}
	report := waitJob(t, j, id)
	if report.JobID != id || len(report.NewResults) != 5 || report.Progress.Processed != 5 {
		t.Fatalf("report = %+v", report)
	}
}

func TestJobsCancel(t *testing.T) {
	release := make(chan struct{})
	r := &fakeResearcher{hook: func(context.Context, domain.ItemQuery) { <-release }}
	j := NewJobs(newCoordinator(r, records.NewMemoryStore(), nil, BulkOptions{BatchSize: 1, BatchDelay: -1}), 0)

	id, err := j.Start(bulkRequest("a", "b", "c"))
	if err != nil {
		t.Fatal(err)
	}
	if !j.Cancel(id) {
		t.Fatal("Cancel reported unknown job")
	}
	close(release)

	report := waitJob(t, j, id)
	if !report.Cancelled || len(report.Results) != 3 {
		t.Fatalf("report = %+v", report)
	}
	if j.Cancel("nope") {
		t.Fatal("Cancel of unknown job should report false")
	}
	if _, ok := j.Get("nope"); ok {
		t.Fatal("Get of unknown job should report false")
	}
}

func TestJobsRejectInvalidRequest(t *testing.T) {
	j := NewJobs(newCoordinator(&fakeResearcher{}, records.NewMemoryStore(), nil, BulkOptions{}), 0)
	if _, err := j.Start(domain.BulkRequest{Vehicle: accord}); !errors.Is(err, domain.ErrStructural) {
		t.Fatalf("expected structural error, got %v", err)
	}
}

func TestJobsPruneFinished(t *testing.T) {
	j := NewJobs(newCoordinator(&fakeResearcher{}, records.NewMemoryStore(), nil, BulkOptions{BatchDelay: -1}), time.Minute)
	id, err := j.Start(bulkRequest("a"))
	if err != nil {
		t.Fatal(err)
	}
	waitJob(t, j, id)

	j.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := j.Start(bulkRequest("b")); err != nil {
		t.Fatal(err)
	}
	if _, ok := j.Get(id); ok {
		t.Fatal("finished job past retention should be pruned")
	}
	if err := j.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}
