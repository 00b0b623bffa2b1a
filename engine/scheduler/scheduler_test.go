package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/WessleyAI/wessley-pricing/engine/catalog"
	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/engine/freshness"
	"github.com/WessleyAI/wessley-pricing/engine/records"
)

type fakeBulk struct {
	reqs []domain.BulkRequest
	err  error
}

func (f *fakeBulk) Run(_ context.Context, req domain.BulkRequest) (domain.BulkReport, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return domain.BulkReport{}, f.err
	}
	var rep domain.BulkReport
	for _, id := range req.ItemIDs {
		rep.NewResults = append(rep.NewResults, domain.ItemResult{ItemID: id, Success: true})
	}
	return rep, nil
}

var (
	civic  = domain.Vehicle{Year: 2015, Make: "Honda", Model: "Civic"}
	ranger = domain.Vehicle{Year: 1999, Make: "Ford", Model: "Ranger"}
)

func TestRefreshStale(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemoryCatalog(
		domain.ItemQuery{ItemID: "a", Name: "alternator", Vehicle: civic},
		domain.ItemQuery{ItemID: "b", Name: "starter", Vehicle: civic},
		domain.ItemQuery{ItemID: "c", Name: "radiator", Vehicle: ranger},
		domain.ItemQuery{ItemID: "d", Name: "", Vehicle: ranger},
	)
	store := records.NewMemoryStore()
	cache := freshness.New(store, 24*time.Hour, nil, nil)
	// a is fresh, b is stale, c has never been researched.
	cache.Store(ctx, domain.ResearchRecord{ItemID: "a", ContextHash: civic.ContextHash(), ResearchDate: time.Now().Add(-time.Hour)})
	cache.Store(ctx, domain.ResearchRecord{ItemID: "b", ContextHash: civic.ContextHash(), ResearchDate: time.Now().Add(-48 * time.Hour)})

	bulk := &fakeBulk{}
	r := &Refresher{Catalog: cat, Cache: cache, Bulk: bulk}
	sum, err := r.RefreshStale(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum != (Summary{Scanned: 4, Stale: 2, Refreshed: 2, Skipped: 1}) {
		t.Fatalf("summary = %+v", sum)
	}
	if len(bulk.reqs) != 2 {
		t.Fatalf("expected one bulk run per vehicle, got %d", len(bulk.reqs))
	}
	for _, req := range bulk.reqs {
		if len(req.ItemIDs) != 1 {
			t.Fatalf("request = %+v", req)
		}
		id := req.ItemIDs[0]
		if req.Items[id].ItemID != id || req.Vehicle != req.Items[id].Vehicle {
			t.Fatalf("request = %+v", req)
		}
	}
}

func TestRefreshStaleCountsRejectedGroups(t *testing.T) {
	cat := catalog.NewMemoryCatalog(domain.ItemQuery{ItemID: "c", Name: "radiator", Vehicle: ranger})
	cache := freshness.New(records.NewMemoryStore(), 0, nil, nil)
	r := &Refresher{Catalog: cat, Cache: cache, Bulk: &fakeBulk{err: errors.New("rejected")}}
	sum, err := r.RefreshStale(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Failed != 1 || sum.Refreshed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestNewValidatesSpec(t *testing.T) {
	r := &Refresher{}
	if _, err := New("not a schedule", r, nil); err == nil {
		t.Fatal("expected invalid spec error")
	}
	s, err := New("", r, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}
