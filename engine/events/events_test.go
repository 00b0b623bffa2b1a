package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/WessleyAI/wessley-pricing/engine/catalog"
	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/pkg/metrics"
	"github.com/WessleyAI/wessley-pricing/pkg/natsutil"
)

type mockPublisher struct {
	mu   sync.Mutex
	msgs []*nats.Msg
	err  error
}

func (m *mockPublisher) PublishMsg(msg *nats.Msg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msg)
	return nil
}

func storedRecord() domain.ResearchRecord {
	return domain.ResearchRecord{
		ID: "r1", ItemID: "a1", ContextHash: "h",
		MarketAnalysis: domain.MarketAnalysis{
			RecommendedPrice: decimal.NewFromInt(86),
			Confidence:       100,
			SampleSize:       4,
			ReferenceListings: []domain.Observation{
				{URL: "https://x/1"}, {URL: ""}, {URL: "https://x/9", IsOutlier: true},
			},
		},
	}
}

func TestNATSNotifierPublishes(t *testing.T) {
	pub := &mockPublisher{}
	n := NewNATSNotifier(pub, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	n.ResearchCompleted(ctx, storedRecord())
	cancel() // the publish must survive the caller's cancellation
	n.Wait()

	if len(pub.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(pub.msgs))
	}
	if pub.msgs[0].Subject != SubjectResearchCompleted {
		t.Fatalf("subject = %s", pub.msgs[0].Subject)
	}
	_, ev, err := natsutil.Decode[ResearchCompleted](pub.msgs[0])
	if err != nil {
		t.Fatal(err)
	}
	if ev.ItemID != "a1" || !ev.RecommendedPrice.Equal(decimal.NewFromInt(86)) {
		t.Fatalf("event = %+v", ev)
	}
	if len(ev.ListingURLs) != 1 || ev.ListingURLs[0] != "https://x/1" {
		t.Fatalf("listing urls = %v", ev.ListingURLs)
	}
}

func TestNATSNotifierCountsFailures(t *testing.T) {
	m := metrics.New()
	n := NewNATSNotifier(&mockPublisher{err: errors.New("no responders")}, nil, m)
	n.ResearchCompleted(context.Background(), storedRecord())
	n.Wait()

	if cnt, err := testutil.GatherAndCount(m.Registry, "wessley_pricing_events_published_total"); err != nil || cnt != 1 {
		t.Fatalf("event series = %d, %v", cnt, err)
	}
}

func TestPriceSync(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemoryCatalog(domain.ItemQuery{ItemID: "a1", Name: "alternator"})
	s := PriceSync{Catalog: cat, MinConfidence: 50}

	s.Handle(ctx, ResearchCompleted{ItemID: "a1", RecommendedPrice: decimal.NewFromInt(10), Confidence: 25})
	if _, ok := cat.Price("a1"); ok {
		t.Fatal("low-confidence event should not sync")
	}

	s.Handle(ctx, NewResearchCompleted(storedRecord()))
	p, ok := cat.Price("a1")
	if !ok || !p.Price.Equal(decimal.NewFromInt(86)) {
		t.Fatalf("synced = %+v, %v", p, ok)
	}

	// Unknown items are logged, not panicked on.
	s.Handle(ctx, ResearchCompleted{ItemID: "zz", Confidence: 100})
}
