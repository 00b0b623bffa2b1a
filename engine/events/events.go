// Package events publishes research outcomes on NATS for downstream
// consumers such as image acquisition and catalog price sync.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"github.com/WessleyAI/wessley-pricing/engine/catalog"
	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/pkg/metrics"
	"github.com/WessleyAI/wessley-pricing/pkg/natsutil"
)

// SubjectResearchCompleted carries a ResearchCompleted for every stored
// analysis.
const SubjectResearchCompleted = "pricing.research.completed"

// publishTimeout bounds one fire-and-forget publish.
const publishTimeout = 5 * time.Second

// ResearchCompleted is published after a new analysis is stored.
type ResearchCompleted struct {
	RecordID         string           `json:"recordId"`
	ItemID           string           `json:"itemId"`
	ContextHash      string           `json:"contextHash"`
	Query            domain.ItemQuery `json:"query"`
	RecommendedPrice decimal.Decimal  `json:"recommendedPrice"`
	Confidence       int              `json:"confidence"`
	SampleSize       int              `json:"sampleSize"`
	// ListingURLs point at the reference listings, for image acquisition.
	ListingURLs []string  `json:"listingUrls,omitempty"`
	AnalyzedAt  time.Time `json:"analyzedAt"`
}

// NewResearchCompleted builds the event for rec.
func NewResearchCompleted(rec domain.ResearchRecord) ResearchCompleted {
	a := rec.MarketAnalysis
	var urls []string
	for _, o := range a.ReferenceListings {
		if o.URL != "" && !o.IsOutlier {
			urls = append(urls, o.URL)
		}
	}
	return ResearchCompleted{
		RecordID:         rec.ID,
		ItemID:           rec.ItemID,
		ContextHash:      rec.ContextHash,
		Query:            rec.Query,
		RecommendedPrice: a.RecommendedPrice,
		Confidence:       a.Confidence,
		SampleSize:       a.SampleSize,
		ListingURLs:      urls,
		AnalyzedAt:       a.AnalyzedAt,
	}
}

// Notifier announces stored research. Calls never block on delivery and
// never fail the caller.
type Notifier interface {
	ResearchCompleted(ctx context.Context, rec domain.ResearchRecord)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) ResearchCompleted(context.Context, domain.ResearchRecord) {}

// NATSNotifier publishes notifications in the background. Failures are
// logged and counted.
type NATSNotifier struct {
	pub     natsutil.MsgPublisher
	log     *slog.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewNATSNotifier creates a notifier publishing through pub.
func NewNATSNotifier(pub natsutil.MsgPublisher, log *slog.Logger, m *metrics.Metrics) *NATSNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &NATSNotifier{pub: pub, log: log, metrics: m}
}

func (n *NATSNotifier) ResearchCompleted(ctx context.Context, rec domain.ResearchRecord) {
	ev := NewResearchCompleted(rec)
	// Detached from the request so a finished handler does not cancel it;
	// the span context still propagates.
	ctx = context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := natsutil.Publish(pctx, n.pub, SubjectResearchCompleted, ev); err != nil {
			n.metrics.Event(SubjectResearchCompleted, "error")
			n.log.Warn("publish research event failed", "item_id", ev.ItemID, "error", err)
			return
		}
		n.metrics.Event(SubjectResearchCompleted, "ok")
	}()
}

// Wait blocks until in-flight publishes finish.
func (n *NATSNotifier) Wait() { n.wg.Wait() }

// PriceSync pushes recommended prices from research events into a catalog.
type PriceSync struct {
	Catalog       catalog.Catalog
	MinConfidence int
	Log           *slog.Logger
}

// Handle applies one event.
func (s PriceSync) Handle(ctx context.Context, ev ResearchCompleted) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	if ev.Confidence < s.MinConfidence {
		log.Debug("price sync skipped, low confidence", "item_id", ev.ItemID, "confidence", ev.Confidence)
		return
	}
	a := domain.MarketAnalysis{RecommendedPrice: ev.RecommendedPrice, Confidence: ev.Confidence, SampleSize: ev.SampleSize, AnalyzedAt: ev.AnalyzedAt}
	if err := s.Catalog.SyncPrice(ctx, ev.ItemID, a); err != nil {
		log.Warn("price sync failed", "item_id", ev.ItemID, "error", err)
		return
	}
	log.Info("price synced", "item_id", ev.ItemID, "price", ev.RecommendedPrice.String())
}

// Subscribe attaches s to nc on a queue group so one replica handles each
// event.
func (s PriceSync) Subscribe(nc *nats.Conn, queue string) (*nats.Subscription, error) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	return natsutil.Subscribe(nc, SubjectResearchCompleted, queue, log, s.Handle)
}
