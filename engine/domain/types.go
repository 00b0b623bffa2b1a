// Package domain defines the core pricing types, the closed set of market
// sources, and the validation gate every research request passes before any
// source is contacted.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Prices travel as JSON numbers on every surface.
	decimal.MarshalJSONWithoutQuotes = true
}

// Source identifies a marketplace that supplies used-part prices.
type Source string

const (
	SourceEbay    Source = "ebay"
	SourceLKQ     Source = "lkq"
	SourceRow52   Source = "row52"
	SourceCarPart Source = "car-part"
)

// AllSources lists every known source in dispatch order.
var AllSources = []Source{SourceEbay, SourceLKQ, SourceRow52, SourceCarPart}

// Valid reports whether s is one of AllSources.
func (s Source) Valid() bool {
	for _, k := range AllSources {
		if s == k {
			return true
		}
	}
	return false
}

// ParseSource converts a configured name into a Source.
func ParseSource(name string) (Source, error) {
	s := Source(name)
	if !s.Valid() {
		return "", NewValidationError("source", name, ErrUnknownSource)
	}
	return s, nil
}

// Vehicle is the vehicle descriptor used to qualify searches.
type Vehicle struct {
	Year       int    `json:"year"`
	Make       string `json:"make"`
	Model      string `json:"model"`
	Trim       string `json:"trim,omitempty"`
	Engine     string `json:"engine,omitempty"`
	Drivetrain string `json:"drivetrain,omitempty"`
}

// ItemQuery describes one inventory item to research.
type ItemQuery struct {
	ItemID   string  `json:"itemId"`
	Name     string  `json:"name"`
	Category string  `json:"category,omitempty"`
	Vehicle  Vehicle `json:"vehicle"`
}

// Observation is one externally sourced price data point.
type Observation struct {
	Source       Source           `json:"source"`
	Price        decimal.Decimal  `json:"price"`
	Title        string           `json:"title,omitempty"`
	URL          string           `json:"url,omitempty"`
	Condition    string           `json:"condition,omitempty"`
	Location     string           `json:"location,omitempty"`
	ShippingCost *decimal.Decimal `json:"shippingCost,omitempty"`
	SearchQuery  string           `json:"searchQuery,omitempty"`
	IsOutlier    bool             `json:"isOutlier"`
}

// Trend classifies how spread out the retained prices are.
type Trend string

const (
	TrendStable   Trend = "stable"
	TrendModerate Trend = "moderate"
	TrendVolatile Trend = "volatile"
	TrendNoData   Trend = "no data"
)

// MarketAnalysis is the statistical summary of one item's observations.
type MarketAnalysis struct {
	SampleSize        int             `json:"sampleSize"`
	OutliersRemoved   int             `json:"outliersRemoved"`
	FinalMean         decimal.Decimal `json:"finalMean"`
	MinPrice          decimal.Decimal `json:"minPrice"`
	MaxPrice          decimal.Decimal `json:"maxPrice"`
	RecommendedPrice  decimal.Decimal `json:"recommendedPrice"`
	MarketTrend       Trend           `json:"marketTrend"`
	Confidence        int             `json:"confidence"`
	AnomalyDetected   bool            `json:"anomalyDetected"`
	ReferenceListings []Observation   `json:"referenceListings"`
	UnfilteredMean    decimal.Decimal `json:"unfilteredMean"`
	DeviationFromMean decimal.Decimal `json:"deviationFromMean"`
	IsWithinRange     bool            `json:"isWithinRange"`
	AnalyzedAt        time.Time       `json:"analyzedAt"`
	Sources           []SourceStatus  `json:"sources,omitempty"`
}

// SourceStatus is the outcome of one adapter during one research call.
type SourceStatus struct {
	Source       Source `json:"source"`
	Observations int    `json:"observations"`
	ErrorKind    string `json:"errorKind,omitempty"`
	Error        string `json:"error,omitempty"`
	DurationMs   int64  `json:"durationMs"`
}

// ResearchRecord is a persisted analysis keyed by (ItemID, ContextHash).
// Records are never mutated apart from IsActive flipping to false when a
// newer record supersedes them.
type ResearchRecord struct {
	ID             string         `json:"id"`
	ItemID         string         `json:"itemId"`
	ContextHash    string         `json:"contextHash"`
	Query          ItemQuery      `json:"query"`
	MarketAnalysis MarketAnalysis `json:"marketAnalysis"`
	ResearchDate   time.Time      `json:"researchDate"`
	IsActive       bool           `json:"isActive"`
}

// BulkRequest asks for research on many items of one vehicle.
type BulkRequest struct {
	ItemIDs      []string `json:"itemIds"`
	Vehicle      Vehicle  `json:"vehicle"`
	ForceRefresh bool     `json:"forceRefresh"`
	// Items optionally supplies the query for each id. Ids without an entry
	// are resolved through the catalog.
	Items map[string]ItemQuery `json:"items,omitempty"`
}

// ItemResult is the outcome for one item of a bulk run.
type ItemResult struct {
	ItemID         string          `json:"itemId"`
	Success        bool            `json:"success"`
	Cached         bool            `json:"cached"`
	MarketAnalysis *MarketAnalysis `json:"marketAnalysis,omitempty"`
	Error          string          `json:"error,omitempty"`
	ErrorKind      string          `json:"errorKind,omitempty"`
}

// Progress counts bulk work done so far. Processed never exceeds Total.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Cached    int `json:"cached"`
}

// BulkReport is the combined result of one bulk run.
type BulkReport struct {
	JobID         string       `json:"jobId"`
	Results       []ItemResult `json:"results"`
	CachedResults []ItemResult `json:"cachedResults"`
	NewResults    []ItemResult `json:"newResults"`
	Errors        []ItemResult `json:"errors"`
	Progress      Progress     `json:"progress"`
	Cancelled     bool         `json:"cancelled"`
	Done          bool         `json:"done"`
	StartedAt     time.Time    `json:"startedAt"`
	FinishedAt    *time.Time   `json:"finishedAt,omitempty"`
}

// RawListing is one listing as an adapter scraped it, before price parsing.
// Price and ShippingCost hold the source's text, e.g. "$1,234.50" or "89.99".
type RawListing struct {
	Source       Source
	Price        string
	Title        string
	URL          string
	Condition    string
	Location     string
	ShippingCost string
	SearchQuery  string
}
