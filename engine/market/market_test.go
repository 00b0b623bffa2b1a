package market

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
)

func obsAt(prices ...string) []domain.Observation {
	out := make([]domain.Observation, len(prices))
	for i, p := range prices {
		out[i] = domain.Observation{Source: domain.AllSources[i%len(domain.AllSources)], Price: decimal.RequireFromString(p)}
	}
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"$1,234.50", "1234.5", true},
		{"US $89.99", "89.99", true},
		{"1234.5 USD", "1234.5", true},
		{"75", "75", true},
		{" $ 12.345 ", "12.35", true},
		{"1.5e2", "150", true},
		{"NaN", "", false},
		{"call for price", "", false},
		{"$100 - $200", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := ParsePrice(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParsePrice(%q) err = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if tt.ok && !got.Equal(dec(tt.want)) {
			t.Errorf("ParsePrice(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeDropsBadPrices(t *testing.T) {
	ebay := []domain.RawListing{
		{Source: domain.SourceEbay, Price: "$120.00", Title: " Alternator ", ShippingCost: "$15.00"},
		{Source: domain.SourceEbay, Price: "0"},
		{Source: domain.SourceEbay, Price: "-5"},
	}
	lkq := []domain.RawListing{
		{Source: domain.SourceLKQ, Price: "120.00", Title: "Alternator"},
		{Source: domain.SourceLKQ, Price: "Inf"},
	}
	obs := Normalize(ebay, nil, lkq)
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(obs))
	}
	// Identical listings from two sources are independent samples.
	if obs[0].Source != domain.SourceEbay || obs[1].Source != domain.SourceLKQ {
		t.Fatalf("sources = %s, %s", obs[0].Source, obs[1].Source)
	}
	if obs[0].Title != "Alternator" || obs[0].ShippingCost == nil || !obs[0].ShippingCost.Equal(dec("15")) {
		t.Fatalf("metadata not carried: %+v", obs[0])
	}
	for _, o := range obs {
		if !o.Price.IsPositive() {
			t.Fatalf("non-positive price survived: %s", o.Price)
		}
	}
}

func TestNormalizeEmpty(t *testing.T) {
	if obs := Normalize(); len(obs) != 0 {
		t.Fatalf("expected none, got %v", obs)
	}
}

func TestEvaluateScenario(t *testing.T) {
	a := Evaluate(obsAt("100", "105", "98", "102", "500"))

	if !a.UnfilteredMean.Equal(dec("181")) {
		t.Errorf("unfiltered mean = %s", a.UnfilteredMean)
	}
	if !a.FinalMean.Equal(dec("101.25")) {
		t.Errorf("final mean = %s", a.FinalMean)
	}
	if !a.RecommendedPrice.Equal(dec("86")) {
		t.Errorf("recommended = %s", a.RecommendedPrice)
	}
	if a.SampleSize != 5 || a.OutliersRemoved != 1 || !a.AnomalyDetected {
		t.Errorf("sample=%d outliers=%d anomaly=%v", a.SampleSize, a.OutliersRemoved, a.AnomalyDetected)
	}
	if !a.MinPrice.Equal(dec("98")) || !a.MaxPrice.Equal(dec("105")) {
		t.Errorf("range = %s..%s", a.MinPrice, a.MaxPrice)
	}
	if a.MarketTrend != domain.TrendStable || a.Confidence != 100 {
		t.Errorf("trend=%s confidence=%d", a.MarketTrend, a.Confidence)
	}
	if len(a.ReferenceListings) != 5 {
		t.Fatalf("reference listings = %d", len(a.ReferenceListings))
	}
	last := a.ReferenceListings[4]
	if !last.IsOutlier || !last.Price.Equal(dec("500")) {
		t.Errorf("outlier should be listed last and flagged: %+v", last)
	}
	for _, o := range a.ReferenceListings[:4] {
		if o.IsOutlier {
			t.Errorf("retained listing flagged as outlier: %s", o.Price)
		}
	}
	if a.IsWithinRange {
		t.Errorf("deviation %s%% should be outside range", a.DeviationFromMean)
	}
}

func TestEvaluateEmpty(t *testing.T) {
	a := Evaluate(nil)
	if a.SampleSize != 0 || a.MarketTrend != domain.TrendNoData || a.Confidence != 0 {
		t.Fatalf("got %+v", a)
	}
	for name, d := range map[string]decimal.Decimal{
		"finalMean": a.FinalMean, "min": a.MinPrice, "max": a.MaxPrice,
		"recommended": a.RecommendedPrice, "unfiltered": a.UnfilteredMean,
	} {
		if !d.IsZero() {
			t.Errorf("%s = %s, want 0", name, d)
		}
	}
	if a.ReferenceListings == nil {
		t.Error("reference listings should encode as an empty list")
	}
}

func TestEvaluateSingleObservation(t *testing.T) {
	a := Evaluate(obsAt("42.50"))
	if a.OutliersRemoved != 0 || a.AnomalyDetected {
		t.Fatal("a single observation cannot be an outlier")
	}
	if a.MarketTrend != domain.TrendStable || a.Confidence != 25 {
		t.Fatalf("trend=%s confidence=%d", a.MarketTrend, a.Confidence)
	}
	if !a.FinalMean.Equal(dec("42.5")) || !a.RecommendedPrice.Equal(dec("36")) {
		t.Fatalf("mean=%s recommended=%s", a.FinalMean, a.RecommendedPrice)
	}
}

func TestEvaluateIdenticalPrices(t *testing.T) {
	for _, price := range []string{"19.99", "250", "0.01"} {
		a := Evaluate(obsAt(price, price, price, price, price, price))
		if !a.FinalMean.Equal(dec(price)) {
			t.Errorf("%s: final mean = %s", price, a.FinalMean)
		}
		if a.OutliersRemoved != 0 || a.MarketTrend != domain.TrendStable {
			t.Errorf("%s: outliers=%d trend=%s", price, a.OutliersRemoved, a.MarketTrend)
		}
	}
}

func TestEvaluateMutuallyInconsistent(t *testing.T) {
	a := Evaluate(obsAt("1", "100"))
	if a.OutliersRemoved != 2 || !a.AnomalyDetected {
		t.Fatalf("outliers=%d anomaly=%v", a.OutliersRemoved, a.AnomalyDetected)
	}
	if !a.FinalMean.Equal(dec("50.5")) {
		t.Fatalf("should fall back to unfiltered mean, got %s", a.FinalMean)
	}
	if a.MarketTrend != domain.TrendVolatile {
		t.Fatalf("trend = %s", a.MarketTrend)
	}
	for _, o := range a.ReferenceListings {
		if !o.IsOutlier {
			t.Fatal("all listings should be flagged")
		}
	}
}

func TestEvaluateTrendBands(t *testing.T) {
	tests := []struct {
		prices []string
		want   domain.Trend
	}{
		{[]string{"100", "110"}, domain.TrendStable},   // range 10 < 21
		{[]string{"100", "130"}, domain.TrendModerate}, // range 30 within [23, 57.5]
		{[]string{"100", "120", "150"}, domain.TrendModerate},
	}
	for _, tt := range tests {
		a := Evaluate(obsAt(tt.prices...))
		if a.MarketTrend != tt.want {
			t.Errorf("%v: trend = %s, want %s", tt.prices, a.MarketTrend, tt.want)
		}
	}
	// Volatile needs a spread over half the mean that survives filtering,
	// which a wider anomaly band allows.
	p := Policy{AnomalyThreshold: 1.0}
	if a := p.Evaluate(obsAt("60", "100", "140")); a.MarketTrend != domain.TrendVolatile {
		t.Errorf("trend = %s, want volatile", a.MarketTrend)
	}
}

func TestConfidenceMonotonicAndBounded(t *testing.T) {
	prev := -1
	prices := []string{}
	for n := 1; n <= 12; n++ {
		prices = append(prices, "100")
		c := Evaluate(obsAt(prices...)).Confidence
		if c < 0 || c > 100 {
			t.Fatalf("n=%d confidence %d out of bounds", n, c)
		}
		if c < prev {
			t.Fatalf("n=%d confidence decreased %d -> %d", n, prev, c)
		}
		prev = c
	}
	if prev != 100 {
		t.Fatalf("confidence should saturate at 100, got %d", prev)
	}
}

func TestRetainedWithinBandOfFinalMean(t *testing.T) {
	sets := [][]string{
		{"100", "105", "98", "102", "500"},
		{"10", "10", "10", "13", "40"},
		{"250", "260", "240", "255", "90", "600"},
		{"45", "50", "55", "60", "65", "70", "200"},
		{"1", "2", "3", "4", "5"},
	}
	// Means are reported rounded to cents.
	tol := dec("0.01")
	for _, prices := range sets {
		a := Evaluate(obsAt(prices...))
		if a.OutliersRemoved == a.SampleSize {
			continue
		}
		limit := a.UnfilteredMean.Mul(dec("0.30"))
		for _, o := range a.ReferenceListings {
			d := o.Price.Sub(a.FinalMean).Abs()
			if o.IsOutlier && !d.GreaterThan(limit.Sub(tol)) {
				t.Errorf("%v: excluded %s is inside the band", prices, o.Price)
			}
			if !o.IsOutlier && d.GreaterThan(limit.Add(tol)) {
				t.Errorf("%v: retained %s is outside the band", prices, o.Price)
			}
		}
	}
}

func TestRecommendedIsFlooredMarkdown(t *testing.T) {
	for _, prices := range [][]string{{"99.99"}, {"10", "11", "12"}, {"333.33", "333.34"}, {"1"}} {
		a := Evaluate(obsAt(prices...))
		want := a.FinalMean.Mul(dec("0.85")).Floor()
		if !a.RecommendedPrice.Equal(want) {
			t.Errorf("%v: recommended %s, want %s", prices, a.RecommendedPrice, want)
		}
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	obs := obsAt("100", "105", "98", "102", "500", "101", "97")
	a, b := Evaluate(obs), Evaluate(obs)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("evaluation must be deterministic")
	}
}

func TestReferenceListingsCapped(t *testing.T) {
	prices := make([]string, 30)
	for i := range prices {
		prices[i] = "100"
	}
	a := Evaluate(obsAt(prices...))
	if len(a.ReferenceListings) != MaxReferenceListings {
		t.Fatalf("got %d listings", len(a.ReferenceListings))
	}
}

func TestPolicyDefaults(t *testing.T) {
	if got := (Policy{}).withDefaults(); got != DefaultPolicy() {
		t.Fatalf("zero policy should take defaults, got %+v", got)
	}
}
