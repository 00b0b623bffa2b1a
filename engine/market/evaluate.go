package market

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
)

// Policy constants. Policy overrides them per deployment.
const (
	// AnomalyThreshold is the largest relative deviation from the unfiltered
	// mean an observation may have and still be retained.
	AnomalyThreshold = 0.30
	// VolatileRangeRatio: range above this share of the mean is volatile.
	VolatileRangeRatio = 0.5
	// StableRangeRatio: range below this share of the mean is stable.
	StableRangeRatio = 0.2
	// ConfidenceSaturation is the sample size at which confidence hits 100.
	ConfidenceSaturation = 4
	// CompetitiveMarkdown is applied to the final mean to get the
	// recommended price.
	CompetitiveMarkdown = 0.85
	// MaxReferenceListings bounds the listings kept for audit display.
	MaxReferenceListings = 20
)

// Policy holds the evaluator's tunables.
type Policy struct {
	AnomalyThreshold     float64
	VolatileRangeRatio   float64
	StableRangeRatio     float64
	ConfidenceSaturation int
	CompetitiveMarkdown  float64
	MaxReferenceListings int
}

// DefaultPolicy returns the policy built from the package constants.
func DefaultPolicy() Policy {
	return Policy{
		AnomalyThreshold:     AnomalyThreshold,
		VolatileRangeRatio:   VolatileRangeRatio,
		StableRangeRatio:     StableRangeRatio,
		ConfidenceSaturation: ConfidenceSaturation,
		CompetitiveMarkdown:  CompetitiveMarkdown,
		MaxReferenceListings: MaxReferenceListings,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.AnomalyThreshold <= 0 {
		p.AnomalyThreshold = d.AnomalyThreshold
	}
	if p.VolatileRangeRatio <= 0 {
		p.VolatileRangeRatio = d.VolatileRangeRatio
	}
	if p.StableRangeRatio <= 0 {
		p.StableRangeRatio = d.StableRangeRatio
	}
	if p.ConfidenceSaturation <= 0 {
		p.ConfidenceSaturation = d.ConfidenceSaturation
	}
	if p.CompetitiveMarkdown <= 0 {
		p.CompetitiveMarkdown = d.CompetitiveMarkdown
	}
	if p.MaxReferenceListings <= 0 {
		p.MaxReferenceListings = d.MaxReferenceListings
	}
	return p
}

var hundred = decimal.NewFromInt(100)

// Evaluate summarizes observations with the default policy.
func Evaluate(obs []domain.Observation) domain.MarketAnalysis {
	return DefaultPolicy().Evaluate(obs)
}

// Evaluate summarizes observations. It is deterministic: the same input
// always yields the same analysis. AnalyzedAt is left for the caller.
func (p Policy) Evaluate(obs []domain.Observation) domain.MarketAnalysis {
	p = p.withDefaults()
	n := len(obs)
	if n == 0 {
		return domain.MarketAnalysis{
			MarketTrend:       domain.TrendNoData,
			ReferenceListings: []domain.Observation{},
		}
	}

	prices := make([]decimal.Decimal, n)
	for i, o := range obs {
		prices[i] = o.Price
	}
	mu0 := mean(prices)

	retained, excluded := p.partition(obs, mu0)

	a := domain.MarketAnalysis{
		SampleSize:     n,
		UnfilteredMean: mu0.Round(2),
	}

	var finalMean, lo, hi decimal.Decimal
	if len(retained) == 0 {
		// Every observation disagrees with every other; fall back to the
		// unfiltered statistics.
		finalMean = mu0
		lo, hi = decimal.Min(prices[0], prices[1:]...), decimal.Max(prices[0], prices[1:]...)
		a.OutliersRemoved = n
	} else {
		kept := make([]decimal.Decimal, len(retained))
		for i, o := range retained {
			kept[i] = o.Price
		}
		finalMean = mean(kept)
		lo, hi = decimal.Min(kept[0], kept[1:]...), decimal.Max(kept[0], kept[1:]...)
		a.OutliersRemoved = len(excluded)
	}
	a.AnomalyDetected = a.OutliersRemoved > 0
	a.FinalMean = finalMean.Round(2)
	a.MinPrice = lo
	a.MaxPrice = hi
	a.MarketTrend = p.trend(hi.Sub(lo), a.FinalMean)
	a.Confidence = p.confidence(n)
	a.RecommendedPrice = a.FinalMean.Mul(decimal.NewFromFloat(p.CompetitiveMarkdown)).Floor()

	dev := finalMean.Sub(mu0).Abs().Div(mu0).Mul(hundred)
	a.DeviationFromMean = dev.Round(2)
	a.IsWithinRange = !dev.GreaterThan(decimal.NewFromFloat(p.AnomalyThreshold).Mul(hundred))

	a.ReferenceListings = p.references(retained, excluded)
	return a
}

// partition splits obs into retained and excluded observations. The
// tolerance band is AnomalyThreshold of the unfiltered mean wide. It is
// centered on the median, then re-centered on the mean of what it retains
// until the retained set stops changing, so every retained price lies within
// the band of the final mean and every excluded price lies outside it.
func (p Policy) partition(obs []domain.Observation, mu0 decimal.Decimal) (retained, excluded []domain.Observation) {
	limit := mu0.Mul(decimal.NewFromFloat(p.AnomalyThreshold))
	prices := make([]decimal.Decimal, len(obs))
	for i, o := range obs {
		prices[i] = o.Price
	}
	center := median(prices)

	var in []bool
	for iter := 0; iter <= len(obs); iter++ {
		next := make([]bool, len(obs))
		var kept []decimal.Decimal
		for i, x := range prices {
			if !x.Sub(center).Abs().GreaterThan(limit) {
				next[i] = true
				kept = append(kept, x)
			}
		}
		stable := sameMembers(in, next)
		in = next
		if stable || len(kept) == 0 {
			break
		}
		center = mean(kept)
	}

	for i, o := range obs {
		if in[i] {
			retained = append(retained, o)
		} else {
			excluded = append(excluded, o)
		}
	}
	return retained, excluded
}

func sameMembers(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (p Policy) trend(spread, finalMean decimal.Decimal) domain.Trend {
	switch {
	case spread.GreaterThan(finalMean.Mul(decimal.NewFromFloat(p.VolatileRangeRatio))):
		return domain.TrendVolatile
	case spread.LessThan(finalMean.Mul(decimal.NewFromFloat(p.StableRangeRatio))):
		return domain.TrendStable
	default:
		return domain.TrendModerate
	}
}

func (p Policy) confidence(sampleSize int) int {
	c := int(math.Round(float64(sampleSize) / float64(p.ConfidenceSaturation) * 100))
	return max(0, min(100, c))
}

// references lists retained observations first, then excluded ones flagged
// as outliers, up to MaxReferenceListings in total.
func (p Policy) references(retained, excluded []domain.Observation) []domain.Observation {
	out := make([]domain.Observation, 0, min(len(retained)+len(excluded), p.MaxReferenceListings))
	for _, o := range retained {
		if len(out) == p.MaxReferenceListings {
			return out
		}
		o.IsOutlier = false
		out = append(out, o)
	}
	for _, o := range excluded {
		if len(out) == p.MaxReferenceListings {
			return out
		}
		o.IsOutlier = true
		out = append(out, o)
	}
	return out
}

func median(xs []decimal.Decimal) decimal.Decimal {
	s := append([]decimal.Decimal(nil), xs...)
	sort.Slice(s, func(i, j int) bool { return s[i].LessThan(s[j]) })
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return s[mid-1].Add(s[mid]).Div(decimal.NewFromInt(2))
}

func mean(xs []decimal.Decimal) decimal.Decimal {
	return decimal.Sum(xs[0], xs[1:]...).Div(decimal.NewFromInt(int64(len(xs))))
}
