// Package market turns raw marketplace listings into observations and
// evaluates them into a MarketAnalysis.
package market

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/pkg/fn"
)

var errBadPrice = errors.New("unparsable price")

// priceRe accepts "$1,234.50", "US $89.99", "1234.5 USD" and bare numbers.
var priceRe = regexp.MustCompile(`(?i)^(?:us\s*)?\$?\s*(\d[\d,]*(?:\.\d+)?|\.\d+)\s*(?:usd)?$`)

// ParsePrice parses a listing price into dollars rounded to cents.
func ParsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if m := priceRe.FindStringSubmatch(s); m != nil {
		d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
		if err != nil {
			return decimal.Zero, err
		}
		return d.Round(2), nil
	}
	// Plain JSON numbers such as "1.2e3".
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errBadPrice
	}
	return d.Round(2), nil
}

// Normalize flattens per-source listings into observations. Listings whose
// price is unparsable or not positive are dropped; listings from different
// sources are never merged.
func Normalize(perSource ...[]domain.RawListing) []domain.Observation {
	var all []domain.RawListing
	for _, batch := range perSource {
		all = append(all, batch...)
	}
	return fn.FilterMap(all, toObservation)
}

func toObservation(r domain.RawListing) (domain.Observation, bool) {
	price, err := ParsePrice(r.Price)
	if err != nil || !price.IsPositive() {
		return domain.Observation{}, false
	}
	o := domain.Observation{
		Source:      r.Source,
		Price:       price,
		Title:       strings.TrimSpace(r.Title),
		URL:         r.URL,
		Condition:   r.Condition,
		Location:    r.Location,
		SearchQuery: r.SearchQuery,
	}
	if r.ShippingCost != "" {
		if ship, err := ParsePrice(r.ShippingCost); err == nil && !ship.IsNegative() {
			o.ShippingCost = &ship
		}
	}
	return o, true
}
