// Package sources defines the marketplace adapter contract, builds the
// search query every adapter sends, and runs each adapter behind its own
// rate limiter and circuit breaker.
package sources

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/engine/market"
	"github.com/WessleyAI/wessley-pricing/pkg/vehiclenlp"
)

// DefaultMaxResults caps how many listings one adapter contributes.
const DefaultMaxResults = 5

// UserAgent is sent with every marketplace request.
const UserAgent = "wessley-pricing/1.0 (used parts price research)"

// Adapter fetches listings for one item from one marketplace. Fetch returns
// at most the adapter's configured number of listings, best first.
type Adapter interface {
	Source() domain.Source
	Fetch(ctx context.Context, q domain.ItemQuery) ([]domain.RawListing, error)
}

// Config is shared by the HTTP adapters.
type Config struct {
	BaseURL    string
	APIKey     string
	MaxResults int
	Client     *http.Client
}

// Normalized returns cfg with defaults applied.
func (c Config) Normalized(defaultBase string) Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBase
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 15 * time.Second}
	}
	return c
}

// BuildQuery renders the search string for q. The same query always renders
// the same string: "<year> <make> <model> [trim] [engine] [drivetrain]
// <item name> used", whitespace collapsed and make canonicalized.
func BuildQuery(q domain.ItemQuery) string {
	v := q.Vehicle.Canonical()
	parts := []string{}
	if v.Year > 0 {
		parts = append(parts, strconv.Itoa(v.Year))
	}
	parts = append(parts, v.Make, v.Model, v.Trim, v.Engine, v.Drivetrain, q.Name, "used")
	var words []string
	for _, p := range parts {
		words = append(words, strings.Fields(p)...)
	}
	return strings.Join(words, " ")
}

// ParseDescription turns free text such as "2015 honda civic alternator"
// into an ItemQuery. ok is false unless make and model were recognized.
func ParseDescription(itemID, text string) (domain.ItemQuery, bool) {
	d, ok := vehiclenlp.Parse(text)
	return domain.ItemQuery{
		ItemID: itemID,
		Name:   d.Part,
		Vehicle: domain.Vehicle{
			Year:       d.Year,
			Make:       d.Make,
			Model:      d.Model,
			Engine:     d.Engine,
			Drivetrain: d.Drivetrain,
		},
	}, ok
}

// SortByPrice orders listings by ascending parsed price. Unparsable prices
// sort last; ties keep their original order.
func SortByPrice(ls []domain.RawListing) {
	key := func(l domain.RawListing) (float64, bool) {
		d, err := market.ParsePrice(l.Price)
		if err != nil {
			return 0, false
		}
		f, _ := d.Float64()
		return f, true
	}
	sort.SliceStable(ls, func(i, j int) bool {
		a, aok := key(ls[i])
		b, bok := key(ls[j])
		if aok != bok {
			return aok
		}
		return a < b
	})
}

// Truncate returns at most n listings.
func Truncate(ls []domain.RawListing, n int) []domain.RawListing {
	if n > 0 && len(ls) > n {
		return ls[:n]
	}
	return ls
}
