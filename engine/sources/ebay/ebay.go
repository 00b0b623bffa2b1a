// Package ebay searches used-part listings through the eBay Browse API.
package ebay

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/engine/sources"
)

const defaultBaseURL = "https://api.ebay.com"

// usedCondition is the Browse API condition id for "Used".
const usedCondition = "3000"

// Adapter queries item_summary/search sorted by price.
type Adapter struct {
	cfg sources.Config
}

// New creates an eBay adapter. cfg.APIKey is the OAuth application token.
func New(cfg sources.Config) *Adapter {
	return &Adapter{cfg: cfg.Normalized(defaultBaseURL)}
}

func (a *Adapter) Source() domain.Source { return domain.SourceEbay }

func (a *Adapter) Fetch(ctx context.Context, q domain.ItemQuery) ([]domain.RawListing, error) {
	query := sources.BuildQuery(q)
	params := url.Values{
		"q":      {query},
		"limit":  {strconv.Itoa(a.cfg.MaxResults)},
		"sort":   {"price"},
		"filter": {"conditionIds:{" + usedCondition + "}"},
	}
	hdr := http.Header{
		"X-Ebay-C-Marketplace-Id": {"EBAY_US"},
		"Accept":                  {"application/json"},
	}
	if a.cfg.APIKey != "" {
		hdr.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	body, err := sources.Get(ctx, a.cfg.Client, domain.SourceEbay, a.cfg.BaseURL+"/buy/browse/v1/item_summary/search?"+params.Encode(), hdr)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, domain.NewAdapterError(domain.SourceEbay, domain.AdapterDecode, errInvalidJSON)
	}
	return parse(body, query), nil
}

func parse(body []byte, query string) []domain.RawListing {
	var out []domain.RawListing
	gjson.GetBytes(body, "itemSummaries").ForEach(func(_, item gjson.Result) bool {
		price := item.Get("price")
		if c := price.Get("currency").String(); c != "" && c != "USD" {
			return true
		}
		l := domain.RawListing{
			Source:      domain.SourceEbay,
			Price:       price.Get("value").String(),
			Title:       item.Get("title").String(),
			URL:         item.Get("itemWebUrl").String(),
			Condition:   item.Get("condition").String(),
			Location:    location(item.Get("itemLocation")),
			SearchQuery: query,
		}
		if ship := item.Get("shippingOptions.0.shippingCost.value"); ship.Exists() {
			l.ShippingCost = ship.String()
		}
		out = append(out, l)
		return true
	})
	return out
}

func location(loc gjson.Result) string {
	city, country := loc.Get("city").String(), loc.Get("country").String()
	switch {
	case city != "" && country != "":
		return city + ", " + country
	case city != "":
		return city
	default:
		return loc.Get("postalCode").String()
	}
}
