// Package lkq searches recycled OEM parts in the LKQ Online catalog.
package lkq

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/engine/sources"
)

const defaultBaseURL = "https://www.lkqonline.com"

var errInvalidJSON = errors.New("invalid JSON from parts search")

// Adapter queries the parts search endpoint and keeps the cheapest matches.
type Adapter struct {
	cfg sources.Config
}

// New creates an LKQ adapter.
func New(cfg sources.Config) *Adapter {
	return &Adapter{cfg: cfg.Normalized(defaultBaseURL)}
}

func (a *Adapter) Source() domain.Source { return domain.SourceLKQ }

func (a *Adapter) Fetch(ctx context.Context, q domain.ItemQuery) ([]domain.RawListing, error) {
	query := sources.BuildQuery(q)
	params := url.Values{
		"keyword":   {query},
		"condition": {"used"},
		// Ask for extra rows; the cheapest are kept after sorting.
		"pageSize": {strconv.Itoa(a.cfg.MaxResults * 4)},
	}
	hdr := http.Header{"Accept": {"application/json"}}
	if a.cfg.APIKey != "" {
		hdr.Set("X-Api-Key", a.cfg.APIKey)
	}

	body, err := sources.Get(ctx, a.cfg.Client, domain.SourceLKQ, a.cfg.BaseURL+"/api/v2/parts/search?"+params.Encode(), hdr)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, domain.NewAdapterError(domain.SourceLKQ, domain.AdapterDecode, errInvalidJSON)
	}

	var out []domain.RawListing
	gjson.GetBytes(body, "results").ForEach(func(_, r gjson.Result) bool {
		if r.Get("inStock").Exists() && !r.Get("inStock").Bool() {
			return true
		}
		out = append(out, domain.RawListing{
			Source:      domain.SourceLKQ,
			Price:       r.Get("price.amount").String(),
			Title:       r.Get("description").String(),
			URL:         absolute(a.cfg.BaseURL, r.Get("partUrl").String()),
			Condition:   grade(r.Get("grade").String()),
			Location:    join(r.Get("yard.city").String(), r.Get("yard.state").String()),
			SearchQuery: query,
		})
		return true
	})
	sources.SortByPrice(out)
	return sources.Truncate(out, a.cfg.MaxResults), nil
}

func absolute(base, path string) string {
	if path == "" || strings.HasPrefix(path, "http") {
		return path
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// grade expands LKQ's letter grades.
func grade(g string) string {
	switch strings.ToUpper(g) {
	case "A":
		return "used - grade A"
	case "B":
		return "used - grade B"
	case "C":
		return "used - grade C"
	case "":
		return "used"
	}
	return "used - " + g
}

func join(city, state string) string {
	if city != "" && state != "" {
		return city + ", " + state
	}
	return city + state
}
