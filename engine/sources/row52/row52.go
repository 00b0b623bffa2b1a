// Package row52 searches pull-it-yourself yard inventory listed on Row52.
// Row52 indexes vehicles rather than parts, so a listing is a yard vehicle
// matching the descriptor with the part's posted asking price.
package row52

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/engine/sources"
	"github.com/WessleyAI/wessley-pricing/pkg/vehiclenlp"
)

const defaultBaseURL = "https://api.row52.com"

var errInvalidJSON = errors.New("invalid JSON from row52")

// Adapter queries the parts listing endpoint.
type Adapter struct {
	cfg sources.Config
}

// New creates a Row52 adapter.
func New(cfg sources.Config) *Adapter {
	return &Adapter{cfg: cfg.Normalized(defaultBaseURL)}
}

func (a *Adapter) Source() domain.Source { return domain.SourceRow52 }

func (a *Adapter) Fetch(ctx context.Context, q domain.ItemQuery) ([]domain.RawListing, error) {
	query := sources.BuildQuery(q)
	v := q.Vehicle.Canonical()
	params := url.Values{
		"make":    {v.Make},
		"model":   {v.Model},
		"part":    {q.Name},
		"orderby": {"askingPrice asc"},
		"top":     {strconv.Itoa(a.cfg.MaxResults)},
	}
	if v.Year > 0 {
		params.Set("year", strconv.Itoa(v.Year))
	}
	hdr := http.Header{"Accept": {"application/json"}}
	if a.cfg.APIKey != "" {
		hdr.Set("Authorization", "Token "+a.cfg.APIKey)
	}

	body, err := sources.Get(ctx, a.cfg.Client, domain.SourceRow52, a.cfg.BaseURL+"/v1/parts?"+params.Encode(), hdr)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, domain.NewAdapterError(domain.SourceRow52, domain.AdapterDecode, errInvalidJSON)
	}

	var out []domain.RawListing
	gjson.GetBytes(body, "value").ForEach(func(_, r gjson.Result) bool {
		price := r.Get("askingPrice")
		if !price.Exists() || price.Type == gjson.Null {
			return true
		}
		veh := r.Get("vehicle")
		title := fmt.Sprintf("%d %s %s %s", veh.Get("year").Int(),
			vehiclenlp.CanonicalMake(veh.Get("make").String()), veh.Get("model").String(), r.Get("partName").String())
		out = append(out, domain.RawListing{
			Source:      domain.SourceRow52,
			Price:       price.String(),
			Title:       title,
			URL:         r.Get("url").String(),
			Condition:   "used - yard pull",
			Location:    r.Get("yard.name").String(),
			SearchQuery: query,
		})
		return true
	})
	sources.SortByPrice(out)
	return sources.Truncate(out, a.cfg.MaxResults), nil
}
