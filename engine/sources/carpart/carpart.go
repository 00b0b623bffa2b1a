// Package carpart scrapes the car-part.com salvage yard interchange search.
// The site has no API; results come back as an HTML table.
package carpart

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/engine/sources"
)

const defaultBaseURL = "https://www.car-part.com"

var errNoTable = errors.New("results table not found")

// Adapter submits the interchange search form and parses the results table.
type Adapter struct {
	cfg sources.Config
}

// New creates a car-part.com adapter.
func New(cfg sources.Config) *Adapter {
	return &Adapter{cfg: cfg.Normalized(defaultBaseURL)}
}

func (a *Adapter) Source() domain.Source { return domain.SourceCarPart }

func (a *Adapter) Fetch(ctx context.Context, q domain.ItemQuery) ([]domain.RawListing, error) {
	query := sources.BuildQuery(q)
	v := q.Vehicle.Canonical()
	params := url.Values{
		"userModel": {v.Make + " " + v.Model},
		"userPart":  {q.Name},
		"userSort":  {"Price"},
		"userZip":   {""},
	}
	if v.Year > 0 {
		params.Set("userDate", strconv.Itoa(v.Year))
	}
	hdr := http.Header{"Accept": {"text/html"}}

	body, err := sources.Get(ctx, a.cfg.Client, domain.SourceCarPart, a.cfg.BaseURL+"/cgi-bin/search.cgi?"+params.Encode(), hdr)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewAdapterError(domain.SourceCarPart, domain.AdapterDecode, err)
	}
	table := doc.Find("table.results")
	if table.Length() == 0 {
		if strings.Contains(strings.ToLower(doc.Text()), "no parts found") {
			return nil, nil
		}
		return nil, domain.NewAdapterError(domain.SourceCarPart, domain.AdapterDecode, errNoTable)
	}

	var out []domain.RawListing
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 5 {
			return
		}
		cell := func(i int) string { return strings.Join(strings.Fields(cells.Eq(i).Text()), " ") }
		price := cell(4)
		if price == "" || strings.EqualFold(price, "call") {
			return
		}
		href, _ := cells.Eq(1).Find("a").Attr("href")
		out = append(out, domain.RawListing{
			Source:      domain.SourceCarPart,
			Price:       price,
			Title:       cell(0) + " " + cell(1),
			URL:         a.absolute(href),
			Condition:   "grade " + cell(2),
			Location:    cell(3),
			SearchQuery: query,
		})
	})
	sources.SortByPrice(out)
	return sources.Truncate(out, a.cfg.MaxResults), nil
}

func (a *Adapter) absolute(href string) string {
	if href == "" || strings.HasPrefix(href, "http") {
		return href
	}
	return a.cfg.BaseURL + "/" + strings.TrimLeft(href, "/")
}
