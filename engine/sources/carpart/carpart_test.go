package carpart

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/engine/sources"
)

const page = `<html><body>
<table class="results">
  <tr><th>Year/Part/Model</th><th>Description</th><th>Grade</th><th>Dealer</th><th>Price</th></tr>
  <tr><td>2015 Civic</td><td><a href="/part/8812">Alternator 1.8L</a></td><td>A</td><td>Midway Auto, Tulsa OK</td><td>$125</td></tr>
  <tr><td>2014 Civic</td><td><a href="https://yard.example/p/3">Alternator</a></td><td>B</td><td>U-Pull, Reno NV</td><td>$ 68.00</td></tr>
  <tr><td>2015 Civic</td><td>Alternator</td><td>A</td><td>Call Yard, Boise ID</td><td>Call</td></tr>
</table></body></html>`

var civic = domain.ItemQuery{ItemID: "i1", Name: "alternator", Vehicle: domain.Vehicle{Year: 2015, Make: "honda", Model: "civic"}}

func serve(t *testing.T, body string) *Adapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return New(sources.Config{BaseURL: srv.URL, Client: srv.Client()})
}

func TestFetchParsesTable(t *testing.T) {
	a := serve(t, page)
	ls, err := a.Fetch(context.Background(), civic)
	if err != nil {
		t.Fatal(err)
	}
	if len(ls) != 2 {
		t.Fatalf("expected header and call-for-price rows skipped, got %d", len(ls))
	}
	if ls[0].Price != "$ 68.00" || ls[0].URL != "https://yard.example/p/3" {
		t.Errorf("first = %+v", ls[0])
	}
	if ls[1].URL != a.cfg.BaseURL+"/part/8812" || ls[1].Condition != "grade A" || ls[1].Location != "Midway Auto, Tulsa OK" {
		t.Errorf("second = %+v", ls[1])
	}
	if ls[1].Title != "2015 Civic Alternator 1.8L" {
		t.Errorf("title = %q", ls[1].Title)
	}
}

func TestFetchNoParts(t *testing.T) {
	a := serve(t, `<html><body><p>No parts found for your search.</p></body></html>`)
	ls, err := a.Fetch(context.Background(), civic)
	if err != nil || len(ls) != 0 {
		t.Fatalf("got %v, %v", ls, err)
	}
}

func TestFetchUnexpectedPage(t *testing.T) {
	a := serve(t, `<html><body>captcha</body></html>`)
	_, err := a.Fetch(context.Background(), civic)
	var ae *domain.AdapterError
	if !errors.As(err, &ae) || ae.Kind != domain.AdapterDecode {
		t.Fatalf("expected decode error, got %v", err)
	}
}
