package row52

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/engine/sources"
)

func TestFetch(t *testing.T) {
	var params map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params = r.URL.Query()
		w.Write([]byte(`{"value": [
		  {"askingPrice": "$65", "partName": "Alternator", "url": "https://row52.com/p/2",
		   "vehicle": {"year": 2014, "make": "CHEVY", "model": "Silverado 1500"}, "yard": {"name": "Pick-n-Pull Fresno"}},
		  {"askingPrice": null, "partName": "Alternator"},
		  {"askingPrice": 40, "partName": "Alternator", "url": "https://row52.com/p/1",
		   "vehicle": {"year": 2013, "make": "chevrolet", "model": "Silverado 1500"}, "yard": {"name": "LKQ Pick Your Part"}}
		]}`))
	}))
	defer srv.Close()

	a := New(sources.Config{BaseURL: srv.URL, Client: srv.Client()})
	q := domain.ItemQuery{ItemID: "i9", Name: "alternator", Vehicle: domain.Vehicle{Year: 2014, Make: "chevy", Model: "silverado 1500"}}
	ls, err := a.Fetch(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if got := params["make"]; len(got) != 1 || got[0] != "Chevrolet" {
		t.Errorf("make param = %v", got)
	}
	if got := params["year"]; len(got) != 1 || got[0] != "2014" {
		t.Errorf("year param = %v", got)
	}
	if len(ls) != 2 {
		t.Fatalf("expected listing without price skipped, got %d", len(ls))
	}
	if ls[0].Price != "40" || ls[1].Price != "$65" {
		t.Errorf("not sorted by price: %q, %q", ls[0].Price, ls[1].Price)
	}
	if ls[1].Title != "2014 Chevrolet Silverado 1500 Alternator" {
		t.Errorf("title = %q", ls[1].Title)
	}
}
