package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestPricesMarshalAsNumbers(t *testing.T) {
	ship := decimal.RequireFromString("12.5")
	a := MarketAnalysis{
		SampleSize:       5,
		FinalMean:        decimal.RequireFromString("101.25"),
		MinPrice:         decimal.NewFromInt(98),
		MaxPrice:         decimal.NewFromInt(105),
		RecommendedPrice: decimal.NewFromInt(86),
		UnfilteredMean:   decimal.RequireFromString("181"),
		ReferenceListings: []Observation{
			{Source: SourceEbay, Price: decimal.NewFromInt(100), ShippingCost: &ship},
		},
	}
	b, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	body := string(b)
	for _, want := range []string{
		`"finalMean":101.25`,
		`"minPrice":98`,
		`"maxPrice":105`,
		`"recommendedPrice":86`,
		`"unfilteredMean":181`,
		`"price":100`,
		`"shippingCost":12.5`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %s in %s", want, body)
		}
	}

	var back MarketAnalysis
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if !back.FinalMean.Equal(a.FinalMean) {
		t.Fatalf("round trip final mean = %s", back.FinalMean)
	}
}
