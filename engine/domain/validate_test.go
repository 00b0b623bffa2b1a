package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestValidateVehicle_Valid(t *testing.T) {
	cases := []Vehicle{
		{Year: 2015, Make: "Honda", Model: "Civic"},
		{Year: 1950, Make: "Ford", Model: "F1"},
		{Year: time.Now().Year() + 1, Make: "chevy", Model: "Silverado", Trim: "LT", Engine: "5.3L", Drivetrain: "4WD"},
	}
	for _, v := range cases {
		if err := ValidateVehicle(v); err != nil {
			t.Errorf("expected valid for %+v, got %v", v, err)
		}
	}
}

func TestValidateVehicle_Invalid(t *testing.T) {
	tests := []struct {
		v    Vehicle
		want error
	}{
		{Vehicle{Year: 2015, Model: "Civic"}, ErrMissingVehicle},
		{Vehicle{Year: 2015, Make: "Honda", Model: "  "}, ErrMissingVehicle},
		{Vehicle{Year: 1949, Make: "Honda", Model: "Civic"}, ErrYearOutOfRange},
		{Vehicle{Year: 2099, Make: "Honda", Model: "Civic"}, ErrYearOutOfRange},
	}
	for _, tt := range tests {
		err := ValidateVehicle(tt.v)
		if !errors.Is(err, tt.want) {
			t.Errorf("%+v: expected %v, got %v", tt.v, tt.want, err)
		}
		if !errors.Is(err, ErrStructural) {
			t.Errorf("%+v: validation errors must be structural", tt.v)
		}
	}
}

func TestValidateItemQuery(t *testing.T) {
	v := Vehicle{Year: 2015, Make: "Honda", Model: "Civic"}
	if err := ValidateItemQuery(ItemQuery{ItemID: "i1", Name: "alternator", Vehicle: v}); err != nil {
		t.Fatal(err)
	}
	if err := ValidateItemQuery(ItemQuery{Name: "alternator", Vehicle: v}); !errors.Is(err, ErrMissingItem) {
		t.Fatalf("expected ErrMissingItem, got %v", err)
	}
	if err := ValidateItemQuery(ItemQuery{ItemID: "i1", Vehicle: v}); !errors.Is(err, ErrMissingItem) {
		t.Fatalf("expected ErrMissingItem, got %v", err)
	}
}

func TestValidateBulk(t *testing.T) {
	v := Vehicle{Year: 2015, Make: "Honda", Model: "Civic"}
	if err := ValidateBulk(BulkRequest{Vehicle: v}); !errors.Is(err, ErrEmptyItems) {
		t.Fatalf("expected ErrEmptyItems, got %v", err)
	}
	if err := ValidateBulk(BulkRequest{ItemIDs: []string{"a", ""}, Vehicle: v}); !errors.Is(err, ErrMissingItem) {
		t.Fatalf("expected ErrMissingItem, got %v", err)
	}
	if err := ValidateBulk(BulkRequest{ItemIDs: []string{"a"}}); !errors.Is(err, ErrMissingVehicle) {
		t.Fatalf("expected ErrMissingVehicle, got %v", err)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationError("year", "1800", ErrYearOutOfRange)
	want := `validation: year out of range: year (value="1800")`
	if err.Error() != want {
		t.Fatalf("got %q", err.Error())
	}
}

func TestContextHashStable(t *testing.T) {
	a := Vehicle{Year: 2014, Make: "chevy", Model: "silverado  1500", Engine: "5.3l", Drivetrain: "4wd"}
	b := Vehicle{Year: 2014, Make: "Chevrolet", Model: "Silverado 1500", Engine: "5.3L", Drivetrain: "4WD"}
	if a.ContextHash() != b.ContextHash() {
		t.Fatal("equivalent descriptors must hash the same")
	}
	if len(a.ContextHash()) != 16 {
		t.Fatalf("hash length %d", len(a.ContextHash()))
	}
	c := b
	c.Trim = "LTZ"
	if c.ContextHash() == b.ContextHash() {
		t.Fatal("trim must change the hash")
	}
}

func TestParseSource(t *testing.T) {
	for _, s := range AllSources {
		got, err := ParseSource(string(s))
		if err != nil || got != s {
			t.Errorf("ParseSource(%q) = %q, %v", s, got, err)
		}
	}
	if _, err := ParseSource("craigslist"); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("item x: %w", ErrNoData), KindNoData},
		{NewValidationError("make", "", ErrMissingVehicle), KindStructural},
		{fmt.Errorf("catalog: %w", ErrNotFound), KindNotFound},
		{context.Canceled, KindCancelled},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestAdapterError(t *testing.T) {
	inner := errors.New("connection refused")
	err := NewAdapterError(SourceEbay, AdapterNetwork, inner)
	if !errors.Is(err, inner) {
		t.Fatal("AdapterError should unwrap")
	}
	if err.Error() != "source ebay: network: connection refused" {
		t.Fatalf("got %q", err.Error())
	}
	if NewAdapterError(SourceLKQ, AdapterEmpty, nil).Error() != "source lkq: empty" {
		t.Fatal("nil inner error message")
	}
}

func TestValidateVehicle_ModelYearFollowsClock(t *testing.T) {
	next := time.Now().Year() + 1
	if err := ValidateVehicle(Vehicle{Year: next, Make: "Ford", Model: "Maverick"}); err != nil {
		t.Fatalf("next model year %d rejected: %v", next, err)
	}
	err := ValidateVehicle(Vehicle{Year: next + 1, Make: "Ford", Model: "Maverick"})
	if !errors.Is(err, ErrYearOutOfRange) {
		t.Fatalf("year %d: got %v, want ErrYearOutOfRange", next+1, err)
	}
}
