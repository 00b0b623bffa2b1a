package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/wessley-pricing/pkg/vehiclenlp"
)

// MinModelYear is the earliest year we accept.
const MinModelYear = 1950

// MaxModelYear is the latest year we accept: next year's models go on sale
// during the current calendar year.
func MaxModelYear() int { return time.Now().Year() + 1 }

// ValidateVehicle checks that v carries enough context to qualify a search.
func ValidateVehicle(v Vehicle) error {
	if strings.TrimSpace(v.Make) == "" {
		return NewValidationError("make", v.Make, ErrMissingVehicle)
	}
	if strings.TrimSpace(v.Model) == "" {
		return NewValidationError("model", v.Model, ErrMissingVehicle)
	}
	if v.Year < MinModelYear || v.Year > MaxModelYear() {
		return NewValidationError("year", strconv.Itoa(v.Year), ErrYearOutOfRange)
	}
	return nil
}

// ValidateItemQuery checks a single research request.
func ValidateItemQuery(q ItemQuery) error {
	if strings.TrimSpace(q.ItemID) == "" {
		return NewValidationError("itemId", q.ItemID, ErrMissingItem)
	}
	if strings.TrimSpace(q.Name) == "" {
		return NewValidationError("name", q.Name, ErrMissingItem)
	}
	return ValidateVehicle(q.Vehicle)
}

// ValidateBulk checks a bulk request before any item is looked at.
func ValidateBulk(r BulkRequest) error {
	if len(r.ItemIDs) == 0 {
		return NewValidationError("itemIds", "", ErrEmptyItems)
	}
	for _, id := range r.ItemIDs {
		if strings.TrimSpace(id) == "" {
			return NewValidationError("itemIds", id, ErrMissingItem)
		}
	}
	return ValidateVehicle(r.Vehicle)
}

// Canonical returns v with make and model canonicalized and every field
// trimmed, so equivalent descriptors compare equal.
func (v Vehicle) Canonical() Vehicle {
	return Vehicle{
		Year:       v.Year,
		Make:       vehiclenlp.CanonicalMake(v.Make),
		Model:      vehiclenlp.CanonicalModel(v.Make, v.Model),
		Trim:       collapse(v.Trim),
		Engine:     strings.ToUpper(collapse(v.Engine)),
		Drivetrain: strings.ToUpper(collapse(v.Drivetrain)),
	}
}

// ContextHash is the stable cache-key digest of a vehicle descriptor: the
// first 16 hex chars of SHA-256 over the canonical, lower-cased fields.
func (v Vehicle) ContextHash() string {
	c := v.Canonical()
	parts := []string{strconv.Itoa(c.Year), c.Make, c.Model, c.Trim, c.Engine, c.Drivetrain}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.Join(parts, "|"))))
	return hex.EncodeToString(sum[:])[:16]
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
