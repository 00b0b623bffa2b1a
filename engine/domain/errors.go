package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrNoData means no source produced a usable observation. It is not the
	// same as an analysis whose price is zero.
	ErrNoData = errors.New("no market data")
	// ErrWriteConflict means another writer superseded the active record for
	// the same key first. Callers retry.
	ErrWriteConflict = errors.New("research record write conflict")
	// ErrStructural marks input that makes research impossible before any
	// source is contacted.
	ErrStructural = errors.New("structural error")
	ErrNotFound   = errors.New("not found")

	ErrMissingVehicle = errors.New("missing vehicle context")
	ErrMissingItem    = errors.New("missing item")
	ErrEmptyItems     = errors.New("no items requested")
	ErrYearOutOfRange = errors.New("year out of range")
	ErrUnknownSource  = errors.New("unknown source")
)

// ValidationError wraps a sentinel with context. Every ValidationError is a
// structural error.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// Is makes errors.Is(err, ErrStructural) hold for any ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrStructural }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// AdapterErrorKind classifies why a source produced nothing.
type AdapterErrorKind string

const (
	AdapterNetwork   AdapterErrorKind = "network"
	AdapterStatus    AdapterErrorKind = "status"
	AdapterDecode    AdapterErrorKind = "decode"
	AdapterEmpty     AdapterErrorKind = "empty"
	AdapterTimeout   AdapterErrorKind = "timeout"
	AdapterCircuit   AdapterErrorKind = "circuit_open"
	AdapterRateLimit AdapterErrorKind = "rate_limited"
)

// AdapterError is a failure local to one source. It never escapes research.
type AdapterError struct {
	Source Source
	Kind   AdapterErrorKind
	Err    error
}

func (e *AdapterError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("source %s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("source %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// NewAdapterError creates an AdapterError.
func NewAdapterError(src Source, kind AdapterErrorKind, err error) *AdapterError {
	return &AdapterError{Source: src, Kind: kind, Err: err}
}

// Error kinds reported on failed ItemResults and in API error bodies.
const (
	KindNoData     = "no_data"
	KindStructural = "structural"
	KindNotFound   = "not_found"
	KindCancelled  = "cancelled"
	KindInternal   = "internal"
)

// KindOf maps an error onto the kinds reported to callers.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoData):
		return KindNoData
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrStructural):
		return KindStructural
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}
