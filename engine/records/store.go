// Package records persists research results. Each (item, vehicle context)
// key has at most one active record; storing a new one supersedes the old
// in a single atomic step, and superseded records stay readable as history.
package records

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
)

// Store is implemented by every record backend.
type Store interface {
	// Active returns the active record for the key, or domain.ErrNotFound.
	Active(ctx context.Context, itemID, contextHash string) (domain.ResearchRecord, error)
	// Put stores rec as the active record for its key and deactivates the
	// previous one. A concurrent Put on the same key may fail with
	// domain.ErrWriteConflict; the caller retries.
	Put(ctx context.Context, rec domain.ResearchRecord) (domain.ResearchRecord, error)
	// History returns every record for itemID across all contexts, newest
	// first. limit <= 0 returns all.
	History(ctx context.Context, itemID string, limit int) ([]domain.ResearchRecord, error)
	Close() error
}

// prepare fills the fields Put owns.
func prepare(rec domain.ResearchRecord, now time.Time) domain.ResearchRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ResearchDate.IsZero() {
		rec.ResearchDate = now
	}
	rec.ResearchDate = rec.ResearchDate.UTC()
	rec.IsActive = true
	return rec
}
