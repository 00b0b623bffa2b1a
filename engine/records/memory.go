package records

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	byItem map[string][]domain.ResearchRecord
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byItem: make(map[string][]domain.ResearchRecord), now: time.Now}
}

func (s *MemoryStore) Active(_ context.Context, itemID, contextHash string) (domain.ResearchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.byItem[itemID] {
		if r.IsActive && r.ContextHash == contextHash {
			return r, nil
		}
	}
	return domain.ResearchRecord{}, domain.ErrNotFound
}

func (s *MemoryStore) Put(_ context.Context, rec domain.ResearchRecord) (domain.ResearchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec = prepare(rec, s.now())
	recs := s.byItem[rec.ItemID]
	for i := range recs {
		if recs[i].IsActive && recs[i].ContextHash == rec.ContextHash {
			recs[i].IsActive = false
		}
	}
	s.byItem[rec.ItemID] = append(recs, rec)
	return rec, nil
}

func (s *MemoryStore) History(_ context.Context, itemID string, limit int) ([]domain.ResearchRecord, error) {
	s.mu.RLock()
	out := append([]domain.ResearchRecord(nil), s.byItem[itemID]...)
	s.mu.RUnlock()

	// Appended in write order; reverse first so equal dates stay newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ResearchDate.After(out[j].ResearchDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
