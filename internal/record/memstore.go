package record

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for tests and for running the session process without a
// database. The zero value is ready to use.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]Record)}
}

// Insert implements [Store.Insert].
func (s *MemStore) Insert(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records == nil {
		s.records = make(map[string]Record)
	}
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("record: record with id %q already exists", rec.ID)
	}
	s.records[rec.ID] = *rec
	return nil
}

// QueryAll implements [Store.QueryAll].
func (s *MemStore) QueryAll(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	sortByTimestampDesc(recs)
	return recs, nil
}

// QueryByWindow implements [Store.QueryByWindow].
func (s *MemStore) QueryByWindow(ctx context.Context, start, end time.Time) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []Record
	for _, rec := range s.records {
		if !rec.Timestamp.Before(start) && rec.Timestamp.Before(end) {
			recs = append(recs, rec)
		}
	}
	sortByTimestampDesc(recs)
	return recs, nil
}

// QueryByID implements [Store.QueryByID].
func (s *MemStore) QueryByID(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func sortByTimestampDesc(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Timestamp.After(recs[j].Timestamp)
	})
}
