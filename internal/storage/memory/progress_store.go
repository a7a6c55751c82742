package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/novel-harvester/internal/store"
)

// ProgressStore is a map-backed store.Store. Records are copied on the way in
// and out so callers never share slices with the store.
type ProgressStore struct {
	mu          sync.RWMutex
	retention   int
	records     map[string]store.Record
	completions map[string]store.Completion
}

var _ store.Store = (*ProgressStore)(nil)

// NewProgressStore builds an empty store keeping at most retention buffered
// blocks per record (store.DefaultBufferRetention when <= 0).
func NewProgressStore(retention int) *ProgressStore {
	if retention <= 0 {
		retention = store.DefaultBufferRetention
	}
	return &ProgressStore{
		retention:   retention,
		records:     make(map[string]store.Record),
		completions: make(map[string]store.Completion),
	}
}

// Save implements store.Store.
func (s *ProgressStore) Save(_ context.Context, rec store.Record) error {
	rec.CompletedItemRefs = append([]string(nil), rec.CompletedItemRefs...)
	rec.BufferedContent = store.RetainTail(rec.BufferedContent, s.retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.CollectionID] = rec
	return nil
}

// Load implements store.Store.
func (s *ProgressStore) Load(_ context.Context, collectionID string) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[collectionID]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	rec.CompletedItemRefs = append([]string(nil), rec.CompletedItemRefs...)
	rec.BufferedContent = append([]string(nil), rec.BufferedContent...)
	return rec, nil
}

// Delete implements store.Store.
func (s *ProgressStore) Delete(_ context.Context, collectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, collectionID)
	return nil
}

// MarkComplete implements store.Store.
func (s *ProgressStore) MarkComplete(_ context.Context, c store.Completion) error {
	c.CompletedItemRefs = append([]string(nil), c.CompletedItemRefs...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions[c.CollectionID] = c
	return nil
}

// LoadCompletion implements store.Store.
func (s *ProgressStore) LoadCompletion(_ context.Context, collectionID string) (store.Completion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.completions[collectionID]
	if !ok {
		return store.Completion{}, store.ErrNotFound
	}
	c.CompletedItemRefs = append([]string(nil), c.CompletedItemRefs...)
	return c, nil
}

// ClearCompletion implements store.Store.
func (s *ProgressStore) ClearCompletion(_ context.Context, collectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.completions, collectionID)
	return nil
}
