package state

import (
	"sync"

	"frontpipe/internal/models"
)

// MemoryStore holds snapshots in memory. Used by tests and by one-shot
// invocations that do not need persistence.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[string][]*models.FeedRow
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string][]*models.FeedRow)}
}

// Load returns a copy of the snapshot for the date.
func (s *MemoryStore) Load(targetDate string) ([]*models.FeedRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.snapshots[targetDate]
	if !ok {
		return nil, false, nil
	}
	return cloneRows(rows), true, nil
}

// Save stores a copy of the snapshot for the date.
func (s *MemoryStore) Save(targetDate string, rows []*models.FeedRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[targetDate] = cloneRows(rows)
	return nil
}

// cloneRows copies rows deeply so callers and the store never share
// mutable state.
func cloneRows(rows []*models.FeedRow) []*models.FeedRow {
	out := make([]*models.FeedRow, len(rows))
	for i, row := range rows {
		clone := *row
		clone.SavedPaths = append([]string(nil), row.SavedPaths...)
		out[i] = &clone
	}
	return out
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
