// Package mock is an in-memory implementation of the vector store used for
// testing and development. Search is a brute-force dot-product scan, which
// matches the distance semantics of the real adapters on small corpora.
package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/ccforever/forever/pkg/errors"
	"github.com/ccforever/forever/pkg/store"
)

// MockStore implements store.VectorStore entirely in memory. The table
// lifecycle mirrors the on-disk adapters: created on first insert.
type MockStore struct {
	mu      sync.RWMutex
	created bool
	records []store.Record

	// FailInsert makes the next InsertChunks return a store error, for
	// exercising failure propagation.
	FailInsert bool
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// Initialize implements store.VectorStore; the mock has nothing to open.
func (m *MockStore) Initialize(ctx context.Context) error {
	return nil
}

// InsertChunks appends records, creating the table on the first batch.
func (m *MockStore) InsertChunks(ctx context.Context, records []store.Record) error {
	if len(records) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailInsert {
		return errors.Wrap(errors.ErrStore, "insert failed")
	}

	m.created = true
	m.records = append(m.records, records...)
	return nil
}

// Search scans all records by dot-product distance, best match first.
func (m *MockStore) Search(ctx context.Context, vector []float32, limit int) ([]store.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.created {
		return nil, nil
	}

	results := make([]store.SearchResult, 0, len(m.records))
	for _, r := range m.records {
		results = append(results, store.SearchResult{
			ID:        r.ID,
			Text:      r.Text,
			Question:  r.Question,
			Score:     1 - dot(vector, r.Vector),
			Project:   r.Project,
			Tags:      r.Tags,
			Timestamp: r.Timestamp,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score < results[j].Score
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// DeleteChunks removes records matching the filter.
func (m *MockStore) DeleteChunks(ctx context.Context, f store.Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.created {
		return 0, errors.Wrap(errors.ErrStore, "table not initialized")
	}

	keep := func(r store.Record) bool { return true }
	switch v := f.(type) {
	case store.ByIDs:
		ids := make(map[string]struct{}, len(v.IDs))
		for _, id := range v.IDs {
			ids[id] = struct{}{}
		}
		keep = func(r store.Record) bool {
			_, hit := ids[r.ID]
			return !hit
		}
	case store.ByProject:
		keep = func(r store.Record) bool { return r.Project != v.Project }
	case store.Before:
		keep = func(r store.Record) bool { return r.Timestamp >= v.Timestamp }
	case store.All:
		keep = func(r store.Record) bool { return false }
	}

	before := len(m.records)
	kept := m.records[:0]
	for _, r := range m.records {
		if keep(r) {
			kept = append(kept, r)
		}
	}
	m.records = kept
	return before - len(m.records), nil
}

// DeleteAll removes every record; 0 when the table was never created.
func (m *MockStore) DeleteAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.created {
		return 0, nil
	}
	count := len(m.records)
	m.records = nil
	return count, nil
}

// GetStatus reports the record count.
func (m *MockStore) GetStatus(ctx context.Context) (store.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return store.Status{ChunkCount: len(m.records)}, nil
}

// Records returns a snapshot of the stored records, for test assertions.
func (m *MockStore) Records() []store.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]store.Record, len(m.records))
	copy(out, m.records)
	return out
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
