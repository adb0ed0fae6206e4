// Package chromem implements the vector store on chromem-go, an embedded
// pure-Go vector database persisted under the data directory.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/ccforever/forever/pkg/errors"
	"github.com/ccforever/forever/pkg/log"
	"github.com/ccforever/forever/pkg/store"
)

// DefaultCollection is the collection (table) name within the database.
const DefaultCollection = "memories"

// metaFile is a sidecar recording the vector dimensionality of the
// collection. chromem infers dimensions per document, but a full scan of a
// reopened collection needs a correctly sized probe vector before any
// insert or search has revealed the dimensionality.
const metaFile = "meta.json"

type meta struct {
	Dimensions int `json:"dimensions"`
}

// ChromemStore implements store.VectorStore using a persistent chromem-go
// database. The collection is created lazily on first insert, which fixes
// the vector dimensionality for the life of the store.
type ChromemStore struct {
	path       string
	collection string

	mu   sync.Mutex
	db   *chromem.DB
	col  *chromem.Collection // nil until the collection exists
	dims int
}

// New creates a store over the database directory at path. Nothing is
// opened until Initialize.
func New(path string) *ChromemStore {
	return &ChromemStore{
		path:       path,
		collection: DefaultCollection,
	}
}

// Initialize opens the database, attaching to the collection when it
// already exists and otherwise deferring creation to the first insert.
func (s *ChromemStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	if err := os.MkdirAll(s.path, 0o755); err != nil {
		return errors.Wrap(errors.ErrStore, "failed to create store directory %s", s.path)
	}

	db, err := chromem.NewPersistentDB(s.path, false)
	if err != nil {
		return fmt.Errorf("%w: opening database at %s: %s", errors.ErrStore, s.path, err)
	}
	s.db = db

	if col := db.GetCollection(s.collection, nil); col != nil {
		s.col = col
		s.dims = s.readMeta()
		log.Debug("opened vector collection", "name", s.collection, "count", col.Count())
	} else {
		log.Debug("vector collection absent, deferring creation to first insert", "name", s.collection)
	}

	return nil
}

// InsertChunks appends records in one batch, creating the collection from
// the first batch when absent.
func (s *ChromemStore) InsertChunks(ctx context.Context, records []store.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return errors.Wrap(errors.ErrStore, "store not initialized")
	}

	if s.col == nil {
		col, err := s.db.CreateCollection(s.collection, nil, nil)
		if err != nil {
			return fmt.Errorf("%w: creating collection: %s", errors.ErrStore, err)
		}
		s.col = col
		s.dims = len(records[0].Vector)
		s.writeMeta()
		log.Info("created vector collection", "name", s.collection, "dimensions", s.dims)
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		docs = append(docs, chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Embedding: r.Vector,
			Metadata: map[string]string{
				"question":  r.Question,
				"project":   r.Project,
				"tags":      r.Tags,
				"timestamp": r.Timestamp,
			},
		})
	}

	if err := s.col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("%w: inserting %d records: %s", errors.ErrStore, len(docs), err)
	}

	log.Debug("inserted records", "count", len(docs), "total", s.col.Count())
	return nil
}

// Search returns up to limit nearest neighbors, best first. An absent
// collection yields an empty result, not an error.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, limit int) ([]store.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.col == nil {
		return nil, nil
	}

	count := s.col.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}
	if s.dims == 0 {
		s.dims = len(vector)
		s.writeMeta()
	}

	results, err := s.col.QueryEmbedding(ctx, vector, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %s", errors.ErrStore, err)
	}

	out := make([]store.SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, toSearchResult(r))
	}
	return out, nil
}

// DeleteChunks removes records matching the filter, reporting the count as
// rows before minus rows after. Fails when the collection is unset.
func (s *ChromemStore) DeleteChunks(ctx context.Context, f store.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.col == nil {
		return 0, errors.Wrap(errors.ErrStore, "collection not initialized")
	}

	before := s.col.Count()

	switch v := f.(type) {
	case store.ByIDs:
		if len(v.IDs) == 0 {
			return 0, nil
		}
		if err := s.col.Delete(ctx, nil, nil, v.IDs...); err != nil {
			return 0, fmt.Errorf("%w: delete by ids: %s", errors.ErrStore, err)
		}
	case store.ByProject:
		if err := s.col.Delete(ctx, map[string]string{"project": v.Project}, nil); err != nil {
			return 0, fmt.Errorf("%w: delete by project: %s", errors.ErrStore, err)
		}
	case store.Before:
		ids, err := s.idsBefore(ctx, v.Timestamp)
		if err != nil {
			return 0, err
		}
		if len(ids) > 0 {
			if err := s.col.Delete(ctx, nil, nil, ids...); err != nil {
				return 0, fmt.Errorf("%w: delete before %s: %s", errors.ErrStore, v.Timestamp, err)
			}
		}
	case store.All:
		return s.deleteAllLocked()
	default:
		return 0, errors.Wrap(errors.ErrStore, "unsupported filter %T", f)
	}

	return before - s.col.Count(), nil
}

// DeleteAll drops every record. Returns 0 when the collection is unset.
func (s *ChromemStore) DeleteAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.col == nil {
		return 0, nil
	}
	return s.deleteAllLocked()
}

// GetStatus reports the current record count.
func (s *ChromemStore) GetStatus(ctx context.Context) (store.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.col == nil {
		return store.Status{}, nil
	}
	return store.Status{ChunkCount: s.col.Count()}, nil
}

// deleteAllLocked drops the whole collection; the next insert recreates it.
func (s *ChromemStore) deleteAllLocked() (int, error) {
	count := s.col.Count()
	if err := s.db.DeleteCollection(s.collection); err != nil {
		return 0, fmt.Errorf("%w: dropping collection: %s", errors.ErrStore, err)
	}
	s.col = nil
	return count, nil
}

// idsBefore scans the collection and returns the ids of records whose
// timestamp string orders below cutoff. chromem has no range filters, so
// the scan queries every document with a probe vector.
func (s *ChromemStore) idsBefore(ctx context.Context, cutoff string) ([]string, error) {
	count := s.col.Count()
	if count == 0 {
		return nil, nil
	}
	if s.dims == 0 {
		return nil, errors.Wrap(errors.ErrStore, "unknown vector dimensionality for scan (missing %s)", metaFile)
	}

	probe := make([]float32, s.dims)
	probe[0] = 1

	results, err := s.col.QueryEmbedding(ctx, probe, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %s", errors.ErrStore, err)
	}

	var ids []string
	for _, r := range results {
		if ts := r.Metadata["timestamp"]; ts != "" && ts < cutoff {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

func toSearchResult(r chromem.Result) store.SearchResult {
	return store.SearchResult{
		ID:        r.ID,
		Text:      r.Content,
		Question:  r.Metadata["question"],
		Score:     1 - float64(r.Similarity),
		Project:   r.Metadata["project"],
		Tags:      r.Metadata["tags"],
		Timestamp: r.Metadata["timestamp"],
	}
}

func (s *ChromemStore) metaPath() string {
	return filepath.Join(s.path, metaFile)
}

func (s *ChromemStore) readMeta() int {
	data, err := os.ReadFile(s.metaPath())
	if err != nil {
		return 0
	}
	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return 0
	}
	return m.Dimensions
}

func (s *ChromemStore) writeMeta() {
	data, err := json.Marshal(meta{Dimensions: s.dims})
	if err != nil {
		return
	}
	if err := os.WriteFile(s.metaPath(), data, 0o644); err != nil {
		log.Warn("failed to write store metadata", "path", s.metaPath(), "error", err)
	}
}
