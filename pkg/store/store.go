// Package store defines the persistent vector index contract used by the
// memory service, along with the record and filter types shared by all
// backend adapters.
package store

import (
	"context"
	"strings"
)

// Record is the persisted memory unit. Records are immutable once inserted;
// there is no update operation, only delete.
type Record struct {
	// ID is unique and caller-supplied. The store does not enforce
	// uniqueness; callers derive collision-resistant ids from timestamps.
	ID string

	// Text is the full formatted exchange ("Human: ...\nAssistant: ...")
	Text string

	// Question is the display summary, at most 200 characters
	Question string

	// Vector is the embedding. Its length is constant across all records
	// in one store instance; changing embedding models requires a fresh
	// store.
	Vector []float32

	// Project is a filter key, "default" when the caller supplied none
	Project string

	// Tags is a comma-joined label set, e.g. "auto-indexed"
	Tags string

	// Timestamp is a fixed-width ISO-8601 string assigned at store time.
	// Lexical order equals chronological order, which the Before filter
	// relies on.
	Timestamp string
}

// SearchResult is one nearest-neighbor match. Score is the raw backend
// distance; the memory service converts it to a similarity.
type SearchResult struct {
	ID        string
	Text      string
	Question  string
	Score     float64
	Project   string
	Tags      string
	Timestamp string
}

// Status reports store-level counters.
type Status struct {
	// ChunkCount is the full-scan row count (0 when the table is unset)
	ChunkCount int
}

// Filter selects records for deletion. It is a closed set of variants
// translated to the backend's native filter syntax at the adapter boundary,
// so no core logic ever builds predicate strings from caller input.
type Filter interface {
	filter()
}

// ByIDs selects records whose id is in the given set.
type ByIDs struct {
	IDs []string
}

// ByProject selects records with an exactly matching project tag.
type ByProject struct {
	Project string
}

// Before selects records whose timestamp string orders strictly below the
// given ISO-8601 timestamp.
type Before struct {
	Timestamp string
}

// All selects every record.
type All struct{}

func (ByIDs) filter()     {}
func (ByProject) filter() {}
func (Before) filter()    {}
func (All) filter()       {}

// VectorStore is the interface all vector index adapters implement.
//
// Table lifecycle: Initialize opens the database and the table when it
// already exists; otherwise table creation is deferred to the first insert,
// which fixes the vector dimensionality. Search against an absent table
// returns an empty result, DeleteChunks fails, DeleteAll and GetStatus
// report zero.
type VectorStore interface {
	// Initialize opens the backend. Idempotent.
	Initialize(ctx context.Context) error

	// InsertChunks appends records in one batch; no-op on empty input.
	// Creates the table from the first batch when absent.
	InsertChunks(ctx context.Context, records []Record) error

	// Search returns up to limit nearest neighbors of the query vector,
	// best match first, scored by raw backend distance.
	Search(ctx context.Context, vector []float32, limit int) ([]SearchResult, error)

	// DeleteChunks removes records matching the filter and returns the
	// count removed (row count before minus after).
	DeleteChunks(ctx context.Context, f Filter) (int, error)

	// DeleteAll removes every record. Returns 0 when the table is unset.
	DeleteAll(ctx context.Context) (int, error)

	// GetStatus reports the current record count.
	GetStatus(ctx context.Context) (Status, error)
}

// EscapeLiteral doubles single quotes so a caller-supplied value can be
// embedded in a textual predicate without terminating the quoted literal.
// Adapters that render Filters to predicate strings must route every
// interpolated value through here.
func EscapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
