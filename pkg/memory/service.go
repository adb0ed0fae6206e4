// Package memory orchestrates the chunker, embedder, and vector store into
// the four public memory operations: store, retrieve, delete, and stats.
package memory

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ccforever/forever/pkg/chunker"
	"github.com/ccforever/forever/pkg/config"
	"github.com/ccforever/forever/pkg/embedder"
	"github.com/ccforever/forever/pkg/errors"
	"github.com/ccforever/forever/pkg/log"
	"github.com/ccforever/forever/pkg/store"
)

const (
	// MaxContentLength caps store_memory input, inclusive.
	MaxContentLength = 100000

	// MaxQueryLength caps retrieve_memory queries, inclusive.
	MaxQueryLength = 10000

	// DefaultNResults is the result count when the caller does not set one.
	DefaultNResults = 5

	// MaxNResults caps how many results one retrieval may return.
	MaxNResults = 100

	// DefaultThreshold is the minimum similarity when the caller does not
	// set one.
	DefaultThreshold = 0.3

	// DefaultProject tags records stored without an explicit project.
	DefaultProject = "default"

	// DefaultTags tags records stored without explicit tags.
	DefaultTags = "conversation"

	// TimestampLayout is fixed-width UTC so the lexical order of rendered
	// timestamps matches chronological order, which the before-filter
	// string comparison depends on.
	TimestampLayout = "2006-01-02T15:04:05.000000Z"
)

// Service implements the memory operations over an embedder and a vector
// store. It is safe for concurrent use to the extent its backends are.
type Service struct {
	embedder *embedder.Embedder
	store    store.VectorStore
	cfg      *config.Config
}

// NewService creates a memory service. All three dependencies are required.
func NewService(emb *embedder.Embedder, st store.VectorStore, cfg *config.Config) (*Service, error) {
	if emb == nil {
		return nil, errors.Wrap(errors.ErrValidation, "embedder cannot be nil")
	}
	if st == nil {
		return nil, errors.Wrap(errors.ErrValidation, "store cannot be nil")
	}
	if cfg == nil {
		return nil, errors.Wrap(errors.ErrValidation, "config cannot be nil")
	}
	return &Service{embedder: emb, store: st, cfg: cfg}, nil
}

// StoreResult reports a successful store operation.
type StoreResult struct {
	ChunksStored int    `json:"chunks_stored"`
	Timestamp    string `json:"timestamp"`
}

// Store chunks the content, embeds each chunk, and persists the records as
// one batch. All records from one call share a timestamp; ids are the
// timestamp suffixed with the chunk index.
func (s *Service) Store(ctx context.Context, content, project string, tags []string, chunk bool) (*StoreResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.Wrap(errors.ErrValidation, "content cannot be empty")
	}
	if len(content) > MaxContentLength {
		return nil, errors.Wrap(errors.ErrValidation, "content exceeds maximum length of %d characters", MaxContentLength)
	}

	var chunks []chunker.Chunk
	if chunk {
		chunks = chunker.Split(content)
	} else {
		chunks = []chunker.Chunk{{
			Text:     content,
			Question: chunker.Truncate(content, chunker.MaxQuestionLength),
		}}
	}
	if len(chunks) == 0 {
		return nil, errors.Wrap(errors.ErrValidation, "no question/answer pairs found in content")
	}

	if project == "" {
		project = DefaultProject
	}
	tagString := strings.Join(tags, ",")
	if tagString == "" {
		tagString = DefaultTags
	}

	timestamp := time.Now().UTC().Format(TimestampLayout)
	records := make([]store.Record, 0, len(chunks))
	for i, c := range chunks {
		vector, err := s.embedder.Embed(ctx, c.Text)
		if err != nil {
			return nil, err
		}
		records = append(records, store.Record{
			ID:        fmt.Sprintf("%s-%d", timestamp, i),
			Text:      c.Text,
			Question:  c.Question,
			Vector:    vector,
			Project:   project,
			Tags:      tagString,
			Timestamp: timestamp,
		})
	}

	if err := s.store.InsertChunks(ctx, records); err != nil {
		return nil, err
	}

	log.Info("Stored memory records",
		"chunks", len(records),
		"project", project,
		"timestamp", timestamp)

	return &StoreResult{ChunksStored: len(records), Timestamp: timestamp}, nil
}

// RetrievedMemory is one search hit, with the raw store distance already
// converted to a similarity in [0,1] for normalized vectors.
type RetrievedMemory struct {
	ID        string  `json:"id"`
	Score     float64 `json:"score"`
	Question  string  `json:"question"`
	Text      string  `json:"text"`
	Timestamp string  `json:"timestamp"`
	Project   string  `json:"project"`
	Tags      string  `json:"tags"`
}

// RetrieveResult is the shaped response of a retrieval.
type RetrieveResult struct {
	Results    []RetrievedMemory `json:"results"`
	Query      string            `json:"query"`
	TotalFound int               `json:"total_found"`
}

// Retrieve embeds the query and returns the most similar stored records,
// filtered by similarity threshold and optional project. An empty result
// list is a valid outcome, not an error.
func (s *Service) Retrieve(ctx context.Context, query string, nResults int, threshold float64, project string) (*RetrieveResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.Wrap(errors.ErrValidation, "query cannot be empty")
	}
	if len(query) > MaxQueryLength {
		return nil, errors.Wrap(errors.ErrValidation, "query exceeds maximum length of %d characters", MaxQueryLength)
	}

	if nResults < 1 {
		nResults = 1
	} else if nResults > MaxNResults {
		nResults = MaxNResults
	}
	if threshold < 0 {
		threshold = 0
	} else if threshold > 1 {
		threshold = 1
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	// Over-fetch so threshold and project filtering still leave enough
	// candidates to fill the requested count.
	raw, err := s.store.Search(ctx, vector, nResults*2)
	if err != nil {
		return nil, err
	}

	results := make([]RetrievedMemory, 0, nResults)
	for _, r := range raw {
		similarity := 1 - r.Score
		if similarity < threshold {
			continue
		}
		if project != "" && r.Project != project {
			continue
		}
		results = append(results, RetrievedMemory{
			ID:        r.ID,
			Score:     math.Round(similarity*10000) / 10000,
			Question:  r.Question,
			Text:      r.Text,
			Timestamp: r.Timestamp,
			Project:   r.Project,
			Tags:      r.Tags,
		})
		if len(results) == nResults {
			break
		}
	}

	log.Debug("Retrieved memory records",
		"query_length", len(query),
		"candidates", len(raw),
		"returned", len(results))

	return &RetrieveResult{Results: results, Query: query, TotalFound: len(results)}, nil
}

// DeleteCriteria selects which records to remove. When several fields are
// set, all wins over ids, which wins over project, which wins over before.
type DeleteCriteria struct {
	IDs     []string
	Project string
	Before  string
	All     bool
}

// DeleteResult reports how many records were removed and which criterion
// was applied.
type DeleteResult struct {
	DeletedCount int    `json:"deleted_count"`
	Criteria     string `json:"criteria"`
}

// Delete removes records matching exactly one criterion.
func (s *Service) Delete(ctx context.Context, c DeleteCriteria) (*DeleteResult, error) {
	var (
		filter   store.Filter
		criteria string
	)
	switch {
	case c.All:
		filter = store.All{}
		criteria = "all"
	case len(c.IDs) > 0:
		filter = store.ByIDs{IDs: c.IDs}
		criteria = fmt.Sprintf("ids (%d)", len(c.IDs))
	case c.Project != "":
		filter = store.ByProject{Project: c.Project}
		criteria = fmt.Sprintf("project=%s", c.Project)
	case c.Before != "":
		filter = store.Before{Timestamp: c.Before}
		criteria = fmt.Sprintf("before=%s", c.Before)
	default:
		return nil, errors.Wrap(errors.ErrValidation, "no deletion criteria provided: specify ids, project, before, or all")
	}

	var (
		deleted int
		err     error
	)
	if _, isAll := filter.(store.All); isAll {
		deleted, err = s.store.DeleteAll(ctx)
	} else {
		deleted, err = s.store.DeleteChunks(ctx, filter)
	}
	if err != nil {
		return nil, err
	}

	log.Info("Deleted memory records", "count", deleted, "criteria", criteria)
	return &DeleteResult{DeletedCount: deleted, Criteria: criteria}, nil
}

// Stats describes the current state of the memory store.
type Stats struct {
	TotalChunks  int    `json:"total_chunks"`
	Model        string `json:"model"`
	DataDir      string `json:"data_dir"`
	ConfigSource string `json:"config_source"`
}

// Stats reports the record count, the active embedding model, the resolved
// data directory, and which configuration source is in effect.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	status, err := s.store.GetStatus(ctx)
	if err != nil {
		return nil, err
	}

	return &Stats{
		TotalChunks:  status.ChunkCount,
		Model:        s.cfg.Embeddings.Model,
		DataDir:      config.ExpandPath(s.cfg.DataDir),
		ConfigSource: s.cfg.Source,
	}, nil
}
