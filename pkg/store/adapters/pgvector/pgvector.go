// Package pgvector implements the vector store on PostgreSQL with the
// pgvector extension. Embeddings are stored in a VECTOR column and searched
// with the inner-product operator; for unit vectors that ordering matches
// cosine distance.
package pgvector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ccforever/forever/pkg/errors"
	"github.com/ccforever/forever/pkg/log"
	"github.com/ccforever/forever/pkg/store"
)

// DefaultTableName is used when the configuration does not name a table.
const DefaultTableName = "memories"

// Config contains the settings for a PgvectorStore.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// TableName is the table holding the memory records.
	TableName string
}

// PgvectorStore implements store.VectorStore on PostgreSQL + pgvector.
// The table is created on the first insert, once the embedding
// dimensionality is known.
type PgvectorStore struct {
	db         *pgxpool.Pool
	connString string
	tableName  string
	dims       int
}

// New creates a store for the given configuration without connecting.
func New(cfg Config) (*PgvectorStore, error) {
	if cfg.ConnectionString == "" {
		return nil, errors.Wrap(errors.ErrValidation, "connection string cannot be empty")
	}
	if cfg.TableName == "" {
		cfg.TableName = DefaultTableName
	}
	return &PgvectorStore{tableName: cfg.TableName, connString: cfg.ConnectionString}, nil
}

// Initialize connects to PostgreSQL, ensures the vector extension exists,
// and picks up the table dimensionality if the table already exists.
func (s *PgvectorStore) Initialize(ctx context.Context) error {
	db, err := pgxpool.New(ctx, s.connString)
	if err != nil {
		return errors.Wrap(errors.ErrStore, "failed to connect to PostgreSQL: %s", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return errors.Wrap(errors.ErrStore, "failed to ping PostgreSQL: %s", err)
	}
	s.db = db

	if _, err := s.db.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return errors.Wrap(errors.ErrStore, "failed to create pgvector extension: %s", err)
	}

	// Recover dimensionality from an existing table so searches work after
	// a restart without any insert.
	var dims *int
	err = s.db.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = to_regclass($1) AND attname = 'embedding'
	`, s.tableName).Scan(&dims)
	if err == nil && dims != nil && *dims > 0 {
		s.dims = *dims
	}

	return nil
}

// Close releases the connection pool.
func (s *PgvectorStore) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *PgvectorStore) ensureTable(ctx context.Context, dims int) error {
	if s.dims == dims {
		return nil
	}
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			question TEXT NOT NULL DEFAULT '',
			project TEXT NOT NULL DEFAULT 'default',
			tags TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL
		)
	`, s.tableName, dims))
	if err != nil {
		return errors.Wrap(errors.ErrStore, "failed to create table: %s", err)
	}

	indices := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_project_idx ON %s (project)", s.tableName, s.tableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_timestamp_idx ON %s (timestamp)", s.tableName, s.tableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING ivfflat (embedding vector_ip_ops) WITH (lists = 100)", s.tableName, s.tableName),
	}
	for _, sql := range indices {
		if _, err := s.db.Exec(ctx, sql); err != nil {
			return errors.Wrap(errors.ErrStore, "failed to create index: %s", err)
		}
	}

	s.dims = dims
	return nil
}

// InsertChunks writes a batch in a single transaction, creating the table
// on the first batch.
func (s *PgvectorStore) InsertChunks(ctx context.Context, records []store.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureTable(ctx, len(records[0].Vector)); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrStore, "failed to begin transaction: %s", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range records {
		if len(r.Vector) != s.dims {
			return errors.Wrap(errors.ErrStore, "embedding dimension mismatch: got %d, expected %d", len(r.Vector), s.dims)
		}
		// Append-only: records are immutable once inserted, and callers
		// supply collision-resistant ids. A duplicate id is an error.
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, text, question, project, tags, timestamp, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7::vector)
		`, s.tableName),
			r.ID, r.Text, r.Question, r.Project, r.Tags, r.Timestamp, embedToString(r.Vector),
		)
		if err != nil {
			return errors.Wrap(errors.ErrStore, "failed to insert record: %s", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(errors.ErrStore, "failed to commit transaction: %s", err)
	}

	log.Debug("Inserted records into pgvector", "count", len(records), "table", s.tableName)
	return nil
}

// Search returns up to limit records ordered by inner-product distance.
// The reported score is 1 + (embedding <#> query), i.e. cosine distance
// for unit vectors.
func (s *PgvectorStore) Search(ctx context.Context, vector []float32, limit int) ([]store.SearchResult, error) {
	if s.dims == 0 {
		return nil, nil
	}
	if len(vector) != s.dims {
		return nil, errors.Wrap(errors.ErrStore, "embedding dimension mismatch: got %d, expected %d", len(vector), s.dims)
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT id, text, question, project, tags, timestamp,
		       1 + (embedding <#> $1::vector) AS score
		FROM %s
		ORDER BY embedding <#> $1::vector
		LIMIT %d
	`, s.tableName, limit), embedToString(vector))
	if err != nil {
		return nil, errors.Wrap(errors.ErrStore, "failed to perform semantic search: %s", err)
	}
	defer rows.Close()

	var results []store.SearchResult
	for rows.Next() {
		var r store.SearchResult
		if err := rows.Scan(&r.ID, &r.Text, &r.Question, &r.Project, &r.Tags, &r.Timestamp, &r.Score); err != nil {
			return nil, errors.Wrap(errors.ErrStore, "failed to scan row: %s", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrStore, "error iterating rows: %s", err)
	}
	return results, nil
}

// DeleteChunks removes records matching the filter and reports how many
// rows were deleted.
func (s *PgvectorStore) DeleteChunks(ctx context.Context, f store.Filter) (int, error) {
	if s.dims == 0 {
		return 0, errors.Wrap(errors.ErrStore, "table not initialized")
	}

	var where string
	var args []interface{}
	switch v := f.(type) {
	case store.ByIDs:
		if len(v.IDs) == 0 {
			return 0, nil
		}
		placeholders := make([]string, len(v.IDs))
		for i, id := range v.IDs {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, id)
		}
		where = "id IN (" + strings.Join(placeholders, ", ") + ")"
	case store.ByProject:
		where = "project = $1"
		args = append(args, v.Project)
	case store.Before:
		where = "timestamp < $1"
		args = append(args, v.Timestamp)
	case store.All:
		where = "TRUE"
	default:
		return 0, errors.Wrap(errors.ErrStore, "unsupported delete filter %T", f)
	}

	tag, err := s.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", s.tableName, where), args...)
	if err != nil {
		return 0, errors.Wrap(errors.ErrStore, "failed to delete records: %s", err)
	}

	deleted := int(tag.RowsAffected())
	log.Debug("Deleted records from pgvector", "count", deleted, "table", s.tableName)
	return deleted, nil
}

// DeleteAll drops every record. Returns 0 when the table was never created.
func (s *PgvectorStore) DeleteAll(ctx context.Context) (int, error) {
	if s.dims == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s", s.tableName))
	if err != nil {
		return 0, errors.Wrap(errors.ErrStore, "failed to delete records: %s", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetStatus reports the record count.
func (s *PgvectorStore) GetStatus(ctx context.Context) (store.Status, error) {
	if s.dims == 0 {
		return store.Status{}, nil
	}
	var count int
	err := s.db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.tableName)).Scan(&count)
	if err != nil {
		return store.Status{}, errors.Wrap(errors.ErrStore, "failed to count records: %s", err)
	}
	return store.Status{ChunkCount: count}, nil
}

// embedToString renders a vector in pgvector's text format.
func embedToString(embedding []float32) string {
	elements := make([]string, len(embedding))
	for i, v := range embedding {
		elements[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(elements, ",") + "]"
}
