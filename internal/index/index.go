// Package index stores vector documents in a Postgres/pgvector similarity
// index and answers k-nearest-neighbor queries over them under cosine
// similarity.
package index

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/seanblong/specsearch/internal/secrets"
	"github.com/seanblong/specsearch/pkg/models"
)

// DocumentIndex defines the methods that the Index must implement.
type DocumentIndex interface {
	Ensure(ctx context.Context, dim int) error
	Upsert(ctx context.Context, doc models.VectorDocument) error
	Search(ctx context.Context, embedding []float32, k int) ([]models.SearchHit, error)
}

// WriteError reports a failed upsert for a single document.
type WriteError struct {
	ID  string
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("index: write %s: %v", e.ID, e.Err) }

func (e *WriteError) Unwrap() error { return e.Err }

// SearchError reports a failed similarity query.
type SearchError struct {
	Err error
}

func (e *SearchError) Error() string { return "index: search: " + e.Err.Error() }

func (e *SearchError) Unwrap() error { return e.Err }

// Index provides methods to interact with the similarity index.
type Index struct {
	pool *pgxpool.Pool
}

// New creates a new Index instance connected to the given database URL.
func New(ctx context.Context, url string) (*Index, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Index{pool: p}, nil
}

func (ix *Index) Close() { ix.pool.Close() }

// Ping checks the index connectivity.
func (ix *Index) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return ix.pool.Ping(ctx)
}

// Ensure creates the index schema for vectors of the given dimensionality if
// it does not exist yet. It is idempotent: concurrent writers racing on
// creation both succeed.
func (ix *Index) Ensure(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS spec_documents (
  id            TEXT PRIMARY KEY,
  resource_type TEXT NOT NULL DEFAULT '',
  source        TEXT NOT NULL DEFAULT '',
  content       TEXT,
  embedding     vector(%d),
  created_at    TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS spec_documents_resource_type_idx
  ON spec_documents (resource_type);

CREATE INDEX IF NOT EXISTS spec_documents_embedding_idx
  ON spec_documents USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
	if _, err := ix.pool.Exec(ctx, fmt.Sprintf(q, dim)); err != nil {
		// A concurrent Ensure may have created objects between our
		// IF NOT EXISTS checks; duplicates mean the schema is in place.
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return err
	}
	return nil
}

// Upsert inserts or overwrites one vector document. Repeated processing of
// the same chunk lands on the same id and replaces the previous document;
// writes are visible to subsequent searches immediately.
func (ix *Index) Upsert(ctx context.Context, doc models.VectorDocument) error {
	const q = `
		INSERT INTO spec_documents (
			id, resource_type, source, content, embedding, created_at
		) VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (id) DO UPDATE SET
			resource_type = EXCLUDED.resource_type,
			source        = EXCLUDED.source,
			content       = EXCLUDED.content,
			embedding     = EXCLUDED.embedding,
			created_at    = now();`

	_, err := ix.pool.Exec(ctx, q,
		doc.ID, doc.ResourceType, doc.Source, doc.Content, pgvector.NewVector(doc.Embedding),
	)
	if err != nil {
		return &WriteError{ID: doc.ID, Err: err}
	}
	return nil
}

// Search returns up to k hits ordered by descending cosine similarity. An
// empty index yields an empty result, not an error.
func (ix *Index) Search(ctx context.Context, embedding []float32, k int) ([]models.SearchHit, error) {
	const q = `
		SELECT id, resource_type, source, content, created_at,
		       1 - (embedding <=> $1) AS score
		FROM spec_documents
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2;`

	rows, err := ix.pool.Query(ctx, q, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, &SearchError{Err: err}
	}
	defer rows.Close()

	var hits []models.SearchHit
	for rows.Next() {
		var d models.VectorDocument
		var score float64
		if err := rows.Scan(&d.ID, &d.ResourceType, &d.Source, &d.Content, &d.CreatedAt, &score); err != nil {
			return nil, &SearchError{Err: err}
		}
		hits = append(hits, models.SearchHit{Document: d, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, &SearchError{Err: err}
	}
	return hits, nil
}

// DocumentID derives a stable index identifier from a chunk's storage key.
// Non-alphanumeric characters map to underscores so the same chunk always
// overwrites its own document.
func DocumentID(chunkKey string) string {
	var b strings.Builder
	for _, r := range chunkKey {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// WithCredentials injects username/password from the secret store into a DSN
// that carries no userinfo of its own.
func WithCredentials(dsn string, c secrets.Credentials) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("index: parse dsn: %w", err)
	}
	if u.User != nil && u.User.Username() != "" {
		return dsn, nil
	}
	u.User = url.UserPassword(c.Username, c.Password)
	return u.String(), nil
}
