package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// UpsertParams carries one document upsert.
type UpsertParams struct {
	ID        string
	Content   string
	Embedding *pgvector.Vector
	Metadata  []byte
	CreatedAt time.Time
}

// SearchParams carries one vector search.
type SearchParams struct {
	QueryEmbedding *pgvector.Vector
	FilterMetadata []byte // nil = unfiltered
	Limit          int32
}

// SearchRow is one raw search result row.
type SearchRow struct {
	ID         string
	Content    string
	Embedding  pgvector.Vector
	Metadata   []byte
	CreatedAt  time.Time
	Similarity float64
}

// Querier defines the database operations the Store needs.
// Interfaces are defined by the consumer so tests can swap in a fake.
type Querier interface {
	UpsertDocument(ctx context.Context, arg UpsertParams) error
	SearchDocuments(ctx context.Context, arg SearchParams) ([]SearchRow, error)
	DeleteDocument(ctx context.Context, id string) error
	CountDocuments(ctx context.Context) (int64, error)
}

// pgxQuerier implements Querier over a pgx connection pool.
type pgxQuerier struct {
	pool *pgxpool.Pool
}

// NewQuerier creates the production Querier backed by pool.
func NewQuerier(pool *pgxpool.Pool) Querier {
	return &pgxQuerier{pool: pool}
}

const upsertDocumentSQL = `
INSERT INTO documents (id, content, embedding, metadata, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET content = EXCLUDED.content,
    embedding = EXCLUDED.embedding,
    metadata = EXCLUDED.metadata`

func (q *pgxQuerier) UpsertDocument(ctx context.Context, arg UpsertParams) error {
	createdAt := arg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := q.pool.Exec(ctx, upsertDocumentSQL,
		arg.ID, arg.Content, arg.Embedding, arg.Metadata, createdAt)
	return err
}

// Cosine distance via the <=> operator; similarity = 1 - distance.
const searchDocumentsSQL = `
SELECT id, content, embedding, metadata, created_at,
       1 - (embedding <=> $1) AS similarity
FROM documents
WHERE ($2::jsonb IS NULL OR metadata @> $2)
ORDER BY embedding <=> $1
LIMIT $3`

func (q *pgxQuerier) SearchDocuments(ctx context.Context, arg SearchParams) ([]SearchRow, error) {
	rows, err := q.pool.Query(ctx, searchDocumentsSQL,
		arg.QueryEmbedding, arg.FilterMetadata, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchRow
	for rows.Next() {
		var r SearchRow
		if err := rows.Scan(&r.ID, &r.Content, &r.Embedding, &r.Metadata, &r.CreatedAt, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *pgxQuerier) DeleteDocument(ctx context.Context, id string) error {
	_, err := q.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return err
}

func (q *pgxQuerier) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := q.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}
