package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"
)

// ErrUnavailable indicates the vector index could not serve the request.
// Callers treat this as "no context available" rather than failing the turn.
var ErrUnavailable = errors.New("vector index unavailable")

// Store is the vector store client: it embeds content and performs similarity
// search and upserts against PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	queries  Querier
	embedder ai.Embedder
	logger   *slog.Logger
}

// New creates a Store.
//
// Example (production):
//
//	store := knowledge.New(knowledge.NewQuerier(pool), embedder, logger)
//
// Example (testing):
//
//	store := knowledge.New(fakeQuerier, fakeEmbedder, log.NewNop())
func New(querier Querier, embedder ai.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		queries:  querier,
		embedder: embedder,
		logger:   logger,
	}
}

// Index embeds doc.Content and upserts the document into the vector index.
func (s *Store) Index(ctx context.Context, doc Document) error {
	embedding, err := s.embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embedding document %q: %w", doc.ID, err)
	}

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	vec := pgvector.NewVector(embedding)
	if err := s.queries.UpsertDocument(ctx, UpsertParams{
		ID:        doc.ID,
		Content:   doc.Content,
		Embedding: &vec,
		Metadata:  metadataJSON,
		CreatedAt: doc.CreateAt,
	}); err != nil {
		return fmt.Errorf("%w: upserting document %q: %w", ErrUnavailable, doc.ID, err)
	}

	s.logger.Debug("indexed document", "id", doc.ID, "content_length", len(doc.Content))
	return nil
}

// Search embeds the query and returns the nearest candidates ordered by
// similarity. Fewer hits than the limit is not an error; neither is zero.
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Candidate, error) {
	cfg := buildSearchConfig(opts)

	// Bound vector search so one slow query cannot stall the pipeline.
	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	embedding, err := s.embed(queryCtx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	var filterJSON []byte
	if len(cfg.filter) > 0 {
		filterJSON, err = json.Marshal(cfg.filter)
		if err != nil {
			return nil, fmt.Errorf("marshaling filter: %w", err)
		}
	}

	vec := pgvector.NewVector(embedding)
	limit := cfg.limit
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.queries.SearchDocuments(queryCtx, SearchParams{
		QueryEmbedding: &vec,
		FilterMetadata: filterJSON,
		Limit:          int32(limit), // #nosec G115 -- limit validated by config
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: search timeout: %w", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("%w: search failed: %w", ErrUnavailable, err)
	}

	return s.rowsToCandidates(rows), nil
}

// Delete removes a document from the index.
func (s *Store) Delete(ctx context.Context, docID string) error {
	if err := s.queries.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("deleting document %q: %w", docID, err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.queries.CountDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// embed generates an embedding for text via the configured embedder. The
// output is truncated to EmbeddingDimensions so it fits the vector column.
func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	dim := EmbeddingDimensions
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return resp.Embeddings[0].Embedding, nil
}

// rowsToCandidates converts raw rows to Candidates, clamping similarity into
// [0,1] (float drift around the <=> operator can land marginally outside).
func (s *Store) rowsToCandidates(rows []SearchRow) []Candidate {
	candidates := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		var metadata map[string]string
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			s.logger.Warn("failed to parse metadata", "document_id", row.ID, "error", err)
			metadata = make(map[string]string)
		}

		sim := row.Similarity
		if sim < 0 {
			sim = 0
		}
		if sim > 1 {
			sim = 1
		}

		candidates = append(candidates, Candidate{
			Document: Document{
				ID:       row.ID,
				Content:  row.Content,
				Metadata: metadata,
				CreateAt: row.CreatedAt,
			},
			Embedding:  row.Embedding.Slice(),
			Similarity: sim,
		})
	}
	return candidates
}
