package knowledge

import "time"

// EmbeddingDimensions is the stored vector width. gemini-embedding-001
// defaults to 3072 dimensions; every embed call requests truncation to this
// value, which must match the vector(768) column in the schema.
const EmbeddingDimensions int32 = 768

// Metadata keys attached to indexed conversation messages.
const (
	MetaThreadID = "thread_id"
	MetaRole     = "role"
	MetaTS       = "ts"
)

// Document is a unit of indexed content.
type Document struct {
	ID       string            // Unique identifier
	Content  string            // Text content
	Metadata map[string]string // Source metadata (thread_id, role, ts)
	CreateAt time.Time         // Creation timestamp
}

// Candidate is a single retrieval hit: the document plus its embedding and
// similarity to the query. Candidates are transient, living only for the
// duration of one retrieval call.
type Candidate struct {
	Document   Document
	Embedding  []float32 // Stored embedding, used for diversity re-ranking
	Similarity float64   // Cosine similarity to the query, 0-1, higher = closer
}

// SearchOption configures search behavior using the functional options pattern.
type SearchOption func(*searchConfig)

// searchConfig holds internal search configuration.
type searchConfig struct {
	limit   int
	filter  map[string]string
	timeout time.Duration
}

// WithLimit sets the maximum number of candidates to return. Default 5.
func WithLimit(n int) SearchOption {
	return func(c *searchConfig) {
		c.limit = n
	}
}

// WithFilter adds a metadata filter (AND logic across calls).
// Example: WithFilter(MetaThreadID, id.String())
func WithFilter(key, value string) SearchOption {
	return func(c *searchConfig) {
		if c.filter == nil {
			c.filter = make(map[string]string)
		}
		c.filter[key] = value
	}
}

// buildSearchConfig applies options over defaults.
func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		limit:   5,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
