// Package retrieval fetches, re-ranks, and compresses stored knowledge into a
// bounded context packet for generation.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/rupjae/jules/internal/knowledge"
)

// Searcher is the vector search boundary the retriever depends on.
type Searcher interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Candidate, error)
}

// Summarizer compresses the selected passages into digest text. budget is the
// token cap, passed as a soft instruction; the retriever still enforces the
// cap on whatever comes back.
type Summarizer interface {
	Summarize(ctx context.Context, passages []string, budget int) (string, error)
}

// Params is the tuning snapshot one retrieval runs under.
type Params struct {
	// TopK is the number of passages kept after re-ranking.
	TopK int

	// Oversample multiplies TopK for the initial fetch so MMR has a pool
	// to diversify from.
	Oversample int

	// Lambda trades relevance against diversity in [0,1]; 1 is plain top-K.
	Lambda float64

	// TokenCap bounds the packet's word count.
	TokenCap int
}

// Packet is the compressed context handed to the generator. The zero value is
// the explicit "nothing retrieved" marker.
type Packet struct {
	Text      string
	Tokens    int
	Retrieved bool
}

// Retriever runs the fetch, MMR selection, and summarization stages.
type Retriever struct {
	searcher   Searcher
	summarizer Summarizer
	logger     *slog.Logger
}

// New creates a Retriever. A nil summarizer always uses the local bullet
// fallback.
func New(searcher Searcher, summarizer Summarizer, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		searcher:   searcher,
		summarizer: summarizer,
		logger:     logger,
	}
}

// RetrieveAndSummarize produces a context packet for the prompt.
//
// Zero search hits yield an empty packet and nil error. A search failure is
// returned to the caller, which is expected to proceed without a packet.
// Summarizer failures never propagate: the selected passages are joined into
// a bullet list locally instead. The result's Tokens never exceeds
// params.TokenCap.
func (r *Retriever) RetrieveAndSummarize(ctx context.Context, prompt string, params Params) (Packet, error) {
	poolSize := params.TopK * params.Oversample

	pool, err := r.searcher.Search(ctx, prompt, knowledge.WithLimit(poolSize))
	if err != nil {
		return Packet{}, fmt.Errorf("search candidates: %w", err)
	}
	if len(pool) == 0 {
		return Packet{}, nil
	}

	selected := selectMMR(pool, params.TopK, params.Lambda)
	passages := make([]string, len(selected))
	for i, c := range selected {
		passages[i] = c.Document.Content
	}

	text := r.summarize(ctx, passages, params.TokenCap)
	if CountTokens(text) > params.TokenCap {
		text = TruncateTokens(text, params.TokenCap)
	}
	return Packet{
		Text:      text,
		Tokens:    CountTokens(text),
		Retrieved: true,
	}, nil
}

func (r *Retriever) summarize(ctx context.Context, passages []string, budget int) string {
	if r.summarizer == nil {
		return bulletJoin(passages)
	}
	text, err := r.summarizer.Summarize(ctx, passages, budget)
	if err != nil {
		r.logger.Warn("summarizer failed, using local fallback", "error", err)
		return bulletJoin(passages)
	}
	return text
}

// bulletJoin is the local fallback digest: one bullet per passage, no model
// involved.
func bulletJoin(passages []string) string {
	var b strings.Builder
	for i, p := range passages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(p))
	}
	return b.String()
}

const summaryPrompt = `Condense the following passages into a terse bullet
digest of at most %d words. Keep only facts useful for answering questions.
Do not add commentary.

Passages:
%s`

// summarizerTimeout bounds the compression call; on expiry the local bullet
// fallback takes over.
const summarizerTimeout = 15 * time.Second

// ModelSummarizer compresses passages with a single bounded genkit call.
type ModelSummarizer struct {
	g     *genkit.Genkit
	model string
}

// NewModelSummarizer creates a Summarizer backed by the named model.
func NewModelSummarizer(g *genkit.Genkit, model string) *ModelSummarizer {
	return &ModelSummarizer{g: g, model: model}
}

// Summarize implements Summarizer.
func (m *ModelSummarizer) Summarize(ctx context.Context, passages []string, budget int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, summarizerTimeout)
	defer cancel()

	resp, err := genkit.Generate(ctx, m.g,
		ai.WithModelName(m.model),
		ai.WithPrompt(summaryPrompt, budget, bulletJoin(passages)),
	)
	if err != nil {
		return "", fmt.Errorf("summarize passages: %w", err)
	}
	return resp.Text(), nil
}
