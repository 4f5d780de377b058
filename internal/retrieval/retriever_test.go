package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"

	"github.com/rupjae/jules/internal/knowledge"
	"github.com/rupjae/jules/internal/log"
)

type mockSearcher struct {
	candidates []knowledge.Candidate
	err        error
}

func (m *mockSearcher) Search(_ context.Context, _ string, _ ...knowledge.SearchOption) ([]knowledge.Candidate, error) {
	return m.candidates, m.err
}

type mockSummarizer struct {
	text string
	err  error
}

func (m *mockSummarizer) Summarize(context.Context, []string, int) (string, error) {
	return m.text, m.err
}

func testParams() Params {
	return Params{TopK: 2, Oversample: 4, Lambda: 0.5, TokenCap: 10}
}

// capturingQuerier records the search that reaches the vector store, so the
// resolved fetch limit can be asserted end to end.
type capturingQuerier struct {
	lastSearch *knowledge.SearchParams
}

func (q *capturingQuerier) UpsertDocument(context.Context, knowledge.UpsertParams) error { return nil }

func (q *capturingQuerier) SearchDocuments(_ context.Context, arg knowledge.SearchParams) ([]knowledge.SearchRow, error) {
	q.lastSearch = &arg
	return nil, nil
}

func (q *capturingQuerier) DeleteDocument(context.Context, string) error { return nil }

func (q *capturingQuerier) CountDocuments(context.Context) (int64, error) { return 0, nil }

type stubEmbedder struct{}

func (stubEmbedder) Name() string { return "stub-embedder" }

func (stubEmbedder) Register(api.Registry) {}

func (stubEmbedder) Embed(context.Context, *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	return &ai.EmbedResponse{Embeddings: []*ai.Embedding{{Embedding: []float32{1}}}}, nil
}

// The candidate pool is fetched oversampled: TopK*Oversample rows, not TopK.
func TestRetrieveAndSummarize_OversampledPoolFetch(t *testing.T) {
	q := &capturingQuerier{}
	searcher := knowledge.New(q, stubEmbedder{}, log.NewNop())
	r := New(searcher, &mockSummarizer{text: "digest"}, nil)

	params := Params{TopK: 5, Oversample: 4, Lambda: 0.5, TokenCap: 10}
	if _, err := r.RetrieveAndSummarize(context.Background(), "query", params); err != nil {
		t.Fatalf("RetrieveAndSummarize: %v", err)
	}

	if q.lastSearch == nil {
		t.Fatal("search never reached the store")
	}
	if q.lastSearch.Limit != 20 {
		t.Errorf("pool fetch limit = %d, want TopK*Oversample = 20", q.lastSearch.Limit)
	}
}

func TestRetrieveAndSummarize_ZeroHits(t *testing.T) {
	r := New(&mockSearcher{}, &mockSummarizer{text: "unused"}, nil)

	packet, err := r.RetrieveAndSummarize(context.Background(), "query", testParams())
	if err != nil {
		t.Fatalf("RetrieveAndSummarize: %v", err)
	}
	if packet.Retrieved || packet.Text != "" || packet.Tokens != 0 {
		t.Errorf("zero hits should yield empty packet, got %+v", packet)
	}
}

func TestRetrieveAndSummarize_SearchErrorPropagates(t *testing.T) {
	wantErr := errors.New("index down")
	r := New(&mockSearcher{err: wantErr}, nil, nil)

	_, err := r.RetrieveAndSummarize(context.Background(), "query", testParams())
	if !errors.Is(err, wantErr) {
		t.Errorf("RetrieveAndSummarize error = %v, want wrapped %v", err, wantErr)
	}
}

func TestRetrieveAndSummarize_UsesSummarizer(t *testing.T) {
	searcher := &mockSearcher{candidates: []knowledge.Candidate{
		cand("a", 0.9, 1, 0),
		cand("b", 0.8, 0, 1),
	}}
	r := New(searcher, &mockSummarizer{text: "short digest"}, nil)

	packet, err := r.RetrieveAndSummarize(context.Background(), "query", testParams())
	if err != nil {
		t.Fatalf("RetrieveAndSummarize: %v", err)
	}
	if packet.Text != "short digest" {
		t.Errorf("packet.Text = %q, want summarizer output", packet.Text)
	}
	if !packet.Retrieved {
		t.Error("packet.Retrieved = false, want true")
	}
	if packet.Tokens != 2 {
		t.Errorf("packet.Tokens = %d, want 2", packet.Tokens)
	}
}

func TestRetrieveAndSummarize_SummarizerFailureFallsBack(t *testing.T) {
	searcher := &mockSearcher{candidates: []knowledge.Candidate{
		cand("a", 0.9, 1, 0),
		cand("b", 0.8, 0, 1),
	}}
	r := New(searcher, &mockSummarizer{err: errors.New("model down")}, nil)

	packet, err := r.RetrieveAndSummarize(context.Background(), "query", testParams())
	if err != nil {
		t.Fatalf("RetrieveAndSummarize: %v", err)
	}
	if !strings.HasPrefix(packet.Text, "- passage") {
		t.Errorf("packet.Text = %q, want local bullet fallback", packet.Text)
	}
}

func TestRetrieveAndSummarize_NilSummarizerUsesFallback(t *testing.T) {
	searcher := &mockSearcher{candidates: []knowledge.Candidate{cand("a", 0.9, 1, 0)}}
	r := New(searcher, nil, nil)

	packet, err := r.RetrieveAndSummarize(context.Background(), "query", testParams())
	if err != nil {
		t.Fatalf("RetrieveAndSummarize: %v", err)
	}
	if packet.Text != "- passage a" {
		t.Errorf("packet.Text = %q, want bullet join", packet.Text)
	}
}

func TestRetrieveAndSummarize_CapEnforcedOnVerboseSummarizer(t *testing.T) {
	searcher := &mockSearcher{candidates: []knowledge.Candidate{cand("a", 0.9, 1, 0)}}
	// The summarizer ignores its budget and returns 50 words.
	verbose := &mockSummarizer{text: strings.TrimSpace(strings.Repeat("word ", 50))}
	r := New(searcher, verbose, nil)

	params := testParams()
	packet, err := r.RetrieveAndSummarize(context.Background(), "query", params)
	if err != nil {
		t.Fatalf("RetrieveAndSummarize: %v", err)
	}
	if packet.Tokens > params.TokenCap {
		t.Errorf("packet.Tokens = %d, exceeds cap %d", packet.Tokens, params.TokenCap)
	}
	if got := CountTokens(packet.Text); got != params.TokenCap {
		t.Errorf("truncated text has %d words, want exactly %d", got, params.TokenCap)
	}
}

func TestCountTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"one", 1},
		{"two  words", 2},
		{"tabs\tand\nnewlines too", 4},
	}
	for _, tt := range tests {
		if got := CountTokens(tt.in); got != tt.want {
			t.Errorf("CountTokens(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTruncateTokens(t *testing.T) {
	if got := TruncateTokens("a b c d", 2); got != "a b" {
		t.Errorf("TruncateTokens = %q, want %q", got, "a b")
	}
	if got := TruncateTokens("a b", 5); got != "a b" {
		t.Errorf("TruncateTokens under limit = %q, want unchanged", got)
	}
	if got := TruncateTokens("a b", 0); got != "" {
		t.Errorf("TruncateTokens limit 0 = %q, want empty", got)
	}
}
