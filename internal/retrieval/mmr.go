package retrieval

import (
	"math"

	"github.com/rupjae/jules/internal/knowledge"
)

// selectMMR re-ranks candidates with maximal marginal relevance and returns
// at most k of them. Each round picks the candidate maximizing
//
//	lambda*relevance - (1-lambda)*max similarity to already-selected
//
// with cosine similarity over embeddings. Ties go to the higher raw
// relevance, then to the earlier pool position, so the result is fully
// deterministic for a given input. lambda=1 reduces to top-k by relevance.
//
// Candidates without embeddings contribute zero redundancy, which degrades
// their ordering to plain relevance.
func selectMMR(pool []knowledge.Candidate, k int, lambda float64) []knowledge.Candidate {
	if k <= 0 || len(pool) == 0 {
		return nil
	}
	if k > len(pool) {
		k = len(pool)
	}

	selected := make([]knowledge.Candidate, 0, k)
	selectedIdx := make([]int, 0, k)
	used := make([]bool, len(pool))

	for len(selected) < k {
		best := -1
		bestScore := math.Inf(-1)
		bestRel := math.Inf(-1)

		for i, c := range pool {
			if used[i] {
				continue
			}
			// Max pairwise similarity to the picks so far; negative
			// values count, rewarding anti-similar candidates.
			redundancy := 0.0
			if len(selectedIdx) > 0 {
				redundancy = math.Inf(-1)
				for _, j := range selectedIdx {
					if sim := cosineSimilarity(c.Embedding, pool[j].Embedding); sim > redundancy {
						redundancy = sim
					}
				}
			}
			score := lambda*c.Similarity - (1-lambda)*redundancy

			// Strictly better, or equal score with higher raw relevance.
			// Equal on both keeps the earlier pool index.
			if score > bestScore || (score == bestScore && c.Similarity > bestRel) {
				best = i
				bestScore = score
				bestRel = c.Similarity
			}
		}

		used[best] = true
		selectedIdx = append(selectedIdx, best)
		selected = append(selected, pool[best])
	}
	return selected
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector is missing, mismatched in length, or zero-magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
