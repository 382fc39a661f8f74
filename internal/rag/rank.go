package rag

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// Cosine returns the cosine similarity of a and b. A zero vector has
// similarity 0 with everything.
func Cosine(a, b []float32) float32 {
	return cosineWithNorms(a, b, norm(a), norm(b))
}

func cosineWithNorms(a, b []float32, na, nb float64) float32 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	s := dot / (na * nb)
	// Clamp rounding drift.
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return float32(s)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// rank sorts results by descending score, then ascending chunk id, and
// truncates to k. A negative k keeps every result. Scores are clamped to
// [-1, 1] and NaN scores become 0.
func rank(results []ScoredChunk, k int) []ScoredChunk {
	for i := range results {
		results[i].Score = finiteScore(results[i].Score)
	}
	slices.SortFunc(results, func(a, b ScoredChunk) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if k >= 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

func finiteScore(s float32) float32 {
	switch {
	case math.IsNaN(float64(s)):
		return 0
	case s > 1:
		return 1
	case s < -1:
		return -1
	}
	return s
}

// tiedAtCut reports whether the last of the ranked results scores the same
// as the k-th, so a larger fetch could change which chunks make the cut.
func tiedAtCut(ranked []ScoredChunk, k int) bool {
	if k <= 0 || len(ranked) <= k {
		return false
	}
	return ranked[len(ranked)-1].Score == ranked[k-1].Score
}

func checkBatch(chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("rag: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	for i, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("rag: chunk %d has no id", i)
		}
		if len(vectors[i]) == 0 {
			return fmt.Errorf("rag: chunk %s has an empty vector", c.ID)
		}
	}
	return nil
}
