package embedder

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/54b3r/routerag-go/internal/tokens"
)

// defaultHashDimensions is the vector size of [HashEmbedder] when unset.
const defaultHashDimensions = 512

// HashEmbedder is a deterministic local embedder. It hashes word unigrams
// and adjacent-word bigrams into a fixed number of buckets and L2-normalises
// the result, so texts sharing vocabulary land close together under cosine
// similarity. It needs no model or network and is safe for concurrent use.
type HashEmbedder struct {
	// dim is the output vector length.
	dim int
}

// NewHashEmbedder returns a HashEmbedder producing dim-length vectors.
// dim <= 0 selects 512.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = defaultHashDimensions
	}
	return &HashEmbedder{dim: dim}
}

// Dimensions returns the output vector length.
func (h *HashEmbedder) Dimensions() int { return h.dim }

// Embed hashes every text. It never fails unless ctx is done.
func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, h.dim)
	words := tokens.Content(text)
	for i, tok := range words {
		h.add(vec, tok)
		if i > 0 {
			h.add(vec, words[i-1]+" "+tok)
		}
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum > 0 {
		inv := float32(1 / math.Sqrt(sum))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// add increments the bucket for feature. A second hash bit picks the sign
// so unrelated collisions tend to cancel.
func (h *HashEmbedder) add(vec []float32, feature string) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	bucket := sum % uint64(h.dim)
	if (sum>>63)&1 == 1 {
		vec[bucket]--
	} else {
		vec[bucket]++
	}
}
