package rag

import (
	"context"
	"fmt"
)

// DefaultRetriever implements [Retriever] by combining an [Embedder] and a
// [VectorIndex]. It embeds the query at retrieval time with the same
// embedder used for ingestion and delegates similarity search to the index.
type DefaultRetriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// index performs the vector similarity search.
	index VectorIndex

	// defaultTopK is the number of results to return when the caller passes 0.
	defaultTopK int
}

// NewRetriever constructs a DefaultRetriever. defaultTopK sets the result
// count used when Retrieve is called with topK <= 0.
func NewRetriever(embedder Embedder, index VectorIndex, defaultTopK int) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &DefaultRetriever{
		embedder:    embedder,
		index:       index,
		defaultTopK: defaultTopK,
	}, nil
}

// Retrieve embeds the query and returns the top-k most similar chunks.
// An empty index short-circuits to an empty result without embedding. A
// query that embeds to the zero vector, such as one made only of
// stopwords, matches nothing.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}

	n, err := r.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("rag: counting index failed: %w", err)
	}
	if n == 0 {
		return []ScoredChunk{}, nil
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}

	if norm(embeddings[0]) == 0 {
		return []ScoredChunk{}, nil
	}

	chunks, err := r.index.Search(ctx, embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	return chunks, nil
}
