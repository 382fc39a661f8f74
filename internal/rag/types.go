// Package rag defines the retrieval side of routerag: the chunk model, the
// vector index contract, the embedder contract and the retriever that joins
// them. Concrete index backends (in-memory, Qdrant, chromem) satisfy
// [VectorIndex] so the pipeline never depends on a specific store.
package rag

import (
	"context"
)

// Chunk is a contiguous span of a document's normalised text.
type Chunk struct {
	// ID is unique per (document, ordinal) and stable across re-ingestion.
	ID string `json:"id"`

	// DocumentID identifies the source document.
	DocumentID string `json:"documentId"`

	// Ordinal is the 0-based position of the chunk within its document.
	Ordinal int `json:"ordinal"`

	// Text is the chunk content.
	Text string `json:"text"`

	// Source is the original file name.
	Source string `json:"source"`

	// Page is the 1-based page the chunk starts on. Unpaged formats use 1.
	Page int `json:"page"`

	// Start and End are rune offsets into the normalised document text.
	Start int `json:"start"`
	End   int `json:"end"`

	// Metadata holds extra key-value pairs (format, sheet name, etc.).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ScoredChunk is a chunk returned by a similarity search.
type ScoredChunk struct {
	Chunk

	// Score is the cosine similarity between the query and the chunk, in [-1, 1].
	Score float32 `json:"score"`
}

// Stats summarises the content of an index.
type Stats struct {
	// Documents is the number of distinct documents with at least one chunk.
	Documents int `json:"documentCount"`

	// Chunks is the total number of stored chunks.
	Chunks int `json:"chunkCount"`

	// Backend names the index implementation.
	Backend string `json:"backend"`
}

// VectorIndex stores chunk embeddings and answers nearest-neighbour queries.
// Implementations must be safe to call from multiple goroutines.
//
// Search results are ordered by descending score with ties broken by
// ascending chunk id, and never exceed k entries.
type VectorIndex interface {
	// Upsert stores chunks with their pre-computed embeddings. vectors[i] is
	// the embedding for chunks[i]. An existing id is fully replaced.
	Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error

	// Replace drops every chunk of documentID and stores the given chunks
	// in its place.
	Replace(ctx context.Context, documentID string, chunks []Chunk, vectors [][]float32) error

	// Search returns the k chunks most similar to vector.
	Search(ctx context.Context, vector []float32, k int) ([]ScoredChunk, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)

	// Drop removes every chunk belonging to documentID.
	Drop(ctx context.Context, documentID string) error

	// Stats reports document and chunk totals.
	Stats(ctx context.Context) (Stats, error)

	// Close releases any resources held by the index.
	Close() error
}

// Embedder converts text into dense vectors. The same embedder must be used
// for ingestion and retrieval. Implementations must be safe to call from
// multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into embeddings parallel to the input.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever fetches the chunks most relevant to a query.
type Retriever interface {
	// Retrieve returns up to topK chunks for query. topK <= 0 selects the
	// retriever's default. An empty index yields an empty result.
	Retrieve(ctx context.Context, query string, topK int) ([]ScoredChunk, error)
}

// AboveThreshold returns the chunks scoring at least threshold, preserving order.
func AboveThreshold(chunks []ScoredChunk, threshold float32) []ScoredChunk {
	out := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Score >= threshold {
			out = append(out, c)
		}
	}
	return out
}
