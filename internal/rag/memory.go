package rag

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// memoryEntry is one stored chunk with its vector and cached norm.
type memoryEntry struct {
	chunk  Chunk
	vector []float32
	norm   float64
}

// MemoryIndex is an in-process [VectorIndex] using brute-force cosine
// similarity. Readers share a lock; writers are exclusive, so a search never
// observes a half-applied batch.
type MemoryIndex struct {
	mu sync.RWMutex

	// dim is fixed by the first stored vector.
	dim int

	// entries maps chunk id to entry.
	entries map[string]memoryEntry

	// byDoc maps document id to the set of its chunk ids.
	byDoc map[string]map[string]struct{}
}

// NewMemoryIndex returns an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		entries: make(map[string]memoryEntry),
		byDoc:   make(map[string]map[string]struct{}),
	}
}

// Upsert stores chunks, replacing any existing entry with the same id.
func (m *MemoryIndex) Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if err := checkBatch(chunks, vectors); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dim, err := m.checkDimLocked(vectors, len(m.entries) == 0)
	if err != nil {
		return err
	}
	m.dim = dim
	for i := range chunks {
		m.putLocked(chunks[i], vectors[i])
	}
	return nil
}

// Replace swaps every chunk of documentID for the given set in one step.
func (m *MemoryIndex) Replace(ctx context.Context, documentID string, chunks []Chunk, vectors [][]float32) error {
	if err := checkBatch(chunks, vectors); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dim, err := m.checkDimLocked(vectors, len(m.entries) == len(m.byDoc[documentID]))
	if err != nil {
		return err
	}
	m.dropLocked(documentID)
	m.dim = dim
	for i := range chunks {
		m.putLocked(chunks[i], vectors[i])
	}
	return nil
}

// Search returns the k nearest chunks by cosine similarity.
func (m *MemoryIndex) Search(ctx context.Context, vector []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return []ScoredChunk{}, nil
	}
	if len(vector) != m.dim {
		return nil, fmt.Errorf("rag: query vector has %d dimensions, index has %d", len(vector), m.dim)
	}

	qn := norm(vector)
	results := make([]ScoredChunk, 0, len(m.entries))
	for _, e := range m.entries {
		results = append(results, ScoredChunk{
			Chunk: e.chunk,
			Score: cosineWithNorms(vector, e.vector, qn, e.norm),
		})
	}
	return rank(results, k), nil
}

// Count returns the number of stored chunks.
func (m *MemoryIndex) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Drop removes every chunk of documentID. Unknown ids are a no-op.
func (m *MemoryIndex) Drop(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked(documentID)
	return nil
}

// Stats reports document and chunk totals.
func (m *MemoryIndex) Stats(context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Documents: len(m.byDoc), Chunks: len(m.entries), Backend: "memory"}, nil
}

// Close is a no-op.
func (m *MemoryIndex) Close() error { return nil }

// checkDimLocked returns the dimension the index will have after storing
// vectors. empty reports whether the index holds nothing the batch must
// agree with.
func (m *MemoryIndex) checkDimLocked(vectors [][]float32, empty bool) (int, error) {
	dim := m.dim
	if empty {
		dim = 0
	}
	for _, v := range vectors {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return 0, fmt.Errorf("rag: vector has %d dimensions, index has %d", len(v), dim)
		}
	}
	return dim, nil
}

func (m *MemoryIndex) putLocked(c Chunk, v []float32) {
	if old, ok := m.entries[c.ID]; ok && old.chunk.DocumentID != c.DocumentID {
		m.unlinkLocked(old.chunk.DocumentID, c.ID)
	}
	vec := make([]float32, len(v))
	copy(vec, v)
	c.Metadata = maps.Clone(c.Metadata)
	m.entries[c.ID] = memoryEntry{chunk: c, vector: vec, norm: norm(vec)}

	set, ok := m.byDoc[c.DocumentID]
	if !ok {
		set = make(map[string]struct{})
		m.byDoc[c.DocumentID] = set
	}
	set[c.ID] = struct{}{}
}

func (m *MemoryIndex) dropLocked(documentID string) {
	for id := range m.byDoc[documentID] {
		delete(m.entries, id)
	}
	delete(m.byDoc, documentID)
}

func (m *MemoryIndex) unlinkLocked(documentID, chunkID string) {
	set := m.byDoc[documentID]
	delete(set, chunkID)
	if len(set) == 0 {
		delete(m.byDoc, documentID)
	}
}
