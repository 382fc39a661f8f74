package rag

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime"
	"slices"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/54b3r/routerag-go/internal/fault"
)

// ChromemConfig configures a [ChromemIndex].
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps the index in memory.
	Path string

	// Collection is the collection name (default: routerag_docs).
	Collection string

	// Dimensions is the embedding size, used to enumerate stored documents
	// when a persisted collection is reopened.
	Dimensions int
}

// ChromemIndex implements [VectorIndex] on top of chromem-go, an embedded
// vector database with optional gob persistence.
type ChromemIndex struct {
	// mu serialises writes and guards docs. chromem is itself goroutine
	// safe; the lock keeps Replace and the registry consistent.
	mu sync.RWMutex

	// db is the chromem database handle.
	db *chromem.DB

	// col is the collection holding every chunk.
	col *chromem.Collection

	// docs maps document id to its chunk ids.
	docs map[string][]string
}

// NewChromemIndex opens (or creates) the chromem collection described by cfg.
func NewChromemIndex(ctx context.Context, cfg *ChromemConfig) (*ChromemIndex, error) {
	if cfg.Collection == "" {
		cfg.Collection = "routerag_docs"
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("chromem: failed to open %s: %w: %w", cfg.Path, err, fault.ErrIndexUnavailable)
		}
	}

	// Vectors are always supplied by the caller; the collection must never
	// fall back to chromem's default remote embedder.
	noEmbed := func(context.Context, string) ([]float32, error) {
		return nil, errors.New("chromem: embeddings must be precomputed")
	}
	col, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("chromem: failed to open collection %q: %w: %w", cfg.Collection, err, fault.ErrIndexUnavailable)
	}

	idx := &ChromemIndex{db: db, col: col, docs: make(map[string][]string)}
	if err := idx.loadRegistry(ctx, cfg.Dimensions); err != nil {
		return nil, err
	}
	return idx, nil
}

// loadRegistry rebuilds the document registry of a reopened collection by
// querying every stored chunk.
func (c *ChromemIndex) loadRegistry(ctx context.Context, dim int) error {
	n := c.col.Count()
	if n == 0 {
		return nil
	}
	if dim <= 0 {
		return fmt.Errorf("chromem: collection holds %d chunks but embedding dimensions are unknown", n)
	}
	probe := make([]float32, dim)
	probe[0] = 1
	results, err := c.col.QueryEmbedding(ctx, probe, n, nil, nil)
	if err != nil {
		return fmt.Errorf("chromem: failed to enumerate collection: %w: %w", err, fault.ErrIndexUnavailable)
	}
	for _, r := range results {
		docID := r.Metadata[payloadDocumentID]
		c.docs[docID] = append(c.docs[docID], r.ID)
	}
	return nil
}

// toDocument converts a chunk into a chromem document.
func toDocument(ch Chunk, vector []float32) chromem.Document {
	meta := maps.Clone(ch.Metadata)
	if meta == nil {
		meta = make(map[string]string, 6)
	}
	meta[payloadDocumentID] = ch.DocumentID
	meta[payloadSource] = ch.Source
	meta[payloadOrdinal] = strconv.Itoa(ch.Ordinal)
	meta[payloadPage] = strconv.Itoa(ch.Page)
	meta[payloadStart] = strconv.Itoa(ch.Start)
	meta[payloadEnd] = strconv.Itoa(ch.End)
	return chromem.Document{
		ID:        ch.ID,
		Content:   ch.Text,
		Metadata:  meta,
		Embedding: vector,
	}
}

// fromResult converts a chromem query result back into a scored chunk.
func fromResult(r chromem.Result) ScoredChunk {
	meta := maps.Clone(r.Metadata)
	atoi := func(key string) int {
		n, _ := strconv.Atoi(meta[key])
		delete(meta, key)
		return n
	}
	ch := Chunk{
		ID:         r.ID,
		DocumentID: meta[payloadDocumentID],
		Source:     meta[payloadSource],
		Text:       r.Content,
		Ordinal:    atoi(payloadOrdinal),
		Page:       atoi(payloadPage),
		Start:      atoi(payloadStart),
		End:        atoi(payloadEnd),
	}
	delete(meta, payloadDocumentID)
	delete(meta, payloadSource)
	ch.Metadata = meta
	return ScoredChunk{Chunk: ch, Score: r.Similarity}
}

// Upsert adds the chunks; chromem overwrites documents with an existing id.
func (c *ChromemIndex) Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if err := checkBatch(chunks, vectors); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(ctx, chunks, vectors)
}

// Replace drops and rewrites a document while holding the write lock.
func (c *ChromemIndex) Replace(ctx context.Context, documentID string, chunks []Chunk, vectors [][]float32) error {
	if err := checkBatch(chunks, vectors); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.dropLocked(ctx, documentID); err != nil {
		return err
	}
	return c.addLocked(ctx, chunks, vectors)
}

func (c *ChromemIndex) addLocked(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(chunks))
	for i, ch := range chunks {
		docs[i] = toDocument(ch, vectors[i])
	}
	if err := c.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("chromem: add failed: %w: %w", err, fault.ErrIndexUnavailable)
	}
	for _, ch := range chunks {
		c.link(ch.DocumentID, ch.ID)
	}
	return nil
}

func (c *ChromemIndex) link(docID, chunkID string) {
	for _, id := range c.docs[docID] {
		if id == chunkID {
			return
		}
	}
	c.docs[docID] = append(c.docs[docID], chunkID)
}

// Search queries the collection and re-ranks so ties follow chunk id order.
// The fetch widens until the k-th score is no longer tied with the last
// fetched one. A zero query vector scores 0 against every chunk.
func (c *ChromemIndex) Search(ctx context.Context, vector []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := c.col.Count()
	if n == 0 {
		return []ScoredChunk{}, nil
	}
	if norm(vector) == 0 {
		return c.unscoredLocked(ctx, k)
	}
	// chromem rejects nResults above the collection size.
	want := min(k+1, n)
	for {
		results, err := c.col.QueryEmbedding(ctx, vector, want, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("chromem: query failed: %w: %w", err, fault.ErrIndexUnavailable)
		}
		out := make([]ScoredChunk, 0, len(results))
		for _, r := range results {
			out = append(out, fromResult(r))
		}
		out = rank(out, -1)
		if want == n || !tiedAtCut(out, k) {
			return rank(out, k), nil
		}
		want = min(want*2, n)
	}
}

// unscoredLocked returns the first k chunks in id order, each scored 0.
func (c *ChromemIndex) unscoredLocked(ctx context.Context, k int) ([]ScoredChunk, error) {
	var ids []string
	for _, chunkIDs := range c.docs {
		ids = append(ids, chunkIDs...)
	}
	slices.Sort(ids)
	ids = ids[:min(k, len(ids))]
	out := make([]ScoredChunk, 0, len(ids))
	for _, id := range ids {
		doc, err := c.col.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("chromem: get %s failed: %w: %w", id, err, fault.ErrIndexUnavailable)
		}
		sc := fromResult(chromem.Result{ID: doc.ID, Metadata: doc.Metadata, Content: doc.Content})
		sc.Score = 0
		out = append(out, sc)
	}
	return out, nil
}

// Count returns the number of stored chunks.
func (c *ChromemIndex) Count(context.Context) (int, error) {
	return c.col.Count(), nil
}

// Drop removes every chunk of documentID.
func (c *ChromemIndex) Drop(ctx context.Context, documentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropLocked(ctx, documentID)
}

func (c *ChromemIndex) dropLocked(ctx context.Context, documentID string) error {
	if _, ok := c.docs[documentID]; !ok {
		return nil
	}
	where := map[string]string{payloadDocumentID: documentID}
	if err := c.col.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("chromem: delete document %s failed: %w: %w", documentID, err, fault.ErrIndexUnavailable)
	}
	delete(c.docs, documentID)
	return nil
}

// Stats reports document and chunk totals.
func (c *ChromemIndex) Stats(context.Context) (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Documents: len(c.docs), Chunks: c.col.Count(), Backend: "chromem"}, nil
}

// Close is a no-op; persistent collections are written on every change.
func (c *ChromemIndex) Close() error { return nil }
