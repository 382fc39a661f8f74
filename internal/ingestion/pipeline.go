// Package ingestion turns uploaded documents into embedded chunks in the
// vector index. A document is extracted to text (PDF, plain text, Markdown,
// DOCX, XLSX), normalised, cut into overlapping chunks that prefer paragraph
// and sentence boundaries, embedded in parallel, and committed to the index
// as a single replacement of any earlier version of the same document.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/routerag-go/internal/fault"
	"github.com/54b3r/routerag-go/internal/logging"
	"github.com/54b3r/routerag-go/internal/rag"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the target number of characters per chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive chunks.
	// Defaults to 200 when negative or not smaller than ChunkSize.
	ChunkOverlap int

	// BatchSize is the number of chunks sent to the embedder per call.
	// Defaults to 16 if zero.
	BatchSize int

	// Workers bounds concurrent embedding calls. Defaults to 4 if zero.
	Workers int

	// CallTimeout bounds each embedding call. Defaults to 30s if zero.
	CallTimeout time.Duration
}

// Document is the result of ingesting one file.
type Document struct {
	// ID is the document identifier chunks are stored under.
	ID string `json:"documentId"`

	// Name is the original file name.
	Name string `json:"name"`

	// Format is the detected document format.
	Format Format `json:"format"`

	// Pages is the number of non-empty pages extracted.
	Pages int `json:"pages"`

	// Chunks holds the produced chunks in ordinal order.
	Chunks []rag.Chunk `json:"-"`
}

// ChunkCount returns len(d.Chunks).
func (d *Document) ChunkCount() int { return len(d.Chunks) }

// Pipeline orchestrates the extract → chunk → embed → commit flow.
type Pipeline struct {
	// embedder converts chunk text into dense vectors.
	embedder rag.Embedder

	// index stores the embedded chunks.
	index rag.VectorIndex

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// mu guards issued and committed.
	mu sync.Mutex

	// issued is the last submission number handed out per document.
	issued map[string]uint64

	// committed is the submission number of the version currently stored
	// per document.
	committed map[string]uint64

	// commitMu serialises commits so version checks and index writes
	// happen as one step.
	commitMu sync.Mutex
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, index rag.VectorIndex, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("ingestion: index must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = min(200, cfg.ChunkSize/5)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}

	return &Pipeline{
		embedder:  embedder,
		index:     index,
		cfg:       cfg,
		issued:    make(map[string]uint64),
		committed: make(map[string]uint64),
	}, nil
}

// Chunk extracts and chunks a document without embedding or storing it.
// documentID may be empty, in which case it is derived from name.
func (p *Pipeline) Chunk(data []byte, documentID, name string) (*Document, error) {
	if documentID == "" {
		documentID = DocumentID(name)
	}

	format, pages, err := Extract(data, name)
	if err != nil {
		return nil, err
	}

	runes, pidx := joinPages(pages)
	spans := splitSpans(runes, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if len(spans) == 0 {
		return nil, fmt.Errorf("ingestion: %s: no text after normalisation: %w", name, fault.ErrUnreadableDocument)
	}

	labels := make(map[int]string)
	for _, pg := range pages {
		if pg.Label != "" {
			labels[pg.Number] = pg.Label
		}
	}

	doc := &Document{ID: documentID, Name: name, Format: format, Pages: len(pidx.starts)}
	for i, s := range spans {
		page := pidx.pageAt(s.start)
		meta := map[string]string{"format": string(format)}
		if l, ok := labels[page]; ok {
			meta["sheet"] = l
		}
		doc.Chunks = append(doc.Chunks, rag.Chunk{
			ID:         chunkID(documentID, i),
			DocumentID: documentID,
			Ordinal:    i,
			Text:       string(runes[s.start:s.end]),
			Source:     name,
			Page:       page,
			Start:      s.start,
			End:        s.end,
			Metadata:   meta,
		})
	}
	return doc, nil
}

// Ingest extracts, chunks, embeds and stores a document, replacing any
// earlier version with the same id. documentID may be empty, in which case
// it is derived from name.
//
// Concurrent ingestions of the same document resolve in submission order:
// a submission that finishes after a later one has already been committed
// is discarded. Cancellation before the commit leaves the index untouched;
// once the commit starts it runs to completion.
func (p *Pipeline) Ingest(ctx context.Context, data []byte, documentID, name string) (*Document, error) {
	log := logging.FromContext(ctx)

	doc, err := p.Chunk(data, documentID, name)
	if err != nil {
		return nil, err
	}
	seq := p.issue(doc.ID)

	vectors, err := p.embed(ctx, doc.Chunks)
	if err != nil {
		return nil, fmt.Errorf("ingestion: embedding %s failed: %w", name, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ingestion: %s cancelled before commit: %w", name, err)
	}

	applied, err := p.commit(context.WithoutCancel(ctx), seq, doc, vectors)
	if err != nil {
		return nil, fmt.Errorf("ingestion: storing %s failed: %w", name, err)
	}
	if !applied {
		log.Info("ingestion: newer submission already committed, discarding",
			slog.String("document_id", doc.ID),
			slog.String("name", name),
		)
	}

	log.Info("ingestion: document ingested",
		slog.String("document_id", doc.ID),
		slog.String("name", name),
		slog.String("format", string(doc.Format)),
		slog.Int("pages", doc.Pages),
		slog.Int("chunks", len(doc.Chunks)),
	)
	return doc, nil
}

// issue hands out the next submission number for documentID.
func (p *Pipeline) issue(documentID string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued[documentID]++
	return p.issued[documentID]
}

// commit replaces the stored document unless a later submission already
// did. It reports whether the write was applied.
func (p *Pipeline) commit(ctx context.Context, seq uint64, doc *Document, vectors [][]float32) (bool, error) {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	p.mu.Lock()
	stale := seq < p.committed[doc.ID]
	p.mu.Unlock()
	if stale {
		return false, nil
	}

	if err := p.index.Replace(ctx, doc.ID, doc.Chunks, vectors); err != nil {
		return false, err
	}

	p.mu.Lock()
	p.committed[doc.ID] = seq
	p.mu.Unlock()
	return true, nil
}

// embed embeds chunks in batches across a bounded worker pool. The result
// is parallel to chunks regardless of completion order.
func (p *Pipeline) embed(ctx context.Context, chunks []rag.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for lo := 0; lo < len(chunks); lo += p.cfg.BatchSize {
		hi := min(lo+p.cfg.BatchSize, len(chunks))
		g.Go(func() error {
			texts := make([]string, hi-lo)
			for i := range texts {
				texts[i] = chunks[lo+i].Text
			}
			out, err := fault.Call(gctx, p.cfg.CallTimeout, "embed batch "+strconv.Itoa(lo/p.cfg.BatchSize),
				func(ctx context.Context) ([][]float32, error) {
					return p.embedder.Embed(ctx, texts)
				})
			if err != nil {
				return err
			}
			if len(out) != len(texts) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(out), len(texts))
			}
			copy(vectors[lo:hi], out)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Drop removes a document and all of its chunks from the index. It takes
// its place in submission order: ingestions of the same document still in
// flight are discarded, later ones are not.
func (p *Pipeline) Drop(ctx context.Context, documentID string) error {
	seq := p.issue(documentID)

	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	p.mu.Lock()
	stale := seq < p.committed[documentID]
	p.mu.Unlock()
	if stale {
		return nil
	}

	if err := p.index.Drop(ctx, documentID); err != nil {
		return fmt.Errorf("ingestion: dropping %s failed: %w", documentID, err)
	}
	p.mu.Lock()
	p.committed[documentID] = seq
	p.mu.Unlock()
	return nil
}
