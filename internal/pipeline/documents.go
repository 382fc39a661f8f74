package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/routerag-go/internal/fault"
	"github.com/54b3r/routerag-go/internal/ingestion"
	"github.com/54b3r/routerag-go/internal/logging"
	"github.com/54b3r/routerag-go/internal/rag"
)

// IngestReport describes a stored document.
type IngestReport struct {
	DocumentID string           `json:"documentId"`
	Name       string           `json:"name"`
	Format     ingestion.Format `json:"format"`
	Pages      int              `json:"pages"`
	ChunkCount int              `json:"chunkCount"`
}

// IngestDocument extracts, chunks, embeds and stores data under an id
// derived from name, replacing any earlier upload with the same name.
// Unreadable or unsupported input is reported without touching the index.
func (c *Controller) IngestDocument(ctx context.Context, data []byte, name string) (*IngestReport, error) {
	doc, err := c.ingest.Ingest(ctx, data, ingestion.DocumentID(name), name)
	if err != nil {
		c.metrics.ingestFailures.WithLabelValues(fault.Kind(err)).Inc()
		return nil, fmt.Errorf("pipeline: ingesting %s: %w", name, err)
	}
	c.metrics.ingestedChunks.Add(float64(doc.ChunkCount()))
	return &IngestReport{
		DocumentID: doc.ID,
		Name:       doc.Name,
		Format:     doc.Format,
		Pages:      doc.Pages,
		ChunkCount: doc.ChunkCount(),
	}, nil
}

// DropDocument removes a document and its chunks.
func (c *Controller) DropDocument(ctx context.Context, documentID string) error {
	if err := c.ingest.Drop(ctx, documentID); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	logging.FromContext(ctx).Info("pipeline: document dropped", slog.String("document_id", documentID))
	return nil
}

// IndexStats reports the document and chunk totals of the index.
func (c *Controller) IndexStats(ctx context.Context) (rag.Stats, error) {
	stats, err := fault.Call(ctx, c.settings.CallTimeout, "index stats", c.index.Stats)
	if err != nil {
		return rag.Stats{}, fmt.Errorf("pipeline: index stats: %w", err)
	}
	return stats, nil
}
