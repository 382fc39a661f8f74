package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/routerag-go/internal/fault"
)

// Payload keys written for every point.
const (
	payloadChunkID    = "chunk_id"
	payloadDocumentID = "document_id"
	payloadOrdinal    = "ordinal"
	payloadText       = "text"
	payloadSource     = "source"
	payloadPage       = "page"
	payloadStart      = "start"
	payloadEnd        = "end"
)

// scrollPage is the page size used when walking the collection for stats.
const scrollPage = 256

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name (default: routerag_docs).
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements [VectorIndex] backed by a Qdrant collection.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

// NewQdrantIndex connects to Qdrant, ensuring the target collection exists.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "routerag_docs"
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size must be set")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w: %w", err, fault.ErrIndexUnavailable)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return idx, nil
}

// ensureCollection creates the collection and its document_id payload index
// if they do not already exist.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w: %w", err, fault.ErrIndexUnavailable)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w: %w", q.cfg.Collection, err, fault.ErrIndexUnavailable)
	}

	_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.cfg.Collection,
		FieldName:      payloadDocumentID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to index %s: %w: %w", payloadDocumentID, err, fault.ErrIndexUnavailable)
	}
	return nil
}

// pointID maps a chunk id onto the UUID space Qdrant requires.
func pointID(chunkID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String())
}

// Upsert writes the chunks as points. Qdrant upserts replace whole points,
// so an existing id loses its old payload and vector.
func (q *QdrantIndex) Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if err := checkBatch(chunks, vectors); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, c := range chunks {
		payload := map[string]any{
			payloadChunkID:    c.ID,
			payloadDocumentID: c.DocumentID,
			payloadOrdinal:    int64(c.Ordinal),
			payloadText:       c.Text,
			payloadSource:     c.Source,
			payloadPage:       int64(c.Page),
			payloadStart:      int64(c.Start),
			payloadEnd:        int64(c.End),
		}
		for k, v := range c.Metadata {
			if _, reserved := payload[k]; !reserved {
				payload[k] = v
			}
		}
		points = append(points, &qdrant.PointStruct{
			Id:      pointID(c.ID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w: %w", err, fault.ErrIndexUnavailable)
	}
	return nil
}

// Replace drops the document's points and writes the new set. Qdrant has no
// multi-operation transaction, so a concurrent search may briefly observe
// the document as absent.
func (q *QdrantIndex) Replace(ctx context.Context, documentID string, chunks []Chunk, vectors [][]float32) error {
	if err := checkBatch(chunks, vectors); err != nil {
		return err
	}
	if err := q.Drop(ctx, documentID); err != nil {
		return err
	}
	return q.Upsert(ctx, chunks, vectors)
}

// Search runs a cosine query and re-ranks locally so equal scores come back
// in chunk id order.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	// Over-fetch and keep widening while the last fetched score ties the
	// k-th, so ties at the cut resolve by chunk id.
	limit := uint64(k + 1)
	for {
		results, err := q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: q.cfg.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          &limit,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: search failed: %w: %w", err, fault.ErrIndexUnavailable)
		}

		out := make([]ScoredChunk, 0, len(results))
		for _, r := range results {
			out = append(out, ScoredChunk{Chunk: chunkFromPayload(r.GetPayload()), Score: r.GetScore()})
		}
		out = rank(out, -1)
		if uint64(len(results)) < limit || !tiedAtCut(out, k) {
			return rank(out, k), nil
		}
		limit *= 2
	}
}

// chunkFromPayload rebuilds a chunk from a point payload.
func chunkFromPayload(p map[string]*qdrant.Value) Chunk {
	c := Chunk{Metadata: make(map[string]string)}
	for k, v := range p {
		switch k {
		case payloadChunkID:
			c.ID = v.GetStringValue()
		case payloadDocumentID:
			c.DocumentID = v.GetStringValue()
		case payloadOrdinal:
			c.Ordinal = int(v.GetIntegerValue())
		case payloadText:
			c.Text = v.GetStringValue()
		case payloadSource:
			c.Source = v.GetStringValue()
		case payloadPage:
			c.Page = int(v.GetIntegerValue())
		case payloadStart:
			c.Start = int(v.GetIntegerValue())
		case payloadEnd:
			c.End = int(v.GetIntegerValue())
		default:
			c.Metadata[k] = v.GetStringValue()
		}
	}
	return c
}

// documentFilter matches every point of documentID.
func documentFilter(documentID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(payloadDocumentID, documentID)},
	}
}

// Count returns the exact number of points in the collection.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w: %w", err, fault.ErrIndexUnavailable)
	}
	return int(n), nil
}

// Drop deletes every point of documentID.
func (q *QdrantIndex) Drop(ctx context.Context, documentID string) error {
	wait := true
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelectorFilter(documentFilter(documentID)),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete document %s failed: %w: %w", documentID, err, fault.ErrIndexUnavailable)
	}
	return nil
}

// Stats walks the collection's document_id payloads to count documents.
func (q *QdrantIndex) Stats(ctx context.Context) (Stats, error) {
	chunks, err := q.Count(ctx)
	if err != nil {
		return Stats{}, err
	}

	docs := make(map[string]struct{})
	limit := uint32(scrollPage)
	var offset *qdrant.PointId
	for {
		points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.cfg.Collection,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    qdrant.NewWithPayloadInclude(payloadDocumentID),
		})
		if err != nil {
			return Stats{}, fmt.Errorf("qdrant: scroll failed: %w: %w", err, fault.ErrIndexUnavailable)
		}
		// Scroll offsets are inclusive; skip the point already seen.
		if offset != nil && len(points) > 0 {
			points = points[1:]
		}
		for _, p := range points {
			docs[p.GetPayload()[payloadDocumentID].GetStringValue()] = struct{}{}
		}
		if len(points) == 0 || len(points) < scrollPage-1 {
			break
		}
		offset = points[len(points)-1].GetId()
	}

	return Stats{Documents: len(docs), Chunks: chunks, Backend: "qdrant"}, nil
}

// Ping checks that Qdrant answers a health probe.
func (q *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w: %w", err, fault.ErrIndexUnavailable)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
