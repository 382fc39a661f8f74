//go:build integration

package embedder

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/54b3r/routerag-go/internal/rag"
)

// TestOllamaEmbedder_Integration embeds a query and two passages against a
// running Ollama and checks the query lands nearer the passage it is about.
//
//	ollama pull nomic-embed-text
//	go test -tags=integration -run TestOllamaEmbedder_Integration ./internal/embedder/
//
// OLLAMA_HOST and EMBEDDING_MODEL override the defaults.
func TestOllamaEmbedder_Integration(t *testing.T) {
	host := getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
	model := getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel)
	emb := NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	vecs, err := emb.Embed(ctx, []string{
		"What is the capital of France?",
		"Paris is the capital of France.",
		"Tokyo is clear and warm today.",
	})
	if err != nil {
		t.Fatalf("Embed: %v (is %s pulled on %s?)", err, model, host)
	}

	dim := len(vecs[0])
	if want := DefaultDimensions("ollama"); os.Getenv("EMBEDDING_DIMENSIONS") == "" && model == defaultOllamaModel && dim != want {
		t.Errorf("dim = %d, want %d for %s", dim, want, model)
	}

	related := rag.Cosine(vecs[0], vecs[1])
	unrelated := rag.Cosine(vecs[0], vecs[2])
	t.Logf("model=%s dim=%d related=%.3f unrelated=%.3f", model, dim, related, unrelated)
	if related <= unrelated {
		t.Errorf("query closer to the unrelated passage: %.3f <= %.3f", related, unrelated)
	}
}
