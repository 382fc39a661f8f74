package tracing

import (
	"testing"

	"github.com/54b3r/routerag-go/internal/logging"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LANGFUSE_HOST", "")
	t.Setenv("LANGFUSE_PUBLIC_KEY", "pk-lf-1")
	t.Setenv("LANGFUSE_SECRET_KEY", "")

	cfg := ConfigFromEnv()
	if cfg.Host != defaultHost {
		t.Errorf("Host = %q, want %q", cfg.Host, defaultHost)
	}
	if cfg.Enabled() {
		t.Error("Enabled() with a missing secret key")
	}
}

func TestSetup_Disabled(t *testing.T) {
	t.Parallel()
	h, flush, ok := Setup(Config{PublicKey: "pk"})
	if ok || h != nil || flush != nil {
		t.Errorf("Setup without secret = %v, %v, %v", h, flush != nil, ok)
	}
}

func TestSetup_Enabled(t *testing.T) {
	t.Parallel()
	h, flush, ok := Setup(Config{Host: "http://127.0.0.1:1", PublicKey: "pk", SecretKey: "sk"})
	if !ok || h == nil || flush == nil {
		t.Fatalf("Setup = %v, %v, %v", h, flush != nil, ok)
	}
}

func TestInstall_DisabledReturnsNoop(t *testing.T) {
	t.Setenv("LANGFUSE_PUBLIC_KEY", "")
	t.Setenv("LANGFUSE_SECRET_KEY", "")
	flush := Install(logging.Discard())
	if flush == nil {
		t.Fatal("Install returned nil flush")
	}
	flush()
}
