package audit

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("OPENWEATHER_API_KEY", "owm-abc123"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := SanitiseKey("OPENWEATHER_API_KEY", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("INDEX_BACKEND", "qdrant"); got != "qdrant" {
		t.Errorf("expected 'qdrant', got %q", got)
	}
	if got := SanitiseKey("INDEX_BACKEND", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseKey_URLCredentials(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"http://bob:pw@gpu:11434": "http://xxxxx@gpu:11434",
		"http://localhost:11434":  "http://localhost:11434",
		"https://api.example/v1":  "https://api.example/v1",
		"not a url at all":        "not a url at all",
		"":                        "unset",
	}
	for in, want := range cases {
		if got := SanitiseKey("OLLAMA_HOST", in); got != want {
			t.Errorf("SanitiseKey(OLLAMA_HOST, %q) = %q, want %q", in, got, want)
		}
	}
}

func TestPresence(t *testing.T) {
	t.Parallel()
	if got := presence("something"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := presence(""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		p := home + "/.routerag/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.routerag/config.yaml" {
			t.Errorf("expected '~/.routerag/config.yaml', got %q", got)
		}
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("OPENWEATHER_API_KEY", "owm-super-secret")
	t.Setenv("INDEX_BACKEND", "memory")

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	LogCommandStart(log, "ask", "")

	out := buf.String()
	if strings.Contains(out, "owm-super-secret") {
		t.Fatalf("secret leaked into audit log: %s", out)
	}
	for _, want := range []string{`"OPENWEATHER_API_KEY":"set"`, `"INDEX_BACKEND":"memory"`, `"config_file":"none"`} {
		if !strings.Contains(out, want) {
			t.Errorf("audit log missing %s: %s", want, out)
		}
	}
}
