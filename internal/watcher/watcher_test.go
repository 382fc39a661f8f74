package watcher

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/54b3r/routerag-go/internal/ingestion"
	"github.com/54b3r/routerag-go/internal/pipeline"
)

// recordingTarget records ingest and drop calls.
type recordingTarget struct {
	mu      sync.Mutex
	ingests []string
	drops   []string
}

func (r *recordingTarget) IngestDocument(_ context.Context, data []byte, name string) (*pipeline.IngestReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingests = append(r.ingests, name+":"+string(data))
	return &pipeline.IngestReport{DocumentID: ingestion.DocumentID(name), Name: name, ChunkCount: 1}, nil
}

func (r *recordingTarget) DropDocument(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drops = append(r.drops, id)
	return nil
}

func (r *recordingTarget) snapshot() (ingests, drops []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.ingests), slices.Clone(r.drops)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startWatcher(t *testing.T, dir string, target Target) {
	t.Helper()
	w, err := New(dir, target, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
}

func TestNew_Validates(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if _, err := New(dir, nil, 0); err == nil {
		t.Error("want error for nil target")
	}
	if _, err := New(filepath.Join(dir, "missing"), &recordingTarget{}, 0); err == nil {
		t.Error("want error for missing directory")
	}
	file := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(file, &recordingTarget{}, 0); err == nil {
		t.Error("want error for a file path")
	}
}

func TestWatcher_InitialScanSkipsUnsupported(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for name, body := range map[string]string{"notes.txt": "hello", "photo.png": "png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	target := &recordingTarget{}
	startWatcher(t, dir, target)

	eventually(t, func() bool {
		ingests, _ := target.snapshot()
		return len(ingests) == 1
	})
	ingests, _ := target.snapshot()
	if ingests[0] != ingestion.SourceName(filepath.Join(dir, "notes.txt"))+":hello" {
		t.Errorf("ingests = %v", ingests)
	}
}

func TestWatcher_CreateAndRemove(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	target := &recordingTarget{}
	startWatcher(t, dir, target)

	path := filepath.Join(dir, "guide.md")
	if err := os.WriteFile(path, []byte("# Guide"), 0o600); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		ingests, _ := target.snapshot()
		return slices.Contains(ingests, ingestion.SourceName(path)+":# Guide")
	})

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		_, drops := target.snapshot()
		return slices.Contains(drops, ingestion.DocumentID(ingestion.SourceName(path)))
	})
}
