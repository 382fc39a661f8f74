// Package watcher keeps a directory in sync with the vector index. Files
// with a supported extension are ingested at start-up and again whenever
// they change; removed files are dropped from the index.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/54b3r/routerag-go/internal/ingestion"
	"github.com/54b3r/routerag-go/internal/logging"
	"github.com/54b3r/routerag-go/internal/pipeline"
)

// DefaultDebounce is the quiet period after the last write to a file
// before it is re-ingested.
const DefaultDebounce = 500 * time.Millisecond

// Target receives the watcher's ingest and drop requests.
// *pipeline.Controller satisfies it.
type Target interface {
	IngestDocument(ctx context.Context, data []byte, name string) (*pipeline.IngestReport, error)
	DropDocument(ctx context.Context, documentID string) error
}

// Watcher mirrors one directory into a Target.
type Watcher struct {
	dir      string
	target   Target
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

// New constructs a Watcher for dir. debounce <= 0 selects DefaultDebounce.
func New(dir string, target Target, debounce time.Duration) (*Watcher, error) {
	if target == nil {
		return nil, fmt.Errorf("watcher: target must not be nil")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watcher: %s is not a directory", dir)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{dir: dir, target: target, debounce: debounce, timers: make(map[string]*time.Timer)}, nil
}

// Run ingests every supported file already in the directory, then applies
// changes until ctx is cancelled. Pending debounced ingests are abandoned
// on return.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watcher: watching %s: %w", w.dir, err)
	}

	log := logging.FromContext(ctx).With(slog.String("dir", w.dir))
	ctx = logging.WithLogger(ctx, log)
	log.Info("watcher: started")

	w.scan(ctx)

	defer func() {
		w.mu.Lock()
		for path, t := range w.timers {
			if t.Stop() {
				w.wg.Done()
			}
			delete(w.timers, path)
		}
		w.mu.Unlock()
		w.wg.Wait()
		log.Info("watcher: stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher: fsnotify error", slog.Any("error", err))
		}
	}
}

// scan ingests the files present at start-up.
func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logging.FromContext(ctx).Warn("watcher: initial scan failed", slog.Any("error", err))
		return
	}
	for _, e := range entries {
		if e.Type().IsRegular() && ingestion.SupportedExtension(e.Name()) {
			w.ingest(ctx, filepath.Join(w.dir, e.Name()))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if !ingestion.SupportedExtension(ev.Name) {
		return
	}
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancel(ev.Name)
		w.drop(ctx, ev.Name)
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.schedule(ctx, ev.Name)
	}
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok && t.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

// cancel stops a pending ingest of path.
func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, path)
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	log := logging.FromContext(ctx)
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("watcher: read failed", slog.String("path", path), slog.Any("error", err))
		return
	}
	rep, err := w.target.IngestDocument(ctx, data, ingestion.SourceName(path))
	if err != nil {
		log.Warn("watcher: ingest failed", slog.String("path", path), slog.Any("error", err))
		return
	}
	log.Info("watcher: ingested",
		slog.String("path", path),
		slog.String("document_id", rep.DocumentID),
		slog.Int("chunks", rep.ChunkCount),
	)
}

func (w *Watcher) drop(ctx context.Context, path string) {
	id := ingestion.DocumentID(ingestion.SourceName(path))
	if err := w.target.DropDocument(ctx, id); err != nil {
		logging.FromContext(ctx).Warn("watcher: drop failed", slog.String("path", path), slog.Any("error", err))
		return
	}
	logging.FromContext(ctx).Info("watcher: dropped", slog.String("path", path), slog.String("document_id", id))
}
