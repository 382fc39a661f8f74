package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/routerag-go/internal/logging"
)

// probeTimeout bounds each dependency probe.
const probeTimeout = 5 * time.Second

// Pinger is implemented by any dependency that can report its own
// reachability. Implementations must be safe for concurrent use.
type Pinger interface {
	// Ping returns nil when the dependency is reachable.
	Ping(ctx context.Context) error
	// Name is the label used in readiness reports (e.g. "qdrant").
	Name() string
}

// Check is the result of one probe.
type Check struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Readiness is the combined state of every dependency.
type Readiness struct {
	Ready  bool    `json:"ready"`
	Checks []Check `json:"checks"`
	// Diagnostic names every failing dependency, empty when ready.
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Initialize probes every dependency and reports readiness. It is safe to
// call repeatedly; only the first call logs the resolved settings.
func (c *Controller) Initialize(ctx context.Context) Readiness {
	log := logging.FromContext(ctx)
	c.initOnce.Do(func() {
		log.Info("pipeline: initialised",
			slog.String("index_backend", c.settings.IndexBackend),
			slog.Int("chunk_size", c.settings.ChunkSize),
			slog.Int("chunk_overlap", c.settings.ChunkOverlap),
			slog.Int("top_k", c.settings.TopK),
			slog.Float64("similarity_threshold", float64(c.settings.SimilarityThreshold)),
			slog.Float64("classifier_threshold", float64(c.classifier.Threshold())),
			slog.Duration("call_timeout", c.settings.CallTimeout),
			slog.Duration("query_timeout", c.settings.QueryTimeout),
		)
	})

	r := Readiness{Ready: true, Checks: []Check{}}
	var failed []string
	for _, p := range c.pingers {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := p.Ping(pctx)
		cancel()

		check := Check{Name: p.Name(), OK: err == nil}
		if err != nil {
			check.Error = err.Error()
			failed = append(failed, fmt.Sprintf("%s: %v", p.Name(), err))
			log.Warn("readiness probe failed", slog.String("dependency", p.Name()), slog.Any("error", err))
		}
		r.Checks = append(r.Checks, check)
	}
	if len(failed) > 0 {
		r.Ready = false
		r.Diagnostic = strings.Join(failed, "; ")
	}
	return r
}

// PingFunc adapts a function to [Pinger].
type PingFunc struct {
	name string
	fn   func(context.Context) error
}

// NewPinger returns a Pinger named name that calls fn.
func NewPinger(name string, fn func(context.Context) error) *PingFunc {
	return &PingFunc{name: name, fn: fn}
}

// Name implements Pinger.
func (p *PingFunc) Name() string { return p.name }

// Ping implements Pinger.
func (p *PingFunc) Ping(ctx context.Context) error { return p.fn(ctx) }

// HTTPPinger probes an HTTP endpoint with GET. Any status below 500
// counts as reachable, so endpoints that need credentials still pass.
type HTTPPinger struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPPinger constructs an HTTPPinger. A nil client uses
// http.DefaultClient.
func NewHTTPPinger(name, url string, client *http.Client) *HTTPPinger {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPinger{name: name, url: url, client: client}
}

// Name implements Pinger.
func (p *HTTPPinger) Name() string { return p.name }

// Ping implements Pinger.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("unhealthy status %d", resp.StatusCode)
	}
	return nil
}
