package server

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/routerag-go/internal/classifier"
	"github.com/54b3r/routerag-go/internal/logging"
	"github.com/54b3r/routerag-go/internal/pipeline"
	"github.com/54b3r/routerag-go/internal/rag"
	"github.com/54b3r/routerag-go/internal/trace"
)

// fakeController is a test double for the controller interface.
type fakeController struct {
	mu sync.Mutex

	ready     pipeline.Readiness
	answer    *pipeline.Answer
	answerErr error
	report    *pipeline.IngestReport
	ingestErr error
	dropErr   error
	stats     rag.Stats
	statsErr  error
	traces    []*trace.Trace
	tracesErr error

	queries  []string
	uploads  map[string][]byte
	dropped  []string
	gotLimit int
}

func (f *fakeController) Initialize(context.Context) pipeline.Readiness { return f.ready }

func (f *fakeController) AnswerQuery(_ context.Context, text string) (*pipeline.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, text)
	if f.answerErr != nil {
		return nil, f.answerErr
	}
	if f.answer != nil {
		return f.answer, nil
	}
	return &pipeline.Answer{QueryID: "q-1", FinalAnswer: "It is 22°C in Tokyo.", Branch: classifier.BranchWeather}, nil
}

func (f *fakeController) IngestDocument(_ context.Context, data []byte, name string) (*pipeline.IngestReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploads == nil {
		f.uploads = make(map[string][]byte)
	}
	f.uploads[name] = data
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	if f.report != nil {
		return f.report, nil
	}
	return &pipeline.IngestReport{DocumentID: "doc-1", Name: name, ChunkCount: 1, Pages: 1}, nil
}

func (f *fakeController) DropDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, id)
	return f.dropErr
}

func (f *fakeController) IndexStats(context.Context) (rag.Stats, error) {
	return f.stats, f.statsErr
}

func (f *fakeController) RecentTraces(_ context.Context, n int) ([]*trace.Trace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotLimit = n
	return f.traces, f.tracesErr
}

// newTestServer builds a Server over ctrl with an isolated registry and
// auth disabled.
func newTestServer(ctrl *fakeController) (*Server, *prometheus.Registry) {
	return newTestServerWithConfig(ctrl, &Config{})
}

func newTestServerWithConfig(ctrl *fakeController, cfg *Config) (*Server, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	cfg.MetricsRegistry = reg
	cfg.MetricsGatherer = reg
	cfg.Logger = logging.Discard()
	s := newServer(ctrl, cfg)
	return s, reg
}
