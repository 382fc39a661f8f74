package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/54b3r/routerag-go/internal/agent"
	"github.com/54b3r/routerag-go/internal/classifier"
	"github.com/54b3r/routerag-go/internal/config"
	"github.com/54b3r/routerag-go/internal/embedder"
	"github.com/54b3r/routerag-go/internal/evaluation"
	"github.com/54b3r/routerag-go/internal/fault"
	"github.com/54b3r/routerag-go/internal/llmtest"
	"github.com/54b3r/routerag-go/internal/rag"
	"github.com/54b3r/routerag-go/internal/trace"
	"github.com/54b3r/routerag-go/internal/weather"
)

// gatewayFunc adapts a function to weather.Gateway.
type gatewayFunc func(ctx context.Context, location string, opts weather.Options) (*weather.Snapshot, error)

func (f gatewayFunc) Fetch(ctx context.Context, location string, opts weather.Options) (*weather.Snapshot, error) {
	return f(ctx, location, opts)
}

func tokyo(_ context.Context, location string, _ weather.Options) (*weather.Snapshot, error) {
	return &weather.Snapshot{
		Location:    location,
		Country:     "JP",
		Temperature: 22,
		FeelsLike:   21.5,
		Conditions:  "clear sky",
		Humidity:    40,
		Pressure:    1015,
		WindSpeed:   2.1,
		Timestamp:   time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

// unavailableIndex wraps a MemoryIndex and fails every read.
type unavailableIndex struct {
	*rag.MemoryIndex
}

func (unavailableIndex) Count(context.Context) (int, error) {
	return 0, fmt.Errorf("connection refused: %w", fault.ErrIndexUnavailable)
}

func (unavailableIndex) Search(context.Context, []float32, int) ([]rag.ScoredChunk, error) {
	return nil, fmt.Errorf("connection refused: %w", fault.ErrIndexUnavailable)
}

// memArchive records saved traces.
type memArchive struct {
	mu     sync.Mutex
	traces []*trace.Trace
}

func (a *memArchive) Save(_ context.Context, t *trace.Trace) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.traces = append(a.traces, t)
	return nil
}

func (a *memArchive) Recent(_ context.Context, n int) ([]*trace.Trace, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := slices.Clone(a.traces)
	slices.Reverse(out)
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (a *memArchive) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.traces)
}

type fixture struct {
	cfg *Config
	reg *prometheus.Registry
}

func newFixture() *fixture {
	reg := prometheus.NewRegistry()
	return &fixture{
		reg: reg,
		cfg: &Config{
			Classifier: classifier.New(nil),
			Weather:    gatewayFunc(tokyo),
			Index:      rag.NewMemoryIndex(),
			Embedder:   embedder.NewHashEmbedder(256),
			Archive:    &memArchive{},
			Registerer: reg,
			Settings: config.Pipeline{
				CallTimeout:  time.Second,
				QueryTimeout: 5 * time.Second,
			},
		},
	}
}

func (f *fixture) build(t *testing.T) *Controller {
	t.Helper()
	c, err := New(f.cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func states(t *trace.Trace) []trace.State {
	out := make([]trace.State, len(t.Transitions))
	for i, tr := range t.Transitions {
		out[i] = tr.To
	}
	return out
}

func roles(t *trace.Trace) []string {
	out := make([]string, len(t.Turns))
	for i, turn := range t.Turns {
		out[i] = turn.Role
	}
	return out
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	if _, err := New(nil); err == nil {
		t.Error("want error for nil config")
	}
	for _, mutate := range []func(*Config){
		func(c *Config) { c.Classifier = nil },
		func(c *Config) { c.Weather = nil },
		func(c *Config) { c.Index = nil },
		func(c *Config) { c.Embedder = nil },
		func(c *Config) { c.Settings.IndexBackend = "redis" },
	} {
		f := newFixture()
		mutate(f.cfg)
		if _, err := New(f.cfg); err == nil {
			t.Errorf("want error for config %+v", f.cfg)
		}
	}
}

func TestAnswerQuery_RAGScenario(t *testing.T) {
	t.Parallel()
	f := newFixture()
	c := f.build(t)
	ctx := context.Background()

	rep, err := c.IngestDocument(ctx, []byte("The capital of France is Paris."), "facts.txt")
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if rep.ChunkCount != 1 || rep.Pages != 1 || rep.DocumentID == "" {
		t.Errorf("report = %+v", rep)
	}

	ans, err := c.AnswerQuery(ctx, "What is the capital of France?")
	if err != nil {
		t.Fatalf("AnswerQuery: %v", err)
	}
	if ans.Branch != classifier.BranchRAG {
		t.Errorf("Branch = %s, want RAG", ans.Branch)
	}
	if len(ans.Trace.Retrieval) == 0 || !strings.Contains(ans.Trace.Retrieval[0].Text, "Paris") {
		t.Errorf("Retrieval = %+v", ans.Trace.Retrieval)
	}
	if !strings.Contains(ans.FinalAnswer, "Paris") {
		t.Errorf("FinalAnswer = %q", ans.FinalAnswer)
	}
	want := []trace.State{trace.Received, trace.Routed, trace.BranchExecuted, trace.Synthesized, trace.Evaluated}
	if got := states(ans.Trace); !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	if got := roles(ans.Trace); !slices.Equal(got, []string{"rag", "supervisor"}) {
		t.Errorf("turns = %v", got)
	}
	if ans.Evaluation == nil || ans.Evaluation.Groundedness == nil {
		t.Fatalf("Evaluation = %+v", ans.Evaluation)
	}
	if ans.Degraded {
		t.Error("answer marked degraded")
	}
}

func TestAnswerQuery_WeatherScenario(t *testing.T) {
	t.Parallel()
	f := newFixture()
	var gotLocation string
	f.cfg.Weather = gatewayFunc(func(ctx context.Context, location string, opts weather.Options) (*weather.Snapshot, error) {
		gotLocation = location
		return tokyo(ctx, location, opts)
	})
	c := f.build(t)

	ans, err := c.AnswerQuery(context.Background(), "What's the weather in Tokyo?")
	if err != nil {
		t.Fatalf("AnswerQuery: %v", err)
	}
	if ans.Branch != classifier.BranchWeather {
		t.Errorf("Branch = %s, want WEATHER", ans.Branch)
	}
	if gotLocation != "Tokyo" {
		t.Errorf("gateway location = %q", gotLocation)
	}
	if !strings.Contains(ans.FinalAnswer, "Tokyo") || !strings.Contains(ans.FinalAnswer, "22") {
		t.Errorf("FinalAnswer = %q", ans.FinalAnswer)
	}
	if ans.Trace.Weather == nil || ans.Trace.Retrieval != nil {
		t.Errorf("trace carries weather=%v retrieval=%v", ans.Trace.Weather, ans.Trace.Retrieval)
	}
	if ans.Evaluation == nil || ans.Evaluation.Groundedness != nil {
		t.Errorf("Evaluation = %+v", ans.Evaluation)
	}
	if got := roles(ans.Trace); !slices.Equal(got, []string{"weather", "supervisor"}) {
		t.Errorf("turns = %v", got)
	}
}

func TestAnswerQuery_WeatherWithoutPlaceUsesDefault(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.cfg.Settings.DefaultLocation = "Oslo"
	var gotLocation string
	f.cfg.Weather = gatewayFunc(func(ctx context.Context, location string, opts weather.Options) (*weather.Snapshot, error) {
		gotLocation = location
		return tokyo(ctx, location, opts)
	})
	c := f.build(t)

	ans, err := c.AnswerQuery(context.Background(), "What is the weather forecast?")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Branch != classifier.BranchWeather || gotLocation != "Oslo" {
		t.Errorf("branch %s, location %q", ans.Branch, gotLocation)
	}
}

func TestAnswerQuery_NoDocuments(t *testing.T) {
	t.Parallel()
	c := newFixture().build(t)

	ans, err := c.AnswerQuery(context.Background(), "Summarise the quarterly revenue figures")
	if err != nil {
		t.Fatalf("AnswerQuery: %v", err)
	}
	if ans.Branch != classifier.BranchRAG {
		t.Errorf("Branch = %s, want RAG", ans.Branch)
	}
	if len(ans.Trace.Retrieval) != 0 {
		t.Errorf("Retrieval = %v, want empty", ans.Trace.Retrieval)
	}
	if ans.FinalAnswer != agent.NoContextAnswer {
		t.Errorf("FinalAnswer = %q", ans.FinalAnswer)
	}
	if ans.Degraded {
		t.Error("empty index must not degrade the answer")
	}
}

func TestAnswerQuery_WeatherTimeoutDegrades(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.cfg.Weather = gatewayFunc(func(ctx context.Context, _ string, _ weather.Options) (*weather.Snapshot, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f.cfg.Settings.CallTimeout = 50 * time.Millisecond
	f.cfg.Settings.QueryTimeout = 2 * time.Second
	c := f.build(t)

	start := time.Now()
	ans, err := c.AnswerQuery(context.Background(), "What's the weather in Tokyo?")
	if err != nil {
		t.Fatalf("AnswerQuery: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("took %s, beyond the query timeout", elapsed)
	}
	if ans.Branch != classifier.BranchWeather || !ans.Degraded {
		t.Errorf("branch %s degraded %v", ans.Branch, ans.Degraded)
	}
	if !strings.Contains(ans.FinalAnswer, "Tokyo") || !strings.Contains(ans.FinalAnswer, "Sorry") {
		t.Errorf("FinalAnswer = %q", ans.FinalAnswer)
	}
	if ans.Trace.State != trace.FailedDegraded {
		t.Errorf("State = %s", ans.Trace.State)
	}
	if len(ans.Trace.Errors) == 0 || !strings.Contains(ans.Trace.Errors[0], fault.ErrUpstreamTimeout.Error()) {
		t.Errorf("Errors = %v", ans.Trace.Errors)
	}
	if ans.Evaluation == nil && ans.Trace.EvaluationError == "" {
		t.Error("evaluation neither present nor explained")
	}
	if got := roles(ans.Trace); !slices.Equal(got, []string{"supervisor"}) {
		t.Errorf("turns = %v", got)
	}
}

func TestAnswerQuery_ClassificationFailure(t *testing.T) {
	t.Parallel()
	f := newFixture()
	c := f.build(t)

	ans, err := c.AnswerQuery(context.Background(), "   ")
	if err != nil {
		t.Fatalf("AnswerQuery: %v", err)
	}
	if ans.FinalAnswer != ClarificationAnswer || ans.Branch != Unrouted {
		t.Errorf("answer = %+v", ans)
	}
	if ans.Trace.State != trace.ClassificationFailed || len(ans.Trace.Turns) != 0 || ans.Evaluation != nil {
		t.Errorf("trace = %+v", ans.Trace)
	}
	if got := testutil.ToFloat64(c.metrics.queries.WithLabelValues(string(Unrouted), "clarification")); got != 1 {
		t.Errorf("clarification counter = %v", got)
	}
}

func TestAnswerQuery_IndexUnavailable(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.cfg.Index = unavailableIndex{rag.NewMemoryIndex()}
	c := f.build(t)

	ans, err := c.AnswerQuery(context.Background(), "Summarise the onboarding guide")
	if err != nil {
		t.Fatalf("AnswerQuery: %v", err)
	}
	if ans.Branch != classifier.BranchRAG || !ans.Degraded {
		t.Errorf("branch %s degraded %v", ans.Branch, ans.Degraded)
	}
	if ans.FinalAnswer != agent.NoContextAnswer {
		t.Errorf("FinalAnswer = %q", ans.FinalAnswer)
	}
	if ans.Evaluation == nil {
		t.Error("evaluation omitted on a successful degraded answer")
	}
}

func TestAnswerQuery_SpecialistFailureStillSupervised(t *testing.T) {
	t.Parallel()
	f := newFixture()
	m := llmtest.Failing(errors.New("model overloaded"))
	f.cfg.Team = agent.NewTeam(&agent.Config{ChatModel: m, CallTimeout: time.Second})
	c := f.build(t)

	ans, err := c.AnswerQuery(context.Background(), "What's the weather in Tokyo?")
	if err != nil {
		t.Fatalf("AnswerQuery: %v", err)
	}
	if got := roles(ans.Trace); !slices.Equal(got, []string{"weather", "supervisor"}) {
		t.Fatalf("turns = %v", got)
	}
	for _, turn := range ans.Trace.Turns {
		if turn.Success {
			t.Errorf("turn %s succeeded against a failing model", turn.Role)
		}
	}
	if !ans.Degraded || !strings.HasPrefix(ans.FinalAnswer, "Sorry") {
		t.Errorf("degraded %v answer %q", ans.Degraded, ans.FinalAnswer)
	}
}

func TestAnswerQuery_EvaluationFailureOmitsScore(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.cfg.Evaluator = evaluation.New(&evaluation.Config{
		ChatModel: llmtest.Fixed("no rating today"),
		Judge:     true,
	})
	c := f.build(t)

	ans, err := c.AnswerQuery(context.Background(), "What's the weather in Tokyo?")
	if err != nil {
		t.Fatalf("AnswerQuery: %v", err)
	}
	if ans.Evaluation != nil || ans.Trace.EvaluationError == "" {
		t.Errorf("Evaluation = %+v, error %q", ans.Evaluation, ans.Trace.EvaluationError)
	}
	if !strings.Contains(ans.FinalAnswer, "22") {
		t.Errorf("answer masked by evaluation failure: %q", ans.FinalAnswer)
	}
}

func TestAnswerQuery_CancelledReturnsError(t *testing.T) {
	t.Parallel()
	f := newFixture()
	archive := &memArchive{}
	f.cfg.Archive = archive
	c := f.build(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ans, err := c.AnswerQuery(ctx, "What's the weather in Tokyo?")
	if !errors.Is(err, context.Canceled) || ans != nil {
		t.Fatalf("got %+v, %v; want nil, context.Canceled", ans, err)
	}
	if archive.len() != 0 {
		t.Error("cancelled query was archived")
	}
}

func TestAnswerQuery_CancelDuringBranch(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	f.cfg.Weather = gatewayFunc(func(ctx context.Context, _ string, _ weather.Options) (*weather.Snapshot, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := f.build(t)

	ans, err := c.AnswerQuery(ctx, "What's the weather in Tokyo?")
	if !errors.Is(err, context.Canceled) || ans != nil {
		t.Fatalf("got %+v, %v", ans, err)
	}
}

func TestAnswerQuery_ArchivesTraces(t *testing.T) {
	t.Parallel()
	f := newFixture()
	c := f.build(t)
	ctx := context.Background()

	first, err := c.AnswerQuery(ctx, "What's the weather in Tokyo?")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.AnswerQuery(ctx, "What's the weather in Paris?")
	if err != nil {
		t.Fatal(err)
	}
	if first.QueryID == second.QueryID {
		t.Error("query ids repeat")
	}
	got, err := c.RecentTraces(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].QueryID != second.QueryID {
		t.Errorf("RecentTraces = %d traces", len(got))
	}
}

func TestRecentTraces_NoArchive(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.cfg.Archive = nil
	if _, err := f.build(t).RecentTraces(context.Background(), 5); !errors.Is(err, ErrNoArchive) {
		t.Errorf("err = %v", err)
	}
}

func TestAnswerQuery_Concurrent(t *testing.T) {
	t.Parallel()
	f := newFixture()
	c := f.build(t)
	ctx := context.Background()
	if _, err := c.IngestDocument(ctx, []byte("The capital of France is Paris."), "facts.txt"); err != nil {
		t.Fatal(err)
	}

	queries := []string{"What's the weather in Tokyo?", "What is the capital of France?"}
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Go(func() {
			q := queries[i%2]
			ans, err := c.AnswerQuery(ctx, q)
			if err != nil {
				errs <- err
				return
			}
			if ans.Trace.Query != q || ans.FinalAnswer == "" {
				errs <- fmt.Errorf("answer for %q crossed with another query", q)
			}
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if got := testutil.ToFloat64(c.metrics.queries.WithLabelValues(string(classifier.BranchWeather), "ok")); got != 10 {
		t.Errorf("weather ok counter = %v, want 10", got)
	}
}

func TestIngestDocument_Errors(t *testing.T) {
	t.Parallel()
	c := newFixture().build(t)
	ctx := context.Background()

	if _, err := c.IngestDocument(ctx, []byte("   \n\t "), "empty.txt"); !errors.Is(err, fault.ErrUnreadableDocument) {
		t.Errorf("empty document: err = %v", err)
	}
	if _, err := c.IngestDocument(ctx, []byte{0x7f, 'E', 'L', 'F', 0, 0, 1, 2}, "tool.bin"); !errors.Is(err, fault.ErrUnsupportedFormat) {
		t.Errorf("binary document: err = %v", err)
	}
	stats, err := c.IndexStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Chunks != 0 {
		t.Errorf("failed ingestion stored %d chunks", stats.Chunks)
	}
}

func TestIngestAndDrop(t *testing.T) {
	t.Parallel()
	c := newFixture().build(t)
	ctx := context.Background()

	rep, err := c.IngestDocument(ctx, []byte("Alpha beta gamma.\n\nDelta epsilon."), "notes.md")
	if err != nil {
		t.Fatal(err)
	}
	again, err := c.IngestDocument(ctx, []byte("Alpha beta gamma.\n\nDelta epsilon."), "notes.md")
	if err != nil {
		t.Fatal(err)
	}
	if again.DocumentID != rep.DocumentID {
		t.Error("re-upload got a new document id")
	}
	stats, err := c.IndexStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Documents != 1 || stats.Chunks != rep.ChunkCount {
		t.Errorf("stats = %+v", stats)
	}
	if got := testutil.ToFloat64(c.metrics.ingestedChunks); got != float64(2*rep.ChunkCount) {
		t.Errorf("ingested chunks counter = %v", got)
	}

	if err := c.DropDocument(ctx, rep.DocumentID); err != nil {
		t.Fatal(err)
	}
	stats, _ = c.IndexStats(ctx)
	if stats.Documents != 0 || stats.Chunks != 0 {
		t.Errorf("stats after drop = %+v", stats)
	}
}

func TestInitialize(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.cfg.Pingers = []Pinger{
		NewPinger("index", func(context.Context) error { return nil }),
		NewPinger("qdrant", func(context.Context) error { return errors.New("connection refused") }),
	}
	c := f.build(t)

	for range 2 {
		r := c.Initialize(context.Background())
		if r.Ready || len(r.Checks) != 2 || !r.Checks[0].OK || r.Checks[1].OK {
			t.Errorf("readiness = %+v", r)
		}
		if !strings.Contains(r.Diagnostic, "qdrant: connection refused") {
			t.Errorf("Diagnostic = %q", r.Diagnostic)
		}
	}
}

func TestInitialize_NoPingersIsReady(t *testing.T) {
	t.Parallel()
	r := newFixture().build(t).Initialize(context.Background())
	if !r.Ready || r.Diagnostic != "" {
		t.Errorf("readiness = %+v", r)
	}
}

func TestAnswerQuery_StopwordQueryEncodes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx, err := rag.NewChromemIndex(ctx, &rag.ChromemConfig{Dimensions: 256})
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture()
	f.cfg.Index = idx
	c := f.build(t)
	if _, err := c.IngestDocument(ctx, []byte("The capital of France is Paris."), "facts.txt"); err != nil {
		t.Fatal(err)
	}

	ans, err := c.AnswerQuery(ctx, "What is it?")
	if err != nil {
		t.Fatalf("AnswerQuery: %v", err)
	}
	for _, r := range ans.Trace.Retrieval {
		if math.IsNaN(float64(r.Score)) {
			t.Errorf("chunk %s scored NaN", r.ID)
		}
	}
	if _, err := json.Marshal(ans); err != nil {
		t.Errorf("answer not encodable: %v", err)
	}
}
