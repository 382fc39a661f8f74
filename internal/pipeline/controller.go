// Package pipeline implements the Controller that answers a query end to
// end: classify, run exactly one branch (weather or RAG), run the branch
// specialist and then the supervisor agent, and score the answer. Every
// stage is recorded on a [trace.Trace]. Failures after routing degrade the
// answer instead of failing the query; only an unroutable query is fatal,
// and even then the caller gets a clarification request.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/routerag-go/internal/agent"
	"github.com/54b3r/routerag-go/internal/classifier"
	"github.com/54b3r/routerag-go/internal/config"
	"github.com/54b3r/routerag-go/internal/evaluation"
	"github.com/54b3r/routerag-go/internal/fault"
	"github.com/54b3r/routerag-go/internal/ingestion"
	"github.com/54b3r/routerag-go/internal/logging"
	"github.com/54b3r/routerag-go/internal/rag"
	"github.com/54b3r/routerag-go/internal/trace"
	"github.com/54b3r/routerag-go/internal/weather"
)

// ClarificationAnswer is returned when a query cannot be routed.
const ClarificationAnswer = "I couldn't tell what you are asking. Please rephrase, for example " +
	"\"What's the weather in Paris?\" or a question about one of your uploaded documents."

// Unrouted labels answers to queries that never reached a branch.
const Unrouted classifier.Branch = "UNROUTED"

// Archive stores finished traces.
type Archive interface {
	// Save persists t. It must not retain t after returning.
	Save(ctx context.Context, t *trace.Trace) error
	// Recent returns up to n traces, newest first.
	Recent(ctx context.Context, n int) ([]*trace.Trace, error)
}

// Config wires the Controller to its collaborators.
type Config struct {
	// Classifier routes queries. Required.
	Classifier *classifier.Classifier
	// Weather answers the weather branch. Required.
	Weather weather.Gateway
	// Index stores document chunks. Required.
	Index rag.VectorIndex
	// Embedder embeds chunks and queries. Required.
	Embedder rag.Embedder
	// Team holds the agents. Defaults to a model-less team.
	Team *agent.Team
	// Evaluator scores answers. Defaults to the heuristic evaluator.
	Evaluator *evaluation.Evaluator
	// Archive keeps finished traces. Optional.
	Archive Archive
	// Pingers are probed by Initialize.
	Pingers []Pinger
	// Registerer receives the pipeline metrics. Defaults to a private
	// registry so tests never collide.
	Registerer prometheus.Registerer
	// Settings holds the tunables. Zero fields take config defaults.
	Settings config.Pipeline
}

// Answer is the structured result of one query.
type Answer struct {
	QueryID     string            `json:"queryId"`
	FinalAnswer string            `json:"finalAnswer"`
	Branch      classifier.Branch `json:"branch"`
	Degraded    bool              `json:"degraded"`
	Trace       *trace.Trace      `json:"trace"`
	Evaluation  *trace.Evaluation `json:"evaluation,omitempty"`
}

// Controller owns the per-query state machine. It is safe for concurrent
// use; queries share only the index and the weather cache.
type Controller struct {
	classifier *classifier.Classifier
	weather    weather.Gateway
	index      rag.VectorIndex
	retriever  rag.Retriever
	ingest     *ingestion.Pipeline
	team       *agent.Team
	evaluator  *evaluation.Evaluator
	archive    Archive
	pingers    []Pinger
	settings   config.Pipeline
	metrics    *metrics

	now      func() time.Time
	initOnce sync.Once
}

// New constructs a Controller from cfg.
func New(cfg *Config) (*Controller, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline: config must not be nil")
	}
	switch {
	case cfg.Classifier == nil:
		return nil, fmt.Errorf("pipeline: classifier must not be nil")
	case cfg.Weather == nil:
		return nil, fmt.Errorf("pipeline: weather gateway must not be nil")
	case cfg.Index == nil:
		return nil, fmt.Errorf("pipeline: index must not be nil")
	case cfg.Embedder == nil:
		return nil, fmt.Errorf("pipeline: embedder must not be nil")
	}

	s := withDefaults(cfg.Settings)
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	retriever, err := rag.NewRetriever(cfg.Embedder, cfg.Index, s.TopK)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	ingest, err := ingestion.NewPipeline(cfg.Embedder, cfg.Index, &ingestion.Config{
		ChunkSize:    s.ChunkSize,
		ChunkOverlap: s.ChunkOverlap,
		CallTimeout:  s.CallTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	team := cfg.Team
	if team == nil {
		team = agent.NewTeam(&agent.Config{SimilarityThreshold: s.SimilarityThreshold, CallTimeout: s.CallTimeout})
	}
	evaluator := cfg.Evaluator
	if evaluator == nil {
		evaluator = evaluation.New(&evaluation.Config{CallTimeout: s.CallTimeout})
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Controller{
		classifier: cfg.Classifier,
		weather:    cfg.Weather,
		index:      cfg.Index,
		retriever:  retriever,
		ingest:     ingest,
		team:       team,
		evaluator:  evaluator,
		archive:    cfg.Archive,
		pingers:    cfg.Pingers,
		settings:   s,
		metrics:    newMetrics(reg),
		now:        time.Now,
	}, nil
}

// withDefaults fills zero fields of s from config.DefaultPipeline.
func withDefaults(s config.Pipeline) config.Pipeline {
	d := config.DefaultPipeline()
	if s.ChunkSize == 0 {
		s.ChunkSize = d.ChunkSize
	}
	if s.ChunkOverlap == 0 && s.ChunkSize > d.ChunkOverlap {
		s.ChunkOverlap = min(d.ChunkOverlap, s.ChunkSize/5)
	}
	if s.TopK == 0 {
		s.TopK = d.TopK
	}
	if s.SimilarityThreshold == 0 {
		s.SimilarityThreshold = d.SimilarityThreshold
	}
	if s.ClassifierThreshold == 0 {
		s.ClassifierThreshold = d.ClassifierThreshold
	}
	if s.CallTimeout == 0 {
		s.CallTimeout = d.CallTimeout
	}
	if s.QueryTimeout == 0 {
		s.QueryTimeout = max(d.QueryTimeout, s.CallTimeout)
	}
	if s.WeatherCacheTTL == 0 {
		s.WeatherCacheTTL = d.WeatherCacheTTL
	}
	if s.DefaultLocation == "" {
		s.DefaultLocation = d.DefaultLocation
	}
	if s.IndexBackend == "" {
		s.IndexBackend = d.IndexBackend
	}
	return s
}

// Settings returns the resolved tunables.
func (c *Controller) Settings() config.Pipeline { return c.settings }

// AnswerQuery runs text through the state machine. It returns an error
// only when ctx is cancelled; every other failure is folded into the
// answer. The query as a whole is bounded by the query timeout.
func (c *Controller) AnswerQuery(ctx context.Context, text string) (*Answer, error) {
	id := uuid.NewString()
	ctx = logging.With(ctx, slog.String("query_id", id))
	log := logging.FromContext(ctx)

	tr := trace.New(id, text, c.now())
	qctx, cancel := context.WithTimeout(ctx, c.settings.QueryTimeout)
	defer cancel()

	// Routing.
	start := c.now()
	route, err := c.classifier.Classify(qctx, text, c.documentsIngested(qctx))
	c.metrics.observeStage("classify", c.now().Sub(start))
	if err != nil {
		if ctx.Err() != nil {
			return c.cancelled(ctx, tr)
		}
		log.Warn("pipeline: classification failed", slog.Any("error", err))
		tr.Errors = append(tr.Errors, "classify: "+err.Error())
		_ = tr.Advance(trace.ClassificationFailed, fault.Kind(err), c.now())
		tr.FinalAnswer = ClarificationAnswer
		return c.finish(ctx, tr, Unrouted, "clarification"), nil
	}
	tr.Route = &route
	_ = tr.Advance(trace.Routed, fmt.Sprintf("%s (%.2f, %s): %s", route.Branch, route.Confidence, route.Source, route.Rationale), c.now())
	log.Info("pipeline: query routed",
		slog.String("branch", string(route.Branch)),
		slog.Float64("confidence", float64(route.Confidence)),
		slog.String("source", string(route.Source)),
	)

	// Branch and specialist.
	in := agent.Input{Query: text, Route: route}
	switch route.Branch {
	case classifier.BranchWeather:
		c.fetchWeather(qctx, tr, &in)
	default:
		c.retrieve(qctx, tr, &in)
	}
	if ctx.Err() != nil {
		return c.cancelled(ctx, tr)
	}
	if in.SpecialistErr == nil {
		out, err := c.runTurn(qctx, tr, c.team.Specialist(route.Branch), in)
		if err != nil {
			log.Warn("pipeline: specialist failed", slog.Any("error", err))
			tr.Degrade(string(c.team.Specialist(route.Branch).Role())+" agent", err, c.now())
			in.SpecialistErr = err
		}
		in.SpecialistOutput = out
	}
	if ctx.Err() != nil {
		return c.cancelled(ctx, tr)
	}
	tr.Step(trace.BranchExecuted, branchNote(in), c.now())

	// Synthesis. The supervisor always runs.
	final, err := c.runTurn(qctx, tr, c.team.Supervisor, in)
	if ctx.Err() != nil {
		return c.cancelled(ctx, tr)
	}
	if err != nil {
		log.Warn("pipeline: supervisor failed, using fallback answer", slog.Any("error", err))
		tr.Degrade("supervisor", err, c.now())
		final = agent.Fallback(in)
	}
	tr.FinalAnswer = final
	tr.Step(trace.Synthesized, fmt.Sprintf("%d chars", len(final)), c.now())

	// Evaluation.
	start = c.now()
	ev, err := c.evaluator.Evaluate(qctx, text, tr)
	c.metrics.observeStage("evaluate", c.now().Sub(start))
	if ctx.Err() != nil {
		return c.cancelled(ctx, tr)
	}
	if err != nil {
		log.Warn("pipeline: evaluation omitted", slog.Any("error", err))
		tr.EvaluationError = err.Error()
		tr.Degrade("evaluation", err, c.now())
	} else {
		tr.Evaluation = ev
		c.metrics.evaluationOverall.Observe(ev.Overall)
		tr.Step(trace.Evaluated, fmt.Sprintf("overall %.2f", ev.Overall), c.now())
	}

	outcome := "ok"
	if tr.Degraded() {
		outcome = "degraded"
	}
	return c.finish(ctx, tr, route.Branch, outcome), nil
}

// fetchWeather runs the weather branch. A failure is recorded on the trace
// and handed to the supervisor through in.SpecialistErr.
func (c *Controller) fetchWeather(ctx context.Context, tr *trace.Trace, in *agent.Input) {
	location := in.Route.Location
	if location == "" {
		location = c.settings.DefaultLocation
	}
	start := c.now()
	snap, err := fault.Call(ctx, c.settings.CallTimeout, "weather fetch", func(ctx context.Context) (*weather.Snapshot, error) {
		return c.weather.Fetch(ctx, location, weather.Options{AirQuality: in.Route.AirQuality})
	})
	c.metrics.observeStage("weather", c.now().Sub(start))
	if err != nil {
		logging.FromContext(ctx).Warn("pipeline: weather fetch failed",
			slog.String("location", location),
			slog.Any("error", err),
		)
		if in.Route.Location == "" {
			in.Route.Location = location
		}
		tr.Degrade("weather", err, c.now())
		in.SpecialistErr = err
		return
	}
	tr.Weather = snap
	in.Weather = snap
}

// retrieve runs the RAG branch. A failing index or embedder leaves the
// branch with no context rather than failing the query.
func (c *Controller) retrieve(ctx context.Context, tr *trace.Trace, in *agent.Input) {
	start := c.now()
	chunks, err := fault.Call(ctx, c.settings.CallTimeout, "retrieve", func(ctx context.Context) ([]rag.ScoredChunk, error) {
		return c.retriever.Retrieve(ctx, in.Query, c.settings.TopK)
	})
	c.metrics.observeStage("retrieve", c.now().Sub(start))
	if err != nil {
		logging.FromContext(ctx).Warn("pipeline: retrieval failed, continuing without context", slog.Any("error", err))
		tr.Degrade("retrieve", err, c.now())
		chunks = nil
	}
	tr.Retrieval = chunks
	in.Chunks = chunks
}

// runTurn invokes a and records the turn on tr.
func (c *Controller) runTurn(ctx context.Context, tr *trace.Trace, a *agent.Agent, in agent.Input) (string, error) {
	start := c.now()
	out, err := a.Respond(ctx, in)
	latency := c.now().Sub(start)
	c.metrics.observeStage(string(a.Role())+"_agent", latency)

	turn := trace.Turn{
		Role:      string(a.Role()),
		Input:     a.Describe(in),
		Output:    out,
		Latency:   latency,
		Success:   err == nil,
		StartedAt: start,
	}
	if err != nil {
		turn.Error = err.Error()
	}
	tr.AddTurn(turn)
	return out, err
}

// branchNote summarises the executed branch for the trace.
func branchNote(in agent.Input) string {
	switch {
	case in.SpecialistErr != nil:
		return "specialist unavailable: " + fault.Kind(in.SpecialistErr)
	case in.Route.Branch == classifier.BranchWeather && in.Weather != nil:
		return "weather for " + in.Weather.Location
	default:
		return fmt.Sprintf("%d chunks retrieved", len(in.Chunks))
	}
}

// cancelled abandons tr. Nothing is archived and no score is kept.
func (c *Controller) cancelled(ctx context.Context, tr *trace.Trace) (*Answer, error) {
	branch := tr.Branch()
	if branch == "" {
		branch = Unrouted
	}
	c.metrics.queries.WithLabelValues(string(branch), "cancelled").Inc()
	logging.FromContext(ctx).Info("pipeline: query cancelled", slog.String("state", string(tr.State)))
	return nil, fmt.Errorf("pipeline: query %s: %w", tr.QueryID, ctx.Err())
}

// finish records metrics, archives tr and builds the answer.
func (c *Controller) finish(ctx context.Context, tr *trace.Trace, branch classifier.Branch, outcome string) *Answer {
	c.metrics.queries.WithLabelValues(string(branch), outcome).Inc()
	c.metrics.queryDuration.WithLabelValues(string(branch)).Observe(tr.Duration().Seconds())

	if strings.TrimSpace(tr.FinalAnswer) == "" {
		tr.FinalAnswer = agent.Fallback(agent.Input{Query: tr.Query, Route: routeOf(tr)})
	}

	log := logging.FromContext(ctx)
	if c.archive != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.settings.CallTimeout)
		if err := c.archive.Save(actx, tr); err != nil {
			log.Warn("pipeline: archiving trace failed", slog.Any("error", err))
		}
		cancel()
	}

	log.Info("pipeline: query answered",
		slog.String("branch", string(branch)),
		slog.String("state", string(tr.State)),
		slog.Duration("duration", tr.Duration()),
	)
	return &Answer{
		QueryID:     tr.QueryID,
		FinalAnswer: tr.FinalAnswer,
		Branch:      branch,
		Degraded:    tr.Degraded(),
		Trace:       tr,
		Evaluation:  tr.Evaluation,
	}
}

func routeOf(tr *trace.Trace) classifier.RouteDecision {
	if tr.Route == nil {
		return classifier.RouteDecision{}
	}
	return *tr.Route
}

// documentsIngested reports whether the index holds any chunk. An
// unreachable index counts as empty.
func (c *Controller) documentsIngested(ctx context.Context) bool {
	n, err := fault.Call(ctx, c.settings.CallTimeout, "index count", c.index.Count)
	if err != nil {
		logging.FromContext(ctx).Warn("pipeline: index count failed", slog.Any("error", err))
		return false
	}
	return n > 0
}

// RecentTraces returns up to n archived traces, newest first.
func (c *Controller) RecentTraces(ctx context.Context, n int) ([]*trace.Trace, error) {
	if c.archive == nil {
		return nil, ErrNoArchive
	}
	traces, err := c.archive.Recent(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("pipeline: loading traces: %w", err)
	}
	return traces, nil
}

// ErrNoArchive is returned by RecentTraces when no archive is configured.
var ErrNoArchive = errors.New("trace archive not configured")
