package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/routerag-go/internal/pipeline"
	"github.com/54b3r/routerag-go/internal/rag"
	"github.com/54b3r/routerag-go/internal/trace"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// exceed the pipeline query timeout.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MaxUploadBytes bounds a document upload. Defaults to 32 MiB if zero.
	MaxUploadBytes int64
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer serves GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// controller is the subset of *pipeline.Controller the handlers call.
// Tests inject a fake.
type controller interface {
	Initialize(ctx context.Context) pipeline.Readiness
	AnswerQuery(ctx context.Context, text string) (*pipeline.Answer, error)
	IngestDocument(ctx context.Context, data []byte, name string) (*pipeline.IngestReport, error)
	DropDocument(ctx context.Context, documentID string) error
	IndexStats(ctx context.Context) (rag.Stats, error)
	RecentTraces(ctx context.Context, n int) ([]*trace.Trace, error)
}

// Server is the HTTP front end of the query pipeline.
type Server struct {
	// ctrl answers every API call.
	ctrl controller
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// metrics holds the Prometheus collectors for this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Query is the user's natural language question.
	Query string `json:"query"`
}

// errorResponse is the JSON body of every 4xx/5xx reply.
type errorResponse struct {
	Error string `json:"error"`
	// Kind is the error taxonomy label, when one applies.
	Kind string `json:"kind,omitempty"`
}
