// Package server implements the HTTP API in front of the query pipeline.
// The server is started by the `routerag serve` command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/routerag-go/internal/fault"
	"github.com/54b3r/routerag-go/internal/logging"
	"github.com/54b3r/routerag-go/internal/pipeline"
)

const (
	defaultMaxUploadBytes = 32 << 20
	maxQueryBytes         = 64 << 10
	defaultTraceLimit     = 20
	maxTraceLimit         = 200
)

// New constructs a Server that answers through ctrl.
func New(ctrl *pipeline.Controller, cfg *Config) (*Server, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("server: controller must not be nil")
	}
	return newServer(ctrl, cfg), nil
}

// newServer resolves defaults and builds the route table.
func newServer(ctrl controller, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	if cfg.APIKey == "" {
		log.Warn("server: ROUTERAG_API_KEY not set, API authentication disabled")
	}

	s := &Server{
		ctrl:    ctrl,
		cfg:     cfg,
		log:     log,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}
	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stop

	protected := func(name string, h http.HandlerFunc) http.Handler {
		return s.requestLogger(name, authMiddleware(cfg.APIKey, h))
	}
	limited := func(name string, h http.HandlerFunc) http.Handler {
		return s.requestLogger(name, authMiddleware(cfg.APIKey, rl.middleware(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /api/health", s.requestLogger("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.requestLogger("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("POST /api/query", limited("query", s.handleQuery))
	mux.Handle("POST /api/documents", limited("documents_upload", s.handleUpload))
	mux.Handle("DELETE /api/documents/{id}", protected("documents_delete", s.handleDelete))
	mux.Handle("GET /api/stats", protected("stats", s.handleStats))
	mux.Handle("GET /api/traces", protected("traces", s.handleTraces))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the route table, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleQuery handles POST /api/query. The pipeline folds every failure
// into the answer, so the only error left is a client that went away.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxQueryBytes)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, "query is required", "")
		return
	}

	s.metrics.queryInFlight.Inc()
	defer s.metrics.queryInFlight.Dec()

	ans, err := s.ctrl.AnswerQuery(r.Context(), req.Query)
	if err != nil {
		// 499 is the de facto status for a client that closed the request.
		writeError(w, r, 499, "query cancelled", fault.Kind(err))
		return
	}
	writeJSON(w, r, http.StatusOK, ans)
}

// handleUpload handles POST /api/documents with a multipart "file" field.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "document too large", "")
			return
		}
		writeError(w, r, http.StatusBadRequest, "multipart field \"file\" is required", "")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "could not read upload", "")
		return
	}
	s.metrics.uploadBytes.Observe(float64(len(data)))

	rep, err := s.ctrl.IngestDocument(r.Context(), data, header.Filename)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, fault.ErrUnsupportedFormat):
			status = http.StatusUnsupportedMediaType
		case errors.Is(err, fault.ErrUnreadableDocument):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, fault.ErrIndexUnavailable),
			errors.Is(err, fault.ErrUpstreamUnavailable),
			errors.Is(err, fault.ErrUpstreamTimeout):
			status = http.StatusServiceUnavailable
		}
		logging.FromContext(r.Context()).Warn("upload rejected",
			slog.String("name", header.Filename),
			slog.Any("error", err),
		)
		writeError(w, r, status, err.Error(), fault.Kind(err))
		return
	}
	writeJSON(w, r, http.StatusCreated, rep)
}

// handleDelete handles DELETE /api/documents/{id}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.ctrl.DropDocument(r.Context(), id); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "could not delete document", fault.Kind(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ctrl.IndexStats(r.Context())
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "index unavailable", fault.Kind(err))
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// handleTraces handles GET /api/traces?limit=n.
func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	limit := defaultTraceLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
		limit = min(n, maxTraceLimit)
	}

	traces, err := s.ctrl.RecentTraces(r.Context(), limit)
	if errors.Is(err, pipeline.ErrNoArchive) {
		writeError(w, r, http.StatusNotFound, "trace archive disabled", "")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "could not load traces", "")
		return
	}
	writeJSON(w, r, http.StatusOK, traces)
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("encode response", slog.Any("error", err))
	}
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, status int, msg, kind string) {
	writeJSON(w, r, status, errorResponse{Error: msg, Kind: kind})
}
