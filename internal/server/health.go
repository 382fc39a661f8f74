package server

import (
	"log/slog"
	"net/http"

	"github.com/54b3r/routerag-go/internal/logging"
)

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady handles GET /api/ready. It probes every dependency through
// the controller and returns 200 when all are reachable, or 503 with the
// per-dependency results and a diagnostic otherwise.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := s.ctrl.Initialize(r.Context())

	status := http.StatusOK
	if !ready.Ready {
		status = http.StatusServiceUnavailable
		logging.FromContext(r.Context()).Warn("not ready", slog.String("diagnostic", ready.Diagnostic))
	}
	writeJSON(w, r, status, ready)
}
