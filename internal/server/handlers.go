package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// handleHealth reports liveness together with the forecasting status. The
// service stays healthy while predictions can be served, which the
// statistical fallback guarantees; only a broken database degrades it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":          "healthy",
		"version":         "1.0.0",
		"service":         "augur",
		"forecast_status": s.container.Orchestrator.Status(),
		"ml_enabled":      s.container.Orchestrator.MLEnabled(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	code := http.StatusOK
	if err := s.container.ForecastDB.QuickCheck(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Database health check failed")
		response["status"] = "degraded"
		response["database_error"] = err.Error()
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, response)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
