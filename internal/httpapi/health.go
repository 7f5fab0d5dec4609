package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// handleHealth reports liveness plus redis reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("Health check failed", zap.Error(err))
		s.sendJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  "redis unreachable",
		})
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
