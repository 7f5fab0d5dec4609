// Package httpapi exposes the task submission, status polling, approval and
// health endpoints.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/interrupts"
	"github.com/praxislabs/scout/internal/taskstore"
	"github.com/praxislabs/scout/internal/worker"
)

// Server holds the handler dependencies.
type Server struct {
	store         *taskstore.Store
	pool          *worker.Pool
	broker        *interrupts.Broker
	limiter       *RateLimiter
	run           func(task *taskstore.Task) worker.Run
	retention     time.Duration
	approvalToken string
	logger        *zap.Logger
}

// NewServer creates the API server. runFor builds the pool run for a freshly
// stored task; limiter may be nil to disable rate limiting.
func NewServer(
	store *taskstore.Store,
	pool *worker.Pool,
	broker *interrupts.Broker,
	limiter *RateLimiter,
	runFor func(task *taskstore.Task) worker.Run,
	retention time.Duration,
	approvalToken string,
	logger *zap.Logger,
) *Server {
	return &Server{
		store:         store,
		pool:          pool,
		broker:        broker,
		limiter:       limiter,
		run:           runFor,
		retention:     retention,
		approvalToken: approvalToken,
		logger:        logger,
	}
}

// Routes registers every endpoint on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tasks", s.handleSubmitTask)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleTaskStatus)
	mux.HandleFunc("POST /api/v1/approvals/decision", s.handleApprovalDecision)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("Could not write response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}
