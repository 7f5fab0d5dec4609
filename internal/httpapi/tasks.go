package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/metrics"
	"github.com/praxislabs/scout/internal/taskstore"
)

const submitAck = "Your request is being processed in the background..."

type submitTaskRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id"`
}

type submitTaskResponse struct {
	TaskID   string `json:"task_id"`
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

type taskStatusResponse struct {
	TaskID string  `json:"task_id"`
	Status string  `json:"status"`
	Result *string `json:"result"`
	Error  *string `json:"error"`
}

// handleSubmitTask accepts a research request, stores it as pending and
// hands it to the worker pool. The response is an acknowledgement; the
// caller polls the status endpoint for the outcome.
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.sendError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.New().String()
	}

	if !s.allowSubmission(w, r, req.ThreadID) {
		return
	}

	now := time.Now()
	task := &taskstore.Task{
		ID:        uuid.New().String(),
		ThreadID:  req.ThreadID,
		Message:   req.Message,
		Status:    taskstore.StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.retention),
	}
	if err := s.store.Create(r.Context(), task); err != nil {
		s.logger.Error("Could not store task", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "could not store task")
		return
	}

	if !s.pool.Submit(s.run(task)) {
		s.sendError(w, http.StatusServiceUnavailable, "service is shutting down")
		return
	}

	metrics.TasksSubmitted.Inc()
	s.logger.Info("Task submitted",
		zap.String("task_id", task.ID),
		zap.String("thread_id", task.ThreadID),
	)
	s.sendJSON(w, http.StatusAccepted, submitTaskResponse{
		TaskID:   task.ID,
		ThreadID: task.ThreadID,
		Status:   string(taskstore.StatusPending),
		Message:  submitAck,
	})
}

// handleTaskStatus reports the task's current lifecycle state. Expired and
// unknown tasks are indistinguishable.
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	task, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, taskstore.ErrTaskNotFound) {
			s.sendError(w, http.StatusNotFound, "task not found or expired")
			return
		}
		s.logger.Error("Could not load task", zap.String("task_id", id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "could not load task")
		return
	}

	resp := taskStatusResponse{TaskID: task.ID, Status: string(task.Status)}
	if task.Result != "" {
		resp.Result = &task.Result
	}
	if task.Error != "" {
		resp.Error = &task.Error
	}
	s.sendJSON(w, http.StatusOK, resp)
}
