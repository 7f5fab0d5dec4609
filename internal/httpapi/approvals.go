package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/interrupts"
)

type approvalDecisionRequest struct {
	TaskID        string `json:"task_id"`
	Approved      bool   `json:"approved"`
	Feedback      string `json:"feedback,omitempty"`
	ModifiedQuery string `json:"modified_query,omitempty"`
	ApprovedBy    string `json:"approved_by,omitempty"`
}

// handleApprovalDecision resolves a pending human-confirmation interrupt.
// When an approval token is configured the caller must present it as a
// Bearer token.
func (s *Server) handleApprovalDecision(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeApproval(r) {
		s.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var req approvalDecisionRequest
	if err := dec.Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TaskID == "" {
		s.sendError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	err := s.broker.Resolve(req.TaskID, interrupts.Verdict{
		Approved:      req.Approved,
		Feedback:      req.Feedback,
		ModifiedQuery: req.ModifiedQuery,
		ApprovedBy:    req.ApprovedBy,
		ResolvedAt:    time.Now(),
	})
	if err != nil {
		if errors.Is(err, interrupts.ErrNoPendingInterrupt) {
			s.sendError(w, http.StatusNotFound, "no pending approval for task")
			return
		}
		s.logger.Error("Could not resolve interrupt",
			zap.String("task_id", req.TaskID),
			zap.Error(err),
		)
		s.sendError(w, http.StatusInternalServerError, "could not resolve approval")
		return
	}

	s.logger.Info("Approval decision recorded",
		zap.String("task_id", req.TaskID),
		zap.Bool("approved", req.Approved),
		zap.String("approved_by", req.ApprovedBy),
	)
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) authorizeApproval(r *http.Request) bool {
	if s.approvalToken == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	return ok && token == s.approvalToken
}
