package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/runflow/engine/coordinator"
	"github.com/runflow/engine/eventlog"
	"github.com/runflow/engine/runstate"
)

type startRunRequest struct {
	RunID    string `json:"run_id,omitempty"`
	Message  string `json:"message"`
	Context  string `json:"context,omitempty"`
	Mode     string `json:"mode,omitempty"`
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
}

type startRunResponse struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	runID, err := s.deps.Coordinator.Start(r.Context(), coordinator.StartRequest{
		RunID:   req.RunID,
		Message: req.Message,
		Context: req.Context,
		Mode:    req.Mode,
		Identity: runstate.Identity{
			TenantID: req.TenantID,
			UserID:   req.UserID,
		},
	})
	if err != nil {
		if errors.Is(err, coordinator.ErrCapacityExceeded) {
			writeError(w, http.StatusTooManyRequests, "capacity exceeded")
			return
		}
		s.deps.Logger.Error(r.Context(), "start run failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	writeJSON(w, http.StatusAccepted, startRunResponse{RunID: runID})
}

func (s *Server) handleRunState(w http.ResponseWriter, r *http.Request) {
	runID := runIDFromRequest(s.mux, r)
	rs, err := s.deps.RunStates.Load(r.Context(), runID)
	if err != nil {
		s.deps.Logger.Error(r.Context(), "load run state failed", "run_id", runID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load run state")
		return
	}
	if rs == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	runID := runIDFromRequest(s.mux, r)
	st, err := s.deps.WorkflowRuns.Load(r.Context(), runID)
	if err != nil {
		s.deps.Logger.Error(r.Context(), "load workflow state failed", "run_id", runID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load workflow state")
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type approvalRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// handleRunApproval records a human decision and wakes the run's workflow
// past its maybe_approve step (spec.md §4.D waits on
// workflow.approval.recorded).
func (s *Server) handleRunApproval(w http.ResponseWriter, r *http.Request) {
	runID := runIDFromRequest(s.mux, r)
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decision := "denied"
	if req.Approved {
		decision = "approved"
	}
	data, err := json.Marshal(map[string]string{"decision": decision, "reason": req.Reason})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode decision")
		return
	}
	if _, err := s.deps.Log.Append(r.Context(), runID, eventlog.TypeWorkflowApprovalRecorded, data); err != nil {
		s.deps.Logger.Error(r.Context(), "append approval failed", "run_id", runID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to record approval")
		return
	}
	if err := s.deps.Engine.Wake(r.Context(), runID, string(eventlog.TypeWorkflowApprovalRecorded)); err != nil {
		s.deps.Logger.Error(r.Context(), "wake run failed", "run_id", runID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to wake run")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
