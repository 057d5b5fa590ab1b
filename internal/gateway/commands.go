package gateway

import (
	"net/http"
	"time"

	"github.com/forgepilot/forgepilot/internal/model"
	"github.com/forgepilot/forgepilot/internal/queue"
	"github.com/forgepilot/forgepilot/internal/sessionengine"
)

// handleAnswerQuestions answers `POST .../questions/answers`.
func (s *Server) handleAnswerQuestions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Answers map[string]string `json:"answers"`
		Remarks string            `json:"remarks"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	eng, ok := s.engineFor(w, r.PathValue("projectId"), r.PathValue("featureId"))
	if !ok {
		return
	}
	if err := eng.AnswerQuestions(r.Context(), req.Answers, req.Remarks); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// handleApprovePlan answers `POST .../plan/approve`.
func (s *Server) handleApprovePlan(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineFor(w, r.PathValue("projectId"), r.PathValue("featureId"))
	if !ok {
		return
	}
	if err := eng.ApprovePlan(r.Context()); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "approved"})
}

// handleRequestPlanChanges answers `POST .../plan/request-changes`.
func (s *Server) handleRequestPlanChanges(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Feedback string `json:"feedback"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	eng, ok := s.engineFor(w, r.PathValue("projectId"), r.PathValue("featureId"))
	if !ok {
		return
	}
	if err := eng.RequestPlanChanges(r.Context(), req.Feedback); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "replanning"})
}

// handleForceTransition answers the debug-only `POST .../transition`.
func (s *Server) handleForceTransition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stage model.Stage `json:"stage"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	eng, ok := s.engineFor(w, r.PathValue("projectId"), r.PathValue("featureId"))
	if !ok {
		return
	}
	if err := eng.ForceTransition(r.Context(), req.Stage); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "transitioned"})
}

// handleRetry answers `POST .../retry`.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineFor(w, r.PathValue("projectId"), r.PathValue("featureId"))
	if !ok {
		return
	}
	if err := eng.Retry(r.Context(), time.Now()); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "retrying"})
}

// handleReReview answers `POST .../re-review`.
func (s *Server) handleReReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Remarks string `json:"remarks"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	eng, ok := s.engineFor(w, r.PathValue("projectId"), r.PathValue("featureId"))
	if !ok {
		return
	}
	if err := eng.ReReview(r.Context(), req.Remarks); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "re-reviewing"})
}

// handleFinalApproval answers `POST .../final-approval`.
func (s *Server) handleFinalApproval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action   sessionengine.FinalApprovalAction `json:"action"`
		Feedback string                            `json:"feedback"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	eng, ok := s.engineFor(w, r.PathValue("projectId"), r.PathValue("featureId"))
	if !ok {
		return
	}
	if err := eng.FinalApproval(r.Context(), req.Action, req.Feedback); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// handleBackout answers `POST .../backout`: unlike the command routes above,
// backout is handled by the QueueManager directly (it must work whether the
// session is waiting or active, and the active Engine may not even be
// awaiting input when a pause/abandon arrives).
func (s *Server) handleBackout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action queue.BackoutAction `json:"action"`
		Reason string              `json:"reason"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Action != queue.BackoutPause && req.Action != queue.BackoutAbandon {
		s.jsonError(w, "action must be pause or abandon", http.StatusBadRequest)
		return
	}

	projectID, featureID := r.PathValue("projectId"), r.PathValue("featureId")
	if err := s.queue.Backout(r.Context(), projectID, featureID, req.Action, req.Reason); err != nil {
		s.jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": string(req.Action)})
}

// handleResume answers `POST .../resume`: resuming a paused session is also
// a QueueManager concern (it re-admits at the front of the queue), not
// something the (no longer running) Engine can do for itself.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.GetSession(r.PathValue("projectId"), r.PathValue("featureId"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if session.Status != model.StatusPaused {
		s.jsonError(w, "session is not paused", http.StatusBadRequest)
		return
	}
	if err := s.queue.Resume(r.Context(), session); err != nil {
		s.logger.Error("failed to resume session", "error", err)
		s.jsonError(w, "failed to resume session", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "resuming"})
}
