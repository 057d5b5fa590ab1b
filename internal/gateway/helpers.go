package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/forgepilot/forgepilot/internal/sessionengine"
	"github.com/forgepilot/forgepilot/internal/store"
)

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		s.jsonError(w, "missing request body", http.StatusBadRequest)
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeStoreError maps a store.Error/ErrNotFound into the HTTP status the
// route table of spec.md S6 calls for: 404 for a missing session, 500 for
// anything else.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if store.IsNotFound(err) {
		s.jsonError(w, "session not found", http.StatusNotFound)
		return
	}
	s.logger.Error("store operation failed", "error", err)
	s.jsonError(w, "internal error", http.StatusInternalServerError)
}

// writeEngineError maps the sessionengine command errors to the status
// codes spec.md S6 documents: 404 when no engine is running the session,
// 409 when the session isn't ready for that command.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessionengine.ErrNotRunning):
		s.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, sessionengine.ErrNotAwaitingInput), errors.Is(err, sessionengine.ErrRetryTooSoon):
		s.jsonError(w, err.Error(), http.StatusConflict)
	default:
		var stateErr *sessionengine.StateError
		if errors.As(err, &stateErr) {
			s.jsonError(w, stateErr.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("session command failed", "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

// engineFor looks up the in-flight Engine for (projectId, featureId),
// writing a 404 itself when none is running -- every command route shares
// this same "session isn't currently active" failure mode.
func (s *Server) engineFor(w http.ResponseWriter, projectID, featureID string) (*sessionengine.Engine, bool) {
	eng, ok := s.registry.Get(projectID, featureID)
	if !ok {
		s.writeEngineError(w, sessionengine.ErrNotRunning)
		return nil, false
	}
	return eng, true
}
