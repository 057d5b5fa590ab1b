package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/forgepilot/forgepilot/internal/model"
	"github.com/forgepilot/forgepilot/internal/queue"
	"github.com/forgepilot/forgepilot/internal/store"
)

// handleListSessions answers `GET /sessions`.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions()
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sessions)
}

// createSessionRequest is the body of `POST /sessions`.
type createSessionRequest struct {
	ProjectPath        string   `json:"projectPath"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	BaseBranch         string   `json:"baseBranch"`
	FileScope          []string `json:"fileScope"`
	InsertAtPosition   any      `json:"insertAtPosition"`
}

// handleCreateSession answers `POST /sessions`: it assigns a deterministic
// projectId from the project path (spec.md S3) and a fresh featureId, then
// hands the new session to the QueueManager for admission.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.ProjectPath == "" || req.Title == "" {
		s.jsonError(w, "projectPath and title are required", http.StatusBadRequest)
		return
	}

	projectID := store.ProjectID(req.ProjectPath)
	now := time.Now()
	session := &model.Session{
		ProjectID:          projectID,
		FeatureID:          uuid.New().String(),
		ProjectPath:        req.ProjectPath,
		Title:              req.Title,
		Description:        req.Description,
		AcceptanceCriteria: req.AcceptanceCriteria,
		BaseBranch:         req.BaseBranch,
		FileScope:          req.FileScope,
		Stage:              model.StageDiscovery,
		Status:             model.StatusQueued,
		Preferences:        mustGetPreferences(s, projectID),
		CreatedAt:          now,
		UpdatedAt:          now,
		QueuedAt:           &now,
	}

	pos := parseInsertPosition(req.InsertAtPosition)
	if err := s.queue.Enqueue(r.Context(), session, pos); err != nil {
		s.logger.Error("failed to enqueue session", "error", err)
		s.jsonError(w, "failed to enqueue session", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, http.StatusCreated, session)
}

func mustGetPreferences(s *Server, projectID string) model.Preferences {
	prefs, err := s.store.GetPreferences(projectID)
	if err != nil {
		return model.DefaultPreferences()
	}
	return prefs
}

// parseInsertPosition decodes the `"front" | "end" | integer` shape spec.md
// S6 documents for insertAtPosition; anything unrecognized defaults to end.
func parseInsertPosition(raw any) queue.InsertPosition {
	switch v := raw.(type) {
	case string:
		if v == "front" {
			return queue.InsertPosition{Front: true}
		}
		return queue.InsertPosition{End: true}
	case float64:
		return queue.InsertPosition{N: int(v)}
	default:
		return queue.InsertPosition{End: true}
	}
}

// handleCheckQueue answers `GET /sessions/check-queue?projectPath=...`.
func (s *Server) handleCheckQueue(w http.ResponseWriter, r *http.Request) {
	projectPath := r.URL.Query().Get("projectPath")
	if projectPath == "" {
		s.jsonError(w, "projectPath is required", http.StatusBadRequest)
		return
	}
	projectID := store.ProjectID(projectPath)

	sessions, err := s.store.ListByProject(projectID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	var active *model.Session
	queuedCount := 0
	for _, sess := range sessions {
		if sess.IsActive() {
			active = sess
		}
		if sess.Status == model.StatusQueued {
			queuedCount++
		}
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"activeSession": active,
		"queuedCount":   queuedCount,
	})
}

// handleGetSession answers `GET /sessions/:projectId/:featureId`.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.GetSession(r.PathValue("projectId"), r.PathValue("featureId"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, session)
}

// handleGetPlan answers `GET /sessions/:projectId/:featureId/plan`.
func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.store.GetPlan(r.PathValue("projectId"), r.PathValue("featureId"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, plan)
}

// handleGetQuestions answers `GET /sessions/:projectId/:featureId/questions`.
func (s *Server) handleGetQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := s.store.ListQuestions(r.PathValue("projectId"), r.PathValue("featureId"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, questions)
}

// handleGetConversations answers `GET /sessions/:projectId/:featureId/conversations`,
// paginated via `?limit=&offset=` query parameters (spec.md S6: "paginated").
func (s *Server) handleGetConversations(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ReadConversations(r.PathValue("projectId"), r.PathValue("featureId"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	offset := parseIntParam(r, "offset", 0)
	limit := parseIntParam(r, "limit", len(entries))

	if offset > len(entries) {
		offset = len(entries)
	}
	end := offset + limit
	if end > len(entries) || limit <= 0 {
		end = len(entries)
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"entries": entries[offset:end],
		"total":   len(entries),
	})
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// handleReorder answers `PUT /sessions/:projectId/queue-order`.
func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderedFeatureIDs []string `json:"orderedFeatureIds"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.queue.Reorder(r.PathValue("projectId"), req.OrderedFeatureIDs); err != nil {
		s.logger.Error("failed to reorder queue", "error", err)
		s.jsonError(w, "failed to reorder queue", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "reordered"})
}

// handleGetPreferences answers `GET /projects/:projectId/preferences`.
func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.store.GetPreferences(r.PathValue("projectId"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, prefs)
}

// handlePutPreferences answers `PUT /projects/:projectId/preferences`.
func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs model.Preferences
	if !s.decodeBody(w, r, &prefs) {
		return
	}
	if err := s.store.PutPreferences(r.PathValue("projectId"), prefs); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, prefs)
}
