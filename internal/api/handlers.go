// Package api provides HTTP handlers for StoryLoom endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/storyloom/storyloom/internal/models"
)

// createSessionRequest is the body for POST /sessions. SessionID is optional;
// the server issues a UUID when it is omitted.
type createSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
	BookID    int64  `json:"book_id"`
}

// createSessionResult pairs the issued session id with its first question.
type createSessionResult struct {
	SessionID string               `json:"session_id"`
	Question  *models.NextQuestion `json:"question"`
}

// submitAnswerRequest is the body for POST /sessions/{id}/answers.
type submitAnswerRequest struct {
	Answer string `json:"answer"`
}

// reseedCatalogRequest is the body for POST /admin/catalog/reseed.
type reseedCatalogRequest struct {
	Chapters []models.Chapter `json:"chapters"`
}

// reseedCatalogResult reports the persisted catalog shape.
type reseedCatalogResult struct {
	Chapters  int `json:"chapters"`
	Templates int `json:"templates"`
}

// proofreadRequest is the body for POST /proofread.
type proofreadRequest struct {
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
}

// proofreadResult carries the corrected text.
type proofreadResult struct {
	Text string `json:"text"`
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateSession),
		errors.Is(err, models.ErrSessionCompleted),
		errors.Is(err, models.ErrSessionNotActive):
		return http.StatusConflict
	case errors.Is(err, models.ErrEmptySessionID),
		errors.Is(err, models.ErrSessionIDTooLong),
		errors.Is(err, models.ErrEmptyAnswer),
		errors.Is(err, models.ErrAnswerTooLong),
		errors.Is(err, models.ErrEmptyProofreadText),
		errors.Is(err, models.ErrCatalogLoad),
		errors.Is(err, models.ErrEmptyCatalog):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrAITimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrAICallFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// createSessionHandler handles POST /sessions
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.createSessionHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	question, err := s.orch.InitializeSession(r.Context(), req.SessionID, req.BookID)
	if err != nil {
		slog.Warn("Server.createSessionHandler: initialization failed", "sessionID", req.SessionID, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	slog.Info("Server.createSessionHandler: session created", "sessionID", req.SessionID, "bookID", req.BookID)
	writeJSONResponse(w, http.StatusCreated, models.Success(createSessionResult{
		SessionID: req.SessionID,
		Question:  question,
	}))
}

// submitAnswerHandler handles POST /sessions/{id}/answers
func (s *Server) submitAnswerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	sessionID := r.PathValue("id")

	var req submitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.submitAnswerHandler: invalid JSON", "sessionID", sessionID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	question, err := s.orch.SubmitAnswer(r.Context(), sessionID, req.Answer)
	if err != nil {
		slog.Warn("Server.submitAnswerHandler: answer rejected", "sessionID", sessionID, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(question))
}

// progressHandler handles GET /sessions/{id}/progress
func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	snapshot, err := s.orch.GetProgress(r.Context(), sessionID)
	if err != nil {
		slog.Warn("Server.progressHandler: progress lookup failed", "sessionID", sessionID, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(snapshot))
}

// listAnswersHandler handles GET /sessions/{id}/answers
func (s *Server) listAnswersHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	// Verify the session exists so an unknown id is a 404, not an empty list.
	if _, err := s.orch.GetProgress(r.Context(), sessionID); err != nil {
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	answers, err := s.orch.Answers(r.Context(), sessionID)
	if err != nil {
		slog.Error("Server.listAnswersHandler: listing failed", "sessionID", sessionID, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(answers))
}

// abandonHandler handles POST /sessions/{id}/abandon
func (s *Server) abandonHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if err := s.orch.Abandon(r.Context(), sessionID); err != nil {
		slog.Warn("Server.abandonHandler: abandon failed", "sessionID", sessionID, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session abandoned", nil))
}

// reseedCatalogHandler handles POST /admin/catalog/reseed
func (s *Server) reseedCatalogHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req reseedCatalogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.reseedCatalogHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	cat, err := s.orch.ReseedCatalog(r.Context(), req.Chapters)
	if err != nil {
		slog.Warn("Server.reseedCatalogHandler: reseed rejected", "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	slog.Info("Server.reseedCatalogHandler: catalog reseeded",
		"chapters", cat.ChapterCount(), "templates", cat.TotalTemplates())
	writeJSONResponse(w, http.StatusOK, models.Success(reseedCatalogResult{
		Chapters:  cat.ChapterCount(),
		Templates: cat.TotalTemplates(),
	}))
}

// proofreadHandler handles POST /proofread
func (s *Server) proofreadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if s.ai == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Proofreading is not configured"))
		return
	}

	var req proofreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.proofreadHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	corrected, err := s.ai.Proofread(r.Context(), req.Text, req.Category)
	if err != nil {
		slog.Warn("Server.proofreadHandler: proofread failed", "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(proofreadResult{Text: corrected}))
}

// healthHandler handles GET /health
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}
