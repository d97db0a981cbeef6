// Package handler exposes the exam engine as a JSON API behind cookie
// sessions.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/cbt/internal/engine"
	appI18n "github.com/pavelanni/cbt/internal/i18n"
	"github.com/pavelanni/cbt/internal/llm"
	"github.com/pavelanni/cbt/internal/model"
	"github.com/pavelanni/cbt/internal/result"
	"github.com/pavelanni/cbt/internal/store"
)

const maxBodyBytes = 1 << 20

// Suggester proposes a mark for an essay answer.
type Suggester interface {
	SuggestEssayScore(ctx context.Context, q model.Question, answer string) (llm.Suggestion, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	engine *engine.Engine
	llm    Suggester
	config model.ServerConfig
}

// New creates a new Handler. A nil suggester disables essay suggestions.
func New(s *store.Store, e *engine.Engine, l Suggester, cfg model.ServerConfig) *Handler {
	return &Handler{store: s, engine: e, llm: l, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.csrfMiddleware)
	r.Get("/healthz", h.handleHealthz)
	r.Post("/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleStudent))
			r.Get("/exams", h.handleListExams)
			r.Post("/exams/{examID}/attempts", h.handleStartAttempt)
			r.Get("/attempts/{attemptID}", h.handleGetAttempt)
			r.Put("/attempts/{attemptID}/answers/{questionID}", h.handleRecordAnswer)
			r.Post("/attempts/{attemptID}/submit", h.handleSubmitAttempt)
			r.Get("/attempts/{attemptID}/result", h.handleAttemptResult)
			r.Get("/me/terms/{termID}/summary", h.handleMyTermSummary)
			r.Get("/me/sessions/{session}/summary", h.handleMySessionSummary)
		})

		r.Route("/manage", func(r chi.Router) {
			r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
			r.Get("/exams", h.handleManageListExams)
			r.Post("/exams", h.handleCreateExam)
			r.Get("/exams/{examID}", h.handleManageGetExam)
			r.Post("/exams/{examID}/publish", h.handlePublishExam)
			r.Post("/exams/{examID}/unpublish", h.handleUnpublishExam)
			r.Post("/exams/{examID}/clone", h.handleCloneExam)
			r.Get("/exams/{examID}/ranking", h.handleRanking)
			r.Get("/exams/{examID}/export", h.handleExport)
			r.Get("/attempts/{attemptID}/result", h.handleManageAttemptResult)
			r.Post("/attempts/{attemptID}/answers/{questionID}/grade", h.handleGradeEssay)
			r.Post("/attempts/{attemptID}/answers/{questionID}/suggest", h.handleSuggestEssay)
			r.Get("/students/{studentID}/terms/{termID}/summary", h.handleStudentTermSummary)
			r.Get("/questions", h.handleListQuestions)
			r.Post("/questions", h.handleUploadQuestions)
			r.Put("/questions/{questionID}", h.handleReviseQuestion)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Get("/users", h.handleListUsers)
			r.Post("/users", h.handleCreateUser)
			r.Post("/users/{userID}/toggle", h.handleToggleUserActive)
		})
	})
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"languages": appI18n.Languages(),
	})
}

// errorStatus maps engine errors to HTTP statuses and message ids.
var errorStatus = []struct {
	err    error
	status int
	msgID  string
}{
	{model.ErrNotFound, http.StatusNotFound, "ErrNotFound"},
	{model.ErrQuestionNotInAttempt, http.StatusNotFound, "ErrQuestionNotInAttempt"},
	{model.ErrAlreadyExists, http.StatusConflict, "ErrAlreadyExists"},
	{model.ErrAttemptLimitExceeded, http.StatusConflict, "ErrAttemptLimitExceeded"},
	{model.ErrAttemptAlreadyInProgress, http.StatusConflict, "ErrAttemptAlreadyInProgress"},
	{model.ErrAttemptClosed, http.StatusConflict, "ErrAttemptClosed"},
	{model.ErrAttemptNotFinished, http.StatusConflict, "ErrAttemptNotFinished"},
	{model.ErrExamClosed, http.StatusForbidden, "ErrExamClosed"},
	{model.ErrResultsHidden, http.StatusForbidden, "ErrResultsHidden"},
	{model.ErrNotEssay, http.StatusUnprocessableEntity, "ErrNotEssay"},
}

type errorBody struct {
	Error  string             `json:"error"`
	Code   string             `json:"code"`
	Fields []model.FieldError `json:"fields,omitempty"`
}

// writeError renders err as a localized JSON error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:  appI18n.T(r.Context(), "ErrValidation"),
			Code:   "ErrValidation",
			Fields: verr.Fields,
		})
		return
	}
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			writeMessage(w, r, e.status, e.msgID)
			return
		}
	}
	slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeMessage(w, r, http.StatusInternalServerError, "InternalError")
}

// writeMessage writes a localized error for msgID.
func writeMessage(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, errorBody{Error: appI18n.T(r.Context(), msgID), Code: msgID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// decodeJSON reads a JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		slog.Debug("invalid request body", "path", r.URL.Path, "error", err)
		writeMessage(w, r, http.StatusBadRequest, "BadRequest")
		return false
	}
	return true
}

// idParam parses a positive integer URL parameter, writing a 400 on failure.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeMessage(w, r, http.StatusBadRequest, "BadRequest")
		return 0, false
	}
	return id, true
}

// remark is the grade remark for a percentage in the request's language.
func remark(ctx context.Context, percentage float64) string {
	return appI18n.T(ctx, result.Classify(percentage).RemarkID)
}

func localizeResult(ctx context.Context, res *model.Result) {
	res.Remark = remark(ctx, res.Percentage)
}

func localizeTerm(ctx context.Context, ts *model.TermSummary) {
	ts.Remark = remark(ctx, ts.AveragePercent)
}

func localizeSession(ctx context.Context, ss *model.SessionSummary) {
	ss.Remark = remark(ctx, ss.AveragePercent)
	for i := range ss.Terms {
		localizeTerm(ctx, &ss.Terms[i])
	}
}
