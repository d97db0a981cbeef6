package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pavelanni/cbt/internal/exam"
	"github.com/pavelanni/cbt/internal/model"
)

func (h *Handler) handleManageListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.engine.ListExams(r.Context(), 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var d exam.Draft
	if !decodeJSON(w, r, &d) {
		return
	}
	v, err := h.engine.CreateExam(r.Context(), d, model.UserFromContext(r.Context()).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handler) handleManageGetExam(w http.ResponseWriter, r *http.Request) {
	examID, ok := idParam(w, r, "examID")
	if !ok {
		return
	}
	v, err := h.engine.GetExam(r.Context(), examID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handlePublishExam(w http.ResponseWriter, r *http.Request) {
	h.setPublished(w, r, h.engine.PublishExam)
}

func (h *Handler) handleUnpublishExam(w http.ResponseWriter, r *http.Request) {
	h.setPublished(w, r, h.engine.UnpublishExam)
}

func (h *Handler) setPublished(w http.ResponseWriter, r *http.Request, apply func(context.Context, int64) error) {
	examID, ok := idParam(w, r, "examID")
	if !ok {
		return
	}
	if err := apply(r.Context(), examID); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.engine.GetExam(r.Context(), examID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("exam publication changed", "exam_id", examID, "published", v.Published)
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleCloneExam(w http.ResponseWriter, r *http.Request) {
	examID, ok := idParam(w, r, "examID")
	if !ok {
		return
	}
	v, err := h.engine.CloneExam(r.Context(), examID, model.UserFromContext(r.Context()).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handler) handleRanking(w http.ResponseWriter, r *http.Request) {
	examID, ok := idParam(w, r, "examID")
	if !ok {
		return
	}
	ranking, err := h.engine.GetCohortRanking(r.Context(), examID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranking)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	examID, ok := idParam(w, r, "examID")
	if !ok {
		return
	}
	export, err := h.engine.ExportExam(r.Context(), examID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	for i := range export.Results {
		export.Results[i].Remark = remark(r.Context(), export.Results[i].Percentage)
	}
	writeJSON(w, http.StatusOK, export)
}

func (h *Handler) handleManageAttemptResult(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := idParam(w, r, "attemptID")
	if !ok {
		return
	}
	h.writeResult(w, r, func(ctx context.Context) (model.Result, error) {
		return h.engine.GetAttemptResult(ctx, attemptID)
	})
}

type gradeRequest struct {
	Marks *float64 `json:"marks"`
}

func (h *Handler) handleGradeEssay(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := idParam(w, r, "attemptID")
	if !ok {
		return
	}
	questionID, ok := idParam(w, r, "questionID")
	if !ok {
		return
	}
	var req gradeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Marks == nil {
		writeError(w, r, model.NewValidationError(model.FieldError{Field: "marks", Error: "this field is required"}))
		return
	}
	grader := model.UserFromContext(r.Context()).ID
	h.writeResult(w, r, func(ctx context.Context) (model.Result, error) {
		return h.engine.GradeEssay(ctx, attemptID, questionID, *req.Marks, grader)
	})
}

func (h *Handler) handleSuggestEssay(w http.ResponseWriter, r *http.Request) {
	if h.llm == nil {
		writeMessage(w, r, http.StatusServiceUnavailable, "LLMUnavailable")
		return
	}
	attemptID, ok := idParam(w, r, "attemptID")
	if !ok {
		return
	}
	questionID, ok := idParam(w, r, "questionID")
	if !ok {
		return
	}

	a, err := h.engine.GetAttempt(r.Context(), attemptID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !a.Status.Terminal() {
		writeError(w, r, model.ErrAttemptNotFinished)
		return
	}
	if _, ok := a.Item(questionID); !ok {
		writeError(w, r, model.ErrQuestionNotInAttempt)
		return
	}
	q, err := h.store.GetQuestion(r.Context(), questionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if q.Type != model.QuestionEssay {
		writeError(w, r, model.ErrNotEssay)
		return
	}

	var answer string
	if ans, ok := a.Answers[questionID]; ok && ans.AnswerText != nil {
		answer = *ans.AnswerText
	}
	s, err := h.llm.SuggestEssayScore(r.Context(), q, answer)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		slog.Error("essay suggestion failed", "attempt_id", attemptID, "question_id", questionID, "error", err)
		writeMessage(w, r, http.StatusBadGateway, "InternalError")
		return
	}
	if err := h.store.SaveEssaySuggestion(r.Context(), attemptID, questionID, s.Marks, s.Feedback); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleStudentTermSummary(w http.ResponseWriter, r *http.Request) {
	studentID, ok := idParam(w, r, "studentID")
	if !ok {
		return
	}
	termID, ok := idParam(w, r, "termID")
	if !ok {
		return
	}
	h.writeTermSummary(w, r, studentID, termID)
}
