package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/cbt/internal/engine"
	"github.com/pavelanni/cbt/internal/exam"
	"github.com/pavelanni/cbt/internal/model"
	"github.com/pavelanni/cbt/internal/shuffle"
)

// questionView is a question as a student sees it during an attempt: options
// in displayed order, no answer key.
type questionView struct {
	ID      int64              `json:"id"`
	Type    model.QuestionType `json:"type"`
	Text    string             `json:"text"`
	Marks   int                `json:"marks"`
	Options []string           `json:"options,omitempty"`
	Answer  *answerView        `json:"answer,omitempty"`
}

// answerView carries the displayed option position, never the authored one.
type answerView struct {
	Text   *string `json:"text,omitempty"`
	Option *int    `json:"option,omitempty"`
}

type attemptView struct {
	ID            int64               `json:"id"`
	ExamID        int64               `json:"exam_id"`
	AttemptNumber int                 `json:"attempt_number"`
	Status        model.AttemptStatus `json:"status"`
	StartTime     time.Time           `json:"start_time"`
	Deadline      time.Time           `json:"deadline"`
	SubmittedAt   *time.Time          `json:"submitted_at,omitempty"`
	TimedOut      bool                `json:"timed_out"`
	Questions     []questionView      `json:"questions"`
}

func (h *Handler) studentAttemptView(ctx context.Context, a model.Attempt) (attemptView, error) {
	questions, err := h.store.QuestionsByID(ctx, a.QuestionIDs())
	if err != nil {
		return attemptView{}, err
	}
	v := attemptView{
		ID:            a.ID,
		ExamID:        a.ExamID,
		AttemptNumber: a.AttemptNumber,
		Status:        a.Status,
		StartTime:     a.StartTime,
		Deadline:      a.Deadline,
		SubmittedAt:   a.SubmittedAt,
		TimedOut:      a.Expired(),
		Questions:     make([]questionView, 0, len(a.Presentation)),
	}
	for _, item := range a.Presentation {
		q, ok := questions[item.QuestionID]
		if !ok {
			continue
		}
		qv := questionView{ID: q.ID, Type: q.Type, Text: q.Text, Marks: q.Marks}
		for _, idx := range item.OptionOrder {
			if idx < len(q.Options) {
				qv.Options = append(qv.Options, q.Options[idx].Text)
			}
		}
		if ans, ok := a.Answers[q.ID]; ok && ans.Answered() {
			av := &answerView{Text: ans.AnswerText}
			if ans.SelectedOption != nil {
				if pos, ok := shuffle.DisplayedIndex(item, *ans.SelectedOption); ok {
					av.Option = &pos
				}
			}
			qv.Answer = av
		}
		v.Questions = append(v.Questions, qv)
	}
	return v, nil
}

// ownAttempt loads an attempt belonging to the current student. Other
// students' attempts are reported as not found.
func (h *Handler) ownAttempt(w http.ResponseWriter, r *http.Request) (model.Attempt, bool) {
	id, ok := idParam(w, r, "attemptID")
	if !ok {
		return model.Attempt{}, false
	}
	a, err := h.engine.GetAttempt(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return model.Attempt{}, false
	}
	if a.StudentID != model.UserFromContext(r.Context()).ID {
		writeError(w, r, model.ErrNotFound)
		return model.Attempt{}, false
	}
	return a, true
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	if user.ClassroomID == nil {
		writeJSON(w, http.StatusOK, []engine.ExamView{})
		return
	}
	exams, err := h.engine.ListExams(r.Context(), *user.ClassroomID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	examID, ok := idParam(w, r, "examID")
	if !ok {
		return
	}
	user := model.UserFromContext(r.Context())

	def, err := h.engine.GetExam(r.Context(), examID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !def.Published || user.ClassroomID == nil || !exam.OpenToClassroom(def.ExamDefinition, *user.ClassroomID) {
		writeError(w, r, model.ErrNotFound)
		return
	}

	a, err := h.engine.StartAttempt(r.Context(), examID, user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.studentAttemptView(r.Context(), a)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handler) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	a, ok := h.ownAttempt(w, r)
	if !ok {
		return
	}
	v, err := h.studentAttemptView(r.Context(), a)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleRecordAnswer(w http.ResponseWriter, r *http.Request) {
	a, ok := h.ownAttempt(w, r)
	if !ok {
		return
	}
	questionID, ok := idParam(w, r, "questionID")
	if !ok {
		return
	}
	var value model.AnswerValue
	if !decodeJSON(w, r, &value) {
		return
	}
	if _, err := h.engine.RecordAnswer(r.Context(), a.ID, questionID, value); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	a, ok := h.ownAttempt(w, r)
	if !ok {
		return
	}
	a, err := h.engine.SubmitAttempt(r.Context(), a.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.studentAttemptView(r.Context(), a)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleAttemptResult(w http.ResponseWriter, r *http.Request) {
	a, ok := h.ownAttempt(w, r)
	if !ok {
		return
	}
	h.writeResult(w, r, func(ctx context.Context) (model.Result, error) {
		return h.engine.GetStudentResult(ctx, a.ID)
	})
}

// writeResult renders a result. A result pending manual grading is still a
// success; the flag in the body tells the client.
func (h *Handler) writeResult(w http.ResponseWriter, r *http.Request, get func(context.Context) (model.Result, error)) {
	res, err := get(r.Context())
	if err != nil && !errors.Is(err, model.ErrPendingManualGrading) {
		writeError(w, r, err)
		return
	}
	localizeResult(r.Context(), &res)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleMyTermSummary(w http.ResponseWriter, r *http.Request) {
	termID, ok := idParam(w, r, "termID")
	if !ok {
		return
	}
	h.writeTermSummary(w, r, model.UserFromContext(r.Context()).ID, termID)
}

func (h *Handler) writeTermSummary(w http.ResponseWriter, r *http.Request, studentID, termID int64) {
	if _, err := h.store.GetTerm(r.Context(), termID); err != nil {
		writeError(w, r, err)
		return
	}
	ts, err := h.engine.GetTermSummary(r.Context(), studentID, termID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	localizeTerm(r.Context(), &ts)
	writeJSON(w, http.StatusOK, ts)
}

func (h *Handler) handleMySessionSummary(w http.ResponseWriter, r *http.Request) {
	// Session names such as "2025/2026" arrive path-escaped.
	session, err := url.PathUnescape(chi.URLParam(r, "session"))
	if err != nil || session == "" {
		writeMessage(w, r, http.StatusBadRequest, "BadRequest")
		return
	}
	ss, err := h.engine.GetSessionSummary(r.Context(), model.UserFromContext(r.Context()).ID, session)
	if err != nil {
		writeError(w, r, err)
		return
	}
	localizeSession(r.Context(), &ss)
	writeJSON(w, http.StatusOK, ss)
}
