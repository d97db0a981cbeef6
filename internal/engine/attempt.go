package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pavelanni/cbt/internal/exam"
	"github.com/pavelanni/cbt/internal/grading"
	"github.com/pavelanni/cbt/internal/model"
	"github.com/pavelanni/cbt/internal/shuffle"
)

// StartAttempt opens a new attempt for a student. An overdue attempt left in
// progress is expired first.
func (e *Engine) StartAttempt(ctx context.Context, examID, studentID int64) (model.Attempt, error) {
	unlock := e.lockSlot(examID, studentID)
	defer unlock()

	def, err := e.repo.GetExam(ctx, examID)
	if err != nil {
		return model.Attempt{}, fmt.Errorf("get exam %d: %w", examID, err)
	}

	attempts, err := e.repo.ListAttempts(ctx, examID, studentID)
	if err != nil {
		return model.Attempt{}, err
	}
	for _, a := range attempts {
		if a.Status != model.StatusInProgress {
			continue
		}
		if _, err := e.ExpireAttempt(ctx, a.ID); err != nil {
			return model.Attempt{}, err
		}
	}
	if attempts, err = e.repo.ListAttempts(ctx, examID, studentID); err != nil {
		return model.Attempt{}, err
	}

	now := e.now()
	for _, a := range attempts {
		if a.Status == model.StatusInProgress {
			return model.Attempt{}, model.ErrAttemptAlreadyInProgress
		}
	}
	if exam.RemainingAttempts(def, attempts) == 0 {
		return model.Attempt{}, model.ErrAttemptLimitExceeded
	}
	if !exam.IsOpen(def, now) {
		return model.Attempt{}, model.ErrExamClosed
	}

	questions, err := e.repo.QuestionsByID(ctx, def.QuestionIDs)
	if err != nil {
		return model.Attempt{}, err
	}
	n := len(attempts) + 1
	a := model.Attempt{
		ExamID:        examID,
		StudentID:     studentID,
		AttemptNumber: n,
		Status:        model.StatusInProgress,
		StartTime:     now,
		Deadline:      now.Add(def.Duration()),
		Presentation:  shuffle.Present(def, questions, shuffle.SeedFor(examID, studentID, n)),
		Answers:       map[int64]model.Answer{},
	}
	if a.ID, err = e.repo.CreateAttempt(ctx, a, def.AttemptsAllowed); err != nil {
		return model.Attempt{}, err
	}
	slog.Info("attempt started", "attempt_id", a.ID, "exam_id", examID, "student_id", studentID, "attempt_number", n)
	return a, nil
}

// GetAttempt returns an attempt, expiring it first if its deadline passed.
func (e *Engine) GetAttempt(ctx context.Context, attemptID int64) (model.Attempt, error) {
	unlock := e.lockAttempt(attemptID)
	defer unlock()
	return e.loadFresh(ctx, attemptID)
}

// loadFresh reads an attempt and applies a pending expiry. Callers hold the
// attempt lock.
func (e *Engine) loadFresh(ctx context.Context, attemptID int64) (model.Attempt, error) {
	a, err := e.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return a, err
	}
	expired, err := e.expireLocked(ctx, a)
	if err != nil || !expired {
		return a, err
	}
	return e.repo.GetAttempt(ctx, attemptID)
}

// RecordAnswer stores a student's answer. For multiple choice questions
// value.Option is the displayed position; it is stored as the authored index.
func (e *Engine) RecordAnswer(ctx context.Context, attemptID, questionID int64, value model.AnswerValue) (model.Answer, error) {
	unlock := e.lockAttempt(attemptID)
	defer unlock()

	a, err := e.loadFresh(ctx, attemptID)
	if err != nil {
		return model.Answer{}, err
	}
	if a.Status != model.StatusInProgress {
		return model.Answer{}, model.ErrAttemptClosed
	}
	item, ok := a.Item(questionID)
	if !ok {
		return model.Answer{}, model.ErrQuestionNotInAttempt
	}

	now := e.now()
	ans := model.Answer{QuestionID: questionID, AnswerText: value.Text, UpdatedAt: &now}
	if value.Option != nil {
		idx := *value.Option
		if len(item.OptionOrder) > 0 {
			var ok bool
			if idx, ok = shuffle.AuthoredIndex(item, idx); !ok {
				return model.Answer{}, model.NewValidationError(model.FieldError{Field: "option", Error: "no such option"})
			}
		}
		ans.SelectedOption = &idx
	}
	if err := e.repo.SaveAnswer(ctx, attemptID, ans, now); err != nil {
		return model.Answer{}, err
	}
	return ans, nil
}

// SubmitAttempt closes an attempt and grades it. Submitting a closed attempt
// is a no-op; a submit after the deadline expires the attempt instead.
func (e *Engine) SubmitAttempt(ctx context.Context, attemptID int64) (model.Attempt, error) {
	unlock := e.lockAttempt(attemptID)
	defer unlock()

	a, err := e.loadFresh(ctx, attemptID)
	if err != nil {
		return a, err
	}
	switch a.Status {
	case model.StatusGraded:
		return a, nil
	case model.StatusSubmitted, model.StatusExpired:
		// Closed but never graded, e.g. after a crash.
		if err := e.grade(ctx, a); err != nil {
			return a, err
		}
		return e.repo.GetAttempt(ctx, attemptID)
	}

	now := e.now()
	closed, err := e.repo.CloseAttempt(ctx, a.ID, model.StatusSubmitted, &now, now.Sub(a.StartTime))
	if err != nil {
		return a, err
	}
	if closed {
		if err := e.grade(ctx, a); err != nil {
			return a, err
		}
		slog.Info("attempt submitted", "attempt_id", a.ID, "exam_id", a.ExamID, "student_id", a.StudentID)
	}
	return e.repo.GetAttempt(ctx, attemptID)
}

// ExpireAttempt closes an in-progress attempt whose deadline has passed and
// grades what was recorded. It reports whether the attempt was expired.
func (e *Engine) ExpireAttempt(ctx context.Context, attemptID int64) (bool, error) {
	unlock := e.lockAttempt(attemptID)
	defer unlock()

	a, err := e.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return false, err
	}
	return e.expireLocked(ctx, a)
}

func (e *Engine) expireLocked(ctx context.Context, a model.Attempt) (bool, error) {
	if a.Status != model.StatusInProgress || !e.now().After(a.Deadline) {
		return false, nil
	}
	def, err := e.repo.GetExam(ctx, a.ExamID)
	if err != nil {
		return false, fmt.Errorf("get exam %d: %w", a.ExamID, err)
	}
	closed, err := e.repo.CloseAttempt(ctx, a.ID, model.StatusExpired, nil, def.Duration())
	if err != nil || !closed {
		return false, err
	}
	if err := e.grade(ctx, a); err != nil {
		return true, err
	}
	slog.Info("attempt expired", "attempt_id", a.ID, "exam_id", a.ExamID, "student_id", a.StudentID)
	return true, nil
}

// grade scores a closed attempt and persists the outcome.
func (e *Engine) grade(ctx context.Context, a model.Attempt) error {
	out, err := e.outcome(ctx, a)
	if err != nil {
		return err
	}
	if err := e.repo.SaveGrades(ctx, a.ID, out.Answers, out.Pending, e.now()); err != nil {
		return fmt.Errorf("save grades for attempt %d: %w", a.ID, err)
	}
	return nil
}

func (e *Engine) outcome(ctx context.Context, a model.Attempt) (grading.Outcome, error) {
	order := a.QuestionIDs()
	questions, err := e.repo.QuestionsByID(ctx, order)
	if err != nil {
		return grading.Outcome{}, err
	}
	return grading.Grade(questions, order, a.Answers), nil
}
