package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/cbt/internal/model"
)

const attemptColumns = `id, exam_id, student_id, attempt_number, status, start_time, deadline, submitted_at,
	time_taken_seconds, presentation, pending_manual_grading, graded_at`

func scanAttempt(r rowScanner) (model.Attempt, error) {
	var a model.Attempt
	var pres string
	err := r.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.AttemptNumber, &a.Status, &a.StartTime, &a.Deadline,
		&a.SubmittedAt, &a.TimeTakenSeconds, &pres, &a.PendingManualGrading, &a.GradedAt)
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal([]byte(pres), &a.Presentation); err != nil {
		return a, fmt.Errorf("attempt %d presentation: %w", a.ID, err)
	}
	return a, nil
}

// CreateAttempt inserts a new in-progress attempt. The slot checks are
// repeated inside the transaction: an existing in-progress attempt or a
// taken attempt number yields ErrAttemptAlreadyInProgress, a full quota
// yields ErrAttemptLimitExceeded.
func (s *Store) CreateAttempt(ctx context.Context, a model.Attempt, attemptsAllowed int) (int64, error) {
	pres, err := json.Marshal(a.Presentation)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var used, inProgress int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*), COALESCE(SUM(status = 'in_progress'), 0) FROM attempts WHERE exam_id = ? AND student_id = ?`,
			a.ExamID, a.StudentID,
		).Scan(&used, &inProgress)
		if err != nil {
			return err
		}
		switch {
		case inProgress > 0:
			return model.ErrAttemptAlreadyInProgress
		case used >= attemptsAllowed:
			return model.ErrAttemptLimitExceeded
		case used+1 != a.AttemptNumber:
			return model.ErrAttemptAlreadyInProgress
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO attempts (exam_id, student_id, attempt_number, status, start_time, deadline, presentation)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ExamID, a.StudentID, a.AttemptNumber, model.StatusInProgress, a.StartTime.UTC(), a.Deadline.UTC(), string(pres),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if isUniqueViolation(err) {
		return 0, model.ErrAttemptAlreadyInProgress
	}
	return id, err
}

// GetAttempt returns an attempt with its answers.
func (s *Store) GetAttempt(ctx context.Context, id int64) (model.Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return a, model.ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Answers, err = s.answers(ctx, id)
	return a, err
}

func (s *Store) answers(ctx context.Context, attemptID int64) (map[int64]model.Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id, answer_text, selected_option, is_correct, marks_obtained, manually_graded,
			graded_by, suggested_marks, suggested_feedback, updated_at
		 FROM answers WHERE attempt_id = ?`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]model.Answer)
	for rows.Next() {
		var ans model.Answer
		if err := rows.Scan(&ans.QuestionID, &ans.AnswerText, &ans.SelectedOption, &ans.IsCorrect,
			&ans.MarksObtained, &ans.ManuallyGraded, &ans.GradedBy, &ans.SuggestedMarks,
			&ans.SuggestedFeedback, &ans.UpdatedAt); err != nil {
			return nil, err
		}
		out[ans.QuestionID] = ans
	}
	return out, rows.Err()
}

func (s *Store) listAttempts(ctx context.Context, withAnswers bool, where string, args ...any) ([]model.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+attemptColumns+` FROM attempts `+where, args...)
	if err != nil {
		return nil, err
	}
	var out []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if withAnswers {
		for i := range out {
			if out[i].Answers, err = s.answers(ctx, out[i].ID); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// ListAttempts returns a student's attempts at an exam in attempt order,
// without answers.
func (s *Store) ListAttempts(ctx context.Context, examID, studentID int64) ([]model.Attempt, error) {
	return s.listAttempts(ctx, false,
		`WHERE exam_id = ? AND student_id = ? ORDER BY attempt_number`, examID, studentID)
}

// ListInProgress returns every in-progress attempt. With autoSubmitOnly, only
// attempts on exams that have auto_submit set are returned.
func (s *Store) ListInProgress(ctx context.Context, autoSubmitOnly bool) ([]model.Attempt, error) {
	where := `WHERE status = 'in_progress'`
	if autoSubmitOnly {
		where += ` AND exam_id IN (SELECT id FROM exams WHERE auto_submit = 1)`
	}
	return s.listAttempts(ctx, false, where+` ORDER BY id`)
}

// ListGradedAttempts returns every graded attempt at an exam with answers.
func (s *Store) ListGradedAttempts(ctx context.Context, examID int64) ([]model.Attempt, error) {
	return s.listAttempts(ctx, true,
		`WHERE exam_id = ? AND status = 'graded' ORDER BY student_id, attempt_number`, examID)
}

// ListStudentGradedAttempts returns a student's graded attempts at the exams
// of one term, with answers.
func (s *Store) ListStudentGradedAttempts(ctx context.Context, studentID, termID int64) ([]model.Attempt, error) {
	return s.listAttempts(ctx, true,
		`WHERE student_id = ? AND status = 'graded'
			AND exam_id IN (SELECT id FROM exams WHERE term_id = ?)
		 ORDER BY exam_id, attempt_number`, studentID, termID)
}

// CloseAttempt moves an in-progress attempt to submitted or expired. It
// reports false when the attempt was no longer in progress.
func (s *Store) CloseAttempt(ctx context.Context, id int64, status model.AttemptStatus, submittedAt *time.Time, timeTaken time.Duration) (bool, error) {
	var at *time.Time
	if submittedAt != nil {
		t := submittedAt.UTC()
		at = &t
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE attempts SET status = ?, submitted_at = ?, time_taken_seconds = ?
		 WHERE id = ? AND status = 'in_progress'`,
		status, at, int64(timeTaken/time.Second), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SaveAnswer upserts a student's answer. It fails with ErrAttemptClosed
// unless the attempt is still in progress.
func (s *Store) SaveAnswer(ctx context.Context, attemptID int64, ans model.Answer, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (attempt_id, question_id, answer_text, selected_option, updated_at)
		 SELECT ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM attempts WHERE id = ? AND status = 'in_progress')
		 ON CONFLICT(attempt_id, question_id) DO UPDATE SET
			answer_text = excluded.answer_text,
			selected_option = excluded.selected_option,
			updated_at = excluded.updated_at`,
		attemptID, ans.QuestionID, ans.AnswerText, ans.SelectedOption, at.UTC(), attemptID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return model.ErrAttemptClosed
	}
	return nil
}

// SaveGrades stores per-answer scores and marks a closed attempt graded.
// Manually graded answers are left as they are.
func (s *Store) SaveGrades(ctx context.Context, attemptID int64, answers map[int64]model.Answer, pending bool, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for qid, ans := range answers {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO answers (attempt_id, question_id, is_correct, marks_obtained)
				 VALUES (?, ?, ?, ?)
				 ON CONFLICT(attempt_id, question_id) DO UPDATE SET
					is_correct = excluded.is_correct,
					marks_obtained = excluded.marks_obtained
				 WHERE answers.manually_graded = 0`,
				attemptID, qid, ans.IsCorrect, ans.MarksObtained,
			); err != nil {
				return fmt.Errorf("save grade for question %d: %w", qid, err)
			}
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE attempts SET status = 'graded', pending_manual_grading = ?, graded_at = ?
			 WHERE id = ? AND status IN ('submitted', 'expired', 'graded')`,
			pending, at.UTC(), attemptID,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("attempt %d is not closed", attemptID)
		}
		return nil
	})
}

// SetManualGrade records a teacher's marks for one answer.
func (s *Store) SetManualGrade(ctx context.Context, attemptID, questionID int64, marks float64, correct bool, gradedBy int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (attempt_id, question_id, is_correct, marks_obtained, manually_graded, graded_by, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(attempt_id, question_id) DO UPDATE SET
			is_correct = excluded.is_correct,
			marks_obtained = excluded.marks_obtained,
			manually_graded = 1,
			graded_by = excluded.graded_by,
			updated_at = excluded.updated_at`,
		attemptID, questionID, correct, marks, gradedBy, at.UTC(),
	)
	return err
}

// SaveEssaySuggestion stores an advisory score. It never affects marks.
func (s *Store) SaveEssaySuggestion(ctx context.Context, attemptID, questionID int64, marks float64, feedback string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (attempt_id, question_id, suggested_marks, suggested_feedback)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(attempt_id, question_id) DO UPDATE SET
			suggested_marks = excluded.suggested_marks,
			suggested_feedback = excluded.suggested_feedback`,
		attemptID, questionID, marks, feedback,
	)
	return err
}
