package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pavelanni/cbt/internal/model"
)

const examColumns = `id, title, subject_id, term_id, duration_minutes, start_time, end_time, attempts_allowed,
	shuffle_questions, shuffle_options, show_results, allow_review, enable_proctoring, auto_submit,
	is_active, is_published, created_by`

func scanExam(r rowScanner) (model.ExamDefinition, error) {
	var e model.ExamDefinition
	err := r.Scan(&e.ID, &e.Title, &e.SubjectID, &e.TermID, &e.DurationMinutes, &e.StartTime, &e.EndTime,
		&e.AttemptsAllowed, &e.ShuffleQuestions, &e.ShuffleOptions, &e.ShowResultsAfterSubmission,
		&e.AllowReview, &e.EnableProctoring, &e.AutoSubmit, &e.Active, &e.Published, &e.CreatedBy)
	return e, err
}

// CreateExam stores an exam with its ordered questions and classrooms.
func (s *Store) CreateExam(ctx context.Context, e model.ExamDefinition) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO exams (title, subject_id, term_id, duration_minutes, start_time, end_time, attempts_allowed,
				shuffle_questions, shuffle_options, show_results, allow_review, enable_proctoring, auto_submit,
				is_active, is_published, created_by)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Title, e.SubjectID, e.TermID, e.DurationMinutes, e.StartTime.UTC(), e.EndTime.UTC(), e.AttemptsAllowed,
			e.ShuffleQuestions, e.ShuffleOptions, e.ShowResultsAfterSubmission, e.AllowReview, e.EnableProctoring,
			e.AutoSubmit, e.Active, e.Published, e.CreatedBy,
		)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		for i, qid := range e.QuestionIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO exam_questions (exam_id, question_id, seq) VALUES (?, ?, ?)`, id, qid, i,
			); err != nil {
				return err
			}
		}
		for _, cid := range e.ClassroomIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO exam_classrooms (exam_id, classroom_id) VALUES (?, ?)`, id, cid,
			); err != nil {
				return err
			}
		}
		return nil
	})
	return id, err
}

// GetExam returns an exam with its question and classroom lists.
func (s *Store) GetExam(ctx context.Context, id int64) (model.ExamDefinition, error) {
	e, err := scanExam(s.db.QueryRowContext(ctx, `SELECT `+examColumns+` FROM exams WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return e, model.ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if err := s.loadExamLists(ctx, &e); err != nil {
		return e, err
	}
	return e, nil
}

func (s *Store) loadExamLists(ctx context.Context, e *model.ExamDefinition) error {
	var err error
	e.QuestionIDs, err = s.int64s(ctx, `SELECT question_id FROM exam_questions WHERE exam_id = ? ORDER BY seq`, e.ID)
	if err != nil {
		return err
	}
	e.ClassroomIDs, err = s.int64s(ctx, `SELECT classroom_id FROM exam_classrooms WHERE exam_id = ? ORDER BY classroom_id`, e.ID)
	return err
}

func (s *Store) int64s(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListExams returns every exam, newest first. A non-zero classroomID limits
// the list to published, active exams open to that classroom.
func (s *Store) ListExams(ctx context.Context, classroomID int64) ([]model.ExamDefinition, error) {
	query := `SELECT ` + examColumns + ` FROM exams`
	var args []any
	if classroomID != 0 {
		query += ` WHERE is_published = 1 AND is_active = 1
			AND id IN (SELECT exam_id FROM exam_classrooms WHERE classroom_id = ?)`
		args = append(args, classroomID)
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var exams []model.ExamDefinition
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		exams = append(exams, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range exams {
		if err := s.loadExamLists(ctx, &exams[i]); err != nil {
			return nil, err
		}
	}
	return exams, nil
}

// SetExamPublished flips the publication flag.
func (s *Store) SetExamPublished(ctx context.Context, id int64, published bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE exams SET is_published = ? WHERE id = ?`, published, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return model.ErrNotFound
	}
	return nil
}
