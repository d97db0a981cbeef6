package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pavelanni/cbt/internal/bank"
	"github.com/pavelanni/cbt/internal/model"
)

const questionColumns = `id, subject_id, type, text, options, correct_answer, marks, difficulty, is_active, version, supersedes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(r rowScanner) (model.Question, error) {
	var q model.Question
	var opts string
	err := r.Scan(&q.ID, &q.SubjectID, &q.Type, &q.Text, &opts, &q.CorrectAnswer,
		&q.Marks, &q.Difficulty, &q.Active, &q.Version, &q.Supersedes)
	if err != nil {
		return q, err
	}
	if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
		return q, fmt.Errorf("question %d options: %w", q.ID, err)
	}
	if len(q.Options) == 0 {
		q.Options = nil
	}
	return q, nil
}

func encodeOptions(opts []model.Option) (string, error) {
	if opts == nil {
		opts = []model.Option{}
	}
	b, err := json.Marshal(opts)
	return string(b), err
}

// InsertQuestion stores a question.
func (s *Store) InsertQuestion(ctx context.Context, q model.Question) (int64, error) {
	opts, err := encodeOptions(q.Options)
	if err != nil {
		return 0, err
	}
	if q.Version == 0 {
		q.Version = 1
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO questions (subject_id, type, text, options, correct_answer, marks, difficulty, is_active, version, supersedes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.SubjectID, q.Type, q.Text, opts, q.CorrectAnswer, q.Marks, q.Difficulty, q.Active, q.Version, q.Supersedes,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(ctx context.Context, id int64) (model.Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return q, model.ErrNotFound
	}
	return q, err
}

// ListQuestions returns questions, optionally restricted to one subject and
// difficulty. Zero values mean no filtering on that field.
func (s *Store) ListQuestions(ctx context.Context, subjectID int64, difficulty model.Difficulty) ([]model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE 1=1`
	var args []any
	if subjectID != 0 {
		query += ` AND subject_id = ?`
		args = append(args, subjectID)
	}
	if difficulty != "" {
		query += ` AND difficulty = ?`
		args = append(args, difficulty)
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// QuestionsByID loads the given questions keyed by id. Missing ids are
// simply absent from the map.
func (s *Store) QuestionsByID(ctx context.Context, ids []int64) (map[int64]model.Question, error) {
	out := make(map[int64]model.Question, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	in, args := inClause(ids)
	rows, err := s.db.QueryContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id IN (`+in+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out[q.ID] = q
	}
	return out, rows.Err()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// questionReferenced reports whether any attempt has been started on an exam
// that uses the question.
func questionReferenced(ctx context.Context, q querier, id int64) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM exam_questions eq
		 JOIN attempts a ON a.exam_id = eq.exam_id
		 WHERE eq.question_id = ?`, id,
	).Scan(&n)
	return n > 0, err
}

// ReviseQuestion applies next to question id. An unreferenced question, or a
// referenced one whose grading fields are unchanged, is updated in place.
// Otherwise the old row keeps its grading fields: the revision is stored as a
// new row with Version+1 that Supersedes it, and the old row is deactivated
// so new exams pick up the revision.
func (s *Store) ReviseQuestion(ctx context.Context, id int64, next model.Question) (model.Question, error) {
	opts, err := encodeOptions(next.Options)
	if err != nil {
		return model.Question{}, err
	}
	var out model.Question
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := scanQuestion(tx.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrNotFound
		}
		if err != nil {
			return err
		}
		referenced, err := questionReferenced(ctx, tx, id)
		if err != nil {
			return err
		}

		next.SubjectID = cur.SubjectID
		if !referenced || !bank.GradingChanged(cur, next) {
			_, err := tx.ExecContext(ctx,
				`UPDATE questions SET type = ?, text = ?, options = ?, correct_answer = ?, marks = ?, difficulty = ?, is_active = ?
				 WHERE id = ?`,
				next.Type, next.Text, opts, next.CorrectAnswer, next.Marks, next.Difficulty, next.Active, id,
			)
			next.ID, next.Version, next.Supersedes = id, cur.Version, cur.Supersedes
			out = next
			return err
		}

		next.Version = cur.Version + 1
		next.Supersedes = &cur.ID
		res, err := tx.ExecContext(ctx,
			`INSERT INTO questions (subject_id, type, text, options, correct_answer, marks, difficulty, is_active, version, supersedes)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			next.SubjectID, next.Type, next.Text, opts, next.CorrectAnswer, next.Marks, next.Difficulty, next.Active, next.Version, next.Supersedes,
		)
		if err != nil {
			return err
		}
		if next.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE questions SET is_active = 0 WHERE id = ?`, id); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

// QuestionCount returns the number of questions in the database.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}
