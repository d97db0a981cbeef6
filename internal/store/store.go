package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if dbPath != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: SQLite has a single writer, and :memory: databases
	// are per connection.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS subjects (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS terms (
		id INTEGER PRIMARY KEY,
		session TEXT NOT NULL,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS classrooms (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		classroom_id INTEGER,
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id),
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		text TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		correct_answer TEXT NOT NULL DEFAULT '',
		marks INTEGER NOT NULL,
		difficulty TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		version INTEGER NOT NULL DEFAULT 1,
		supersedes INTEGER REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS exams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		subject_id INTEGER NOT NULL,
		term_id INTEGER NOT NULL,
		duration_minutes INTEGER NOT NULL,
		start_time DATETIME NOT NULL,
		end_time DATETIME NOT NULL,
		attempts_allowed INTEGER NOT NULL DEFAULT 1,
		shuffle_questions INTEGER NOT NULL DEFAULT 0,
		shuffle_options INTEGER NOT NULL DEFAULT 0,
		show_results INTEGER NOT NULL DEFAULT 0,
		allow_review INTEGER NOT NULL DEFAULT 0,
		enable_proctoring INTEGER NOT NULL DEFAULT 0,
		auto_submit INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		is_published INTEGER NOT NULL DEFAULT 0,
		created_by INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS exam_questions (
		exam_id INTEGER NOT NULL REFERENCES exams(id),
		question_id INTEGER NOT NULL REFERENCES questions(id),
		seq INTEGER NOT NULL,
		PRIMARY KEY (exam_id, question_id)
	);

	CREATE TABLE IF NOT EXISTS exam_classrooms (
		exam_id INTEGER NOT NULL REFERENCES exams(id),
		classroom_id INTEGER NOT NULL,
		PRIMARY KEY (exam_id, classroom_id)
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL REFERENCES exams(id),
		student_id INTEGER NOT NULL,
		attempt_number INTEGER NOT NULL,
		status TEXT NOT NULL,
		start_time DATETIME NOT NULL,
		deadline DATETIME NOT NULL,
		submitted_at DATETIME,
		time_taken_seconds INTEGER NOT NULL DEFAULT 0,
		presentation TEXT NOT NULL,
		pending_manual_grading INTEGER NOT NULL DEFAULT 0,
		graded_at DATETIME,
		UNIQUE (exam_id, student_id, attempt_number)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS attempts_one_in_progress
		ON attempts (exam_id, student_id) WHERE status = 'in_progress';

	CREATE TABLE IF NOT EXISTS answers (
		attempt_id INTEGER NOT NULL REFERENCES attempts(id),
		question_id INTEGER NOT NULL,
		answer_text TEXT,
		selected_option INTEGER,
		is_correct INTEGER,
		marks_obtained REAL,
		manually_graded INTEGER NOT NULL DEFAULT 0,
		graded_by INTEGER,
		suggested_marks REAL,
		suggested_feedback TEXT NOT NULL DEFAULT '',
		updated_at DATETIME,
		PRIMARY KEY (attempt_id, question_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// isUniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// inClause returns "?, ?, ?" for n placeholders and the matching args.
func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
