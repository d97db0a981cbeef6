// Package engine runs exam attempts: it starts them, records answers, closes
// them on submit or deadline, grades them and derives results. Callers are
// expected to have authenticated the user; the engine re-checks eligibility
// but performs no authorization.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/cbt/internal/model"
)

// Repository is the persistence the engine needs. *store.Store implements it.
type Repository interface {
	GetExam(ctx context.Context, id int64) (model.ExamDefinition, error)
	CreateExam(ctx context.Context, e model.ExamDefinition) (int64, error)
	ListExams(ctx context.Context, classroomID int64) ([]model.ExamDefinition, error)
	SetExamPublished(ctx context.Context, id int64, published bool) error
	QuestionsByID(ctx context.Context, ids []int64) (map[int64]model.Question, error)

	CreateAttempt(ctx context.Context, a model.Attempt, attemptsAllowed int) (int64, error)
	GetAttempt(ctx context.Context, id int64) (model.Attempt, error)
	ListAttempts(ctx context.Context, examID, studentID int64) ([]model.Attempt, error)
	ListInProgress(ctx context.Context, autoSubmitOnly bool) ([]model.Attempt, error)
	ListGradedAttempts(ctx context.Context, examID int64) ([]model.Attempt, error)
	ListStudentGradedAttempts(ctx context.Context, studentID, termID int64) ([]model.Attempt, error)
	CloseAttempt(ctx context.Context, id int64, status model.AttemptStatus, submittedAt *time.Time, timeTaken time.Duration) (bool, error)
	SaveAnswer(ctx context.Context, attemptID int64, ans model.Answer, at time.Time) error
	SaveGrades(ctx context.Context, attemptID int64, answers map[int64]model.Answer, pending bool, at time.Time) error
	SetManualGrade(ctx context.Context, attemptID, questionID int64, marks float64, correct bool, gradedBy int64, at time.Time) error

	ListTerms(ctx context.Context, session string) ([]model.Term, error)
	ExportRows(ctx context.Context, examID int64) ([]model.StudentResult, error)
}

// Engine is safe for concurrent use.
type Engine struct {
	repo  Repository
	now   func() time.Time
	locks *keyedMutex
}

// New creates an engine. A nil clock means time.Now.
func New(repo Repository, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{repo: repo, now: now, locks: newKeyedMutex()}
}

func (e *Engine) lockAttempt(id int64) func() {
	return e.locks.Lock(fmt.Sprintf("attempt:%d", id))
}

func (e *Engine) lockSlot(examID, studentID int64) func() {
	return e.locks.Lock(fmt.Sprintf("slot:%d:%d", examID, studentID))
}
