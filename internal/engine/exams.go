package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pavelanni/cbt/internal/exam"
	"github.com/pavelanni/cbt/internal/model"
)

// ExamView is an exam with its derived total marks.
type ExamView struct {
	model.ExamDefinition
	TotalMarks int `json:"total_marks"`
}

func (e *Engine) view(ctx context.Context, def model.ExamDefinition) (ExamView, error) {
	questions, err := e.repo.QuestionsByID(ctx, def.QuestionIDs)
	if err != nil {
		return ExamView{}, err
	}
	return ExamView{ExamDefinition: def, TotalMarks: exam.TotalMarks(def, questions)}, nil
}

// CreateExam validates a draft against the bank and stores it unpublished.
func (e *Engine) CreateExam(ctx context.Context, d exam.Draft, createdBy int64) (ExamView, error) {
	questions, err := e.repo.QuestionsByID(ctx, d.QuestionIDs)
	if err != nil {
		return ExamView{}, err
	}
	def, err := exam.Validate(d, questions)
	if err != nil {
		return ExamView{}, err
	}
	def.CreatedBy = createdBy
	if def.ID, err = e.repo.CreateExam(ctx, def); err != nil {
		return ExamView{}, fmt.Errorf("create exam: %w", err)
	}
	slog.Info("exam created", "exam_id", def.ID, "title", def.Title, "questions", len(def.QuestionIDs))
	return ExamView{ExamDefinition: def, TotalMarks: exam.TotalMarks(def, questions)}, nil
}

// CloneExam copies an exam's configuration into a new unpublished exam with
// no attempts. The copy is validated against the current bank, so an exam
// whose questions have since been revised cannot be cloned unchanged.
func (e *Engine) CloneExam(ctx context.Context, examID, createdBy int64) (ExamView, error) {
	src, err := e.repo.GetExam(ctx, examID)
	if err != nil {
		return ExamView{}, err
	}
	c := exam.Clone(src, createdBy)
	questions, err := e.repo.QuestionsByID(ctx, c.QuestionIDs)
	if err != nil {
		return ExamView{}, err
	}
	if _, err := exam.Validate(exam.DraftFrom(c), questions); err != nil {
		return ExamView{}, err
	}
	if c.ID, err = e.repo.CreateExam(ctx, c); err != nil {
		return ExamView{}, fmt.Errorf("clone exam %d: %w", examID, err)
	}
	slog.Info("exam cloned", "exam_id", c.ID, "source_id", examID)
	return e.view(ctx, c)
}

// PublishExam makes an exam visible to its classrooms.
func (e *Engine) PublishExam(ctx context.Context, examID int64) error {
	return e.repo.SetExamPublished(ctx, examID, true)
}

// UnpublishExam hides an exam. Attempts already in progress are unaffected.
func (e *Engine) UnpublishExam(ctx context.Context, examID int64) error {
	return e.repo.SetExamPublished(ctx, examID, false)
}

// GetExam returns an exam with its current total marks.
func (e *Engine) GetExam(ctx context.Context, examID int64) (ExamView, error) {
	def, err := e.repo.GetExam(ctx, examID)
	if err != nil {
		return ExamView{}, err
	}
	return e.view(ctx, def)
}

// ListExams lists exams for management (classroomID 0) or the published
// exams open to one classroom.
func (e *Engine) ListExams(ctx context.Context, classroomID int64) ([]ExamView, error) {
	defs, err := e.repo.ListExams(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	views := make([]ExamView, 0, len(defs))
	for _, d := range defs {
		v, err := e.view(ctx, d)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}
