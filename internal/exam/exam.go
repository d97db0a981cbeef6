// Package exam validates exam definitions and answers policy questions about
// them: is it open, how many marks is it worth, how many attempts are left.
package exam

import (
	"fmt"
	"time"

	"github.com/pavelanni/cbt/internal/model"
	"github.com/pavelanni/cbt/internal/validate"
)

// Draft is the authoring payload for a new exam.
type Draft struct {
	Title                      string    `json:"title" validate:"required"`
	SubjectID                  int64     `json:"subject_id" validate:"required"`
	TermID                     int64     `json:"term_id" validate:"required"`
	ClassroomIDs               []int64   `json:"classroom_ids" validate:"required,min=1"`
	QuestionIDs                []int64   `json:"question_ids" validate:"required,min=1,unique"`
	DurationMinutes            int       `json:"duration_minutes" validate:"gt=0"`
	StartTime                  time.Time `json:"start_time" validate:"required"`
	EndTime                    time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	AttemptsAllowed            int       `json:"attempts_allowed" validate:"min=1"`
	ShuffleQuestions           bool      `json:"shuffle_questions"`
	ShuffleOptions             bool      `json:"shuffle_options"`
	ShowResultsAfterSubmission bool      `json:"show_results_after_submission"`
	AllowReview                bool      `json:"allow_review"`
	EnableProctoring           bool      `json:"enable_proctoring"`
	AutoSubmit                 bool      `json:"auto_submit"`
}

// Validate turns a draft into an unpublished, active definition. questions
// must hold every bank entry the draft references; missing ids are reported.
func Validate(d Draft, questions map[int64]model.Question) (model.ExamDefinition, error) {
	verr := validate.Struct(d)

	seen := make(map[int64]bool, len(d.QuestionIDs))
	for i, id := range d.QuestionIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		field := fmt.Sprintf("question_ids[%d]", i)
		q, ok := questions[id]
		switch {
		case !ok:
			verr.Add(field, fmt.Sprintf("question %d does not exist", id))
		case !q.Active:
			verr.Add(field, fmt.Sprintf("question %d is inactive", id))
		}
	}

	if err := verr.OrNil(); err != nil {
		return model.ExamDefinition{}, err
	}

	return model.ExamDefinition{
		Title:                      d.Title,
		SubjectID:                  d.SubjectID,
		TermID:                     d.TermID,
		ClassroomIDs:               append([]int64(nil), d.ClassroomIDs...),
		QuestionIDs:                append([]int64(nil), d.QuestionIDs...),
		DurationMinutes:            d.DurationMinutes,
		StartTime:                  d.StartTime,
		EndTime:                    d.EndTime,
		AttemptsAllowed:            d.AttemptsAllowed,
		ShuffleQuestions:           d.ShuffleQuestions,
		ShuffleOptions:             d.ShuffleOptions,
		ShowResultsAfterSubmission: d.ShowResultsAfterSubmission,
		AllowReview:                d.AllowReview,
		EnableProctoring:           d.EnableProctoring,
		AutoSubmit:                 d.AutoSubmit,
		Active:                     true,
	}, nil
}

// TotalMarks sums the current marks of the exam's questions. The value must
// not be cached beyond a single response.
func TotalMarks(e model.ExamDefinition, questions map[int64]model.Question) int {
	total := 0
	for _, id := range e.QuestionIDs {
		total += questions[id].Marks
	}
	return total
}

// IsOpen reports whether students may start the exam at now. Both window
// bounds are inclusive.
func IsOpen(e model.ExamDefinition, now time.Time) bool {
	return e.Published && e.Active && !now.Before(e.StartTime) && !now.After(e.EndTime)
}

// RemainingAttempts counts the attempts a student may still start. Attempts
// in progress or in any terminal state use up a slot.
func RemainingAttempts(e model.ExamDefinition, attempts []model.Attempt) int {
	used := 0
	for _, a := range attempts {
		if a.Status == model.StatusInProgress || a.Status.Terminal() {
			used++
		}
	}
	if left := e.AttemptsAllowed - used; left > 0 {
		return left
	}
	return 0
}

// DraftFrom turns a stored definition back into a draft so it can be
// validated again.
func DraftFrom(e model.ExamDefinition) Draft {
	return Draft{
		Title:                      e.Title,
		SubjectID:                  e.SubjectID,
		TermID:                     e.TermID,
		ClassroomIDs:               append([]int64(nil), e.ClassroomIDs...),
		QuestionIDs:                append([]int64(nil), e.QuestionIDs...),
		DurationMinutes:            e.DurationMinutes,
		StartTime:                  e.StartTime,
		EndTime:                    e.EndTime,
		AttemptsAllowed:            e.AttemptsAllowed,
		ShuffleQuestions:           e.ShuffleQuestions,
		ShuffleOptions:             e.ShuffleOptions,
		ShowResultsAfterSubmission: e.ShowResultsAfterSubmission,
		AllowReview:                e.AllowReview,
		EnableProctoring:           e.EnableProctoring,
		AutoSubmit:                 e.AutoSubmit,
	}
}

// Clone copies an exam's configuration into a new unpublished definition.
func Clone(src model.ExamDefinition, createdBy int64) model.ExamDefinition {
	c := src
	c.ID = 0
	c.Title = src.Title + " (copy)"
	c.ClassroomIDs = append([]int64(nil), src.ClassroomIDs...)
	c.QuestionIDs = append([]int64(nil), src.QuestionIDs...)
	c.Published = false
	c.CreatedBy = createdBy
	return c
}

// OpenToClassroom reports whether a classroom is one of the exam's audiences.
func OpenToClassroom(e model.ExamDefinition, classroomID int64) bool {
	for _, id := range e.ClassroomIDs {
		if id == classroomID {
			return true
		}
	}
	return false
}
