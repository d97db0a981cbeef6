package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/pavelanni/cbt/internal/exam"
	"github.com/pavelanni/cbt/internal/grading"
	"github.com/pavelanni/cbt/internal/model"
	"github.com/pavelanni/cbt/internal/result"
)

// GetAttemptResult derives the result of a finished attempt for staff. When
// essays are still ungraded it returns the partial result together with
// ErrPendingManualGrading.
func (e *Engine) GetAttemptResult(ctx context.Context, attemptID int64) (model.Result, error) {
	unlock := e.lockAttempt(attemptID)
	defer unlock()

	a, err := e.loadFresh(ctx, attemptID)
	if err != nil {
		return model.Result{}, err
	}
	return e.buildResult(ctx, a, true)
}

// GetStudentResult is GetAttemptResult as seen by the attempt's student:
// nothing before results are released, and no per-question detail unless the
// exam allows review.
func (e *Engine) GetStudentResult(ctx context.Context, attemptID int64) (model.Result, error) {
	unlock := e.lockAttempt(attemptID)
	defer unlock()

	a, err := e.loadFresh(ctx, attemptID)
	if err != nil {
		return model.Result{}, err
	}
	def, err := e.repo.GetExam(ctx, a.ExamID)
	if err != nil {
		return model.Result{}, err
	}
	if !def.ShowResultsAfterSubmission {
		return model.Result{}, model.ErrResultsHidden
	}
	return e.buildResult(ctx, a, def.AllowReview)
}

func (e *Engine) buildResult(ctx context.Context, a model.Attempt, withAnswers bool) (model.Result, error) {
	if !a.Status.Terminal() {
		return model.Result{}, model.ErrAttemptNotFinished
	}
	out, err := e.outcome(ctx, a)
	if err != nil {
		return model.Result{}, err
	}
	band := result.Classify(out.Percentage)
	r := model.Result{
		AttemptID:            a.ID,
		ExamID:               a.ExamID,
		StudentID:            a.StudentID,
		Status:               a.Status,
		TotalScore:           out.TotalScore,
		MaxScore:             out.MaxScore,
		Percentage:           out.Percentage,
		LetterGrade:          band.Letter,
		Remark:               band.Remark,
		PendingManualGrading: out.Pending,
	}
	if withAnswers {
		for _, qid := range a.QuestionIDs() {
			r.Answers = append(r.Answers, out.Answers[qid])
		}
	}
	if out.Pending {
		return r, model.ErrPendingManualGrading
	}
	return r, nil
}

// GradeEssay records a teacher's marks for an essay answer and regrades the
// attempt. Full marks count as correct.
func (e *Engine) GradeEssay(ctx context.Context, attemptID, questionID int64, marks float64, graderID int64) (model.Result, error) {
	unlock := e.lockAttempt(attemptID)
	defer unlock()

	a, err := e.loadFresh(ctx, attemptID)
	if err != nil {
		return model.Result{}, err
	}
	if !a.Status.Terminal() {
		return model.Result{}, model.ErrAttemptNotFinished
	}
	if _, ok := a.Item(questionID); !ok {
		return model.Result{}, model.ErrQuestionNotInAttempt
	}
	questions, err := e.repo.QuestionsByID(ctx, []int64{questionID})
	if err != nil {
		return model.Result{}, err
	}
	q, ok := questions[questionID]
	if !ok {
		return model.Result{}, model.ErrNotFound
	}
	if q.Type != model.QuestionEssay {
		return model.Result{}, model.ErrNotEssay
	}
	if marks < 0 || marks > float64(q.Marks) {
		return model.Result{}, model.NewValidationError(model.FieldError{
			Field: "marks", Error: fmt.Sprintf("must be between 0 and %d", q.Marks),
		})
	}

	if err := e.repo.SetManualGrade(ctx, attemptID, questionID, marks, marks == float64(q.Marks), graderID, e.now()); err != nil {
		return model.Result{}, err
	}
	if a, err = e.repo.GetAttempt(ctx, attemptID); err != nil {
		return model.Result{}, err
	}
	if err := e.grade(ctx, a); err != nil {
		return model.Result{}, err
	}
	if a, err = e.repo.GetAttempt(ctx, attemptID); err != nil {
		return model.Result{}, err
	}
	return e.buildResult(ctx, a, true)
}

// scoreAll grades each attempt against the current bank.
func (e *Engine) scoreAll(ctx context.Context, attempts []model.Attempt, subjectOf func(examID int64) int64) ([]result.Scored, error) {
	var ids []int64
	seen := map[int64]bool{}
	for _, a := range attempts {
		for _, id := range a.QuestionIDs() {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	questions, err := e.repo.QuestionsByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	scored := make([]result.Scored, 0, len(attempts))
	for _, a := range attempts {
		out := grading.Grade(questions, a.QuestionIDs(), a.Answers)
		scored = append(scored, result.Scored{
			StudentID:     a.StudentID,
			ExamID:        a.ExamID,
			SubjectID:     subjectOf(a.ExamID),
			AttemptID:     a.ID,
			AttemptNumber: a.AttemptNumber,
			TotalScore:    out.TotalScore,
			Percentage:    out.Percentage,
		})
	}
	return scored, nil
}

// GetCohortRanking ranks each student's best graded attempt at an exam.
func (e *Engine) GetCohortRanking(ctx context.Context, examID int64) ([]model.RankEntry, error) {
	def, err := e.repo.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := e.closeOverdue(ctx, func(a model.Attempt) bool { return a.ExamID == examID }); err != nil {
		return nil, err
	}
	attempts, err := e.repo.ListGradedAttempts(ctx, examID)
	if err != nil {
		return nil, err
	}
	scored, err := e.scoreAll(ctx, attempts, func(int64) int64 { return def.SubjectID })
	if err != nil {
		return nil, err
	}
	return result.Rank(result.Best(scored)), nil
}

// GetTermSummary averages a student's best result per exam in a term.
func (e *Engine) GetTermSummary(ctx context.Context, studentID, termID int64) (model.TermSummary, error) {
	if err := e.closeStudentOverdue(ctx, studentID); err != nil {
		return model.TermSummary{}, err
	}
	return e.termSummary(ctx, studentID, termID)
}

func (e *Engine) closeStudentOverdue(ctx context.Context, studentID int64) error {
	return e.closeOverdue(ctx, func(a model.Attempt) bool { return a.StudentID == studentID })
}

func (e *Engine) termSummary(ctx context.Context, studentID, termID int64) (model.TermSummary, error) {
	attempts, err := e.repo.ListStudentGradedAttempts(ctx, studentID, termID)
	if err != nil {
		return model.TermSummary{}, err
	}
	subjects := map[int64]int64{}
	for _, a := range attempts {
		if _, ok := subjects[a.ExamID]; ok {
			continue
		}
		def, err := e.repo.GetExam(ctx, a.ExamID)
		if err != nil {
			return model.TermSummary{}, err
		}
		subjects[a.ExamID] = def.SubjectID
	}
	scored, err := e.scoreAll(ctx, attempts, func(id int64) int64 { return subjects[id] })
	if err != nil {
		return model.TermSummary{}, err
	}
	return result.Term(studentID, termID, scored), nil
}

// GetSessionSummary averages a student's term averages across a session.
func (e *Engine) GetSessionSummary(ctx context.Context, studentID int64, session string) (model.SessionSummary, error) {
	terms, err := e.repo.ListTerms(ctx, session)
	if err != nil {
		return model.SessionSummary{}, err
	}
	if err := e.closeStudentOverdue(ctx, studentID); err != nil {
		return model.SessionSummary{}, err
	}
	summaries := make([]model.TermSummary, 0, len(terms))
	for _, t := range terms {
		ts, err := e.termSummary(ctx, studentID, t.ID)
		if err != nil {
			return model.SessionSummary{}, fmt.Errorf("term %d: %w", t.ID, err)
		}
		summaries = append(summaries, ts)
	}
	return result.Session(studentID, session, summaries), nil
}

// ExportExam builds the ranked cohort export for an exam.
func (e *Engine) ExportExam(ctx context.Context, examID int64) (model.ExamExport, error) {
	def, err := e.repo.GetExam(ctx, examID)
	if err != nil {
		return model.ExamExport{}, err
	}
	questions, err := e.repo.QuestionsByID(ctx, def.QuestionIDs)
	if err != nil {
		return model.ExamExport{}, err
	}
	ranking, err := e.GetCohortRanking(ctx, examID)
	if err != nil {
		return model.ExamExport{}, err
	}
	rows, err := e.repo.ExportRows(ctx, examID)
	if err != nil {
		return model.ExamExport{}, err
	}

	byAttempt := make(map[int64]model.StudentResult, len(rows))
	for _, r := range rows {
		byAttempt[r.AttemptID] = r
	}
	results := make([]model.StudentResult, 0, len(ranking))
	for _, entry := range ranking {
		r, ok := byAttempt[entry.AttemptID]
		if !ok {
			continue
		}
		band := result.Classify(entry.Percentage)
		r.Position = entry.Position
		r.TotalScore = entry.TotalScore
		r.Percentage = entry.Percentage
		r.LetterGrade = band.Letter
		r.Remark = band.Remark
		results = append(results, r)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Position < results[j].Position })

	return model.ExamExport{
		ExamID:      def.ID,
		Title:       def.Title,
		SubjectID:   def.SubjectID,
		TermID:      def.TermID,
		TotalMarks:  exam.TotalMarks(def, questions),
		GeneratedAt: e.now(),
		Results:     results,
	}, nil
}
