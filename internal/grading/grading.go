// Package grading scores an attempt's answers against the question bank.
package grading

import (
	"math"
	"strings"

	"github.com/pavelanni/cbt/internal/model"
)

// Outcome is the graded view of one attempt.
type Outcome struct {
	Answers    map[int64]model.Answer
	TotalScore float64
	MaxScore   float64
	Percentage float64
	Pending    bool
}

// Grade scores answers for the questions in order. It is pure: grading the
// same inputs twice yields the same outcome, and manually graded essays keep
// their marks. Every question in order gets an entry in Outcome.Answers.
func Grade(questions map[int64]model.Question, order []int64, answers map[int64]model.Answer) Outcome {
	out := Outcome{Answers: make(map[int64]model.Answer, len(order))}

	for _, qid := range order {
		a, ok := answers[qid]
		if !ok {
			a = model.Answer{QuestionID: qid}
		}

		q, ok := questions[qid]
		if !ok {
			// Removed from the bank: zero, and not part of the denominator.
			setScore(&a, false, 0)
			out.Answers[qid] = a
			continue
		}

		if q.Type == model.QuestionEssay {
			if a.ManuallyGraded && a.MarksObtained != nil {
				out.TotalScore += *a.MarksObtained
				out.MaxScore += float64(q.Marks)
			} else {
				a.IsCorrect = nil
				a.MarksObtained = nil
				out.Pending = true
			}
			out.Answers[qid] = a
			continue
		}

		correct := IsCorrect(q, a)
		marks := 0.0
		if correct {
			marks = float64(q.Marks)
		}
		setScore(&a, correct, marks)
		out.TotalScore += marks
		out.MaxScore += float64(q.Marks)
		out.Answers[qid] = a
	}

	out.Percentage = Percentage(out.TotalScore, out.MaxScore)
	return out
}

// IsCorrect reports whether an answer earns full marks on an auto-graded
// question. Malformed answers are simply incorrect.
func IsCorrect(q model.Question, a model.Answer) bool {
	switch q.Type {
	case model.QuestionMultipleChoice:
		if a.SelectedOption == nil || !wellFormed(q.Options) {
			return false
		}
		i := *a.SelectedOption
		return i >= 0 && i < len(q.Options) && q.Options[i].IsCorrect
	case model.QuestionTrueFalse, model.QuestionFillBlank:
		if a.AnswerText == nil || a.SelectedOption != nil {
			return false
		}
		want := strings.TrimSpace(q.CorrectAnswer)
		return want != "" && strings.EqualFold(strings.TrimSpace(*a.AnswerText), want)
	}
	return false
}

// Percentage returns total/max*100 rounded to two decimals, or 0 when max is 0.
func Percentage(total, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return math.Round(total/max*10000) / 100
}

func wellFormed(opts []model.Option) bool {
	if len(opts) < 2 {
		return false
	}
	n := 0
	for _, o := range opts {
		if o.IsCorrect {
			n++
		}
	}
	return n == 1
}

func setScore(a *model.Answer, correct bool, marks float64) {
	a.IsCorrect = &correct
	a.MarksObtained = &marks
}
