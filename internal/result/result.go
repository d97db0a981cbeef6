// Package result turns graded attempts into grades, class rankings and
// term/session summaries.
package result

import (
	"math"
	"sort"

	"github.com/pavelanni/cbt/internal/model"
)

// Band is one row of the grade table.
type Band struct {
	Min      float64
	Letter   string
	Remark   string
	RemarkID string // i18n message id for Remark
}

// Bands is the grade table, highest first. Every grade in the system is
// derived from it.
var Bands = []Band{
	{80, "A", "Excellent", "RemarkExcellent"},
	{70, "B", "Very Good", "RemarkVeryGood"},
	{60, "C", "Good", "RemarkGood"},
	{50, "D", "Fair", "RemarkFair"},
	{0, "F", "Needs Improvement", "RemarkNeedsImprovement"},
}

// Classify returns the band a percentage falls in.
func Classify(percentage float64) Band {
	for _, b := range Bands {
		if percentage >= b.Min {
			return b
		}
	}
	return Bands[len(Bands)-1]
}

// Scored is one graded attempt reduced to what aggregation needs.
type Scored struct {
	StudentID     int64
	ExamID        int64
	SubjectID     int64
	AttemptID     int64
	AttemptNumber int
	TotalScore    float64
	Percentage    float64
}

// Best keeps one attempt per (student, exam): the highest percentage, then the
// highest score, then the earliest attempt.
func Best(scored []Scored) []Scored {
	type key struct{ student, exam int64 }
	best := make(map[key]Scored)
	var keys []key
	for _, s := range scored {
		k := key{s.StudentID, s.ExamID}
		cur, ok := best[k]
		if !ok {
			keys = append(keys, k)
			best[k] = s
			continue
		}
		if better(s, cur) {
			best[k] = s
		}
	}
	out := make([]Scored, 0, len(keys))
	for _, k := range keys {
		out = append(out, best[k])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExamID != out[j].ExamID {
			return out[i].ExamID < out[j].ExamID
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out
}

func better(a, b Scored) bool {
	if a.Percentage != b.Percentage {
		return a.Percentage > b.Percentage
	}
	if a.TotalScore != b.TotalScore {
		return a.TotalScore > b.TotalScore
	}
	return a.AttemptNumber < b.AttemptNumber
}

// Rank orders one exam's cohort by total score using competition ranking:
// tied students share a position and the next score skips ahead by the tie
// size (90, 75, 75, 60 ranks 1, 2, 2, 4). Ties are listed by student id.
func Rank(cohort []Scored) []model.RankEntry {
	sorted := append([]Scored(nil), cohort...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].TotalScore != sorted[j].TotalScore {
			return sorted[i].TotalScore > sorted[j].TotalScore
		}
		return sorted[i].StudentID < sorted[j].StudentID
	})

	entries := make([]model.RankEntry, len(sorted))
	for i, s := range sorted {
		pos := i + 1
		if i > 0 && s.TotalScore == sorted[i-1].TotalScore {
			pos = entries[i-1].Position
		}
		entries[i] = model.RankEntry{
			Position:    pos,
			StudentID:   s.StudentID,
			AttemptID:   s.AttemptID,
			TotalScore:  s.TotalScore,
			Percentage:  s.Percentage,
			LetterGrade: Classify(s.Percentage).Letter,
		}
	}
	return entries
}

// Term averages a student's best percentage per exam over one term's graded
// attempts. Exams with no graded attempt do not appear.
func Term(studentID, termID int64, scored []Scored) model.TermSummary {
	ts := model.TermSummary{StudentID: studentID, TermID: termID, Exams: []model.ExamScore{}}
	var sum float64
	for _, s := range Best(scored) {
		if s.StudentID != studentID {
			continue
		}
		ts.Exams = append(ts.Exams, model.ExamScore{
			ExamID:     s.ExamID,
			SubjectID:  s.SubjectID,
			AttemptID:  s.AttemptID,
			TotalScore: s.TotalScore,
			Percentage: s.Percentage,
		})
		sum += s.Percentage
	}
	if len(ts.Exams) > 0 {
		ts.AveragePercent = round2(sum / float64(len(ts.Exams)))
	}
	b := Classify(ts.AveragePercent)
	ts.LetterGrade, ts.Remark = b.Letter, b.Remark
	return ts
}

// Session averages term averages. Terms without graded exams are dropped
// rather than counted as zero.
func Session(studentID int64, session string, terms []model.TermSummary) model.SessionSummary {
	ss := model.SessionSummary{StudentID: studentID, Session: session, Terms: []model.TermSummary{}}
	var sum float64
	for _, t := range terms {
		if len(t.Exams) == 0 {
			continue
		}
		ss.Terms = append(ss.Terms, t)
		sum += t.AveragePercent
	}
	if len(ss.Terms) > 0 {
		ss.AveragePercent = round2(sum / float64(len(ss.Terms)))
	}
	b := Classify(ss.AveragePercent)
	ss.LetterGrade, ss.Remark = b.Letter, b.Remark
	return ss
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
