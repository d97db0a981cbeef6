package model

import "time"

// ExamExport is the top-level JSON structure for a cohort result export.
type ExamExport struct {
	ExamID      int64           `json:"exam_id"`
	Title       string          `json:"title"`
	SubjectID   int64           `json:"subject_id"`
	TermID      int64           `json:"term_id"`
	TotalMarks  int             `json:"total_marks"`
	GeneratedAt time.Time       `json:"generated_at"`
	Results     []StudentResult `json:"results"`
}

// StudentResult holds one student's ranked result for export.
type StudentResult struct {
	Position      int           `json:"position"`
	AttemptID     int64         `json:"attempt_id"`
	StudentID     int64         `json:"student_id"`
	Username      string        `json:"username"`
	DisplayName   string        `json:"display_name"`
	AttemptNumber int           `json:"attempt_number"`
	Status        AttemptStatus `json:"status"`
	StartedAt     time.Time     `json:"started_at"`
	SubmittedAt   *time.Time    `json:"submitted_at,omitempty"`
	TotalScore    float64       `json:"total_score"`
	Percentage    float64       `json:"percentage"`
	LetterGrade   string        `json:"letter_grade"`
	Remark        string        `json:"remark"`
	Pending       bool          `json:"pending_manual_grading"`
}
