package model

import (
	"context"
	"encoding/json"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user. ClassroomID is only set for students.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	ClassroomID  *int64    `json:"classroom_id,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Subject, Term and Classroom are reference records owned elsewhere in the school system.
type Subject struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Term belongs to an academic session such as "2025/2026".
type Term struct {
	ID      int64  `json:"id"`
	Session string `json:"session"`
	Name    string `json:"name"`
}

type Classroom struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Catalog is the reference data file loaded at startup.
type Catalog struct {
	Subjects   []Subject   `json:"subjects"`
	Terms      []Term      `json:"terms"`
	Classrooms []Classroom `json:"classrooms"`
}

// QuestionType is the kind of a bank question.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionEssay          QuestionType = "essay"
	QuestionFillBlank      QuestionType = "fill_blank"
)

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Option is one choice of a multiple_choice question.
type Option struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// Question is a bank entry. Once an attempt references it, Marks, Options and
// CorrectAnswer are frozen; revisions create a new row that Supersedes it.
type Question struct {
	ID            int64        `json:"id"`
	SubjectID     int64        `json:"subject_id" validate:"required"`
	Type          QuestionType `json:"type" validate:"required,oneof=multiple_choice true_false essay fill_blank"`
	Text          string       `json:"text" validate:"required"`
	Options       []Option     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
	Marks         int          `json:"marks" validate:"gt=0"`
	Difficulty    Difficulty   `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Active        bool         `json:"is_active"`
	Version       int          `json:"version"`
	Supersedes    *int64       `json:"supersedes,omitempty"`
}

// ExamDefinition binds an ordered question set to a schedule and an attempt policy.
// Total marks are never stored; see exam.TotalMarks.
type ExamDefinition struct {
	ID                         int64     `json:"id"`
	Title                      string    `json:"title"`
	SubjectID                  int64     `json:"subject_id"`
	TermID                     int64     `json:"term_id"`
	ClassroomIDs               []int64   `json:"classroom_ids"`
	QuestionIDs                []int64   `json:"question_ids"`
	DurationMinutes            int       `json:"duration_minutes"`
	StartTime                  time.Time `json:"start_time"`
	EndTime                    time.Time `json:"end_time"`
	AttemptsAllowed            int       `json:"attempts_allowed"`
	ShuffleQuestions           bool      `json:"shuffle_questions"`
	ShuffleOptions             bool      `json:"shuffle_options"`
	ShowResultsAfterSubmission bool      `json:"show_results_after_submission"`
	AllowReview                bool      `json:"allow_review"`
	EnableProctoring           bool      `json:"enable_proctoring"`
	AutoSubmit                 bool      `json:"auto_submit"`
	Active                     bool      `json:"is_active"`
	Published                  bool      `json:"is_published"`
	CreatedBy                  int64     `json:"created_by"`
}

// Duration returns the per-attempt time box.
func (e ExamDefinition) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// AttemptStatus represents the lifecycle state of an attempt.
type AttemptStatus string

const (
	StatusNotStarted AttemptStatus = "not_started"
	StatusInProgress AttemptStatus = "in_progress"
	StatusSubmitted  AttemptStatus = "submitted"
	StatusExpired    AttemptStatus = "expired"
	StatusGraded     AttemptStatus = "graded"
)

// Terminal reports whether no more answers can be recorded.
func (s AttemptStatus) Terminal() bool {
	return s == StatusSubmitted || s == StatusExpired || s == StatusGraded
}

// PresentationItem is one question slot of an attempt. OptionOrder[i] is the
// authored index of the option displayed at position i.
type PresentationItem struct {
	QuestionID  int64 `json:"question_id"`
	OptionOrder []int `json:"option_order,omitempty"`
}

// Answer is a student's response to one question and, after grading, its score.
// IsCorrect and MarksObtained stay nil until graded; essays stay nil until a
// teacher grades them.
type Answer struct {
	QuestionID        int64      `json:"question_id"`
	AnswerText        *string    `json:"answer_text,omitempty"`
	SelectedOption    *int       `json:"selected_option,omitempty"`
	IsCorrect         *bool      `json:"is_correct"`
	MarksObtained     *float64   `json:"marks_obtained"`
	ManuallyGraded    bool       `json:"manually_graded,omitempty"`
	GradedBy          *int64     `json:"graded_by,omitempty"`
	SuggestedMarks    *float64   `json:"suggested_marks,omitempty"`
	SuggestedFeedback string     `json:"suggested_feedback,omitempty"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

// Answered reports whether the student supplied anything for the question.
func (a Answer) Answered() bool {
	return a.SelectedOption != nil || (a.AnswerText != nil && *a.AnswerText != "")
}

// AnswerValue is what a student submits for one question. Option is the
// displayed position, not the authored index.
type AnswerValue struct {
	Text   *string `json:"text,omitempty"`
	Option *int    `json:"option,omitempty"`
}

// Attempt is one student's timed execution of an exam.
type Attempt struct {
	ID                   int64              `json:"id"`
	ExamID               int64              `json:"exam_id"`
	StudentID            int64              `json:"student_id"`
	AttemptNumber        int                `json:"attempt_number"`
	Status               AttemptStatus      `json:"status"`
	StartTime            time.Time          `json:"start_time"`
	Deadline             time.Time          `json:"deadline"`
	SubmittedAt          *time.Time         `json:"submitted_at,omitempty"`
	TimeTakenSeconds     int64              `json:"time_taken_seconds"`
	Presentation         []PresentationItem `json:"presentation"`
	Answers              map[int64]Answer   `json:"answers"`
	PendingManualGrading bool               `json:"pending_manual_grading"`
	GradedAt             *time.Time         `json:"graded_at,omitempty"`
}

// Expired reports whether the attempt was closed by its deadline rather than
// by the student. A graded attempt keeps no submitted_at in that case.
func (a Attempt) Expired() bool {
	return a.Status == StatusExpired || (a.Status == StatusGraded && a.SubmittedAt == nil)
}

// QuestionIDs returns the question ids in presentation order.
func (a Attempt) QuestionIDs() []int64 {
	ids := make([]int64, len(a.Presentation))
	for i, p := range a.Presentation {
		ids[i] = p.QuestionID
	}
	return ids
}

// Item returns the presentation slot for a question.
func (a Attempt) Item(questionID int64) (PresentationItem, bool) {
	for _, p := range a.Presentation {
		if p.QuestionID == questionID {
			return p, true
		}
	}
	return PresentationItem{}, false
}

// Result is derived from an attempt's graded answers on every read.
type Result struct {
	AttemptID            int64         `json:"attempt_id"`
	ExamID               int64         `json:"exam_id"`
	StudentID            int64         `json:"student_id"`
	Status               AttemptStatus `json:"status"`
	TotalScore           float64       `json:"total_score"`
	MaxScore             float64       `json:"max_score"`
	Percentage           float64       `json:"percentage"`
	LetterGrade          string        `json:"letter_grade"`
	Remark               string        `json:"remark"`
	PendingManualGrading bool          `json:"pending_manual_grading"`
	Answers              []Answer      `json:"answers,omitempty"`
}

// RankEntry is one row of a cohort ranking.
type RankEntry struct {
	Position    int     `json:"position"`
	StudentID   int64   `json:"student_id"`
	AttemptID   int64   `json:"attempt_id"`
	TotalScore  float64 `json:"total_score"`
	Percentage  float64 `json:"percentage"`
	LetterGrade string  `json:"letter_grade"`
}

// ExamScore is a student's best graded percentage on one exam.
type ExamScore struct {
	ExamID     int64   `json:"exam_id"`
	SubjectID  int64   `json:"subject_id"`
	AttemptID  int64   `json:"attempt_id"`
	TotalScore float64 `json:"total_score"`
	Percentage float64 `json:"percentage"`
}

// TermSummary rolls a student's graded exams in one term into an average.
type TermSummary struct {
	StudentID      int64       `json:"student_id"`
	TermID         int64       `json:"term_id"`
	Exams          []ExamScore `json:"exams"`
	AveragePercent float64     `json:"average_percentage"`
	LetterGrade    string      `json:"letter_grade"`
	Remark         string      `json:"remark"`
}

// SessionSummary averages the non-empty terms of an academic session.
type SessionSummary struct {
	StudentID      int64         `json:"student_id"`
	Session        string        `json:"session"`
	Terms          []TermSummary `json:"terms"`
	AveragePercent float64       `json:"average_percentage"`
	LetterGrade    string        `json:"letter_grade"`
	Remark         string        `json:"remark"`
}

// ServerConfig holds HTTP parameters set via CLI flags.
type ServerConfig struct {
	BasePath      string // URL prefix for sub-path deployments (e.g. "/cbt")
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
}

// QuestionImport is used for loading questions from JSON. Options may be a
// list of strings, a keyed object or a list of {text, is_correct}.
type QuestionImport struct {
	SubjectID     int64           `json:"subject_id"`
	Type          QuestionType    `json:"type"`
	Text          string          `json:"text"`
	Options       json.RawMessage `json:"options,omitempty"`
	CorrectAnswer string          `json:"correct_answer,omitempty"`
	Marks         int             `json:"marks"`
	Difficulty    Difficulty      `json:"difficulty"`
}
