package model

import (
	"errors"
	"strings"
)

// Attempt-time errors. All of them are recoverable by the caller.
var (
	ErrNotFound                 = errors.New("not found")
	ErrAlreadyExists            = errors.New("already exists")
	ErrAttemptLimitExceeded     = errors.New("attempt limit exceeded")
	ErrExamClosed               = errors.New("exam is not open")
	ErrAttemptAlreadyInProgress = errors.New("attempt already in progress")
	ErrAttemptClosed            = errors.New("attempt is closed")
	ErrAttemptNotFinished       = errors.New("attempt is still in progress")
	ErrQuestionNotInAttempt     = errors.New("question not in attempt")
	ErrResultsHidden            = errors.New("results are not released for this exam")
	ErrNotEssay                 = errors.New("question is not an essay")

	// ErrPendingManualGrading accompanies a valid but incomplete result.
	ErrPendingManualGrading = errors.New("essay answers are pending manual grading")
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError rejects a malformed exam or question at authoring time.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

// NewValidationError builds a ValidationError from field errors.
func NewValidationError(flds ...FieldError) *ValidationError {
	return &ValidationError{Fields: flds}
}

// Add appends a field error.
func (v *ValidationError) Add(field, msg string) {
	v.Fields = append(v.Fields, FieldError{Field: field, Error: msg})
}

// Empty reports whether no field errors were collected.
func (v *ValidationError) Empty() bool {
	return len(v.Fields) == 0
}

// OrNil returns v as an error, or nil when it holds no field errors.
func (v *ValidationError) OrNil() error {
	if v.Empty() {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	parts := make([]string, 0, len(v.Fields))
	for _, f := range v.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Has reports whether a field error was recorded for field.
func (v *ValidationError) Has(field string) bool {
	for _, f := range v.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}
