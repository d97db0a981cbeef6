// Package bank normalizes and validates question bank entries. Every option
// shape seen in authored content is converted to an ordered []model.Option here,
// so nothing downstream has to sniff the shape again.
package bank

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pavelanni/cbt/internal/model"
	"github.com/pavelanni/cbt/internal/validate"
)

// NormalizeOptions converts raw authored options into the canonical form.
// Accepted shapes:
//
//	[{"text": "...", "is_correct": true}, ...]
//	["...", "..."]            correct is a letter, a 0-based index or the option text
//	{"A": "...", "B": "..."}  correct is the key
//
// A null or empty raw value yields no options.
func NormalizeOptions(raw json.RawMessage, correct string) ([]model.Option, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var objs []model.Option
		if err := json.Unmarshal(raw, &objs); err == nil && hasObjects(raw) {
			return objs, nil
		}
		var texts []string
		if err := json.Unmarshal(raw, &texts); err != nil {
			return nil, fmt.Errorf("options: expected list of strings or {text, is_correct} objects: %w", err)
		}
		opts := make([]model.Option, len(texts))
		idx := correctIndex(texts, correct)
		for i, t := range texts {
			opts[i] = model.Option{Text: t, IsCorrect: i == idx}
		}
		return opts, nil
	case '{':
		var keyed map[string]string
		if err := json.Unmarshal(raw, &keyed); err != nil {
			return nil, fmt.Errorf("options: expected object of strings: %w", err)
		}
		keys := make([]string, 0, len(keyed))
		for k := range keyed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		want := strings.ToUpper(strings.TrimSpace(correct))
		opts := make([]model.Option, len(keys))
		for i, k := range keys {
			opts[i] = model.Option{Text: keyed[k], IsCorrect: strings.ToUpper(k) == want}
		}
		return opts, nil
	default:
		return nil, fmt.Errorf("options: unsupported JSON value")
	}
}

func hasObjects(raw json.RawMessage) bool {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil || len(elems) == 0 {
		return false
	}
	first := bytes.TrimSpace(elems[0])
	return len(first) > 0 && first[0] == '{'
}

// correctIndex resolves the correct option of a plain string list.
func correctIndex(texts []string, correct string) int {
	c := strings.TrimSpace(correct)
	if c == "" {
		return -1
	}
	if len(c) == 1 {
		r := strings.ToUpper(c)[0]
		if r >= 'A' && r <= 'Z' && int(r-'A') < len(texts) {
			return int(r - 'A')
		}
	}
	if n, err := strconv.Atoi(c); err == nil && n >= 0 && n < len(texts) {
		return n
	}
	for i, t := range texts {
		if strings.EqualFold(strings.TrimSpace(t), c) {
			return i
		}
	}
	return -1
}

// FromImport builds a question from an import record.
func FromImport(qi model.QuestionImport) (model.Question, error) {
	q := model.Question{
		SubjectID:     qi.SubjectID,
		Type:          qi.Type,
		Text:          qi.Text,
		CorrectAnswer: qi.CorrectAnswer,
		Marks:         qi.Marks,
		Difficulty:    qi.Difficulty,
		Active:        true,
		Version:       1,
	}
	if qi.Type == model.QuestionMultipleChoice {
		opts, err := NormalizeOptions(qi.Options, qi.CorrectAnswer)
		if err != nil {
			return q, err
		}
		q.Options = opts
		q.CorrectAnswer = ""
	}
	if err := Validate(q); err != nil {
		return q, err
	}
	return q, nil
}

// Validate checks the shape rules of a question. Inactive multiple_choice
// questions are exempt from the option rules.
func Validate(q model.Question) error {
	verr := validate.Struct(q)

	switch q.Type {
	case model.QuestionMultipleChoice:
		if !q.Active {
			break
		}
		if len(q.Options) < 2 {
			verr.Add("options", "at least 2 options are required")
		}
		correct := 0
		for i, o := range q.Options {
			if strings.TrimSpace(o.Text) == "" {
				verr.Add(fmt.Sprintf("options[%d].text", i), "this field is required")
			}
			if o.IsCorrect {
				correct++
			}
		}
		if correct != 1 {
			verr.Add("options", "exactly one option must be correct")
		}
	case model.QuestionTrueFalse:
		a := strings.ToLower(strings.TrimSpace(q.CorrectAnswer))
		if a != "true" && a != "false" {
			verr.Add("correct_answer", "must be true or false")
		}
		if len(q.Options) > 0 {
			verr.Add("options", "only multiple_choice questions have options")
		}
	case model.QuestionFillBlank:
		if strings.TrimSpace(q.CorrectAnswer) == "" {
			verr.Add("correct_answer", "this field is required")
		}
		if len(q.Options) > 0 {
			verr.Add("options", "only multiple_choice questions have options")
		}
	case model.QuestionEssay:
		if len(q.Options) > 0 {
			verr.Add("options", "only multiple_choice questions have options")
		}
	}

	return verr.OrNil()
}

// GradingChanged reports whether a revision touches fields that decide scores.
func GradingChanged(old, next model.Question) bool {
	if old.Type != next.Type || old.Marks != next.Marks ||
		old.CorrectAnswer != next.CorrectAnswer || len(old.Options) != len(next.Options) {
		return true
	}
	for i := range old.Options {
		if old.Options[i] != next.Options[i] {
			return true
		}
	}
	return false
}
