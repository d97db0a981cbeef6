package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/cbt/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

const maxAnswerRunes = 10000

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant represents an essay marking prompt variant.
type PromptVariant string

const (
	// PromptStrict gives credit only for explicit, correct points.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default marking variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient gives generous partial credit.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce         sync.Once
	loadErr          error
	suggestTemplates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// SuggestData holds template data for essay suggestion prompts.
type SuggestData struct {
	QuestionText string
	MaxMarks     int
	ModelAnswer  string
	Answer       string
}

// Load parses the embedded templates once.
func Load() error {
	loadOnce.Do(func() {
		loadErr = load(templateFS)
	})
	return loadErr
}

func load(fsys fs.FS) error {
	suggestTemplates = make(map[PromptVariant]*template.Template)
	for v := range validVariants {
		name := "templates/suggest_" + string(v) + ".txt"
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read prompt file %s: %w", name, err)
		}
		tmpl, err := template.New(string(v)).Parse(string(content))
		if err != nil {
			return fmt.Errorf("parse prompt template %s: %w", name, err)
		}
		suggestTemplates[v] = tmpl
	}
	return nil
}

// BuildSuggestPrompt renders the marking prompt for one essay answer. The
// question's correct answer, if any, is used as the marking guide.
func BuildSuggestPrompt(variant PromptVariant, q model.Question, answer string) (string, error) {
	if err := Load(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := suggestTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data := SuggestData{
		QuestionText: q.Text,
		MaxMarks:     q.Marks,
		ModelAnswer:  q.CorrectAnswer,
		Answer:       sanitizeAnswer(answer),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
