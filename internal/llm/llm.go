// Package llm asks an OpenAI-compatible model for a suggested essay mark.
// Suggestions are advisory; a teacher always records the final mark.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/cbt/internal/llm/prompts"
	"github.com/pavelanni/cbt/internal/model"
)

// Suggestion is the model's proposed mark for one essay answer.
type Suggestion struct {
	Marks    float64 `json:"marks"`
	Feedback string  `json:"feedback"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

// New creates a new LLM client using the given prompt variant.
func New(baseURL, apiKey, modelName, variant string) (*Client, error) {
	if !prompts.IsValidVariant(variant) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}
	if err := prompts.Load(); err != nil {
		return nil, err
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: prompts.PromptVariant(variant),
	}, nil
}

// Ping checks that the endpoint answers a model listing.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// SuggestEssayScore asks the model to mark an essay answer out of q.Marks.
func (c *Client) SuggestEssayScore(ctx context.Context, q model.Question, answer string) (Suggestion, error) {
	if q.Type != model.QuestionEssay {
		return Suggestion{}, model.ErrNotEssay
	}
	prompt, err := prompts.BuildSuggestPrompt(c.variant, q, answer)
	if err != nil {
		return Suggestion{}, err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return Suggestion{}, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Suggestion{}, errors.New("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)
	return parseSuggestion(raw, q.Marks)
}

// parseSuggestion decodes the model's JSON and clamps the mark to
// [0, maxMarks] in half-mark steps.
func parseSuggestion(raw string, maxMarks int) (Suggestion, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.Trim(raw, "`\n ")

	var s Suggestion
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Suggestion{}, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	s.Marks = math.Round(s.Marks*2) / 2
	s.Marks = math.Max(0, math.Min(s.Marks, float64(maxMarks)))
	s.Feedback = strings.TrimSpace(s.Feedback)
	return s, nil
}
