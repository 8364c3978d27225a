// Package openai adapts the OpenAI Chat Completions API to the llm.Reviewer
// contract used by the validation council's multi-LLM review stage.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/toolforge/forge/llm"
)

// ChatClient captures the subset of the OpenAI SDK client used by the
// adapter. It is satisfied by the client's Chat.Completions service so
// callers can substitute a mock in tests.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// Options configures the OpenAI reviewer adapter.
type Options struct {
	// Client issues chat completion requests. Required.
	Client ChatClient
	// Model is the model identifier to use (for example,
	// openai.ChatModelGPT4o). Required.
	Model string
}

// Reviewer implements llm.Reviewer on top of OpenAI Chat Completions.
type Reviewer struct {
	client ChatClient
	model  string
}

// New builds an OpenAI-backed reviewer from opts.
func New(opts Options) (*Reviewer, error) {
	if opts.Client == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("openai: model is required")
	}
	return &Reviewer{client: opts.Client, model: opts.Model}, nil
}

// Complete sends prompt as a single user message and returns the first
// choice's message content.
func (r *Reviewer) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := r.client.New(ctx, openai.ChatCompletionNewParams{
		Model: r.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai: complete: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: complete: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Generate implements llm.Collaborator on top of Chat Completions, honoring
// req.System as a leading system message and req.Deadline as a context
// deadline.
func (r *Reviewer) Generate(ctx context.Context, req llm.GenerateRequest) (string, error) {
	if !req.Deadline.IsZero() {
		var cancel func()
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}
	model := req.Model
	if model == "" {
		model = r.model
	}
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))
	params := openai.ChatCompletionNewParams{Model: model, Messages: messages}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	resp, err := r.client.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: generate: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ListModels returns the single model this reviewer is configured with.
func (r *Reviewer) ListModels(context.Context) ([]string, error) {
	return []string{r.model}, nil
}
