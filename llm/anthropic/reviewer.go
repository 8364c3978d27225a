// Package anthropic adapts the Anthropic Claude Messages API to the llm.Reviewer
// contract used by the validation council's multi-LLM review stage.
package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/toolforge/forge/llm"
)

// MessagesClient captures the subset of the Anthropic SDK client used by the
// adapter. It is satisfied by *sdk.MessageService so callers can pass either a
// real client or a mock in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the Anthropic reviewer adapter.
type Options struct {
	// Client is the Messages client used to issue requests. Required.
	Client MessagesClient
	// Model is the Claude model identifier to use. Required.
	Model string
	// MaxTokens caps the completion length. Defaults to 64, enough for a
	// single score reply.
	MaxTokens int64
}

// Reviewer implements llm.Reviewer on top of Anthropic Claude Messages.
type Reviewer struct {
	client    MessagesClient
	model     string
	maxTokens int64
}

// New builds an Anthropic-backed reviewer from opts.
func New(opts Options) (*Reviewer, error) {
	if opts.Client == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("anthropic: model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 64
	}
	return &Reviewer{client: opts.Client, model: opts.Model, maxTokens: maxTokens}, nil
}

// Complete sends prompt as a single user message and returns the
// concatenated text of the reply.
func (r *Reviewer) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := r.client.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(r.model),
		MaxTokens: r.maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			out.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(out.String()), nil
}

// Generate implements llm.Collaborator: it issues a single-turn Messages
// request honoring req.System, req.MaxTokens, and req.Deadline, falling back
// to the reviewer's configured model and max tokens when req leaves them
// unset.
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
	maxTokens := r.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	resp, err := r.client.New(ctx, params)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			out.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(out.String()), nil
}

// ListModels returns the single model this reviewer is configured with.
// Anthropic's SDK has no authoritative model-listing endpoint this narrow
// adapter depends on, so it advertises only its own configured identifier.
func (r *Reviewer) ListModels(context.Context) ([]string, error) {
	return []string{r.model}, nil
}
