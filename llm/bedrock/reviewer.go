// Package bedrock adapts the AWS Bedrock Converse API to the llm.Reviewer
// contract used by the validation council's multi-LLM review stage.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/toolforge/forge/llm"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client
// required by the adapter. It matches *bedrockruntime.Client so callers can
// pass either the real client or a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock reviewer adapter.
type Options struct {
	// Runtime issues Converse requests. Required.
	Runtime RuntimeClient
	// ModelID is the Bedrock model identifier (for example, a Claude or
	// Titan model ARN/ID). Required.
	ModelID string
}

// Reviewer implements llm.Reviewer on top of the Bedrock Converse API.
type Reviewer struct {
	runtime RuntimeClient
	modelID string
}

// New builds a Bedrock-backed reviewer from opts.
func New(opts Options) (*Reviewer, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if strings.TrimSpace(opts.ModelID) == "" {
		return nil, errors.New("bedrock: model id is required")
	}
	return &Reviewer{runtime: opts.Runtime, modelID: opts.ModelID}, nil
}

// Complete sends prompt as a single user message and returns the
// concatenated text content of the reply.
func (r *Reviewer) Complete(ctx context.Context, prompt string) (string, error) {
	output, err := r.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(r.modelID),
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: prompt}},
			},
		},
	})
	if err != nil {
		return "", converseErr("converse", err)
	}
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("bedrock: converse: unexpected output type")
	}
	var out strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			out.WriteString(text.Value)
		}
	}
	return strings.TrimSpace(out.String()), nil
}

// Generate implements llm.Collaborator on top of the Converse API, honoring
// req.System as a system content block and req.Deadline as a context
// deadline. req.Model is ignored: Bedrock model routing is keyed by the
// adapter's configured ModelID/ARN, not a request-time override.
func (r *Reviewer) Generate(ctx context.Context, req llm.GenerateRequest) (string, error) {
	if !req.Deadline.IsZero() {
		var cancel func()
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(r.modelID),
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.Prompt}},
			},
		},
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		cfg := &brtypes.InferenceConfiguration{}
		if req.MaxTokens > 0 {
			v := int32(req.MaxTokens)
			cfg.MaxTokens = &v
		}
		if req.Temperature > 0 {
			v := float32(req.Temperature)
			cfg.Temperature = &v
		}
		input.InferenceConfig = cfg
	}
	output, err := r.runtime.Converse(ctx, input)
	if err != nil {
		return "", converseErr("generate", err)
	}
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("bedrock: generate: unexpected output type")
	}
	var out strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			out.WriteString(text.Value)
		}
	}
	return strings.TrimSpace(out.String()), nil
}

// ListModels returns the single model this reviewer is configured with.
func (r *Reviewer) ListModels(context.Context) ([]string, error) {
	return []string{r.modelID}, nil
}

// converseErr wraps a Converse failure, tagging provider throttling
// conditions with llm.ErrRateLimited so callers can back off.
func converseErr(op string, err error) error {
	if isRateLimited(err) {
		return fmt.Errorf("bedrock: %s: %w: %v", op, llm.ErrRateLimited, err)
	}
	return fmt.Errorf("bedrock: %s: %w", op, err)
}

// isRateLimited reports whether err represents a provider rate-limiting
// condition, treating both HTTP 429 responses and provider error codes like
// ThrottlingException as rate-limited signals.
func isRateLimited(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429
}
