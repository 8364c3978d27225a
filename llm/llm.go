// Package llm defines the narrow reviewer interface the validation council's
// multi-LLM review stage uses to score a tool along a dimension. Concrete
// adapters (anthropic, openai, bedrock) translate this single-prompt,
// single-text-reply contract onto each provider's SDK.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrRateLimited marks a provider rate-limiting condition. Adapters wrap
// throttle responses with it so callers can back off instead of failing
// hard.
var ErrRateLimited = errors.New("llm: rate limited")

// Reviewer generates a single text completion for prompt. The validation
// council's multi-LLM review stage sends a rating prompt and expects a bare
// numeric reply.
type Reviewer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// GenerateRequest is one request to a Collaborator: a prompt plus optional
// system text, sampling temperature, token cap, and deadline.
type GenerateRequest struct {
	Model       string
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int
	Deadline    time.Time
}

// Collaborator is the external LLM collaborator the Director uses for
// discovery (extracting a capability label and tags from an intent), tool
// generation (drafting a manifest), and input preparation (extracting call
// parameters from an intent against a capability schema). Multi-provider
// routing, retries, and context-window handling are the collaborator's own
// concern; the Director only ever sees text back or a failure.
type Collaborator interface {
	// Generate produces a single text completion for req. Implementations
	// honor req.Deadline by deriving a context deadline from it.
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	// ListModels returns the model identifiers this collaborator can route
	// to.
	ListModels(ctx context.Context) ([]string, error)
}
