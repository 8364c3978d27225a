package director

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/toolforge/forge/internal/forgeerr"
	"github.com/toolforge/forge/llm"
	"github.com/toolforge/forge/manifest"
)

type (
	// Generator drafts a manifest for a capability the registry does not
	// already serve. Implementations typically call
	// out to an llm.Collaborator to produce the capability schemas and
	// interface binding, then leave identity fields (Origin, Lineage,
	// Trust, Status) to the Director to fill in.
	Generator interface {
		Draft(ctx context.Context, intent Intent) (manifest.ToolManifest, error)
	}

	// GeneratorFunc adapts a plain function to the Generator interface.
	GeneratorFunc func(ctx context.Context, intent Intent) (manifest.ToolManifest, error)

	// CollaboratorLLM is the narrow slice of llm.Collaborator the Director
	// itself drives directly: extracting a capability label from free-text
	// intent (discovery) and extracting call parameters against a
	// capability's input schema (input preparation). It is satisfied by
	// llm.Collaborator.
	CollaboratorLLM interface {
		Generate(ctx context.Context, req llm.GenerateRequest) (string, error)
	}
)

func (f GeneratorFunc) Draft(ctx context.Context, intent Intent) (manifest.ToolManifest, error) {
	return f(ctx, intent)
}

// discover extracts a capability label and tags from intent (delegating to
// the collaborator when intent.Capability is not already set) and queries
// the Registry for a best match.
func (d *Director) discover(ctx context.Context, intent Intent) (toolID, version string, hit bool, err error) {
	capability := intent.Capability
	tags := intent.Tags
	if capability == "" {
		capability, tags, err = d.extractCapability(ctx, intent)
		if err != nil {
			return "", "", false, err
		}
	}

	result, err := d.registry.Query(ctx, capability, intent.Constraints, tags, 5)
	if err != nil {
		return "", "", false, forgeerr.Wrap(forgeerr.Internal, "query registry", err)
	}
	if result.Best == nil {
		return "", "", false, nil
	}
	return result.Best.ToolID, result.Best.Version, true, nil
}

// extractCapability asks the collaborator for a capability label and tags
// for intent.Text. When no collaborator is configured, it falls back to
// using the raw intent text as the capability label; the fallback
// keeps Handle usable in tests and single-tool deployments without one.
func (d *Director) extractCapability(ctx context.Context, intent Intent) (string, []string, error) {
	if d.collaborator == nil {
		return intent.Text, nil, nil
	}
	reply, err := d.collaborator.Generate(ctx, llm.GenerateRequest{
		Prompt:   discoveryPrompt(intent.Text),
		System:   "Extract a short capability label and comma-separated tags from the user's intent. Reply as JSON: {\"capability\": \"...\", \"tags\": [\"...\"]}",
		Deadline: time.Now().Add(10 * time.Second),
	})
	if err != nil {
		return "", nil, forgeerr.Wrap(forgeerr.Internal, "extract capability from intent", err)
	}
	var parsed struct {
		Capability string   `json:"capability"`
		Tags       []string `json:"tags"`
	}
	if jsonErr := json.Unmarshal([]byte(reply), &parsed); jsonErr != nil || parsed.Capability == "" {
		return intent.Text, nil, nil
	}
	return parsed.Capability, parsed.Tags, nil
}

func discoveryPrompt(text string) string {
	return fmt.Sprintf("Intent: %s", text)
}

// generate requests a manifest draft from the generator collaborator, fills
// in origin/lineage/trust/risk, and registers it.
func (d *Director) generate(ctx context.Context, intent Intent) (manifest.ToolManifest, error) {
	if d.generator == nil {
		return manifest.ToolManifest{}, forgeerr.New(forgeerr.Internal, "director: no generator configured for a discovery miss")
	}
	m, err := d.generator.Draft(ctx, intent)
	if err != nil {
		return manifest.ToolManifest{}, forgeerr.Wrap(forgeerr.Internal, "generate tool draft", err)
	}
	m.Origin.CreatedAt = time.Now()
	m.Lineage.AncestorToolID = ""
	m.Trust.Level = manifest.TrustExperimental
	m.Trust.RiskScore = 1.0
	m.Status = manifest.StatusActive

	if err := d.registry.Register(ctx, m); err != nil {
		return manifest.ToolManifest{}, forgeerr.Wrap(forgeerr.InvariantViolation, "register generated tool", err)
	}
	// Re-read so callers see the embedding/status the registry computed.
	got, ok, getErr := d.registry.Get(ctx, m.ToolID, m.Version)
	if getErr != nil || !ok {
		return m, nil
	}
	return got, nil
}

// prepareInput asks the collaborator to extract capability-schema-shaped
// parameters from intent.Text; on a missing collaborator or extraction
// failure it falls back to {"intent": text}.
func (d *Director) prepareInput(ctx context.Context, intent Intent, toolID, version string) (any, error) {
	fallback := map[string]any{"intent": intent.Text}
	if d.collaborator == nil {
		return fallback, nil
	}

	m, ok, err := d.registry.Get(ctx, toolID, version)
	if err != nil || !ok || len(m.Capabilities) == 0 {
		return fallback, nil
	}
	capability := m.Capabilities[0]

	schemaJSON, err := json.Marshal(capability.InputSchema)
	if err != nil {
		return fallback, nil
	}
	reply, err := d.collaborator.Generate(ctx, llm.GenerateRequest{
		Prompt:   fmt.Sprintf("Intent: %s\nSchema: %s", intent.Text, schemaJSON),
		System:   "Extract the call parameters for this intent as JSON matching the given schema. Reply with JSON only.",
		Deadline: time.Now().Add(10 * time.Second),
	})
	if err != nil {
		return fallback, nil
	}

	var params map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), &params); err != nil {
		return fallback, nil
	}
	if err := capability.ValidateCapabilityInput(params); err != nil {
		return fallback, nil
	}
	return params, nil
}
