package manifest_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toolforge/forge/manifest"
)

func TestValidateAgainstSchemaRejectsMissingField(t *testing.T) {
	cap := manifest.Capability{
		Name: "summarize",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"text"},
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
		},
	}
	require.NoError(t, cap.ValidateCapabilityInput(map[string]any{"text": "hello"}))
	require.Error(t, cap.ValidateCapabilityInput(map[string]any{}))
}

func TestValidateAgainstSchemaEmptySchemaAlwaysPasses(t *testing.T) {
	cap := manifest.Capability{Name: "noop"}
	require.NoError(t, cap.ValidateCapabilityInput(map[string]any{"anything": 1}))
}
