package manifest

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/toolforge/forge/internal/forgeid"
)

// schemaCache compiles each distinct capability input/output schema once and
// reuses it across calls; manifests are immutable once registered so the
// cache never needs invalidation.
var (
	schemaCacheMu sync.Mutex
	schemaCache   = map[string]*jsonschema.Schema{}
)

// ValidateAgainstSchema checks doc against the JSON schema in schema,
// compiling and caching it on first use. An empty schema always passes.
func ValidateAgainstSchema(schema map[string]any, doc any) error {
	if len(schema) == 0 {
		return nil
	}

	stable, err := forgeid.StableJSON(schema)
	if err != nil {
		return fmt.Errorf("manifest: encode schema for cache key: %w", err)
	}
	key := string(stable)

	schemaCacheMu.Lock()
	compiled, ok := schemaCache[key]
	schemaCacheMu.Unlock()
	if !ok {
		resourceURL := fmt.Sprintf("mem://schema/%x", sha256.Sum256(stable))
		c := jsonschema.NewCompiler()
		if err := c.AddResource(resourceURL, schema); err != nil {
			return fmt.Errorf("manifest: add schema resource: %w", err)
		}
		compiled, err = c.Compile(resourceURL)
		if err != nil {
			return fmt.Errorf("manifest: compile schema: %w", err)
		}
		schemaCacheMu.Lock()
		schemaCache[key] = compiled
		schemaCacheMu.Unlock()
	}

	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("manifest: schema validation failed: %w", err)
	}
	return nil
}

// ValidateCapabilityInput validates input against cap's declared input
// schema.
func (cap Capability) ValidateCapabilityInput(input any) error {
	return ValidateAgainstSchema(cap.InputSchema, input)
}

// ValidateCapabilityOutput validates output against cap's declared output
// schema.
func (cap Capability) ValidateCapabilityOutput(output any) error {
	return ValidateAgainstSchema(cap.OutputSchema, output)
}
