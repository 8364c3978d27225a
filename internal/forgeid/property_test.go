package forgeid_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/toolforge/forge/internal/forgeid"
)

// TestStableJSONIndependentOfKeyOrder exercises the registry's bit-exact
// requirement that stable_json(input) produces the same bytes regardless of
// insertion order, so input_hash is stable across equivalent payloads.
func TestStableJSONIndependentOfKeyOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("hashing the same logical map is deterministic despite Go's randomized map iteration", prop.ForAll(
		func(keys []string, values []int) bool {
			n := len(keys)
			if len(values) < n {
				n = len(values)
			}
			m := make(map[string]any, n)
			for i := 0; i < n; i++ {
				m[keys[i]] = values[i]
			}
			first, err := forgeid.InputHash(m)
			if err != nil {
				return false
			}
			for i := 0; i < 20; i++ {
				next, err := forgeid.InputHash(m)
				if err != nil || next != first {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.IntRange(-1000, 1000)),
	))

	properties.TestingRun(t)
}
