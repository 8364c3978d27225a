package forgeid_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toolforge/forge/internal/forgeid"
)

func TestCallIDDiffersByTimestamp(t *testing.T) {
	start := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	a := forgeid.CallID("translate_text", "1.2.3", start)
	b := forgeid.CallID("translate_text", "1.2.3", start.Add(time.Second))
	require.Len(t, a, 16)
	require.NotEqual(t, a, b)
}

func TestCallIDStableForSameTimestamp(t *testing.T) {
	start := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	a := forgeid.CallID("translate_text", "1.2.3", start)
	b := forgeid.CallID("translate_text", "1.2.3", start)
	require.Equal(t, a, b)
}

func TestInputHashStableRegardlessOfKeyOrder(t *testing.T) {
	a, err := forgeid.InputHash(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := forgeid.InputHash(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestInputHashNestedStructures(t *testing.T) {
	a, err := forgeid.InputHash(map[string]any{
		"outer": map[string]any{"z": 1, "y": 2},
		"list":  []any{3, 2, 1},
	})
	require.NoError(t, err)
	b, err := forgeid.InputHash(map[string]any{
		"list":  []any{3, 2, 1},
		"outer": map[string]any{"y": 2, "z": 1},
	})
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestResultHashFallsBackToStringForm(t *testing.T) {
	ch := make(chan int) // not JSON-serializable
	hash := forgeid.ResultHash(ch)
	require.Len(t, hash, 64)
}

func TestResultHashDeterministicForDeterministicTool(t *testing.T) {
	a := forgeid.ResultHash(map[string]any{"ok": true, "n": 1})
	b := forgeid.ResultHash(map[string]any{"n": 1, "ok": true})
	require.Equal(t, a, b)
}
