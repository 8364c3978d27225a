package vectorstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toolforge/forge/vectorstore"
)

func TestCosineSimilarityIdenticalVectors(t *testing.T) {
	v := []float32{1, 2, 3}
	require.InDelta(t, 1.0, vectorstore.CosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityOrthogonalVectors(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	require.InDelta(t, 0.0, vectorstore.CosineSimilarity(a, b), 1e-9)
}

func TestInMemStoreSearchOrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewInMem()

	require.NoError(t, store.Upsert(ctx, "summarize_pdf", "1.0.0", []float32{1, 0, 0}))
	require.NoError(t, store.Upsert(ctx, "summarize_pdf", "2.0.0", []float32{0.9, 0.1, 0}))
	require.NoError(t, store.Upsert(ctx, "translate_text", "1.0.0", []float32{0, 1, 0}))

	matches, err := store.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "summarize_pdf", matches[0].ToolID)
	require.Equal(t, "1.0.0", matches[0].Version)
	require.Equal(t, "summarize_pdf", matches[1].ToolID)
	require.Equal(t, "2.0.0", matches[1].Version)
}

func TestInMemStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewInMem()
	require.NoError(t, store.Upsert(ctx, "parse_cron", "1.0.0", []float32{1, 1}))
	require.NoError(t, store.Delete(ctx, "parse_cron", "1.0.0"))

	matches, err := store.Search(ctx, []float32{1, 1}, 5)
	require.NoError(t, err)
	require.Empty(t, matches)
}
