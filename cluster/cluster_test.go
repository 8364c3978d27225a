package cluster_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toolforge/forge/cluster"
)

func TestFitnessScoreClampedAndWeighted(t *testing.T) {
	m := cluster.PerformanceMetrics{LatencyMs: 200, MemoryMB: 50, CPUPercent: 40, SuccessRate: 0.9, TestCoverage: 0.8}
	score := m.FitnessScore(cluster.DefaultFitnessWeights)
	require.Greater(t, score, 0.0)
	require.LessOrEqual(t, score, 1.0)
}

func TestFitnessScoreClampsExtremeMetrics(t *testing.T) {
	m := cluster.PerformanceMetrics{LatencyMs: 5000, MemoryMB: 500, CPUPercent: 300, SuccessRate: 1, TestCoverage: 1}
	score := m.FitnessScore(cluster.DefaultFitnessWeights)
	require.GreaterOrEqual(t, score, 0.0)
	require.LessOrEqual(t, score, 1.0)
}

func TestSimilarityToUsesCosineSimilarity(t *testing.T) {
	a := cluster.ArtifactVariant{Embedding: []float32{1, 0}}
	b := cluster.ArtifactVariant{Embedding: []float32{1, 0}}
	c := cluster.ArtifactVariant{Embedding: []float32{0, 1}}
	require.InDelta(t, 1.0, a.SimilarityTo(b), 1e-9)
	require.InDelta(t, 0.0, a.SimilarityTo(c), 1e-9)
}

func TestVariantsBySimilarityExcludesFarMembers(t *testing.T) {
	canonical := cluster.ArtifactVariant{VariantID: "canon", Embedding: []float32{1, 0}}
	near := cluster.ArtifactVariant{VariantID: "near", Embedding: []float32{0.99, 0.02}}
	far := cluster.ArtifactVariant{VariantID: "far", Embedding: []float32{0, 1}}
	c := cluster.NewOptimizationCluster("c1", canonical)
	c.Alternates = []cluster.ArtifactVariant{near, far}

	members := c.VariantsBySimilarity()
	var ids []string
	for _, v := range members {
		ids = append(ids, v.VariantID)
	}
	require.Contains(t, ids, "canon")
	require.Contains(t, ids, "near")
	require.NotContains(t, ids, "far")
}

func TestExtractSemanticDeltasDedupesKeepingHighestBenefit(t *testing.T) {
	canonical := cluster.ArtifactVariant{
		VariantID: "canon",
		SemanticDeltas: []cluster.SemanticDelta{
			{DeltaType: "cache", Description: "add caching", EstimatedBenefit: 0.4},
		},
	}
	alt := cluster.ArtifactVariant{
		VariantID: "alt",
		SemanticDeltas: []cluster.SemanticDelta{
			{DeltaType: "cache", Description: "add caching", EstimatedBenefit: 0.8},
		},
	}
	c := cluster.NewOptimizationCluster("c1", canonical)
	c.Alternates = []cluster.ArtifactVariant{alt}

	deltas := c.ExtractSemanticDeltas()
	require.Len(t, deltas, 1)
	require.Equal(t, 0.8, deltas[0].EstimatedBenefit)
}

func TestMedianFitnessOverCluster(t *testing.T) {
	canonical := cluster.ArtifactVariant{Performance: cluster.PerformanceMetrics{SuccessRate: 1, TestCoverage: 1}}
	c := cluster.NewOptimizationCluster("c1", canonical)
	require.Greater(t, c.MedianFitness(cluster.DefaultFitnessWeights), 0.0)
}
