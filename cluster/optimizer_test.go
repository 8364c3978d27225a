package cluster_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toolforge/forge/cluster"
)

func buildCluster(canonicalFitness, v2Fitness, v3Fitness float64) *cluster.OptimizationCluster {
	// Each normalized metric term equals fitness, so the weighted composite
	// collapses to fitness exactly under any weight set summing to 1.
	mk := func(id string, fitness float64) cluster.ArtifactVariant {
		return cluster.ArtifactVariant{
			VariantID:  id,
			ArtifactID: "summarize_pdf",
			Version:    "1.0.0",
			Embedding:  []float32{1, 0},
			Status:     cluster.VariantActive,
			Performance: cluster.PerformanceMetrics{
				LatencyMs:    1000 * (1 - fitness),
				MemoryMB:     100 * (1 - fitness),
				CPUPercent:   100 * (1 - fitness),
				SuccessRate:  fitness,
				TestCoverage: fitness,
			},
			CreatedAt: time.Now(),
		}
	}
	canonical := mk("v1", canonicalFitness)
	canonical.Status = cluster.VariantCanonical
	c := cluster.NewOptimizationCluster("cluster-1", canonical)
	c.Alternates = []cluster.ArtifactVariant{mk("v2", v2Fitness), mk("v3", v3Fitness)}
	return c
}

// TestPromotionScenario: a validator that always
// reports fitness 0.74 should promote over a canonical scoring well below
// 0.74-0.05, archiving the old canonical and any alternate more than 0.1
// below the new canonical's fitness.
func TestPromotionScenario(t *testing.T) {
	ctx := context.Background()
	c := buildCluster(0.60, 0.63, 0.68)

	validator := cluster.ValidatorFunc(func(_ context.Context, candidate cluster.ArtifactVariant) (cluster.ValidationResult, error) {
		return cluster.ValidationResult{Passed: true, FitnessScore: 0.74}, nil
	})

	opt, err := cluster.New(cluster.Options{
		Store:         cluster.NewMemoryStore(),
		Validator:     validator,
		MaxIterations: 1,
		Rand:          rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)

	iterations, err := opt.OptimizeCluster(ctx, c)
	require.NoError(t, err)
	require.Len(t, iterations, 1)
	require.True(t, iterations[0].Promoted)
	require.Equal(t, "v1", c.Canonical.ParentID)

	// v2 (0.63) falls below 0.74-0.1 and is archived with the old canonical;
	// v3 (0.68) does not and stays an active alternate.
	require.ElementsMatch(t, []string{"v1", "v2"}, iterations[0].ArchivedIDs)
	byID := make(map[string]cluster.ArtifactVariant, len(c.Alternates))
	for _, alt := range c.Alternates {
		byID[alt.VariantID] = alt
	}
	require.NotContains(t, byID, "v2")
	require.Equal(t, cluster.VariantActive, byID["v3"].Status)
	require.Equal(t, cluster.VariantArchived, byID["v1"].Status)
}

func TestPromotionAtExactlyEpsilonDoesNotPromote(t *testing.T) {
	ctx := context.Background()
	c := buildCluster(0.60, 0.50, 0.50)

	// Derive the candidate's fitness from the canonical's actual score so the
	// exclusive boundary is hit exactly, untouched by rounding in the
	// composite formula.
	exactlyEpsilonAbove := c.Canonical.FitnessScore(cluster.DefaultFitnessWeights) + cluster.PromotionEpsilon
	validator := cluster.ValidatorFunc(func(_ context.Context, candidate cluster.ArtifactVariant) (cluster.ValidationResult, error) {
		return cluster.ValidationResult{Passed: true, FitnessScore: exactlyEpsilonAbove}, nil
	})

	opt, err := cluster.New(cluster.Options{
		Store:         cluster.NewMemoryStore(),
		Validator:     validator,
		MaxIterations: 1,
	})
	require.NoError(t, err)

	iterations, err := opt.OptimizeCluster(ctx, c)
	require.NoError(t, err)
	require.Len(t, iterations, 1)
	require.False(t, iterations[0].Promoted)
	require.Equal(t, "v1", c.Canonical.VariantID)
}

func TestTrimmingNeverPrunesCanonical(t *testing.T) {
	c := buildCluster(0.9, 0.05, 0.05)
	for i := range c.Alternates {
		c.Alternates[i].CreatedAt = time.Now().Add(-400 * 24 * time.Hour)
	}
	result := cluster.TrimCluster(c, cluster.DefaultFitnessWeights, cluster.DefaultTrimPolicy, time.Now())
	var keptIDs []string
	for _, v := range result.Kept {
		keptIDs = append(keptIDs, v.VariantID)
	}
	require.Contains(t, keptIDs, "v1")
}

func TestTrimmingPreservesLineageLeaf(t *testing.T) {
	canonical := cluster.ArtifactVariant{VariantID: "v1", Status: cluster.VariantCanonical, Embedding: []float32{1, 0}, Performance: cluster.PerformanceMetrics{SuccessRate: 0.9}}
	leaf := cluster.ArtifactVariant{VariantID: "leaf", Embedding: []float32{0, 1}, Performance: cluster.PerformanceMetrics{SuccessRate: 0.05}, CreatedAt: time.Now().Add(-400 * 24 * time.Hour)}
	c := cluster.NewOptimizationCluster("c1", canonical)
	c.Alternates = []cluster.ArtifactVariant{leaf}

	result := cluster.TrimCluster(c, cluster.DefaultFitnessWeights, cluster.DefaultTrimPolicy, time.Now())
	var keptIDs []string
	for _, v := range result.Kept {
		keptIDs = append(keptIDs, v.VariantID)
	}
	require.Contains(t, keptIDs, "leaf")
}

func TestDetectSplitAboveThresholdEmitsToolSplit(t *testing.T) {
	testA := cluster.TestSuiteSignature{TestNames: []string{"test_parse_basic"}}
	testB := cluster.TestSuiteSignature{TestNames: []string{"test_parse_advanced", "test_validate"}}
	specA := cluster.ToolSpecSignature{OutputSchemaKeys: []string{"minute", "hour"}}
	specB := cluster.ToolSpecSignature{OutputSchemaKeys: []string{"schedule", "validated"}}

	split := cluster.DetectSplit("parse_cron", "1.0.0", "2.0.0", testA, testB, specA, specB, "advanced cron parser")
	require.NotNil(t, split)
	require.GreaterOrEqual(t, split.Evidence.Confidence, cluster.SplitConfidenceThreshold)
	require.Equal(t, "parse_cron_advanced", split.SuggestedNewName)
}

func TestDetectSplitBelowThresholdReturnsNil(t *testing.T) {
	same := cluster.TestSuiteSignature{TestNames: []string{"test_a", "test_b"}}
	sameSpec := cluster.ToolSpecSignature{OutputSchemaKeys: []string{"result"}}
	split := cluster.DetectSplit("parse_cron", "1.0.0", "1.0.1", same, same, sameSpec, sameSpec, "cron parser")
	require.Nil(t, split)
}
