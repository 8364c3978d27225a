package cluster

import (
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
)

// OptimizationStrategy selects how GenerateCandidate synthesizes a new
// variant from a cluster's members.
type OptimizationStrategy string

const (
	StrategyBestOfBreed OptimizationStrategy = "best_of_breed"
	StrategyIncremental OptimizationStrategy = "incremental"
	StrategyRadical      OptimizationStrategy = "radical"
	StrategyHybrid       OptimizationStrategy = "hybrid"
)

// GenerateCandidate synthesizes a new ArtifactVariant from cluster's
// similar-by-embedding members, dispatching to the strategy-specific
// generator. iteration selects the sub-strategy for StrategyHybrid, cycling
// among the other three by iteration index, matching the original's
// `iteration % 3` rotation. rng supplies the randomness the radical strategy
// needs for its wider variance band; pass rand.New(rand.NewSource(seed)) for
// deterministic tests.
func GenerateCandidate(c *OptimizationCluster, strategy OptimizationStrategy, iteration int, w FitnessWeights, rng *rand.Rand) ArtifactVariant {
	effective := strategy
	if strategy == StrategyHybrid {
		switch iteration % 3 {
		case 0:
			effective = StrategyBestOfBreed
		case 1:
			effective = StrategyIncremental
		default:
			effective = StrategyRadical
		}
	}

	members := c.VariantsBySimilarity()
	deltas := prioritizeDeltasWithLearning(c, c.ExtractSemanticDeltas())

	switch effective {
	case StrategyIncremental:
		return generateIncremental(c, deltas)
	case StrategyRadical:
		return generateRadical(c, deltas, rng)
	default:
		return generateBestOfBreed(c, members, deltas)
	}
}

func newVariant(parent ArtifactVariant, perf PerformanceMetrics, deltas []SemanticDelta) ArtifactVariant {
	return ArtifactVariant{
		VariantID:      uuid.NewString(),
		ArtifactID:     parent.ArtifactID,
		Version:        parent.Version,
		NodeType:       parent.NodeType,
		Content:        parent.Content,
		Embedding:      parent.Embedding,
		Status:         VariantActive,
		Performance:    perf,
		CreatedAt:       time.Now(),
		ParentID:       parent.VariantID,
		SemanticDeltas: deltas,
		Metadata:       map[string]string{},
	}
}

// generateBestOfBreed synthesizes a candidate that inherits the best
// latency, memory, success, and coverage seen among members, each nudged
// further by a fixed improvement factor, plus the top-3 prioritized deltas.
func generateBestOfBreed(c *OptimizationCluster, members []ArtifactVariant, deltas []SemanticDelta) ArtifactVariant {
	base := c.Canonical
	if len(members) == 0 {
		members = []ArtifactVariant{base}
	}
	bestLatency, bestMemory, bestCPU, bestSuccess, bestCoverage := members[0].Performance, members[0].Performance, members[0].Performance, members[0].Performance, members[0].Performance
	for _, m := range members[1:] {
		p := m.Performance
		if p.LatencyMs < bestLatency.LatencyMs {
			bestLatency = p
		}
		if p.MemoryMB < bestMemory.MemoryMB {
			bestMemory = p
		}
		if p.CPUPercent < bestCPU.CPUPercent {
			bestCPU = p
		}
		if p.SuccessRate > bestSuccess.SuccessRate {
			bestSuccess = p
		}
		if p.TestCoverage > bestCoverage.TestCoverage {
			bestCoverage = p
		}
	}

	perf := PerformanceMetrics{
		LatencyMs:    bestLatency.LatencyMs * 0.95,
		MemoryMB:     bestMemory.MemoryMB * 0.95,
		CPUPercent:   bestCPU.CPUPercent * 0.95,
		SuccessRate:  clamp01(bestSuccess.SuccessRate * 1.02),
		TestCoverage: clamp01(bestCoverage.TestCoverage * 1.02),
	}

	top := deltas
	if len(top) > 3 {
		top = top[:3]
	}
	return newVariant(base, perf, top)
}

// generateIncremental applies the first delta with risk < 0.3, in the
// benefit-prioritized order of deltas, to
// the canonical's measured performance, nudged by a small, conservative
// factor.
func generateIncremental(c *OptimizationCluster, deltas []SemanticDelta) ArtifactVariant {
	base := c.Canonical
	var chosen []SemanticDelta
	for _, d := range deltas {
		if d.RiskLevel < 0.3 {
			chosen = []SemanticDelta{d}
			break
		}
	}
	perf := base.Performance
	perf.LatencyMs *= 0.98
	perf.MemoryMB *= 0.99
	perf.SuccessRate = clamp01(perf.SuccessRate * 1.01)
	perf.TestCoverage = clamp01(perf.TestCoverage * 1.01)
	return newVariant(base, perf, chosen)
}

// generateRadical applies every high-benefit (>0.7) delta and samples
// performance within a wide ±15% variance band around the canonical's
// measured metrics.
func generateRadical(c *OptimizationCluster, deltas []SemanticDelta, rng *rand.Rand) ArtifactVariant {
	base := c.Canonical
	var chosen []SemanticDelta
	for _, d := range deltas {
		if d.EstimatedBenefit > 0.7 {
			chosen = append(chosen, d)
		}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	variance := func(v float64) float64 {
		factor := 0.85 + rng.Float64()*0.30 // uniform(0.85, 1.15)
		return v * factor
	}
	perf := PerformanceMetrics{
		LatencyMs:    variance(base.Performance.LatencyMs),
		MemoryMB:     variance(base.Performance.MemoryMB),
		CPUPercent:   variance(base.Performance.CPUPercent),
		SuccessRate:  clamp01(variance(base.Performance.SuccessRate)),
		TestCoverage: clamp01(variance(base.Performance.TestCoverage)),
	}
	return newVariant(base, perf, chosen)
}

// prioritizeDeltasWithLearning boosts each delta's estimated benefit by
// 1 + average_observed_improvement for its delta type, capped at 1.0, then
// sorts descending by the adjusted benefit. Matches the original's
// _prioritize_deltas_with_learning.
func prioritizeDeltasWithLearning(c *OptimizationCluster, deltas []SemanticDelta) []SemanticDelta {
	out := make([]SemanticDelta, len(deltas))
	copy(out, deltas)
	for i, d := range out {
		if improvements, ok := c.LearnedPatterns[d.DeltaType]; ok && len(improvements) > 0 {
			var sum float64
			for _, v := range improvements {
				sum += v
			}
			avg := sum / float64(len(improvements))
			out[i].EstimatedBenefit = clamp01(d.EstimatedBenefit * (1 + avg))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EstimatedBenefit > out[j].EstimatedBenefit })
	return out
}
