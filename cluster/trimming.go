package cluster

import "time"

// PressurePreset selects one of the evolutionary-pressure presets, each
// adjusting similarity threshold, max distance, minimum cluster size, and a
// specialization bias together.
type PressurePreset string

const (
	PressureGranular PressurePreset = "granular" // tighter clusters, more specialization
	PressureBalanced PressurePreset = "balanced" // defaults
	PressureGeneric  PressurePreset = "generic"  // looser clusters, fewer specializations
)

// PressureSettings is the bundle of tunables one PressurePreset resolves to.
type PressureSettings struct {
	SimilarityThreshold float64
	MaxDistance         float64
	MinClusterSize      int
	SpecializationBias  float64
}

// Resolve returns the concrete settings for p, defaulting unknown presets to
// balanced.
func (p PressurePreset) Resolve() PressureSettings {
	switch p {
	case PressureGranular:
		return PressureSettings{SimilarityThreshold: 0.98, MaxDistance: 0.20, MinClusterSize: 2, SpecializationBias: 0.8}
	case PressureGeneric:
		return PressureSettings{SimilarityThreshold: 0.90, MaxDistance: 0.40, MinClusterSize: 4, SpecializationBias: 0.2}
	default:
		return PressureSettings{SimilarityThreshold: 0.96, MaxDistance: 0.30, MinClusterSize: 3, SpecializationBias: 0.5}
	}
}

// TrimPolicy is the ported rag_cluster_optimizer.TrimmingPolicy: thresholds
// the trimming pass applies to every non-canonical variant in a cluster.
type TrimPolicy struct {
	MinSimilarityToFittest   float64
	PreserveHighPerfThreshold float64
	MinUsageCount            int
	NeverUsedGracePeriod     time.Duration
	MinFitnessAbsolute       float64
	MaxDistanceFromFittest   float64
	AlwaysKeepCanonical      bool
	KeepHighCoverageVariants bool
	PreserveLineageEndpoints bool
}

// DefaultTrimPolicy holds the stock thresholds presets adjust from.
var DefaultTrimPolicy = TrimPolicy{
	MinSimilarityToFittest:    0.70,
	PreserveHighPerfThreshold: 0.85,
	MinUsageCount:             1,
	NeverUsedGracePeriod:      30 * 24 * time.Hour,
	MinFitnessAbsolute:        0.50,
	MaxDistanceFromFittest:    0.30,
	AlwaysKeepCanonical:       true,
	KeepHighCoverageVariants:  true,
	PreserveLineageEndpoints:  true,
}

// ApplyPressure returns a copy of p with the similarity and distance
// thresholds replaced by preset's resolved settings, matching the original's
// apply_evolutionary_adjustments.
func (p TrimPolicy) ApplyPressure(preset PressurePreset) TrimPolicy {
	settings := preset.Resolve()
	p.MinSimilarityToFittest = settings.SimilarityThreshold - 0.26 // keeps the floor well below the cluster threshold
	p.MaxDistanceFromFittest = settings.MaxDistance
	return p
}

// ShouldPrune implements the six-rule cascade: never prune
// canonical; keep high-coverage variants; keep lineage leaves; prune on
// poor-fitness-and-far-from-fittest; prune on low-similarity unless
// high-fitness; prune on never-used past the grace period unless
// high-fitness; default keep.
func ShouldPrune(v ArtifactVariant, fittest ArtifactVariant, w FitnessWeights, p TrimPolicy, now time.Time) (bool, string) {
	if p.AlwaysKeepCanonical && v.Status == VariantCanonical {
		return false, "canonical is never pruned"
	}

	if p.KeepHighCoverageVariants && v.Performance.TestCoverage >= 0.90 {
		return false, "high test coverage preserved"
	}

	if p.PreserveLineageEndpoints && v.IsLeaf() {
		return false, "lineage leaf preserved"
	}

	fitness := v.FitnessScore(w)
	fittestFitness := fittest.FitnessScore(w)
	distance := fittestFitness - fitness

	if fitness < p.MinFitnessAbsolute && distance > p.MaxDistanceFromFittest {
		return true, "fitness below floor and far from fittest"
	}

	similarity := v.SimilarityTo(fittest)
	if similarity < p.MinSimilarityToFittest && fitness < p.PreserveHighPerfThreshold {
		return true, "similarity below floor and not high-performing"
	}

	if v.Performance.UsageCount < p.MinUsageCount {
		age := now.Sub(v.CreatedAt)
		if age > p.NeverUsedGracePeriod && fitness < p.PreserveHighPerfThreshold {
			return true, "never used past grace period"
		}
	}

	return false, "no pruning rule matched"
}

// TrimResult is the outcome of one trimming pass over a cluster.
type TrimResult struct {
	Kept   []ArtifactVariant
	Pruned []ArtifactVariant
	Reasons map[string]string // variant_id -> reason, for both kept and pruned
}

// TrimCluster finds the fittest variant in c (canonical plus alternates),
// applies ShouldPrune to every alternate, marks pruned variants deprecated,
// and returns the partition. The canonical is always kept.
func TrimCluster(c *OptimizationCluster, w FitnessWeights, p TrimPolicy, now time.Time) TrimResult {
	fittest := c.Canonical
	fittestFitness := fittest.FitnessScore(w)
	for _, v := range c.Alternates {
		if f := v.FitnessScore(w); f > fittestFitness {
			fittest, fittestFitness = v, f
		}
	}

	result := TrimResult{Reasons: make(map[string]string)}
	result.Kept = append(result.Kept, c.Canonical)
	result.Reasons[c.Canonical.VariantID] = "canonical is never pruned"

	remaining := c.Alternates[:0:0]
	for _, v := range c.Alternates {
		prune, reason := ShouldPrune(v, fittest, w, p, now)
		result.Reasons[v.VariantID] = reason
		if prune {
			v.Status = VariantDeprecated
			result.Pruned = append(result.Pruned, v)
			continue
		}
		result.Kept = append(result.Kept, v)
		remaining = append(remaining, v)
	}
	c.Alternates = remaining
	return result
}
