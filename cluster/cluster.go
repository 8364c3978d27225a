// Package cluster implements the cluster optimizer (C5): it groups tool
// variants by embedding similarity, runs an iterative candidate-generation
// and promotion loop, and applies a trimming policy shaped by an
// evolutionary-pressure preset. It reuses
// vectorstore.CosineSimilarity for the similarity metric the
// original computed with numpy.
package cluster

import (
	"math"
	"time"

	"github.com/toolforge/forge/vectorstore"
)

// VariantStatus tracks a variant's position in the promotion lifecycle.
type VariantStatus string

const (
	VariantCanonical  VariantStatus = "canonical"
	VariantActive     VariantStatus = "active"
	VariantArchived   VariantStatus = "archived"
	VariantDeprecated VariantStatus = "deprecated"
)

// NodeType classifies what kind of artifact a variant represents, since
// fitness weights default differently per kind (a function cares more about
// latency; a workflow cares more about success rate).
type NodeType string

const (
	NodeFunction    NodeType = "function"
	NodeSubWorkflow NodeType = "sub_workflow"
	NodeWorkflow    NodeType = "workflow"
	NodePrompt      NodeType = "prompt"
	NodePattern     NodeType = "pattern"
)

// FitnessWeights weighs the normalized metrics that compose a fitness score.
// The zero value is invalid; use DefaultFitnessWeights or
// FitnessWeightsForNodeType.
type FitnessWeights struct {
	Latency    float64
	Memory     float64
	CPU        float64
	Success    float64
	Coverage   float64
}

// DefaultFitnessWeights are the balanced defaults; per-node-type configs
// override them.
var DefaultFitnessWeights = FitnessWeights{Latency: 0.25, Memory: 0.15, CPU: 0.10, Success: 0.30, Coverage: 0.20}

// FitnessWeightsForNodeType returns the node-type-specific weight presets
// carried over from the original optimizer's per-node-type defaults.
func FitnessWeightsForNodeType(t NodeType) FitnessWeights {
	switch t {
	case NodeFunction:
		return FitnessWeights{Latency: 0.30, Memory: 0.20, CPU: 0.15, Success: 0.25, Coverage: 0.10}
	case NodeWorkflow, NodeSubWorkflow:
		return FitnessWeights{Latency: 0.20, Memory: 0.10, CPU: 0.10, Success: 0.40, Coverage: 0.20}
	case NodePrompt, NodePattern:
		return FitnessWeights{Latency: 0.15, Memory: 0.05, CPU: 0.05, Success: 0.50, Coverage: 0.25}
	default:
		return DefaultFitnessWeights
	}
}

// PerformanceMetrics holds the raw measurements a fitness score normalizes.
type PerformanceMetrics struct {
	LatencyMs    float64
	MemoryMB     float64
	CPUPercent   float64
	SuccessRate  float64
	ErrorCount   int
	UsageCount   int
	TestCoverage float64
}

// FitnessScore computes the weighted composite
//
//	w_lat·(1 − lat/1000) + w_mem·(1 − mem/100) + w_cpu·(1 − cpu/100)
//	  + w_ok·success_rate + w_cov·coverage
//
// clamped to [0,1].
func (m PerformanceMetrics) FitnessScore(w FitnessWeights) float64 {
	score := w.Latency*clamp01(1-m.LatencyMs/1000) +
		w.Memory*clamp01(1-m.MemoryMB/100) +
		w.CPU*clamp01(1-m.CPUPercent/100) +
		w.Success*clamp01(m.SuccessRate) +
		w.Coverage*clamp01(m.TestCoverage)
	return clamp01(score)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// SemanticDelta is one candidate change a variant synthesis step can apply.
type SemanticDelta struct {
	DeltaType        string
	Description      string
	ImpactAreas      []string
	EstimatedBenefit float64 // [0,1]
	RiskLevel        float64 // [0,1]
}

// ArtifactVariant is one candidate derived from (or equal to) an existing
// tool version within a cluster.
type ArtifactVariant struct {
	VariantID      string
	ArtifactID     string // the tool_id this variant belongs to
	Version        string
	NodeType       NodeType
	Content        string
	Embedding      []float32
	Status         VariantStatus
	Performance    PerformanceMetrics
	CreatedAt      time.Time
	ParentID       string
	ChildrenIDs    []string
	SemanticDeltas []SemanticDelta
	Metadata       map[string]string
}

// SimilarityTo returns the cosine similarity between v and other's
// embeddings.
func (v ArtifactVariant) SimilarityTo(other ArtifactVariant) float64 {
	return vectorstore.CosineSimilarity(v.Embedding, other.Embedding)
}

// FitnessScore computes v's fitness under w; a convenience wrapper over
// v.Performance.FitnessScore so callers read it as a variant property,
// matching the original's object model.
func (v ArtifactVariant) FitnessScore(w FitnessWeights) float64 {
	return v.Performance.FitnessScore(w)
}

// IsLeaf reports whether v has no recorded children, i.e. it is a lineage
// endpoint the trimming policy must preserve.
func (v ArtifactVariant) IsLeaf() bool {
	return len(v.ChildrenIDs) == 0
}

// OptimizationIteration records one pass of the promotion loop.
type OptimizationIteration struct {
	IterationNumber int
	Candidate       ArtifactVariant
	Validation      ValidationResult
	Promoted        bool
	ArchivedIDs     []string
	Insights        []string
	Timestamp       time.Time
}

// OptimizationCluster groups variants whose embeddings are within
// SimilarityThreshold of the canonical variant.
type OptimizationCluster struct {
	ClusterID           string
	Canonical           ArtifactVariant
	Alternates          []ArtifactVariant
	SimilarityThreshold float64 // default 0.96
	OptimizationHistory []OptimizationIteration
	LearnedPatterns     map[string][]float64 // delta_type -> observed fitness improvements
}

// NewOptimizationCluster constructs a cluster around canonical with the
// default similarity threshold and an empty learned-pattern table.
func NewOptimizationCluster(clusterID string, canonical ArtifactVariant) *OptimizationCluster {
	return &OptimizationCluster{
		ClusterID:           clusterID,
		Canonical:           canonical,
		SimilarityThreshold: 0.96,
		LearnedPatterns:     make(map[string][]float64),
	}
}

// Variants returns the canonical variant followed by every alternate.
func (c *OptimizationCluster) Variants() []ArtifactVariant {
	out := make([]ArtifactVariant, 0, 1+len(c.Alternates))
	out = append(out, c.Canonical)
	out = append(out, c.Alternates...)
	return out
}

// VariantsBySimilarity returns every variant in c whose embedding is within
// c.SimilarityThreshold of the canonical's, the canonical always included.
func (c *OptimizationCluster) VariantsBySimilarity() []ArtifactVariant {
	out := []ArtifactVariant{c.Canonical}
	for _, v := range c.Alternates {
		if c.Canonical.SimilarityTo(v) >= c.SimilarityThreshold {
			out = append(out, v)
		}
	}
	return out
}

// MedianFitness returns the median fitness across every variant in the
// cluster under w.
func (c *OptimizationCluster) MedianFitness(w FitnessWeights) float64 {
	variants := c.Variants()
	scores := make([]float64, len(variants))
	for i, v := range variants {
		scores[i] = v.FitnessScore(w)
	}
	return median(scores)
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// ExtractSemanticDeltas collects every SemanticDelta recorded across the
// cluster's variants, deduplicated by (delta_type, description) and keeping
// the highest estimated benefit seen for each, sorted by benefit descending.
func (c *OptimizationCluster) ExtractSemanticDeltas() []SemanticDelta {
	type key struct{ kind, desc string }
	best := make(map[key]SemanticDelta)
	for _, v := range c.Variants() {
		for _, d := range v.SemanticDeltas {
			k := key{d.DeltaType, d.Description}
			if existing, ok := best[k]; !ok || d.EstimatedBenefit > existing.EstimatedBenefit {
				best[k] = d
			}
		}
	}
	out := make([]SemanticDelta, 0, len(best))
	for _, d := range best {
		out = append(out, d)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].EstimatedBenefit < out[j].EstimatedBenefit; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
