// Package consensus implements the forge's multi-dimensional scoring
// engine (C4): it aggregates execution metrics, validation results, and
// cost signals into a single ConsensusScore per manifest version, with
// constraint-driven reweighting and read-time temporal decay.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/toolforge/forge/manifest"
	"github.com/toolforge/forge/manifeststore"
	"github.com/toolforge/forge/telemetry"
)

// ErrInsufficientEvidence is returned by Score when every dimension source
// is missing.
var ErrInsufficientEvidence = errors.New("consensus: insufficient evidence")

// DefaultWeights are the default per-dimension weights, applied before any
// constraint-driven reweighting.
var DefaultWeights = map[string]float64{
	"correctness": 0.30,
	"latency":     0.25,
	"cost":        0.15,
	"safety":      0.20,
	"resilience":  0.10,
}

// DecayLambda and DecayWindowDays parameterize the read-time exponential
// decay applied to stored ConsensusScore weights: weight × exp(−λ·d/D).
const (
	DecayLambda     = 0.1
	DecayWindowDays = 30.0
)

type (
	// ValidationResult summarizes the latest validation council run for a
	// manifest version, feeding the correctness and safety dimensions.
	ValidationResult struct {
		ValidationScore float64
		Stages          []StageResult
	}

	// StageResult is one validation council stage outcome.
	StageResult struct {
		Name  string
		Score float64
	}

	// Constraints adjust dimension weights before aggregation. A zero
	// value field means "constraint absent".
	Constraints struct {
		HasLatencyTarget bool
		StrictRisk       bool
		HasMaxCostPerCall bool
	}

	// CostLookup resolves the external, optional cost-per-call signal for
	// a manifest version. ok=false means the source is absent, defaulting
	// the cost dimension's value to 0.8.
	CostLookup func(ctx context.Context, toolID, version string) (normalizedCost float64, ok bool)

	// Engine computes and persists ConsensusScore records.
	Engine struct {
		store   manifeststore.Store
		scores  ScoreStore
		cost    CostLookup
		logger  telemetry.Logger
		metrics telemetry.Metrics
	}

	// Options configures an Engine.
	Options struct {
		// ManifestStore provides manifests for record_execution lookups.
		// Required.
		ManifestStore manifeststore.Store
		// ScoreStore appends and reads ConsensusScore records. Required.
		ScoreStore ScoreStore
		// Cost resolves the optional external cost-per-call signal. When
		// nil, the cost dimension always uses its 0.8 default.
		Cost CostLookup
		// Logger receives structured diagnostic logs. Defaults to a no-op.
		Logger telemetry.Logger
		// Metrics receives instrumentation. Defaults to a no-op.
		Metrics telemetry.Metrics
	}
)

// New constructs an Engine from opts.
func New(opts Options) (*Engine, error) {
	if opts.ManifestStore == nil {
		return nil, errors.New("consensus: manifest store is required")
	}
	if opts.ScoreStore == nil {
		return nil, errors.New("consensus: score store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Engine{
		store:   opts.ManifestStore,
		scores:  opts.ScoreStore,
		cost:    opts.Cost,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// dimension is an internal accumulator before the ConsensusScore's public
// Scores map and Evaluators list are built from it.
type dimension struct {
	name   string
	value  float64
	weight float64
	source string
}

// Score synthesizes dimensions from the manifest's execution history and
// the given validation result, reweights by constraints, stores the
// resulting ConsensusScore, and returns it. It returns
// ErrInsufficientEvidence if every dimension source is missing.
func (e *Engine) Score(ctx context.Context, toolID, version string, validation *ValidationResult, constraints *Constraints) (manifest.ConsensusScore, error) {
	m, err := e.store.Get(ctx, toolID, version)
	if err != nil {
		return manifest.ConsensusScore{}, fmt.Errorf("consensus: load manifest %s@%s: %w", toolID, version, err)
	}

	dims := e.collectDimensions(ctx, m, validation)
	if len(dims) == 0 {
		return manifest.ConsensusScore{}, ErrInsufficientEvidence
	}

	weights := DefaultWeights
	if constraints != nil {
		weights = adjustWeights(constraints)
	}
	weights = renormalizeForPresent(weights, dims)

	var total float64
	scores := make(map[string]float64, len(dims))
	evaluators := make([]manifest.Evaluator, 0, len(dims))
	for _, d := range dims {
		w := weights[d.name]
		contribution := d.value * w
		total += contribution
		scores[d.name] = d.value
		evaluators = append(evaluators, manifest.Evaluator{
			ID:           d.source + "_" + d.name,
			Contribution: contribution,
		})
	}

	finalWeight := math.Max(0, math.Min(1, total))
	record := manifest.ConsensusScore{
		ToolID:     toolID,
		Version:    version,
		Scores:     scores,
		Weight:     finalWeight,
		Evaluators: evaluators,
		Timestamp:  timeNow(),
	}

	if err := e.scores.Append(ctx, record); err != nil {
		return manifest.ConsensusScore{}, fmt.Errorf("consensus: append score: %w", err)
	}
	e.logger.Info(ctx, "consensus score computed", "tool_id", toolID, "version", version, "weight", finalWeight)
	e.metrics.RecordGauge("consensus_weight", finalWeight, "tool_id", toolID)
	return record, nil
}

// RecordExecution appends rec to the manifest's bounded execution window
// and triggers a rescore.
func (e *Engine) RecordExecution(ctx context.Context, toolID, version string, rec manifest.ExecutionRecord) error {
	m, err := e.store.Get(ctx, toolID, version)
	if err != nil {
		return fmt.Errorf("consensus: load manifest %s@%s: %w", toolID, version, err)
	}
	m.AppendExecution(rec)
	if err := e.store.Save(ctx, m); err != nil {
		return fmt.Errorf("consensus: save manifest %s@%s: %w", toolID, version, err)
	}
	if _, err := e.Score(ctx, toolID, version, nil, nil); err != nil && !errors.Is(err, ErrInsufficientEvidence) {
		return fmt.Errorf("consensus: rescore after execution: %w", err)
	}
	return nil
}

// collectDimensions derives the correctness, latency, cost, safety, and
// resilience dimensions from m's execution history and the given
// validation result. A dimension is
// omitted entirely when its source is missing, except cost, which falls
// back to 0.8; when that default is the only dimension, the result is
// empty.
func (e *Engine) collectDimensions(ctx context.Context, m manifest.ToolManifest, validation *ValidationResult) []dimension {
	var dims []dimension
	history := m.Metrics.ExecutionHistory

	if validation != nil {
		dims = append(dims, dimension{name: "correctness", value: validation.ValidationScore, weight: DefaultWeights["correctness"], source: "validation"})
	}

	if successLatencies := successfulLatencies(history); len(successLatencies) > 0 {
		avg := mean(successLatencies)
		latencyScore := math.Max(0, 1.0-avg/1000.0)
		dims = append(dims, dimension{name: "latency", value: latencyScore, weight: DefaultWeights["latency"], source: "execution"})
	}

	costValue := 0.8
	costSource := "cost_tracker"
	costFromTracker := false
	if e.cost != nil {
		if normalized, ok := e.cost(ctx, m.ToolID, m.Version); ok {
			costValue = 1.0 - normalized
			costFromTracker = true
		}
	}
	dims = append(dims, dimension{name: "cost", value: costValue, weight: DefaultWeights["cost"], source: costSource})

	if validation != nil {
		if safetyScore, ok := meanSafetyScore(validation.Stages); ok {
			dims = append(dims, dimension{name: "safety", value: safetyScore, weight: DefaultWeights["safety"], source: "security_scanner"})
		}
	}

	if len(history) > 0 {
		successes := 0
		for _, rec := range history {
			if rec.Success {
				successes++
			}
		}
		resilience := float64(successes) / float64(len(history))
		dims = append(dims, dimension{name: "resilience", value: resilience, weight: DefaultWeights["resilience"], source: "execution"})
	}

	// The cost default alone is not evidence: with no other source present, report none.
	if len(dims) == 1 && !costFromTracker {
		return nil
	}
	return dims
}

func successfulLatencies(history []manifest.ExecutionRecord) []float64 {
	var latencies []float64
	for _, rec := range history {
		if rec.Success {
			latencies = append(latencies, float64(rec.Latency.Milliseconds()))
		}
	}
	return latencies
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func meanSafetyScore(stages []StageResult) (float64, bool) {
	var matched []float64
	for _, s := range stages {
		lower := strings.ToLower(s.Name)
		if strings.Contains(lower, "security") || strings.Contains(lower, "safety") {
			matched = append(matched, s.Score)
		}
	}
	if len(matched) == 0 {
		return 0, false
	}
	return mean(matched), true
}

// adjustWeights applies constraint-driven reweighting: a
// latency target raises latency to 0.40 (pulling correctness to 0.25 and
// cost to 0.10), a strict risk target raises safety to 0.35 (pulling
// correctness to 0.25 and latency to 0.15), and a max-cost-per-call
// constraint raises cost to 0.30 (pulling correctness to 0.25 and latency to
// 0.20). Branches apply in order and later ones overwrite earlier ones on
// shared keys when more than one constraint is present. Renormalization to
// sum 1 happens after.
func adjustWeights(c *Constraints) map[string]float64 {
	weights := make(map[string]float64, len(DefaultWeights))
	for k, v := range DefaultWeights {
		weights[k] = v
	}
	if c.HasLatencyTarget {
		weights["latency"] = 0.40
		weights["correctness"] = 0.25
		weights["cost"] = 0.10
	}
	if c.StrictRisk {
		weights["safety"] = 0.35
		weights["correctness"] = 0.25
		weights["latency"] = 0.15
	}
	if c.HasMaxCostPerCall {
		weights["cost"] = 0.30
		weights["correctness"] = 0.25
		weights["latency"] = 0.20
	}
	return weights
}

// renormalizeForPresent drops weights for dimensions absent from dims and
// rescales the remainder to sum to 1.
func renormalizeForPresent(weights map[string]float64, dims []dimension) map[string]float64 {
	var sum float64
	present := make(map[string]float64, len(dims))
	for _, d := range dims {
		w := weights[d.name]
		present[d.name] = w
		sum += w
	}
	if sum == 0 {
		return present
	}
	result := make(map[string]float64, len(present))
	for name, w := range present {
		result[name] = w / sum
	}
	return result
}

// DecayedWeight applies read-time exponential decay to a
// stored score's weight, given its age in days.
func DecayedWeight(weight float64, ageDays float64) float64 {
	return weight * math.Exp(-DecayLambda*ageDays/DecayWindowDays)
}

// AgeDays returns the age in days of a timestamp relative to now.
func AgeDays(timestamp time.Time, now time.Time) float64 {
	return now.Sub(timestamp).Hours() / 24.0
}

// timeNow is overridden in tests that need deterministic timestamps.
var timeNow = time.Now
