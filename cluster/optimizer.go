package cluster

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/toolforge/forge/telemetry"
)

// PromotionEpsilon is the minimum fitness improvement a candidate must clear
// over the canonical's fitness to be promoted; an improvement of exactly
// 0.05 does NOT promote.
const PromotionEpsilon = 0.05

// ArchivalMargin: alternates whose fitness falls more than this far below
// a freshly promoted candidate's fitness are archived alongside the old
// canonical.
const ArchivalMargin = 0.1

// ValidationResult is the outcome of validating one candidate variant.
type ValidationResult struct {
	Passed               bool
	FitnessScore         float64
	UnitTestPassRate     float64
	IntegrationPassRate  float64
	FunctionalPassRate   float64
	BenchmarkLatencyMs   float64
	MutationKillRate     float64
	Errors               []string
}

// Validator measures a candidate and returns its validation outcome.
// Implementations typically run the candidate through the validation
// council's stages and translate the outcome into a ValidationResult.
type Validator interface {
	Validate(ctx context.Context, candidate ArtifactVariant) (ValidationResult, error)
}

// ValidatorFunc adapts a plain function to the Validator interface.
type ValidatorFunc func(ctx context.Context, candidate ArtifactVariant) (ValidationResult, error)

func (f ValidatorFunc) Validate(ctx context.Context, candidate ArtifactVariant) (ValidationResult, error) {
	return f(ctx, candidate)
}

// defaultValidator reproduces the original's fallback validation: it runs no
// real tests, trusting the candidate's synthesized PerformanceMetrics, and
// reports a fitness derived straight from them.
type defaultValidator struct {
	weights FitnessWeights
}

func (d defaultValidator) Validate(_ context.Context, candidate ArtifactVariant) (ValidationResult, error) {
	fitness := candidate.FitnessScore(d.weights)
	return ValidationResult{
		Passed:              true,
		FitnessScore:        fitness,
		UnitTestPassRate:    candidate.Performance.SuccessRate,
		IntegrationPassRate: candidate.Performance.SuccessRate,
		FunctionalPassRate:  candidate.Performance.SuccessRate,
		BenchmarkLatencyMs:  candidate.Performance.LatencyMs,
		MutationKillRate:    candidate.Performance.TestCoverage,
	}, nil
}

// Optimizer runs the iterative promotion/archival loop and its
// companion trimming and workflow-characterization passes.
type Optimizer struct {
	store     Store
	validator Validator
	weights   FitnessWeights
	maxIter   int
	strategy  OptimizationStrategy
	rng       *rand.Rand
	logger    telemetry.Logger
	metrics   telemetry.Metrics
}

// Options configures an Optimizer.
type Options struct {
	// Store persists clusters across optimization passes. Required.
	Store Store
	// Validator measures candidates. When nil, a default fallback
	// validator derives fitness directly from synthesized metrics.
	Validator Validator
	// Weights are the fitness weights applied across the cluster. Defaults
	// to DefaultFitnessWeights.
	Weights FitnessWeights
	// MaxIterations bounds the promotion loop. Defaults to 10.
	MaxIterations int
	// Strategy selects the candidate-generation strategy. Defaults to
	// StrategyBestOfBreed.
	Strategy OptimizationStrategy
	// Rand supplies randomness for the radical strategy. Defaults to a
	// process-seeded source.
	Rand *rand.Rand
	// Logger receives structured diagnostic logs. Defaults to a no-op.
	Logger telemetry.Logger
	// Metrics receives instrumentation. Defaults to a no-op.
	Metrics telemetry.Metrics
}

// New constructs an Optimizer from opts.
func New(opts Options) (*Optimizer, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("cluster: store is required")
	}
	weights := opts.Weights
	if weights == (FitnessWeights{}) {
		weights = DefaultFitnessWeights
	}
	validator := opts.Validator
	if validator == nil {
		validator = defaultValidator{weights: weights}
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyBestOfBreed
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Optimizer{
		store: opts.Store, validator: validator, weights: weights,
		maxIter: maxIter, strategy: strategy, rng: rng,
		logger: logger, metrics: metrics,
	}, nil
}

// OptimizeCluster runs the bounded iterative loop: generate a
// candidate, validate it, promote when it clears canonical fitness by more
// than PromotionEpsilon (archiving the old canonical and any alternate more
// than ArchivalMargin below the new canonical's fitness), learn from the
// promotion, and stop on the first iteration that does not promote.
func (o *Optimizer) OptimizeCluster(ctx context.Context, c *OptimizationCluster) ([]OptimizationIteration, error) {
	var iterations []OptimizationIteration

	for i := 0; i < o.maxIter; i++ {
		candidate := GenerateCandidate(c, o.strategy, i, o.weights, o.rng)
		validation, err := o.validator.Validate(ctx, candidate)
		if err != nil {
			validation = ValidationResult{Passed: false, Errors: []string{err.Error()}}
		}
		canonicalFitness := c.Canonical.FitnessScore(o.weights)
		promote := validation.Passed && validation.FitnessScore > canonicalFitness+PromotionEpsilon

		iteration := OptimizationIteration{
			IterationNumber: i,
			Candidate:       candidate,
			Validation:      validation,
			Timestamp:       time.Now(),
		}

		if !promote {
			iteration.Insights = append(iteration.Insights, "no promotion: candidate fitness did not clear canonical + epsilon")
			iterations = append(iterations, iteration)
			c.OptimizationHistory = append(c.OptimizationHistory, iteration)
			o.logger.Info(ctx, "cluster optimization iteration stopped", "cluster_id", c.ClusterID, "iteration", i)
			break
		}

		oldCanonical := c.Canonical
		oldCanonical.Status = VariantArchived
		candidate.Status = VariantCanonical
		candidate.ParentID = oldCanonical.VariantID
		oldCanonical.ChildrenIDs = append(oldCanonical.ChildrenIDs, candidate.VariantID)

		var kept []ArtifactVariant
		archived := []string{oldCanonical.VariantID}
		for _, alt := range c.Alternates {
			if alt.FitnessScore(o.weights) < validation.FitnessScore-ArchivalMargin {
				alt.Status = VariantArchived
				archived = append(archived, alt.VariantID)
				continue
			}
			kept = append(kept, alt)
		}
		kept = append(kept, oldCanonical)
		c.Alternates = kept
		c.Canonical = candidate
		iteration.Promoted = true
		iteration.ArchivedIDs = archived
		iteration.Insights = append(iteration.Insights, fmt.Sprintf("promoted candidate with fitness %.3f over canonical %.3f", validation.FitnessScore, canonicalFitness))

		o.learnFromPromotion(c, candidate, oldCanonical)

		iterations = append(iterations, iteration)
		c.OptimizationHistory = append(c.OptimizationHistory, iteration)
		o.metrics.IncCounter("cluster_promotions_total", 1, "cluster_id", c.ClusterID)
		o.logger.Info(ctx, "cluster candidate promoted", "cluster_id", c.ClusterID, "iteration", i, "fitness", validation.FitnessScore)
	}

	if err := o.store.Save(ctx, *c); err != nil {
		return iterations, fmt.Errorf("cluster: save optimized cluster: %w", err)
	}
	return iterations, nil
}

// learnFromPromotion records the fitness improvement achieved by each delta
// kind carried by the newly promoted canonical, so future candidate
// generation weighs those delta kinds more favorably.
func (o *Optimizer) learnFromPromotion(c *OptimizationCluster, newCanonical, oldCanonical ArtifactVariant) {
	improvement := newCanonical.FitnessScore(o.weights) - oldCanonical.FitnessScore(o.weights)
	if c.LearnedPatterns == nil {
		c.LearnedPatterns = make(map[string][]float64)
	}
	for _, delta := range newCanonical.SemanticDeltas {
		c.LearnedPatterns[delta.DeltaType] = append(c.LearnedPatterns[delta.DeltaType], improvement)
	}
}

// TrimmingPass runs TrimCluster over c using o's configured weights and
// persists the result.
func (o *Optimizer) TrimmingPass(ctx context.Context, c *OptimizationCluster, p TrimPolicy) (TrimResult, error) {
	result := TrimCluster(c, o.weights, p, time.Now())
	if err := o.store.Save(ctx, *c); err != nil {
		return result, fmt.Errorf("cluster: save trimmed cluster: %w", err)
	}
	o.logger.Info(ctx, "cluster trimming pass complete", "cluster_id", c.ClusterID, "pruned", len(result.Pruned))
	return result, nil
}

// WorkflowTask is one task-level slot a workflow characterization run fills
// with the best-fit candidate variant.
type WorkflowTask struct {
	TaskID     string
	Candidates []ArtifactVariant
	Runs       int // sample-run count carried with the task; CharacterizeWorkflow does not read it
}

// CharacterizationResult is the best candidate found for one WorkflowTask.
type CharacterizationResult struct {
	TaskID        string
	Best          ArtifactVariant
	Score         float64
	SpecializedAs string // non-empty when a specialization trigger fired
}

// SpecializationTrigger fires CharacterizeWorkflow's specialization step
// when a task's best candidate crosses threshold.
type SpecializationTrigger struct {
	Condition string // e.g. "score_above"
	Threshold float64
	Action    string // e.g. the specialized variant tag to emit
}

// CharacterizeWorkflow runs the task-oriented variant characterization
// pass: for each task, score every candidate via the fitness
// formula and pick the best; when a trigger's condition is met, record the
// specialization. Candidates are scored from their recorded
// PerformanceMetrics; nothing is executed. The optimize CLI command does not
// call this method; it runs OptimizeCluster only.
func (o *Optimizer) CharacterizeWorkflow(_ context.Context, tasks []WorkflowTask, triggers []SpecializationTrigger) []CharacterizationResult {
	results := make([]CharacterizationResult, 0, len(tasks))
	for _, task := range tasks {
		var best ArtifactVariant
		bestScore := -1.0
		for _, cand := range task.Candidates {
			score := cand.FitnessScore(o.weights)
			if score > bestScore {
				best, bestScore = cand, score
			}
		}
		result := CharacterizationResult{TaskID: task.TaskID, Best: best, Score: bestScore}
		for _, trig := range triggers {
			if trig.Condition == "score_above" && bestScore > trig.Threshold {
				result.SpecializedAs = trig.Action
				break
			}
		}
		results = append(results, result)
	}
	return results
}
