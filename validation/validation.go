// Package validation implements the validation council (C6): an ordered
// pipeline of stages that produces a pass/fail outcome with per-stage
// scores and updates a manifest's trust level.
package validation

import (
	"context"
	"fmt"

	"github.com/toolforge/forge/manifest"
	"github.com/toolforge/forge/manifeststore"
	"github.com/toolforge/forge/telemetry"
)

type (
	// StageResult is the outcome of one validation stage.
	StageResult struct {
		Name      string
		Success   bool
		Score     float64
		Vacuous   bool // true when the stage passed only because its artifact was missing
		Errors    []string
	}

	// Outcome is the result of a full validation run.
	Outcome struct {
		OK              bool
		ValidationScore float64
		Stages          []StageResult
	}

	// Runner executes one validation stage against a manifest and returns
	// its result. Implementations wrap the concrete tool (BDD runner, unit
	// test runner, load tester, static scanner, LLM reviewer panel).
	// Runner returns ok=false when the stage's artifact is absent so the
	// council can apply the vacuous-pass rule instead of treating an
	// absent artifact as a Runner error.
	Runner interface {
		Run(ctx context.Context, m manifest.ToolManifest) (result StageResult, artifactPresent bool, err error)
	}

	// Stage pairs a named Runner with its position in the council's
	// ordered pipeline.
	Stage struct {
		Name   string
		Runner Runner
	}

	// Council orchestrates the ordered stage pipeline and trust
	// reassignment.
	Council struct {
		store   manifeststore.Store
		stages  []Stage
		logger  telemetry.Logger
		metrics telemetry.Metrics
	}

	// Options configures a Council.
	Options struct {
		// Store persists manifests; the council rewrites and re-registers
		// the manifest on every trust transition. Required.
		Store manifeststore.Store
		// Stages is the ordered pipeline to run when validate is called
		// without an explicit stage override. Required.
		Stages []Stage
		// Logger receives structured diagnostic logs. Defaults to a no-op.
		Logger telemetry.Logger
		// Metrics receives instrumentation. Defaults to a no-op.
		Metrics telemetry.Metrics
	}
)

// New constructs a Council from opts.
func New(opts Options) (*Council, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("validation: manifest store is required")
	}
	if len(opts.Stages) == 0 {
		return nil, fmt.Errorf("validation: at least one stage is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Council{store: opts.Store, stages: opts.Stages, logger: logger, metrics: metrics}, nil
}

// Validate runs tool_id/version through stages (or the council's default
// pipeline when stages is nil), computes the aggregate validation score,
// and rewrites the manifest's trust level when the outcome crosses a
// threshold.
func (c *Council) Validate(ctx context.Context, toolID, version string, stages []Stage) (Outcome, error) {
	m, err := c.store.Get(ctx, toolID, version)
	if err != nil {
		return Outcome{}, fmt.Errorf("validation: load manifest %s@%s: %w", toolID, version, err)
	}

	pipeline := stages
	if pipeline == nil {
		pipeline = c.stages
	}

	results := make([]StageResult, 0, len(pipeline))
	ok := true
	for _, stage := range pipeline {
		result, present, runErr := stage.Runner.Run(ctx, m)
		switch {
		case runErr != nil:
			result = StageResult{Name: stage.Name, Success: false, Score: 0, Errors: []string{runErr.Error()}}
		case !present:
			result = StageResult{Name: stage.Name, Success: true, Score: 1.0, Vacuous: true}
		default:
			result.Name = stage.Name
		}
		results = append(results, result)
		if !result.Success {
			ok = false
		}
		c.logger.Info(ctx, "validation stage complete", "tool_id", toolID, "version", version, "stage", stage.Name, "success", result.Success, "vacuous", result.Vacuous)
	}

	score := aggregateScore(results)
	outcome := Outcome{OK: ok, ValidationScore: score, Stages: results}

	newLevel := trustLevelForScore(score)
	if newLevel != m.Trust.Level {
		transition := manifest.ClassifyTrustTransition(m.Trust.Level, newLevel)
		if transition == manifest.TrustUpgrade && !ok {
			// A successful run is required for an upgrade; a failing run
			// that happens to score high on remaining stages must not
			// promote trust.
		} else {
			m.Trust.Level = newLevel
		}
	}
	m.Trust.ValidationScore = score
	if err := c.store.Save(ctx, m); err != nil {
		return Outcome{}, fmt.Errorf("validation: re-register manifest %s@%s: %w", toolID, version, err)
	}

	c.metrics.RecordGauge("validation_score", score, "tool_id", toolID)
	return outcome, nil
}

// aggregateScore averages per-stage scores; an empty stage list scores 0.
func aggregateScore(results []StageResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	return sum / float64(len(results))
}

// trustLevelForScore maps a validation score to a trust level:
// ≥0.95 core, ≥0.80 third_party, else experimental.
func trustLevelForScore(score float64) manifest.TrustLevel {
	switch {
	case score >= 0.95:
		return manifest.TrustCore
	case score >= 0.80:
		return manifest.TrustThirdParty
	default:
		return manifest.TrustExperimental
	}
}
