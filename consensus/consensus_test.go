package consensus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toolforge/forge/consensus"
	"github.com/toolforge/forge/manifest"
	"github.com/toolforge/forge/manifeststore"
)

func registerManifest(t *testing.T, store *manifeststore.MemoryStore, toolID, version string) {
	t.Helper()
	require.NoError(t, store.Save(context.Background(), manifest.ToolManifest{
		ToolID:    toolID,
		Version:   version,
		Name:      toolID,
		Type:      manifest.TypeNative,
		Status:    manifest.StatusActive,
		CreatedAt: time.Now(),
	}))
}

func TestScoreFailsWithoutAnyEvidence(t *testing.T) {
	ctx := context.Background()
	store := manifeststore.NewMemory()
	registerManifest(t, store, "parse_cron", "1.0.0")

	engine, err := consensus.New(consensus.Options{ManifestStore: store, ScoreStore: consensus.NewMemoryScoreStore()})
	require.NoError(t, err)

	_, err = engine.Score(ctx, "parse_cron", "1.0.0", nil, nil)
	require.ErrorIs(t, err, consensus.ErrInsufficientEvidence)
}

func TestScoreFromValidationOnly(t *testing.T) {
	ctx := context.Background()
	store := manifeststore.NewMemory()
	registerManifest(t, store, "parse_cron", "1.0.0")

	engine, err := consensus.New(consensus.Options{ManifestStore: store, ScoreStore: consensus.NewMemoryScoreStore()})
	require.NoError(t, err)

	score, err := engine.Score(ctx, "parse_cron", "1.0.0", &consensus.ValidationResult{ValidationScore: 0.9}, nil)
	require.NoError(t, err)
	require.InDelta(t, 0.9, score.Scores["correctness"], 1e-9)
	require.Contains(t, score.Scores, "cost") // cost dimension always present via 0.8 default
	require.Greater(t, score.Weight, 0.0)
}

func TestRecordExecutionAppendsAndRescores(t *testing.T) {
	ctx := context.Background()
	store := manifeststore.NewMemory()
	registerManifest(t, store, "summarize_pdf", "1.0.0")

	scores := consensus.NewMemoryScoreStore()
	engine, err := consensus.New(consensus.Options{ManifestStore: store, ScoreStore: scores})
	require.NoError(t, err)

	rec := manifest.ExecutionRecord{
		CallID:    "abc123",
		Latency:   200 * time.Millisecond,
		Success:   true,
		StartedAt: time.Now(),
		EndedAt:   time.Now(),
	}
	require.NoError(t, engine.RecordExecution(ctx, "summarize_pdf", "1.0.0", rec))

	m, err := store.Get(ctx, "summarize_pdf", "1.0.0")
	require.NoError(t, err)
	require.Len(t, m.Metrics.ExecutionHistory, 1)

	latest, ok, err := scores.Latest(ctx, "summarize_pdf", "1.0.0")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, latest.Scores, "latency")
	require.Contains(t, latest.Scores, "resilience")
}

func TestDecayedWeightReducesOlderScores(t *testing.T) {
	fresh := consensus.DecayedWeight(0.8, 0)
	aged := consensus.DecayedWeight(0.8, 30)
	require.InDelta(t, 0.8, fresh, 1e-9)
	require.Less(t, aged, fresh)
}

func TestAdjustWeightsRenormalizeSumsToOne(t *testing.T) {
	ctx := context.Background()
	store := manifeststore.NewMemory()
	registerManifest(t, store, "parse_cron", "1.0.0")
	m, err := store.Get(ctx, "parse_cron", "1.0.0")
	require.NoError(t, err)
	m.Metrics.ExecutionHistory = []manifest.ExecutionRecord{
		{Success: true, Latency: 100 * time.Millisecond},
		{Success: false},
	}
	require.NoError(t, store.Save(ctx, m))

	engine, err := consensus.New(consensus.Options{ManifestStore: store, ScoreStore: consensus.NewMemoryScoreStore()})
	require.NoError(t, err)

	score, err := engine.Score(ctx, "parse_cron", "1.0.0", &consensus.ValidationResult{ValidationScore: 0.7}, &consensus.Constraints{HasLatencyTarget: true})
	require.NoError(t, err)
	require.Greater(t, score.Weight, 0.0)
	require.LessOrEqual(t, score.Weight, 1.0)
}

// scoreAllDimensions registers a manifest with all five consensus dimensions
// present: correctness 0.9 (validation), latency 0.6 (400ms average over 9
// successes and 1 failure), cost 0.8 (default, no cost lookup wired), safety
// 0.8 (a "security_scan" stage), and resilience 0.9 (9/10 executions
// succeeded).
func scoreAllDimensions(t *testing.T, toolID string, constraints *consensus.Constraints) manifest.ConsensusScore {
	t.Helper()
	ctx := context.Background()
	store := manifeststore.NewMemory()
	registerManifest(t, store, toolID, "1.0.0")
	m, err := store.Get(ctx, toolID, "1.0.0")
	require.NoError(t, err)

	history := make([]manifest.ExecutionRecord, 0, 10)
	for i := 0; i < 9; i++ {
		history = append(history, manifest.ExecutionRecord{Success: true, Latency: 400 * time.Millisecond})
	}
	history = append(history, manifest.ExecutionRecord{Success: false})
	m.Metrics.ExecutionHistory = history
	require.NoError(t, store.Save(ctx, m))

	engine, err := consensus.New(consensus.Options{ManifestStore: store, ScoreStore: consensus.NewMemoryScoreStore()})
	require.NoError(t, err)

	validation := &consensus.ValidationResult{
		ValidationScore: 0.9,
		Stages:          []consensus.StageResult{{Name: "security_scan", Score: 0.8}},
	}
	score, err := engine.Score(ctx, toolID, "1.0.0", validation, constraints)
	require.NoError(t, err)
	return score
}

// TestAdjustWeightsLatencyTargetExactValue: with only a latency target
// constraint, weights become {latency: 0.40, correctness: 0.25, cost: 0.10,
// safety: 0.20, resilience: 0.10} (sum 1.05, renormalized).
// The expected aggregate is (0.9*0.25 + 0.6*0.40 + 0.8*0.10 + 0.8*0.20 +
// 0.9*0.10) / 1.05 = 0.795/1.05 ≈ 0.757.
func TestAdjustWeightsLatencyTargetExactValue(t *testing.T) {
	score := scoreAllDimensions(t, "parse_cron", &consensus.Constraints{HasLatencyTarget: true})
	require.InDelta(t, 0.757, score.Weight, 1e-3)
}

// TestAdjustWeightsStrictRiskExactValue covers the strict-risk branch:
// weights become {safety: 0.35, correctness: 0.25, latency: 0.15, cost: 0.15,
// resilience: 0.10}, which already sums to 1 so renormalization is a no-op.
// Expected aggregate: 0.9*0.25 + 0.6*0.15 + 0.8*0.15 + 0.8*0.35 + 0.9*0.10 =
// 0.805.
func TestAdjustWeightsStrictRiskExactValue(t *testing.T) {
	score := scoreAllDimensions(t, "summarize_pdf", &consensus.Constraints{StrictRisk: true})
	require.InDelta(t, 0.805, score.Weight, 1e-3)
}

// TestAdjustWeightsMaxCostPerCallExactValue covers the max-cost-per-call
// branch: weights become {cost: 0.30, correctness: 0.25, latency: 0.20,
// safety: 0.20, resilience: 0.10} (sum 1.05, renormalized). Expected
// aggregate: (0.9*0.25 + 0.6*0.20 + 0.8*0.30 + 0.8*0.20 + 0.9*0.10) / 1.05 =
// 0.835/1.05 ≈ 0.795.
func TestAdjustWeightsMaxCostPerCallExactValue(t *testing.T) {
	score := scoreAllDimensions(t, "route_email", &consensus.Constraints{HasMaxCostPerCall: true})
	require.InDelta(t, 0.795, score.Weight, 1e-3)
}
