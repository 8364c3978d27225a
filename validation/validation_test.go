package validation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toolforge/forge/llm"
	"github.com/toolforge/forge/manifest"
	"github.com/toolforge/forge/manifeststore"
	"github.com/toolforge/forge/validation"
)

type stubRunner struct {
	result validation.TestRunResult
	err    error
}

func (s stubRunner) Run(context.Context, string) (validation.TestRunResult, error) {
	return s.result, s.err
}

type fixedReviewer struct{ reply string }

func (f fixedReviewer) Complete(context.Context, string) (string, error) { return f.reply, nil }

func registerManifest(t *testing.T, store *manifeststore.MemoryStore, toolID, version string, tests map[string]string) {
	t.Helper()
	require.NoError(t, store.Save(context.Background(), manifest.ToolManifest{
		ToolID:    toolID,
		Version:   version,
		Name:      toolID,
		Type:      manifest.TypeNative,
		Status:    manifest.StatusActive,
		Tests:     tests,
		Trust:     manifest.Trust{Level: manifest.TrustExperimental},
		CreatedAt: time.Now(),
	}))
}

func TestMissingArtifactsVacuouslyPass(t *testing.T) {
	ctx := context.Background()
	store := manifeststore.NewMemory()
	registerManifest(t, store, "parse_cron", "1.0.0", nil)

	stages := validation.DefaultStages(stubRunner{}, nil)
	council, err := validation.New(validation.Options{Store: store, Stages: stages})
	require.NoError(t, err)

	outcome, err := council.Validate(ctx, "parse_cron", "1.0.0", nil)
	require.NoError(t, err)
	require.True(t, outcome.OK)
	for _, s := range outcome.Stages {
		if s.Name == "multi_llm_review" {
			require.InDelta(t, 0.8, s.Score, 1e-9)
			continue
		}
		require.True(t, s.Vacuous)
		require.Equal(t, 1.0, s.Score)
	}
}

func TestStageErrorScoresZeroAndFailsOutcome(t *testing.T) {
	ctx := context.Background()
	store := manifeststore.NewMemory()
	registerManifest(t, store, "summarize_pdf", "1.0.0", map[string]string{
		validation.TestKeyUnitTests: "tests/unit",
	})

	runner := stubRunner{err: errors.New("harness crashed")}
	stages := []validation.Stage{{Name: "unit_tests", Runner: validation.UnitTestStage{Runner: runner}}}
	council, err := validation.New(validation.Options{Store: store, Stages: stages})
	require.NoError(t, err)

	outcome, err := council.Validate(ctx, "summarize_pdf", "1.0.0", nil)
	require.NoError(t, err)
	require.False(t, outcome.OK)
	require.Len(t, outcome.Stages, 1)
	require.Equal(t, 0.0, outcome.Stages[0].Score)
	require.NotEmpty(t, outcome.Stages[0].Errors)
}

func TestSuccessfulRunPromotesTrustToCore(t *testing.T) {
	ctx := context.Background()
	store := manifeststore.NewMemory()
	registerManifest(t, store, "fetch_url", "1.0.0", map[string]string{
		validation.TestKeyBDDFeature: "tests/behave",
		validation.TestKeyUnitTests:  "tests/unit",
	})

	runner := stubRunner{result: validation.TestRunResult{PassRate: 1.0}}
	stages := []validation.Stage{
		{Name: "bdd_acceptance", Runner: validation.BDDStage{Runner: runner}},
		{Name: "unit_tests", Runner: validation.UnitTestStage{Runner: runner}},
	}
	council, err := validation.New(validation.Options{Store: store, Stages: stages})
	require.NoError(t, err)

	outcome, err := council.Validate(ctx, "fetch_url", "1.0.0", nil)
	require.NoError(t, err)
	require.True(t, outcome.OK)
	require.InDelta(t, 1.0, outcome.ValidationScore, 1e-9)

	m, err := store.Get(ctx, "fetch_url", "1.0.0")
	require.NoError(t, err)
	require.Equal(t, manifest.TrustCore, m.Trust.Level)
	require.InDelta(t, 1.0, m.Trust.ValidationScore, 1e-9)
}

func TestMultiLLMReviewStageAveragesDimensionScores(t *testing.T) {
	ctx := context.Background()
	m := manifest.ToolManifest{Name: "fetch_url", Description: "fetches a URL"}
	stage := validation.MultiLLMReviewStage{
		Reviewers:  []llm.Reviewer{fixedReviewer{reply: "0.9"}},
		Dimensions: []string{"correctness", "safety"},
	}
	result, present, err := stage.Run(ctx, m)
	require.NoError(t, err)
	require.True(t, present)
	require.True(t, result.Success)
	require.InDelta(t, 0.9, result.Score, 1e-9)
}

func TestLoadAndSecurityThresholds(t *testing.T) {
	ctx := context.Background()
	store := manifeststore.NewMemory()
	registerManifest(t, store, "batch_job", "1.0.0", map[string]string{
		validation.TestKeyLoadTest: "tests/load",
		validation.TestKeySecurity: "security/policies",
	})

	runner := stubRunner{result: validation.TestRunResult{LatencyMsP95: 600, FailureRate: 0.01, CriticalFindings: 1}}
	stages := []validation.Stage{
		{Name: "load_test", Runner: validation.LoadTestStage{Runner: runner}},
		{Name: "static_security_scan", Runner: validation.StaticSecurityStage{Runner: runner}},
	}
	council, err := validation.New(validation.Options{Store: store, Stages: stages})
	require.NoError(t, err)

	outcome, err := council.Validate(ctx, "batch_job", "1.0.0", nil)
	require.NoError(t, err)
	require.False(t, outcome.OK)
	for _, s := range outcome.Stages {
		require.False(t, s.Success)
		require.Equal(t, 0.0, s.Score)
	}
}
