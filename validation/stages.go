package validation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/toolforge/forge/llm"
	"github.com/toolforge/forge/manifest"
)

// Artifact-reference keys looked up in ToolManifest.Tests for the runners
// below. A manifest missing the key has no artifact for that stage and the
// council applies the vacuous-pass rule.
const (
	TestKeyBDDFeature = "bdd_feature_ref"
	TestKeyUnitTests  = "unit_test_ref"
	TestKeyLoadTest   = "load_test_ref"
	TestKeySecurity   = "security_scan_ref"
)

// TestRunner executes a named test artifact and reports pass/fail plus any
// metrics the council needs (load test latency/failure rate, security
// finding counts). Concrete implementations wrap a BDD runner, a unit test
// harness, a load generator, or a static analyzer.
type TestRunner interface {
	Run(ctx context.Context, artifactRef string) (TestRunResult, error)
}

// TestRunResult is the raw outcome of one TestRunner invocation.
type TestRunResult struct {
	PassRate         float64 // fraction of assertions/tests that passed
	LatencyMsP95     float64
	FailureRate      float64
	CriticalFindings int
}

// BDDStage runs the BDD acceptance suite referenced by TestKeyBDDFeature.
// Threshold: pass rate must equal 1.0.
type BDDStage struct {
	Runner TestRunner
}

func (s BDDStage) Run(ctx context.Context, m manifest.ToolManifest) (StageResult, bool, error) {
	ref, ok := m.Tests[TestKeyBDDFeature]
	if !ok || ref == "" {
		return StageResult{}, false, nil
	}
	result, err := s.Runner.Run(ctx, ref)
	if err != nil {
		return StageResult{}, true, err
	}
	success := result.PassRate >= 1.0
	score := 0.0
	if success {
		score = 1.0
	}
	return StageResult{Success: success, Score: score}, true, nil
}

// UnitTestStage runs the unit test suite referenced by TestKeyUnitTests.
// Threshold: pass rate >= 0.95.
type UnitTestStage struct {
	Runner TestRunner
}

func (s UnitTestStage) Run(ctx context.Context, m manifest.ToolManifest) (StageResult, bool, error) {
	ref, ok := m.Tests[TestKeyUnitTests]
	if !ok || ref == "" {
		return StageResult{}, false, nil
	}
	result, err := s.Runner.Run(ctx, ref)
	if err != nil {
		return StageResult{}, true, err
	}
	success := result.PassRate >= 0.95
	return StageResult{Success: success, Score: result.PassRate}, true, nil
}

// LoadTestStage runs the load test referenced by TestKeyLoadTest.
// Thresholds: latency_ms_p95 <= 500 and failure_rate <= 0.02.
type LoadTestStage struct {
	Runner TestRunner
}

func (s LoadTestStage) Run(ctx context.Context, m manifest.ToolManifest) (StageResult, bool, error) {
	ref, ok := m.Tests[TestKeyLoadTest]
	if !ok || ref == "" {
		return StageResult{}, false, nil
	}
	result, err := s.Runner.Run(ctx, ref)
	if err != nil {
		return StageResult{}, true, err
	}
	success := result.LatencyMsP95 <= 500 && result.FailureRate <= 0.02
	score := 0.0
	if success {
		score = 1.0
	}
	return StageResult{Success: success, Score: score}, true, nil
}

// StaticSecurityStage runs the static scan referenced by TestKeySecurity.
// Threshold: critical_findings == 0.
type StaticSecurityStage struct {
	Runner TestRunner
}

func (s StaticSecurityStage) Run(ctx context.Context, m manifest.ToolManifest) (StageResult, bool, error) {
	ref, ok := m.Tests[TestKeySecurity]
	if !ok || ref == "" {
		return StageResult{}, false, nil
	}
	result, err := s.Runner.Run(ctx, ref)
	if err != nil {
		return StageResult{}, true, err
	}
	success := result.CriticalFindings == 0
	score := 0.0
	if success {
		score = 1.0
	}
	return StageResult{Success: success, Score: score}, true, nil
}

// MultiLLMReviewStage asks a Reviewer to rate a manifest on correctness,
// safety, and resilience, and averages the per-dimension scores. Only the
// first entry of Reviewers is consulted; the others are not called. Threshold:
// the average must be >= 0.7. This stage has no artifact reference — it
// always runs when included in a pipeline (artifactPresent is always true).
type MultiLLMReviewStage struct {
	Reviewers  []llm.Reviewer
	Dimensions []string // defaults to {correctness, safety, resilience}
}

func (s MultiLLMReviewStage) Run(ctx context.Context, m manifest.ToolManifest) (StageResult, bool, error) {
	if len(s.Reviewers) == 0 {
		// No reviewer configured: matches the original council's behavior of
		// a neutral pass when no LLM clients are wired.
		return StageResult{Success: true, Score: 0.8}, true, nil
	}
	dims := s.Dimensions
	if len(dims) == 0 {
		dims = []string{"correctness", "safety", "resilience"}
	}
	reviewer := s.Reviewers[0]

	var sum float64
	var errs []string
	for _, dim := range dims {
		prompt := reviewPrompt(m, dim)
		reply, err := reviewer.Complete(ctx, prompt)
		score := 0.5
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", dim, err))
		} else if parsed, perr := parseScore(reply); perr == nil {
			score = parsed
		} else {
			errs = append(errs, fmt.Sprintf("%s: unparseable reply %q", dim, reply))
		}
		sum += score
	}
	avg := sum / float64(len(dims))
	return StageResult{Success: avg >= 0.7, Score: avg, Errors: errs}, true, nil
}

func reviewPrompt(m manifest.ToolManifest, dimension string) string {
	return fmt.Sprintf(
		"Review this tool for %s:\n\nTool: %s\nDescription: %s\n\nRate the %s on a scale of 0.0 to 1.0. Respond with just the number.",
		dimension, m.Name, m.Description, dimension,
	)
}

// DefaultStages builds the five-stage pipeline: BDD
// acceptance, unit tests, load test, static security scan, multi-LLM
// review, in that order. runner executes the first four artifact-backed
// stages; reviewers (may be empty) back the review stage.
func DefaultStages(runner TestRunner, reviewers []llm.Reviewer) []Stage {
	return []Stage{
		{Name: "bdd_acceptance", Runner: BDDStage{Runner: runner}},
		{Name: "unit_tests", Runner: UnitTestStage{Runner: runner}},
		{Name: "load_test", Runner: LoadTestStage{Runner: runner}},
		{Name: "static_security_scan", Runner: StaticSecurityStage{Runner: runner}},
		{Name: "multi_llm_review", Runner: MultiLLMReviewStage{Reviewers: reviewers}},
	}
}

func parseScore(reply string) (float64, error) {
	trimmed := strings.TrimSpace(reply)
	score, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, err
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}
