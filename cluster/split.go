package cluster

import (
	"strings"
	"time"
)

// Thresholds for split detection.
const (
	TestDivergenceThreshold   = 0.40
	SpecDivergenceThreshold   = 0.30
	SplitConfidenceThreshold  = 0.60
)

// TestSuiteSignature is the comparable surface of a tool version's test
// suite: names, assertions, and edge cases, each compared by Jaccard
// distance over the set.
type TestSuiteSignature struct {
	TestNames  []string
	Assertions []string
	EdgeCases  []string
}

// ToolSpecSignature is the comparable surface of a tool version's contract.
type ToolSpecSignature struct {
	InputSchemaKeys  []string
	OutputSchemaKeys []string
	Preconditions    []string
	Postconditions   []string
	ErrorCases       []string
}

// SplitEvidence is the structured evidence backing a ToolSplit decision:
// the per-signal payloads, not just the two scalar confidences the
// combined formula consumes.
type SplitEvidence struct {
	TestDivergence    float64
	SpecDivergence     float64
	BehavioralChanges []string
	BreakingChanges   []string
	Confidence        float64
	Detail            map[string]string
}

// ToolSplit is a detected divergence between two versions of the same tool
// severe enough to warrant treating them as different tools.
type ToolSplit struct {
	OriginalToolID    string
	OriginalVersion   string
	DivergedVersion   string
	Evidence          SplitEvidence
	SuggestedNewName  string
	MigrationStrategy string
}

// DeprecationPointer routes callers of a deprecated tool id to its
// replacement.
type DeprecationPointer struct {
	DeprecatedToolID  string
	ReplacementToolID string
	Reason            string
	MigrationGuide    string
	DeprecationDate   time.Time
	RemovalDate       time.Time
}

// jaccardDistance returns 1 − |a∩b|/|a∪b| over two string sets; 0 when both
// are empty.
func jaccardDistance(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	union := make(map[string]struct{}, len(setA)+len(setB))
	for k := range setA {
		union[k] = struct{}{}
	}
	for k := range setB {
		union[k] = struct{}{}
	}
	if len(union) == 0 {
		return 0
	}
	common := 0
	for k := range setA {
		if _, ok := setB[k]; ok {
			common++
		}
	}
	return 1.0 - float64(common)/float64(len(union))
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, i := range items {
		set[i] = struct{}{}
	}
	return set
}

// CompareTestSuites returns the overall test divergence (mean of the
// per-signal Jaccard distances over names, assertions, and edge cases) and a
// human-readable change list, mirroring compare_test_suites.
func CompareTestSuites(a, b TestSuiteSignature) (float64, []string) {
	var scores []float64
	var changes []string

	if len(a.TestNames) > 0 || len(b.TestNames) > 0 {
		d := jaccardDistance(a.TestNames, b.TestNames)
		scores = append(scores, d)
		if added := setDiff(b.TestNames, a.TestNames); len(added) > 0 {
			changes = append(changes, "added tests: "+strings.Join(added, ", "))
		}
		if removed := setDiff(a.TestNames, b.TestNames); len(removed) > 0 {
			changes = append(changes, "removed tests: "+strings.Join(removed, ", "))
		}
	}
	if len(a.Assertions) > 0 && len(b.Assertions) > 0 {
		d := jaccardDistance(a.Assertions, b.Assertions)
		scores = append(scores, d)
		if d > 0.4 {
			changes = append(changes, "assertion logic changed significantly")
		}
	}
	if len(a.EdgeCases) > 0 && len(b.EdgeCases) > 0 {
		scores = append(scores, jaccardDistance(a.EdgeCases, b.EdgeCases))
	}

	return meanOrZero(scores), changes
}

// CompareSpecifications returns the overall spec divergence (mean of the
// per-signal Jaccard distances over schema keys, pre/postconditions, and
// error cases) and a breaking-change list, mirroring compare_specifications.
func CompareSpecifications(a, b ToolSpecSignature) (float64, []string) {
	var scores []float64
	var changes []string

	inputDiv := jaccardDistance(a.InputSchemaKeys, b.InputSchemaKeys)
	scores = append(scores, inputDiv)
	if inputDiv > 0.2 {
		changes = append(changes, "input schema changed")
	}

	outputDiv := jaccardDistance(a.OutputSchemaKeys, b.OutputSchemaKeys)
	scores = append(scores, outputDiv)
	if outputDiv > 0.2 {
		changes = append(changes, "output schema changed - breaking")
	}

	if len(a.Preconditions) > 0 || len(b.Preconditions) > 0 {
		d := jaccardDistance(a.Preconditions, b.Preconditions)
		scores = append(scores, d)
		if d > 0.3 {
			changes = append(changes, "preconditions changed")
		}
	}
	if len(a.Postconditions) > 0 || len(b.Postconditions) > 0 {
		d := jaccardDistance(a.Postconditions, b.Postconditions)
		scores = append(scores, d)
		if d > 0.3 {
			changes = append(changes, "postconditions changed - behavior may differ")
		}
	}
	if len(a.ErrorCases) > 0 || len(b.ErrorCases) > 0 {
		d := jaccardDistance(a.ErrorCases, b.ErrorCases)
		scores = append(scores, d)
		if d > 0.4 {
			changes = append(changes, "error handling changed")
		}
	}

	return meanOrZero(scores), changes
}

func setDiff(a, b []string) []string {
	setB := toSet(b)
	var out []string
	for _, v := range a {
		if _, ok := setB[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

func meanOrZero(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// DetectSplit compares two versions of toolID and returns a ToolSplit when
// the combined confidence crosses SplitConfidenceThreshold: confidence
// factors are test divergence (if ≥ 0.40) and spec divergence×1.2
// (if ≥ 0.30), averaged and clamped to 1.0.
func DetectSplit(toolID, versionA, versionB string, testA, testB TestSuiteSignature, specA, specB ToolSpecSignature, description string) *ToolSplit {
	testDivergence, testChanges := CompareTestSuites(testA, testB)
	specDivergence, specChanges := CompareSpecifications(specA, specB)

	var factors []float64
	if testDivergence >= TestDivergenceThreshold {
		factors = append(factors, testDivergence)
	}
	if specDivergence >= SpecDivergenceThreshold {
		factors = append(factors, minF(specDivergence*1.2, 1.0))
	}
	if len(factors) == 0 {
		return nil
	}

	confidence := minF(meanOrZero(factors), 1.0)
	if confidence < SplitConfidenceThreshold {
		return nil
	}

	evidence := SplitEvidence{
		TestDivergence:    testDivergence,
		SpecDivergence:    specDivergence,
		BehavioralChanges: testChanges,
		BreakingChanges:   specChanges,
		Confidence:        confidence,
	}

	return &ToolSplit{
		OriginalToolID:    toolID,
		OriginalVersion:   versionA,
		DivergedVersion:   versionB,
		Evidence:          evidence,
		SuggestedNewName:  suggestNewName(toolID, description, specChanges),
		MigrationStrategy: migrationStrategy(evidence),
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// suggestNewName mirrors _suggest_new_name's description/change-keyword
// heuristics, falling back to a "_v2" suffix.
func suggestNewName(toolID, description string, breakingChanges []string) string {
	lowerDesc := strings.ToLower(description)
	changeText := strings.ToLower(strings.Join(breakingChanges, " "))

	switch {
	case strings.Contains(lowerDesc, "advanced") || strings.Contains(lowerDesc, "enhanced"):
		return toolID + "_advanced"
	case strings.Contains(lowerDesc, "simple") || strings.Contains(lowerDesc, "basic"):
		return toolID + "_simple"
	case strings.Contains(changeText, "async"):
		return toolID + "_async"
	case strings.Contains(changeText, "optimized") || strings.Contains(changeText, "fast"):
		return toolID + "_optimized"
	case strings.Contains(changeText, "output") && strings.Contains(changeText, "changed"):
		return toolID + "_v2"
	default:
		return toolID + "_v2"
	}
}

// migrationStrategy mirrors _determine_migration_strategy's spec-divergence
// bands.
func migrationStrategy(e SplitEvidence) string {
	switch {
	case e.SpecDivergence > 0.6:
		return "hard_fork"
	case e.SpecDivergence > 0.4:
		return "compatibility_layer"
	default:
		return "gradual_deprecation"
	}
}

// NewDeprecationPointer builds a DeprecationPointer for split, with a
// removal date 180 days after now, mirroring create_deprecation_pointer.
func NewDeprecationPointer(split ToolSplit, now time.Time) DeprecationPointer {
	return DeprecationPointer{
		DeprecatedToolID:  split.OriginalToolID,
		ReplacementToolID: split.SuggestedNewName,
		Reason:            "tool has diverged significantly",
		MigrationGuide:    migrationGuide(split),
		DeprecationDate:   now,
		RemovalDate:       now.Add(180 * 24 * time.Hour),
	}
}

func migrationGuide(split ToolSplit) string {
	var b strings.Builder
	b.WriteString("Migration guide: ")
	b.WriteString(split.OriginalToolID)
	b.WriteString(" -> ")
	b.WriteString(split.SuggestedNewName)
	b.WriteString("\n\nChanges:\n")
	for i, change := range split.Evidence.BreakingChanges {
		if i >= 5 {
			break
		}
		b.WriteString("  - ")
		b.WriteString(change)
		b.WriteString("\n")
	}
	b.WriteString("\nStrategy: ")
	b.WriteString(split.MigrationStrategy)
	return b.String()
}
