// Package registry implements the forge's combined manifest and semantic
// search gateway (C2+C3): a durable map of tool manifests keyed by
// (tool_id, version), with lineage links, plus query-by-capability over a
// vector index with constraint and trust filtering.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/toolforge/forge/manifest"
	"github.com/toolforge/forge/manifeststore"
	"github.com/toolforge/forge/telemetry"
	"github.com/toolforge/forge/vectorstore"
)

// RejectReason classifies why register refused a manifest.
type RejectReason string

const (
	RejectInvariantViolation RejectReason = "invariant_violation"
)

// ErrRejected wraps a RejectReason returned by Register.
type ErrRejected struct {
	Reason RejectReason
	Err    error
}

func (e *ErrRejected) Error() string {
	return fmt.Sprintf("registry: rejected (%s): %v", e.Reason, e.Err)
}

func (e *ErrRejected) Unwrap() error { return e.Err }

type (
	// ConsensusWeightLookup retrieves the current consensus weight for a
	// manifest version, used to rank query results and resolve the "best"
	// version expression. It returns ok=false when no score is on record.
	ConsensusWeightLookup func(ctx context.Context, toolID, version string) (weight float64, ok bool)

	// Constraints bound a query to manifests meeting operational and trust
	// thresholds. A zero value field means "no constraint" except where
	// noted.
	Constraints struct {
		// MaxLatencyMsP95 rejects manifests whose latest latency_ms_p95
		// exceeds this threshold. Missing metrics are treated as +Inf.
		MaxLatencyMsP95 float64
		// MaxRiskScore rejects manifests whose trust.risk_score exceeds
		// this threshold.
		MaxRiskScore float64
		// MinCorrectness rejects manifests whose latest correctness
		// metric is below this threshold. Missing metrics are treated
		// as 0.
		MinCorrectness float64
	}

	// QueryResult is the outcome of a capability query.
	QueryResult struct {
		Best         *manifest.ToolManifest
		Alternatives []manifest.ToolManifest
	}

	// Registry combines a manifest store and a vector index behind the
	// register/get/query contract.
	Registry struct {
		mu             sync.Mutex // serializes per-manifest writes
		store          manifeststore.Store
		vectors        vectorstore.Store
		embedder       vectorstore.Embedder
		consensus      ConsensusWeightLookup
		logger         telemetry.Logger
		metrics        telemetry.Metrics
	}

	// Options configures a Registry.
	Options struct {
		// Store persists manifests. Required.
		Store manifeststore.Store
		// Vectors indexes manifest embeddings for semantic search. Required.
		Vectors vectorstore.Store
		// Embedder computes embeddings for register. Required.
		Embedder vectorstore.Embedder
		// ConsensusWeight resolves a manifest's current consensus weight.
		// When nil, every manifest is treated as weight 0.
		ConsensusWeight ConsensusWeightLookup
		// Logger receives structured diagnostic logs. Defaults to a no-op.
		Logger telemetry.Logger
		// Metrics receives instrumentation. Defaults to a no-op.
		Metrics telemetry.Metrics
	}
)

// New constructs a Registry from opts.
func New(opts Options) (*Registry, error) {
	if opts.Store == nil {
		return nil, errors.New("registry: manifest store is required")
	}
	if opts.Vectors == nil {
		return nil, errors.New("registry: vector store is required")
	}
	if opts.Embedder == nil {
		return nil, errors.New("registry: embedder is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	consensus := opts.ConsensusWeight
	if consensus == nil {
		consensus = func(context.Context, string, string) (float64, bool) { return 0, false }
	}
	return &Registry{
		store:     opts.Store,
		vectors:   opts.Vectors,
		embedder:  opts.Embedder,
		consensus: consensus,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Register persists m, recomputes its embedding, and upserts that embedding
// into the vector store under (tool_id, version). It writes no
// back-reference onto the ancestor manifest and keeps no tag, trust-level,
// or type index; Query filters by tags after the vector search. It rejects m
// with ErrRejected{InvariantViolation} if the manifest-identity or
// lineage-acyclicity invariants would be violated.
func (r *Registry) Register(ctx context.Context, m manifest.ToolManifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, err := r.store.Get(ctx, m.ToolID, m.Version); err == nil {
		if !existing.SameIdentity(m) {
			return &ErrRejected{Reason: RejectInvariantViolation, Err: fmt.Errorf("manifest identity mismatch for %s@%s", m.ToolID, m.Version)}
		}
	} else if !errors.Is(err, manifeststore.ErrNotFound) {
		return fmt.Errorf("registry: check existing manifest: %w", err)
	}

	if m.Lineage.AncestorToolID != "" {
		lookup := func(toolID string) (string, bool) {
			ancestor, ok, lookupErr := r.store.AncestorOf(ctx, toolID)
			if lookupErr != nil {
				return "", false
			}
			return ancestor, ok
		}
		// Walk starting from the proposed ancestor: if m's own tool_id
		// reappears on that path, registering m would close a cycle.
		if err := manifest.CheckLineageAcyclic(m.Lineage.AncestorToolID, func(toolID string) (string, bool) {
			if toolID == m.ToolID {
				return m.Lineage.AncestorToolID, true
			}
			return lookup(toolID)
		}, 64); err != nil {
			return &ErrRejected{Reason: RejectInvariantViolation, Err: err}
		}
	}

	if m.Status == "" {
		m.Status = manifest.StatusActive
	}

	embedding, err := r.embedder.Embed(ctx, embeddingText(m))
	if err != nil {
		return fmt.Errorf("registry: compute embedding: %w", err)
	}
	m.Embedding = embedding

	if err := r.store.Save(ctx, m); err != nil {
		return fmt.Errorf("registry: save manifest: %w", err)
	}
	if err := r.vectors.Upsert(ctx, m.ToolID, m.Version, embedding); err != nil {
		return fmt.Errorf("registry: index embedding: %w", err)
	}

	r.logger.Info(ctx, "manifest registered", "tool_id", m.ToolID, "version", m.Version, "trust", string(m.Trust.Level))
	r.metrics.IncCounter("registry_manifests_registered_total", 1, "tool_id", m.ToolID)
	return nil
}

// embeddingText builds the text a manifest's embedding is computed over:
// name + description + truncated capability summaries.
func embeddingText(m manifest.ToolManifest) string {
	var b strings.Builder
	b.WriteString(m.Name)
	b.WriteString(" ")
	b.WriteString(m.Description)
	for _, cap := range m.Capabilities {
		b.WriteString(" ")
		b.WriteString(truncate(cap.Name, 64))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Get retrieves a manifest by tool_id and an optional version. When version
// is empty, it returns the highest semver among active manifests, with ties
// resolved by latest creation time. It returns (manifest, true, nil) on a
// hit and (zero, false, nil) when nothing matches; only infrastructure
// failures are reported as an error.
func (r *Registry) Get(ctx context.Context, toolID, version string) (manifest.ToolManifest, bool, error) {
	var (
		m   manifest.ToolManifest
		err error
	)
	if version == "" {
		m, err = r.store.Latest(ctx, toolID)
	} else {
		m, err = r.resolveVersionExpr(ctx, toolID, version)
	}
	if errors.Is(err, manifeststore.ErrNotFound) {
		return manifest.ToolManifest{}, false, nil
	}
	if err != nil {
		return manifest.ToolManifest{}, false, fmt.Errorf("registry: get %s@%s: %w", toolID, version, err)
	}
	return m, true, nil
}

// resolveVersionExpr resolves the supported version expressions:
// exact M.m.p, M.m (highest patch in that minor line), latest, best
// (highest consensus weight), and stable (highest semver with no
// pre-release tag).
func (r *Registry) resolveVersionExpr(ctx context.Context, toolID, expr string) (manifest.ToolManifest, error) {
	switch expr {
	case "latest":
		return r.store.Latest(ctx, toolID)
	case "best":
		return r.resolveBest(ctx, toolID)
	case "stable":
		return r.resolveStable(ctx, toolID)
	}

	versions, err := r.store.Versions(ctx, toolID)
	if err != nil {
		return manifest.ToolManifest{}, err
	}
	if strings.Count(expr, ".") == 1 {
		return resolveMinorLine(versions, expr)
	}
	for _, m := range versions {
		if m.Version == expr && m.Status != manifest.StatusArchived {
			return m, nil
		}
	}
	return manifest.ToolManifest{}, manifeststore.ErrNotFound
}

func (r *Registry) resolveBest(ctx context.Context, toolID string) (manifest.ToolManifest, error) {
	versions, err := r.store.Versions(ctx, toolID)
	if err != nil {
		return manifest.ToolManifest{}, err
	}
	var best manifest.ToolManifest
	bestWeight := -1.0
	found := false
	for _, m := range versions {
		if m.Status == manifest.StatusArchived {
			continue
		}
		weight, ok := r.consensus(ctx, m.ToolID, m.Version)
		if !ok {
			continue
		}
		if !found || weight > bestWeight {
			best, bestWeight, found = m, weight, true
		}
	}
	if !found {
		return manifest.ToolManifest{}, manifeststore.ErrNotFound
	}
	return best, nil
}

func (r *Registry) resolveStable(ctx context.Context, toolID string) (manifest.ToolManifest, error) {
	versions, err := r.store.Versions(ctx, toolID)
	if err != nil {
		return manifest.ToolManifest{}, err
	}
	var best manifest.ToolManifest
	var bestSemver *semver.Version
	found := false
	for _, m := range versions {
		if m.Status == manifest.StatusArchived {
			continue
		}
		v, err := semver.NewVersion(m.Version)
		if err != nil || v.Prerelease() != "" {
			continue
		}
		if !found || v.GreaterThan(bestSemver) {
			best, bestSemver, found = m, v, true
		}
	}
	if !found {
		return manifest.ToolManifest{}, manifeststore.ErrNotFound
	}
	return best, nil
}

func resolveMinorLine(versions []manifest.ToolManifest, minorLine string) (manifest.ToolManifest, error) {
	var best manifest.ToolManifest
	var bestSemver *semver.Version
	found := false
	for _, m := range versions {
		if m.Status == manifest.StatusArchived {
			continue
		}
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			continue
		}
		if fmt.Sprintf("%d.%d", v.Major(), v.Minor()) != minorLine {
			continue
		}
		if !found || v.GreaterThan(bestSemver) {
			best, bestSemver, found = m, v, true
		}
	}
	if !found {
		return manifest.ToolManifest{}, manifeststore.ErrNotFound
	}
	return best, nil
}

// Query builds a search vector from capability and tags, retrieves 2*limit
// candidates from the vector store, filters by constraints, enriches each
// with its current consensus weight, sorts by weight descending, and
// returns at most limit results. Query never fails on a miss; it returns a
// zero-value QueryResult.
func (r *Registry) Query(ctx context.Context, capability string, constraints Constraints, tags []string, limit int) (QueryResult, error) {
	if limit <= 0 {
		limit = 1
	}
	queryText := capability
	if len(tags) > 0 {
		queryText = capability + " " + strings.Join(tags, " ")
	}
	queryVec, err := r.embedder.Embed(ctx, queryText)
	if err != nil {
		return QueryResult{}, fmt.Errorf("registry: embed query: %w", err)
	}

	matches, err := r.vectors.Search(ctx, queryVec, 2*limit)
	if err != nil {
		return QueryResult{}, fmt.Errorf("registry: search vectors: %w", err)
	}

	type candidate struct {
		m      manifest.ToolManifest
		weight float64
	}
	var candidates []candidate
	for _, match := range matches {
		m, err := r.store.Get(ctx, match.ToolID, match.Version)
		if err != nil {
			continue
		}
		if m.Status == manifest.StatusArchived {
			continue
		}
		if len(tags) > 0 && !hasAllTags(m.Tags, tags) {
			continue
		}
		if !meetsConstraints(m, constraints) {
			continue
		}
		weight, _ := r.consensus(ctx, m.ToolID, m.Version)
		candidates = append(candidates, candidate{m: m, weight: weight})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].weight > candidates[j].weight })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	if len(candidates) == 0 {
		return QueryResult{}, nil
	}

	best := candidates[0].m
	alternatives := make([]manifest.ToolManifest, 0, len(candidates)-1)
	for _, c := range candidates[1:] {
		alternatives = append(alternatives, c.m)
	}
	return QueryResult{Best: &best, Alternatives: alternatives}, nil
}

func hasAllTags(manifestTags, filterTags []string) bool {
	tagSet := make(map[string]struct{}, len(manifestTags))
	for _, tag := range manifestTags {
		tagSet[tag] = struct{}{}
	}
	for _, tag := range filterTags {
		if _, ok := tagSet[tag]; !ok {
			return false
		}
	}
	return true
}

// meetsConstraints applies the registry's constraint filter: a manifest is
// rejected if latency_ms_p95 exceeds MaxLatencyMsP95 (missing ⇒ +Inf),
// risk_score exceeds MaxRiskScore, or correctness (derived from the latest
// execution history) is below MinCorrectness (missing ⇒ 0).
func meetsConstraints(m manifest.ToolManifest, c Constraints) bool {
	if c.MaxLatencyMsP95 > 0 {
		latency := m.Metrics.LatencyMsP95
		if latency == 0 && len(m.Metrics.ExecutionHistory) == 0 {
			latency = math.Inf(1)
		}
		if latency > c.MaxLatencyMsP95 {
			return false
		}
	}
	if c.MaxRiskScore > 0 && m.Trust.RiskScore > c.MaxRiskScore {
		return false
	}
	if c.MinCorrectness > 0 {
		correctness := latestCorrectness(m)
		if correctness < c.MinCorrectness {
			return false
		}
	}
	return true
}

// latestCorrectness derives a correctness proxy from the manifest's bounded
// execution history: the success rate of its most recent calls. Manifests
// with no history report 0, per the constraint filter's missing-value rule.
func latestCorrectness(m manifest.ToolManifest) float64 {
	history := m.Metrics.ExecutionHistory
	if len(history) == 0 {
		return 0
	}
	successes := 0
	for _, rec := range history {
		if rec.Success {
			successes++
		}
	}
	return float64(successes) / float64(len(history))
}
