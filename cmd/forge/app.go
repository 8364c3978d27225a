// Command forge is the operator-facing CLI surface: register,
// validate, query, execute, optimize, and list tools against a local forge
// instance rooted at a state directory.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/toolforge/forge/cluster"
	"github.com/toolforge/forge/consensus"
	"github.com/toolforge/forge/manifest"
	"github.com/toolforge/forge/manifeststore"
	"github.com/toolforge/forge/registry"
	"github.com/toolforge/forge/sandbox"
	"github.com/toolforge/forge/validation"
	"github.com/toolforge/forge/vectorstore"
)

// app bundles the components a forge instance needs, wired from a state
// directory on disk. Manifests and provenance persist across invocations
// (manifeststore.FileStore, sandbox.FileProvenanceLog); the vector index,
// consensus score history, and cluster store are rebuilt/held in memory
// each run; consensus records have no durable format of their own here,
// so the score store starts empty on every command and only execute's
// RecordExecution adds a score during that invocation.
type app struct {
	stateDir string

	manifests manifeststore.Store
	registry  *registry.Registry
	council   *validation.Council
	runtime   *sandbox.Runtime
	consensus *consensus.Engine
	optimizer *cluster.Optimizer
	clusters  cluster.Store
}

func newApp(stateDir string) (*app, error) {
	manifestDir := filepath.Join(stateDir, "manifests")
	provenanceDir := filepath.Join(stateDir, "provenance")

	manifests, err := manifeststore.NewFile(manifestDir)
	if err != nil {
		return nil, fmt.Errorf("forge: open manifest store: %w", err)
	}

	vectors := vectorstore.NewInMem()
	embedder := vectorstore.NewHashEmbedder()

	scores := consensus.NewMemoryScoreStore()
	consensusWeight := func(ctx context.Context, toolID, version string) (float64, bool) {
		score, ok, err := scores.Latest(ctx, toolID, version)
		if err != nil || !ok {
			return 0, false
		}
		age := consensus.AgeDays(score.Timestamp, time.Now())
		return consensus.DecayedWeight(score.Weight, age), true
	}

	reg, err := registry.New(registry.Options{
		Store:           manifests,
		Vectors:         vectors,
		Embedder:        embedder,
		ConsensusWeight: consensusWeight,
	})
	if err != nil {
		return nil, fmt.Errorf("forge: build registry: %w", err)
	}

	if err := reindex(reg, manifests, embedder, vectors); err != nil {
		return nil, err
	}

	council, err := validation.New(validation.Options{
		Store:  manifests,
		Stages: validation.DefaultStages(noopTestRunner{}, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("forge: build validation council: %w", err)
	}

	provenance, err := newProvenanceLog(provenanceDir, provenanceRedisURL)
	if err != nil {
		return nil, err
	}
	rt, err := sandbox.New(sandbox.Options{Manifests: manifests, Provenance: provenance})
	if err != nil {
		return nil, fmt.Errorf("forge: build sandbox runtime: %w", err)
	}

	eng, err := consensus.New(consensus.Options{ManifestStore: manifests, ScoreStore: scores})
	if err != nil {
		return nil, fmt.Errorf("forge: build consensus engine: %w", err)
	}

	clusters := cluster.NewMemoryStore()
	optimizer, err := cluster.New(cluster.Options{Store: clusters})
	if err != nil {
		return nil, fmt.Errorf("forge: build cluster optimizer: %w", err)
	}

	return &app{
		stateDir:  stateDir,
		manifests: manifests,
		registry:  reg,
		council:   council,
		runtime:   rt,
		consensus: eng,
		optimizer: optimizer,
		clusters:  clusters,
	}, nil
}

// newProvenanceLog opens the local-file provenance backend by default, or a
// goa.design/pulse stream over Redis when redisURL is non-empty, so a
// multi-node forge deployment can share one provenance trail instead of each
// node keeping its own directory of {call_id}.json files.
func newProvenanceLog(provenanceDir, redisURL string) (sandbox.ProvenanceLog, error) {
	if redisURL == "" {
		log, err := sandbox.NewFileProvenanceLog(provenanceDir)
		if err != nil {
			return nil, fmt.Errorf("forge: open provenance log: %w", err)
		}
		return log, nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("forge: parse provenance redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	log, err := sandbox.NewPulseProvenanceLog(context.Background(), rdb, "forge/provenance")
	if err != nil {
		return nil, fmt.Errorf("forge: open pulse provenance log: %w", err)
	}
	return log, nil
}

// reindex upserts every manifest already on disk into the (in-memory)
// vector store, so query works against manifests registered in a prior
// invocation, not just ones registered in the current process.
func reindex(reg *registry.Registry, store manifeststore.Store, embedder vectorstore.Embedder, vectors vectorstore.Store) error {
	ctx := context.Background()
	all, err := store.List(ctx, nil, nil, true)
	if err != nil {
		return fmt.Errorf("forge: list manifests for reindex: %w", err)
	}
	for _, m := range all {
		text := registrySearchText(m)
		vec, err := embedder.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("forge: embed manifest %s: %w", m.ToolID, err)
		}
		if err := vectors.Upsert(ctx, m.ToolID, m.Version, vec); err != nil {
			return fmt.Errorf("forge: reindex manifest %s: %w", m.ToolID, err)
		}
	}
	return nil
}

// registrySearchText mirrors the text the Registry embeds at register time:
// name, description, and capability names cut to 64 bytes.
func registrySearchText(m manifest.ToolManifest) string {
	text := m.Name + " " + m.Description
	for _, c := range m.Capabilities {
		name := c.Name
		if len(name) > 64 {
			name = name[:64]
		}
		text += " " + name
	}
	return text
}

// noopTestRunner backs validation stages whose artifact a manifest
// references but that this CLI has no subprocess harness wired for yet; it
// reports a full pass so a registered manifest's declared Tests refs never
// panic a nil Runner. Real deployments should supply a TestRunner that
// actually shells out and reports the exit code and captured
// stdout/stderr.
type noopTestRunner struct{}

func (noopTestRunner) Run(context.Context, string) (validation.TestRunResult, error) {
	return validation.TestRunResult{PassRate: 1.0, FailureRate: 0, LatencyMsP95: 0, CriticalFindings: 0}, nil
}

func defaultStateDir() string {
	if dir := os.Getenv("FORGE_STATE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".forge"
	}
	return filepath.Join(home, ".forge")
}
