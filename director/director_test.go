package director_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toolforge/forge/consensus"
	"github.com/toolforge/forge/director"
	mcpruntime "github.com/toolforge/forge/features/mcp/runtime"
	"github.com/toolforge/forge/internal/forgeerr"
	"github.com/toolforge/forge/manifest"
	"github.com/toolforge/forge/manifeststore"
	"github.com/toolforge/forge/registry"
	"github.com/toolforge/forge/sandbox"
	"github.com/toolforge/forge/validation"
	"github.com/toolforge/forge/vectorstore"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 0}, nil
}

type fakeCaller struct{}

func (fakeCaller) CallTool(_ context.Context, _ mcpruntime.CallRequest) (mcpruntime.CallResponse, error) {
	return mcpruntime.CallResponse{Result: []byte(`{"ok":true}`)}, nil
}

func (fakeCaller) Close() error { return nil }

func alwaysPassRunner() validation.TestRunner {
	return stubRunnerFunc(func(context.Context, string) (validation.TestRunResult, error) {
		return validation.TestRunResult{PassRate: 1.0, FailureRate: 0}, nil
	})
}

type stubRunnerFunc func(ctx context.Context, artifactRef string) (validation.TestRunResult, error)

func (f stubRunnerFunc) Run(ctx context.Context, artifactRef string) (validation.TestRunResult, error) {
	return f(ctx, artifactRef)
}

func newHarness(t *testing.T) (*registry.Registry, *validation.Council, *sandbox.Runtime, *consensus.Engine) {
	t.Helper()
	store := manifeststore.NewMemory()

	reg, err := registry.New(registry.Options{
		Store:    store,
		Vectors:  vectorstore.NewInMem(),
		Embedder: stubEmbedder{},
	})
	require.NoError(t, err)

	council, err := validation.New(validation.Options{
		Store:  store,
		Stages: validation.DefaultStages(alwaysPassRunner(), nil),
	})
	require.NoError(t, err)

	mgr := sandbox.NewManager(sandbox.ManagerOptions{
		Spawn: func(ctx context.Context, spec sandbox.ServerSpec) (sandbox.Caller, error) {
			return fakeCaller{}, nil
		},
	})
	rt, err := sandbox.New(sandbox.Options{Manifests: store, Manager: mgr, Provenance: sandbox.NewMemoryProvenanceLog()})
	require.NoError(t, err)

	eng, err := consensus.New(consensus.Options{ManifestStore: store, ScoreStore: consensus.NewMemoryScoreStore()})
	require.NoError(t, err)

	return reg, council, rt, eng
}

func seededManifest(toolID string) manifest.ToolManifest {
	return manifest.ToolManifest{
		ToolID:  toolID,
		Version: "1.0.0",
		Name:    toolID,
		Type:    manifest.TypeCapabilityServer,
		Capabilities: []manifest.Capability{
			{Name: "run"},
		},
		Interfaces: []manifest.Interface{
			{Channel: "capability-server", Command: "true"},
		},
		Origin:    manifest.Origin{Author: "test", CreatedAt: time.Now()},
		Security:  manifest.Security{SandboxProfile: "restricted"},
		Trust:     manifest.Trust{Level: manifest.TrustThirdParty},
		Status:    manifest.StatusActive,
		CreatedAt: time.Now(),
	}
}

func TestHandleDiscoveryHitExecutesAndRecords(t *testing.T) {
	ctx := context.Background()
	reg, council, rt, eng := newHarness(t)
	require.NoError(t, reg.Register(ctx, seededManifest("summarize_pdf")))

	d, err := director.New(director.Options{Registry: reg, Council: council, Runtime: rt, Consensus: eng})
	require.NoError(t, err)

	outcome, err := d.Handle(ctx, director.Intent{Text: "summarize_pdf", Capability: "summarize_pdf"})
	require.NoError(t, err)
	require.Equal(t, director.StateDone, outcome.State)
	require.Equal(t, "summarize_pdf", outcome.ToolID)
	require.False(t, outcome.Generated)

	m, ok, err := reg.Get(ctx, "summarize_pdf", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, m.Metrics.ExecutionHistory, 1)
}

func TestHandleDiscoveryMissWithoutGeneratorFails(t *testing.T) {
	ctx := context.Background()
	reg, council, rt, eng := newHarness(t)

	d, err := director.New(director.Options{Registry: reg, Council: council, Runtime: rt, Consensus: eng})
	require.NoError(t, err)

	_, err = d.Handle(ctx, director.Intent{Text: "parse cron", Capability: "parse_cron"})
	require.Error(t, err)
	require.Equal(t, forgeerr.Internal, forgeerr.KindOf(err))
}

func TestHandleGeneratesAndValidatesNewTool(t *testing.T) {
	ctx := context.Background()
	reg, council, rt, eng := newHarness(t)

	gen := director.GeneratorFunc(func(_ context.Context, intent director.Intent) (manifest.ToolManifest, error) {
		m := seededManifest("parse_cron")
		m.Version = "1.0.0"
		return m, nil
	})

	d, err := director.New(director.Options{Registry: reg, Generator: gen, Council: council, Runtime: rt, Consensus: eng})
	require.NoError(t, err)

	outcome, err := d.Handle(ctx, director.Intent{Text: "parse cron", Capability: "parse_cron"})
	require.NoError(t, err)
	require.True(t, outcome.Generated)
	require.Equal(t, director.StateDone, outcome.State)

	m, ok, err := reg.Get(ctx, "parse_cron", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, manifest.TrustCore, m.Trust.Level)
}

type blockingCaller struct {
	release <-chan struct{}
}

func (c blockingCaller) CallTool(ctx context.Context, _ mcpruntime.CallRequest) (mcpruntime.CallResponse, error) {
	select {
	case <-c.release:
		return mcpruntime.CallResponse{Result: []byte(`{"ok":true}`)}, nil
	case <-ctx.Done():
		return mcpruntime.CallResponse{}, ctx.Err()
	}
}

func (blockingCaller) Close() error { return nil }

func TestHandleBusyWhenConcurrencyAndQueueExhausted(t *testing.T) {
	ctx := context.Background()
	store := manifeststore.NewMemory()
	reg, err := registry.New(registry.Options{Store: store, Vectors: vectorstore.NewInMem(), Embedder: stubEmbedder{}})
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, seededManifest("summarize_pdf")))

	release := make(chan struct{})
	mgr := sandbox.NewManager(sandbox.ManagerOptions{
		Spawn: func(ctx context.Context, spec sandbox.ServerSpec) (sandbox.Caller, error) {
			return blockingCaller{release: release}, nil
		},
	})
	rt, err := sandbox.New(sandbox.Options{Manifests: store, Manager: mgr, Provenance: sandbox.NewMemoryProvenanceLog()})
	require.NoError(t, err)
	eng, err := consensus.New(consensus.Options{ManifestStore: store, ScoreStore: consensus.NewMemoryScoreStore()})
	require.NoError(t, err)
	council, err := validation.New(validation.Options{Store: store, Stages: validation.DefaultStages(alwaysPassRunner(), nil)})
	require.NoError(t, err)

	d, err := director.New(director.Options{
		Registry: reg, Council: council, Runtime: rt, Consensus: eng,
		MaxConcurrency: 1, MaxQueueDepth: 1,
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, _ = d.Handle(ctx, director.Intent{Text: "x", Capability: "summarize_pdf"})
		close(done)
	}()
	require.Eventually(t, func() bool { return d.QueueDepth() == 0 }, time.Second, time.Millisecond)
	// Give the goroutine a moment to actually hold the single semaphore
	// slot inside Runtime.Execute before the second call is attempted.
	time.Sleep(20 * time.Millisecond)

	// The second call takes the single queue slot and waits there.
	queuedDone := make(chan struct{})
	go func() {
		_, _ = d.Handle(ctx, director.Intent{Text: "z", Capability: "summarize_pdf"})
		close(queuedDone)
	}()
	require.Eventually(t, func() bool { return d.QueueDepth() == 1 }, time.Second, time.Millisecond)

	_, err = d.Handle(ctx, director.Intent{Text: "y", Capability: "summarize_pdf"})
	require.Error(t, err)
	require.Equal(t, forgeerr.Busy, forgeerr.KindOf(err))

	close(release)
	<-done
	<-queuedDone
}
