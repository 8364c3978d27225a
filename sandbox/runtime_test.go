package sandbox_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mcpruntime "github.com/toolforge/forge/features/mcp/runtime"
	"github.com/toolforge/forge/internal/forgeerr"
	"github.com/toolforge/forge/manifest"
	"github.com/toolforge/forge/manifeststore"
	"github.com/toolforge/forge/sandbox"
)

func seedManifest(t *testing.T, store manifeststore.Store, toolID string) {
	t.Helper()
	m := manifest.ToolManifest{
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
		Security:  manifest.Security{SandboxProfile: "restricted"},
		Status:    manifest.StatusActive,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.Save(context.Background(), m))
}

func TestExecuteRecordsProvenanceOnSuccess(t *testing.T) {
	store := manifeststore.NewMemory()
	seedManifest(t, store, "summarize_pdf")

	spawn := func(ctx context.Context, spec sandbox.ServerSpec) (sandbox.Caller, error) {
		return &fakeCaller{}, nil
	}
	mgr := sandbox.NewManager(sandbox.ManagerOptions{Spawn: spawn})
	prov := sandbox.NewMemoryProvenanceLog()

	rt, err := sandbox.New(sandbox.Options{Manifests: store, Manager: mgr, Provenance: prov})
	require.NoError(t, err)

	outcome, err := rt.Execute(context.Background(), "summarize_pdf", "1.0.0", map[string]any{"doc": "a.pdf"}, sandbox.DefaultDirectorProfile)
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.NotEmpty(t, outcome.CallID)

	rec, ok, err := prov.Get(context.Background(), outcome.CallID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rec.Metrics.Success)
	require.NotEmpty(t, rec.ResultHash)
}

func TestExecuteReturnsNotFoundForUnknownTool(t *testing.T) {
	store := manifeststore.NewMemory()
	rt, err := sandbox.New(sandbox.Options{Manifests: store})
	require.NoError(t, err)

	_, err = rt.Execute(context.Background(), "missing_tool", "1.0.0", nil, sandbox.DefaultDirectorProfile)
	require.Error(t, err)
}

type failingCaller struct{}

func (failingCaller) CallTool(ctx context.Context, req mcpruntime.CallRequest) (mcpruntime.CallResponse, error) {
	<-ctx.Done()
	return mcpruntime.CallResponse{}, ctx.Err()
}

func (failingCaller) Close() error { return nil }

func TestExecuteRecoversWhenSpawnFailsOnce(t *testing.T) {
	store := manifeststore.NewMemory()
	seedManifest(t, store, "flaky_start")

	var attempts atomic.Int32
	spawn := func(ctx context.Context, spec sandbox.ServerSpec) (sandbox.Caller, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("transient spawn failure")
		}
		return &fakeCaller{}, nil
	}
	mgr := sandbox.NewManager(sandbox.ManagerOptions{Spawn: spawn})
	prov := sandbox.NewMemoryProvenanceLog()

	rt, err := sandbox.New(sandbox.Options{Manifests: store, Manager: mgr, Provenance: prov})
	require.NoError(t, err)

	outcome, err := rt.Execute(context.Background(), "flaky_start", "1.0.0", map[string]any{}, sandbox.DefaultDirectorProfile)
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.EqualValues(t, 2, attempts.Load())
}

func TestExecuteRecordsProvenanceOnTimeout(t *testing.T) {
	store := manifeststore.NewMemory()
	seedManifest(t, store, "slow_tool")

	spawn := func(ctx context.Context, spec sandbox.ServerSpec) (sandbox.Caller, error) {
		return failingCaller{}, nil
	}
	mgr := sandbox.NewManager(sandbox.ManagerOptions{Spawn: spawn})
	prov := sandbox.NewMemoryProvenanceLog()

	rt, err := sandbox.New(sandbox.Options{Manifests: store, Manager: mgr, Provenance: prov})
	require.NoError(t, err)

	profile := sandbox.Profile{Network: sandbox.NetworkRestricted, Filesystem: sandbox.FilesystemReadonly, DeadlineMs: 20}
	outcome, err := rt.Execute(context.Background(), "slow_tool", "1.0.0", map[string]any{}, profile)
	require.Error(t, err)
	require.False(t, outcome.Success)
	require.Equal(t, forgeerr.Timeout, forgeerr.KindOf(err))
	require.Equal(t, 1, prov.Count())
}
