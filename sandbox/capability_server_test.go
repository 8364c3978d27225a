package sandbox_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mcpruntime "github.com/toolforge/forge/features/mcp/runtime"
	"github.com/toolforge/forge/sandbox"
)

type fakeCaller struct {
	closed atomic.Bool
}

func (f *fakeCaller) CallTool(_ context.Context, req mcpruntime.CallRequest) (mcpruntime.CallResponse, error) {
	return mcpruntime.CallResponse{Result: []byte(`{"ok":true}`)}, nil
}

func (f *fakeCaller) Close() error {
	f.closed.Store(true)
	return nil
}

// TestEnsureSpawnsExactlyOneSubprocessUnderConcurrency: concurrent Ensure
// calls for the same server name
// observe the same readiness outcome, and only one subprocess is created.
func TestEnsureSpawnsExactlyOneSubprocessUnderConcurrency(t *testing.T) {
	var spawnCount atomic.Int32
	spawn := func(ctx context.Context, spec sandbox.ServerSpec) (sandbox.Caller, error) {
		spawnCount.Add(1)
		time.Sleep(10 * time.Millisecond)
		return &fakeCaller{}, nil
	}

	mgr := sandbox.NewManager(sandbox.ManagerOptions{Spawn: spawn})
	spec := sandbox.ServerSpec{Name: "summarize_pdf", Command: "true"}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*sandbox.CapabilityServer, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			srv, err := mgr.Ensure(context.Background(), spec)
			results[i] = srv
			errs[i] = err
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, spawnCount.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, sandbox.StateReady, results[i].State())
	}
}

func TestEnsureDoesNotRestartFaultedServerWithinCooldown(t *testing.T) {
	var spawnCount atomic.Int32
	spawn := func(ctx context.Context, spec sandbox.ServerSpec) (sandbox.Caller, error) {
		spawnCount.Add(1)
		return nil, errors.New("boom")
	}

	mgr := sandbox.NewManager(sandbox.ManagerOptions{Spawn: spawn, FaultCooldown: time.Hour})
	spec := sandbox.ServerSpec{Name: "flaky_tool", Command: "false"}

	_, err := mgr.Ensure(context.Background(), spec)
	require.Error(t, err)
	// The failed start is retried once with backoff before faulting.
	require.EqualValues(t, 2, spawnCount.Load())

	// The faulted server is not respawned while the cooldown holds.
	_, err = mgr.Ensure(context.Background(), spec)
	require.Error(t, err)
	require.EqualValues(t, 2, spawnCount.Load())
}
