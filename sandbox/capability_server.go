package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	mcpruntime "github.com/toolforge/forge/features/mcp/runtime"
	"github.com/toolforge/forge/internal/forgeerr"
	"github.com/toolforge/forge/telemetry"
)

// retryOnce bounds a transient failure to a single retry with exponential
// backoff before the error surfaces to the caller.
func retryOnce(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	return backoff.WithContext(backoff.WithMaxRetries(bo, 1), ctx)
}

// ConnState tracks a CapabilityServer's position in its lifecycle:
// stopped → starting → ready → faulted, and ready → stopped on shutdown.
type ConnState string

const (
	StateStopped  ConnState = "stopped"
	StateStarting ConnState = "starting"
	StateReady    ConnState = "ready"
	StateFaulted  ConnState = "faulted"
)

// ServerSpec describes how to launch a capability-server subprocess, the
// runtime's translation of a manifest's Interface binding.
type ServerSpec struct {
	Name         string
	Command      string
	Args         []string
	Env          map[string]string
	ReadyTimeout time.Duration // bounded deadline to wait for a readiness signal
}

// Caller is the narrow subset of *mcpruntime.StdioCaller this package
// depends on, letting tests substitute a fake subprocess.
type Caller interface {
	CallTool(ctx context.Context, req mcpruntime.CallRequest) (mcpruntime.CallResponse, error)
	Close() error
}

// Spawner starts a capability-server subprocess and returns a live Caller
// once the MCP initialize handshake completes. The default implementation
// wraps mcpruntime.NewStdioCaller.
type Spawner func(ctx context.Context, spec ServerSpec) (Caller, error)

// DefaultSpawner launches spec via the MCP stdio transport.
func DefaultSpawner(ctx context.Context, spec ServerSpec) (Caller, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	c, err := mcpruntime.NewStdioCaller(ctx, mcpruntime.StdioOptions{
		Command:     spec.Command,
		Args:        spec.Args,
		Env:         env,
		InitTimeout: spec.ReadyTimeout,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CapabilityServer is an external process owned by the runtime.
type CapabilityServer struct {
	mu        sync.Mutex
	Spec      ServerSpec
	state     ConnState
	conn      Caller
	refCount  int
	faultedAt time.Time
}

// State returns the server's current connection state.
func (s *CapabilityServer) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Manager ensures capability servers are live and dispatches calls through
// them. Ensure is idempotent and serialized per server name, and a faulted
// server is not restarted until its cooldown elapses.
type Manager struct {
	mu       sync.Mutex
	servers  map[string]*CapabilityServer
	spawn    Spawner
	cooldown time.Duration // minimum time a faulted server must sit before a retry is attempted
	logger   telemetry.Logger
	metrics  telemetry.Metrics
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Spawn starts a capability-server subprocess. Defaults to
	// DefaultSpawner.
	Spawn Spawner
	// FaultCooldown bounds how soon a faulted server may be retried.
	// Defaults to 30s.
	FaultCooldown time.Duration
	// Logger receives structured diagnostic logs. Defaults to a no-op.
	Logger telemetry.Logger
	// Metrics receives instrumentation. Defaults to a no-op.
	Metrics telemetry.Metrics
}

// NewManager constructs a Manager from opts.
func NewManager(opts ManagerOptions) *Manager {
	spawn := opts.Spawn
	if spawn == nil {
		spawn = DefaultSpawner
	}
	cooldown := opts.FaultCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Manager{
		servers:  make(map[string]*CapabilityServer),
		spawn:    spawn,
		cooldown: cooldown,
		logger:   logger,
		metrics:  metrics,
	}
}

// serverFor returns the CapabilityServer tracked for spec.Name, creating an
// empty (stopped) one if this is the first time it is seen.
func (m *Manager) serverFor(spec ServerSpec) *CapabilityServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	srv, ok := m.servers[spec.Name]
	if !ok {
		srv = &CapabilityServer{Spec: spec, state: StateStopped}
		m.servers[spec.Name] = srv
	}
	return srv
}

// Ensure returns a ready CapabilityServer for spec, spawning its subprocess
// on first use. Ensure is idempotent and serialized per server name:
// concurrent callers block on srv's own mutex and observe the same outcome,
// so only one subprocess is ever created for a given name. A server already
// StateFaulted is not retried until m.cooldown has elapsed since it faulted
// (a time-bounded cooldown rather than a request-scoped exclusion set,
// since the runtime has no other notion of "request" once the call reaches
// this layer — see DESIGN.md).
func (m *Manager) Ensure(ctx context.Context, spec ServerSpec) (*CapabilityServer, error) {
	srv := m.serverFor(spec)

	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.state == StateReady && srv.conn != nil {
		srv.refCount++
		return srv, nil
	}

	if srv.state == StateFaulted && time.Since(srv.faultedAt) < m.cooldown {
		return nil, forgeerr.New(forgeerr.ServerUnavailable, fmt.Sprintf("capability server %q faulted recently, cooling down", spec.Name))
	}

	srv.state = StateStarting
	var conn Caller
	err := backoff.Retry(func() error {
		c, serr := m.spawn(ctx, spec)
		if serr != nil {
			m.logger.Warn(ctx, "capability server spawn attempt failed", "server", spec.Name, "error", serr)
			return serr
		}
		conn = c
		return nil
	}, retryOnce(ctx))
	if err != nil {
		srv.state = StateFaulted
		srv.faultedAt = time.Now()
		m.metrics.IncCounter("sandbox_server_faults_total", 1, "server", spec.Name)
		m.logger.Error(ctx, "capability server failed to start", "server", spec.Name, "error", err)
		return nil, forgeerr.Wrap(forgeerr.ServerUnavailable, fmt.Sprintf("capability server %q failed to start", spec.Name), err)
	}

	srv.conn = conn
	srv.state = StateReady
	srv.refCount++
	m.logger.Info(ctx, "capability server ready", "server", spec.Name)
	return srv, nil
}

// Release decrements srv's reference count. Reaching zero does not stop the
// process immediately; servers are shut down by explicit Shutdown or process
// exit.
func (m *Manager) Release(srv *CapabilityServer) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.refCount > 0 {
		srv.refCount--
	}
}

// Fault marks srv faulted, e.g. after a dispatch that detects a broken
// connection. A faulted server is not restarted until the cooldown elapses.
func (m *Manager) Fault(srv *CapabilityServer) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.state = StateFaulted
	srv.faultedAt = time.Now()
	if srv.conn != nil {
		_ = srv.conn.Close()
		srv.conn = nil
	}
}

// Shutdown stops srv's subprocess and transitions it to stopped.
func (m *Manager) Shutdown(srv *CapabilityServer) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	var err error
	if srv.conn != nil {
		err = srv.conn.Close()
		srv.conn = nil
	}
	srv.state = StateStopped
	srv.refCount = 0
	return err
}
