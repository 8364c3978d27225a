package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	mcpruntime "github.com/toolforge/forge/features/mcp/runtime"
	"github.com/toolforge/forge/internal/forgeerr"
	"github.com/toolforge/forge/internal/forgeid"
	"github.com/toolforge/forge/manifest"
	"github.com/toolforge/forge/manifeststore"
	"github.com/toolforge/forge/telemetry"
)

// ExecutionOutcome is the metrics triple a runtime call returns. Record is
// the full ExecutionRecord so a caller such as the Director can feed it to
// the Consensus Engine without recomputing hashes or timing; Execute itself
// never mutates the manifest store, since updating the manifest's metrics
// snapshot is the Director's job, not the runtime's.
type ExecutionOutcome struct {
	CallID    string
	LatencyMs float64
	Success   bool
	Timestamp time.Time
	Record    manifest.ExecutionRecord
}

// Runtime executes a tool's capability-server call end to end: it resolves
// the manifest, ensures the backing process is ready, dispatches within the
// intersection of request and tool sandbox profiles, hashes input/result,
// and records provenance. Subprocess lifecycle is owned by Manager; this
// type only sequences the single-call flow around it.
type Runtime struct {
	manifests  manifeststore.Store
	manager    *Manager
	provenance ProvenanceLog
	logger     telemetry.Logger
	metrics    telemetry.Metrics
}

// Options configures a Runtime.
type Options struct {
	Manifests  manifeststore.Store
	Manager    *Manager
	Provenance ProvenanceLog
	Logger     telemetry.Logger
	Metrics    telemetry.Metrics
}

// New constructs a Runtime from opts.
func New(opts Options) (*Runtime, error) {
	if opts.Manifests == nil {
		return nil, errors.New("sandbox: manifest store is required")
	}
	if opts.Manager == nil {
		opts.Manager = NewManager(ManagerOptions{})
	}
	if opts.Provenance == nil {
		opts.Provenance = NewMemoryProvenanceLog()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Runtime{
		manifests:  opts.Manifests,
		manager:    opts.Manager,
		provenance: opts.Provenance,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Execute dispatches a call to toolID at version with input, honoring the
// tightest of requestProfile and the manifest's declared sandbox profile.
// It always appends a provenance record once dispatch has been
// attempted, including on failure.
func (r *Runtime) Execute(ctx context.Context, toolID, version string, input any, requestProfile Profile) (ExecutionOutcome, error) {
	start := time.Now()

	m, err := r.manifests.Get(ctx, toolID, version)
	if err != nil {
		if errors.Is(err, manifeststore.ErrNotFound) {
			return ExecutionOutcome{}, forgeerr.Wrap(forgeerr.NotFound, "tool manifest not found", err)
		}
		return ExecutionOutcome{}, forgeerr.Wrap(forgeerr.Internal, "load tool manifest", err)
	}

	iface, err := capabilityInterface(m)
	if err != nil {
		return ExecutionOutcome{}, err
	}

	toolProfile := profileFromManifest(m)
	effective := Intersect(requestProfile, toolProfile)

	callID := forgeid.CallID(toolID, version, start)
	inputHash, err := forgeid.InputHash(input)
	if err != nil {
		return ExecutionOutcome{}, forgeerr.Wrap(forgeerr.InvalidInput, "hash tool input", err)
	}

	deadline := time.Duration(effective.DeadlineMs) * time.Millisecond
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	payload, err := json.Marshal(input)
	if err != nil {
		rerr := forgeerr.Wrap(forgeerr.InvalidInput, "encode tool input", err)
		rec := r.recordFailure(ctx, callID, toolID, version, inputHash, start, rerr)
		return ExecutionOutcome{Record: rec}, rerr
	}

	// An unavailable server is retried once with backoff before the failure
	// surfaces; timeouts and cancellations are terminal for the call. The
	// retried Ensure will not respawn a server faulted by the first attempt
	// until its cooldown elapses.
	var resp mcpruntime.CallResponse
	dispatch := func() error {
		// Spawn against a context independent of this call's deadline: the
		// capability-server process outlives any single request and must not
		// be killed when the request that happened to start it times out.
		srv, err := r.manager.Ensure(context.Background(), ServerSpec{
			Name:         toolID,
			Command:      iface.Command,
			Args:         iface.Args,
			Env:          iface.Environment,
			ReadyTimeout: deadline,
		})
		if err != nil {
			return err
		}
		out, callErr := srv.conn.CallTool(callCtx, mcpruntime.CallRequest{
			Suite:   toolID,
			Tool:    firstCapabilityName(m),
			Payload: payload,
		})
		r.manager.Release(srv)
		if callErr != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				r.manager.Fault(srv)
				return backoff.Permanent(forgeerr.Wrap(forgeerr.Timeout, "capability server call failed", callErr))
			}
			if errors.Is(callCtx.Err(), context.Canceled) {
				return backoff.Permanent(forgeerr.Wrap(forgeerr.Cancelled, "capability server call failed", callErr))
			}
			r.manager.Fault(srv)
			return forgeerr.Wrap(forgeerr.ServerUnavailable, "capability server call failed", callErr)
		}
		resp = out
		return nil
	}
	if rerr := backoff.Retry(dispatch, retryOnce(ctx)); rerr != nil {
		// ctx expiring during the backoff wait surfaces as a bare context
		// error; map it onto the taxonomy like any other outcome.
		if forgeerr.KindOf(rerr) == forgeerr.Internal {
			switch {
			case errors.Is(rerr, context.Canceled):
				rerr = forgeerr.Wrap(forgeerr.Cancelled, "execution cancelled", rerr)
			case errors.Is(rerr, context.DeadlineExceeded):
				rerr = forgeerr.Wrap(forgeerr.Timeout, "execution deadline exceeded", rerr)
			}
		}
		rec := r.recordFailure(ctx, callID, toolID, version, inputHash, start, rerr)
		return ExecutionOutcome{Record: rec}, rerr
	}

	end := time.Now()
	resultHash := forgeid.ResultHash(json.RawMessage(resp.Result))

	rec := manifest.ExecutionRecord{
		CallID:         callID,
		InputHash:      inputHash,
		ResultHash:     resultHash,
		StartedAt:      start,
		EndedAt:        end,
		Latency:        end.Sub(start),
		Success:        true,
		SandboxProfile: string(effective.Network) + "/" + string(effective.Filesystem),
	}

	if err := r.provenance.Append(ctx, Record{
		CallID:     callID,
		ToolID:     toolID,
		Version:    version,
		InputHash:  inputHash,
		ResultHash: resultHash,
		Metrics:    rec,
	}); err != nil {
		r.logger.Error(ctx, "append provenance failed", "call_id", callID, "error", err)
	}

	r.metrics.RecordTimer("sandbox_execute_latency", rec.Latency, "tool_id", toolID)
	r.metrics.IncCounter("sandbox_execute_total", 1, "tool_id", toolID, "outcome", "success")

	return ExecutionOutcome{CallID: callID, LatencyMs: float64(rec.Latency.Milliseconds()), Success: true, Timestamp: end, Record: rec}, nil
}

// recordFailure builds the failed ExecutionRecord, appends its provenance
// entry, and returns err unchanged so callers can propagate it.
func (r *Runtime) recordFailure(ctx context.Context, callID, toolID, version, inputHash string, start time.Time, err error) manifest.ExecutionRecord {
	end := time.Now()
	rec := manifest.ExecutionRecord{
		CallID:    callID,
		InputHash: inputHash,
		StartedAt: start,
		EndedAt:   end,
		Latency:   end.Sub(start),
		Success:   false,
		ErrorKind: string(forgeerr.KindOf(err)),
	}
	if perr := r.provenance.Append(ctx, Record{
		CallID:    callID,
		ToolID:    toolID,
		Version:   version,
		InputHash: inputHash,
		Metrics:   rec,
	}); perr != nil {
		r.logger.Error(ctx, "append provenance failed", "call_id", callID, "error", perr)
	}
	r.metrics.IncCounter("sandbox_execute_total", 1, "tool_id", toolID, "outcome", "failure")
	return rec
}

func capabilityInterface(m manifest.ToolManifest) (manifest.Interface, error) {
	for _, iface := range m.Interfaces {
		if iface.Channel == "capability-server" || iface.Command != "" {
			return iface, nil
		}
	}
	return manifest.Interface{}, forgeerr.New(forgeerr.InvalidInput, "manifest has no capability-server interface")
}

func firstCapabilityName(m manifest.ToolManifest) string {
	if len(m.Capabilities) == 0 {
		return m.ToolID
	}
	return m.Capabilities[0].Name
}

// profileFromManifest derives a tool-level sandbox Profile from a manifest's
// declared Security.SandboxProfile tag, defaulting to the most permissive
// posture when unset so Intersect falls back entirely to the caller's
// request profile.
func profileFromManifest(m manifest.ToolManifest) Profile {
	switch m.Security.SandboxProfile {
	case "restricted":
		return Profile{Network: NetworkRestricted, Filesystem: FilesystemReadonly}
	case "locked":
		return Profile{Network: NetworkNone, Filesystem: FilesystemNone}
	case "open":
		return Profile{Network: NetworkOpen, Filesystem: FilesystemReadwrite}
	default:
		return Profile{}
	}
}
