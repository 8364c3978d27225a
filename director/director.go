// Package director implements the forge's orchestrator (C8): it turns an
// intent into a concrete invocation by discovering a tool, generating one
// when discovery misses, validating a freshly generated tool, executing the
// call, and recording the outcome back to the Consensus Engine.
package director

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/toolforge/forge/consensus"
	"github.com/toolforge/forge/internal/forgeerr"
	"github.com/toolforge/forge/registry"
	"github.com/toolforge/forge/sandbox"
	"github.com/toolforge/forge/telemetry"
	"github.com/toolforge/forge/validation"
)

// State names the Director's intent state machine.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateDiscovering State = "DISCOVERING"
	StateGenerating State = "GENERATING"
	StateValidating State = "VALIDATING"
	StateExecuting  State = "EXECUTING"
	StateRecording  State = "RECORDING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

type (
	// Intent is the caller-supplied request the Director turns into an
	// invocation: free text describing the desired capability, plus
	// optional structured hints that short-circuit the discovery LLM call.
	Intent struct {
		Text        string
		Capability  string // when set, skips LLM-based capability extraction
		Tags        []string
		Constraints registry.Constraints
	}

	// Outcome is the terminal result of handling one intent.
	Outcome struct {
		State     State
		ToolID    string
		Version   string
		Result    any
		Metrics   sandbox.ExecutionOutcome
		Generated bool // true when the tool did not already exist and was generated
		Stages    []validation.StageResult
	}

	// Director orchestrates one intent end to end. It is safe for
	// concurrent use; concurrent Handle calls share the same admission
	// gate (the global concurrency bound).
	Director struct {
		registry     *registry.Registry
		generator    Generator
		collaborator CollaboratorLLM
		council      *validation.Council
		runtime      *sandbox.Runtime
		consensus    *consensus.Engine
		logger       telemetry.Logger
		metrics      telemetry.Metrics

		sem       chan struct{}
		admission *rate.Limiter
		queued    int64
		maxQueue  int64
	}

	// Options configures a Director.
	Options struct {
		Registry     *registry.Registry
		Generator    Generator
		Collaborator CollaboratorLLM
		Council      *validation.Council
		Runtime      *sandbox.Runtime
		Consensus    *consensus.Engine

		// MaxConcurrency bounds the number of intents handled at once.
		// Defaults to 8.
		MaxConcurrency int
		// MaxQueueDepth bounds how many additional intents may wait for a
		// concurrency slot before Handle returns a busy error. Defaults to
		// 4x MaxConcurrency.
		MaxQueueDepth int
		// AdmissionRatePerSec paces how fast new intents are admitted into
		// the queue, independent of the concurrency bound; 0 disables
		// pacing (admission is limited only by concurrency/queue depth).
		AdmissionRatePerSec float64

		Logger  telemetry.Logger
		Metrics telemetry.Metrics
	}
)

// New constructs a Director from opts.
func New(opts Options) (*Director, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("director: registry is required")
	}
	if opts.Runtime == nil {
		return nil, fmt.Errorf("director: runtime is required")
	}
	if opts.Consensus == nil {
		return nil, fmt.Errorf("director: consensus engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}
	maxQueue := int64(opts.MaxQueueDepth)
	if maxQueue <= 0 {
		maxQueue = int64(4 * maxConcurrency)
	}
	var admission *rate.Limiter
	if opts.AdmissionRatePerSec > 0 {
		admission = rate.NewLimiter(rate.Limit(opts.AdmissionRatePerSec), maxConcurrency)
	}
	return &Director{
		registry:     opts.Registry,
		generator:    opts.Generator,
		collaborator: opts.Collaborator,
		council:      opts.Council,
		runtime:      opts.Runtime,
		consensus:    opts.Consensus,
		logger:       logger,
		metrics:      metrics,
		sem:          make(chan struct{}, maxConcurrency),
		admission:    admission,
		maxQueue:     maxQueue,
	}, nil
}

// QueueDepth returns the current number of Handle calls waiting for an
// admission slot.
func (d *Director) QueueDepth() int64 { return atomic.LoadInt64(&d.queued) }

// Handle runs intent through the RECEIVED→DISCOVERING→(hit) EXECUTING→
// RECORDING→DONE / (miss) GENERATING→VALIDATING→EXECUTING→RECORDING→DONE
// state machine. Any unrecoverable failure transitions to
// FAILED and is returned as a *forgeerr.Error.
func (d *Director) Handle(ctx context.Context, intent Intent) (Outcome, error) {
	if err := d.acquire(ctx); err != nil {
		return Outcome{State: StateFailed}, err
	}
	defer d.release()

	state := StateReceived
	d.logger.Info(ctx, "director: intent received", "text", intent.Text)

	state = StateDiscovering
	toolID, version, hit, err := d.discover(ctx, intent)
	if err != nil {
		return d.fail(ctx, state, err)
	}

	generated := false
	var stages []validation.StageResult
	if !hit {
		state = StateGenerating
		m, genErr := d.generate(ctx, intent)
		if genErr != nil {
			return d.fail(ctx, state, genErr)
		}
		generated = true

		state = StateValidating
		outcome, valErr := d.council.Validate(ctx, m.ToolID, m.Version, nil)
		if valErr != nil {
			return d.fail(ctx, state, forgeerr.Wrap(forgeerr.Internal, "run validation council", valErr))
		}
		stages = outcome.Stages
		if !outcome.OK {
			d.logger.Warn(ctx, "director: generated tool failed validation", "tool_id", m.ToolID, "version", m.Version)
			return Outcome{State: StateFailed, ToolID: m.ToolID, Version: m.Version, Generated: true, Stages: stages},
				forgeerr.New(forgeerr.ValidationFailed, "generated tool failed validation")
		}
		toolID, version = m.ToolID, m.Version
	}

	state = StateExecuting
	input, err := d.prepareInput(ctx, intent, toolID, version)
	if err != nil {
		return d.fail(ctx, state, err)
	}

	exec, err := d.runtime.Execute(ctx, toolID, version, input, sandbox.DefaultDirectorProfile)
	if err != nil {
		return d.fail(ctx, state, err)
	}

	state = StateRecording
	if err := d.consensus.RecordExecution(ctx, toolID, version, exec.Record); err != nil {
		d.logger.Error(ctx, "director: record execution failed", "tool_id", toolID, "version", version, "error", err)
	}

	state = StateDone
	d.metrics.IncCounter("director_intents_total", 1, "outcome", "done", "generated", boolTag(generated))
	return Outcome{
		State:     state,
		ToolID:    toolID,
		Version:   version,
		Result:    exec.Record,
		Metrics:   exec,
		Generated: generated,
		Stages:    stages,
	}, nil
}

func (d *Director) fail(ctx context.Context, state State, err error) (Outcome, error) {
	d.logger.Error(ctx, "director: intent failed", "state", string(state), "error", err)
	d.metrics.IncCounter("director_intents_total", 1, "outcome", "failed", "state", string(state))
	return Outcome{State: StateFailed}, err
}

// acquire admits the caller into the concurrency bound, queueing past an
// open slot and returning a busy error once the queue is also full.
func (d *Director) acquire(ctx context.Context) error {
	select {
	case d.sem <- struct{}{}:
		return nil
	default:
	}

	if atomic.AddInt64(&d.queued, 1) > d.maxQueue {
		atomic.AddInt64(&d.queued, -1)
		return forgeerr.New(forgeerr.Busy, "director: concurrency bound exceeded")
	}
	defer atomic.AddInt64(&d.queued, -1)

	if d.admission != nil {
		if err := d.admission.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return forgeerr.Wrap(forgeerr.Cancelled, "director: wait for admission", err)
			}
			return forgeerr.Wrap(forgeerr.Internal, "director: wait for admission", err)
		}
	}

	select {
	case d.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return forgeerr.Wrap(forgeerr.Cancelled, "director: task cancelled while queued", ctx.Err())
	}
}

func (d *Director) release() {
	<-d.sem
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
