package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

// PulseProvenanceLog persists provenance records on a goa.design/pulse
// stream, giving a multi-process forge deployment a shared, durable
// provenance trail backed by Redis rather than a single process's memory or
// local disk. Append publishes the record; Get is served from an in-process
// index built by replaying the stream, since Pulse streams are an
// append-only log rather than a keyed store.
type PulseProvenanceLog struct {
	stream *streaming.Stream

	mu    sync.RWMutex
	index map[string]Record
}

var _ ProvenanceLog = (*PulseProvenanceLog)(nil)

// NewPulseProvenanceLog opens (creating if absent) the named Pulse stream on
// rdb and returns a ProvenanceLog backed by it. streamName is typically
// "forge/provenance"; callers that run multiple forges against one Redis
// instance should scope it per deployment.
func NewPulseProvenanceLog(ctx context.Context, rdb *redis.Client, streamName string, opts ...streamopts.Stream) (*PulseProvenanceLog, error) {
	if streamName == "" {
		streamName = "forge/provenance"
	}
	str, err := streaming.NewStream(streamName, rdb, opts...)
	if err != nil {
		return nil, fmt.Errorf("sandbox: open pulse provenance stream: %w", err)
	}
	log := &PulseProvenanceLog{stream: str, index: make(map[string]Record)}
	if err := log.hydrate(ctx); err != nil {
		return nil, err
	}
	return log, nil
}

// Append publishes rec to the stream and updates the in-process index. Since
// the underlying stream has no per-key uniqueness constraint, the
// already-exists check mirrors MemoryProvenanceLog's so every backend
// enforces the same append-only contract.
func (l *PulseProvenanceLog) Append(ctx context.Context, rec Record) error {
	l.mu.RLock()
	_, exists := l.index[rec.CallID]
	l.mu.RUnlock()
	if exists {
		return fmt.Errorf("sandbox: provenance record %q already exists", rec.CallID)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sandbox: encode provenance record: %w", err)
	}
	if _, err := l.stream.Add(ctx, rec.CallID, payload); err != nil {
		return fmt.Errorf("sandbox: publish provenance record: %w", err)
	}
	l.mu.Lock()
	l.index[rec.CallID] = rec
	l.mu.Unlock()
	return nil
}

// Get returns the provenance record for callID from the in-process index.
func (l *PulseProvenanceLog) Get(_ context.Context, callID string) (Record, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.index[callID]
	return rec, ok, nil
}

// hydrate replays a consumer-group sink over the stream once at startup so a
// newly constructed PulseProvenanceLog can serve Get for records a prior
// process already appended. Events are acked as they're read since the index
// itself is the durable view this process needs going forward.
func (l *PulseProvenanceLog) hydrate(ctx context.Context) error {
	sink, err := l.stream.NewSink(ctx, "forge_provenance_hydrate")
	if err != nil {
		return fmt.Errorf("sandbox: open provenance hydration sink: %w", err)
	}
	defer sink.Close(ctx)

	ch := sink.Subscribe()
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			var rec Record
			if err := json.Unmarshal(evt.Payload, &rec); err == nil {
				l.mu.Lock()
				l.index[rec.CallID] = rec
				l.mu.Unlock()
			}
			_ = sink.Ack(ctx, evt)
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
}
