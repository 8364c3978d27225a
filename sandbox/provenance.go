package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/toolforge/forge/manifest"
)

// Record is the append-only provenance entry persisted as {call_id}.json:
// the hashes that make a call independently reproducible plus the metrics
// recorded for it.
type Record struct {
	CallID     string                    `json:"call_id"`
	ToolID     string                    `json:"tool_id"`
	Version    string                    `json:"version"`
	InputHash  string                    `json:"input_hash"`
	ResultHash string                    `json:"result_hash,omitempty"`
	Metrics    manifest.ExecutionRecord  `json:"metrics"`
}

// ProvenanceLog appends call records keyed by call_id. Implementations must
// be safe for concurrent use; entries are never updated once written.
type ProvenanceLog interface {
	Append(ctx context.Context, rec Record) error
	Get(ctx context.Context, callID string) (Record, bool, error)
}

// MemoryProvenanceLog is an in-memory ProvenanceLog, the development and
// test-time backend.
type MemoryProvenanceLog struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryProvenanceLog constructs an empty MemoryProvenanceLog.
func NewMemoryProvenanceLog() *MemoryProvenanceLog {
	return &MemoryProvenanceLog{records: make(map[string]Record)}
}

var _ ProvenanceLog = (*MemoryProvenanceLog)(nil)

// Append stores rec keyed by rec.CallID, refusing to silently overwrite an
// existing entry since provenance is append-only.
func (l *MemoryProvenanceLog) Append(_ context.Context, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.records[rec.CallID]; exists {
		return fmt.Errorf("sandbox: provenance record %q already exists", rec.CallID)
	}
	l.records[rec.CallID] = rec
	return nil
}

// Get returns the provenance record for callID, if any.
func (l *MemoryProvenanceLog) Get(_ context.Context, callID string) (Record, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[callID]
	return rec, ok, nil
}

// Count returns the number of provenance records stored, for test assertions.
func (l *MemoryProvenanceLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
