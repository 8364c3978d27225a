// Package manifest defines the identity and contract of a tool version: the
// ToolManifest and the records that reference it (consensus scores and
// execution history). These types are the wire and storage shape shared by
// the registry, consensus engine, validation council, and runtime.
package manifest

import "time"

// Type enumerates the kinds of tool a manifest can describe.
type Type string

const (
	TypeCapabilityServer Type = "capability-server"
	TypeInlineLLM        Type = "inline-llm"
	TypeNative           Type = "native"
	TypeWorkflow         Type = "workflow"
)

// TrustLevel enumerates the trust ladder a manifest climbs via validation.
type TrustLevel string

const (
	TrustExperimental TrustLevel = "experimental"
	TrustThirdParty   TrustLevel = "third_party"
	TrustCore         TrustLevel = "core"
)

// Status tracks a manifest's activity; archival is a status change, never a
// deletion.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

type (
	// ToolManifest is the identity and contract of one tool version. The
	// pair (ToolID, Version) is unique; two manifests sharing that pair
	// must carry identical Origin.Author and Lineage.AncestorToolID.
	ToolManifest struct {
		ToolID      string `json:"tool_id" bson:"tool_id" yaml:"tool_id"`
		Version     string `json:"version" bson:"version" yaml:"version"`
		Name        string `json:"name" bson:"name" yaml:"name"`
		Type        Type   `json:"type" bson:"type" yaml:"type"`
		Description string `json:"description" bson:"description" yaml:"description"`

		Origin  Origin  `json:"origin" bson:"origin" yaml:"origin"`
		Lineage Lineage `json:"lineage" bson:"lineage" yaml:"lineage"`

		Capabilities []Capability `json:"capabilities" bson:"capabilities" yaml:"capabilities"`
		Interfaces   []Interface  `json:"interfaces" bson:"interfaces" yaml:"interfaces"`

		Specs map[string]string `json:"specs,omitempty" bson:"specs,omitempty" yaml:"specs,omitempty"`
		Tests map[string]string `json:"tests,omitempty" bson:"tests,omitempty" yaml:"tests,omitempty"`

		Security Security `json:"security" bson:"security" yaml:"security"`
		Trust    Trust    `json:"trust" bson:"trust" yaml:"trust"`

		Tags      []string  `json:"tags,omitempty" bson:"tags,omitempty" yaml:"tags,omitempty"`
		Embedding []float32 `json:"embedding,omitempty" bson:"embedding,omitempty" yaml:"embedding,omitempty"`

		UsageNotesRef string    `json:"usage_notes_ref,omitempty" bson:"usage_notes_ref,omitempty" yaml:"usage_notes_ref,omitempty"`
		Examples      []Example `json:"examples,omitempty" bson:"examples,omitempty" yaml:"examples,omitempty"`
		Metrics       Metrics   `json:"metrics" bson:"metrics" yaml:"metrics"`

		Status    Status    `json:"status" bson:"status" yaml:"status"`
		CreatedAt time.Time `json:"created_at" bson:"created_at" yaml:"created_at"`
	}

	// Origin records who and what produced a manifest.
	Origin struct {
		Author      string    `json:"author" bson:"author" yaml:"author"`
		SourceModel string    `json:"source_model,omitempty" bson:"source_model,omitempty" yaml:"source_model,omitempty"`
		CreatedAt   time.Time `json:"created_at" bson:"created_at" yaml:"created_at"`
	}

	// Lineage tracks a manifest's ancestry. AncestorToolID is empty for a
	// root manifest with no predecessor.
	Lineage struct {
		AncestorToolID string          `json:"ancestor_tool_id,omitempty" bson:"ancestor_tool_id,omitempty" yaml:"ancestor_tool_id,omitempty"`
		MutationReason string          `json:"mutation_reason,omitempty" bson:"mutation_reason,omitempty" yaml:"mutation_reason,omitempty"`
		Commits        []CommitRecord  `json:"commits,omitempty" bson:"commits,omitempty" yaml:"commits,omitempty"`
	}

	// CommitRecord is one entry in a manifest's lineage history.
	CommitRecord struct {
		ID        string    `json:"id" bson:"id" yaml:"id"`
		Timestamp time.Time `json:"timestamp" bson:"timestamp" yaml:"timestamp"`
		Summary   string    `json:"summary" bson:"summary" yaml:"summary"`
	}

	// Capability is one invocable operation a manifest exposes.
	Capability struct {
		Name            string         `json:"name" bson:"name" yaml:"name"`
		InputSchema     map[string]any `json:"input_schema" bson:"input_schema" yaml:"input_schema"`
		OutputSchema    map[string]any `json:"output_schema" bson:"output_schema" yaml:"output_schema"`
		Errors          []string       `json:"errors,omitempty" bson:"errors,omitempty" yaml:"errors,omitempty"`
		Preconditions   []string       `json:"preconditions,omitempty" bson:"preconditions,omitempty" yaml:"preconditions,omitempty"`
		Postconditions  []string       `json:"postconditions,omitempty" bson:"postconditions,omitempty" yaml:"postconditions,omitempty"`
	}

	// Interface binds a manifest to an invocation channel, e.g. the
	// capability-server process that exposes it.
	Interface struct {
		Channel     string            `json:"channel" bson:"channel" yaml:"channel"`
		Command     string            `json:"command,omitempty" bson:"command,omitempty" yaml:"command,omitempty"`
		Args        []string          `json:"args,omitempty" bson:"args,omitempty" yaml:"args,omitempty"`
		Environment map[string]string `json:"environment,omitempty" bson:"environment,omitempty" yaml:"environment,omitempty"`
	}

	// Security captures static-scan and sandboxing posture for a manifest.
	Security struct {
		SandboxProfile string   `json:"sandbox_profile,omitempty" bson:"sandbox_profile,omitempty" yaml:"sandbox_profile,omitempty"`
		Findings       []string `json:"findings,omitempty" bson:"findings,omitempty" yaml:"findings,omitempty"`
	}

	// Trust is the manifest's current trust ladder position and the scores
	// that justify it.
	Trust struct {
		Level           TrustLevel `json:"level" bson:"level" yaml:"level"`
		ValidationScore float64    `json:"validation_score" bson:"validation_score" yaml:"validation_score"`
		RiskScore       float64    `json:"risk_score" bson:"risk_score" yaml:"risk_score"`
	}

	// Example is one documented input/output pair for a capability.
	Example struct {
		Capability string `json:"capability" bson:"capability" yaml:"capability"`
		Input      any    `json:"input" bson:"input" yaml:"input"`
		Output     any    `json:"output" bson:"output" yaml:"output"`
	}

	// Metrics holds the bounded execution window and aggregate figures a
	// manifest accumulates over its lifetime.
	Metrics struct {
		ExecutionHistory []ExecutionRecord `json:"execution_history,omitempty" bson:"execution_history,omitempty" yaml:"execution_history,omitempty"`
		LatencyMsP95     float64           `json:"latency_ms_p95,omitempty" bson:"latency_ms_p95,omitempty" yaml:"latency_ms_p95,omitempty"`
		CostPerCall      float64           `json:"cost_per_call,omitempty" bson:"cost_per_call,omitempty" yaml:"cost_per_call,omitempty"`
	}

	// ExecutionRecord is one tool invocation, per the bit-exact hashing
	// rules in forgeid.
	ExecutionRecord struct {
		CallID        string        `json:"call_id" bson:"call_id" yaml:"call_id"`
		InputHash     string        `json:"input_hash" bson:"input_hash" yaml:"input_hash"`
		ResultHash    string        `json:"result_hash" bson:"result_hash" yaml:"result_hash"`
		StartedAt     time.Time     `json:"started_at" bson:"started_at" yaml:"started_at"`
		EndedAt       time.Time     `json:"ended_at" bson:"ended_at" yaml:"ended_at"`
		Latency       time.Duration `json:"latency" bson:"latency" yaml:"latency"`
		Success       bool          `json:"success" bson:"success" yaml:"success"`
		ErrorKind     string        `json:"error_kind,omitempty" bson:"error_kind,omitempty" yaml:"error_kind,omitempty"`
		SandboxProfile string       `json:"sandbox_profile,omitempty" bson:"sandbox_profile,omitempty" yaml:"sandbox_profile,omitempty"`
	}

	// ConsensusScore is an immutable record of a scoring event over a
	// manifest version.
	ConsensusScore struct {
		ToolID     string             `json:"tool_id" bson:"tool_id" yaml:"tool_id"`
		Version    string             `json:"version" bson:"version" yaml:"version"`
		Scores     map[string]float64 `json:"scores" bson:"scores" yaml:"scores"`
		Weight     float64            `json:"weight" bson:"weight" yaml:"weight"`
		Evaluators []Evaluator        `json:"evaluators" bson:"evaluators" yaml:"evaluators"`
		Timestamp  time.Time          `json:"timestamp" bson:"timestamp" yaml:"timestamp"`
	}

	// Evaluator records one contributor to a ConsensusScore and the weight
	// of its contribution.
	Evaluator struct {
		ID           string  `json:"id" bson:"id" yaml:"id"`
		Contribution float64 `json:"contribution" bson:"contribution" yaml:"contribution"`
	}
)

// ExecutionHistoryWindow bounds the number of ExecutionRecord entries a
// manifest retains.
const ExecutionHistoryWindow = 100

// AppendExecution appends rec to m's bounded execution history, dropping the
// oldest entries once ExecutionHistoryWindow is exceeded.
func (m *ToolManifest) AppendExecution(rec ExecutionRecord) {
	hist := append(m.Metrics.ExecutionHistory, rec)
	if len(hist) > ExecutionHistoryWindow {
		hist = hist[len(hist)-ExecutionHistoryWindow:]
	}
	m.Metrics.ExecutionHistory = hist
}

// SameIdentity reports whether other is a manifest claiming the same
// (ToolID, Version) pair with a consistent Origin.Author and lineage
// ancestor, per the manifest identity invariant.
func (m ToolManifest) SameIdentity(other ToolManifest) bool {
	if m.ToolID != other.ToolID || m.Version != other.Version {
		return false
	}
	return m.Origin.Author == other.Origin.Author &&
		m.Lineage.AncestorToolID == other.Lineage.AncestorToolID
}
