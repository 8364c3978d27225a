// Package manifeststore defines the persistence layer for tool manifests.
//
// The Store interface abstracts manifest storage so different backends can
// be swapped in: in-memory for development and testing, MongoDB for
// production durability. To add a new implementation, satisfy Store and
// return ErrNotFound for missing manifests.
package manifeststore

import (
	"context"
	"errors"

	"github.com/toolforge/forge/manifest"
)

// ErrNotFound is returned when a (tool_id, version) pair has no manifest.
var ErrNotFound = errors.New("manifeststore: manifest not found")

// Store persists tool manifests keyed by (tool_id, version), with lineage
// links resolvable by tool_id. Implementations must be safe for concurrent
// use and must serialize writes to the same (tool_id, version) so the
// register/update-trust/update-metrics operations stay totally ordered per
// manifest.
type Store interface {
	// Save stores or replaces m, keyed by (m.ToolID, m.Version).
	Save(ctx context.Context, m manifest.ToolManifest) error

	// Get retrieves the manifest for (toolID, version). Returns ErrNotFound
	// if no such manifest is stored.
	Get(ctx context.Context, toolID, version string) (manifest.ToolManifest, error)

	// Latest returns the manifest with the highest semantic version for
	// toolID among active manifests, breaking ties by latest CreatedAt.
	// Returns ErrNotFound if toolID has no active manifest.
	Latest(ctx context.Context, toolID string) (manifest.ToolManifest, error)

	// Versions returns every version recorded for toolID, in no particular
	// order.
	Versions(ctx context.Context, toolID string) ([]manifest.ToolManifest, error)

	// List returns every manifest matching the given tags and trust
	// levels. Empty filters match everything. Archived manifests are
	// excluded unless includeArchived is true.
	List(ctx context.Context, tags []string, trustLevels []manifest.TrustLevel, includeArchived bool) ([]manifest.ToolManifest, error)

	// AncestorOf returns the ancestor_tool_id recorded in toolID's lineage,
	// if any. Used by lineage acyclicity checks.
	AncestorOf(ctx context.Context, toolID string) (string, bool, error)

	// SetStatus updates a manifest's Status (active/archived) in place.
	SetStatus(ctx context.Context, toolID, version string, status manifest.Status) error
}
