package manifest

import "fmt"

// ErrLineageCycle is returned when following AncestorToolID edges would
// revisit a tool_id already on the path.
type ErrLineageCycle struct {
	ToolID string
	Path   []string
}

func (e *ErrLineageCycle) Error() string {
	return fmt.Sprintf("manifest: lineage cycle detected at %q (path %v)", e.ToolID, e.Path)
}

// AncestorLookup resolves a tool_id to the ancestor tool_id it descends
// from, if any. Implementations are typically backed by a manifest store.
type AncestorLookup func(toolID string) (ancestorToolID string, ok bool)

// CheckLineageAcyclic walks the ancestor chain starting at toolID using
// lookup and reports ErrLineageCycle if any tool_id is revisited. A chain
// longer than maxDepth is also reported as a cycle, guarding against an
// unbounded walk from a corrupt store.
func CheckLineageAcyclic(toolID string, lookup AncestorLookup, maxDepth int) error {
	seen := map[string]struct{}{toolID: {}}
	path := []string{toolID}
	current := toolID
	for i := 0; i < maxDepth; i++ {
		ancestor, ok := lookup(current)
		if !ok || ancestor == "" {
			return nil
		}
		if _, revisited := seen[ancestor]; revisited {
			return &ErrLineageCycle{ToolID: ancestor, Path: append(path, ancestor)}
		}
		seen[ancestor] = struct{}{}
		path = append(path, ancestor)
		current = ancestor
	}
	return &ErrLineageCycle{ToolID: current, Path: path}
}

// trustRank orders the trust ladder so upgrades and downgrades can be
// compared numerically.
var trustRank = map[TrustLevel]int{
	TrustExperimental: 0,
	TrustThirdParty:    1,
	TrustCore:          2,
}

// TrustTransition classifies a proposed trust level change.
type TrustTransition int

const (
	TrustUnchanged TrustTransition = iota
	TrustUpgrade
	TrustDowngrade
	TrustInvalid
)

// ClassifyTrustTransition compares from and to, reporting TrustInvalid for
// unrecognized levels. Callers enforce the trust monotonicity invariant by
// only allowing TrustUpgrade following a successful validation and
// TrustDowngrade following a failed re-validation or a recorded policy
// action; TrustUnchanged is always permitted.
func ClassifyTrustTransition(from, to TrustLevel) TrustTransition {
	fromRank, fromOK := trustRank[from]
	toRank, toOK := trustRank[to]
	if !fromOK || !toOK {
		return TrustInvalid
	}
	switch {
	case toRank == fromRank:
		return TrustUnchanged
	case toRank > fromRank:
		return TrustUpgrade
	default:
		return TrustDowngrade
	}
}
