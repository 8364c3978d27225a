package manifeststore

import (
	"context"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/toolforge/forge/manifest"
)

// MemoryStore is an in-memory implementation of Store. It is safe for
// concurrent use and suitable for development, testing, and single-node
// deployments where persistence across restarts is not required.
type MemoryStore struct {
	mu        sync.RWMutex
	manifests map[string]map[string]manifest.ToolManifest // tool_id -> version -> manifest
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemory creates an empty in-memory manifest store.
func NewMemory() *MemoryStore {
	return &MemoryStore{manifests: make(map[string]map[string]manifest.ToolManifest)}
}

// Save stores or replaces m, keyed by (m.ToolID, m.Version).
func (s *MemoryStore) Save(_ context.Context, m manifest.ToolManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.manifests[m.ToolID]
	if !ok {
		versions = make(map[string]manifest.ToolManifest)
		s.manifests[m.ToolID] = versions
	}
	versions[m.Version] = m
	return nil
}

// Get retrieves the manifest for (toolID, version).
func (s *MemoryStore) Get(_ context.Context, toolID, version string) (manifest.ToolManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions, ok := s.manifests[toolID]
	if !ok {
		return manifest.ToolManifest{}, ErrNotFound
	}
	m, ok := versions[version]
	if !ok {
		return manifest.ToolManifest{}, ErrNotFound
	}
	return m, nil
}

// Latest returns the manifest with the highest semantic version for toolID
// among active manifests, breaking ties by latest CreatedAt.
func (s *MemoryStore) Latest(_ context.Context, toolID string) (manifest.ToolManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions, ok := s.manifests[toolID]
	if !ok {
		return manifest.ToolManifest{}, ErrNotFound
	}

	var best manifest.ToolManifest
	var bestSemver *semver.Version
	found := false
	for _, m := range versions {
		if m.Status == manifest.StatusArchived {
			continue
		}
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			continue
		}
		switch {
		case !found:
			best, bestSemver, found = m, v, true
		case v.GreaterThan(bestSemver):
			best, bestSemver = m, v
		case v.Equal(bestSemver) && m.CreatedAt.After(best.CreatedAt):
			best, bestSemver = m, v
		}
	}
	if !found {
		return manifest.ToolManifest{}, ErrNotFound
	}
	return best, nil
}

// Versions returns every version recorded for toolID.
func (s *MemoryStore) Versions(_ context.Context, toolID string) ([]manifest.ToolManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions, ok := s.manifests[toolID]
	if !ok {
		return nil, nil
	}
	result := make([]manifest.ToolManifest, 0, len(versions))
	for _, m := range versions {
		result = append(result, m)
	}
	return result, nil
}

// List returns every manifest matching the given tags and trust levels.
func (s *MemoryStore) List(_ context.Context, tags []string, trustLevels []manifest.TrustLevel, includeArchived bool) ([]manifest.ToolManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trustSet := make(map[manifest.TrustLevel]struct{}, len(trustLevels))
	for _, lvl := range trustLevels {
		trustSet[lvl] = struct{}{}
	}

	var result []manifest.ToolManifest
	for _, versions := range s.manifests {
		for _, m := range versions {
			if !includeArchived && m.Status == manifest.StatusArchived {
				continue
			}
			if !matchesTags(m.Tags, tags) {
				continue
			}
			if len(trustSet) > 0 {
				if _, ok := trustSet[m.Trust.Level]; !ok {
					continue
				}
			}
			result = append(result, m)
		}
	}
	return result, nil
}

// AncestorOf returns the ancestor_tool_id recorded in toolID's lineage, if
// any. Any recorded version exposing a lineage is sufficient since all
// versions of a tool_id share the same ancestor per the manifest identity
// invariant.
func (s *MemoryStore) AncestorOf(_ context.Context, toolID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions, ok := s.manifests[toolID]
	if !ok {
		return "", false, nil
	}
	for _, m := range versions {
		if m.Lineage.AncestorToolID != "" {
			return m.Lineage.AncestorToolID, true, nil
		}
	}
	return "", false, nil
}

// SetStatus updates a manifest's Status in place.
func (s *MemoryStore) SetStatus(_ context.Context, toolID, version string, status manifest.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.manifests[toolID]
	if !ok {
		return ErrNotFound
	}
	m, ok := versions[version]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	versions[version] = m
	return nil
}

func matchesTags(manifestTags, filterTags []string) bool {
	if len(filterTags) == 0 {
		return true
	}
	tagSet := make(map[string]struct{}, len(manifestTags))
	for _, tag := range manifestTags {
		tagSet[tag] = struct{}{}
	}
	for _, tag := range filterTags {
		if _, ok := tagSet[tag]; !ok {
			return false
		}
	}
	return true
}
