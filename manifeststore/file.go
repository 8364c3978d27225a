package manifeststore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/toolforge/forge/manifest"
)

// FileStore persists each manifest as a YAML document under Dir, one file
// per (tool_id, version) named "{tool_id}_v{version}.yaml". It keeps an
// in-memory mirror for fast reads and
// writes through to disk on every Save/SetStatus so a restarted `forge`
// process picks up where the last invocation left off.
type FileStore struct {
	dir string
	mu  sync.RWMutex
	mem *MemoryStore
}

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)

// NewFile constructs a FileStore rooted at dir, loading any manifest files
// already present. dir is created if it does not exist.
func NewFile(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("manifeststore: create manifest dir: %w", err)
	}
	fs := &FileStore{dir: dir, mem: NewMemory()}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("manifeststore: read manifest dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("manifeststore: read %s: %w", entry.Name(), err)
		}
		var m manifest.ToolManifest
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("manifeststore: parse %s: %w", entry.Name(), err)
		}
		_ = fs.mem.Save(context.Background(), m)
	}
	return fs, nil
}

func (fs *FileStore) filename(toolID, version string) string {
	safe := strings.NewReplacer("/", "_", " ", "_").Replace(fmt.Sprintf("%s_v%s", toolID, version))
	return filepath.Join(fs.dir, safe+".yaml")
}

// Save writes m to disk and updates the in-memory mirror.
func (fs *FileStore) Save(ctx context.Context, m manifest.ToolManifest) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	raw, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("manifeststore: marshal manifest: %w", err)
	}
	if err := os.WriteFile(fs.filename(m.ToolID, m.Version), raw, 0o644); err != nil {
		return fmt.Errorf("manifeststore: write manifest file: %w", err)
	}
	return fs.mem.Save(ctx, m)
}

func (fs *FileStore) Get(ctx context.Context, toolID, version string) (manifest.ToolManifest, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.mem.Get(ctx, toolID, version)
}

func (fs *FileStore) Latest(ctx context.Context, toolID string) (manifest.ToolManifest, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.mem.Latest(ctx, toolID)
}

func (fs *FileStore) Versions(ctx context.Context, toolID string) ([]manifest.ToolManifest, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.mem.Versions(ctx, toolID)
}

func (fs *FileStore) List(ctx context.Context, tags []string, trustLevels []manifest.TrustLevel, includeArchived bool) ([]manifest.ToolManifest, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.mem.List(ctx, tags, trustLevels, includeArchived)
}

func (fs *FileStore) AncestorOf(ctx context.Context, toolID string) (string, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.mem.AncestorOf(ctx, toolID)
}

// SetStatus updates the in-memory manifest and rewrites its file so the
// status change survives a restart.
func (fs *FileStore) SetStatus(ctx context.Context, toolID, version string, status manifest.Status) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.mem.SetStatus(ctx, toolID, version, status); err != nil {
		return err
	}
	m, err := fs.mem.Get(ctx, toolID, version)
	if err != nil {
		return err
	}
	raw, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("manifeststore: marshal manifest: %w", err)
	}
	return os.WriteFile(fs.filename(toolID, version), raw, 0o644)
}
