package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toolforge/forge/manifest"
	"github.com/toolforge/forge/manifeststore"
	"github.com/toolforge/forge/registry"
	"github.com/toolforge/forge/vectorstore"
)

// stubEmbedder returns a fixed-dimension vector derived from the text's
// length so distinct capability summaries land at distinct points without
// depending on a real embedding provider in unit tests.
type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 0}, nil
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(registry.Options{
		Store:    manifeststore.NewMemory(),
		Vectors:  vectorstore.NewInMem(),
		Embedder: stubEmbedder{},
	})
	require.NoError(t, err)
	return reg
}

func baseManifest(toolID, version string) manifest.ToolManifest {
	return manifest.ToolManifest{
		ToolID:      toolID,
		Version:     version,
		Name:        toolID,
		Type:        manifest.TypeNative,
		Description: "a test tool",
		Origin:      manifest.Origin{Author: "director", CreatedAt: time.Now()},
		Trust:       manifest.Trust{Level: manifest.TrustExperimental, RiskScore: 1.0},
		CreatedAt:   time.Now(),
	}
}

func TestRegisterThenGetLatest(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	require.NoError(t, reg.Register(ctx, baseManifest("parse_cron", "1.0.0")))
	require.NoError(t, reg.Register(ctx, baseManifest("parse_cron", "1.2.0")))

	m, ok, err := reg.Get(ctx, "parse_cron", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1.2.0", m.Version)
}

func TestGetReturnsNoneWithoutError(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	m, ok, err := reg.Get(ctx, "missing", "")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, manifest.ToolManifest{}, m)
}

func TestRegisterRejectsIdentityForgery(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	original := baseManifest("summarize_pdf", "1.0.0")
	original.Origin.Author = "director"
	require.NoError(t, reg.Register(ctx, original))

	forged := original
	forged.Origin.Author = "attacker"
	err := reg.Register(ctx, forged)
	require.Error(t, err)
	var rejected *registry.ErrRejected
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, registry.RejectInvariantViolation, rejected.Reason)
}

func TestQueryFiltersByConstraintsAndSortsByWeight(t *testing.T) {
	ctx := context.Background()

	weights := map[string]float64{"1.0.0": 0.72, "2.0.0": 0.81}
	reg, err := registry.New(registry.Options{
		Store:    manifeststore.NewMemory(),
		Vectors:  vectorstore.NewInMem(),
		Embedder: stubEmbedder{},
		ConsensusWeight: func(_ context.Context, toolID, version string) (float64, bool) {
			w, ok := weights[version]
			return w, ok
		},
	})
	require.NoError(t, err)

	low := baseManifest("summarize_pdf", "1.0.0")
	low.Metrics.LatencyMsP95 = 400
	require.NoError(t, reg.Register(ctx, low))

	high := baseManifest("summarize_pdf", "2.0.0")
	high.Metrics.LatencyMsP95 = 400
	require.NoError(t, reg.Register(ctx, high))

	result, err := reg.Query(ctx, "summarize_pdf", registry.Constraints{MaxLatencyMsP95: 500}, nil, 5)
	require.NoError(t, err)
	require.NotNil(t, result.Best)
	require.Equal(t, "2.0.0", result.Best.Version)
	require.Len(t, result.Alternatives, 1)
	require.Equal(t, "1.0.0", result.Alternatives[0].Version)
}

func TestQueryExcludesManifestsAboveLatencyThreshold(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	slow := baseManifest("summarize_pdf", "1.0.0")
	slow.Metrics.LatencyMsP95 = 900
	require.NoError(t, reg.Register(ctx, slow))

	result, err := reg.Query(ctx, "summarize_pdf", registry.Constraints{MaxLatencyMsP95: 500}, nil, 5)
	require.NoError(t, err)
	require.Nil(t, result.Best)
	require.Empty(t, result.Alternatives)
}

func TestResolveVersionExprStableSkipsPrerelease(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	require.NoError(t, reg.Register(ctx, baseManifest("parse_cron", "1.0.0")))
	require.NoError(t, reg.Register(ctx, baseManifest("parse_cron", "2.0.0-beta.1")))

	m, ok, err := reg.Get(ctx, "parse_cron", "stable")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1.0.0", m.Version)
}

func TestResolveVersionExprMinorLine(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	require.NoError(t, reg.Register(ctx, baseManifest("parse_cron", "1.2.3")))
	require.NoError(t, reg.Register(ctx, baseManifest("parse_cron", "1.2.7")))
	require.NoError(t, reg.Register(ctx, baseManifest("parse_cron", "1.3.0")))

	m, ok, err := reg.Get(ctx, "parse_cron", "1.2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1.2.7", m.Version)
}
