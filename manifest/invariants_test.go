package manifest_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toolforge/forge/manifest"
)

func TestCheckLineageAcyclicDetectsCycle(t *testing.T) {
	ancestors := map[string]string{
		"parse_cron_v2": "parse_cron_v1",
		"parse_cron_v1": "parse_cron_v2", // cycle
	}
	lookup := func(toolID string) (string, bool) {
		a, ok := ancestors[toolID]
		return a, ok
	}
	err := manifest.CheckLineageAcyclic("parse_cron_v2", lookup, 10)
	require.Error(t, err)
	var cycleErr *manifest.ErrLineageCycle
	require.ErrorAs(t, err, &cycleErr)
}

func TestCheckLineageAcyclicAcceptsChain(t *testing.T) {
	ancestors := map[string]string{
		"summarize_pdf_v3": "summarize_pdf_v2",
		"summarize_pdf_v2": "summarize_pdf_v1",
	}
	lookup := func(toolID string) (string, bool) {
		a, ok := ancestors[toolID]
		return a, ok
	}
	require.NoError(t, manifest.CheckLineageAcyclic("summarize_pdf_v3", lookup, 10))
}

func TestClassifyTrustTransition(t *testing.T) {
	require.Equal(t, manifest.TrustUpgrade, manifest.ClassifyTrustTransition(manifest.TrustExperimental, manifest.TrustThirdParty))
	require.Equal(t, manifest.TrustDowngrade, manifest.ClassifyTrustTransition(manifest.TrustCore, manifest.TrustThirdParty))
	require.Equal(t, manifest.TrustUnchanged, manifest.ClassifyTrustTransition(manifest.TrustCore, manifest.TrustCore))
	require.Equal(t, manifest.TrustInvalid, manifest.ClassifyTrustTransition(manifest.TrustLevel("bogus"), manifest.TrustCore))
}

func TestSameIdentityRequiresMatchingAuthorAndAncestor(t *testing.T) {
	base := manifest.ToolManifest{
		ToolID:  "summarize_pdf",
		Version: "1.0.0",
		Origin:  manifest.Origin{Author: "director"},
		Lineage: manifest.Lineage{AncestorToolID: ""},
	}
	same := base
	require.True(t, base.SameIdentity(same))

	forged := base
	forged.Origin.Author = "attacker"
	require.False(t, base.SameIdentity(forged))
}
