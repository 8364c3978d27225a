package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolforge/forge/manifest"
	"github.com/toolforge/forge/registry"
)

func newQueryCmd() *cobra.Command {
	var latencyMs float64
	var risk float64
	var trust string

	cmd := &cobra.Command{
		Use:   "query capability",
		Short: "Query the registry for the best tool matching a capability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args[0], latencyMs, risk, trust)
		},
	}
	cmd.Flags().Float64Var(&latencyMs, "latency", 0, "maximum acceptable latency_ms_p95")
	cmd.Flags().Float64Var(&risk, "risk", 0, "maximum acceptable risk score")
	cmd.Flags().StringVar(&trust, "trust", "", "minimum trust level (experimental, third_party, core)")
	return cmd
}

func runQuery(cmd *cobra.Command, capability string, latencyMs, risk float64, trust string) error {
	switch manifest.TrustLevel(trust) {
	case "", manifest.TrustExperimental, manifest.TrustThirdParty, manifest.TrustCore:
	default:
		return newUsageError("unknown trust level %q", trust)
	}

	a, err := newApp(stateDir)
	if err != nil {
		return err
	}

	result, err := a.registry.Query(cmdCtx(cmd), capability, registry.Constraints{
		MaxLatencyMsP95: latencyMs,
		MaxRiskScore:    risk,
	}, nil, 5)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if result.Best == nil {
		fmt.Fprintln(out, "no matching tool found")
		return nil
	}
	if trust != "" && !meetsTrust(result.Best.Trust.Level, manifest.TrustLevel(trust)) {
		fmt.Fprintln(out, "no matching tool found")
		return nil
	}

	fmt.Fprintf(out, "best: %s@%s (%s, trust=%s, risk=%.2f)\n",
		result.Best.ToolID, result.Best.Version, result.Best.Name, result.Best.Trust.Level, result.Best.Trust.RiskScore)
	for _, alt := range result.Alternatives {
		fmt.Fprintf(out, "  alt: %s@%s (%s, trust=%s, risk=%.2f)\n",
			alt.ToolID, alt.Version, alt.Name, alt.Trust.Level, alt.Trust.RiskScore)
	}
	return nil
}

// trustRank orders trust levels from lowest to highest so query's --trust
// flag can filter on a minimum bar.
var trustRank = map[manifest.TrustLevel]int{
	manifest.TrustExperimental: 0,
	manifest.TrustThirdParty:   1,
	manifest.TrustCore:         2,
}

func meetsTrust(have, want manifest.TrustLevel) bool {
	return trustRank[have] >= trustRank[want]
}
