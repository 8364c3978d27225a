package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/toolforge/forge/manifest"
)

func newListCmd() *cobra.Command {
	var trust string
	var typ string
	var tags []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tools, grouped by trust level",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, trust, typ, tags)
		},
	}
	cmd.Flags().StringVar(&trust, "trust", "", "filter to one trust level (experimental, third_party, core)")
	cmd.Flags().StringVar(&typ, "type", "", "filter to one tool type")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "filter to manifests carrying all of these tags")
	return cmd
}

func runList(cmd *cobra.Command, trust, typ string, tags []string) error {
	var trustLevels []manifest.TrustLevel
	if trust != "" {
		trustLevels = []manifest.TrustLevel{manifest.TrustLevel(trust)}
	}

	a, err := newApp(stateDir)
	if err != nil {
		return err
	}

	all, err := a.manifests.List(cmdCtx(cmd), tags, trustLevels, false)
	if err != nil {
		return err
	}
	if typ != "" {
		filtered := all[:0]
		for _, m := range all {
			if string(m.Type) == typ {
				filtered = append(filtered, m)
			}
		}
		all = filtered
	}

	byTrust := map[manifest.TrustLevel][]manifest.ToolManifest{}
	for _, m := range all {
		byTrust[m.Trust.Level] = append(byTrust[m.Trust.Level], m)
	}

	out := cmd.OutOrStdout()
	for _, level := range []manifest.TrustLevel{manifest.TrustCore, manifest.TrustThirdParty, manifest.TrustExperimental} {
		group := byTrust[level]
		if len(group) == 0 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].ToolID < group[j].ToolID })
		fmt.Fprintf(out, "%s:\n", level)
		for _, m := range group {
			fmt.Fprintf(out, "  %-24s %-10s %-20s %s\n", m.ToolID+"@"+m.Version, m.Type, m.Name, strings.Join(m.Tags, ","))
		}
	}
	return nil
}
