package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolforge/forge/internal/forgeerr"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate tool_id [version]",
		Short: "Run the validation council against a tool and update its trust",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version := ""
			if len(args) == 2 {
				version = args[1]
			}
			return runValidate(cmd, args[0], version)
		},
	}
}

func runValidate(cmd *cobra.Command, toolID, version string) error {
	a, err := newApp(stateDir)
	if err != nil {
		return err
	}

	ctx := cmdCtx(cmd)
	if version == "" {
		m, ok, err := a.registry.Get(ctx, toolID, "")
		if err != nil {
			return err
		}
		if !ok {
			return forgeerr.New(forgeerr.NotFound, fmt.Sprintf("tool %q not found", toolID))
		}
		version = m.Version
	}

	outcome, err := a.council.Validate(ctx, toolID, version, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, stage := range outcome.Stages {
		status := "pass"
		if !stage.Success {
			status = "fail"
		}
		vacuous := ""
		if stage.Vacuous {
			vacuous = " (vacuous)"
		}
		fmt.Fprintf(out, "%-24s %-5s score=%.3f%s\n", stage.Name, status, stage.Score, vacuous)
	}
	fmt.Fprintf(out, "validation_score=%.3f ok=%v\n", outcome.ValidationScore, outcome.OK)

	if !outcome.OK {
		return forgeerr.New(forgeerr.ValidationFailed, fmt.Sprintf("%s@%s failed validation", toolID, version))
	}
	return nil
}
