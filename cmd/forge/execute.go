package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolforge/forge/internal/forgeerr"
	"github.com/toolforge/forge/sandbox"
)

func newExecuteCmd() *cobra.Command {
	var inputRaw string

	cmd := &cobra.Command{
		Use:   "execute tool_id [version]",
		Short: "Execute a tool's capability through the sandboxed runtime",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version := ""
			if len(args) == 2 {
				version = args[1]
			}
			return runExecute(cmd, args[0], version, inputRaw)
		},
	}
	cmd.Flags().StringVar(&inputRaw, "input", "{}", "JSON-encoded input payload")
	return cmd
}

func runExecute(cmd *cobra.Command, toolID, version, inputRaw string) error {
	var input any
	if err := json.Unmarshal([]byte(inputRaw), &input); err != nil {
		return newUsageError("parse --input as JSON: %w", err)
	}

	a, err := newApp(stateDir)
	if err != nil {
		return err
	}

	ctx := cmdCtx(cmd)

	// Resolve version expressions (empty, "latest", "best", "stable", a
	// minor line) through the registry first: the sandboxed runtime's
	// manifest lookup requires an exact version.
	m, ok, err := a.registry.Get(ctx, toolID, version)
	if err != nil {
		return err
	}
	if !ok {
		return forgeerr.New(forgeerr.NotFound, fmt.Sprintf("tool %q not found", toolID))
	}

	exec, err := a.runtime.Execute(ctx, toolID, m.Version, input, sandbox.DefaultDirectorProfile)
	if err != nil {
		return err
	}

	if rerr := a.consensus.RecordExecution(ctx, toolID, m.Version, exec.Record); rerr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "forge: warning: record execution: %v\n", rerr)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "call_id=%s success=%v latency_ms=%.1f\n", exec.CallID, exec.Success, exec.LatencyMs)
	fmt.Fprintf(out, "input_hash=%s result_hash=%s\n", exec.Record.InputHash, exec.Record.ResultHash)
	return nil
}
