package main

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolforge/forge/manifest"
)

func newRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register tool_name type",
		Short: "Register a new tool manifest at trust=experimental",
		Long: `Register prompts for a description and a comma-separated tag list on
stdin, then writes a manifest with trust experimental and risk 1.0.

type must be one of: capability-server, inline-llm, native, workflow.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(cmd, args[0], args[1])
		},
	}
}

func runRegister(cmd *cobra.Command, name, typ string) error {
	toolType := manifest.Type(typ)
	switch toolType {
	case manifest.TypeCapabilityServer, manifest.TypeInlineLLM, manifest.TypeNative, manifest.TypeWorkflow:
	default:
		return newUsageError("unknown tool type %q (want capability-server, inline-llm, native, or workflow)", typ)
	}

	reader := bufio.NewReader(cmd.InOrStdin())
	fmt.Fprint(cmd.OutOrStdout(), "Description: ")
	description, _ := reader.ReadString('\n')
	description = strings.TrimSpace(description)

	fmt.Fprint(cmd.OutOrStdout(), "Tags (comma-separated): ")
	tagLine, _ := reader.ReadString('\n')
	var tags []string
	for _, t := range strings.Split(tagLine, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}

	a, err := newApp(stateDir)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	m := manifest.ToolManifest{
		ToolID:      name,
		Version:     "0.1.0",
		Name:        name,
		Type:        toolType,
		Description: description,
		Origin:      manifest.Origin{Author: "operator", CreatedAt: now},
		Tags:        tags,
		Trust:       manifest.Trust{Level: manifest.TrustExperimental, RiskScore: 1.0},
		Status:      manifest.StatusActive,
		CreatedAt:   now,
	}

	ctx := cmdCtx(cmd)
	if err := a.registry.Register(ctx, m); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "registered %s@%s (trust=%s)\n", m.ToolID, m.Version, m.Trust.Level)
	return nil
}
