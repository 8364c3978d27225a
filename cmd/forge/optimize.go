package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolforge/forge/cluster"
	"github.com/toolforge/forge/internal/forgeerr"
)

func newOptimizeCmd() *cobra.Command {
	var runs int

	cmd := &cobra.Command{
		Use:   "optimize workflow_id",
		Short: "Run the cluster optimizer's promotion loop over a workflow's variant cluster",
		Long: `Optimize treats workflow_id as a cluster ID, generating and validating
candidate variants against the cluster's canonical until a candidate fails
to clear the promotion threshold or --runs iterations are spent, then
prints the resulting canonical and any archived variants.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(cmd, args[0], runs)
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 0, "maximum optimization iterations (defaults to the optimizer's configured bound)")
	return cmd
}

func runOptimize(cmd *cobra.Command, workflowID string, runs int) error {
	a, err := newApp(stateDir)
	if err != nil {
		return err
	}

	ctx := cmdCtx(cmd)
	c, err := a.clusters.Get(ctx, workflowID)
	if err != nil {
		if err == cluster.ErrClusterNotFound {
			return forgeerr.New(forgeerr.NotFound, fmt.Sprintf("cluster %q not found", workflowID))
		}
		return forgeerr.Wrap(forgeerr.Internal, "load cluster", err)
	}

	optimizer := a.optimizer
	if runs > 0 {
		optimizer, err = cluster.New(cluster.Options{Store: a.clusters, MaxIterations: runs})
		if err != nil {
			return forgeerr.Wrap(forgeerr.Internal, "build optimizer", err)
		}
	}

	iterations, err := optimizer.OptimizeCluster(ctx, &c)
	if err != nil {
		return forgeerr.Wrap(forgeerr.Internal, "optimize cluster", err)
	}

	out := cmd.OutOrStdout()
	for _, it := range iterations {
		fmt.Fprintf(out, "iteration %d: promoted=%v fitness=%.3f\n", it.IterationNumber, it.Promoted, it.Validation.FitnessScore)
		for _, insight := range it.Insights {
			fmt.Fprintf(out, "  %s\n", insight)
		}
	}
	fmt.Fprintf(out, "canonical: %s (%s)\n", c.Canonical.VariantID, c.Canonical.Version)
	for _, alt := range c.Alternates {
		fmt.Fprintf(out, "  alt: %s (%s, status=%s)\n", alt.VariantID, alt.Version, alt.Status)
	}
	return nil
}
