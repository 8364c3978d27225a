// Command forge is the operator-facing CLI for a Tool Forge instance: it
// wraps the registry, validation council, sandboxed runtime, consensus
// engine, and cluster optimizer behind six subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolforge/forge/internal/forgeerr"
)

var (
	stateDir           string
	timeout            time.Duration
	provenanceRedisURL string
)

func main() {
	root := &cobra.Command{
		Use:           "forge",
		Short:         "Operate a Tool Forge instance: register, validate, query, execute, optimize, and list tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&stateDir, "state-dir", defaultStateDir(), "directory holding manifests and provenance")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "deadline applied to the command's collaborator calls")
	root.PersistentFlags().StringVar(&provenanceRedisURL, "provenance-redis-url", "", "if set, publish provenance records to a goa.design/pulse stream on this Redis instance instead of local files (e.g. redis://localhost:6379/0)")

	root.AddCommand(
		newRegisterCmd(),
		newValidateCmd(),
		newQueryCmd(),
		newExecuteCmd(),
		newOptimizeCmd(),
		newListCmd(),
	)

	// Cobra reports flag-parsing and argument-count problems as plain
	// errors; wrap them as usage errors so they exit as invalid arguments.
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err: err} })
	for _, c := range root.Commands() {
		if validate := c.Args; validate != nil {
			c.Args = func(cmd *cobra.Command, args []string) error {
				if err := validate(cmd, args); err != nil {
					return usageError{err: err}
				}
				return nil
			}
		}
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "forge:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error onto the forge exit code table. A nil error
// exits 0. An error without a forge kind exits 2 when it is a usageError
// (which main wraps around cobra's flag and argument errors) and 5 otherwise.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	switch forgeerr.KindOf(err) {
	case forgeerr.NotFound:
		return 3
	case forgeerr.InvalidInput, forgeerr.InvariantViolation:
		return 2
	case forgeerr.ValidationFailed:
		return 4
	case forgeerr.ServerUnavailable, forgeerr.Timeout, forgeerr.Cancelled:
		return 5
	case forgeerr.Busy:
		return 6
	default:
		if isUsageError(err) {
			return 2
		}
		return 5
	}
}

// usageError marks an error that failed before reaching any forge
// component, e.g. a malformed flag value or missing required argument.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func newUsageError(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

func isUsageError(err error) bool {
	_, ok := err.(usageError)
	return ok
}

// cmdCtx returns cmd's context, falling back to context.Background() the way
// a bare invocation (outside Execute) would otherwise panic on a nil ctx.
func cmdCtx(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
