package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// Process exit codes.
const (
	ExitPass      = 0
	ExitUsage     = 1
	ExitThreshold = 99
	ExitAborted   = 107
)

// ExitError carries a process exit code out of a command. Err may be nil
// when the command already reported the outcome.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "stampede",
		Short:   "Staged, flow-based HTTP load generator",
		Version: version,
		Long: `Stampede drives virtual users through staged concurrency ramps, runs
weighted multi-step request flows against an HTTP API and renders a
PASS/FAIL verdict against declared thresholds.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			_ = cmd.Help()
		},
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newPresetsCmd())
	root.AddCommand(newMockServerCmd())
	return root
}

// Execute runs the CLI with the process arguments and returns the exit
// code. This is called by main.main().
func Execute() int {
	return ExecuteContext(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

// ExecuteContext runs the CLI with args and returns the exit code.
func ExecuteContext(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	return exitCode(root.ExecuteContext(ctx), stderr)
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return ExitPass
	}

	var exit *ExitError
	if errors.As(err, &exit) {
		if exit.Err != nil {
			fmt.Fprintln(stderr, "Error:", exit.Err)
		}
		return exit.Code
	}

	fmt.Fprintln(stderr, "Error:", err)
	return ExitUsage
}
