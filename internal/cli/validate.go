package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/engine"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan-file>",
		Short: "Check a plan file without running it",
		Long: `Parse and validate a plan file: stages, scenarios, steps, checks,
extractions and threshold expressions. Every problem is reported at once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validatePlan(cmd, args[0])
		},
	}
}

func validatePlan(cmd *cobra.Command, path string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("error loading config: %w", err)}
	}

	plan, err := config.Build(cfg)
	if err != nil {
		fmt.Fprintf(out, "%s %s\n", color.RedString("✗"), path)
		return &ExitError{Code: ExitUsage, Err: err}
	}
	if _, err := engine.New(plan, engine.Options{}); err != nil {
		fmt.Fprintf(out, "%s %s\n", color.RedString("✗"), path)
		return &ExitError{Code: ExitUsage, Err: err}
	}

	fmt.Fprintf(out, "%s %s is valid\n", color.GreenString("✓"), path)
	fmt.Fprintf(out, "  Plan:       %s\n", plan.Name)
	fmt.Fprintf(out, "  Stages:     %d (%s)\n", len(plan.Stages), plan.TotalDuration())
	fmt.Fprintf(out, "  Scenarios:  %d\n", plan.Scenarios.Len())
	fmt.Fprintf(out, "  Thresholds: %d metrics\n", len(plan.Thresholds))
	return nil
}
