package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/storefront"
)

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the built-in plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, p := range storefront.Presets() {
				plan, err := p.Build(storefront.Options{})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%-12s %-8s %s\n", p.Name, plan.TotalDuration(), p.Description)
			}
			return nil
		},
	}
}
