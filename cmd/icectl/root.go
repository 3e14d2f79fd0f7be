package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danmuck/icectl/internal/model"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "icectl",
		Short: "Build, write and inspect distributed ice-sheet model fields",
		Long: `icectl builds a set of standard model fields on a decomposed grid,
writes the ones marked for output to a pio file, and inspects such files.

Examples:
  # Write a config template, then run it
  configgen -kind run -output run.toml
  icectl run -c run.toml

  # Show what a run wrote
  icectl inspect icectl.pio
  icectl inspect icectl.pio --format yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newInspectCmd(), newFieldsCmd())
	return root
}

func newFieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "List the field kinds a run config can name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range model.DefaultFactories().Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
