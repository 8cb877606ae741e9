package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"Netexp/pkg/experiment"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in experiments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range experiment.BuiltinNames() {
			exp, err := experiment.Builtin(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s (report %s)\n", name, exp.Title, exp.Report)
		}
		return nil
	},
}
