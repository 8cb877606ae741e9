package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"Netexp/pkg"
)

var showCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show Resources",
	Long:  `Show the topology, address plan and probe schedule of an experiment without touching the system.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exp, err := loadExperiment(cmd, args)
		if err != nil {
			return err
		}
		if err := exp.Validate(); err != nil {
			return err
		}

		calc := pkg.NewCalculator(configFromViper())
		out := cmd.OutOrStdout()
		class, _ := cmd.Flags().GetString("class")
		switch class {
		case "nodes":
			calc.ShowNodes(out, exp)
		case "links":
			calc.ShowLinks(out, exp)
		case "plan":
			calc.ShowPlan(out, exp)
		case "all":
			fmt.Fprintln(out, exp.Title)
			calc.ShowNodes(out, exp)
			calc.ShowLinks(out, exp)
			calc.ShowPlan(out, exp)
		default:
			return fmt.Errorf("invalid class %q", class)
		}
		return nil
	},
}

func init() {
	showCmd.Flags().StringP("from", "f", "", "Path to the experiment configuration file")
	showCmd.Flags().String("class", "all", "Class of the element to show: nodes, links, plan or all")
}
