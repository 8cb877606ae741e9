package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"Netexp/pkg"
)

var runCmd = &cobra.Command{
	Use:   "run [name]",
	Short: "Run an experiment",
	Long: `Run a built-in experiment or one loaded with --from, then write its report.
The topology is torn down even when the run fails or is interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exp, err := loadExperiment(cmd, args)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		path, err := pkg.NewCalculator(configFromViper()).RunExperiment(ctx, exp)
		if path != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", path)
		}
		return err
	},
}

func init() {
	runCmd.Flags().StringP("from", "f", "", "Path to the experiment configuration file")
}
