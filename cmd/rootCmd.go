package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"Netexp/pkg"
	"Netexp/pkg/experiment"
	"Netexp/pkg/node"
)

var rootCmd = &cobra.Command{
	Use:          "netexp",
	Short:        "netexp experiment CLI",
	Long:         "A command-line tool that builds emulated network topologies, configures them and checks their connectivity.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogger(viper.GetString("log-level"))
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("report-dir", ".", "Directory the report file is written to")
	pf.String("backend", pkg.BackendNetns, "What hosts and routers run in: netns or docker")
	pf.String("image", node.DefaultImage, "Image for the docker backend")
	pf.String("prober", pkg.ProberCommand, "How probes are sent: command (ping on the node) or native")
	pf.Int("ping-count", 1, "Echo requests per probe")
	pf.Duration("port-timeout", pkg.DefaultPortTimeout, "How long to wait for OVS to number a switch port")
	pf.String("log-level", "info", "Log level: debug, info, warn or error")
	for _, name := range []string{"report-dir", "backend", "image", "prober", "ping-count", "port-timeout", "log-level"} {
		if err := viper.BindPFlag(name, pf.Lookup(name)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(runCmd, showCmd, listCmd)
}

// initConfig lets every flag be set from the environment, e.g. NETEXP_REPORT_DIR.
func initConfig() {
	viper.SetEnvPrefix("NETEXP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func configFromViper() pkg.Config {
	return pkg.Config{
		ReportDir:   viper.GetString("report-dir"),
		Backend:     viper.GetString("backend"),
		Image:       viper.GetString("image"),
		Prober:      viper.GetString("prober"),
		PingCount:   viper.GetInt("ping-count"),
		PortTimeout: viper.GetDuration("port-timeout"),
		Logger:      logger,
	}
}

// loadExperiment resolves either -f <file> or a built-in name.
func loadExperiment(cmd *cobra.Command, args []string) (*experiment.Experiment, error) {
	file, _ := cmd.Flags().GetString("from")
	switch {
	case file != "" && len(args) > 0:
		return nil, fmt.Errorf("give either an experiment name or --from, not both")
	case file != "":
		return experiment.Load(file)
	case len(args) == 1:
		return experiment.Builtin(args[0])
	}
	return nil, fmt.Errorf("no experiment given, try one of: %s", strings.Join(experiment.BuiltinNames(), ", "))
}
