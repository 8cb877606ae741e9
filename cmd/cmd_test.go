package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags puts every flag of cmd and its subcommands back to its default,
// so one test's flags do not leak into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestList(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "routing    Experiment 1: IP Routing (report result1.txt)\n")
	assert.Contains(t, out, "sdn        Experiment 2: SDN (report result2.txt)\n")
}

func TestShowBuiltin(t *testing.T) {
	out, err := execute(t, "show", "routing", "--class", "nodes")
	require.NoError(t, err)
	assert.Contains(t, out, "Node: r1, Kind: router, Interfaces: r1-eth0 r1-eth1 r1-eth2\n")
}

func TestShowFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pair.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: pair
nodes: [{name: a}, {name: b}]
links: [{srcNode: a, dstNode: b, properties: {latency: 10}}]
addresses:
  - {node: a, intf: a-eth0, cidr: 192.168.1.1/24}
  - {node: b, intf: b-eth0, cidr: 192.168.1.2/24}
probes: [{src: a, dst: b}]
`), 0o644))

	out, err := execute(t, "show", "-f", path, "--class", "all")
	require.NoError(t, err)
	assert.Contains(t, out, "Experiment: pair\n")
	assert.Contains(t, out, "Link: a:a-eth0 <-> b:b-eth0, Bw: 0Mbps, Delay: 10ms, Loss: 0.00\n")
	assert.Contains(t, out, "Probe: a -> b\n")
}

func TestShowErrors(t *testing.T) {
	_, err := execute(t, "show", "--from", "", "--class", "all")
	assert.ErrorContains(t, err, "no experiment given")

	_, err = execute(t, "show", "bgp")
	assert.ErrorContains(t, err, `no built-in experiment "bgp"`)

	_, err = execute(t, "show", "sdn", "--class", "ports")
	assert.ErrorContains(t, err, "invalid class")

	_, err = execute(t, "show", "sdn", "--class", "all", "--log-level", "loud")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestFlagsDoNotCarryOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pair.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: pair
nodes: [{name: a}, {name: b}]
links: [{srcNode: a, dstNode: b}]
`), 0o644))

	out, err := execute(t, "show", "-f", path, "--class", "nodes")
	require.NoError(t, err)
	assert.Contains(t, out, "Node: a, Kind: host")

	out, err = execute(t, "show", "sdn")
	require.NoError(t, err)
	assert.NotContains(t, out, "Node: a, Kind: host")
	assert.Contains(t, out, "Experiment 2: SDN\n")
	assert.Contains(t, out, "Link: ")
}
