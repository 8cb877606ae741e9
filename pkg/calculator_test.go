package pkg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Netexp/pkg/experiment"
	"Netexp/pkg/probe"
	"Netexp/pkg/shell"
)

func TestShowSDN(t *testing.T) {
	exp, err := experiment.SDN()
	require.NoError(t, err)
	c := NewCalculator(Config{})

	var b bytes.Buffer
	c.ShowNodes(&b, exp)
	assert.Contains(t, b.String(), "Node: s1, Kind: switch, Interfaces: s1-eth1(h1-side) s1-eth2(h2-side) s1-eth3(s2-side)\n")
	assert.Contains(t, b.String(), "Node: h3, Kind: host, Interfaces: h3-eth0\n")

	b.Reset()
	c.ShowLinks(&b, exp)
	assert.Contains(t, b.String(), "Link: s1:s1-eth3 <-> s2:s2-eth1, Bw: 0Mbps, Delay: 0ms, Loss: 0.00\n")

	b.Reset()
	c.ShowPlan(&b, exp)
	assert.Equal(t, "Address: h1 h1-eth0 10.0.0.1/24\n"+
		"Address: h2 h2-eth0 10.0.0.2/24\n"+
		"Address: h3 h3-eth0 10.0.0.3/24\n"+
		"Flow: s1 in_port=h2-side -> drop\n"+
		"Flow: s1 in_port=h1-side -> output:s2-side\n"+
		"Flow: s1 in_port=s2-side -> output:h1-side\n"+
		"Baseline: h1 -> h3\n"+
		"Baseline: h2 -> h3\n"+
		"Probe: h1 -> h3\n"+
		"Probe: h2 -> h3\n", b.String())
}

func TestShowRoutes(t *testing.T) {
	exp, err := experiment.Routing()
	require.NoError(t, err)
	var b bytes.Buffer
	NewCalculator(Config{}).ShowPlan(&b, exp)
	assert.Contains(t, b.String(), "Route: h1: default via 10.0.0.3\n")
	assert.Contains(t, b.String(), "Route: r1: 10.0.2.0/24 via 10.0.1.2\n")
}

func TestCalculatorSelection(t *testing.T) {
	c := NewCalculator(Config{Backend: "vm"})
	_, err := c.backend()
	assert.ErrorContains(t, err, `unknown backend "vm"`)

	c = NewCalculator(Config{Prober: "native", PingCount: 3})
	pr, err := c.prober(shell.New(nil))
	require.NoError(t, err)
	assert.IsType(t, &probe.NativeProber{}, pr)
	assert.Equal(t, 3, pr.(*probe.NativeProber).Count)

	c = NewCalculator(Config{})
	pr, err = c.prober(shell.New(nil))
	require.NoError(t, err)
	assert.IsType(t, &probe.CommandProber{}, pr)

	_, err = NewCalculator(Config{Prober: "arping"}).prober(shell.New(nil))
	assert.Error(t, err)
}
