package experiment

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Netexp/api"
	"Netexp/pkg/fakenet"
	"Netexp/pkg/ovs"
	"Netexp/pkg/probe"
)

var fullRun = []State{StateBuilt, StateStarted, StateConfigured, StateProbed, StateStopped}

func verdicts(results []probe.Result) []bool {
	out := make([]bool, 0, len(results))
	for _, r := range results {
		out = append(out, r.Success)
	}
	return out
}

func TestRoutingScenario(t *testing.T) {
	exp, err := Routing()
	require.NoError(t, err)
	fn := fakenet.New()
	r := NewRunner(fn, fn)

	rep, err := r.Run(context.Background(), exp)
	require.NoError(t, err)

	if diff := cmp.Diff(fullRun, r.States()); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
	results := rep.Probes()
	assert.Equal(t, []bool{true, true, true, true}, verdicts(results))
	assert.Equal(t, "10.0.2.2", results[0].DstIP)
	assert.Equal(t, "10.0.0.1", results[0].SrcIP)

	assert.True(t, strings.HasPrefix(rep.String(),
		"Experiment 1: IP Routing\n\nPing from h1 (10.0.0.1) to h3 (10.0.2.2)\nPING 10.0.2.2"), rep.String())

	assert.True(t, fn.Stopped())
	assert.False(t, fn.Forwarding("r1"), "forwarding is switched off at teardown")
	assert.False(t, fn.Forwarding("r2"))
	assert.Equal(t, []string{
		"sysctl -w net.ipv4.ip_forward=1",
		"sysctl -w net.ipv4.ip_forward=0",
	}, filter(fn.Commands("r1"), "sysctl"))
}

func TestRoutingWrongNextHop(t *testing.T) {
	exp, err := Routing()
	require.NoError(t, err)
	for i, rt := range exp.Routes {
		if rt.Node == "r1" {
			exp.Routes[i].Via = "10.0.1.9"
		}
	}
	fn := fakenet.New()
	rep, err := NewRunner(fn, fn).Run(context.Background(), exp)
	require.NoError(t, err, "probe failures are recorded, not raised")

	results := rep.Probes()
	require.Len(t, results, 4)
	assert.False(t, results[0].Success, "h1 -> h3")
	assert.False(t, results[2].Success, "h3 -> h1")
	assert.Equal(t, float64(100), results[0].Loss)
}

func TestSDNScenario(t *testing.T) {
	exp, err := SDN()
	require.NoError(t, err)
	// OVS numbers ports in whatever order it likes
	fn := fakenet.New(fakenet.WithPortNumbers("s1", map[string]int{
		"s1-eth1": 3,
		"s1-eth2": 1,
		"s1-eth3": 2,
	}))
	r := NewRunner(fn, fn)

	rep, err := r.Run(context.Background(), exp)
	require.NoError(t, err)
	assert.Equal(t, fullRun, r.States())

	results := rep.Probes()
	require.Len(t, results, 4)
	assert.Equal(t, []bool{true, true, true, false}, verdicts(results))
	assert.Equal(t, float64(100), results[3].Loss)

	assert.Equal(t, 3, fn.FlowCount("s1"))
	var dump string
	for _, s := range rep.Sections() {
		if s.Label == "INSTALLED FLOWS on s1:" {
			dump = s.Text
		}
	}
	assert.Equal(t, 3, strings.Count(dump, "actions="))
	assert.Contains(t, dump, "in_port=1 actions=drop")
	assert.Contains(t, dump, "in_port=3 actions=output:2")
	assert.Contains(t, dump, "in_port=2 actions=output:3")

	labels := make([]string, 0, len(rep.Sections()))
	for _, s := range rep.Sections() {
		labels = append(labels, s.Label)
	}
	assert.Equal(t, []string{
		"Pinging h1 to h3 before flows:",
		"Pinging h2 to h3 before flows:",
		"Flow commands executed on s1:",
		"INSTALLED FLOWS on s1:",
		"Ping h1 to h3 after installing flows:",
		"Ping h2 to h3 after installing flows (expecting failure):",
	}, labels)
	assert.True(t, fn.Stopped())
}

const sdnWithRouter = `
name: sdn-router
nodes:
  - {name: h1}
  - {name: h2}
  - {name: h3}
  - {name: r1, kind: router}
  - {name: s1, kind: switch}
  - {name: s2, kind: switch}
links:
  - {srcNode: h1, dstNode: s1, dstAlias: h1-side}
  - {srcNode: h2, dstNode: s1, dstAlias: h2-side}
  - {srcNode: s1, dstNode: s2, srcAlias: s2-side}
  - {srcNode: s2, dstNode: h3}
  - {srcNode: s2, dstNode: r1}
addresses:
  - {node: h1, intf: h1-eth0, cidr: 10.0.0.1/24}
  - {node: h2, intf: h2-eth0, cidr: 10.0.0.2/24}
  - {node: h3, intf: h3-eth0, cidr: 10.0.0.3/24}
  - {node: r1, intf: r1-eth0, cidr: 10.0.0.254/24}
flows:
  - switch: s1
    rules:
      - {inPort: h2-side, action: drop}
      - {inPort: h1-side, action: output, outPort: s2-side}
      - {inPort: s2-side, action: output, outPort: h1-side}
probes:
  - {src: h1, dst: h3}
`

type stuckResolver struct{}

// Resolve reports only the first port, as if the other links never came up.
func (stuckResolver) Resolve(_ context.Context, sw string) (ovs.PortMapping, error) {
	return ovs.NewPortMapping(sw, map[string]int{sw + "-eth1": 1}), nil
}

func TestPortNotFoundStillTearsDown(t *testing.T) {
	exp, err := Parse([]byte(sdnWithRouter))
	require.NoError(t, err)
	fn := fakenet.New()
	r := NewRunner(fn, fn, WithResolver(stuckResolver{}))

	rep, err := r.Run(context.Background(), exp)
	var perr *ovs.PortNotFoundError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "h2-side", perr.Port)

	assert.Equal(t, []State{StateBuilt, StateStarted, StateStopped}, r.States())
	assert.True(t, fn.Stopped())
	cmds := fn.Commands("r1")
	require.NotEmpty(t, cmds)
	assert.Equal(t, "sysctl -w net.ipv4.ip_forward=0", cmds[len(cmds)-1], "role disable attempted")
	assert.Empty(t, filter(fn.Commands("s1"), "del-flows"), "table untouched")
	assert.Empty(t, rep.Probes())

	sections := rep.Sections()
	last := sections[len(sections)-1]
	assert.Equal(t, "ERROR:", last.Label)
	assert.Contains(t, last.Text, "h2-side")
}

func TestTeardownFailureIsOnlyLogged(t *testing.T) {
	exp, err := Routing()
	require.NoError(t, err)
	fn := fakenet.New(
		fakenet.WithStopError(errors.New("bridge s9 busy")),
		fakenet.WithFault(func(node, cmd string) (string, error, bool) {
			if node == "r2" && cmd == "sysctl -w net.ipv4.ip_forward=0" {
				return "sysctl: permission denied on key 'net.ipv4.ip_forward'\n", &fakenet.ExitError{Code: 255}, true
			}
			return "", nil, false
		}),
	)
	var logs bytes.Buffer
	r := NewRunner(fn, fn, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	rep, err := r.Run(context.Background(), exp)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true, true}, verdicts(rep.Probes()))
	assert.Equal(t, fullRun, r.States())
	assert.True(t, fn.Stopped())
	assert.False(t, fn.Forwarding("r1"), "r1 still switched off")
	assert.NotContains(t, rep.String(), "ERROR:")

	assert.Contains(t, logs.String(), "teardown incomplete")
	assert.Contains(t, logs.String(), "bridge s9 busy")
	assert.Contains(t, logs.String(), "disable forwarding on r2")
}

func TestProbeFailureDoesNotStopSchedule(t *testing.T) {
	exp, err := Routing()
	require.NoError(t, err)
	pings := 0
	fn := fakenet.New(fakenet.WithFault(func(node, cmd string) (string, error, bool) {
		if strings.HasPrefix(cmd, "ping") {
			pings++
			if pings == 1 {
				return "connection to node lost", &fakenet.ExitError{Code: 255}, true
			}
		}
		return "", nil, false
	}))

	rep, err := NewRunner(fn, fn).Run(context.Background(), exp)
	require.NoError(t, err)
	results := rep.Probes()
	assert.Equal(t, []bool{false, true, true, true}, verdicts(results))
	assert.ErrorIs(t, results[0].Err, probe.ErrUnparseable)
	assert.Equal(t, 4, pings)
}

func TestConfigFailureAbortsAndTearsDown(t *testing.T) {
	exp, err := Routing()
	require.NoError(t, err)
	fn := fakenet.New(fakenet.WithFault(func(node, cmd string) (string, error, bool) {
		if node == "r2" && strings.HasPrefix(cmd, "ip route add 10.0.3.0/24") {
			return "RTNETLINK answers: Operation not permitted\n", &fakenet.ExitError{Code: 2}, true
		}
		return "", nil, false
	}))
	r := NewRunner(fn, fn)

	rep, err := r.Run(context.Background(), exp)
	var cerr *api.CommandError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "r2", cerr.Node)
	assert.Equal(t, "route", cerr.Stage)
	assert.Equal(t, StateStopped, r.State())
	assert.Empty(t, rep.Probes())
	assert.True(t, fn.Stopped())
	assert.False(t, fn.Forwarding("r1"))
}

func TestConfigurationPrecedesProbes(t *testing.T) {
	exp, err := Routing()
	require.NoError(t, err)
	fn := fakenet.New()
	_, err = NewRunner(fn, fn).Run(context.Background(), exp)
	require.NoError(t, err)

	lastConfig, firstPing := -1, -1
	for i, c := range fn.Calls() {
		switch {
		case strings.HasPrefix(c.Command, "ip "):
			lastConfig = i
		case strings.HasPrefix(c.Command, "ping") && firstPing < 0:
			firstPing = i
		}
	}
	require.GreaterOrEqual(t, firstPing, 0)
	assert.Less(t, lastConfig, firstPing)
}

func TestRoleFailureIsRecorded(t *testing.T) {
	exp, err := Routing()
	require.NoError(t, err)
	fn := fakenet.New(fakenet.WithFault(func(node, cmd string) (string, error, bool) {
		if node == "r2" && cmd == "sysctl -w net.ipv4.ip_forward=1" {
			return "sysctl: permission denied on key 'net.ipv4.ip_forward'\n", &fakenet.ExitError{Code: 255}, true
		}
		return "", nil, false
	}))

	rep, err := NewRunner(fn, fn).Run(context.Background(), exp)
	require.NoError(t, err)
	assert.Equal(t, "Role configuration errors:", rep.Sections()[0].Label)
	// r2 cannot forward, so nothing crosses it
	assert.Equal(t, []bool{false, false, false, false}, verdicts(rep.Probes()))
	assert.Contains(t, fn.Commands("r2"), "sysctl -w net.ipv4.ip_forward=0")
}

func TestInvalidExperiment(t *testing.T) {
	exp, err := Routing()
	require.NoError(t, err)
	exp.Probes = append(exp.Probes, Probe{Src: "h1", Dst: "h9"})
	fn := fakenet.New()
	r := NewRunner(fn, fn)

	rep, err := r.Run(context.Background(), exp)
	assert.Error(t, err)
	assert.Empty(t, fn.Calls())
	assert.False(t, fn.Stopped())
	assert.Empty(t, r.States())
	assert.Contains(t, rep.String(), "ERROR:")
}

func filter(cmds []string, substr string) []string {
	var out []string
	for _, c := range cmds {
		if strings.Contains(c, substr) {
			out = append(out, c)
		}
	}
	return out
}
