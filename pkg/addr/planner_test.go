package addr

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Netexp/api"
	"Netexp/pkg/fakenet"
	"Netexp/pkg/topo"
)

func routingTopo(t *testing.T) *topo.Topology {
	t.Helper()
	tp := topo.New()
	h1, _ := tp.AddHost("h1")
	r1, _ := tp.AddRouter("r1")
	s1, _ := tp.AddSwitch("s1")
	_, _, err := tp.AddLink(h1, r1)
	require.NoError(t, err)
	_, _, err = tp.AddLink(r1, s1)
	require.NoError(t, err)
	tp.Seal()
	return tp
}

func newPlanner(t *testing.T, opts ...fakenet.Option) (*Planner, *fakenet.Net) {
	t.Helper()
	tp := routingTopo(t)
	fn, err := fakenet.Build(tp, opts...)
	require.NoError(t, err)
	return NewPlanner(tp, fn, fn, nil), fn
}

func TestApplyAddresses(t *testing.T) {
	p, fn := newPlanner(t)
	ctx := context.Background()

	_, err := p.ApplyAddresses(ctx, []api.Address{
		{Node: "h1", Intf: "h1-eth0", CIDR: "10.0.0.1/24"},
		{Node: "r1", Intf: "r1-eth0", CIDR: "10.0.0.3/24"},
		{Node: "s1", Intf: "s1-eth1", CIDR: "10.9.9.9/24"},
	})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1/24", fn.Address("h1", "h1-eth0"))
	assert.Equal(t, "10.0.0.3/24", fn.Address("r1", "r1-eth0"))
	assert.Empty(t, fn.Commands("s1"), "switch interfaces carry no address")

	// re-addressing replaces rather than stacks
	_, err = p.ApplyAddresses(ctx, []api.Address{{Node: "h1", Intf: "h1-eth0", CIDR: "10.0.0.7/24"}})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7/24", fn.Address("h1", "h1-eth0"))
}

func TestApplyAddressesErrors(t *testing.T) {
	p, _ := newPlanner(t)
	ctx := context.Background()

	tests := map[string]api.Address{
		"unknown node":  {Node: "h9", Intf: "h9-eth0", CIDR: "10.0.0.1/24"},
		"unknown intf":  {Node: "h1", Intf: "h1-eth5", CIDR: "10.0.0.1/24"},
		"no prefix":     {Node: "h1", Intf: "h1-eth0", CIDR: "10.0.0.1"},
		"bad address":   {Node: "h1", Intf: "h1-eth0", CIDR: "10.0.0.300/24"},
		"ipv6 not kept": {Node: "h1", Intf: "h1-eth0", CIDR: "fe80::1/64"},
	}
	for name, a := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := p.ApplyAddresses(ctx, []api.Address{a})
			assert.Error(t, err)
		})
	}
}

func TestApplyRoutesDefaultIdempotent(t *testing.T) {
	p, fn := newPlanner(t)
	ctx := context.Background()
	_, err := p.ApplyAddresses(ctx, []api.Address{
		{Node: "h1", Intf: "h1-eth0", CIDR: "10.0.0.1/24"},
		{Node: "r1", Intf: "r1-eth0", CIDR: "10.0.0.3/24"},
		{Node: "r1", Intf: "r1-eth1", CIDR: "10.0.1.1/24"},
	})
	require.NoError(t, err)

	routes := []api.Route{
		{Node: "h1", Dst: "default", Via: "10.0.0.3"},
		{Node: "r1", Dst: "10.0.2.0/24", Via: "10.0.1.2"},
	}
	_, err = p.ApplyRoutes(ctx, routes)
	require.NoError(t, err)
	first := [][]string{fn.Routes("h1"), fn.Routes("r1")}

	_, err = p.ApplyRoutes(ctx, routes)
	require.NoError(t, err)
	second := [][]string{fn.Routes("h1"), fn.Routes("r1")}

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"default via 10.0.0.3"}, second[0])
	assert.Equal(t, []string{"10.0.2.0/24 via 10.0.1.2"}, second[1])
}

func TestApplyRoutesEnsureAbsence(t *testing.T) {
	p, fn := newPlanner(t)
	ctx := context.Background()
	_, err := p.ApplyAddresses(ctx, []api.Address{{Node: "h1", Intf: "h1-eth0", CIDR: "10.0.0.1/24"}})
	require.NoError(t, err)

	_, err = p.ApplyRoutes(ctx, []api.Route{{Node: "h1", Dst: "default", Via: "10.0.0.3"}})
	require.NoError(t, err)
	for _, cmd := range fn.Commands("h1") {
		assert.False(t, strings.HasPrefix(cmd, "ip route del"), "nothing to delete on a fresh node")
	}

	_, err = p.ApplyRoutes(ctx, []api.Route{{Node: "h1", Dst: "any", Via: "10.0.0.4"}})
	require.NoError(t, err)
	assert.Contains(t, fn.Commands("h1"), "ip route del default via 10.0.0.3")
	assert.Equal(t, []string{"default via 10.0.0.4"}, fn.Routes("h1"))
	for _, c := range fn.Calls() {
		assert.NoError(t, c.Err, c.Command)
	}
}

func TestApplyRoutesKeepsKernelRoutes(t *testing.T) {
	p, fn := newPlanner(t)
	ctx := context.Background()
	_, err := p.ApplyAddresses(ctx, []api.Address{{Node: "r1", Intf: "r1-eth1", CIDR: "10.0.1.1/24"}})
	require.NoError(t, err)

	ds, err := p.ApplyRoutes(ctx, []api.Route{{Node: "r1", Dst: "10.0.1.0/24", Via: "10.0.1.2"}})
	require.NoError(t, err)
	require.NotEmpty(t, ds)
	assert.Contains(t, ds[0].Output, "proto kernel")
	for _, cmd := range fn.Commands("r1") {
		assert.False(t, strings.HasPrefix(cmd, "ip route del"), cmd)
	}
	for _, c := range fn.Calls() {
		assert.NoError(t, c.Err, c.Command)
	}
}

func TestStaticRoutes(t *testing.T) {
	out := "10.0.2.0/24 dev r1-eth1 proto kernel scope link src 10.0.2.1\n" +
		"10.0.2.0/24 via 10.0.1.9 dev r1-eth0 metric 20\n" +
		"\n"
	routes := staticRoutes(out)
	require.Len(t, routes, 1)
	assert.Equal(t, "10.0.1.9", fieldAfter(routes[0], "via"))
	assert.Empty(t, staticRoutes("default dev h1-eth0 proto kernel scope link\n"))
}

func TestApplyRoutesOrder(t *testing.T) {
	p, fn := newPlanner(t)
	ctx := context.Background()
	_, err := p.ApplyAddresses(ctx, []api.Address{{Node: "r1", Intf: "r1-eth0", CIDR: "10.0.1.2/24"}})
	require.NoError(t, err)

	_, err = p.ApplyRoutes(ctx, []api.Route{
		{Node: "r1", Dst: "10.0.0.0/24", Via: "10.0.1.1"},
		{Node: "r1", Dst: "10.0.3.9/24", Via: "10.0.1.1"},
	})
	require.NoError(t, err)

	var adds []string
	for _, cmd := range fn.Commands("r1") {
		if strings.HasPrefix(cmd, "ip route add") {
			adds = append(adds, cmd)
		}
	}
	assert.Equal(t, []string{
		"ip route add 10.0.0.0/24 via 10.0.1.1",
		"ip route add 10.0.3.0/24 via 10.0.1.1",
	}, adds)
}

func TestApplyRoutesErrors(t *testing.T) {
	p, _ := newPlanner(t)
	ctx := context.Background()

	_, err := p.ApplyRoutes(ctx, []api.Route{{Node: "s1", Dst: "default", Via: "10.0.0.1"}})
	assert.Error(t, err)

	_, err = p.ApplyRoutes(ctx, []api.Route{{Node: "h1", Dst: "default", Via: "10.0.0.1/24"}})
	assert.Error(t, err)

	// unreachable gateway is reported by the node and wrapped with context
	_, err = p.ApplyRoutes(ctx, []api.Route{{Node: "h1", Dst: "default", Via: "10.7.7.7"}})
	var cerr *api.CommandError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "h1", cerr.Node)
	assert.Equal(t, "ip route add default via 10.7.7.7", cerr.Command)
}
