package experiment

import (
	"fmt"
	"sort"

	"Netexp/api"
	"Netexp/pkg/topo"
)

var builtins = map[string]func() (*Experiment, error){
	"routing": Routing,
	"sdn":     SDN,
}

// Builtin returns a fresh copy of a built-in experiment.
func Builtin(name string) (*Experiment, error) {
	f, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("no built-in experiment %q", name)
	}
	return f()
}

func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Routing is the layer-3 experiment: three hosts behind two Linux routers
// with static routes.
//
//	h1 --- r1 --- r2 --- h3
//	       |
//	       h2
func Routing() (*Experiment, error) {
	t := topo.New()
	h1, _ := t.AddHost("h1")
	h2, _ := t.AddHost("h2")
	h3, _ := t.AddHost("h3")
	r1, _ := t.AddRouter("r1")
	r2, _ := t.AddRouter("r2")
	for _, pair := range [][2]*api.Node{{h1, r1}, {r1, r2}, {r2, h3}, {h2, r1}} {
		if _, _, err := t.AddLink(pair[0], pair[1]); err != nil {
			return nil, err
		}
	}

	return &Experiment{
		Name:     "routing",
		Title:    "Experiment 1: IP Routing",
		Report:   "result1.txt",
		Topology: t,
		Addresses: []api.Address{
			{Node: "h1", Intf: "h1-eth0", CIDR: "10.0.0.1/24"},
			{Node: "r1", Intf: "r1-eth0", CIDR: "10.0.0.3/24"},
			{Node: "r1", Intf: "r1-eth1", CIDR: "10.0.1.1/24"},
			{Node: "r2", Intf: "r2-eth0", CIDR: "10.0.1.2/24"},
			{Node: "r2", Intf: "r2-eth1", CIDR: "10.0.2.1/24"},
			{Node: "h3", Intf: "h3-eth0", CIDR: "10.0.2.2/24"},
			{Node: "r1", Intf: "r1-eth2", CIDR: "10.0.3.4/24"},
			{Node: "h2", Intf: "h2-eth0", CIDR: "10.0.3.2/24"},
		},
		Routes: []api.Route{
			{Node: "h1", Dst: api.DefaultDestination, Via: "10.0.0.3"},
			{Node: "h2", Dst: api.DefaultDestination, Via: "10.0.3.4"},
			{Node: "h3", Dst: api.DefaultDestination, Via: "10.0.2.1"},
			{Node: "r1", Dst: "10.0.2.0/24", Via: "10.0.1.2"},
			{Node: "r2", Dst: "10.0.0.0/24", Via: "10.0.1.1"},
			{Node: "r2", Dst: "10.0.3.0/24", Via: "10.0.1.1"},
		},
		Probes: []Probe{
			{Src: "h1", Dst: "h3"},
			{Src: "h2", Dst: "h3"},
			{Src: "h3", Dst: "h1"},
			{Src: "h3", Dst: "h2"},
		},
	}, nil
}

// SDN is the layer-2 experiment: two OVS switches, and a flow table on s1
// that lets h1 reach h3 and cuts h2 off.
//
//	h1 --- s1 --- s2 --- h3
//	       |
//	       h2
func SDN() (*Experiment, error) {
	t := topo.New()
	h1, _ := t.AddHost("h1")
	h2, _ := t.AddHost("h2")
	h3, _ := t.AddHost("h3")
	s1, _ := t.AddSwitch("s1")
	s2, _ := t.AddSwitch("s2")
	links := []struct {
		a, b           *api.Node
		aAlias, bAlias string
	}{
		{h1, s1, "", "h1-side"},
		{h2, s1, "", "h2-side"},
		{s1, s2, "s2-side", "s1-side"},
		{s2, h3, "h3-side", ""},
	}
	for _, l := range links {
		if _, _, err := t.AddLink(l.a, l.b, topo.WithAliases(l.aAlias, l.bAlias)); err != nil {
			return nil, err
		}
	}

	return &Experiment{
		Name:     "sdn",
		Title:    "Experiment 2: SDN",
		Report:   "result2.txt",
		Topology: t,
		Addresses: []api.Address{
			{Node: "h1", Intf: "h1-eth0", CIDR: "10.0.0.1/24"},
			{Node: "h2", Intf: "h2-eth0", CIDR: "10.0.0.2/24"},
			{Node: "h3", Intf: "h3-eth0", CIDR: "10.0.0.3/24"},
		},
		Baseline: []Probe{
			{Src: "h1", Dst: "h3", Label: "Pinging h1 to h3 before flows:"},
			{Src: "h2", Dst: "h3", Label: "Pinging h2 to h3 before flows:"},
		},
		Flows: []api.FlowPolicy{{
			Switch: "s1",
			Rules: []api.FlowRule{
				{InPort: "h2-side", Action: api.ActionDrop},
				{InPort: "h1-side", Action: api.ActionOutput, OutPort: "s2-side"},
				{InPort: "s2-side", Action: api.ActionOutput, OutPort: "h1-side"},
			},
		}},
		Probes: []Probe{
			{Src: "h1", Dst: "h3", Label: "Ping h1 to h3 after installing flows:"},
			{Src: "h2", Dst: "h3", Label: "Ping h2 to h3 after installing flows (expecting failure):"},
		},
	}, nil
}
