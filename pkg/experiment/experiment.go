// Package experiment drives one experiment run from a built topology to a
// written report: start, configure, probe, tear down.
package experiment

import (
	"fmt"

	"Netexp/api"
	"Netexp/pkg/topo"
	"Netexp/pkg/util"
)

// Probe schedules one connectivity check. DstIP defaults to the first
// address planned for Dst.
type Probe struct {
	Src   string
	Dst   string
	DstIP string
	Label string
}

type Experiment struct {
	Name       string
	Title      string
	Report     string // report file name
	EchoConfig bool
	Topology   *topo.Topology
	Addresses  []api.Address
	Routes     []api.Route
	Flows      []api.FlowPolicy
	Baseline   []Probe
	Probes     []Probe
}

// AddressOf returns the host part of the first address planned for node.
func (e *Experiment) AddressOf(node string) (string, bool) {
	for _, a := range e.Addresses {
		if a.Node == node {
			return util.HostIP(a.CIDR), true
		}
	}
	return "", false
}

// Validate checks the topology invariants and that every probe and policy
// refers to something that exists.
func (e *Experiment) Validate() error {
	if e.Topology == nil {
		return fmt.Errorf("experiment %s has no topology", e.Name)
	}
	if err := e.Topology.Validate(); err != nil {
		return fmt.Errorf("experiment %s: %w", e.Name, err)
	}
	for _, pol := range e.Flows {
		n, ok := e.Topology.Node(pol.Switch)
		if !ok || n.Kind != api.KindSwitch {
			return fmt.Errorf("experiment %s: flow policy for %s, which is not a switch", e.Name, pol.Switch)
		}
	}
	for _, p := range append(append([]Probe(nil), e.Baseline...), e.Probes...) {
		src, ok := e.Topology.Node(p.Src)
		if !ok {
			return fmt.Errorf("experiment %s: probe source %s not in topology", e.Name, p.Src)
		}
		if src.Kind == api.KindSwitch {
			return fmt.Errorf("experiment %s: probe source %s is a switch", e.Name, p.Src)
		}
		if p.DstIP != "" {
			if !util.CheckValidIpv4(p.DstIP) {
				return fmt.Errorf("experiment %s: probe %s->%s: invalid address %q", e.Name, p.Src, p.Dst, p.DstIP)
			}
			continue
		}
		if _, ok := e.AddressOf(p.Dst); !ok {
			return fmt.Errorf("experiment %s: probe %s->%s: no address planned for %s", e.Name, p.Src, p.Dst, p.Dst)
		}
	}
	return nil
}

func (p Probe) target(e *Experiment) string {
	if p.DstIP != "" {
		return util.HostIP(p.DstIP)
	}
	ip, _ := e.AddressOf(p.Dst)
	return ip
}
