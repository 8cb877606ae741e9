// Package addr applies interface addresses and static routes to hosts and routers.
//
// The planner does no subnet-conflict checking: experiment topologies are
// written by hand and overlapping plans are the caller's problem.
package addr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"Netexp/api"
	"Netexp/pkg/topo"
	"Netexp/pkg/util"
)

const (
	stageAddress = "address"
	stageRoute   = "route"
)

type Planner struct {
	topo   *topo.Topology
	nodes  api.NodeLookup
	ch     api.CommandChannel
	logger *slog.Logger
}

func NewPlanner(t *topo.Topology, nodes api.NodeLookup, ch api.CommandChannel, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{topo: t, nodes: nodes, ch: ch, logger: logger.With("component", "addr")}
}

// ApplyAddresses sets each address on its interface, replacing whatever the
// interface carried before. Addresses on switch interfaces are skipped.
func (p *Planner) ApplyAddresses(ctx context.Context, addrs []api.Address) ([]api.Directive, error) {
	var done []api.Directive
	for _, a := range addrs {
		n, ok := p.topo.Node(a.Node)
		if !ok {
			return done, fmt.Errorf("address %s: node %s not in topology", a.CIDR, a.Node)
		}
		intf, ok := n.Interface(a.Intf)
		if !ok {
			return done, fmt.Errorf("address %s: node %s has no interface %s", a.CIDR, a.Node, a.Intf)
		}
		ipNet, err := util.ParseIfaceCIDR(a.CIDR)
		if err != nil {
			return done, fmt.Errorf("address on %s:%s: %w", a.Node, a.Intf, err)
		}

		switch n.Kind {
		case api.KindSwitch:
			p.logger.Debug("skip address on switch interface", "node", n.Name, "intf", intf.Name)
			continue
		case api.KindHost, api.KindRouter:
		default:
			return done, fmt.Errorf("node %s: unsupported kind %v", n.Name, n.Kind)
		}

		h, err := p.nodes.Lookup(n.Name)
		if err != nil {
			return done, err
		}
		for _, cmd := range []string{
			"ip addr flush dev " + intf.Name,
			fmt.Sprintf("ip addr add %s dev %s", ipNet, intf.Name),
		} {
			d, err := api.Run(ctx, p.ch, h, stageAddress, cmd)
			done = append(done, d)
			if err != nil {
				return done, err
			}
		}
		p.logger.Debug("address set", "node", n.Name, "intf", intf.Name, "cidr", ipNet.String())
	}
	return done, nil
}

// ApplyRoutes installs routes in the order given. Any route already present
// for the same destination, the default route included, is removed first,
// so applying the same plan twice leaves the same table.
func (p *Planner) ApplyRoutes(ctx context.Context, routes []api.Route) ([]api.Directive, error) {
	var done []api.Directive
	for _, r := range routes {
		n, ok := p.topo.Node(r.Node)
		if !ok {
			return done, fmt.Errorf("route %s: node not in topology", r)
		}
		switch n.Kind {
		case api.KindHost, api.KindRouter:
		case api.KindSwitch:
			return done, fmt.Errorf("route %s: switch %s cannot own routes", r, n.Name)
		default:
			return done, fmt.Errorf("node %s: unsupported kind %v", n.Name, n.Kind)
		}

		dst := api.DefaultDestination
		if !r.IsDefault() {
			var err error
			if dst, err = util.NormalizeNetwork(r.Dst); err != nil {
				return done, fmt.Errorf("route %s: %w", r, err)
			}
		}
		if !util.CheckValidIpv4(r.Via) || strings.Contains(r.Via, "/") {
			return done, fmt.Errorf("route %s: invalid next hop %q", r, r.Via)
		}

		h, err := p.nodes.Lookup(n.Name)
		if err != nil {
			return done, err
		}
		ds, err := p.ensureAbsent(ctx, h, dst)
		done = append(done, ds...)
		if err != nil {
			return done, err
		}
		d, err := api.Run(ctx, p.ch, h, stageRoute, fmt.Sprintf("ip route add %s via %s", dst, r.Via))
		done = append(done, d)
		if err != nil {
			return done, err
		}
		p.logger.Debug("route installed", "node", n.Name, "dst", dst, "via", r.Via)
	}
	return done, nil
}

// ensureAbsent deletes the static routes the node has for dst. Kernel routes
// of connected subnets stay: the next hop of the route about to be added
// is reached through them.
func (p *Planner) ensureAbsent(ctx context.Context, h api.NodeHandle, dst string) ([]api.Directive, error) {
	show, err := api.Run(ctx, p.ch, h, stageRoute, "ip route show "+dst)
	done := []api.Directive{show}
	if err != nil {
		return done, err
	}
	for _, fields := range staticRoutes(show.Output) {
		cmd := "ip route del " + dst
		if via := fieldAfter(fields, "via"); via != "" {
			cmd += " via " + via
		}
		del, err := api.Run(ctx, p.ch, h, stageRoute, cmd)
		done = append(done, del)
		if err != nil {
			return done, err
		}
	}
	return done, nil
}

// staticRoutes splits `ip route show` output into lines, dropping the ones
// the kernel installed.
func staticRoutes(output string) [][]string {
	var routes [][]string
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || fieldAfter(fields, "proto") == "kernel" {
			continue
		}
		routes = append(routes, fields)
	}
	return routes
}

func fieldAfter(fields []string, key string) string {
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == key {
			return fields[i+1]
		}
	}
	return ""
}
