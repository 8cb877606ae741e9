// Package role toggles per-kind node behaviour. Only routers need anything:
// IPv4 forwarding is switched on at start and back off at teardown.
package role

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"Netexp/api"
	"Netexp/pkg/topo"
)

const (
	enableForwarding  = "sysctl -w net.ipv4.ip_forward=1"
	disableForwarding = "sysctl -w net.ipv4.ip_forward=0"
)

// RoleConfigError reports a failed enable or disable directive.
type RoleConfigError struct {
	Node string
	Op   string
	Err  error
}

func (e *RoleConfigError) Error() string {
	return fmt.Sprintf("%s forwarding on %s: %v", e.Op, e.Node, e.Err)
}

func (e *RoleConfigError) Unwrap() error { return e.Err }

// Configurator remembers which routers had forwarding switched on so that
// Disable can undo exactly those, whatever happened in between.
type Configurator struct {
	topo       *topo.Topology
	nodes      api.NodeLookup
	ch         api.CommandChannel
	logger     *slog.Logger
	forwarding map[string]bool
}

func NewConfigurator(t *topo.Topology, nodes api.NodeLookup, ch api.CommandChannel, logger *slog.Logger) *Configurator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Configurator{
		topo:       t,
		nodes:      nodes,
		ch:         ch,
		logger:     logger.With("component", "role"),
		forwarding: make(map[string]bool),
	}
}

// Enable issues the role directives for every node. Every router is tried;
// failures come back joined as RoleConfigErrors.
func (c *Configurator) Enable(ctx context.Context) ([]api.Directive, error) {
	var (
		done []api.Directive
		errs []error
	)
	for _, n := range c.topo.Nodes() {
		switch n.Kind {
		case api.KindRouter:
			// A router counts as enabled as soon as we tried, so teardown
			// always sends the matching disable.
			c.forwarding[n.Name] = true
			d, err := c.exec(ctx, n.Name, "enable", enableForwarding)
			if d != nil {
				done = append(done, *d)
			}
			if err != nil {
				errs = append(errs, err)
			}
		case api.KindHost, api.KindSwitch:
		default:
			errs = append(errs, fmt.Errorf("node %s: unsupported kind %v", n.Name, n.Kind))
		}
	}
	return done, errors.Join(errs...)
}

// Disable turns forwarding back off on every router Enable touched. It is
// best effort: each router is attempted regardless of earlier failures.
func (c *Configurator) Disable(ctx context.Context) ([]api.Directive, error) {
	var (
		done []api.Directive
		errs []error
	)
	for _, n := range c.topo.NodesOfKind(api.KindRouter) {
		if !c.forwarding[n.Name] {
			continue
		}
		d, err := c.exec(ctx, n.Name, "disable", disableForwarding)
		if d != nil {
			done = append(done, *d)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c.forwarding[n.Name] = false
	}
	return done, errors.Join(errs...)
}

// Forwarding reports whether node currently has forwarding switched on.
func (c *Configurator) Forwarding(node string) bool {
	return c.forwarding[node]
}

func (c *Configurator) exec(ctx context.Context, node, op, cmd string) (*api.Directive, error) {
	h, err := c.nodes.Lookup(node)
	if err != nil {
		c.logger.Warn("role directive skipped", "node", node, "op", op, "err", err)
		return nil, &RoleConfigError{Node: node, Op: op, Err: err}
	}
	d, err := api.Run(ctx, c.ch, h, "role", cmd)
	if err != nil {
		c.logger.Warn("role directive failed", "node", node, "op", op, "err", err)
		return &d, &RoleConfigError{Node: node, Op: op, Err: err}
	}
	c.logger.Debug("role directive", "node", node, "cmd", cmd)
	return &d, nil
}
