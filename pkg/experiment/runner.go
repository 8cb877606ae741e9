package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"Netexp/api"
	"Netexp/pkg/addr"
	"Netexp/pkg/ovs"
	"Netexp/pkg/probe"
	"Netexp/pkg/report"
	"Netexp/pkg/role"
	"Netexp/pkg/topo"
)

type Option func(*Runner)

func WithProber(p probe.Prober) Option {
	return func(r *Runner) { r.prober = p }
}

// WithResolver replaces the port resolver built from the topology.
func WithResolver(res ovs.Resolver) Option {
	return func(r *Runner) { r.resolver = res }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// Runner executes experiments one at a time against an emulator. Every
// directive, probe and query is awaited before the next is issued.
type Runner struct {
	emu      api.Emulator
	ch       api.CommandChannel
	prober   probe.Prober
	resolver ovs.Resolver
	logger   *slog.Logger
	states   []State
}

func NewRunner(emu api.Emulator, ch api.CommandChannel, opts ...Option) *Runner {
	r := &Runner{emu: emu, ch: ch}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.prober == nil {
		r.prober = probe.NewCommandProber(ch, 1)
	}
	return r
}

// States returns the states the last run went through, in order.
func (r *Runner) States() []State {
	return append([]State(nil), r.states...)
}

func (r *Runner) State() State {
	if len(r.states) == 0 {
		return StateIdle
	}
	return r.states[len(r.states)-1]
}

func (r *Runner) enter(s State, exp *Experiment) {
	r.states = append(r.states, s)
	r.logger.Info("experiment state", "experiment", exp.Name, "state", s.String())
}

// Run executes exp and returns its report. The report is returned even when
// the run fails; it then ends with an ERROR block. Once the topology is
// built, teardown (forwarding off, emulator stop) always runs.
func (r *Runner) Run(ctx context.Context, exp *Experiment) (rep *report.Report, err error) {
	r.states = r.states[:0]
	rep = report.New(exp.Title)
	if err := exp.Validate(); err != nil {
		rep.Text("ERROR:", err.Error())
		return rep, err
	}
	exp.Topology.Seal()
	r.enter(StateBuilt, exp)

	roles := role.NewConfigurator(exp.Topology, r.emu, r.ch, r.logger)
	defer func() {
		r.teardown(context.WithoutCancel(ctx), exp, roles)
		r.enter(StateStopped, exp)
		if err != nil {
			rep.Text("ERROR:", err.Error())
		}
	}()

	if err := r.declare(ctx, exp.Topology); err != nil {
		return rep, err
	}
	if err := r.emu.Start(ctx); err != nil {
		return rep, fmt.Errorf("start emulator: %w", err)
	}
	r.enter(StateStarted, exp)

	// Role failures are recorded, not fatal.
	if _, rerr := roles.Enable(ctx); rerr != nil {
		r.logger.Warn("role configuration failed", "experiment", exp.Name, "err", rerr)
		rep.Text("Role configuration errors:", rerr.Error())
	}

	if err := r.configure(ctx, exp, rep); err != nil {
		return rep, err
	}
	r.enter(StateConfigured, exp)

	r.runProbes(ctx, exp, rep, exp.Probes)
	r.enter(StateProbed, exp)
	return rep, nil
}

func (r *Runner) declare(ctx context.Context, t *topo.Topology) error {
	for _, n := range t.Nodes() {
		if err := r.emu.CreateNode(ctx, n.Kind, n.Name); err != nil {
			return fmt.Errorf("create node %s: %w", n.Name, err)
		}
	}
	for _, l := range t.Links() {
		if err := r.emu.CreateLink(ctx, *l); err != nil {
			return fmt.Errorf("create link %s:%s-%s:%s: %w", l.A.Node, l.A.Intf, l.B.Node, l.B.Intf, err)
		}
	}
	return nil
}

// configure applies addresses, runs the baseline probes, then routes and flows.
func (r *Runner) configure(ctx context.Context, exp *Experiment, rep *report.Report) error {
	planner := addr.NewPlanner(exp.Topology, r.emu, r.ch, r.logger)

	ds, err := planner.ApplyAddresses(ctx, exp.Addresses)
	if exp.EchoConfig && len(ds) > 0 {
		rep.Commands("Address commands:", ds)
	}
	if err != nil {
		return err
	}

	r.runProbes(ctx, exp, rep, exp.Baseline)

	ds, err = planner.ApplyRoutes(ctx, exp.Routes)
	if exp.EchoConfig && len(ds) > 0 {
		rep.Commands("Route commands:", ds)
	}
	if err != nil {
		return err
	}

	if len(exp.Flows) == 0 {
		return nil
	}
	resolver := r.resolver
	if resolver == nil {
		resolver = ovs.NewPortResolver(exp.Topology, r.emu, r.ch, r.logger)
	}
	prov := ovs.NewProvisioner(r.emu, r.ch, r.logger)
	for _, pol := range exp.Flows {
		ports, err := resolver.Resolve(ctx, pol.Switch)
		if err != nil {
			return fmt.Errorf("resolve ports of %s: %w", pol.Switch, err)
		}
		inst, err := prov.Provision(ctx, pol, ports)
		if inst != nil {
			rep.Commands(fmt.Sprintf("Flow commands executed on %s:", pol.Switch), inst.Commands)
		}
		if err != nil {
			return fmt.Errorf("provision flows on %s: %w", pol.Switch, err)
		}
		rep.Output(fmt.Sprintf("INSTALLED FLOWS on %s:", pol.Switch), inst.Dump)
	}
	return nil
}

// runProbes executes probes in order. A failing probe is recorded and the
// schedule carries on.
func (r *Runner) runProbes(ctx context.Context, exp *Experiment, rep *report.Report, probes []Probe) {
	for _, p := range probes {
		res := r.probe(ctx, exp, p)
		rep.Probe(p.Label, res)
		r.logger.Info("probe", "src", p.Src, "dst", p.Dst, "ip", res.DstIP, "result", res.Verdict())
	}
}

func (r *Runner) probe(ctx context.Context, exp *Experiment, p Probe) probe.Result {
	dstIP := p.target(exp)
	srcIP, _ := exp.AddressOf(p.Src)
	h, err := r.emu.Lookup(p.Src)
	if err != nil {
		return probe.Evaluate(p.Src, srcIP, p.Dst, dstIP, "", err)
	}
	out, err := r.prober.Ping(ctx, h, dstIP)
	return probe.Evaluate(p.Src, srcIP, p.Dst, dstIP, out, err)
}

// teardown is best effort: failures are logged and dropped.
func (r *Runner) teardown(ctx context.Context, exp *Experiment, roles *role.Configurator) {
	var errs []error
	if _, err := roles.Disable(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := r.emu.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop emulator: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		r.logger.Warn("teardown incomplete", "experiment", exp.Name, "err", err)
	}
}
