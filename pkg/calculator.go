package pkg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"Netexp/api"
	"Netexp/pkg/experiment"
	"Netexp/pkg/node"
	"Netexp/pkg/probe"
	"Netexp/pkg/shell"
)

const (
	BackendNetns  = "netns"
	BackendDocker = "docker"

	ProberCommand = "command"
	ProberNative  = "native"
)

// Config is what the CLI hands to the Calculator.
type Config struct {
	ReportDir   string
	Backend     string // netns or docker
	Image       string // docker image, docker backend only
	Prober      string // command or native
	PingCount   int
	PortTimeout time.Duration
	Logger      *slog.Logger
}

// Calculator wires a live emulator, command channel and prober to the
// experiment runner.
type Calculator struct {
	cfg    Config
	logger *slog.Logger
}

func NewCalculator(cfg Config) *Calculator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PingCount <= 0 {
		cfg.PingCount = 1
	}
	if cfg.PortTimeout <= 0 {
		cfg.PortTimeout = DefaultPortTimeout
	}
	return &Calculator{cfg: cfg, logger: cfg.Logger}
}

func (c *Calculator) backend() (node.Backend, error) {
	switch c.cfg.Backend {
	case BackendNetns, "":
		return node.NewNamespaceManager(c.logger), nil
	case BackendDocker:
		cm, err := node.NewContainerManager(c.cfg.Image, c.logger)
		if err != nil {
			return nil, err
		}
		return cm, nil
	}
	return nil, fmt.Errorf("unknown backend %q", c.cfg.Backend)
}

func (c *Calculator) prober(ch api.CommandChannel) (probe.Prober, error) {
	switch c.cfg.Prober {
	case ProberCommand, "":
		return probe.NewCommandProber(ch, c.cfg.PingCount), nil
	case ProberNative:
		return probe.NewNativeProber(c.cfg.PingCount, time.Duration(c.cfg.PingCount+2)*time.Second, c.logger), nil
	}
	return nil, fmt.Errorf("unknown prober %q", c.cfg.Prober)
}

// RunExperiment runs exp on this machine and writes its report into the
// report directory. The report is written even when the run fails.
func (c *Calculator) RunExperiment(ctx context.Context, exp *experiment.Experiment) (string, error) {
	b, err := c.backend()
	if err != nil {
		return "", err
	}
	emu := NewManager(WithBackend(b), WithLogger(c.logger), WithPortTimeout(c.cfg.PortTimeout))
	ch := shell.New(c.logger)
	pr, err := c.prober(ch)
	if err != nil {
		return "", err
	}

	runner := experiment.NewRunner(emu, ch, experiment.WithProber(pr), experiment.WithLogger(c.logger))
	rep, runErr := runner.Run(ctx, exp)

	path := filepath.Join(c.cfg.ReportDir, exp.Report)
	if err := rep.WriteFile(path); err != nil {
		if runErr != nil {
			return "", fmt.Errorf("%w (report not written: %v)", runErr, err)
		}
		return "", err
	}
	c.logger.Info("report written", "experiment", exp.Name, "path", path)
	return path, runErr
}

func (c *Calculator) ShowNodes(w io.Writer, exp *experiment.Experiment) {
	for _, n := range exp.Topology.Nodes() {
		names := make([]string, 0, len(n.Interfaces))
		for _, intf := range n.Interfaces {
			if intf.Alias != "" {
				names = append(names, fmt.Sprintf("%s(%s)", intf.Name, intf.Alias))
			} else {
				names = append(names, intf.Name)
			}
		}
		fmt.Fprintf(w, "Node: %s, Kind: %s, Interfaces: %s\n", n.Name, n.Kind, strings.Join(names, " "))
	}
}

func (c *Calculator) ShowLinks(w io.Writer, exp *experiment.Experiment) {
	for _, l := range exp.Topology.Links() {
		p := l.Properties
		fmt.Fprintf(w, "Link: %s:%s <-> %s:%s, Bw: %dMbps, Delay: %dms, Loss: %.2f\n",
			l.A.Node, l.A.Intf, l.B.Node, l.B.Intf, p.Rate, p.Latency, p.Loss)
	}
}

// ShowPlan prints addresses, routes, flow policies and the probe schedule.
func (c *Calculator) ShowPlan(w io.Writer, exp *experiment.Experiment) {
	for _, a := range exp.Addresses {
		fmt.Fprintf(w, "Address: %s %s %s\n", a.Node, a.Intf, a.CIDR)
	}
	for _, r := range exp.Routes {
		fmt.Fprintf(w, "Route: %s\n", r)
	}
	for _, pol := range exp.Flows {
		for _, rule := range pol.Rules {
			fmt.Fprintf(w, "Flow: %s %s\n", pol.Switch, rule)
		}
	}
	for _, p := range exp.Baseline {
		fmt.Fprintf(w, "Baseline: %s -> %s\n", p.Src, p.Dst)
	}
	for _, p := range exp.Probes {
		fmt.Fprintf(w, "Probe: %s -> %s\n", p.Src, p.Dst)
	}
}
