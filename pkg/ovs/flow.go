package ovs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digitalocean/go-openvswitch/ovs"

	"Netexp/api"
)

// FlowPriority is the priority of a policy's first rule. Each following rule
// gets one less, so overlapping matches resolve in policy order and no rule
// replaces an earlier one with the same match.
const FlowPriority = 32768

// Installed is what a provisioning pass did and what the switch reports back.
type Installed struct {
	Switch   string
	Commands []api.Directive // del-flows, then one add-flow per rule
	Rules    int
	Dump     string // dump-flows output, verbatim
}

type Provisioner struct {
	nodes  api.NodeLookup
	ch     api.CommandChannel
	logger *slog.Logger
}

func NewProvisioner(nodes api.NodeLookup, ch api.CommandChannel, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{nodes: nodes, ch: ch, logger: logger.With("component", "flows")}
}

// Compile turns a policy into flow text using the resolved ports. Every port
// reference must resolve; nothing is sent to the switch here.
func Compile(policy api.FlowPolicy, ports PortMapping) ([]string, error) {
	if ports.Switch != policy.Switch {
		return nil, fmt.Errorf("port mapping for %s used with policy for %s", ports.Switch, policy.Switch)
	}
	if len(policy.Rules) > FlowPriority {
		return nil, fmt.Errorf("policy for %s has %d rules, at most %d fit", policy.Switch, len(policy.Rules), FlowPriority)
	}
	texts := make([]string, 0, len(policy.Rules))
	for i, rule := range policy.Rules {
		in, err := ports.Lookup(rule.InPort)
		if err != nil {
			return nil, err
		}
		f := &ovs.Flow{Priority: FlowPriority - i, InPort: in}
		switch rule.Action {
		case api.ActionDrop:
			f.Actions = []ovs.Action{ovs.Drop()}
		case api.ActionOutput:
			out, err := ports.Lookup(rule.OutPort)
			if err != nil {
				return nil, err
			}
			f.Actions = []ovs.Action{ovs.Output(out)}
		default:
			return nil, fmt.Errorf("rule %d on %s: unknown action %q", i, policy.Switch, rule.Action)
		}
		text, err := f.MarshalText()
		if err != nil {
			return nil, fmt.Errorf("rule %d on %s: %v", i, policy.Switch, err)
		}
		texts = append(texts, string(text))
	}
	return texts, nil
}

// Provision replaces the switch's whole flow table with policy: clear, then
// install in order, then read the table back. Ports are resolved before the
// table is touched, so a missing port leaves the old table in place.
func (p *Provisioner) Provision(ctx context.Context, policy api.FlowPolicy, ports PortMapping) (*Installed, error) {
	texts, err := Compile(policy, ports)
	if err != nil {
		return nil, err
	}
	h, err := p.nodes.Lookup(policy.Switch)
	if err != nil {
		return nil, err
	}

	inst := &Installed{Switch: policy.Switch}
	d, err := api.Run(ctx, p.ch, h, "flows", "ovs-ofctl del-flows "+policy.Switch)
	inst.Commands = append(inst.Commands, d)
	if err != nil {
		return inst, err
	}
	for _, text := range texts {
		d, err := api.Run(ctx, p.ch, h, "flows", fmt.Sprintf("ovs-ofctl add-flow %s %q", policy.Switch, text))
		inst.Commands = append(inst.Commands, d)
		if err != nil {
			return inst, err
		}
		inst.Rules++
	}
	p.logger.Info("flows installed", "switch", policy.Switch, "rules", inst.Rules)

	dump, err := api.Run(ctx, p.ch, h, "flows", "ovs-ofctl dump-flows "+policy.Switch)
	inst.Dump = dump.Output
	return inst, err
}

// CommandText returns the add-flow commands as they were issued, one per line.
func (i *Installed) CommandText() string {
	var b strings.Builder
	for _, d := range i.Commands {
		b.WriteString(d.Command)
		b.WriteByte('\n')
	}
	return b.String()
}
