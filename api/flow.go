package api

import "fmt"

type FlowAction string

const (
	ActionDrop   FlowAction = "drop"
	ActionOutput FlowAction = "output"
)

// FlowRule matches on the ingress port and either drops or forwards.
// Ports may be given as interface name, alias, or numeric OpenFlow port.
type FlowRule struct {
	InPort  string     `yaml:"inPort"`
	Action  FlowAction `yaml:"action"`
	OutPort string     `yaml:"outPort,omitempty"`
}

func (r FlowRule) String() string {
	if r.Action == ActionOutput {
		return fmt.Sprintf("in_port=%s -> output:%s", r.InPort, r.OutPort)
	}
	return fmt.Sprintf("in_port=%s -> %s", r.InPort, r.Action)
}

// FlowPolicy is the complete, ordered rule set wanted on one switch.
type FlowPolicy struct {
	Switch string     `yaml:"switch"`
	Rules  []FlowRule `yaml:"rules"`
}
