package experiment

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"Netexp/api"
	"Netexp/pkg/topo"
)

// Load reads an experiment from a yaml file.
func Load(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %v", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Experiment, error) {
	var cfg api.ExperimentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling YAML file: %v", err)
	}
	return FromConfig(cfg)
}

// FromConfig builds the topology a config describes, declaring nodes and
// then links in file order.
func FromConfig(cfg api.ExperimentConfig) (*Experiment, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("experiment has no name")
	}
	t := topo.New()

	// Add nodes
	for _, nc := range cfg.Nodes {
		kind, err := api.ParseNodeKind(nc.Kind)
		if err != nil {
			return nil, fmt.Errorf("node %s: %v", nc.Name, err)
		}
		if _, err := t.AddNode(nc.Name, kind); err != nil {
			return nil, err
		}
	}

	// Add links
	for _, lc := range cfg.Links {
		src, ok := t.Node(lc.SrcNode)
		if !ok {
			return nil, fmt.Errorf("src node %s not found", lc.SrcNode)
		}
		dst, ok := t.Node(lc.DstNode)
		if !ok {
			return nil, fmt.Errorf("dst node %s not found", lc.DstNode)
		}
		if _, _, err := t.AddLink(src, dst, topo.WithAliases(lc.SrcAlias, lc.DstAlias), topo.WithProperties(lc.Properties)); err != nil {
			return nil, err
		}
	}

	exp := &Experiment{
		Name:       cfg.Name,
		Title:      cfg.Title,
		Report:     cfg.Report,
		EchoConfig: cfg.EchoConfig,
		Topology:   t,
		Addresses:  cfg.Addresses,
		Routes:     cfg.Routes,
		Flows:      cfg.Flows,
		Baseline:   probes(cfg.Baseline),
		Probes:     probes(cfg.Probes),
	}
	if exp.Title == "" {
		exp.Title = "Experiment: " + cfg.Name
	}
	if exp.Report == "" {
		exp.Report = cfg.Name + ".txt"
	}
	return exp, nil
}

func probes(pcs []api.ProbeConfig) []Probe {
	out := make([]Probe, 0, len(pcs))
	for _, pc := range pcs {
		out = append(out, Probe{Src: pc.Src, Dst: pc.Dst, DstIP: pc.DstIP, Label: pc.Label})
	}
	return out
}
