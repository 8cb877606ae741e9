package api

// ExperimentConfig is the yaml form of an experiment.
type ExperimentConfig struct {
	Name       string        `yaml:"name"`
	Title      string        `yaml:"title"`
	Report     string        `yaml:"report"`
	EchoConfig bool          `yaml:"echoConfig"` // record address and route commands in the report
	Nodes      []NodeConfig  `yaml:"nodes"`
	Links      []LinkConfig  `yaml:"links"`
	Addresses  []Address     `yaml:"addresses"`
	Routes     []Route       `yaml:"routes"`
	Flows      []FlowPolicy  `yaml:"flows"`
	Baseline   []ProbeConfig `yaml:"baseline"` // run after addressing, before routes and flows
	Probes     []ProbeConfig `yaml:"probes"`
}

type NodeConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

type LinkConfig struct {
	SrcNode    string         `yaml:"srcNode"`
	DstNode    string         `yaml:"dstNode"`
	SrcAlias   string         `yaml:"srcAlias"`
	DstAlias   string         `yaml:"dstAlias"`
	Properties LinkProperties `yaml:"properties"`
}

type ProbeConfig struct {
	Src   string `yaml:"src"`
	Dst   string `yaml:"dst"`
	DstIP string `yaml:"dstIP"` // defaults to the first address of Dst
	Label string `yaml:"label"`
}
