package api

// Endpoint names one side of a link.
type Endpoint struct {
	Node  string `yaml:"node"`
	Intf  string `yaml:"intf"`
	Alias string `yaml:"alias,omitempty"`
}

type Link struct {
	A          Endpoint
	B          Endpoint
	Properties LinkProperties
}

// Peer returns the endpoint opposite to the given node/interface pair.
func (l *Link) Peer(node, intf string) (Endpoint, bool) {
	switch {
	case l.A.Node == node && l.A.Intf == intf:
		return l.B, true
	case l.B.Node == node && l.B.Intf == intf:
		return l.A, true
	}
	return Endpoint{}, false
}

type LinkProperties struct {
	Latency uint32  `yaml:"latency"` // in ms
	Loss    float32 `yaml:"loss"`    // in percentage
	Rate    uint64  `yaml:"rate"`    // in mbps
}

// Shaped reports whether any property asks for traffic control.
func (p LinkProperties) Shaped() bool {
	return p.Latency > 0 || p.Loss > 0 || p.Rate > 0
}
