package api

import "fmt"

// DefaultDestination is the destination spelling of the default route.
const DefaultDestination = "default"

// Address assigns a CIDR to one interface of a node.
type Address struct {
	Node string `yaml:"node"`
	Intf string `yaml:"intf"`
	CIDR string `yaml:"cidr"` // 10.0.0.1/24
}

// Route is a static route owned by a host or router.
type Route struct {
	Node string `yaml:"node"`
	Dst  string `yaml:"dst"` // network in CIDR form or "default"
	Via  string `yaml:"via"`
}

func (r Route) IsDefault() bool {
	return r.Dst == DefaultDestination || r.Dst == "any" || r.Dst == "0.0.0.0/0"
}

func (r Route) String() string {
	if r.IsDefault() {
		return fmt.Sprintf("%s: default via %s", r.Node, r.Via)
	}
	return fmt.Sprintf("%s: %s via %s", r.Node, r.Dst, r.Via)
}
