package api

import "fmt"

// NodeKind is the closed set of roles a node can play in a topology.
type NodeKind int

const (
	KindHost NodeKind = iota
	KindRouter
	KindSwitch
)

func (k NodeKind) String() string {
	switch k {
	case KindHost:
		return "host"
	case KindRouter:
		return "router"
	case KindSwitch:
		return "switch"
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// ParseNodeKind maps the yaml spelling of a kind back to a NodeKind.
func ParseNodeKind(s string) (NodeKind, error) {
	switch s {
	case "host", "":
		return KindHost, nil
	case "router":
		return KindRouter, nil
	case "switch":
		return KindSwitch, nil
	}
	return 0, fmt.Errorf("unknown node kind %q", s)
}

type Node struct {
	Name       string
	Kind       NodeKind
	Interfaces []*NodeInterface // in the order links were added
}

// Interface returns the interface called name (kernel name or alias).
func (n *Node) Interface(name string) (*NodeInterface, bool) {
	for _, intf := range n.Interfaces {
		if intf.Name == name || (intf.Alias != "" && intf.Alias == name) {
			return intf, true
		}
	}
	return nil, false
}

type NodeInterface struct {
	Name     string // kernel name, e.g. h1-eth0
	Alias    string // optional logical name, e.g. h1-side
	NodeName string
	Index    int // position in the owning node's interface list
	Link     *Link
}

// NodeHandle is the live counterpart of a Node, valid between emulator start and stop.
// NetNs is empty for nodes living in the root namespace (switches).
type NodeHandle struct {
	Name  string
	Kind  NodeKind
	NetNs string
}
