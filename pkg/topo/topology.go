// Package topo holds the declarative model of an experiment network:
// nodes, the links between them, and the interfaces links allocate.
package topo

import (
	"fmt"

	"Netexp/api"
)

// Topology is built once and then sealed before it is handed to an emulator.
// Nodes and links are kept in insertion order.
type Topology struct {
	nodes  []*api.Node
	byName map[string]*api.Node
	links  []*api.Link
	sealed bool
}

func New() *Topology {
	return &Topology{byName: make(map[string]*api.Node)}
}

func (t *Topology) AddHost(name string) (*api.Node, error) {
	return t.addNode(name, api.KindHost)
}

func (t *Topology) AddRouter(name string) (*api.Node, error) {
	return t.addNode(name, api.KindRouter)
}

func (t *Topology) AddSwitch(name string) (*api.Node, error) {
	return t.addNode(name, api.KindSwitch)
}

// AddNode adds a node of the given kind.
func (t *Topology) AddNode(name string, kind api.NodeKind) (*api.Node, error) {
	return t.addNode(name, kind)
}

func (t *Topology) addNode(name string, kind api.NodeKind) (*api.Node, error) {
	if t.sealed {
		return nil, ErrSealed
	}
	if name == "" {
		return nil, fmt.Errorf("empty node name")
	}
	if _, existed := t.byName[name]; existed {
		return nil, &DuplicateNameError{Name: name}
	}
	n := &api.Node{Name: name, Kind: kind}
	t.nodes = append(t.nodes, n)
	t.byName[name] = n
	return n, nil
}

// LinkOption customises a link created by AddLink.
type LinkOption func(*api.Link)

// WithAliases gives the two new interfaces logical names.
// An empty string leaves that side without an alias.
func WithAliases(aAlias, bAlias string) LinkOption {
	return func(l *api.Link) {
		l.A.Alias = aAlias
		l.B.Alias = bAlias
	}
}

func WithProperties(p api.LinkProperties) LinkOption {
	return func(l *api.Link) {
		l.Properties = p
	}
}

// AddLink connects a and b, allocating a fresh interface on each and appending
// it to the node's interface list. The nth interface of a host or router is
// <node>-eth<n-1>; switch ports start at 1, so a switch's nth is <node>-eth<n>.
func (t *Topology) AddLink(a, b *api.Node, opts ...LinkOption) (*api.NodeInterface, *api.NodeInterface, error) {
	if t.sealed {
		return nil, nil, ErrSealed
	}
	if a == nil || b == nil || t.byName[a.Name] != a || t.byName[b.Name] != b {
		return nil, nil, ErrUnknownNode
	}
	if a == b {
		return nil, nil, fmt.Errorf("link from %s to itself", a.Name)
	}

	l := &api.Link{}
	for _, opt := range opts {
		opt(l)
	}
	for _, alias := range []struct {
		n     *api.Node
		alias string
	}{{a, l.A.Alias}, {b, l.B.Alias}} {
		if alias.alias == "" {
			continue
		}
		if _, existed := alias.n.Interface(alias.alias); existed {
			return nil, nil, &DuplicateNameError{Name: alias.n.Name + ":" + alias.alias}
		}
	}
	ai := newInterface(a, l.A.Alias, l)
	bi := newInterface(b, l.B.Alias, l)
	l.A = api.Endpoint{Node: a.Name, Intf: ai.Name, Alias: ai.Alias}
	l.B = api.Endpoint{Node: b.Name, Intf: bi.Name, Alias: bi.Alias}
	t.links = append(t.links, l)
	return ai, bi, nil
}

func newInterface(n *api.Node, alias string, l *api.Link) *api.NodeInterface {
	idx := len(n.Interfaces)
	num := idx
	if n.Kind == api.KindSwitch {
		num++
	}
	intf := &api.NodeInterface{
		Name:     fmt.Sprintf("%s-eth%d", n.Name, num),
		Alias:    alias,
		NodeName: n.Name,
		Index:    idx,
		Link:     l,
	}
	n.Interfaces = append(n.Interfaces, intf)
	return intf
}

// Seal freezes the topology; any later Add call fails with ErrSealed.
func (t *Topology) Seal() { t.sealed = true }

func (t *Topology) Sealed() bool { return t.sealed }

func (t *Topology) Nodes() []*api.Node { return t.nodes }

func (t *Topology) Links() []*api.Link { return t.links }

func (t *Topology) Node(name string) (*api.Node, bool) {
	n, ok := t.byName[name]
	return n, ok
}

// NodesOfKind returns the nodes of one kind in insertion order.
func (t *Topology) NodesOfKind(kind api.NodeKind) []*api.Node {
	var out []*api.Node
	for _, n := range t.nodes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// Interface looks up an interface by node name and interface name or alias.
func (t *Topology) Interface(node, name string) (*api.NodeInterface, bool) {
	n, ok := t.byName[node]
	if !ok {
		return nil, false
	}
	return n.Interface(name)
}

// Validate checks that every interface belongs to exactly one node and
// takes part in exactly one link.
func (t *Topology) Validate() error {
	owners := make(map[*api.NodeInterface]string)
	for _, n := range t.nodes {
		names := make(map[string]bool)
		for _, intf := range n.Interfaces {
			if prev, seen := owners[intf]; seen {
				return fmt.Errorf("interface %s owned by both %s and %s", intf.Name, prev, n.Name)
			}
			owners[intf] = n.Name
			if intf.NodeName != n.Name {
				return fmt.Errorf("interface %s claims node %s but is listed on %s", intf.Name, intf.NodeName, n.Name)
			}
			for _, key := range []string{intf.Name, intf.Alias} {
				if key == "" {
					continue
				}
				if names[key] {
					return &DuplicateNameError{Name: n.Name + ":" + key}
				}
				names[key] = true
			}
		}
	}

	uses := make(map[*api.NodeInterface]int)
	for _, l := range t.links {
		for _, ep := range []api.Endpoint{l.A, l.B} {
			intf, ok := t.Interface(ep.Node, ep.Intf)
			if !ok {
				return fmt.Errorf("link endpoint %s:%s not found", ep.Node, ep.Intf)
			}
			if intf.Link != l {
				return fmt.Errorf("interface %s:%s points at a different link", ep.Node, ep.Intf)
			}
			uses[intf]++
		}
	}
	for intf, owner := range owners {
		if uses[intf] != 1 {
			return fmt.Errorf("interface %s:%s is used by %d links", owner, intf.Name, uses[intf])
		}
	}
	return nil
}
