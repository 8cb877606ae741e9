package fakenet

import (
	"context"

	"Netexp/pkg/topo"
)

// Build declares every node and link of t on a new Net and starts it.
func Build(t *topo.Topology, opts ...Option) (*Net, error) {
	ctx := context.Background()
	n := New(opts...)
	for _, nd := range t.Nodes() {
		if err := n.CreateNode(ctx, nd.Kind, nd.Name); err != nil {
			return nil, err
		}
	}
	for _, l := range t.Links() {
		if err := n.CreateLink(ctx, *l); err != nil {
			return nil, err
		}
	}
	return n, n.Start(ctx)
}
