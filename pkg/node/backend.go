// Package node creates and removes the isolated network stacks that hosts and
// routers live in. Switches never get one; they stay in the root namespace.
package node

import "context"

// Backend gives a node its own network namespace and returns the path of
// that namespace (a bind mount or /proc/<pid>/ns/net).
type Backend interface {
	AddNode(ctx context.Context, name string) (netns string, err error)
	DeleteNode(ctx context.Context, name string) error
}
