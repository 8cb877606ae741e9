package api

import (
	"context"
	"fmt"
)

// NodeLookup finds the live handle of a node by name.
type NodeLookup interface {
	Lookup(name string) (NodeHandle, error)
}

// Emulator creates and tears down the live network for a topology.
type Emulator interface {
	NodeLookup
	CreateNode(ctx context.Context, kind NodeKind, name string) error
	CreateLink(ctx context.Context, l Link) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// CommandChannel runs one shell command on a node and returns what it printed.
// The output is returned even when err is non-nil; err reports a command that
// could not be run or exited non-zero.
type CommandChannel interface {
	Exec(ctx context.Context, h NodeHandle, command string) (string, error)
}

// CommandError adds the stage, node and command to a CommandChannel failure.
type CommandError struct {
	Stage   string
	Node    string
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s: %q: %v", e.Stage, e.Node, e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Directive is one command issued to a node together with what it printed.
type Directive struct {
	Node    string
	Command string
	Output  string
}

// Run executes command on h and wraps a failure in a CommandError for stage.
func Run(ctx context.Context, ch CommandChannel, h NodeHandle, stage, command string) (Directive, error) {
	out, err := ch.Exec(ctx, h, command)
	d := Directive{Node: h.Name, Command: command, Output: out}
	if err != nil {
		return d, &CommandError{Stage: stage, Node: h.Name, Command: command, Output: out, Err: err}
	}
	return d, nil
}
