// Package shell is the CommandChannel used against a real emulator: each
// command runs under `sh -c` with the calling thread inside the node's
// network namespace.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	ns "github.com/containernetworking/plugins/pkg/ns"

	"Netexp/api"
)

type Channel struct {
	Shell  string
	logger *slog.Logger
}

func New(logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{Shell: "sh", logger: logger.With("component", "shell")}
}

// Exec runs command on h and returns its combined output. The output is
// returned even when the command exits non-zero.
func (c *Channel) Exec(ctx context.Context, h api.NodeHandle, command string) (string, error) {
	var out []byte
	run := func() error {
		var err error
		out, err = exec.CommandContext(ctx, c.Shell, "-c", command).CombinedOutput()
		return err
	}

	var err error
	if h.NetNs == "" {
		err = run()
	} else {
		var target ns.NetNS
		target, err = ns.GetNS(h.NetNs)
		if err != nil {
			return "", fmt.Errorf("enter %s: %w", h.Name, err)
		}
		defer target.Close()
		err = target.Do(func(_ ns.NetNS) error { return run() })
	}
	c.logger.Debug("exec", "node", h.Name, "cmd", command, "err", err)
	return string(out), err
}
