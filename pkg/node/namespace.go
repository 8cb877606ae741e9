package node

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// NetnsDir is where iproute2 and netns.NewNamed keep named namespaces.
const NetnsDir = "/var/run/netns"

// NamespaceManager backs each node with a named network namespace, the way
// `ip netns add` does.
type NamespaceManager struct {
	logger *slog.Logger
}

func NewNamespaceManager(logger *slog.Logger) *NamespaceManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &NamespaceManager{logger: logger.With("component", "netns")}
}

func (nm *NamespaceManager) AddNode(_ context.Context, name string) (string, error) {
	// check if existed, a crashed run leaves its namespaces behind
	if h, err := netns.GetFromName(name); err == nil {
		h.Close()
		nm.logger.Warn("removing stale namespace", "node", name)
		if err := netns.DeleteNamed(name); err != nil {
			return "", fmt.Errorf("failed to remove stale namespace %s: %v", name, err)
		}
	}

	// NewNamed switches the calling thread, so pin it and switch back after.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	origin, err := netns.Get()
	if err != nil {
		return "", fmt.Errorf("failed to get current namespace: %v", err)
	}
	defer origin.Close()

	handle, err := netns.NewNamed(name)
	if err != nil {
		return "", fmt.Errorf("failed to create namespace %s: %v", name, err)
	}
	defer handle.Close()
	defer netns.Set(origin)

	// bring up loopback
	lo, err := netlink.LinkByName("lo")
	if err != nil {
		return "", fmt.Errorf("failed to get loopback in %s: %v", name, err)
	}
	if err := netlink.LinkSetUp(lo); err != nil {
		return "", fmt.Errorf("failed to set loopback up in %s: %v", name, err)
	}

	path := filepath.Join(NetnsDir, name)
	nm.logger.Debug("namespace created", "node", name, "netns", path)
	return path, nil
}

func (nm *NamespaceManager) DeleteNode(_ context.Context, name string) error {
	if err := netns.DeleteNamed(name); err != nil {
		return fmt.Errorf("failed to delete namespace %s: %v", name, err)
	}
	return nil
}
