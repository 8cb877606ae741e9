// Package link plugs veth pairs between nodes and shapes them with tc.
package link

import (
	"fmt"
	"log/slog"

	ns "github.com/containernetworking/plugins/pkg/ns"
	"github.com/vishvananda/netlink"
)

const DefaultMTU = 1500

type LinkManager struct {
	logger *slog.Logger
}

func NewLinkManager(logger *slog.Logger) *LinkManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkManager{logger: logger.With("component", "link")}
}

// CreateVeth creates the pair a<->b in the root namespace, both ends down.
func (lm *LinkManager) CreateVeth(a, b string) error {
	// clean up a pair left by an earlier run
	if old, err := netlink.LinkByName(a); err == nil {
		if err := netlink.LinkDel(old); err != nil {
			return fmt.Errorf("failed to remove stale link %s: %v", a, err)
		}
	}

	linkAttr := netlink.NewLinkAttrs()
	linkAttr.Name = a
	linkAttr.MTU = DefaultMTU
	veth := &netlink.Veth{
		LinkAttrs: linkAttr,
		PeerName:  b,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return fmt.Errorf("failed to create veth pair %s-%s: %v", a, b, err)
	}
	lm.logger.Debug("veth created", "a", a, "b", b)
	return nil
}

// MoveToNs moves intf into the namespace at nsPath and brings it up there.
func (lm *LinkManager) MoveToNs(intf, nsPath string) error {
	link, err := netlink.LinkByName(intf)
	if err != nil {
		return fmt.Errorf("failed to get link %s: %v", intf, err)
	}

	target, err := ns.GetNS(nsPath)
	if err != nil {
		return fmt.Errorf("failed to get namespace %s: %v", nsPath, err)
	}
	defer target.Close()

	if err = netlink.LinkSetNsFd(link, int(target.Fd())); err != nil {
		return fmt.Errorf("failed to set namespace for %s: %v", intf, err)
	}
	return InNs(nsPath, func() error {
		return setUp(intf, "lo")
	})
}

// SetUp brings root namespace links up.
func (lm *LinkManager) SetUp(names ...string) error {
	return setUp(names...)
}

// DeleteVeth removes intf, and with it its peer. A link that is already gone
// is not an error.
func (lm *LinkManager) DeleteVeth(intf string) error {
	link, err := netlink.LinkByName(intf)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to get link %s: %v", intf, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("failed to delete link %s: %v", intf, err)
	}
	return nil
}

// InNs runs f with the calling thread inside the namespace at nsPath. An
// empty path means the root namespace.
func InNs(nsPath string, f func() error) error {
	if nsPath == "" {
		return f()
	}
	target, err := ns.GetNS(nsPath)
	if err != nil {
		return fmt.Errorf("failed to get namespace %s: %v", nsPath, err)
	}
	defer target.Close()
	return target.Do(func(_ ns.NetNS) error {
		return f()
	})
}

func setUp(names ...string) error {
	for _, name := range names {
		link, err := netlink.LinkByName(name)
		if err != nil {
			return fmt.Errorf("failed to get link %s: %v", name, err)
		}
		if err := netlink.LinkSetUp(link); err != nil {
			return fmt.Errorf("failed to set link up: %s: %v", name, err)
		}
	}
	return nil
}
