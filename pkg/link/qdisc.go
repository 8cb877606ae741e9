package link

import (
	"fmt"

	"github.com/vishvananda/netlink"

	"Netexp/api"
)

// Unshaped classes still need a rate; this one never limits a veth.
const unlimitedRate = 10_000 // mbit

var (
	rootHandle  = netlink.MakeHandle(1, 0)
	classHandle = netlink.MakeHandle(1, 1)
	netemHandle = netlink.MakeHandle(10, 0)
)

// Shape applies p to the egress of intf, inside the namespace at nsPath:
//
//	tc qdisc add dev eth0 root handle 1: htb default 1
//	tc class add dev eth0 parent 1: classid 1:1 htb rate 100mbit burst 10000
//	tc qdisc add dev eth0 parent 1:1 handle 10: netem delay 5ms loss 1%
//
// Both ends of a link are shaped, so p holds in each direction.
func (lm *LinkManager) Shape(nsPath, intf string, p api.LinkProperties) error {
	if !p.Shaped() {
		return nil
	}
	err := InNs(nsPath, func() error {
		link, err := netlink.LinkByName(intf)
		if err != nil {
			return fmt.Errorf("failed to get link by name: %v", err)
		}
		root, class, netem := shapingQdiscs(link.Attrs().Index, p)

		// 1. htb root, everything falls into 1:1
		if err := netlink.QdiscReplace(root); err != nil {
			return fmt.Errorf("failed to add HTB root qdisc: %v", err)
		}
		// 2. bw control
		if err := netlink.ClassReplace(class); err != nil {
			return fmt.Errorf("failed to add HTB class: %v", err)
		}
		// 3. loss and latency
		if netem != nil {
			if err := netlink.QdiscReplace(netem); err != nil {
				return fmt.Errorf("failed to add netem qdisc: %v", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("shape %s: %w", intf, err)
	}
	lm.logger.Debug("link shaped", "intf", intf, "latency_ms", p.Latency, "loss", p.Loss, "rate_mbit", p.Rate)
	return nil
}

// shapingQdiscs builds the tc objects for one interface. netem is nil when
// p asks for neither latency nor loss.
func shapingQdiscs(linkIndex int, p api.LinkProperties) (*netlink.Htb, *netlink.HtbClass, *netlink.Netem) {
	root := netlink.NewHtb(netlink.QdiscAttrs{
		LinkIndex: linkIndex,
		Handle:    rootHandle,
		Parent:    netlink.HANDLE_ROOT,
	})
	root.Defcls = 1 // Default classid 1:1

	rate := p.Rate
	if rate == 0 {
		rate = unlimitedRate
	}
	class := netlink.NewHtbClass(
		netlink.ClassAttrs{
			LinkIndex: linkIndex,
			Handle:    classHandle,
			Parent:    rootHandle,
		},
		netlink.HtbClassAttrs{
			Rate:   rate * 1000 * 1000, // bit/s
			Buffer: 10000,
			Prio:   1,
		},
	)

	if p.Latency == 0 && p.Loss == 0 {
		return root, class, nil
	}
	netem := netlink.NewNetem(netlink.QdiscAttrs{
		LinkIndex: linkIndex,
		Parent:    classHandle,
		Handle:    netemHandle,
	}, netlink.NetemQdiscAttrs{
		Latency: p.Latency * 1000, // in us
		Loss:    p.Loss,
		Limit:   300000,
	})
	return root, class, netem
}
