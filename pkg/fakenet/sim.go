package fakenet

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"Netexp/api"
)

const (
	maxHops         = 16
	defaultPriority = 32768
)

func (n *Net) ofctl(args []string) (string, error) {
	if len(args) < 2 {
		return "ovs-ofctl: missing command name; use --help for help\n", &ExitError{Code: 1}
	}
	sw, ok := n.nodes[args[1]]
	if !ok || sw.kind != api.KindSwitch {
		return fmt.Sprintf("ovs-ofctl: %s is not a bridge or a socket\n", args[1]), &ExitError{Code: 1}
	}
	switch args[0] {
	case "show":
		return sw.showPorts(), nil
	case "del-flows":
		sw.controlled = true
		sw.flows = nil
		return "", nil
	case "add-flow":
		if len(args) != 3 {
			return "ovs-ofctl: 'add-flow' command requires 2 arguments\n", &ExitError{Code: 1}
		}
		f, err := parseFlow(args[2])
		if err != nil {
			return "ovs-ofctl: " + err.Error() + "\n", &ExitError{Code: 1}
		}
		sw.controlled = true
		sw.addFlow(f)
		return "", nil
	case "dump-flows":
		return sw.dumpFlows(), nil
	}
	return fmt.Sprintf("ovs-ofctl: unknown command '%s'; use --help for help\n", args[0]), &ExitError{Code: 1}
}

func (sw *node) showPorts() string {
	ports := append([]*iface(nil), sw.ifaces...)
	sort.Slice(ports, func(i, j int) bool { return ports[i].port < ports[j].port })

	var b strings.Builder
	b.WriteString("OFPT_FEATURES_REPLY (xid=0x2): dpid:0000" + fmt.Sprintf("%012x", len(sw.name)) + "\n")
	b.WriteString("n_tables:254, n_buffers:0\n")
	b.WriteString("capabilities: FLOW_STATS TABLE_STATS PORT_STATS QUEUE_STATS ARP_MATCH_IP\n")
	b.WriteString("actions: output enqueue set_vlan_vid set_vlan_pcp strip_vlan mod_dl_src mod_dl_dst mod_nw_src mod_nw_dst mod_nw_tos mod_tp_src mod_tp_dst\n")
	for i, p := range ports {
		fmt.Fprintf(&b, " %d(%s): addr:06:2a:5c:%02x:%02x:%02x\n", p.port, p.name, len(sw.name), p.port, i)
		b.WriteString("     config:     0\n")
		b.WriteString("     state:      0\n")
		b.WriteString("     current:    10GB-FD COPPER\n")
		b.WriteString("     speed: 10000 Mbps now, 0 Mbps max\n")
	}
	fmt.Fprintf(&b, " LOCAL(%s): addr:5e:7f:11:93:e2:4b\n", sw.name)
	b.WriteString("     config:     PORT_DOWN\n")
	b.WriteString("     state:      LINK_DOWN\n")
	b.WriteString("     speed: 0 Mbps now, 0 Mbps max\n")
	b.WriteString("OFPT_GET_CONFIG_REPLY (xid=0x4): frags=normal miss_send_len=0\n")
	return b.String()
}

// addFlow installs f, replacing a rule with the same match and priority.
func (sw *node) addFlow(f flow) {
	for i, have := range sw.flows {
		if have.inPort == f.inPort && have.priority == f.priority {
			sw.flows[i] = f
			return
		}
	}
	sw.flows = append(sw.flows, f)
}

// table returns the rules highest priority first, ties in insertion order.
func (sw *node) table() []flow {
	flows := append([]flow(nil), sw.flows...)
	sort.SliceStable(flows, func(i, j int) bool { return flows[i].priority > flows[j].priority })
	return flows
}

func (sw *node) dumpFlows() string {
	var b strings.Builder
	b.WriteString("NXST_FLOW reply (xid=0x4):\n")
	if !sw.controlled {
		b.WriteString(" cookie=0x0, duration=2.310s, table=0, n_packets=0, n_bytes=0, idle_age=2, priority=0 actions=NORMAL\n")
		return b.String()
	}
	for _, f := range sw.table() {
		action := "drop"
		if !f.drop {
			action = "output:" + strconv.Itoa(f.out)
		}
		var match []string
		if f.priority != defaultPriority {
			match = append(match, "priority="+strconv.Itoa(f.priority))
		}
		if f.inPort != -1 {
			match = append(match, "in_port="+strconv.Itoa(f.inPort))
		}
		if len(match) == 0 {
			match = append(match, "priority="+strconv.Itoa(f.priority))
		}
		fmt.Fprintf(&b, " cookie=0x0, duration=0.012s, table=0, n_packets=0, n_bytes=0, idle_age=0, %s actions=%s\n", strings.Join(match, ","), action)
	}
	return b.String()
}

// parseFlow understands priority, the in_port match and a drop or output action.
func parseFlow(text string) (flow, error) {
	f := flow{text: text, priority: defaultPriority, inPort: -1}
	idx := strings.Index(text, "actions=")
	if idx < 0 {
		return f, fmt.Errorf("%s: must specify an action", text)
	}
	for _, field := range strings.Split(strings.TrimSuffix(text[:idx], ","), ",") {
		k, v, _ := strings.Cut(strings.TrimSpace(field), "=")
		switch k {
		case "in_port":
			p, err := strconv.Atoi(v)
			if err != nil {
				return f, fmt.Errorf("%s: invalid in_port %q", text, v)
			}
			f.inPort = p
		case "priority":
			p, err := strconv.Atoi(v)
			if err != nil || p < 0 || p > 65535 {
				return f, fmt.Errorf("%s: invalid priority %q", text, v)
			}
			f.priority = p
		}
	}
	action, _, _ := strings.Cut(text[idx+len("actions="):], ",")
	switch {
	case action == "drop":
		f.drop = true
	case strings.HasPrefix(action, "output:"):
		p, err := strconv.Atoi(strings.TrimPrefix(action, "output:"))
		if err != nil {
			return f, fmt.Errorf("%s: invalid output port", text)
		}
		f.out = p
	default:
		return f, fmt.Errorf("unknown action %q", action)
	}
	return f, nil
}

func (n *Net) ping(src *node, args []string) (string, error) {
	count := 1
	var target string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-c":
			if i+1 < len(args) {
				c, err := strconv.Atoi(args[i+1])
				if err != nil || c <= 0 {
					return fmt.Sprintf("ping: invalid argument: '%s'\n", args[i+1]), &ExitError{Code: 1}
				}
				count = c
				i++
			}
		default:
			if !strings.HasPrefix(args[i], "-") {
				target = args[i]
			}
		}
	}
	dst := net.ParseIP(target)
	if dst == nil {
		return fmt.Sprintf("ping: %s: Name or service not known\n", target), &ExitError{Code: 2}
	}

	out, _, ok := src.lookup(dst)
	if !ok {
		return "ping: connect: Network is unreachable\n", &ExitError{Code: 2}
	}

	received := 0
	if dstNode, ok := n.deliver(src, dst); ok && out.addr != nil {
		if back, ok := n.deliver(dstNode, out.addr.IP); ok && back == src {
			received = count
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "PING %s (%s) 56(84) bytes of data.\n", dst, dst)
	for i := 1; i <= received; i++ {
		fmt.Fprintf(&b, "64 bytes from %s: icmp_seq=%d ttl=64 time=0.0%d ms\n", dst, i, 40+i)
	}
	fmt.Fprintf(&b, "\n--- %s ping statistics ---\n", dst)
	loss := 100 * (count - received) / count
	fmt.Fprintf(&b, "%d packets transmitted, %d received, %d%% packet loss, time %dms\n", count, received, loss, count-1)
	if received == 0 {
		return b.String(), &ExitError{Code: 1}
	}
	b.WriteString("rtt min/avg/max/mdev = 0.041/0.041/0.041/0.000 ms\n")
	return b.String(), nil
}

// lookup picks the egress interface and next hop for dst: connected subnets
// first, then the longest static prefix, then the default route.
func (nd *node) lookup(dst net.IP) (*iface, net.IP, bool) {
	if intf := nd.connected(dst); intf != nil {
		return intf, dst, true
	}
	var (
		best     *route
		bestOnes = -1
	)
	for i, r := range nd.routes {
		ones := 0
		if r.dst != nil {
			if !r.dst.Contains(dst) {
				continue
			}
			ones, _ = r.dst.Mask.Size()
		}
		if ones > bestOnes {
			best, bestOnes = &nd.routes[i], ones
		}
	}
	if best == nil {
		return nil, nil, false
	}
	intf := nd.connected(best.via)
	if intf == nil {
		return nil, nil, false
	}
	return intf, best.via, true
}

// deliver walks a packet from node from towards dst and returns the node that owns dst.
func (n *Net) deliver(from *node, dst net.IP) (*node, bool) {
	cur := from
	for hop := 0; hop < maxHops; hop++ {
		if cur.owns(dst) {
			return cur, true
		}
		if cur != from && !(cur.kind == api.KindRouter && cur.forwarding) {
			return nil, false
		}
		out, nextHop, ok := cur.lookup(dst)
		if !ok {
			return nil, false
		}
		next := n.segment(out, nextHop)
		if next == nil {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

// segment follows out's link through any switches and returns the node whose
// interface answers for target on that layer-2 segment.
func (n *Net) segment(out *iface, target net.IP) *node {
	visited := make(map[*iface]bool)
	queue := []*iface{out.peer}
	for len(queue) > 0 {
		in := queue[0]
		queue = queue[1:]
		if in == nil || visited[in] {
			continue
		}
		visited[in] = true

		if in.owner.kind != api.KindSwitch {
			if in.addr != nil && in.addr.IP.Equal(target) {
				return in.owner
			}
			continue
		}
		for _, egress := range in.owner.forward(in) {
			queue = append(queue, egress.peer)
		}
	}
	return nil
}

// forward applies a switch's table to a frame arriving on in. A switch nobody
// has programmed floods like the default NORMAL rule; a programmed one uses
// the highest priority matching rule and drops on a miss.
func (sw *node) forward(in *iface) []*iface {
	if !sw.controlled {
		var out []*iface
		for _, intf := range sw.ifaces {
			if intf != in {
				out = append(out, intf)
			}
		}
		return out
	}
	for _, f := range sw.table() {
		if f.inPort != -1 && f.inPort != in.port {
			continue
		}
		if f.drop || f.out == in.port {
			return nil
		}
		for _, intf := range sw.ifaces {
			if intf.port == f.out {
				return []*iface{intf}
			}
		}
		return nil
	}
	return nil
}
