// Package fakenet is an in-memory Emulator and CommandChannel. It understands
// the handful of sysctl, ip, ovs-ofctl and ping invocations the experiments
// issue and simulates forwarding over the declared links, so every stage can
// be exercised without root or a kernel.
package fakenet

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"Netexp/api"
)

// Fault lets a test intercept a command. Returning ok=true replaces the
// simulated result with out and err.
type Fault func(node, command string) (out string, err error, ok bool)

// Call is one recorded Exec.
type Call struct {
	Node    string
	Command string
	Output  string
	Err     error
}

// ExitError mimics a non-zero exit status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

type Option func(*Net)

// WithPortNumbers fixes the OpenFlow port numbers handed out to a switch's
// interfaces at start. Interfaces not listed keep their declaration order number.
func WithPortNumbers(sw string, ports map[string]int) Option {
	return func(n *Net) {
		n.portNumbers[sw] = ports
	}
}

// WithStopError makes Stop fail with err after tearing the network down.
func WithStopError(err error) Option {
	return func(n *Net) {
		n.stopErr = err
	}
}

func WithFault(f Fault) Option {
	return func(n *Net) {
		n.faults = append(n.faults, f)
	}
}

type Net struct {
	mu          sync.Mutex
	nodes       map[string]*node
	order       []string
	portNumbers map[string]map[string]int
	faults      []Fault
	stopErr     error
	calls       []Call
	started     bool
	stopped     bool
}

type node struct {
	name       string
	kind       api.NodeKind
	ifaces     []*iface
	forwarding bool
	routes     []route
	// switches only
	controlled bool
	flows      []flow
}

type iface struct {
	name  string
	owner *node
	addr  *net.IPNet
	peer  *iface
	port  int
}

type route struct {
	dst *net.IPNet // nil for the default route
	via net.IP
}

type flow struct {
	text     string
	priority int
	inPort   int
	drop     bool
	out      int
}

func New(opts ...Option) *Net {
	n := &Net{
		nodes:       make(map[string]*node),
		portNumbers: make(map[string]map[string]int),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Net) CreateNode(_ context.Context, kind api.NodeKind, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return fmt.Errorf("network already started")
	}
	if _, existed := n.nodes[name]; existed {
		return fmt.Errorf("node %s already exists", name)
	}
	n.nodes[name] = &node{name: name, kind: kind}
	n.order = append(n.order, name)
	return nil
}

func (n *Net) CreateLink(_ context.Context, l api.Link) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return fmt.Errorf("network already started")
	}
	a, ok := n.nodes[l.A.Node]
	if !ok {
		return fmt.Errorf("src node %s not found", l.A.Node)
	}
	b, ok := n.nodes[l.B.Node]
	if !ok {
		return fmt.Errorf("dst node %s not found", l.B.Node)
	}
	ai := &iface{name: l.A.Intf, owner: a}
	bi := &iface{name: l.B.Intf, owner: b}
	ai.peer, bi.peer = bi, ai
	a.ifaces = append(a.ifaces, ai)
	b.ifaces = append(b.ifaces, bi)
	return nil
}

func (n *Net) Start(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return fmt.Errorf("network already started")
	}
	for _, name := range n.order {
		nd := n.nodes[name]
		if nd.kind != api.KindSwitch {
			continue
		}
		fixed := n.portNumbers[name]
		for i, intf := range nd.ifaces {
			intf.port = i + 1
			if p, ok := fixed[intf.name]; ok {
				intf.port = p
			}
		}
	}
	n.started = true
	return nil
}

func (n *Net) Stop(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = false
	n.stopped = true
	return n.stopErr
}

func (n *Net) Lookup(name string) (api.NodeHandle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		return api.NodeHandle{}, fmt.Errorf("network not running")
	}
	nd, ok := n.nodes[name]
	if !ok {
		return api.NodeHandle{}, fmt.Errorf("node %s not found", name)
	}
	h := api.NodeHandle{Name: name, Kind: nd.kind}
	if nd.kind != api.KindSwitch {
		h.NetNs = "/var/run/netns/" + name
	}
	return h, nil
}

func (n *Net) Exec(_ context.Context, h api.NodeHandle, command string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	out, err := n.exec(h.Name, command)
	n.calls = append(n.calls, Call{Node: h.Name, Command: command, Output: out, Err: err})
	return out, err
}

func (n *Net) exec(name, command string) (string, error) {
	for _, f := range n.faults {
		if out, err, ok := f(name, command); ok {
			return out, err
		}
	}
	if !n.started {
		return "", fmt.Errorf("network not running")
	}
	nd, ok := n.nodes[name]
	if !ok {
		return "", fmt.Errorf("node %s not found", name)
	}

	args := splitArgs(command)
	if len(args) == 0 {
		return "", nil
	}
	switch args[0] {
	case "sysctl":
		return n.sysctl(nd, args[1:])
	case "ip":
		return n.ip(nd, args[1:])
	case "ovs-ofctl":
		return n.ofctl(args[1:])
	case "ping":
		return n.ping(nd, args[1:])
	}
	return fmt.Sprintf("sh: 1: %s: not found\n", args[0]), &ExitError{Code: 127}
}

func (n *Net) sysctl(nd *node, args []string) (string, error) {
	if len(args) != 2 || args[0] != "-w" {
		return "usage: sysctl -w key=value\n", &ExitError{Code: 1}
	}
	key, val, ok := strings.Cut(args[1], "=")
	if !ok || key != "net.ipv4.ip_forward" || (val != "0" && val != "1") {
		return fmt.Sprintf("sysctl: cannot stat %s\n", args[1]), &ExitError{Code: 255}
	}
	nd.forwarding = val == "1"
	return fmt.Sprintf("%s = %s\n", key, val), nil
}

func (n *Net) ip(nd *node, args []string) (string, error) {
	if len(args) < 2 {
		return "Usage: ip OBJECT COMMAND\n", &ExitError{Code: 255}
	}
	switch args[0] + " " + args[1] {
	case "addr flush":
		intf, err := nd.devArg(args[2:])
		if err != nil {
			return err.Error() + "\n", &ExitError{Code: 1}
		}
		intf.addr = nil
		return "", nil
	case "addr add":
		if len(args) < 3 {
			return "Error: missing address\n", &ExitError{Code: 1}
		}
		ip, ipNet, err := net.ParseCIDR(args[2])
		if err != nil {
			return fmt.Sprintf("Error: any valid prefix is expected rather than %q.\n", args[2]), &ExitError{Code: 1}
		}
		intf, err := nd.devArg(args[3:])
		if err != nil {
			return err.Error() + "\n", &ExitError{Code: 1}
		}
		if intf.addr != nil && intf.addr.IP.Equal(ip) {
			return "RTNETLINK answers: File exists\n", &ExitError{Code: 2}
		}
		intf.addr = &net.IPNet{IP: ip, Mask: ipNet.Mask}
		return "", nil
	case "route show":
		return nd.showRoutes(args[2:]), nil
	case "route del":
		if len(args) < 3 {
			return "Error: missing destination\n", &ExitError{Code: 1}
		}
		var via net.IP
		if len(args) == 5 && args[3] == "via" {
			via = net.ParseIP(args[4])
		}
		for i, r := range nd.routes {
			if r.matches(args[2]) && (via == nil || r.via.Equal(via)) {
				nd.routes = append(nd.routes[:i], nd.routes[i+1:]...)
				return "", nil
			}
		}
		return "RTNETLINK answers: No such process\n", &ExitError{Code: 2}
	case "route add":
		if len(args) != 5 || args[3] != "via" {
			return "Error: expected \"ip route add DST via GW\"\n", &ExitError{Code: 1}
		}
		r := route{via: net.ParseIP(args[4])}
		if r.via == nil {
			return fmt.Sprintf("Error: inet address is expected rather than %q.\n", args[4]), &ExitError{Code: 1}
		}
		if args[2] != "default" {
			_, dst, err := net.ParseCIDR(args[2])
			if err != nil {
				return fmt.Sprintf("Error: inet prefix is expected rather than %q.\n", args[2]), &ExitError{Code: 1}
			}
			r.dst = dst
		}
		for _, have := range nd.routes {
			if have.matches(args[2]) {
				return "RTNETLINK answers: File exists\n", &ExitError{Code: 2}
			}
		}
		if nd.connected(r.via) == nil {
			return "Error: Nexthop has invalid gateway.\n", &ExitError{Code: 2}
		}
		nd.routes = append(nd.routes, r)
		return "", nil
	}
	return fmt.Sprintf("Command \"%s\" is unknown, try \"ip help\".\n", strings.Join(args, " ")), &ExitError{Code: 1}
}

func (nd *node) devArg(args []string) (*iface, error) {
	if len(args) != 2 || args[0] != "dev" {
		return nil, fmt.Errorf("Error: missing dev")
	}
	for _, intf := range nd.ifaces {
		if intf.name == args[1] {
			return intf, nil
		}
	}
	return nil, fmt.Errorf("Cannot find device %q", args[1])
}

func (r route) matches(dst string) bool {
	if dst == "default" {
		return r.dst == nil
	}
	if r.dst == nil {
		return false
	}
	_, want, err := net.ParseCIDR(dst)
	return err == nil && want.String() == r.dst.String()
}

func (nd *node) showRoutes(args []string) string {
	var b strings.Builder
	filtered := len(args) > 0
	for _, r := range nd.routes {
		if filtered && !r.matches(args[0]) {
			continue
		}
		dst := "default"
		if r.dst != nil {
			dst = r.dst.String()
		}
		dev := ""
		if intf := nd.connected(r.via); intf != nil {
			dev = " dev " + intf.name
		}
		fmt.Fprintf(&b, "%s via %s%s\n", dst, r.via, dev)
	}
	for _, intf := range nd.ifaces {
		if intf.addr == nil {
			continue
		}
		subnet := &net.IPNet{IP: intf.addr.IP.Mask(intf.addr.Mask), Mask: intf.addr.Mask}
		if filtered && !(route{dst: subnet}).matches(args[0]) {
			continue
		}
		fmt.Fprintf(&b, "%s dev %s proto kernel scope link src %s\n", subnet, intf.name, intf.addr.IP)
	}
	return b.String()
}

// connected returns the interface whose subnet holds ip.
func (nd *node) connected(ip net.IP) *iface {
	for _, intf := range nd.ifaces {
		if intf.addr != nil && intf.addr.Contains(ip) {
			return intf
		}
	}
	return nil
}

func (nd *node) owns(ip net.IP) bool {
	for _, intf := range nd.ifaces {
		if intf.addr != nil && intf.addr.IP.Equal(ip) {
			return true
		}
	}
	return false
}

// Calls returns every command executed so far.
func (n *Net) Calls() []Call {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Call(nil), n.calls...)
}

// Commands returns the executed commands of one node, in order.
func (n *Net) Commands(node string) []string {
	var out []string
	for _, c := range n.Calls() {
		if c.Node == node {
			out = append(out, c.Command)
		}
	}
	return out
}

func (n *Net) Started() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started
}

func (n *Net) Stopped() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stopped
}

func (n *Net) Forwarding(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	nd, ok := n.nodes[name]
	return ok && nd.forwarding
}

// Address returns the CIDR on an interface, or "" if none.
func (n *Net) Address(name, intf string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	nd, ok := n.nodes[name]
	if !ok {
		return ""
	}
	for _, i := range nd.ifaces {
		if i.name == intf && i.addr != nil {
			ones, _ := i.addr.Mask.Size()
			return fmt.Sprintf("%s/%d", i.addr.IP, ones)
		}
	}
	return ""
}

// Routes lists a node's static routes as "dst via gw", default first.
func (n *Net) Routes(name string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	nd, ok := n.nodes[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(nd.routes))
	for _, r := range nd.routes {
		dst := "default"
		if r.dst != nil {
			dst = r.dst.String()
		}
		out = append(out, dst+" via "+r.via.String())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.HasPrefix(out[i], "default") && !strings.HasPrefix(out[j], "default")
	})
	return out
}

// Port returns the OpenFlow port number assigned to a switch interface.
func (n *Net) Port(sw, intf string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	nd, ok := n.nodes[sw]
	if !ok {
		return 0
	}
	for _, i := range nd.ifaces {
		if i.name == intf {
			return i.port
		}
	}
	return 0
}

// FlowCount returns the number of rules in a switch's table, counting the
// implicit NORMAL rule of a switch nobody has programmed yet.
func (n *Net) FlowCount(sw string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	nd, ok := n.nodes[sw]
	if !ok {
		return 0
	}
	if !nd.controlled {
		return 1
	}
	return len(nd.flows)
}

// splitArgs splits a command line on blanks, keeping quoted strings whole.
func splitArgs(s string) []string {
	var (
		args  []string
		cur   strings.Builder
		quote rune
		inArg bool
	)
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inArg = true
		case r == ' ' || r == '\t' || r == '\n':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args
}
