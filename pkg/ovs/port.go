package ovs

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"Netexp/api"
	"Netexp/pkg/topo"
)

// portLineRe matches one port record of `ovs-ofctl show`: "<number>(<name>)...".
// LOCAL and every indented attribute line fail the match and are skipped.
var portLineRe = regexp.MustCompile(`^\s*(\d+)\(([^()\s]+)\)`)

// ParsePortDump extracts name -> OpenFlow port number from a port listing.
// Lines not shaped like a port record are ignored.
func ParsePortDump(text string) map[string]int {
	ports := make(map[string]int)
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		m := portLineRe.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, seen := ports[m[2]]; !seen {
			ports[m[2]] = num
		}
	}
	return ports
}

// PortNotFoundError names a port reference the live switch does not have.
type PortNotFoundError struct {
	Switch string
	Port   string
}

func (e *PortNotFoundError) Error() string {
	return fmt.Sprintf("port %s not found on switch %s", e.Port, e.Switch)
}

// PortMapping is one run's snapshot of a switch's ports. It answers for
// kernel interface names, topology aliases, and raw port numbers alike.
type PortMapping struct {
	Switch  string
	byName  map[string]int
	numbers map[int]string
}

func NewPortMapping(sw string, ports map[string]int) PortMapping {
	m := PortMapping{Switch: sw, byName: make(map[string]int), numbers: make(map[int]string)}
	for name, num := range ports {
		m.byName[name] = num
		m.numbers[num] = name
	}
	return m
}

// Lookup resolves ref to a port number.
func (m PortMapping) Lookup(ref string) (int, error) {
	if num, ok := m.byName[ref]; ok {
		return num, nil
	}
	if num, err := strconv.Atoi(ref); err == nil {
		if _, ok := m.numbers[num]; ok {
			return num, nil
		}
	}
	return 0, &PortNotFoundError{Switch: m.Switch, Port: ref}
}

// Name returns the kernel interface name behind a port number.
func (m PortMapping) Name(num int) (string, bool) {
	name, ok := m.numbers[num]
	return name, ok
}

func (m PortMapping) Len() int { return len(m.numbers) }

// String lists ports in number order, e.g. "1(s1-eth1) 2(s1-eth2)".
func (m PortMapping) String() string {
	nums := make([]int, 0, len(m.numbers))
	for n := range m.numbers {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	parts := make([]string, 0, len(nums))
	for _, n := range nums {
		parts = append(parts, fmt.Sprintf("%d(%s)", n, m.numbers[n]))
	}
	return strings.Join(parts, " ")
}

// Resolver builds a PortMapping from live switch state.
type Resolver interface {
	Resolve(ctx context.Context, sw string) (PortMapping, error)
}

type PortResolver struct {
	topo   *topo.Topology
	nodes  api.NodeLookup
	ch     api.CommandChannel
	logger *slog.Logger
}

func NewPortResolver(t *topo.Topology, nodes api.NodeLookup, ch api.CommandChannel, logger *slog.Logger) *PortResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortResolver{topo: t, nodes: nodes, ch: ch, logger: logger.With("component", "ports")}
}

// Resolve queries the switch's port listing and maps every port it reports.
// Topology aliases are added for interfaces present in the listing.
func (r *PortResolver) Resolve(ctx context.Context, sw string) (PortMapping, error) {
	n, ok := r.topo.Node(sw)
	if !ok || n.Kind != api.KindSwitch {
		return PortMapping{}, fmt.Errorf("%s is not a switch in the topology", sw)
	}
	h, err := r.nodes.Lookup(sw)
	if err != nil {
		return PortMapping{}, err
	}
	d, err := api.Run(ctx, r.ch, h, "ports", "ovs-ofctl show "+sw)
	if err != nil {
		return PortMapping{}, err
	}

	ports := ParsePortDump(d.Output)
	m := NewPortMapping(sw, ports)
	for _, intf := range n.Interfaces {
		num, ok := ports[intf.Name]
		if !ok {
			r.logger.Debug("interface missing from port listing", "switch", sw, "intf", intf.Name)
			continue
		}
		if intf.Alias != "" {
			m.byName[intf.Alias] = num
		}
	}
	r.logger.Debug("ports resolved", "switch", sw, "ports", m.String())
	return m, nil
}
