package pkg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"Netexp/api"
	"Netexp/pkg/link"
	"Netexp/pkg/node"
	"Netexp/pkg/ovs"
)

const DefaultPortTimeout = 5 * time.Second

type ManagerOption func(*Manager)

// WithBackend picks what hosts and routers run in. The default is a named
// network namespace per node.
func WithBackend(b node.Backend) ManagerOption {
	return func(m *Manager) { m.backend = b }
}

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithPortTimeout bounds how long Start waits for OVS to number a port.
func WithPortTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.portTimeout = d }
}

// veths is the part of link.LinkManager that Start and Stop use.
type veths interface {
	CreateVeth(a, b string) error
	MoveToNs(intf, nsPath string) error
	Shape(nsPath, intf string, p api.LinkProperties) error
	DeleteVeth(intf string) error
}

// Manager is the Emulator that builds the topology on the local kernel:
// a namespace (or container) per host and router, an OVS bridge per switch,
// and a veth pair per link. Nodes and links are only recorded until Start.
type Manager struct {
	backend     node.Backend
	om          *ovs.OvsManager
	lm          veths
	logger      *slog.Logger
	portTimeout time.Duration

	kinds   map[string]api.NodeKind
	order   []string
	links   []api.Link
	handles map[string]api.NodeHandle
	created []string // nodes that got a namespace or container
	started bool
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		kinds:       make(map[string]api.NodeKind),
		handles:     make(map[string]api.NodeHandle),
		portTimeout: DefaultPortTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.backend == nil {
		m.backend = node.NewNamespaceManager(m.logger)
	}
	m.om = ovs.NewOvsManager(m.logger)
	m.lm = link.NewLinkManager(m.logger)
	return m
}

func (m *Manager) CreateNode(_ context.Context, kind api.NodeKind, name string) error {
	if m.started {
		return fmt.Errorf("node %s declared after start", name)
	}
	// check if existed
	if _, existed := m.kinds[name]; existed {
		return fmt.Errorf("node %s already declared", name)
	}
	m.kinds[name] = kind
	m.order = append(m.order, name)
	return nil
}

func (m *Manager) CreateLink(_ context.Context, l api.Link) error {
	if m.started {
		return fmt.Errorf("link %s-%s declared after start", l.A.Intf, l.B.Intf)
	}
	// check invalid link
	if _, existed := m.kinds[l.A.Node]; !existed {
		return fmt.Errorf("src node %s not found", l.A.Node)
	}
	if _, existed := m.kinds[l.B.Node]; !existed {
		return fmt.Errorf("dst node %s not found", l.B.Node)
	}
	m.links = append(m.links, l)
	return nil
}

// Start brings the declared topology up. It needs root.
func (m *Manager) Start(ctx context.Context) error {
	if m.started {
		return errors.New("emulator already started")
	}
	if unix.Geteuid() != 0 {
		return errors.New("emulator needs root privileges")
	}
	m.started = true

	// Add nodes
	for _, name := range m.order {
		kind := m.kinds[name]
		h := api.NodeHandle{Name: name, Kind: kind}
		if kind == api.KindSwitch {
			if err := m.om.CreateBridge(name); err != nil {
				return err
			}
		} else {
			netNs, err := m.backend.AddNode(ctx, name)
			if err != nil {
				return fmt.Errorf("add node %s: %w", name, err)
			}
			m.created = append(m.created, name)
			h.NetNs = netNs
		}
		m.handles[name] = h
		m.logger.Info("node up", "node", name, "kind", kind.String())
	}

	// Add links
	for _, l := range m.links {
		if err := m.addLink(ctx, l); err != nil {
			return err
		}
		m.logger.Info("link up", "a", l.A.Intf, "b", l.B.Intf)
	}
	return nil
}

// addLink creates the veth pair for l and plugs both ends. If plugging
// fails the pair is deleted again from the root namespace, since Stop only
// reaches the ends that made it into a node. Either end still there takes
// its peer with it.
func (m *Manager) addLink(ctx context.Context, l api.Link) error {
	if err := m.lm.CreateVeth(l.A.Intf, l.B.Intf); err != nil {
		return err
	}
	for _, ep := range []api.Endpoint{l.A, l.B} {
		err := m.plug(ctx, ep)
		if err == nil {
			err = m.lm.Shape(m.handles[ep.Node].NetNs, ep.Intf, l.Properties)
		}
		if err != nil {
			errs := []error{err}
			for _, intf := range []string{l.A.Intf, l.B.Intf} {
				if derr := m.lm.DeleteVeth(intf); derr != nil {
					errs = append(errs, derr)
				}
			}
			return errors.Join(errs...)
		}
	}
	return nil
}

// plug attaches one veth end to its node: a bridge port for switches, the
// node's namespace for everything else.
func (m *Manager) plug(ctx context.Context, ep api.Endpoint) error {
	h := m.handles[ep.Node]
	if h.Kind != api.KindSwitch {
		return m.lm.MoveToNs(ep.Intf, h.NetNs)
	}
	if err := m.om.AddVeth(ep.Node, ep.Intf); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, m.portTimeout)
	defer cancel()
	port, err := m.om.WaitPort(waitCtx, ep.Node, ep.Intf)
	if err != nil {
		return err
	}
	m.logger.Debug("port attached", "switch", ep.Node, "intf", ep.Intf, "port", port)
	return nil
}

// Stop removes everything Start created. It keeps going past failures and
// returns them joined.
func (m *Manager) Stop(ctx context.Context) error {
	var errs []error
	for _, name := range m.created {
		if err := m.backend.DeleteNode(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	m.created = nil

	// switch-to-switch pairs live entirely in the root namespace
	for _, l := range m.links {
		if m.kinds[l.A.Node] == api.KindSwitch && m.kinds[l.B.Node] == api.KindSwitch {
			if err := m.lm.DeleteVeth(l.A.Intf); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, bridge := range m.om.Bridges() {
		if err := m.om.DeleteBridge(bridge); err != nil {
			errs = append(errs, err)
		}
	}
	m.handles = make(map[string]api.NodeHandle)
	m.started = false
	return errors.Join(errs...)
}

func (m *Manager) Lookup(name string) (api.NodeHandle, error) {
	h, ok := m.handles[name]
	if !ok {
		if _, declared := m.kinds[name]; declared {
			return api.NodeHandle{}, fmt.Errorf("node %s is not running", name)
		}
		return api.NodeHandle{}, fmt.Errorf("node %s not found", name)
	}
	return h, nil
}
