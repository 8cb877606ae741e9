package ovs

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/digitalocean/go-openvswitch/ovs"
	"github.com/vishvananda/netlink"
)

// OvsManager owns the OVS bridges that back the topology's switches.
type OvsManager struct {
	oClient *ovs.Client
	logger  *slog.Logger
	bridges []string
}

func NewOvsManager(logger *slog.Logger) *OvsManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &OvsManager{oClient: ovs.New(), logger: logger.With("component", "ovs")}
}

// CreateBridge adds a bridge in standalone fail mode, so it forwards like a
// learning switch until someone programs its flow table.
func (om *OvsManager) CreateBridge(bridge string) error {
	if err := om.oClient.VSwitch.AddBridge(bridge); err != nil {
		return fmt.Errorf("failed to add bridge %s: %v", bridge, err)
	}
	om.bridges = append(om.bridges, bridge)
	if err := om.oClient.VSwitch.SetFailMode(bridge, ovs.FailModeStandalone); err != nil {
		return fmt.Errorf("failed to set fail mode on %s: %v", bridge, err)
	}
	om.logger.Debug("bridge created", "bridge", bridge)
	return nil
}

func (om *OvsManager) DeleteBridge(bridge string) error {
	if err := om.oClient.VSwitch.DeleteBridge(bridge); err != nil {
		return fmt.Errorf("failed to delete bridge %s: %v", bridge, err)
	}
	for i, b := range om.bridges {
		if b == bridge {
			om.bridges = append(om.bridges[:i], om.bridges[i+1:]...)
			break
		}
	}
	return nil
}

// Bridges lists the bridges created and not yet deleted.
func (om *OvsManager) Bridges() []string {
	return append([]string(nil), om.bridges...)
}

// AddVeth adds a root-namespace veth end to the bridge.
func (om *OvsManager) AddVeth(bridge, veth string) error {
	// Ensure the veth exists
	link, err := netlink.LinkByName(veth)
	if err != nil {
		return fmt.Errorf("failed to find veth interface %s: %v", veth, err)
	}

	// Set up the veth interface if it's not already up
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring up veth interface %s: %v", veth, err)
	}

	// Add veth interface to the OVS bridge
	if err := om.oClient.VSwitch.AddPort(bridge, veth); err != nil {
		return fmt.Errorf("failed to add %s to OVS bridge %s: %v", veth, bridge, err)
	}

	return nil
}

// WaitPort polls until OVS has given port an OpenFlow number.
func (om *OvsManager) WaitPort(ctx context.Context, bridge, port string) (int, error) {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		id, err := GetPortId(bridge, port)
		if err == nil && id > 0 {
			return id, nil
		}
		select {
		case <-ctx.Done():
			return -1, fmt.Errorf("port %s on %s never came up: %w", port, bridge, ctx.Err())
		case <-tick.C:
		}
	}
}

func GetPortId(bridge, port string) (int, error) {
	cmd := exec.Command("ovs-vsctl", "get", "Interface", port, "ofport")
	output, err := cmd.Output()
	if err != nil {
		return -1, fmt.Errorf("failed to get port %s id on OVS bridge %s: %v", port, bridge, err)
	}
	resultStr := strings.TrimSpace(string(output))
	resultInt, err := strconv.Atoi(resultStr)
	if err != nil {
		return -1, fmt.Errorf("error converting port %s id %s to int: %v", port, resultStr, err)
	}
	return resultInt, nil
}
