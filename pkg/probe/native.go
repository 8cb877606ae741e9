package probe

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	ns "github.com/containernetworking/plugins/pkg/ns"
	probing "github.com/prometheus-community/pro-bing"

	"Netexp/api"
)

// NativeProber sends ICMP echoes from inside the source node's network
// namespace without shelling out, and renders the statistics in ping's
// summary format so that ParseLoss judges them like any other probe.
type NativeProber struct {
	Count      int
	Interval   time.Duration
	Timeout    time.Duration
	Privileged bool
	logger     *slog.Logger
}

func NewNativeProber(count int, timeout time.Duration, logger *slog.Logger) *NativeProber {
	if logger == nil {
		logger = slog.Default()
	}
	if count <= 0 {
		count = 1
	}
	return &NativeProber{
		Count:      count,
		Interval:   200 * time.Millisecond,
		Timeout:    timeout,
		Privileged: true,
		logger:     logger.With("component", "probe"),
	}
}

func (p *NativeProber) Ping(ctx context.Context, src api.NodeHandle, dstIP string) (string, error) {
	var stats *probing.Statistics
	run := func() error {
		pr, err := probing.NewPinger(dstIP)
		if err != nil {
			return fmt.Errorf("resolve %s: %v", dstIP, err)
		}
		pr.Count = p.Count
		pr.Interval = p.Interval
		pr.Timeout = p.Timeout
		pr.RecordRtts = false
		pr.SetPrivileged(p.Privileged)
		pr.SetLogger(nil)
		if err := pr.RunWithContext(ctx); err != nil {
			return fmt.Errorf("pinging %s: %v", dstIP, err)
		}
		stats = pr.Statistics()
		return nil
	}

	var err error
	if src.NetNs == "" {
		err = run()
	} else {
		var netns ns.NetNS
		netns, err = ns.GetNS(src.NetNs)
		if err != nil {
			return "", fmt.Errorf("failed to get namespace for %s: %v", src.Name, err)
		}
		defer netns.Close()
		err = netns.Do(func(_ ns.NetNS) error { return run() })
	}
	if err != nil {
		return fmt.Sprintf("ping: %v\n", err), err
	}
	p.logger.Debug("ping stats", "src", src.Name, "dst", dstIP, "sent", stats.PacketsSent, "recv", stats.PacketsRecv)
	return RenderStatistics(dstIP, stats), nil
}

// RenderStatistics formats pro-bing statistics like iputils ping's summary.
func RenderStatistics(dstIP string, stats *probing.Statistics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PING %s (%s) 56(84) bytes of data.\n", dstIP, dstIP)
	fmt.Fprintf(&b, "\n--- %s ping statistics ---\n", dstIP)
	fmt.Fprintf(&b, "%d packets transmitted, %d received, %s%% packet loss\n",
		stats.PacketsSent, stats.PacketsRecv, strconv.FormatFloat(stats.PacketLoss, 'f', -1, 64))
	if stats.PacketsRecv > 0 {
		fmt.Fprintf(&b, "rtt min/avg/max/mdev = %.3f/%.3f/%.3f/%.3f ms\n",
			ms(stats.MinRtt), ms(stats.AvgRtt), ms(stats.MaxRtt), ms(stats.StdDevRtt))
	}
	return b.String()
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
