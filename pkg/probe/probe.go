// Package probe runs connectivity checks between nodes and judges them.
//
// A probe succeeds only when its output reports zero packet loss. Anything
// else, including output with no loss figure at all, is a failure.
package probe

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"Netexp/api"
)

// ErrUnparseable marks output that carries no packet loss figure.
var ErrUnparseable = errors.New("no packet loss figure in probe output")

var lossRe = regexp.MustCompile(`(\d+(?:\.\d+)?)% packet loss`)

// ParseLoss returns the packet loss percentage reported in ping output.
func ParseLoss(output string) (float64, error) {
	m := lossRe.FindStringSubmatch(output)
	if m == nil {
		return 0, ErrUnparseable
	}
	loss, err := strconv.ParseFloat(m[1], 64)
	if err != nil || loss < 0 || loss > 100 {
		return 0, ErrUnparseable
	}
	return loss, nil
}

// Result is one executed probe.
type Result struct {
	Src     string
	SrcIP   string
	Dst     string
	DstIP   string
	Output  string
	Loss    float64
	Success bool
	Err     error // recorded, never raised
}

func (r Result) Verdict() string {
	switch {
	case r.Success:
		return "ok"
	case errors.Is(r.Err, ErrUnparseable):
		return "failed (unparseable output)"
	default:
		return fmt.Sprintf("failed (%s%% loss)", strconv.FormatFloat(r.Loss, 'f', -1, 64))
	}
}

// Evaluate judges probe output. err is whatever the prober returned and is
// only kept for the record.
func Evaluate(src, srcIP, dst, dstIP, output string, err error) Result {
	r := Result{Src: src, SrcIP: srcIP, Dst: dst, DstIP: dstIP, Output: output, Err: err}
	loss, perr := ParseLoss(output)
	if perr != nil {
		r.Loss = 100
		r.Err = errors.Join(err, perr)
		return r
	}
	r.Loss = loss
	r.Success = loss == 0
	return r
}

// Prober sends a probe from a node to an address and returns its output.
type Prober interface {
	Ping(ctx context.Context, src api.NodeHandle, dstIP string) (string, error)
}

// CommandProber runs ping on the source node through the command channel.
type CommandProber struct {
	ch    api.CommandChannel
	count int
}

func NewCommandProber(ch api.CommandChannel, count int) *CommandProber {
	if count <= 0 {
		count = 1
	}
	return &CommandProber{ch: ch, count: count}
}

func (p *CommandProber) Command(dstIP string) string {
	return fmt.Sprintf("ping -c %d %s", p.count, dstIP)
}

func (p *CommandProber) Ping(ctx context.Context, src api.NodeHandle, dstIP string) (string, error) {
	return p.ch.Exec(ctx, src, p.Command(dstIP))
}
