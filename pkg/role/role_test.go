package role

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Netexp/pkg/fakenet"
	"Netexp/pkg/topo"
)

func twoRouters(t *testing.T) *topo.Topology {
	t.Helper()
	tp := topo.New()
	h1, _ := tp.AddHost("h1")
	r1, _ := tp.AddRouter("r1")
	r2, _ := tp.AddRouter("r2")
	s1, _ := tp.AddSwitch("s1")
	_, _, err := tp.AddLink(h1, r1)
	require.NoError(t, err)
	_, _, err = tp.AddLink(r1, r2)
	require.NoError(t, err)
	_, _, err = tp.AddLink(r2, s1)
	require.NoError(t, err)
	tp.Seal()
	return tp
}

func TestEnableDisable(t *testing.T) {
	tp := twoRouters(t)
	fn, err := fakenet.Build(tp)
	require.NoError(t, err)
	c := NewConfigurator(tp, fn, fn, nil)
	ctx := context.Background()

	done, err := c.Enable(ctx)
	require.NoError(t, err)
	assert.Len(t, done, 2)
	assert.True(t, fn.Forwarding("r1"))
	assert.True(t, fn.Forwarding("r2"))
	assert.True(t, c.Forwarding("r1"))
	assert.Empty(t, fn.Commands("h1"))
	assert.Empty(t, fn.Commands("s1"))

	_, err = c.Disable(ctx)
	require.NoError(t, err)
	assert.False(t, fn.Forwarding("r1"))
	assert.False(t, fn.Forwarding("r2"))
	assert.False(t, c.Forwarding("r2"))
}

func TestEnableFailureStillDisables(t *testing.T) {
	tp := twoRouters(t)
	boom := errors.New("channel closed")
	fn, err := fakenet.Build(tp, fakenet.WithFault(func(node, cmd string) (string, error, bool) {
		if node == "r1" && strings.HasSuffix(cmd, "=1") {
			return "", boom, true
		}
		return "", nil, false
	}))
	require.NoError(t, err)
	c := NewConfigurator(tp, fn, fn, nil)
	ctx := context.Background()

	_, err = c.Enable(ctx)
	var rerr *RoleConfigError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "r1", rerr.Node)
	assert.Equal(t, "enable", rerr.Op)
	assert.ErrorIs(t, err, boom)
	assert.True(t, fn.Forwarding("r2"), "r2 is still configured after r1 fails")

	_, err = c.Disable(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"sysctl -w net.ipv4.ip_forward=1",
		"sysctl -w net.ipv4.ip_forward=0",
	}, fn.Commands("r1"))
}

func TestDisableBestEffort(t *testing.T) {
	tp := twoRouters(t)
	fn, err := fakenet.Build(tp, fakenet.WithFault(func(node, cmd string) (string, error, bool) {
		if node == "r1" && strings.HasSuffix(cmd, "=0") {
			return "sysctl: permission denied\n", &fakenet.ExitError{Code: 255}, true
		}
		return "", nil, false
	}))
	require.NoError(t, err)
	c := NewConfigurator(tp, fn, fn, nil)
	ctx := context.Background()

	_, err = c.Enable(ctx)
	require.NoError(t, err)
	_, err = c.Disable(ctx)
	var rerr *RoleConfigError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "disable", rerr.Op)
	assert.False(t, fn.Forwarding("r2"), "r2 is disabled even though r1 failed")
}
