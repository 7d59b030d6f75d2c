package core

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-broadcast"
	"github.com/encodeous/srmesh/protocol"
	"github.com/encodeous/srmesh/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func runNode(t *testing.T, opts Options) (*Node, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	opts.Context = ctx
	opts.LogOutput = io.Discard
	n, err := NewNode(state.NodeCfg{Id: A}, opts)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		done <- n.Run()
	}()
	return n, func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func TestNodeLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)
	n, stop := runNode(t, Options{ManualTick: true, Deps: Deps{Clock: clock.NewMock()}})

	res, err := n.DispatchWait(func(s *state.State) (any, error) {
		c := Get[*Router](s).Coordinator
		c.UpdateNeighborInfo(B, -60, 10, s.Now(), 0)
		return c.Graph().HasEdge(B, A), nil
	})
	require.NoError(t, err)
	assert.Equal(t, true, res)
	stop()
	assert.True(t, n.Stopping.Load())
}

func TestNodeTicksOnItsOwn(t *testing.T) {
	defer goleak.VerifyNone(t)
	transport := &countingTransport{sent: make(chan struct{}, 8)}
	_, stop := runNode(t, Options{Deps: Deps{Clock: clock.NewMock(), Transport: transport}})

	// the first tick sends the periodic routing info broadcast
	select {
	case <-transport.sent:
	case <-time.After(5 * time.Second):
		t.Fatal("no routing info sent by the first tick")
	}
	stop()
}

func TestNewNodeRejectsInvalidConfig(t *testing.T) {
	_, err := NewNode(state.NodeCfg{Id: state.NodeBroadcast}, Options{LogOutput: io.Discard})
	assert.Error(t, err)
	_, err = NewNode(state.NodeCfg{Id: A, Routing: state.RoutingCfg{Mode: "mesh"}}, Options{LogOutput: io.Discard})
	assert.Error(t, err)
}

func TestNotifications(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := broadcast.NewBroadcaster(8)
	defer b.Close()
	ch := make(chan any, 8)
	b.Register(ch)
	defer b.Unregister(ch)

	h := NewRouterHarness()
	cfg := state.NodeCfg{Id: A, Role: state.RoleClient}
	state.ExpandNodeConfig(&cfg)
	c := NewCoordinator(cfg, Deps{Clock: h.Clock, Nodes: h, Transport: h, Airtime: h, Events: b, Log: slog.New(slog.DiscardHandler)})

	c.UpdateNeighborInfo(B, -60, 10, h.Clock.Now(), 0)
	got := make([]Notification, 0)
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev.(Notification))
		case <-timeout:
			t.Fatal("missing notifications, got ", got)
		}
	}
	assert.Equal(t, []Notification{
		{Kind: NotifyNeighborAdded, Node: B},
		{Kind: NotifyTopologyChanged, Node: B},
	}, got)
}

type countingTransport struct {
	discardTransport
	sent chan struct{}
}

func (c *countingTransport) Send(*protocol.Packet) error {
	select {
	case c.sent <- struct{}{}:
	default:
	}
	return nil
}
