package core

import (
	"testing"
	"time"

	"github.com/encodeous/srmesh/protocol"
	"github.com/encodeous/srmesh/state"
	"github.com/stretchr/testify/assert"
)

func unicast(from, to state.NodeId, id uint32) *protocol.Packet {
	return &protocol.Packet{From: from, To: to, Id: id, HopLimit: 3, HopStart: 3, Port: protocol.PortText, WantAck: true}
}

func TestSpeculativeWindowBounds(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, ns := range []int{0, 1, 100_000_000, 200_000_000, 200_000_001, 999_999_999} {
		w := speculativeWindow(base.Add(time.Duration(ns)))
		assert.GreaterOrEqual(t, w, state.SpeculativeWindow-state.SpeculativeJitter)
		assert.LessOrEqual(t, w, state.SpeculativeWindow+state.SpeculativeJitter)
	}
}

func TestSpeculativeRetransmitFiresOnce(t *testing.T) {
	h, c := lineTopology(t)
	c.HandleOutgoing(unicast(A, C, 42))
	assert.Equal(t, 1, c.PendingRetransmits())
	h.GetActions()

	h.Clock.Add(300 * time.Millisecond)
	c.Tick()
	h.GetActions().AssertNotContains(t, "SEND", C)

	h.Clock.Add(400 * time.Millisecond)
	c.Tick()
	assert.Equal(t, 1, h.GetActions().count("SEND", C, protocol.PortText, uint32(42)))
	assert.Zero(t, c.PendingRetransmits())

	h.Clock.Add(time.Second)
	c.Tick()
	h.GetActions().AssertNotContains(t, "SEND", C)
}

func TestSpeculativeRetransmitCancelledByAck(t *testing.T) {
	h, c := lineTopology(t)
	c.HandleOutgoing(unicast(A, C, 43))
	assert.Equal(t, 1, c.PendingRetransmits())

	c.HandleReceived(&protocol.Packet{From: C, To: A, Id: 99, RequestId: 43, Port: protocol.PortRouting})
	assert.Zero(t, c.PendingRetransmits())
	assert.False(t, c.CancelSpeculativeRetransmit(A, 43))

	h.Clock.Add(time.Second)
	c.Tick()
	h.GetActions().AssertNotContains(t, "SEND", C)
}

func TestSpeculativeRetransmitEligibility(t *testing.T) {
	_, c := lineTopology(t)

	c.HandleOutgoing(&protocol.Packet{From: A, To: state.NodeBroadcast, Id: 1})
	c.HandleOutgoing(unicast(B, C, 2))
	c.HandleOutgoing(unicast(A, C, 0))
	c.HandleOutgoing(nil)
	assert.Zero(t, c.PendingRetransmits())

	c.trackCapability(C, state.CapabilityLegacy)
	c.HandleOutgoing(unicast(A, C, 3))
	assert.Zero(t, c.PendingRetransmits())

	_, c = lineTopology(t)
	c.cfg.Routing.NoSpeculativeRetransmit = true
	c.HandleOutgoing(unicast(A, C, 4))
	assert.Zero(t, c.PendingRetransmits())

	_, c = lineTopology(t)
	c.HandleOutgoing(unicast(A, C, 5))
	c.HandleOutgoing(unicast(A, C, 5))
	assert.Equal(t, 1, c.PendingRetransmits())
	for id := uint32(100); id < 100+uint32(state.MaxSpeculativeRetransmits)+4; id++ {
		c.HandleOutgoing(unicast(A, C, id))
	}
	assert.Equal(t, state.MaxSpeculativeRetransmits, c.PendingRetransmits())
}

func TestSpeculativeRetransmitRespectsAirtime(t *testing.T) {
	h, c := lineTopology(t)
	c.HandleOutgoing(unicast(A, C, 44))
	h.NoAirtime = true
	h.Clock.Add(time.Second)
	c.Tick()
	h.GetActions().AssertNotContains(t, "SEND")
	assert.Zero(t, c.PendingRetransmits())
}
