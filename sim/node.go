package sim

import (
	"slices"
	"time"

	"github.com/encodeous/srmesh/core"
	"github.com/encodeous/srmesh/protocol"
	"github.com/encodeous/srmesh/state"
)

/*
VirtualNode is the radio, node database and duty cycle limiter of one simulated node.

Everything below is only touched from the node's own dispatch loop.
*/
type VirtualNode struct {
	Id state.NodeId
	// AirtimeBudget caps transmissions per step, 0 is unlimited
	AirtimeBudget int

	h       *VirtualHarness
	node    *core.Node
	heard   map[state.NodeId]time.Time
	roles   map[state.NodeId]state.Role
	seen    map[PacketKey]time.Time
	pending []*protocol.Packet
	seq     uint32
	used    int
}

func (n *VirtualNode) Send(p *protocol.Packet) error {
	if p.From == n.Id {
		n.seen[PacketKey{p.From, p.Id}] = n.h.Clock.Now()
	}
	n.transmit(p)
	return nil
}

func (n *VirtualNode) CancelSending(from state.NodeId, id uint32) bool {
	before := len(n.pending)
	n.pending = slices.DeleteFunc(n.pending, func(p *protocol.Packet) bool {
		return p.From == from && p.Id == id
	})
	return len(n.pending) != before
}

func (n *VirtualNode) LastHeard(id state.NodeId) (time.Time, bool) {
	t, ok := n.heard[id]
	return t, ok
}

func (n *VirtualNode) Role(id state.NodeId) (state.Role, bool) {
	r, ok := n.roles[id]
	return r, ok
}

func (n *VirtualNode) AllowTransmit() bool {
	return n.AirtimeBudget == 0 || n.used < n.AirtimeBudget
}

func (n *VirtualNode) transmit(p *protocol.Packet) {
	n.used++
	n.h.transmit(n, p)
}

func (n *VirtualNode) nextId() uint32 {
	n.seq++
	return n.seq
}

// originate sends a packet of our own, routed when the coordinator allows it
func (n *VirtualNode) originate(p *protocol.Packet) PacketKey {
	c := n.node.Coordinator()
	p.From = n.Id
	p.Id = n.nextId()
	p.HopLimit = n.h.HopLimit
	p.HopStart = n.h.HopLimit
	if !p.IsBroadcast() && c.ShouldUseSignalBasedRouting(p) {
		p.NextHop = c.GetNextHop(p.To).RelayId()
	}
	c.HandleOutgoing(p)
	key := PacketKey{p.From, p.Id}
	n.seen[key] = n.h.Clock.Now()
	n.transmit(p)
	return key
}

// queue holds a copy of p for relaying on our next step
func (n *VirtualNode) queue(p *protocol.Packet) *protocol.Packet {
	fwd := p.Clone()
	fwd.HopLimit--
	fwd.RxRssi = 0
	fwd.RxSnr = 0
	fwd.RxTime = time.Time{}
	n.pending = append(n.pending, fwd)
	return fwd
}

func (n *VirtualNode) flush() {
	pending := n.pending
	n.pending = nil
	for _, p := range pending {
		n.transmit(p)
	}
}

func (n *VirtualNode) receive(c *core.Coordinator, p *protocol.Packet) {
	now := n.h.Clock.Now()
	n.heard[p.From] = now
	if p.HasRole {
		n.roles[p.From] = p.Role
	}
	c.HandleReceived(p)

	key := PacketKey{p.From, p.Id}
	if _, dup := n.seen[key]; dup || p.From == n.Id {
		return
	}
	n.seen[key] = now

	switch {
	case p.To == n.Id:
		n.h.delivered(key, n.Id)
		if p.WantAck {
			n.originate(&protocol.Packet{To: p.From, Port: protocol.PortRouting, RequestId: p.Id})
		}
	case p.IsBroadcast():
		n.h.delivered(key, n.Id)
		if p.HopLimit > 0 && c.ShouldRelayBroadcast(p) {
			n.queue(p)
		}
	default:
		if p.HopLimit == 0 || (p.NextHop != 0 && p.NextHop != n.Id.RelayId()) {
			return
		}
		// queued first, the routing decision may cancel it
		fwd := n.queue(p)
		fwd.NextHop = 0
		if c.ShouldUseSignalBasedRouting(p) {
			fwd.NextHop = c.GetNextHop(p.To).RelayId()
		}
	}
}
