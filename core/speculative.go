package core

import (
	"cmp"
	"slices"
	"time"

	"github.com/encodeous/srmesh/perf"
	"github.com/encodeous/srmesh/protocol"
	"github.com/encodeous/srmesh/state"
)

type speculativeKey struct {
	origin   state.NodeId
	packetId uint32
}

// SpeculativeRetransmitEntry holds a copy of a routed unicast packet until it is acknowledged or retried
type SpeculativeRetransmitEntry struct {
	Origin   state.NodeId
	PacketId uint32
	Expiry   time.Time
	Packet   *protocol.Packet
}

// speculativeWindow spreads the listen window over SpeculativeWindow ± SpeculativeJitter, keyed by the
// sub-second part of now so that nodes sending in lockstep do not retry in lockstep
func speculativeWindow(now time.Time) time.Duration {
	span := 2 * state.SpeculativeJitter
	if span <= 0 {
		return state.SpeculativeWindow
	}
	offset := time.Duration(now.Nanosecond()) % (span + 1)
	return state.SpeculativeWindow - state.SpeculativeJitter + offset
}

/*
HandleOutgoing is called for every packet this node originates. A unicast packet that will be
routed by signal gets a speculative retransmission armed: if no acknowledgement arrives within the
listen window it is sent once more.
*/
func (c *Coordinator) HandleOutgoing(p *protocol.Packet) {
	if p == nil || c.cfg.Routing.NoSpeculativeRetransmit || !c.Enabled() || !c.activeRole() {
		return
	}
	me := c.cfg.Id
	if p.IsBroadcast() || p.From != me || p.Id == 0 {
		return
	}
	perf.SentPacketPerSecond.Add(1)
	if !c.ShouldUseSignalBasedRouting(p) {
		return
	}
	key := speculativeKey{origin: p.From, packetId: p.Id}
	if _, ok := c.speculative[key]; ok {
		return
	}
	if len(c.speculative) >= state.MaxSpeculativeRetransmits {
		perf.SpeculativeRetransmits.WithLabelValues("full").Inc()
		return
	}
	now := c.clock.Now()
	entry := &SpeculativeRetransmitEntry{
		Origin:   p.From,
		PacketId: p.Id,
		Expiry:   now.Add(speculativeWindow(now)),
		Packet:   p.Clone(),
	}
	c.speculative[key] = entry
	perf.SpeculativeRetransmits.WithLabelValues("armed").Inc()
	c.Log(SpeculativeArmed, "listening for ack", "dest", p.To, "id", p.Id, "expiry", entry.Expiry.Sub(now))
}

// CancelSpeculativeRetransmit drops the pending retransmission of (origin, packetId), reporting whether one existed
func (c *Coordinator) CancelSpeculativeRetransmit(origin state.NodeId, packetId uint32) bool {
	key := speculativeKey{origin: origin, packetId: packetId}
	if _, ok := c.speculative[key]; !ok {
		return false
	}
	delete(c.speculative, key)
	perf.SpeculativeRetransmits.WithLabelValues("cancelled").Inc()
	c.Log(SpeculativeCancelled, "ack observed", "origin", origin, "id", packetId)
	return true
}

// PendingRetransmits is the number of armed speculative retransmissions
func (c *Coordinator) PendingRetransmits() int {
	return len(c.speculative)
}

// processSpeculativeRetransmits sends every expired entry once, in expiry order, and forgets it
func (c *Coordinator) processSpeculativeRetransmits(now time.Time) {
	due := make([]*SpeculativeRetransmitEntry, 0)
	for key, e := range c.speculative {
		if !now.Before(e.Expiry) {
			due = append(due, e)
			delete(c.speculative, key)
		}
	}
	slices.SortFunc(due, func(a, b *SpeculativeRetransmitEntry) int {
		if d := a.Expiry.Compare(b.Expiry); d != 0 {
			return d
		}
		return cmp.Compare(a.PacketId, b.PacketId)
	})
	for _, e := range due {
		if !c.airtime.AllowTransmit() {
			perf.SpeculativeRetransmits.WithLabelValues("airtime").Inc()
			c.Log(AirtimeExhausted, "dropping speculative retransmit", "id", e.PacketId)
			continue
		}
		if err := c.transport.Send(e.Packet); err != nil {
			c.Log(SendFailed, "speculative retransmit", "id", e.PacketId, "error", err)
			continue
		}
		perf.SpeculativeRetransmits.WithLabelValues("fired").Inc()
		c.Log(SpeculativeFired, "no ack within window", "dest", e.Packet.To, "id", e.PacketId)
		c.notify(NotifyRetransmit, e.Packet.To)
	}
}
