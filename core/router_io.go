package core

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/encodeous/srmesh/graph"
	"github.com/encodeous/srmesh/perf"
	"github.com/encodeous/srmesh/protocol"
	"github.com/encodeous/srmesh/state"
)

// isDirect reports whether p was heard straight from its source
func isDirect(p *protocol.Packet) bool {
	if !p.HasSignal() || p.ViaMQTT {
		return false
	}
	if p.RelayNode == 0 {
		return p.HopsAway() == 0
	}
	return p.RelayNode == p.From.RelayId()
}

func rxTimeOr(p *protocol.Packet, now time.Time) time.Time {
	if p.RxTime.IsZero() {
		return now
	}
	return p.RxTime
}

/*
HandleReceived learns from every packet the radio delivers, whether or not it is addressed to us.
Direct packets measure a link, relayed packets teach us relay identities and gateways, and some
payloads reveal the capability of their sender.
*/
func (c *Coordinator) HandleReceived(p *protocol.Packet) {
	me := c.cfg.Id
	if p == nil || p.From == me || !p.From.Valid() {
		return
	}
	perf.RecvPacketPerSecond.Add(1)
	if p.RequestId != 0 && p.To == me {
		c.CancelSpeculativeRetransmit(me, p.RequestId)
	}
	if !c.Enabled() {
		return
	}
	now := c.clock.Now()

	switch {
	case isDirect(p):
		c.rememberRelayIdentity(p.From, p.From.RelayId())
		c.trackCapability(p.From, state.CapabilityUnknown)
		c.gateways.clearDownstream(p.From)
		c.graph.RecordNodeTransmission(p.From, p.Id, now)
		c.UpdateNeighborInfo(p.From, p.RxRssi, p.RxSnr, rxTimeOr(p, now), 0)
	case !p.ViaMQTT && p.RelayNode != 0:
		c.handleRelayed(p, now)
	}

	c.handleSniffedPayload(p)

	if now.Sub(c.lastAging) >= state.MaintenanceInterval {
		c.ageGraph(now)
	}
}

func (c *Coordinator) handleRelayed(p *protocol.Packet, now time.Time) {
	me := c.cfg.Id
	relayer := c.ResolveHeardFrom(p)
	if !relayer.Valid() || relayer == p.From || relayer == me {
		return
	}
	c.trackCapability(p.From, state.CapabilityUnknown)
	c.trackCapability(relayer, state.CapabilityUnknown)
	if !c.graph.HasEdge(me, p.From) {
		c.recordGatewayRelation(relayer, p.From)
	}

	rssi, snr := p.RxRssi, p.RxSnr
	if !p.HasSignal() {
		rssi, snr = state.DefaultRelayRSSI, state.DefaultRelaySNR
		edges := c.graph.EdgesFrom(relayer)
		if i := slices.IndexFunc(edges, func(e state.Edge) bool { return e.To == me }); i != -1 {
			r, s := graph.ETXToSignal(edges[i].ETX)
			rssi, snr = r, float32(s)
		}
	} else {
		c.rememberRelayIdentity(relayer, p.RelayNode)
	}
	c.UpdateNeighborInfo(relayer, rssi, snr, rxTimeOr(p, now), 0)
	c.graph.RecordNodeTransmission(p.From, p.Id, now)
	c.graph.RecordNodeTransmission(relayer, p.Id, now)
}

func (c *Coordinator) handleSniffedPayload(p *protocol.Packet) {
	switch p.Port {
	case protocol.PortNodeInfo, protocol.PortPosition:
		if p.HasRole {
			if status := state.CapabilityFromRole(p.Role); status != state.CapabilityUnknown {
				c.trackCapability(p.From, status)
			}
		}
	case protocol.PortTelemetry:
		if c.CapabilityOf(p.From) == state.CapabilityUnknown {
			c.trackCapability(p.From, state.CapabilityLegacy)
		} else {
			c.trackCapability(p.From, state.CapabilityUnknown)
		}
	case protocol.PortRouting:
		c.trackCapability(p.From, state.CapabilityCapable)
	case protocol.PortSignalRouting:
		c.PreProcessSignalRoutingPacket(p)
	}
}

// PreProcessSignalRoutingPacket ingests the routing info carried by p, reporting whether it decoded
func (c *Coordinator) PreProcessSignalRoutingPacket(p *protocol.Packet) bool {
	if p == nil || p.Port != protocol.PortSignalRouting || !c.Enabled() {
		return false
	}
	info, err := protocol.UnmarshalRoutingInfo(p.Payload)
	if err != nil {
		c.Log(MalformedRoutingInfo, "dropping routing info", "from", p.From, "error", err)
		return false
	}
	c.ProcessReceivedNeighbors(p.From, info)
	return true
}

func linkQuality(etx float64) string {
	switch {
	case etx < 2:
		return "excellent"
	case etx < 4:
		return "good"
	case etx < 8:
		return "fair"
	}
	return "poor"
}

/*
ProcessReceivedNeighbors replaces the guessed outbound links of from with the neighbour table it
advertised. Each entry yields a Reported edge towards from (from measured it) and a Mirrored edge
from from. Links from is Reported on were measured by us and are left alone.
*/
func (c *Coordinator) ProcessReceivedNeighbors(from state.NodeId, info *protocol.SignalRoutingInfo) {
	me := c.cfg.Id
	if info == nil || !from.Valid() || from == me {
		return
	}
	rxTime := c.clock.Now()
	sender := state.CapabilityLegacy
	if info.SignalBasedCapable {
		sender = state.CapabilityCapable
	}
	c.trackCapability(from, sender)

	if len(info.Neighbors) == 0 {
		if info.SignalBasedCapable {
			c.gateways.clearGateway(from)
		}
		return
	}

	c.graph.ClearMirroredEdges(from)
	for _, nb := range info.Neighbors {
		if !nb.NodeId.Valid() || nb.NodeId == from {
			continue
		}
		status := state.CapabilityLegacy
		if nb.SignalBasedCapable {
			status = state.CapabilityCapable
		}
		c.trackCapability(nb.NodeId, status)

		etx := graph.CalculateETX(nb.Rssi, float32(nb.Snr))
		variance := nb.PositionVariance * 12
		change := c.graph.UpdateEdge(nb.NodeId, from, etx, rxTime, variance, state.Reported)
		c.graph.UpdateEdge(from, nb.NodeId, etx, rxTime, variance, state.Mirrored)
		perf.EdgeChanges.WithLabelValues(change.String()).Inc()

		if info.SignalBasedCapable {
			if gw := c.GatewayFor(nb.NodeId); gw != state.NodeNone && gw != from {
				c.gateways.clearDownstream(nb.NodeId)
			}
		}
		c.Log(RoutingInfoIngested, "neighbor", "from", from, "neighbor", nb.NodeId, "etx", etx, "quality", linkQuality(etx))
	}
	c.notify(NotifyRoutingInfo, from)
}

/*
UpdateNeighborInfo records a link measurement to the direct neighbour id. A new or significantly
changed link triggers an early routing info broadcast, at most once per NodeInfoMinInterval.
*/
func (c *Coordinator) UpdateNeighborInfo(id state.NodeId, rssi int32, snr float32, lastRx time.Time, variance uint32) state.EdgeChange {
	me := c.cfg.Id
	if !c.Enabled() || !id.Valid() || id == me {
		return state.NoChange
	}
	etx := graph.CalculateETX(rssi, snr)
	change := c.graph.UpdateEdge(id, me, etx, lastRx, variance, state.Reported)
	c.graph.UpdateEdge(me, id, etx, lastRx, variance, state.Mirrored)
	perf.EdgeChanges.WithLabelValues(change.String()).Inc()

	switch change {
	case state.NoChange:
		return change
	case state.New:
		c.Log(NeighborAdded, "new neighbor", "node", id, "etx", etx)
		c.notify(NotifyNeighborAdded, id)
	case state.SignificantChange:
		c.Log(LinkChanged, "link quality changed", "node", id, "etx", etx)
	}
	c.notify(NotifyTopologyChanged, id)
	c.logTopology(c.clock.Now(), false)

	now := c.clock.Now()
	if c.activeRole() && now.Sub(c.lastBroadcast) > state.NodeInfoMinInterval && c.airtime.AllowTransmit() {
		if err := c.SendSignalRoutingInfo(state.NodeBroadcast); err != nil {
			c.Log(SendFailed, "early routing info", "error", err)
		}
	}
	return change
}

func clampInt8(v int32) int32 {
	return max(math.MinInt8, min(math.MaxInt8, v))
}

// PopulateNeighbors fills info with our best outbound links, Reported ones first, each group ordered by ETX
func (c *Coordinator) PopulateNeighbors(info *protocol.SignalRoutingInfo) {
	edges := c.graph.EdgesFrom(c.cfg.Id)
	slices.SortStableFunc(edges, func(a, b state.Edge) int {
		if a.Source != b.Source {
			if a.Source == state.Reported {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.ETX, b.ETX)
	})

	info.Neighbors = info.Neighbors[:0]
	for _, e := range edges {
		if len(info.Neighbors) == protocol.MaxNeighbors {
			break
		}
		rssi, snr := graph.ETXToSignal(e.ETX)
		nb := protocol.SignalNeighbor{
			NodeId:             e.To,
			Rssi:               clampInt8(rssi),
			Snr:                clampInt8(snr),
			SignalBasedCapable: c.isSignalBasedCapable(e.To),
			PositionVariance:   min(e.Variance/12, math.MaxUint8),
		}
		if !e.LastUpdate.IsZero() {
			nb.LastRxTime = uint32(e.LastUpdate.Unix())
		}
		info.Neighbors = append(info.Neighbors, nb)
	}
}

func (c *Coordinator) BuildSignalRoutingInfo() *protocol.SignalRoutingInfo {
	info := &protocol.SignalRoutingInfo{
		NodeId:             c.cfg.Id,
		SignalBasedCapable: c.isSignalBasedCapable(c.cfg.Id),
		RoutingVersion:     state.RoutingVersion,
	}
	c.PopulateNeighbors(info)
	return info
}

// SendSignalRoutingInfo advertises our neighbour table to dest, usually the broadcast address
func (c *Coordinator) SendSignalRoutingInfo(dest state.NodeId) error {
	if !c.Enabled() || !c.activeRole() {
		return nil
	}
	info := c.BuildSignalRoutingInfo()
	payload, err := info.Marshal()
	if err != nil {
		return err
	}
	me := c.cfg.Id
	p := &protocol.Packet{
		From:      me,
		To:        dest,
		Id:        c.nextPacketId(),
		HopLimit:  state.DefaultHopLimit,
		HopStart:  state.DefaultHopLimit,
		RelayNode: me.RelayId(),
		Port:      protocol.PortSignalRouting,
		Payload:   payload,
	}
	if err := c.transport.Send(p); err != nil {
		return err
	}
	now := c.clock.Now()
	c.lastBroadcast = now
	c.graph.RecordNodeTransmission(me, p.Id, now)
	perf.SentPacketPerSecond.Add(1)
	c.Log(RoutingInfoSent, "advertised neighbors", "dest", dest, "neighbors", len(info.Neighbors))
	return nil
}
