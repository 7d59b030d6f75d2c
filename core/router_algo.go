package core

import (
	"fmt"
	"math"

	"github.com/encodeous/srmesh/graph"
	"github.com/encodeous/srmesh/perf"
	"github.com/encodeous/srmesh/protocol"
	"github.com/encodeous/srmesh/state"
)

type RouterEvent int

// trace events

const (
	NeighborAdded RouterEvent = iota
	LinkChanged
	RouteSelected
	GatewayPreferred
	GatewayRecorded
	RelayDecided
	RelayForced
	RoutingInfoSent
	RoutingInfoIngested
	CapabilityChanged
	SpeculativeArmed
	SpeculativeFired
	SpeculativeCancelled
	SendCancelled
	TopologyAged
)

// warn events

const (
	HighCostRoute RouterEvent = iota + 1000
	MalformedRoutingInfo
	SendFailed
	AirtimeExhausted
)

var routerEventNames = map[RouterEvent]string{
	NeighborAdded:        "NEIGHBOR_ADDED",
	LinkChanged:          "LINK_CHANGED",
	RouteSelected:        "ROUTE_SELECTED",
	GatewayPreferred:     "GATEWAY_PREFERRED",
	GatewayRecorded:      "GATEWAY_RECORDED",
	RelayDecided:         "RELAY_DECIDED",
	RelayForced:          "RELAY_FORCED",
	RoutingInfoSent:      "ROUTING_INFO_SENT",
	RoutingInfoIngested:  "ROUTING_INFO_INGESTED",
	CapabilityChanged:    "CAPABILITY_CHANGED",
	SpeculativeArmed:     "SPECULATIVE_ARMED",
	SpeculativeFired:     "SPECULATIVE_FIRED",
	SpeculativeCancelled: "SPECULATIVE_CANCELLED",
	SendCancelled:        "SEND_CANCELLED",
	TopologyAged:         "TOPOLOGY_AGED",
	HighCostRoute:        "HIGH_COST_ROUTE",
	MalformedRoutingInfo: "MALFORMED_ROUTING_INFO",
	SendFailed:           "SEND_FAILED",
	AirtimeExhausted:     "AIRTIME_EXHAUSTED",
}

func (e RouterEvent) String() string {
	if name, ok := routerEventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("EVENT(%d)", int(e))
}

/*
ShouldUseSignalBasedRouting reports whether p should be handled by computed routing instead of
plain flooding.

For broadcasts this holds when enough of the recently heard neighbours are capable of signal
routing, or when we are a passive node (so that ShouldRelayBroadcast can veto the relay). For
unicast it holds only when the destination is Capable and a usable next hop exists.
*/
func (c *Coordinator) ShouldUseSignalBasedRouting(p *protocol.Packet) bool {
	use := c.shouldUseSignalBasedRouting(p)
	if use {
		perf.RoutedPerSecond.Add(1)
	} else {
		perf.FloodedPerSecond.Add(1)
	}
	return use
}

func (c *Coordinator) shouldUseSignalBasedRouting(p *protocol.Packet) bool {
	if p == nil || !c.Enabled() {
		return false
	}
	me := c.cfg.Id
	if p.IsBroadcast() {
		if !c.activeRole() {
			return true
		}
		return c.topologyHealthyForBroadcast()
	}

	if p.To == me || !c.activeRole() {
		return false
	}
	heardFrom := c.ResolveHeardFrom(p)

	if !c.topologyHealthyForUnicast(p.To) {
		// let the graph's contention logic decide whether our queued flood copy is redundant
		if p.From != me {
			q := c.relayQuery(p, heardFrom)
			if !c.graph.ShouldRelayUnicastFallback(q) && c.transport.CancelSending(p.From, p.Id) {
				c.Log(SendCancelled, "unicast flood covered by peers", "from", p.From, "id", p.Id)
			}
		}
		return false
	}
	if c.CapabilityOf(p.To) != state.CapabilityCapable {
		return false
	}

	nextHop := c.NextHopFor(p.To, p.From, heardFrom, false)
	if nextHop == state.NodeNone {
		gw := c.GatewayFor(p.To)
		if gw != state.NodeNone && gw != me && c.transport.CancelSending(p.From, p.Id) {
			c.Log(SendCancelled, "destination has another designated gateway", "dest", p.To, "gateway", gw)
		}
		return false
	}

	if nextHop != p.To {
		if gw := c.GatewayFor(p.To); gw.Valid() && gw != nextHop && gw != me && c.graph.HasEdge(me, gw) {
			c.Log(GatewayPreferred, "using gateway for destination", "dest", p.To, "gateway", gw, "was", nextHop)
			nextHop = gw
		}
	}

	if !c.isSignalBasedCapable(nextHop) && !c.isLegacyRouter(nextHop) {
		return false
	}
	c.Log(RouteSelected, "routing unicast", "from", p.From, "dest", p.To, "via", nextHop)
	return true
}

// GetNextHop is the relayer a packet for dest should be handed to, or NodeNone
func (c *Coordinator) GetNextHop(dest state.NodeId) state.NodeId {
	return c.NextHopFor(dest, state.NodeNone, state.NodeNone, false)
}

/*
NextHopFor resolves the next hop towards dest, trying in order:

  - the computed route
  - a gateway known to serve dest that we reach directly
  - when opportunistic, the best direct neighbour other than source and heardFrom
  - dest itself, when we are its recorded gateway or its only link points at us
*/
func (c *Coordinator) NextHopFor(dest, source, heardFrom state.NodeId, opportunistic bool) state.NodeId {
	me := c.cfg.Id
	if !c.Enabled() || !dest.Valid() || dest == me {
		return state.NodeNone
	}
	now := c.clock.Now()

	route := c.graph.CalculateRoute(dest, now)
	if route.Valid() {
		if route.Cost > state.HighRouteCost {
			c.Log(HighCostRoute, "poor link quality expected", "dest", dest, "cost", route.Cost)
		}
		return route.NextHop
	}

	gw := c.GatewayFor(dest)
	if gw.Valid() && gw != me && c.graph.HasEdge(me, gw) {
		return gw
	}

	if opportunistic {
		best, bestEtx := state.NodeNone, math.Inf(1)
		for _, e := range c.graph.EdgesFrom(me) {
			if e.To == source || e.To == heardFrom {
				continue
			}
			if e.ETX < bestEtx {
				best, bestEtx = e.To, e.ETX
			}
		}
		if best != state.NodeNone {
			return best
		}
	}

	if gw == me {
		c.recordGatewayRelation(me, dest)
		return dest
	}
	if edges := c.graph.EdgesFrom(dest); len(edges) == 1 && edges[0].To == me {
		c.recordGatewayRelation(me, dest)
		return dest
	}
	return state.NodeNone
}

/*
ShouldRelayBroadcast decides whether this node rebroadcasts the flood packet p.

Passive nodes never relay and unhealthy topologies always flood. Otherwise the graph runs the
relay election, in its conservative form while legacy nodes are around (unless p came to us
from one of them, in which case we are responsible for carrying it on). A node recorded as the
gateway for the source always relays.
*/
func (c *Coordinator) ShouldRelayBroadcast(p *protocol.Packet) bool {
	if p == nil || !c.Enabled() || !p.IsBroadcast() {
		return true
	}
	if !c.activeRole() {
		c.relayOutcome(p, false, "passive")
		return false
	}
	if !c.topologyHealthyForBroadcast() {
		return true
	}
	if p.Port == protocol.PortSignalRouting {
		c.PreProcessSignalRoutingPacket(p)
	}

	me := c.cfg.Id
	heardFrom := c.ResolveHeardFrom(p)
	weAreGateway := c.GatewayFor(p.From) == me
	anyLegacy, fromLegacy := c.legacyNodes(heardFrom)

	q := c.relayQuery(p, heardFrom)
	relay := c.graph.ShouldRelayBroadcast(q)
	if relay && anyLegacy && !fromLegacy {
		relay = c.graph.ShouldRelayBroadcastConservative(q)
	}

	outcome := "elected"
	if !relay {
		outcome = "suppressed"
	}
	if !relay && weAreGateway {
		c.Log(RelayForced, "we are gateway for source", "source", p.From, "downstream", c.GatewayDownstreamCount(me))
		relay = true
		outcome = "gateway"
	}
	if relay {
		c.graph.RecordNodeTransmission(me, p.Id, q.Now)
	}
	c.Log(RelayDecided, "broadcast relay", "source", p.From, "heard_from", heardFrom, "relay", relay, "legacy", anyLegacy)
	c.relayOutcome(p, relay, outcome)
	return relay
}

func (c *Coordinator) relayOutcome(p *protocol.Packet, relay bool, outcome string) {
	perf.RelayDecisions.WithLabelValues(outcome).Inc()
	if relay {
		c.notify(NotifyRelayed, p.From)
	} else {
		c.notify(NotifySuppressed, p.From)
	}
}

func (c *Coordinator) relayQuery(p *protocol.Packet, heardFrom state.NodeId) graph.RelayQuery {
	return graph.RelayQuery{
		Me:        c.cfg.Id,
		Source:    p.From,
		HeardFrom: heardFrom,
		PacketId:  p.Id,
		Now:       c.clock.Now(),
		RxTime:    p.RxTime,
	}
}
