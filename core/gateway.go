package core

import (
	"slices"
	"time"

	"github.com/encodeous/srmesh/state"
)

type gatewayRelation struct {
	gateway  state.NodeId
	lastSeen time.Time
}

/*
gatewayTable tracks nodes we only hear through a relay. When a packet from X reaches us relayed
by G and we have no link to X, G is recorded as X's gateway. Both directions are kept so that a
gateway can be asked how many nodes sit behind it.
*/
type gatewayTable struct {
	gatewayOf  map[state.NodeId]gatewayRelation
	downstream map[state.NodeId]map[state.NodeId]struct{}
}

func newGatewayTable() gatewayTable {
	return gatewayTable{
		gatewayOf:  make(map[state.NodeId]gatewayRelation),
		downstream: make(map[state.NodeId]map[state.NodeId]struct{}),
	}
}

func (t gatewayTable) record(gateway, downstream state.NodeId, now time.Time) bool {
	if !gateway.Valid() || !downstream.Valid() || gateway == downstream {
		return false
	}
	old, existed := t.gatewayOf[downstream]
	if existed && old.gateway != gateway {
		t.unlink(old.gateway, downstream)
	}
	t.gatewayOf[downstream] = gatewayRelation{gateway: gateway, lastSeen: now}
	set, ok := t.downstream[gateway]
	if !ok {
		set = make(map[state.NodeId]struct{})
		t.downstream[gateway] = set
	}
	set[downstream] = struct{}{}
	return !existed || old.gateway != gateway
}

func (t gatewayTable) unlink(gateway, downstream state.NodeId) {
	set, ok := t.downstream[gateway]
	if !ok {
		return
	}
	delete(set, downstream)
	if len(set) == 0 {
		delete(t.downstream, gateway)
	}
}

// clearDownstream forgets every gateway of downstream, it has become directly reachable
func (t gatewayTable) clearDownstream(downstream state.NodeId) {
	delete(t.gatewayOf, downstream)
	for gw := range t.downstream {
		t.unlink(gw, downstream)
	}
}

// clearGateway forgets every relation in which node is the gateway
func (t gatewayTable) clearGateway(node state.NodeId) {
	delete(t.downstream, node)
	for down, rel := range t.gatewayOf {
		if rel.gateway == node {
			delete(t.gatewayOf, down)
		}
	}
}

func (t gatewayTable) gatewayFor(downstream state.NodeId, now time.Time, ttl time.Duration) state.NodeId {
	rel, ok := t.gatewayOf[downstream]
	if !ok || now.Sub(rel.lastSeen) > ttl {
		return state.NodeNone
	}
	return rel.gateway
}

func (t gatewayTable) downstreamOf(gateway state.NodeId) []state.NodeId {
	out := make([]state.NodeId, 0, len(t.downstream[gateway]))
	for d := range t.downstream[gateway] {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

func (t gatewayTable) prune(now time.Time, ttl time.Duration) int {
	pruned := 0
	for down, rel := range t.gatewayOf {
		if now.Sub(rel.lastSeen) > ttl {
			delete(t.gatewayOf, down)
			t.unlink(rel.gateway, down)
			pruned++
		}
	}
	return pruned
}

func (c *Coordinator) recordGatewayRelation(gateway, downstream state.NodeId) {
	if c.gateways.record(gateway, downstream, c.clock.Now()) {
		c.Log(GatewayRecorded, "gateway relation", "gateway", gateway, "downstream", downstream)
	}
}

// GatewayFor is the node we last heard relaying for downstream, NodeNone if unknown or stale
func (c *Coordinator) GatewayFor(downstream state.NodeId) state.NodeId {
	return c.gateways.gatewayFor(downstream, c.clock.Now(), state.GatewayTTL)
}

func (c *Coordinator) GatewayDownstreamCount(gateway state.NodeId) int {
	return len(c.gateways.downstream[gateway])
}
