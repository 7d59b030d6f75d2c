package core

import (
	"math"
	"slices"
	"time"

	"github.com/encodeous/srmesh/perf"
	"github.com/encodeous/srmesh/state"
)

/*
Tick runs the periodic work of the coordinator. It is called every TickInterval from the dispatch
loop and does nothing that is not due, so calling it more often is harmless.
*/
func (c *Coordinator) Tick() {
	now := c.clock.Now()
	c.pruneCapabilities(now)
	c.pruneRelayIdentities(now)
	if n := c.gateways.prune(now, state.GatewayTTL); n > 0 {
		c.log.Debug("pruned gateway relations", "count", n)
	}
	c.processSpeculativeRetransmits(now)

	if now.Sub(c.lastAging) >= state.MaintenanceInterval {
		c.ageGraph(now)
	}

	if c.Enabled() && c.activeRole() && now.Sub(c.lastBroadcast) >= c.cfg.Routing.BroadcastInterval {
		if !c.airtime.AllowTransmit() {
			c.Log(AirtimeExhausted, "deferring routing info broadcast")
		} else if err := c.SendSignalRoutingInfo(state.NodeBroadcast); err != nil {
			c.Log(SendFailed, "periodic routing info", "error", err)
		}
	}
	c.logTopology(now, false)
}

func (c *Coordinator) ageGraph(now time.Time) {
	before := c.graph.NodeCount()
	c.graph.AgeEdges(now)
	c.lastAging = now
	after := c.graph.NodeCount()
	perf.GraphNodes.WithLabelValues(c.cfg.Id.String()).Set(float64(after))
	c.Log(TopologyAged, "aged edges", "nodes_before", before, "nodes_after", after)
}

func (c *Coordinator) logTopology(now time.Time, force bool) {
	if !force && now.Sub(c.lastTopologyLog) < state.TopologyLogInterval {
		return
	}
	c.lastTopologyLog = now
	if !c.Enabled() {
		return
	}
	frac, heard := c.CapableFraction()
	me := c.cfg.Id
	c.log.Info("topology",
		"nodes", c.graph.NodeCount(),
		"neighbors", len(c.graph.DirectNeighbors(me)),
		"heard", heard,
		"capable", frac,
		"healthy", c.topologyHealthyForBroadcast())
	for _, e := range c.graph.EdgesFrom(me) {
		c.log.Debug("link", "to", e.To, "etx", e.ETX, "source", e.Source, "capability", c.CapabilityOf(e.To))
	}
}

// Snapshot is a point in time view of what a coordinator knows
type Snapshot struct {
	Node    string         `yaml:"node"`
	Mode    string         `yaml:"mode"`
	Healthy bool           `yaml:"healthy"`
	Nodes   []SnapshotNode `yaml:"nodes"`
	Pending int            `yaml:"pending_retransmits,omitempty"`
}

type SnapshotNode struct {
	Id         string         `yaml:"id"`
	Capability string         `yaml:"capability"`
	NextHop    string         `yaml:"next_hop,omitempty"`
	Cost       float64        `yaml:"cost,omitempty"`
	Gateway    string         `yaml:"gateway,omitempty"`
	Downstream []string       `yaml:"downstream,omitempty"`
	Edges      []SnapshotEdge `yaml:"edges,omitempty"`
}

type SnapshotEdge struct {
	To     string  `yaml:"to"`
	ETX    float64 `yaml:"etx"`
	Source string  `yaml:"source"`
}

// Snapshot must be taken on the dispatch loop like every other coordinator call
func (c *Coordinator) Snapshot() Snapshot {
	me := c.cfg.Id
	now := c.clock.Now()
	snap := Snapshot{
		Node:    me.String(),
		Mode:    string(c.cfg.Routing.Mode),
		Healthy: c.topologyHealthyForBroadcast(),
		Pending: len(c.speculative),
	}
	nodes := c.graph.AllNodes()
	slices.Sort(nodes)
	for _, id := range nodes {
		n := SnapshotNode{
			Id:         id.String(),
			Capability: c.CapabilityOf(id).String(),
		}
		if id != me {
			if r := c.graph.CalculateRoute(id, now); r.Valid() {
				n.NextHop = r.NextHop.String()
				n.Cost = math.Round(r.Cost*100) / 100
			}
		}
		if gw := c.GatewayFor(id); gw != state.NodeNone {
			n.Gateway = gw.String()
		}
		for _, d := range c.gateways.downstreamOf(id) {
			n.Downstream = append(n.Downstream, d.String())
		}
		for _, e := range c.graph.EdgesFrom(id) {
			n.Edges = append(n.Edges, SnapshotEdge{
				To:     e.To.String(),
				ETX:    math.Round(e.ETX*100) / 100,
				Source: e.Source.String(),
			})
		}
		snap.Nodes = append(snap.Nodes, n)
	}
	return snap
}
