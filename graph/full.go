package graph

import (
	"math"
	"slices"
	"time"

	"github.com/encodeous/srmesh/state"
	lru "github.com/hashicorp/golang-lru/v2"
)

type txRecord struct {
	packetId uint32
	at       time.Time
}

// Full is the unbounded topology graph used on nodes with enough memory
type Full struct {
	local    state.NodeId
	maxNodes int
	adj      map[state.NodeId][]state.Edge
	routes   map[state.NodeId]state.Route
	// last transmission heard from each node, for contention tracking
	tx *lru.Cache[state.NodeId, txRecord]
}

func NewFull(local state.NodeId, maxNodes int) *Full {
	if maxNodes < 2 {
		maxNodes = state.DefaultFullMaxNodes
	}
	tx, err := lru.New[state.NodeId, txRecord](maxNodes)
	if err != nil {
		panic(err)
	}
	return &Full{
		local:    local,
		maxNodes: maxNodes,
		adj:      make(map[state.NodeId][]state.Edge),
		routes:   make(map[state.NodeId]state.Route),
		tx:       tx,
	}
}

func (g *Full) Local() state.NodeId {
	return g.local
}

func (g *Full) NodeCount() int {
	return len(g.adj)
}

// UpdateEdge inserts or refreshes from -> to and classifies the change
func (g *Full) UpdateEdge(from, to state.NodeId, etx float64, now time.Time, variance uint32, source state.EdgeSource) state.EdgeChange {
	if !from.Valid() || !to.Valid() || from == to {
		return state.NoChange
	}
	if _, known := g.adj[from]; !known && len(g.adj) >= g.maxNodes {
		if !g.evictFor(etx) {
			return state.NoChange
		}
	}

	edges := g.adj[from]
	if idx := slices.IndexFunc(edges, func(e state.Edge) bool { return e.To == to }); idx != -1 {
		e := &edges[idx]
		if source == state.Mirrored && e.Source == state.Reported {
			// a measured link is never replaced by a peer's view of it
			return state.NoChange
		}
		change := state.NoChange
		if significant(e.ETX, etx, state.SignificantETXDiff) {
			change = state.SignificantChange
		}
		e.ETX = etx
		e.LastUpdate = now
		e.Variance = variance
		e.Source = source
		return change
	}

	if len(edges) >= state.MaxEdgesPerNode {
		worst := 0
		for i := range edges {
			if edges[i].ETX > edges[worst].ETX {
				worst = i
			}
		}
		if etx >= edges[worst].ETX {
			return state.NoChange
		}
		edges[worst] = newEdge(from, to, etx, now, variance, source)
		return state.SignificantChange
	}

	g.adj[from] = append(edges, newEdge(from, to, etx, now, variance, source))
	return state.New
}

func newEdge(from, to state.NodeId, etx float64, now time.Time, variance uint32, source state.EdgeSource) state.Edge {
	return state.Edge{
		From:       from,
		To:         to,
		ETX:        etx,
		LastUpdate: now,
		Stability:  1,
		Variance:   variance,
		Source:     source,
	}
}

// evictFor makes room for a new node whose first link costs etx. The least connected node
// goes first, ties broken by worst average etx. Nodes that only reach us are never evicted.
func (g *Full) evictFor(etx float64) bool {
	worst := state.NodeNone
	worstCount := math.MaxInt
	worstAvg := 0.0
	for _, node := range g.sortedSources() {
		edges := g.adj[node]
		if node == g.local || len(edges) == 0 {
			continue
		}
		if len(edges) == 1 && edges[0].To == g.local {
			continue
		}
		total := 0.0
		for _, e := range edges {
			total += e.ETX
		}
		avg := total / float64(len(edges))
		if len(edges) < worstCount || (len(edges) == worstCount && avg > worstAvg) {
			worst, worstCount, worstAvg = node, len(edges), avg
		}
	}
	if worst == state.NodeNone {
		return false
	}
	if worstCount > 1 && etx >= worstAvg {
		return false
	}
	delete(g.adj, worst)
	g.ClearCache()
	return true
}

// AgeEdges drops every edge not refreshed within the aging timeout, then every node left without edges
func (g *Full) AgeEdges(now time.Time) {
	for node, edges := range g.adj {
		edges = slices.DeleteFunc(edges, func(e state.Edge) bool {
			return now.Sub(e.LastUpdate) > state.EdgeAgingTimeout
		})
		if len(edges) == 0 {
			delete(g.adj, node)
		} else {
			g.adj[node] = edges
		}
	}
	for node, rec := range g.txRecords() {
		if now.Sub(rec.at) > state.RelayStateTimeout {
			g.tx.Remove(node)
		}
	}
}

func (g *Full) UpdateStability(from, to state.NodeId, stability float64) {
	if stability <= 0 {
		return
	}
	edges := g.adj[from]
	if idx := slices.IndexFunc(edges, func(e state.Edge) bool { return e.To == to }); idx != -1 {
		edges[idx].Stability = stability
	}
}

func (g *Full) ClearCache() {
	clear(g.routes)
}

// EdgesFrom returns a copy of the outgoing edges of node
func (g *Full) EdgesFrom(node state.NodeId) []state.Edge {
	return slices.Clone(g.adj[node])
}

func (g *Full) HasEdge(from, to state.NodeId) bool {
	return slices.ContainsFunc(g.adj[from], func(e state.Edge) bool { return e.To == to })
}

func (g *Full) DirectNeighbors(node state.NodeId) []state.NodeId {
	edges := g.adj[node]
	out := make([]state.NodeId, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.To)
	}
	return out
}

// AllNodes lists every node that appears in the graph, as a source or as a target
func (g *Full) AllNodes() []state.NodeId {
	set := make(nodeSet)
	for node, edges := range g.adj {
		set.add(node)
		for _, e := range edges {
			set.add(e.To)
		}
	}
	return set.sorted()
}

// RemoveNode forgets node and every edge pointing at it
func (g *Full) RemoveNode(node state.NodeId) {
	delete(g.adj, node)
	for from, edges := range g.adj {
		edges = slices.DeleteFunc(edges, func(e state.Edge) bool { return e.To == node })
		if len(edges) == 0 {
			delete(g.adj, from)
		} else {
			g.adj[from] = edges
		}
	}
	g.tx.Remove(node)
	g.ClearCache()
}

// ClearMirroredEdges drops the Mirrored outgoing edges of node, ahead of re-ingesting its advertised table.
// Reported edges were measured by their target and stay.
func (g *Full) ClearMirroredEdges(node state.NodeId) {
	edges, ok := g.adj[node]
	if !ok {
		return
	}
	n := len(edges)
	edges = slices.DeleteFunc(edges, func(e state.Edge) bool { return e.Source == state.Mirrored })
	if len(edges) == n {
		return
	}
	if len(edges) == 0 {
		delete(g.adj, node)
	} else {
		g.adj[node] = edges
	}
	g.ClearCache()
}

func (g *Full) sortedSources() []state.NodeId {
	out := make([]state.NodeId, 0, len(g.adj))
	for node := range g.adj {
		out = append(out, node)
	}
	slices.Sort(out)
	return out
}

func (g *Full) RecordNodeTransmission(node state.NodeId, packetId uint32, now time.Time) {
	g.tx.Add(node, txRecord{packetId: packetId, at: now})
}

// HasNodeTransmitted reports whether node sent packetId within window of now
func (g *Full) HasNodeTransmitted(node state.NodeId, packetId uint32, now time.Time, window time.Duration) bool {
	rec, ok := g.tx.Peek(node)
	if !ok {
		return false
	}
	return rec.packetId == packetId && now.Sub(rec.at) <= window
}

func (g *Full) txRecords() map[state.NodeId]txRecord {
	out := make(map[state.NodeId]txRecord, g.tx.Len())
	for _, node := range g.tx.Keys() {
		if rec, ok := g.tx.Peek(node); ok {
			out[node] = rec
		}
	}
	return out
}

// CoverageIfRelays lists the neighbours relay would newly reach
func (g *Full) CoverageIfRelays(relay state.NodeId, covered []state.NodeId) []state.NodeId {
	set := make(nodeSet)
	set.add(covered...)
	return coverageIfRelays(g, relay, set)
}

// FindBestRelay picks the candidate adding the most coverage, or NodeNone if nobody adds any
func (g *Full) FindBestRelay(covered, candidates []state.NodeId, now time.Time) state.NodeId {
	set := make(nodeSet)
	set.add(covered...)
	cand := make(nodeSet)
	cand.add(candidates...)
	return bestRelayCandidate(g, set, cand.sorted(), now).Node
}

// ShouldRelay elects a single relay among everyone who heard the source or the relayer
func (g *Full) ShouldRelay(me, source, heardFrom state.NodeId, now time.Time) bool {
	covered := make(nodeSet)
	candidates := make(nodeSet)
	covered.add(source)
	sourceNeighbors := g.DirectNeighbors(source)
	covered.add(sourceNeighbors...)
	candidates.add(sourceNeighbors...)
	if heardFrom != source {
		relayerNeighbors := g.DirectNeighbors(heardFrom)
		covered.add(heardFrom)
		covered.add(relayerNeighbors...)
		candidates.add(relayerNeighbors...)
	}
	return bestRelayCandidate(g, covered, candidates.sorted(), now).Node == me
}

func (g *Full) IsGatewayNode(node, source state.NodeId) bool {
	return isGatewayNode(g, node, source)
}

func (g *Full) ShouldRelayEnhanced(q RelayQuery) bool {
	return shouldRelayEnhanced(g, q)
}

// ShouldRelayEnhancedConservative falls back to the two neighbour rule when a neighbour looks like a gateway
func (g *Full) ShouldRelayEnhancedConservative(q RelayQuery) bool {
	for _, n := range g.DirectNeighbors(q.Me) {
		if len(g.adj[n]) >= state.GatewayLikeEdges {
			return shouldRelaySimpleConservative(g, q)
		}
	}
	return shouldRelayEnhanced(g, q)
}

func (g *Full) ShouldRelayBroadcast(q RelayQuery) bool {
	return g.ShouldRelayEnhanced(q)
}

func (g *Full) ShouldRelayBroadcastConservative(q RelayQuery) bool {
	return g.ShouldRelayEnhancedConservative(q)
}

func (g *Full) ShouldRelayUnicastFallback(q RelayQuery) bool {
	return g.ShouldRelayEnhanced(q)
}
