package graph

import (
	"math"
	"time"

	"github.com/encodeous/srmesh/perf"
	"github.com/encodeous/srmesh/state"
	"github.com/tidwall/btree"
)

// weightedCost penalises old, unstable and mobile links on top of the raw etx
func weightedCost(e state.Edge, now time.Time) float64 {
	age := now.Sub(e.LastUpdate)
	if age < 0 {
		age = 0
	}
	ageFactor := 1 + float64(age)/float64(state.EdgeAgingTimeout)
	stability := e.Stability
	if stability <= 0 {
		stability = 1
	}
	varianceFactor := min(1+float64(e.Variance)/500, 3)
	return e.ETX * ageFactor * (1 / stability) * varianceFactor
}

// EdgeCost is the weighted cost of from -> to, +Inf if there is no such edge
func (g *Full) EdgeCost(from, to state.NodeId, now time.Time) float64 {
	for _, e := range g.adj[from] {
		if e.To == to {
			return weightedCost(e, now)
		}
	}
	return math.Inf(1)
}

func (g *Full) relayCost(from, to state.NodeId, now time.Time) (float64, bool) {
	cost := g.EdgeCost(from, to, now)
	return cost, !math.IsInf(cost, 1)
}

// CalculateRoute returns the best route to dest, using a cached one while it is fresh
func (g *Full) CalculateRoute(dest state.NodeId, now time.Time) state.Route {
	g.AgeEdges(now)
	if cached, ok := g.cachedRoute(dest, now); ok {
		return cached
	}
	start := time.Now()
	route := g.dijkstra(g.local, dest, now)
	perf.RouteComputeLatency.Add(float64(time.Since(start).Microseconds()))
	if route.NextHop != state.NodeNone {
		g.routes[dest] = route
	}
	return route
}

func (g *Full) cachedRoute(dest state.NodeId, now time.Time) (state.Route, bool) {
	route, ok := g.routes[dest]
	if !ok {
		return state.Route{}, false
	}
	if now.Sub(route.Timestamp) >= state.RouteCacheTTL {
		delete(g.routes, dest)
		return state.Route{}, false
	}
	return route, true
}

type pqItem struct {
	cost float64
	node state.NodeId
}

func pqLess(a, b pqItem) bool {
	if a.cost != b.cost {
		return a.cost < b.cost
	}
	return a.node < b.node
}

func (g *Full) dijkstra(source, dest state.NodeId, now time.Time) state.Route {
	if !dest.Valid() || dest == source {
		return state.NoRoute(dest, now)
	}
	dist := map[state.NodeId]float64{source: 0}
	prev := make(map[state.NodeId]state.NodeId)
	pq := btree.NewBTreeG[pqItem](pqLess)
	pq.Set(pqItem{0, source})

	for pq.Len() > 0 {
		cur, _ := pq.PopMin()
		if d, ok := dist[cur.node]; ok && cur.cost > d {
			continue
		}
		if cur.node == dest {
			break
		}
		for _, e := range g.adj[cur.node] {
			next := cur.cost + weightedCost(e, now)
			if d, ok := dist[e.To]; !ok || next < d {
				dist[e.To] = next
				prev[e.To] = cur.node
				pq.Set(pqItem{next, e.To})
			}
		}
	}

	cost, ok := dist[dest]
	if !ok || math.IsInf(cost, 1) {
		return state.NoRoute(dest, now)
	}
	hop := dest
	for prev[hop] != source {
		p, ok := prev[hop]
		if !ok {
			return state.NoRoute(dest, now)
		}
		hop = p
	}
	return state.Route{
		Destination: dest,
		NextHop:     hop,
		Cost:        cost,
		Timestamp:   now,
	}
}
