package graph

import (
	"math"
	"slices"
	"time"

	"github.com/encodeous/srmesh/state"
)

// relayView is the slice of a graph the relay election needs
type relayView interface {
	DirectNeighbors(node state.NodeId) []state.NodeId
	HasNodeTransmitted(node state.NodeId, packetId uint32, now time.Time, window time.Duration) bool
	relayCost(from, to state.NodeId, now time.Time) (float64, bool)
}

type nodeSet map[state.NodeId]struct{}

func (s nodeSet) add(ids ...state.NodeId) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

func (s nodeSet) has(id state.NodeId) bool {
	_, ok := s[id]
	return ok
}

// sorted gives a stable iteration order so ties resolve the same way on every node
func (s nodeSet) sorted() []state.NodeId {
	out := make([]state.NodeId, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// RelayCandidate is a node that could rebroadcast, with what it would add
type RelayCandidate struct {
	Node     state.NodeId
	Coverage int
	AvgCost  float64
}

// coverageIfRelays lists the neighbours of relay that have not been covered yet
func coverageIfRelays(v relayView, relay state.NodeId, covered nodeSet) []state.NodeId {
	out := make([]state.NodeId, 0)
	for _, n := range v.DirectNeighbors(relay) {
		if !covered.has(n) {
			out = append(out, n)
		}
	}
	return out
}

// bestRelayCandidate prefers the most new coverage, then the lowest average link cost
func bestRelayCandidate(v relayView, covered nodeSet, candidates []state.NodeId, now time.Time) RelayCandidate {
	best := RelayCandidate{AvgCost: math.Inf(1)}
	for _, c := range candidates {
		coverage := coverageIfRelays(v, c, covered)
		if len(coverage) == 0 {
			continue
		}
		total, valid := 0.0, 0
		for _, n := range coverage {
			if cost, ok := v.relayCost(c, n, now); ok {
				total += cost
				valid++
			}
		}
		if valid == 0 {
			continue
		}
		avg := total / float64(valid)
		if len(coverage) > best.Coverage || (len(coverage) == best.Coverage && avg < best.AvgCost) {
			best = RelayCandidate{Node: c, Coverage: len(coverage), AvgCost: avg}
		}
	}
	return best
}

// isGatewayNode reports whether node bridges to neighbours the source cannot reach,
// which themselves have further links
func isGatewayNode(v relayView, node, source state.NodeId) bool {
	sourceNeighbors := make(nodeSet)
	sourceNeighbors.add(v.DirectNeighbors(source)...)
	for _, n := range v.DirectNeighbors(node) {
		if n == source || sourceNeighbors.has(n) {
			continue
		}
		if len(v.DirectNeighbors(n)) > 1 {
			return true
		}
	}
	return false
}

/*
shouldRelayEnhanced runs a contention aware relay election among the nodes that heard
the transmitter directly.

The best candidate relays immediately. Everybody else waits for it; once it has
transmitted, a node only relays if it still reaches a neighbour nobody has covered.
A candidate that stays silent past the contention window (plus grace) is skipped.
If the election runs out of candidates, a node with any neighbours relays so the
packet is not lost.
*/
func shouldRelayEnhanced(v relayView, q RelayQuery) bool {
	covered := make(nodeSet)
	covered.add(q.Source, q.HeardFrom)
	transmitterNeighbors := v.DirectNeighbors(q.HeardFrom)
	covered.add(transmitterNeighbors...)

	candidates := make(nodeSet)
	candidates.add(transmitterNeighbors...)

	for len(candidates) > 0 {
		best := bestRelayCandidate(v, covered, candidates.sorted(), q.Now)
		if best.Node == state.NodeNone {
			break
		}
		if best.Node == q.Me {
			return true
		}
		if isGatewayNode(v, q.Me, q.Source) {
			return true
		}
		if !v.HasNodeTransmitted(best.Node, q.PacketId, q.Now, state.RelayStateTimeout) {
			if !q.RxTime.IsZero() && q.Now.Sub(q.RxTime) > state.ContentionWindow+state.ContentionGrace {
				delete(candidates, best.Node)
				continue
			}
			return false
		}

		relayCoverage := make(nodeSet)
		for _, c := range candidates.sorted() {
			if v.HasNodeTransmitted(c, q.PacketId, q.Now, state.RelayStateTimeout) {
				relayCoverage.add(v.DirectNeighbors(c)...)
			}
		}
		for _, n := range v.DirectNeighbors(q.Me) {
			if !covered.has(n) && !relayCoverage.has(n) {
				return true
			}
		}
		return false
	}

	return len(v.DirectNeighbors(q.Me)) > 0
}

// shouldRelaySimple relays when we reach a neighbour the transmitter does not
func shouldRelaySimple(v relayView, q RelayQuery) bool {
	mine := v.DirectNeighbors(q.Me)
	if len(mine) == 0 {
		return false
	}
	transmitter := v.DirectNeighbors(q.HeardFrom)
	if len(transmitter) == 0 {
		return false
	}
	covered := make(nodeSet)
	covered.add(q.Source, q.HeardFrom)
	covered.add(transmitter...)
	for _, n := range mine {
		if !covered.has(n) {
			return true
		}
	}
	return false
}

// shouldRelaySimpleConservative needs at least two neighbours the transmitter misses
func shouldRelaySimpleConservative(v relayView, q RelayQuery) bool {
	mine := v.DirectNeighbors(q.Me)
	if len(mine) == 0 {
		return false
	}
	transmitter := v.DirectNeighbors(q.HeardFrom)
	if len(transmitter) == 0 {
		return false
	}
	reached := make(nodeSet)
	reached.add(transmitter...)
	unique := 0
	for _, n := range mine {
		if n == q.Source || n == q.HeardFrom || reached.has(n) {
			continue
		}
		unique++
	}
	return unique >= 2
}
