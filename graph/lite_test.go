package graph

import (
	"testing"
	"time"

	"github.com/encodeous/srmesh/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLite_UpdateEdgeClassification(t *testing.T) {
	g := NewLite(nA)
	assert.Equal(t, state.New, g.UpdateEdge(nA, nB, 1.0, t0, 0, state.Reported))
	assert.Equal(t, state.NoChange, g.UpdateEdge(nA, nB, 1.1, t0, 0, state.Reported))
	assert.Equal(t, state.SignificantChange, g.UpdateEdge(nA, nB, 1.5, t0, 0, state.Reported))

	g.UpdateEdge(nB, nA, 1.0, t0, 0, state.Reported)
	assert.Equal(t, state.NoChange, g.UpdateEdge(nB, nA, 3.0, t0, 0, state.Mirrored))
	edges, ok := g.FindNode(nB)
	require.True(t, ok)
	require.Len(t, edges, 1)
	assert.Equal(t, 1.0, edges[0].ETX)
	assert.Equal(t, state.Reported, edges[0].Source)
}

func TestLite_FixedPointStorage(t *testing.T) {
	g := NewLite(nA)
	g.UpdateEdge(nA, nB, 1.25, t0, 600, state.Reported)
	g.UpdateEdge(nA, nC, 1e9, t0, 1e6, state.Reported)
	edges := g.EdgesFrom(nA)
	require.Len(t, edges, 2)

	assert.Equal(t, 1.25, edges[0].ETX)
	assert.Equal(t, uint32(600), edges[0].Variance)
	assert.Equal(t, 1.0, edges[0].Stability)
	assert.Equal(t, t0, edges[0].LastUpdate)

	assert.Equal(t, 655.35, edges[1].ETX)
	assert.Equal(t, uint32(255*12), edges[1].Variance)
}

func TestLite_LocalNeverEvicted(t *testing.T) {
	g := NewLite(nA)
	g.UpdateEdge(nA, nB, 1, t0, 0, state.Reported)
	for i := range LiteMaxNodes + 1 {
		id := state.NodeId(100 + i)
		g.UpdateEdge(id, nA, 1, t0.Add(time.Duration(i)*time.Second), 0, state.Reported)
	}
	assert.Equal(t, LiteMaxNodes, g.NodeCount())
	edges, ok := g.FindNode(nA)
	require.True(t, ok)
	assert.Len(t, edges, 1)

	// the newest node made it in, the oldest single edge node went out
	_, ok = g.FindNode(state.NodeId(100 + LiteMaxNodes))
	assert.True(t, ok)
	_, ok = g.FindNode(100)
	assert.False(t, ok)
}

func TestLite_LocalNeverEvictedWithoutEdges(t *testing.T) {
	g := NewLite(nA)
	for i := range 3 * LiteMaxNodes {
		g.UpdateNodeActivity(state.NodeId(100+i), t0)
	}
	_, ok := g.FindNode(nA)
	assert.True(t, ok)
}

func TestLite_EdgeTableReplacesWorst(t *testing.T) {
	g := NewLite(nA)
	for i := range LiteMaxEdges {
		g.UpdateEdge(nA, state.NodeId(100+i), float64(2+i), t0, 0, state.Reported)
	}
	worst := state.NodeId(100 + LiteMaxEdges - 1)
	assert.Equal(t, state.NoChange, g.UpdateEdge(nA, 500, float64(1+LiteMaxEdges), t0, 0, state.Reported))
	assert.Equal(t, state.SignificantChange, g.UpdateEdge(nA, 500, 1, t0, 0, state.Reported))
	assert.Equal(t, LiteMaxEdges, g.NeighborCount(nA))
	assert.False(t, g.HasEdge(nA, worst))
	assert.True(t, g.HasEdge(nA, 500))
}

func TestLite_AgeEdges(t *testing.T) {
	g := NewLite(nA)
	g.UpdateEdge(nA, nB, 1, t0, 0, state.Reported)
	g.UpdateEdge(nC, nD, 1, t0, 0, state.Reported)
	g.UpdateEdge(nE, nD, 1, t0.Add(200*time.Second), 0, state.Reported)

	g.AgeEdges(t0.Add(state.EdgeAgingTimeout))
	assert.Equal(t, 3, g.NodeCount())

	g.AgeEdges(t0.Add(state.EdgeAgingTimeout + time.Second))
	assert.Equal(t, []state.NodeId{nA, nE}, g.AllNodes())
	assert.Zero(t, g.NeighborCount(nA))
	_, ok := g.FindNode(nA)
	assert.True(t, ok)
}

func TestLite_RouteDirectAndTwoHop(t *testing.T) {
	g := NewLite(nA)
	g.UpdateEdge(nA, nB, 1, t0, 0, state.Reported)
	g.UpdateEdge(nB, nC, 1, t0, 0, state.Reported)
	g.UpdateEdge(nA, nD, 1.5, t0, 0, state.Reported)
	g.UpdateEdge(nD, nC, 1, t0, 0, state.Reported)
	g.UpdateEdge(nB, nE, 1, t0, 0, state.Reported)

	direct := g.CalculateRoute(nB, t0)
	assert.Equal(t, nB, direct.NextHop)
	assert.Equal(t, 1.0, direct.Cost)

	twoHop := g.CalculateRoute(nC, t0)
	assert.Equal(t, nB, twoHop.NextHop)
	assert.Equal(t, 2.0, twoHop.Cost)

	filtered := g.CalculateRouteFiltered(nC, t0, func(n state.NodeId) bool { return n != nB })
	assert.Equal(t, nD, filtered.NextHop)
	assert.Equal(t, 2.5, filtered.Cost)

	// three hops away is out of reach
	g.UpdateEdge(nE, nF, 1, t0, 0, state.Reported)
	assert.False(t, g.CalculateRoute(nF, t0).Valid())
	assert.False(t, g.CalculateRoute(nA, t0).Valid())
}

func TestLite_SingleSlotCache(t *testing.T) {
	g := NewLite(nA)
	g.UpdateEdge(nA, nB, 1, t0, 0, state.Reported)
	g.UpdateEdge(nB, nC, 1, t0, 0, state.Reported)
	g.UpdateEdge(nA, nD, 1, t0, 0, state.Reported)
	g.UpdateEdge(nD, nC, 2, t0, 0, state.Reported)
	first := g.CalculateRoute(nC, t0)
	require.Equal(t, nB, first.NextHop)

	g.UpdateEdge(nB, nC, 5, t0.Add(10*time.Second), 0, state.Reported)
	assert.Equal(t, first, g.CalculateRoute(nC, t0.Add(30*time.Second)))

	later := t0.Add(state.LiteRouteCacheTTL)
	assert.Equal(t, nD, g.CalculateRoute(nC, later).NextHop)

	// caching another destination evicts the previous one
	g.CalculateRoute(nB, later)
	g.UpdateEdge(nD, nC, 9, later, 0, state.Reported)
	assert.Equal(t, nB, g.CalculateRoute(nC, later).NextHop)
}

func TestLite_RemoveNode(t *testing.T) {
	g := NewLite(nA)
	g.UpdateEdge(nA, nB, 1, t0, 0, state.Reported)
	g.UpdateEdge(nB, nC, 1, t0, 0, state.Reported)
	require.True(t, g.CalculateRoute(nC, t0).Valid())

	g.RemoveNode(nB)
	assert.False(t, g.HasEdge(nA, nB))
	assert.False(t, g.CalculateRoute(nC, t0).Valid())

	g.RemoveNode(nA)
	_, ok := g.FindNode(nA)
	assert.True(t, ok)
}

func TestLite_TransmissionRing(t *testing.T) {
	g := NewLite(nA)
	for i := range liteTxSlots {
		g.RecordNodeTransmission(state.NodeId(100+i), 1, t0.Add(time.Duration(i)*time.Millisecond))
	}
	now := t0.Add(liteTxSlots * time.Millisecond)
	g.RecordNodeTransmission(500, 1, now)
	assert.False(t, g.HasNodeTransmitted(100, 1, now, time.Second))
	assert.True(t, g.HasNodeTransmitted(101, 1, now, time.Second))
	assert.True(t, g.HasNodeTransmitted(500, 1, now, time.Second))

	// one entry per node
	g.RecordNodeTransmission(500, 2, now)
	assert.False(t, g.HasNodeTransmitted(500, 1, now, time.Second))
	assert.True(t, g.HasNodeTransmitted(500, 2, now, time.Second))

	g.AgeEdges(now.Add(state.RelayStateTimeout + time.Millisecond))
	assert.False(t, g.HasNodeTransmitted(500, 2, now, time.Hour))
}

func TestLite_TransmissionMillisWrap(t *testing.T) {
	g := NewLite(nA)
	g.RecordNodeTransmission(nB, 9, t0)

	// one full turn of the millisecond stamp later the record must not look fresh
	wrapped := t0.Add(65536*time.Millisecond + 500*time.Millisecond)
	assert.False(t, g.HasNodeTransmitted(nB, 9, wrapped, state.RelayStateTimeout))

	g.RecordNodeTransmission(nC, 10, wrapped)
	assert.Equal(t, 1, g.txLen)
	assert.True(t, g.HasNodeTransmitted(nC, 10, wrapped.Add(time.Second), state.RelayStateTimeout))
}

func TestLite_ClearMirroredEdges(t *testing.T) {
	g := NewLite(nA)
	g.UpdateEdge(nB, nA, 1.5, t0, 0, state.Reported)
	g.UpdateEdge(nB, nC, 2, t0, 0, state.Mirrored)
	g.UpdateEdge(nB, nD, 3, t0, 0, state.Mirrored)
	g.ClearMirroredEdges(nB)

	edges, ok := g.FindNode(nB)
	require.True(t, ok)
	require.Len(t, edges, 1)
	assert.Equal(t, nA, edges[0].To)
	assert.Equal(t, state.Reported, edges[0].Source)
	assert.InDelta(t, 1.5, edges[0].ETX, 0.01)
}

// contentionScenario: we (nA) heard source nB and alone reach nC. nD also heard nB.
func contentionScenario() *Lite {
	g := NewLite(nA)
	g.UpdateEdge(nA, nB, 1, t0, 0, state.Reported)
	g.UpdateEdge(nA, nC, 1, t0, 0, state.Reported)
	g.UpdateEdge(nB, nA, 1, t0, 0, state.Reported)
	g.UpdateEdge(nB, nD, 1, t0, 0, state.Reported)
	g.UpdateEdge(nD, nB, 1, t0, 0, state.Reported)
	return g
}

func TestLite_ShouldRelayWithContention(t *testing.T) {
	now := t0.Add(time.Second)
	q := RelayQuery{Me: nA, Source: nB, HeardFrom: nB, PacketId: 77, Now: now}

	g := contentionScenario()
	assert.True(t, g.ShouldRelayWithContention(q))

	g.RecordNodeTransmission(nD, 77, now.Add(-100*time.Millisecond))
	assert.False(t, g.ShouldRelayWithContention(q))

	g = contentionScenario()
	g.RecordNodeTransmission(nD, 77, now.Add(-state.ContentionWindow-100*time.Millisecond))
	assert.True(t, g.ShouldRelayWithContention(q))

	// the source and the relayer sending it do not count
	g = contentionScenario()
	g.RecordNodeTransmission(nB, 77, now)
	assert.True(t, g.ShouldRelayWithContention(q))

	// a different packet does not count
	g.RecordNodeTransmission(nD, 78, now)
	assert.True(t, g.ShouldRelayWithContention(q))

	// no unique coverage once the source reaches nC itself
	g = contentionScenario()
	g.UpdateEdge(nB, nC, 1, t0, 0, state.Reported)
	assert.False(t, g.ShouldRelayWithContention(q))
	assert.Equal(t, g.ShouldRelayWithContention(q), g.ShouldRelayUnicastFallback(q))
}

func TestLite_RelayHeuristics(t *testing.T) {
	g := contentionScenario()
	q := RelayQuery{Me: nA, Source: nB, HeardFrom: nB, PacketId: 1, Now: t0}
	assert.True(t, g.ShouldRelaySimple(q))
	assert.True(t, g.ShouldRelayBroadcast(q))
	assert.False(t, g.ShouldRelaySimpleConservative(q))
	assert.False(t, g.ShouldRelayBroadcastConservative(q))

	g.UpdateEdge(nA, nE, 1, t0, 0, state.Reported)
	assert.True(t, g.ShouldRelaySimpleConservative(q))

	// we know nothing about the transmitter's neighbours
	q.HeardFrom = nF
	assert.False(t, g.ShouldRelaySimple(q))
}

func TestLite_EnhancedElection(t *testing.T) {
	g := NewLite(nA)
	relayScenario(g)
	q := RelayQuery{Me: nA, Source: 10, HeardFrom: 10, PacketId: 5, Now: t0}
	assert.False(t, g.ShouldRelayEnhanced(q))

	best := g.FindBestRelayCandidate([]state.NodeId{nA, nB}, []state.NodeId{10, nA, nB}, 5, t0)
	assert.Equal(t, nB, best.Node)
	assert.Equal(t, 2, best.Coverage)

	g.RecordNodeTransmission(nB, 5, t0)
	assert.True(t, g.ShouldRelayEnhanced(q))
	assert.True(t, g.ShouldRelayEnhancedConservative(q))

	best = g.FindBestRelayCandidate([]state.NodeId{nA, nB}, []state.NodeId{10, nA, nB}, 5, t0)
	assert.Equal(t, nA, best.Node)
	assert.False(t, g.IsGatewayNode(nA, 10))
}

func TestDisabled(t *testing.T) {
	g := New(state.GraphDisabled, nA, 0)
	assert.False(t, Enabled(g))
	assert.False(t, Enabled(nil))
	assert.True(t, Enabled(New(state.GraphLite, nA, 0)))
	assert.True(t, Enabled(New(state.GraphFull, nA, 0)))

	assert.Equal(t, state.NoChange, g.UpdateEdge(nA, nB, 1, t0, 0, state.Reported))
	assert.False(t, g.CalculateRoute(nB, t0).Valid())
	q := RelayQuery{Me: nA, Source: nB, HeardFrom: nB, Now: t0}
	assert.True(t, g.ShouldRelayBroadcast(q))
	assert.True(t, g.ShouldRelayBroadcastConservative(q))
	assert.False(t, g.ShouldRelayUnicastFallback(q))
}
