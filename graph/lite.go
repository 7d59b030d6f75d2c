package graph

import (
	"math"
	"slices"
	"time"

	"github.com/encodeous/srmesh/state"
)

const (
	LiteMaxNodes = 16
	LiteMaxEdges = 6
	liteTxSlots  = 16
	// the millisecond stamp wraps after 65.5 s, past this the seconds stamp decides
	liteTxFineSpan = 60 * time.Second
)

// edgeLite packs an edge into a few bytes. Timestamps are truncated unix seconds.
type edgeLite struct {
	to        state.NodeId
	etxFixed  uint16
	updatedLo uint16
	variance  uint8
	stability uint8
	source    state.EdgeSource
}

func (e *edgeLite) etx() float64 {
	return float64(e.etxFixed) / 100
}

type nodeSlot struct {
	id         state.NodeId
	edges      [LiteMaxEdges]edgeLite
	count      int
	lastUpdate uint32
}

func (n *nodeSlot) neighbors() []edgeLite {
	return n.edges[:n.count]
}

func (n *nodeSlot) find(to state.NodeId) *edgeLite {
	for i := range n.count {
		if n.edges[i].to == to {
			return &n.edges[i]
		}
	}
	return nil
}

// txLite remembers the last packet a node was heard transmitting, stamped in truncated milliseconds
// and in seconds
type txLite struct {
	node     state.NodeId
	packetId uint32
	atLo     uint16
	atSecs   uint32
}

func (t *txLite) age(now time.Time) time.Duration {
	if coarse := time.Duration(secs(now)-t.atSecs) * time.Second; coarse > liteTxFineSpan {
		return coarse
	}
	return time.Duration(millisLo(now)-t.atLo) * time.Millisecond
}

/*
Lite is a fixed capacity graph for memory constrained nodes.

It keeps at most LiteMaxNodes nodes with LiteMaxEdges outgoing edges each, stores
costs in fixed point and only looks two hops ahead when routing. The local node
holds a slot for the lifetime of the graph and is never evicted.
*/
type Lite struct {
	local  state.NodeId
	nodes  [LiteMaxNodes]nodeSlot
	count  int
	tx     [liteTxSlots]txLite
	txLen  int
	cached state.Route
	hasRt  bool
}

func NewLite(local state.NodeId) *Lite {
	l := &Lite{local: local}
	if local.Valid() {
		l.nodes[0].id = local
		l.count = 1
	}
	return l
}

func toFixed(etx float64) uint16 {
	if math.IsNaN(etx) || math.IsInf(etx, 1) {
		etx = state.LiteMaxETX
	}
	v := etx * 100
	if v <= 0 {
		return 0
	}
	if v >= math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

func secs(t time.Time) uint32 {
	return uint32(t.Unix())
}

func millisLo(t time.Time) uint16 {
	return uint16(t.UnixMilli())
}

func packVariance(v uint32) uint8 {
	return uint8(min(v/12, math.MaxUint8))
}

func (l *Lite) Local() state.NodeId {
	return l.local
}

func (l *Lite) NodeCount() int {
	return l.count
}

func (l *Lite) slot(id state.NodeId) *nodeSlot {
	for i := range l.count {
		if l.nodes[i].id == id {
			return &l.nodes[i]
		}
	}
	return nil
}

// FindNode returns the stored outgoing edges of id, and whether id holds a slot
func (l *Lite) FindNode(id state.NodeId) ([]state.Edge, bool) {
	n := l.slot(id)
	if n == nil {
		return nil, false
	}
	return l.expand(n), true
}

// findOrCreate returns the slot for id, evicting the least connected node when the table is full
func (l *Lite) findOrCreate(id state.NodeId) *nodeSlot {
	if n := l.slot(id); n != nil {
		return n
	}
	if l.count < LiteMaxNodes {
		n := &l.nodes[l.count]
		l.count++
		*n = nodeSlot{id: id}
		return n
	}
	victim := -1
	for i := range l.count {
		n := &l.nodes[i]
		if n.id == l.local {
			continue
		}
		if victim == -1 || n.count < l.nodes[victim].count ||
			(n.count == l.nodes[victim].count && n.lastUpdate < l.nodes[victim].lastUpdate) {
			victim = i
		}
	}
	if victim == -1 {
		return nil
	}
	l.dropCached(l.nodes[victim].id)
	n := &l.nodes[victim]
	*n = nodeSlot{id: id}
	return n
}

// UpdateEdge inserts or refreshes from -> to with the same classification rules as Full
func (l *Lite) UpdateEdge(from, to state.NodeId, etx float64, now time.Time, variance uint32, source state.EdgeSource) state.EdgeChange {
	if !from.Valid() || !to.Valid() || from == to {
		return state.NoChange
	}
	n := l.findOrCreate(from)
	if n == nil {
		return state.NoChange
	}
	n.lastUpdate = secs(now)
	fixed := toFixed(etx)

	if e := n.find(to); e != nil {
		if source == state.Mirrored && e.source == state.Reported {
			return state.NoChange
		}
		change := state.NoChange
		if significant(e.etx(), float64(fixed)/100, state.SignificantETXDiff) {
			change = state.SignificantChange
		}
		e.etxFixed = fixed
		e.updatedLo = uint16(n.lastUpdate)
		e.variance = packVariance(variance)
		e.source = source
		return change
	}

	fresh := edgeLite{
		to:        to,
		etxFixed:  fixed,
		updatedLo: uint16(n.lastUpdate),
		variance:  packVariance(variance),
		stability: 100,
		source:    source,
	}
	if n.count < LiteMaxEdges {
		n.edges[n.count] = fresh
		n.count++
		return state.New
	}
	worst := 0
	for i := range n.count {
		if n.edges[i].etxFixed > n.edges[worst].etxFixed {
			worst = i
		}
	}
	if fixed >= n.edges[worst].etxFixed {
		return state.NoChange
	}
	l.dropCached(n.edges[worst].to)
	n.edges[worst] = fresh
	return state.SignificantChange
}

// UpdateNodeActivity marks id as recently heard without touching its edges
func (l *Lite) UpdateNodeActivity(id state.NodeId, now time.Time) {
	if !id.Valid() {
		return
	}
	if n := l.findOrCreate(id); n != nil {
		n.lastUpdate = secs(now)
	}
}

func (l *Lite) UpdateStability(from, to state.NodeId, stability float64) {
	if stability <= 0 {
		return
	}
	n := l.slot(from)
	if n == nil {
		return
	}
	if e := n.find(to); e != nil {
		e.stability = uint8(min(stability*100, math.MaxUint8))
	}
}

func (l *Lite) removeAt(i int) {
	last := l.count - 1
	if i != last {
		l.nodes[i] = l.nodes[last]
	}
	l.nodes[last] = nodeSlot{}
	l.count--
}

// AgeEdges drops expired edges, then stale or empty nodes. The local slot is kept even when empty.
func (l *Lite) AgeEdges(now time.Time) {
	nowSecs := secs(now)
	timeout := uint32(state.EdgeAgingTimeout / time.Second)
	for i := 0; i < l.count; {
		n := &l.nodes[i]
		kept := 0
		for j := range n.count {
			if uint32(uint16(nowSecs)-n.edges[j].updatedLo) <= timeout {
				n.edges[kept] = n.edges[j]
				kept++
			}
		}
		n.count = kept
		if n.id == l.local {
			i++
			continue
		}
		if n.count == 0 || nowSecs-n.lastUpdate > timeout {
			l.dropCached(n.id)
			l.removeAt(i)
			continue
		}
		i++
	}

	l.pruneTx(now)
}

func (l *Lite) pruneTx(now time.Time) {
	for i := 0; i < l.txLen; {
		if l.tx[i].age(now) > state.RelayStateTimeout {
			l.tx[i] = l.tx[l.txLen-1]
			l.txLen--
			continue
		}
		i++
	}
}

// CalculateRoute checks for a direct edge to dest, then for the cheapest two hop path
func (l *Lite) CalculateRoute(dest state.NodeId, now time.Time) state.Route {
	if l.hasRt && l.cached.Destination == dest && now.Sub(l.cached.Timestamp) < state.LiteRouteCacheTTL {
		return l.cached
	}
	route := l.lookahead(dest, now, nil)
	if route.Valid() {
		l.cached, l.hasRt = route, true
	}
	return route
}

// CalculateRouteFiltered is CalculateRoute restricted to intermediate hops allowed by allow.
// Its results bypass the cache.
func (l *Lite) CalculateRouteFiltered(dest state.NodeId, now time.Time, allow func(state.NodeId) bool) state.Route {
	return l.lookahead(dest, now, allow)
}

func (l *Lite) lookahead(dest state.NodeId, now time.Time, allow func(state.NodeId) bool) state.Route {
	if !dest.Valid() || dest == l.local {
		return state.NoRoute(dest, now)
	}
	me := l.slot(l.local)
	if me == nil {
		return state.NoRoute(dest, now)
	}
	if e := me.find(dest); e != nil {
		return state.Route{Destination: dest, NextHop: dest, Cost: e.etx(), Timestamp: now}
	}

	best := state.NodeNone
	bestCost := uint32(math.MaxUint32)
	for _, first := range me.neighbors() {
		if allow != nil && !allow(first.to) {
			continue
		}
		hop := l.slot(first.to)
		if hop == nil {
			continue
		}
		if second := hop.find(dest); second != nil {
			total := uint32(first.etxFixed) + uint32(second.etxFixed)
			if total < bestCost {
				best, bestCost = first.to, total
			}
		}
	}
	if best == state.NodeNone {
		return state.NoRoute(dest, now)
	}
	return state.Route{Destination: dest, NextHop: best, Cost: float64(bestCost) / 100, Timestamp: now}
}

func (l *Lite) dropCached(node state.NodeId) {
	if l.hasRt && (l.cached.Destination == node || l.cached.NextHop == node) {
		l.hasRt = false
	}
}

func (l *Lite) ClearCache() {
	l.hasRt = false
}

func (l *Lite) expand(n *nodeSlot) []state.Edge {
	out := make([]state.Edge, 0, n.count)
	for _, e := range n.neighbors() {
		// rebuild the full timestamp relative to the node's last update
		at := n.lastUpdate - uint32(uint16(n.lastUpdate)-e.updatedLo)
		out = append(out, state.Edge{
			From:       n.id,
			To:         e.to,
			ETX:        e.etx(),
			LastUpdate: time.Unix(int64(at), 0),
			Stability:  float64(e.stability) / 100,
			Variance:   uint32(e.variance) * 12,
			Source:     e.source,
		})
	}
	return out
}

func (l *Lite) EdgesFrom(node state.NodeId) []state.Edge {
	n := l.slot(node)
	if n == nil {
		return nil
	}
	return l.expand(n)
}

func (l *Lite) HasEdge(from, to state.NodeId) bool {
	n := l.slot(from)
	return n != nil && n.find(to) != nil
}

func (l *Lite) DirectNeighbors(node state.NodeId) []state.NodeId {
	n := l.slot(node)
	if n == nil {
		return nil
	}
	out := make([]state.NodeId, 0, n.count)
	for _, e := range n.neighbors() {
		out = append(out, e.to)
	}
	return out
}

func (l *Lite) NeighborCount(node state.NodeId) int {
	if n := l.slot(node); n != nil {
		return n.count
	}
	return 0
}

// AllNodes lists the nodes holding a slot
func (l *Lite) AllNodes() []state.NodeId {
	out := make([]state.NodeId, 0, l.count)
	for i := range l.count {
		out = append(out, l.nodes[i].id)
	}
	slices.Sort(out)
	return out
}

// RemoveNode frees the slot of node and drops edges pointing at it
func (l *Lite) RemoveNode(node state.NodeId) {
	if node == l.local {
		return
	}
	for i := range l.count {
		if l.nodes[i].id == node {
			l.removeAt(i)
			break
		}
	}
	for i := range l.count {
		n := &l.nodes[i]
		kept := 0
		for j := range n.count {
			if n.edges[j].to != node {
				n.edges[kept] = n.edges[j]
				kept++
			}
		}
		n.count = kept
	}
	l.dropCached(node)
}

func (l *Lite) ClearMirroredEdges(node state.NodeId) {
	n := l.slot(node)
	if n == nil {
		return
	}
	kept := 0
	for j := range n.count {
		if n.edges[j].source != state.Mirrored {
			n.edges[kept] = n.edges[j]
			kept++
		}
	}
	if kept == n.count {
		return
	}
	n.count = kept
	l.ClearCache()
}

func (l *Lite) relayCost(from, to state.NodeId, _ time.Time) (float64, bool) {
	n := l.slot(from)
	if n == nil {
		return 0, false
	}
	if e := n.find(to); e != nil {
		return e.etx(), true
	}
	return 0, false
}

// RecordNodeTransmission updates the entry of node, or takes a free slot, or replaces the oldest entry
func (l *Lite) RecordNodeTransmission(node state.NodeId, packetId uint32, now time.Time) {
	l.pruneTx(now)
	rec := txLite{node: node, packetId: packetId, atLo: millisLo(now), atSecs: secs(now)}
	for i := range l.txLen {
		if l.tx[i].node == node {
			l.tx[i] = rec
			return
		}
	}
	if l.txLen < liteTxSlots {
		l.tx[l.txLen] = rec
		l.txLen++
		return
	}
	oldest := 0
	for i := range l.txLen {
		if l.tx[i].age(now) > l.tx[oldest].age(now) {
			oldest = i
		}
	}
	l.tx[oldest] = rec
}

func (l *Lite) HasNodeTransmitted(node state.NodeId, packetId uint32, now time.Time, window time.Duration) bool {
	for i := range l.txLen {
		if l.tx[i].node == node && l.tx[i].packetId == packetId {
			return l.tx[i].age(now) <= window
		}
	}
	return false
}

func (l *Lite) ShouldRelaySimple(q RelayQuery) bool {
	return shouldRelaySimple(l, q)
}

func (l *Lite) ShouldRelaySimpleConservative(q RelayQuery) bool {
	return shouldRelaySimpleConservative(l, q)
}

// ShouldRelayWithContention relays when we reach a neighbour neither the source nor the relayer
// reaches, and no other known node already sent the packet inside the contention window
func (l *Lite) ShouldRelayWithContention(q RelayQuery) bool {
	me := l.slot(q.Me)
	if me == nil || me.count == 0 {
		return false
	}
	reached := make(nodeSet)
	reached.add(l.DirectNeighbors(q.Source)...)
	if q.HeardFrom != q.Source {
		reached.add(l.DirectNeighbors(q.HeardFrom)...)
	}
	unique := 0
	for _, e := range me.neighbors() {
		if e.to == q.Source || e.to == q.HeardFrom || reached.has(e.to) {
			continue
		}
		unique++
	}
	if unique == 0 {
		return false
	}

	for i := range l.txLen {
		other := l.tx[i].node
		if other == q.Me || other == q.Source || other == q.HeardFrom || l.slot(other) == nil {
			continue
		}
		if l.HasNodeTransmitted(other, q.PacketId, q.Now, state.ContentionWindow) {
			return false
		}
	}
	return true
}

func (l *Lite) IsGatewayNode(node, source state.NodeId) bool {
	return isGatewayNode(l, node, source)
}

// FindBestRelayCandidate picks among candidates that have not yet sent packetId
func (l *Lite) FindBestRelayCandidate(candidates, covered []state.NodeId, packetId uint32, now time.Time) RelayCandidate {
	set := make(nodeSet)
	set.add(covered...)
	pending := make(nodeSet)
	for _, c := range candidates {
		if !l.HasNodeTransmitted(c, packetId, now, state.RelayStateTimeout) {
			pending.add(c)
		}
	}
	return bestRelayCandidate(l, set, pending.sorted(), now)
}

func (l *Lite) ShouldRelayEnhanced(q RelayQuery) bool {
	return shouldRelayEnhanced(l, q)
}

// ShouldRelayEnhancedConservative treats a neighbour with a full edge table as a gateway
func (l *Lite) ShouldRelayEnhancedConservative(q RelayQuery) bool {
	if l.slot(q.Me) == nil {
		return false
	}
	threshold := min(state.GatewayLikeEdges, LiteMaxEdges)
	for _, n := range l.DirectNeighbors(q.Me) {
		if l.NeighborCount(n) >= threshold {
			return shouldRelaySimpleConservative(l, q)
		}
	}
	return shouldRelayEnhanced(l, q)
}

func (l *Lite) ShouldRelayBroadcast(q RelayQuery) bool {
	return l.ShouldRelaySimple(q)
}

func (l *Lite) ShouldRelayBroadcastConservative(q RelayQuery) bool {
	return l.ShouldRelaySimpleConservative(q)
}

func (l *Lite) ShouldRelayUnicastFallback(q RelayQuery) bool {
	return l.ShouldRelayWithContention(q)
}
