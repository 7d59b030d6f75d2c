// Package graph models the radio topology a node has observed, and answers route and
// relay questions over it.
package graph

import (
	"time"

	"github.com/encodeous/srmesh/state"
)

// RelayQuery describes a received flood packet that a relay decision is being made for
type RelayQuery struct {
	Me        state.NodeId
	Source    state.NodeId
	HeardFrom state.NodeId
	PacketId  uint32
	Now       time.Time
	// RxTime is when the packet was first received, zero if unknown
	RxTime time.Time
}

// RoutingGraph is implemented by Full, Lite and Disabled
type RoutingGraph interface {
	Local() state.NodeId
	UpdateEdge(from, to state.NodeId, etx float64, now time.Time, variance uint32, source state.EdgeSource) state.EdgeChange
	AgeEdges(now time.Time)
	CalculateRoute(dest state.NodeId, now time.Time) state.Route
	EdgesFrom(node state.NodeId) []state.Edge
	HasEdge(from, to state.NodeId) bool
	DirectNeighbors(node state.NodeId) []state.NodeId
	AllNodes() []state.NodeId
	NodeCount() int
	RemoveNode(node state.NodeId)
	ClearMirroredEdges(node state.NodeId)
	ClearCache()

	RecordNodeTransmission(node state.NodeId, packetId uint32, now time.Time)
	HasNodeTransmitted(node state.NodeId, packetId uint32, now time.Time, window time.Duration) bool

	// ShouldRelayBroadcast is the normal relay election for a flood packet
	ShouldRelayBroadcast(q RelayQuery) bool
	// ShouldRelayBroadcastConservative defers to legacy gateways when they are around
	ShouldRelayBroadcastConservative(q RelayQuery) bool
	// ShouldRelayUnicastFallback is used for unicast packets when too few peers route by signal
	ShouldRelayUnicastFallback(q RelayQuery) bool
}

// New builds the graph variant selected by mode
func New(mode state.GraphMode, local state.NodeId, maxNodes int) RoutingGraph {
	switch mode {
	case state.GraphLite:
		return NewLite(local)
	case state.GraphDisabled:
		return Disabled{}
	default:
		return NewFull(local, maxNodes)
	}
}

// Enabled reports whether g carries any topology at all
func Enabled(g RoutingGraph) bool {
	if g == nil {
		return false
	}
	_, off := g.(Disabled)
	return !off
}

// Disabled is the graph of a node without signal routing. Every query degrades to flooding.
type Disabled struct{}

func (Disabled) Local() state.NodeId { return state.NodeNone }
func (Disabled) UpdateEdge(state.NodeId, state.NodeId, float64, time.Time, uint32, state.EdgeSource) state.EdgeChange {
	return state.NoChange
}
func (Disabled) AgeEdges(time.Time) {}
func (Disabled) CalculateRoute(dest state.NodeId, now time.Time) state.Route {
	return state.NoRoute(dest, now)
}
func (Disabled) EdgesFrom(state.NodeId) []state.Edge                                    { return nil }
func (Disabled) HasEdge(state.NodeId, state.NodeId) bool                                { return false }
func (Disabled) DirectNeighbors(state.NodeId) []state.NodeId                            { return nil }
func (Disabled) AllNodes() []state.NodeId                                               { return nil }
func (Disabled) NodeCount() int                                                         { return 0 }
func (Disabled) RemoveNode(state.NodeId)                                                {}
func (Disabled) ClearMirroredEdges(state.NodeId)                                        {}
func (Disabled) ClearCache()                                                            {}
func (Disabled) RecordNodeTransmission(state.NodeId, uint32, time.Time)                 {}
func (Disabled) HasNodeTransmitted(state.NodeId, uint32, time.Time, time.Duration) bool { return false }
func (Disabled) ShouldRelayBroadcast(RelayQuery) bool                                   { return true }
func (Disabled) ShouldRelayBroadcastConservative(RelayQuery) bool                       { return true }
func (Disabled) ShouldRelayUnicastFallback(RelayQuery) bool                             { return false }
