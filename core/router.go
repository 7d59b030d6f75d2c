package core

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-broadcast"
	"github.com/encodeous/srmesh/graph"
	"github.com/encodeous/srmesh/protocol"
	"github.com/encodeous/srmesh/state"
	"github.com/jellydator/ttlcache/v3"
)

// Transport is the radio send queue of the node
type Transport interface {
	Send(p *protocol.Packet) error
	// CancelSending drops a queued transmission of (from, id) and reports whether one was queued
	CancelSending(from state.NodeId, id uint32) bool
}

// NodeDB is the node's record of peers it has heard
type NodeDB interface {
	LastHeard(id state.NodeId) (time.Time, bool)
	Role(id state.NodeId) (state.Role, bool)
}

// AirtimeGate enforces the duty cycle of the radio
type AirtimeGate interface {
	AllowTransmit() bool
}

// Deps are the collaborators a Coordinator is built with. Nil members get inert defaults.
type Deps struct {
	Clock     clock.Clock
	Nodes     NodeDB
	Transport Transport
	Airtime   AirtimeGate
	Events    broadcast.Broadcaster
	Log       *slog.Logger
}

/*
Coordinator decides, packet by packet, whether to route by the measured topology or to flood,
and keeps the caches those decisions are based on.

It is not safe for concurrent use; a node only touches it from its dispatch loop.
*/
type Coordinator struct {
	cfg   state.NodeCfg
	graph graph.RoutingGraph

	clock     clock.Clock
	nodes     NodeDB
	transport Transport
	airtime   AirtimeGate
	events    broadcast.Broadcaster
	log       *slog.Logger

	capabilities map[state.NodeId]state.CapabilityRecord
	relayIds     *ttlcache.Cache[uint8, []RelayIdentityEntry]
	gateways     gatewayTable
	speculative  map[speculativeKey]*SpeculativeRetransmitEntry

	packetSeq       uint32
	lastBroadcast   time.Time
	lastAging       time.Time
	lastTopologyLog time.Time
}

func NewCoordinator(cfg state.NodeCfg, deps Deps) *Coordinator {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Nodes == nil {
		deps.Nodes = emptyNodeDB{}
	}
	if deps.Transport == nil {
		deps.Transport = discardTransport{}
	}
	if deps.Airtime == nil {
		deps.Airtime = unlimitedAirtime{}
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	now := deps.Clock.Now()
	return &Coordinator{
		cfg:             cfg,
		graph:           graph.New(cfg.Routing.Mode, cfg.Id, cfg.Routing.FullMaxNodes),
		clock:           deps.Clock,
		nodes:           deps.Nodes,
		transport:       deps.Transport,
		airtime:         deps.Airtime,
		events:          deps.Events,
		log:             deps.Log,
		capabilities:    make(map[state.NodeId]state.CapabilityRecord),
		relayIds:        newRelayIdentityCache(),
		gateways:        newGatewayTable(),
		speculative:     make(map[speculativeKey]*SpeculativeRetransmitEntry),
		packetSeq:       rand.Uint32(),
		lastAging:       now,
		lastTopologyLog: now,
	}
}

func (c *Coordinator) Id() state.NodeId {
	return c.cfg.Id
}

// Graph exposes the topology for inspection. Callers must stay on the dispatch loop.
func (c *Coordinator) Graph() graph.RoutingGraph {
	return c.graph
}

func (c *Coordinator) Enabled() bool {
	return graph.Enabled(c.graph)
}

func (c *Coordinator) Log(event RouterEvent, desc string, args ...any) {
	if event >= HighCostRoute {
		c.log.Warn(fmt.Sprintf("%s %s", event.String(), desc), args...)
		return
	}
	c.log.Debug(fmt.Sprintf("%s %s", event.String(), desc), args...)
}

// activeRole is false for roles that never relay for others
func (c *Coordinator) activeRole() bool {
	return !c.cfg.Role.Passive()
}

func (c *Coordinator) nextPacketId() uint32 {
	c.packetSeq++
	if c.packetSeq == 0 {
		c.packetSeq++
	}
	return c.packetSeq
}

// Close releases the caches held by the coordinator
func (c *Coordinator) Close() {
	c.relayIds.DeleteAll()
	clear(c.speculative)
}

type emptyNodeDB struct{}

func (emptyNodeDB) LastHeard(state.NodeId) (time.Time, bool) { return time.Time{}, false }
func (emptyNodeDB) Role(state.NodeId) (state.Role, bool)     { return state.RoleClient, false }

type discardTransport struct{}

func (discardTransport) Send(*protocol.Packet) error             { return nil }
func (discardTransport) CancelSending(state.NodeId, uint32) bool { return false }

type unlimitedAirtime struct{}

func (unlimitedAirtime) AllowTransmit() bool { return true }
