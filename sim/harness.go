// Package sim runs a set of routing nodes over an in-memory radio so that relay and route
// decisions can be observed end to end.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/srmesh/core"
	"github.com/encodeous/srmesh/protocol"
	"github.com/encodeous/srmesh/state"
)

var (
	SettleTimeout   = 10 * time.Second
	DefaultHopLimit = state.DefaultHopLimit
	// SimEpoch is where the virtual clock starts
	SimEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

// VirtualLink carries transmissions of From to To, one way
type VirtualLink struct {
	From       state.NodeId
	To         state.NodeId
	Rssi       int32
	Snr        float32
	PacketLoss float64
}

func (v *VirtualLink) WithSignal(rssi int32, snr float32) *VirtualLink {
	v.Rssi = rssi
	v.Snr = snr
	return v
}

func (v *VirtualLink) WithPacketLoss(loss float64) *VirtualLink {
	v.PacketLoss = loss
	return v
}

// PacketKey identifies a packet across every copy of it in the air
type PacketKey struct {
	From state.NodeId
	Id   uint32
}

func (k PacketKey) String() string {
	return fmt.Sprintf("%s#%08x", k.From, k.Id)
}

// Stats counts what went over the air since the harness started
type Stats struct {
	// Transmissions by transmitting node
	Transmissions map[state.NodeId]int
	// Airings of each packet, originals and relays alike
	Packets   map[PacketKey]int
	Delivered map[PacketKey][]state.NodeId
}

func (s Stats) Total() int {
	n := 0
	for _, c := range s.Transmissions {
		n += c
	}
	return n
}

/*
VirtualHarness hosts one core.Node per configured node. Every node runs its own dispatch loop
while time only moves when the harness steps the shared mock clock, so a run is repeatable up to
the interleaving of concurrent deliveries.
*/
type VirtualHarness struct {
	Clock     *clock.Mock
	Context   context.Context
	Cancel    context.CancelCauseFunc
	HopLimit  uint8
	LogLevel  slog.Level
	LogOutput io.Writer

	cfgs  []state.NodeCfg
	nodes []*VirtualNode
	byId  map[state.NodeId]*VirtualNode
	done  []chan error

	linkMu sync.RWMutex
	links  map[state.NodeId][]*VirtualLink

	rngMu sync.Mutex
	rng   *rand.Rand

	inflight atomic.Int64

	statsMu sync.Mutex
	stats   Stats
}

func NewHarness(seed uint64) *VirtualHarness {
	clk := clock.NewMock()
	clk.Set(SimEpoch)
	return &VirtualHarness{
		Clock:     clk,
		HopLimit:  DefaultHopLimit,
		LogOutput: io.Discard,
		byId:      make(map[state.NodeId]*VirtualNode),
		links:     make(map[state.NodeId][]*VirtualLink),
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		stats: Stats{
			Transmissions: make(map[state.NodeId]int),
			Packets:       make(map[PacketKey]int),
			Delivered:     make(map[PacketKey][]state.NodeId),
		},
	}
}

// NewNode registers a node to be started with the harness
func (v *VirtualHarness) NewNode(cfg state.NodeCfg) *VirtualNode {
	vn := &VirtualNode{
		Id:    cfg.Id,
		h:     v,
		heard: make(map[state.NodeId]time.Time),
		roles: make(map[state.NodeId]state.Role),
		seen:  make(map[PacketKey]time.Time),
	}
	v.cfgs = append(v.cfgs, cfg)
	v.nodes = append(v.nodes, vn)
	v.byId[cfg.Id] = vn
	return vn
}

func (v *VirtualHarness) Node(id state.NodeId) *VirtualNode {
	return v.byId[id]
}

func (v *VirtualHarness) AddLink(from, to state.NodeId) *VirtualLink {
	link := &VirtualLink{From: from, To: to, Rssi: -70, Snr: 8}
	v.linkMu.Lock()
	defer v.linkMu.Unlock()
	v.links[from] = append(v.links[from], link)
	return link
}

// Connect links a and b both ways with the same signal
func (v *VirtualHarness) Connect(a, b state.NodeId, rssi int32, snr float32) {
	v.AddLink(a, b).WithSignal(rssi, snr)
	v.AddLink(b, a).WithSignal(rssi, snr)
}

func (v *VirtualHarness) RemoveLink(from, to state.NodeId) {
	v.linkMu.Lock()
	defer v.linkMu.Unlock()
	v.links[from] = slices.DeleteFunc(v.links[from], func(l *VirtualLink) bool {
		return l.To == to
	})
}

func (v *VirtualHarness) Start() error {
	ctx, cancel := context.WithCancelCause(context.Background())
	v.Context = ctx
	v.Cancel = cancel
	for i, cfg := range v.cfgs {
		vn := v.nodes[i]
		n, err := core.NewNode(cfg, core.Options{
			Deps: core.Deps{
				Clock:     v.Clock,
				Nodes:     vn,
				Transport: vn,
				Airtime:   vn,
			},
			Context:    ctx,
			LogLevel:   v.LogLevel,
			LogOutput:  v.LogOutput,
			ManualTick: true,
		})
		if err != nil {
			v.Stop()
			return fmt.Errorf("node %s: %w", cfg.Id, err)
		}
		vn.node = n
		done := make(chan error, 1)
		v.done = append(v.done, done)
		go func() {
			done <- n.Run()
		}()
	}
	return nil
}

func (v *VirtualHarness) Stop() {
	if v.Cancel == nil {
		return
	}
	v.Cancel(errors.New("stopping harness"))
	for _, done := range v.done {
		<-done
	}
	v.done = nil
}

// Settle waits until every delivery handed to a node has been processed
func (v *VirtualHarness) Settle() error {
	deadline := time.Now().Add(SettleTimeout)
	for v.inflight.Load() > 0 {
		if err := v.Context.Err(); err != nil {
			return context.Cause(v.Context)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("network did not settle, %d deliveries in flight", v.inflight.Load())
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// Step moves the clock forward by d, then lets each node in turn transmit its queued relays and run its maintenance tick
func (v *VirtualHarness) Step(d time.Duration) error {
	v.Clock.Add(d)
	for _, vn := range v.nodes {
		_, err := vn.node.DispatchWait(func(s *state.State) (any, error) {
			vn.used = 0
			vn.flush()
			core.Get[*core.Router](s).Tick()
			return nil, nil
		})
		if err != nil {
			return err
		}
		if err := v.Settle(); err != nil {
			return err
		}
	}
	return nil
}

// Advance steps repeatedly until total has elapsed
func (v *VirtualHarness) Advance(total, step time.Duration) error {
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		if err := v.Step(step); err != nil {
			return err
		}
	}
	return nil
}

// Send originates a text packet from `from`, to is NodeBroadcast for a flood
func (v *VirtualHarness) Send(from, to state.NodeId, wantAck bool) (PacketKey, error) {
	vn, ok := v.byId[from]
	if !ok {
		return PacketKey{}, fmt.Errorf("unknown node %s", from)
	}
	res, err := vn.node.DispatchWait(func(s *state.State) (any, error) {
		p := &protocol.Packet{To: to, WantAck: wantAck, Port: protocol.PortText}
		return vn.originate(p), nil
	})
	if err != nil {
		return PacketKey{}, err
	}
	if err := v.Settle(); err != nil {
		return PacketKey{}, err
	}
	return res.(PacketKey), nil
}

// Query runs fun against the coordinator of node id on its dispatch loop
func Query[T any](v *VirtualHarness, id state.NodeId, fun func(c *core.Coordinator) T) (T, error) {
	var zero T
	vn, ok := v.byId[id]
	if !ok {
		return zero, fmt.Errorf("unknown node %s", id)
	}
	res, err := vn.node.DispatchWait(func(s *state.State) (any, error) {
		return fun(core.Get[*core.Router](s).Coordinator), nil
	})
	if err != nil {
		return zero, err
	}
	out, _ := res.(T)
	return out, nil
}

func (v *VirtualHarness) Snapshot(id state.NodeId) (core.Snapshot, error) {
	return Query(v, id, (*core.Coordinator).Snapshot)
}

// Stats copies the counters collected so far
func (v *VirtualHarness) Stats() Stats {
	v.statsMu.Lock()
	defer v.statsMu.Unlock()
	out := Stats{
		Transmissions: maps.Clone(v.stats.Transmissions),
		Packets:       maps.Clone(v.stats.Packets),
		Delivered:     make(map[PacketKey][]state.NodeId, len(v.stats.Delivered)),
	}
	for k, ids := range v.stats.Delivered {
		out.Delivered[k] = slices.Clone(ids)
	}
	return out
}

func (v *VirtualHarness) lossy(l *VirtualLink) bool {
	if l.PacketLoss <= 0 {
		return false
	}
	v.rngMu.Lock()
	defer v.rngMu.Unlock()
	return v.rng.Float64() < l.PacketLoss
}

// transmit airs p from node `from`, every linked node receives its own copy
func (v *VirtualHarness) transmit(from *VirtualNode, p *protocol.Packet) {
	v.statsMu.Lock()
	v.stats.Transmissions[from.Id]++
	v.stats.Packets[PacketKey{p.From, p.Id}]++
	v.statsMu.Unlock()

	v.linkMu.RLock()
	links := slices.Clone(v.links[from.Id])
	v.linkMu.RUnlock()
	now := v.Clock.Now()
	for _, l := range links {
		to, ok := v.byId[l.To]
		if !ok || v.lossy(l) {
			continue
		}
		rx := p.Clone()
		rx.RelayNode = from.Id.RelayId()
		rx.RxRssi = l.Rssi
		rx.RxSnr = l.Snr
		rx.RxTime = now
		v.inflight.Add(1)
		to.node.Dispatch(func(s *state.State) error {
			defer v.inflight.Add(-1)
			to.receive(core.Get[*core.Router](s).Coordinator, rx)
			return nil
		})
	}
}

func (v *VirtualHarness) delivered(key PacketKey, to state.NodeId) {
	v.statsMu.Lock()
	defer v.statsMu.Unlock()
	v.stats.Delivered[key] = append(v.stats.Delivered[key], to)
}
