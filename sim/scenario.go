package sim

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/encodeous/srmesh/core"
	"github.com/encodeous/srmesh/state"
	"github.com/goccy/go-yaml"
	"go.uber.org/multierr"
)

// Scenario describes a simulated mesh, how it is linked and what it sends
type Scenario struct {
	Seed     uint64        `yaml:"seed,omitempty"`
	Step     time.Duration `yaml:"step,omitempty"`
	Warmup   time.Duration `yaml:"warmup,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty"`
	HopLimit uint8         `yaml:"hop_limit,omitempty"`
	// Defaults applies to every node without its own routing section
	Defaults     state.RoutingCfg `yaml:"defaults,omitempty"`
	Nodes        []ScenarioNode   `yaml:"nodes"`
	Topology     []string         `yaml:"topology,omitempty"`
	LinkDefaults LinkCfg          `yaml:"link_defaults,omitempty"`
	Links        []LinkCfg        `yaml:"links,omitempty"`
	Traffic      []TrafficCfg     `yaml:"traffic,omitempty"`
}

type ScenarioNode struct {
	Name          string            `yaml:"name"`
	Id            state.NodeId      `yaml:"id,omitempty"`
	Role          state.Role        `yaml:"role,omitempty"`
	Routing       *state.RoutingCfg `yaml:"routing,omitempty"`
	AirtimeBudget int               `yaml:"airtime_budget,omitempty"`
}

// LinkCfg is a radio link between two named nodes, both ways unless OneWay
type LinkCfg struct {
	From   string  `yaml:"from,omitempty"`
	To     string  `yaml:"to,omitempty"`
	Rssi   int32   `yaml:"rssi,omitempty"`
	Snr    float32 `yaml:"snr,omitempty"`
	Loss   float64 `yaml:"loss,omitempty"`
	OneWay bool    `yaml:"one_way,omitempty"`
}

// TrafficCfg sends Count packets from From, starting At after the warmup
type TrafficCfg struct {
	At       time.Duration `yaml:"at"`
	From     string        `yaml:"from"`
	To       string        `yaml:"to"` // a node name, or broadcast
	WantAck  bool          `yaml:"want_ack,omitempty"`
	Count    int           `yaml:"count,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
}

const BroadcastName = "broadcast"

func ReadScenario(path string) (*Scenario, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(file)
}

func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	sc.expand()
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) expand() {
	if sc.Step == 0 {
		sc.Step = time.Second
	}
	if sc.Duration == 0 {
		sc.Duration = time.Minute
	}
	if sc.HopLimit == 0 {
		sc.HopLimit = DefaultHopLimit
	}
	if sc.LinkDefaults.Rssi == 0 && sc.LinkDefaults.Snr == 0 {
		sc.LinkDefaults.Rssi, sc.LinkDefaults.Snr = -70, 8
	}
	for i := range sc.Nodes {
		if sc.Nodes[i].Id == state.NodeNone {
			sc.Nodes[i].Id = state.NodeId(0x5a000000 | uint32(i+1))
		}
	}
	for i := range sc.Traffic {
		if sc.Traffic[i].Count == 0 {
			sc.Traffic[i].Count = 1
		}
	}
}

func (sc *Scenario) names() []string {
	names := make([]string, 0, len(sc.Nodes))
	for _, n := range sc.Nodes {
		names = append(names, n.Name)
	}
	return names
}

func (sc *Scenario) idOf(name string) (state.NodeId, bool) {
	if name == BroadcastName {
		return state.NodeBroadcast, true
	}
	for _, n := range sc.Nodes {
		if n.Name == name {
			return n.Id, true
		}
	}
	return state.NodeNone, false
}

func (sc *Scenario) Validate() error {
	var errs error
	if len(sc.Nodes) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("scenario has no nodes"))
	}
	if len(sc.Nodes) > 254 {
		errs = multierr.Append(errs, fmt.Errorf("at most 254 nodes can be told apart by relay byte, got %d", len(sc.Nodes)))
	}
	if sc.Step <= 0 || sc.Duration < 0 || sc.Warmup < 0 {
		errs = multierr.Append(errs, fmt.Errorf("step, warmup and duration must not be negative"))
	}
	names := make(map[string]bool)
	relays := make(map[uint8]string)
	for _, n := range sc.Nodes {
		if n.Name == BroadcastName {
			errs = multierr.Append(errs, fmt.Errorf("%s is reserved", BroadcastName))
		} else if err := state.NameValidator(n.Name); err != nil {
			errs = multierr.Append(errs, err)
		}
		if names[n.Name] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate node name %q", n.Name))
		}
		names[n.Name] = true
		if !n.Id.Valid() || n.Id.RelayId() == 0 {
			errs = multierr.Append(errs, fmt.Errorf("node %s has an unusable id %s", n.Name, n.Id))
		}
		if other, ok := relays[n.Id.RelayId()]; ok {
			errs = multierr.Append(errs, fmt.Errorf("nodes %s and %s share relay byte %02x", other, n.Name, n.Id.RelayId()))
		}
		relays[n.Id.RelayId()] = n.Name
	}
	for _, l := range sc.Links {
		if !names[l.From] || !names[l.To] || l.From == l.To {
			errs = multierr.Append(errs, fmt.Errorf("invalid link %s -> %s", l.From, l.To))
		}
		if l.Loss < 0 || l.Loss > 1 {
			errs = multierr.Append(errs, fmt.Errorf("link %s -> %s loss must be within [0, 1]", l.From, l.To))
		}
	}
	if len(sc.Topology) > 0 {
		if _, err := state.ParseTopology(sc.Topology, sc.names()); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("topology: %w", err))
		}
	}
	for _, tr := range sc.Traffic {
		if !names[tr.From] {
			errs = multierr.Append(errs, fmt.Errorf("traffic from unknown node %q", tr.From))
		}
		if _, ok := sc.idOf(tr.To); !ok || tr.To == tr.From {
			errs = multierr.Append(errs, fmt.Errorf("traffic to invalid node %q", tr.To))
		}
		if tr.Count > 1 && tr.Interval <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("traffic from %s repeats without an interval", tr.From))
		}
	}
	return errs
}

// Harness builds the nodes and links of the scenario, the harness is not started
func (sc *Scenario) Harness(level slog.Level, out io.Writer) (*VirtualHarness, error) {
	h := NewHarness(sc.Seed)
	h.HopLimit = sc.HopLimit
	h.LogLevel = level
	if out != nil {
		h.LogOutput = out
	}
	for _, n := range sc.Nodes {
		cfg := state.NodeCfg{Id: n.Id, Role: n.Role, Routing: sc.Defaults}
		if n.Routing != nil {
			cfg.Routing = *n.Routing
		}
		h.NewNode(cfg).AirtimeBudget = n.AirtimeBudget
	}

	connect := func(l LinkCfg) {
		from, _ := sc.idOf(l.From)
		to, _ := sc.idOf(l.To)
		h.RemoveLink(from, to)
		h.AddLink(from, to).WithSignal(l.Rssi, l.Snr).WithPacketLoss(l.Loss)
		if !l.OneWay {
			h.RemoveLink(to, from)
			h.AddLink(to, from).WithSignal(l.Rssi, l.Snr).WithPacketLoss(l.Loss)
		}
	}
	if len(sc.Topology) > 0 {
		pairs, err := state.ParseTopology(sc.Topology, sc.names())
		if err != nil {
			return nil, err
		}
		for _, p := range pairs {
			l := sc.LinkDefaults
			l.From, l.To, l.OneWay = p.V1, p.V2, false
			connect(l)
		}
	}
	for _, l := range sc.Links {
		if l.Rssi == 0 && l.Snr == 0 {
			l.Rssi, l.Snr = sc.LinkDefaults.Rssi, sc.LinkDefaults.Snr
		}
		connect(l)
	}
	return h, nil
}

type Report struct {
	Seed          uint64          `yaml:"seed"`
	Elapsed       time.Duration   `yaml:"elapsed"`
	Transmissions int             `yaml:"transmissions"`
	Traffic       []TrafficReport `yaml:"traffic"`
	Nodes         []NodeReport    `yaml:"nodes"`
}

type TrafficReport struct {
	Packet        string   `yaml:"packet"`
	From          string   `yaml:"from"`
	To            string   `yaml:"to"`
	Transmissions int      `yaml:"transmissions"`
	Delivered     []string `yaml:"delivered,omitempty"`
	Reached       bool     `yaml:"reached"`
}

type NodeReport struct {
	Name          string        `yaml:"name"`
	Transmissions int           `yaml:"transmissions"`
	Snapshot      core.Snapshot `yaml:"snapshot"`
}

func (r *Report) YAML() ([]byte, error) {
	return yaml.Marshal(r)
}

type sent struct {
	cfg TrafficCfg
	key PacketKey
}

// Run plays the scenario to completion, or until ctx ends
func (sc *Scenario) Run(ctx context.Context, level slog.Level, out io.Writer) (*Report, error) {
	h, err := sc.Harness(level, out)
	if err != nil {
		return nil, err
	}
	if err := h.Start(); err != nil {
		return nil, err
	}
	defer h.Stop()

	if err := sc.advance(ctx, h, sc.Warmup, nil); err != nil {
		return nil, err
	}

	type due struct {
		at  time.Duration
		cfg TrafficCfg
	}
	schedule := make([]due, 0)
	for _, tr := range sc.Traffic {
		for i := 0; i < tr.Count; i++ {
			schedule = append(schedule, due{tr.At + time.Duration(i)*tr.Interval, tr})
		}
	}
	slices.SortStableFunc(schedule, func(a, b due) int {
		return cmp.Compare(a.at, b.at)
	})

	var history []sent
	err = sc.advance(ctx, h, sc.Duration, func(elapsed time.Duration) error {
		for len(schedule) > 0 && schedule[0].at <= elapsed {
			tr := schedule[0].cfg
			schedule = schedule[1:]
			from, _ := sc.idOf(tr.From)
			to, _ := sc.idOf(tr.To)
			key, err := h.Send(from, to, tr.WantAck)
			if err != nil {
				return err
			}
			history = append(history, sent{tr, key})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sc.report(h, history)
}

func (sc *Scenario) advance(ctx context.Context, h *VirtualHarness, total time.Duration, before func(elapsed time.Duration) error) error {
	for elapsed := time.Duration(0); elapsed < total; elapsed += sc.Step {
		if err := ctx.Err(); err != nil {
			return err
		}
		if before != nil {
			if err := before(elapsed); err != nil {
				return err
			}
		}
		if err := h.Step(sc.Step); err != nil {
			return err
		}
	}
	return nil
}

func (sc *Scenario) nameOf(id state.NodeId) string {
	for _, n := range sc.Nodes {
		if n.Id == id {
			return n.Name
		}
	}
	return id.String()
}

func (sc *Scenario) report(h *VirtualHarness, history []sent) (*Report, error) {
	stats := h.Stats()
	r := &Report{
		Seed:          sc.Seed,
		Elapsed:       sc.Warmup + sc.Duration,
		Transmissions: stats.Total(),
	}
	for _, s := range history {
		tr := TrafficReport{
			Packet:        s.key.String(),
			From:          s.cfg.From,
			To:            s.cfg.To,
			Transmissions: stats.Packets[s.key],
		}
		to, _ := sc.idOf(s.cfg.To)
		for _, id := range stats.Delivered[s.key] {
			tr.Delivered = append(tr.Delivered, sc.nameOf(id))
			if id == to {
				tr.Reached = true
			}
		}
		slices.Sort(tr.Delivered)
		if to == state.NodeBroadcast {
			tr.Reached = len(tr.Delivered) == len(sc.Nodes)-1
		}
		r.Traffic = append(r.Traffic, tr)
	}
	for _, n := range sc.Nodes {
		snap, err := h.Snapshot(n.Id)
		if err != nil {
			return nil, err
		}
		r.Nodes = append(r.Nodes, NodeReport{
			Name:          n.Name,
			Transmissions: stats.Transmissions[n.Id],
			Snapshot:      snap,
		})
	}
	return r, nil
}
