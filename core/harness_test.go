package core

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/srmesh/protocol"
	"github.com/encodeous/srmesh/state"
	"github.com/google/go-cmp/cmp"
)

type HarnessEvent struct {
	Message string
	Args    []any
}

func MakeEvent(msg string, args ...any) HarnessEvent {
	return HarnessEvent{
		Message: msg,
		Args:    args,
	}
}

// RouterHarness stands in for the radio, the node database and the duty cycle limiter
type RouterHarness struct {
	actions []HarnessEvent
	Clock   *clock.Mock
	heard   map[state.NodeId]time.Time
	roles   map[state.NodeId]state.Role
	// NoAirtime makes AllowTransmit refuse
	NoAirtime bool
	SendErr   error
}

func NewRouterHarness() *RouterHarness {
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return &RouterHarness{
		Clock: clk,
		heard: make(map[state.NodeId]time.Time),
		roles: make(map[state.NodeId]state.Role),
	}
}

func (h *RouterHarness) Send(p *protocol.Packet) error {
	if h.SendErr != nil {
		return h.SendErr
	}
	h.actions = append(h.actions, MakeEvent("SEND", p.To, p.Port, p.Id))
	return nil
}

func (h *RouterHarness) CancelSending(from state.NodeId, id uint32) bool {
	h.actions = append(h.actions, MakeEvent("CANCEL", from, id))
	return true
}

func (h *RouterHarness) LastHeard(id state.NodeId) (time.Time, bool) {
	t, ok := h.heard[id]
	return t, ok
}

func (h *RouterHarness) Role(id state.NodeId) (state.Role, bool) {
	r, ok := h.roles[id]
	return r, ok
}

func (h *RouterHarness) AllowTransmit() bool {
	return !h.NoAirtime
}

// Hear marks ids as heard by the node database right now
func (h *RouterHarness) Hear(ids ...state.NodeId) {
	for _, id := range ids {
		h.heard[id] = h.Clock.Now()
	}
}

func (h *RouterHarness) SetRole(id state.NodeId, role state.Role) {
	h.roles[id] = role
}

func (h *RouterHarness) Coordinator(id state.NodeId, role state.Role, mode state.GraphMode) *Coordinator {
	cfg := state.NodeCfg{Id: id, Role: role, Routing: state.RoutingCfg{Mode: mode}}
	state.ExpandNodeConfig(&cfg)
	return NewCoordinator(cfg, Deps{
		Clock:     h.Clock,
		Nodes:     h,
		Transport: h,
		Airtime:   h,
		Log:       slog.New(slog.DiscardHandler),
	})
}

type HarnessEvents []HarnessEvent

func (h HarnessEvents) String() string {
	out := make([]string, 0)
	for _, action := range h {
		cur := action.Message
		for _, arg := range action.Args {
			cur += " " + fmt.Sprint(arg)
		}
		out = append(out, cur)
	}
	slices.Sort(out)
	return strings.Join(out, "\n")
}

func (h *RouterHarness) GetActions() HarnessEvents {
	x := h.actions
	h.actions = make([]HarnessEvent, 0)
	return x
}

func (e HarnessEvents) count(msg string, args ...any) int {
	n := 0
	for _, event := range e {
		if event.Message != msg || len(event.Args) < len(args) {
			continue
		}
		match := true
		for i, arg := range args {
			if !cmp.Equal(event.Args[i], arg) {
				match = false
				break
			}
		}
		if match {
			n++
		}
	}
	return n
}

func (e HarnessEvents) AssertContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.count(msg, args...) > 0 {
		return
	}
	t.Fatal("Expected event not found: ", msg, " with args: ", args, " in ", e)
}

func (e HarnessEvents) AssertNotContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.count(msg, args...) > 0 {
		t.Fatal("Unexpected event found: ", msg, " with args: ", args, " in ", e)
	}
}

// DirectPacket is a packet from `from` heard straight off the air
func DirectPacket(from, to state.NodeId, id uint32, rssi int32, snr float32) *protocol.Packet {
	return &protocol.Packet{
		From:      from,
		To:        to,
		Id:        id,
		HopLimit:  3,
		HopStart:  3,
		RelayNode: from.RelayId(),
		RxRssi:    rssi,
		RxSnr:     snr,
		Port:      protocol.PortText,
	}
}

// Link adds a symmetric pair of Reported edges to the graph of c
func Link(c *Coordinator, a, b state.NodeId, etx float64) {
	now := c.clock.Now()
	c.graph.UpdateEdge(a, b, etx, now, 0, state.Reported)
	c.graph.UpdateEdge(b, a, etx, now, 0, state.Reported)
}
