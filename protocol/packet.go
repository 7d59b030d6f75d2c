// Package protocol holds the over the air types the routing engine reads and writes.
package protocol

import (
	"fmt"
	"slices"
	"time"

	"github.com/encodeous/srmesh/state"
)

// PortNum identifies the application a packet payload belongs to
type PortNum uint16

const (
	PortUnknown       PortNum = 0
	PortText          PortNum = 1
	PortPosition      PortNum = 3
	PortNodeInfo      PortNum = 4
	PortRouting       PortNum = 5
	PortTelemetry     PortNum = 67
	PortTraceroute    PortNum = 70
	PortSignalRouting PortNum = 261
)

var portNames = map[PortNum]string{
	PortUnknown:       "unknown",
	PortText:          "text",
	PortPosition:      "position",
	PortNodeInfo:      "nodeinfo",
	PortRouting:       "routing",
	PortTelemetry:     "telemetry",
	PortTraceroute:    "traceroute",
	PortSignalRouting: "signal-routing",
}

func (p PortNum) String() string {
	if s, ok := portNames[p]; ok {
		return s
	}
	return fmt.Sprintf("port(%d)", uint16(p))
}

// Packet is the header and decoded payload of a mesh packet as seen by the router
type Packet struct {
	From      state.NodeId
	To        state.NodeId
	Id        uint32
	Channel   uint8
	HopLimit  uint8
	HopStart  uint8
	RelayNode uint8
	// NextHop is the low byte of the relayer a routed packet is addressed to, 0 when flooding
	NextHop uint8
	WantAck bool

	RxTime  time.Time
	RxRssi  int32
	RxSnr   float32
	ViaMQTT bool

	Port PortNum
	// RequestId is set on replies and acknowledgements to the id they answer
	RequestId uint32
	Payload   []byte
	// Role is carried by node info and position packets, valid when HasRole is set
	Role    state.Role
	HasRole bool
}

func (p *Packet) IsBroadcast() bool {
	return p.To.IsBroadcast()
}

// HasSignal reports whether the radio attached signal metadata on receive
func (p *Packet) HasSignal() bool {
	return p.RxRssi != 0 || p.RxSnr != 0
}

// HopsAway is how many relays the packet went through, or -1 if unknown
func (p *Packet) HopsAway() int {
	if p.HopStart == 0 || p.HopLimit > p.HopStart {
		return -1
	}
	return int(p.HopStart - p.HopLimit)
}

func (p *Packet) Clone() *Packet {
	c := *p
	c.Payload = slices.Clone(p.Payload)
	return &c
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s -> %s #%08x [%s] relay=%02x next=%02x hops=%d/%d", p.From, p.To, p.Id, p.Port, p.RelayNode, p.NextHop, p.HopLimit, p.HopStart)
}
