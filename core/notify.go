package core

import (
	"fmt"

	"github.com/dustin/go-broadcast"
	"github.com/encodeous/srmesh/state"
)

type NotifyKind uint8

const (
	NotifyNeighborAdded NotifyKind = iota
	NotifyTopologyChanged
	NotifyRoutingInfo
	NotifyRelayed
	NotifySuppressed
	NotifyRetransmit
)

func (k NotifyKind) String() string {
	switch k {
	case NotifyNeighborAdded:
		return "neighbor-added"
	case NotifyTopologyChanged:
		return "topology-changed"
	case NotifyRoutingInfo:
		return "routing-info"
	case NotifyRelayed:
		return "relayed"
	case NotifySuppressed:
		return "suppressed"
	case NotifyRetransmit:
		return "retransmit"
	}
	return fmt.Sprintf("notify(%d)", uint8(k))
}

// Notification is a fire and forget event for indicators (LEDs, displays, traces)
type Notification struct {
	Kind NotifyKind
	Node state.NodeId
}

func (n Notification) String() string {
	return fmt.Sprintf("%s %s", n.Kind, n.Node)
}

// Notifier owns the broadcaster that notifications are published on
type Notifier struct {
	broadcast.Broadcaster
}

func (n *Notifier) Init(s *state.State) error {
	n.Broadcaster = broadcast.NewBroadcaster(state.NotifyBufferLen)
	return nil
}

func (n *Notifier) Cleanup(s *state.State) error {
	return n.Broadcaster.Close()
}

// notify never blocks, events are dropped when the broadcaster is backed up
func (c *Coordinator) notify(kind NotifyKind, node state.NodeId) {
	if c.events == nil {
		return
	}
	c.events.TrySubmit(Notification{Kind: kind, Node: node})
}
