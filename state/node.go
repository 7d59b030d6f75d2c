package state

import (
	"fmt"
	"strings"
)

// NodeId is the 32-bit network address of a mesh node
type NodeId uint32

const (
	// NodeNone is never a valid vertex, it marks "no node" (e.g. no next hop)
	NodeNone NodeId = 0
	// NodeBroadcast is the flood destination address
	NodeBroadcast NodeId = 0xFFFFFFFF
)

func (n NodeId) String() string {
	return fmt.Sprintf("!%08x", uint32(n))
}

// Valid reports whether n can be a graph vertex
func (n NodeId) Valid() bool {
	return n != NodeNone && n != NodeBroadcast
}

func (n NodeId) IsBroadcast() bool {
	return n == NodeBroadcast
}

// RelayId is the compact identifier carried in a packet header by the last relayer
func (n NodeId) RelayId() uint8 {
	return uint8(n & 0xFF)
}

// ParseNodeId accepts "!a1b2c3d4", "0xa1b2c3d4" or a decimal number
func ParseNodeId(s string) (NodeId, error) {
	s = strings.TrimSpace(s)
	var v uint32
	var err error
	switch {
	case strings.HasPrefix(s, "!"):
		_, err = fmt.Sscanf(s[1:], "%x", &v)
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		_, err = fmt.Sscanf(s[2:], "%x", &v)
	default:
		_, err = fmt.Sscanf(s, "%d", &v)
	}
	if err != nil {
		return NodeNone, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return NodeId(v), nil
}

// Role is the configured device role of a node
type Role uint8

const (
	RoleClient Role = iota
	RoleClientMute
	RoleRouter
	RoleRouterClient
	RoleRepeater
	RoleTracker
	RoleSensor
	RoleTAKTracker
	RoleClientHidden
	RoleLostAndFound
)

var roleNames = map[Role]string{
	RoleClient:       "client",
	RoleClientMute:   "client_mute",
	RoleRouter:       "router",
	RoleRouterClient: "router_client",
	RoleRepeater:     "repeater",
	RoleTracker:      "tracker",
	RoleSensor:       "sensor",
	RoleTAKTracker:   "tak_tracker",
	RoleClientHidden: "client_hidden",
	RoleLostAndFound: "lost_and_found",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Passive roles never rebroadcast on behalf of others
func (r Role) Passive() bool {
	switch r {
	case RoleClientMute, RoleTracker, RoleSensor, RoleTAKTracker, RoleClientHidden, RoleLostAndFound:
		return true
	}
	return false
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	for role, name := range roleNames {
		if name == string(b) {
			*r = role
			return nil
		}
	}
	return fmt.Errorf("unknown role %q", string(b))
}
