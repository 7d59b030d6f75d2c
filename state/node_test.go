package state

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNodeIdFormat(t *testing.T) {
	assert.Equal(t, "!a1b2c3d4", NodeId(0xa1b2c3d4).String())
	assert.Equal(t, uint8(0xd4), NodeId(0xa1b2c3d4).RelayId())
	assert.False(t, NodeNone.Valid())
	assert.False(t, NodeBroadcast.Valid())
	assert.True(t, NodeId(1).Valid())
}

func TestParseNodeId(t *testing.T) {
	for in, want := range map[string]NodeId{
		"!a1b2c3d4":  0xa1b2c3d4,
		"0x00000010": 0x10,
		"42":         42,
	} {
		got, err := ParseNodeId(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseNodeId("!zz")
	assert.Error(t, err)
}

func TestRoleText(t *testing.T) {
	var r Role
	assert.NoError(t, r.UnmarshalText([]byte("tracker")))
	assert.Equal(t, RoleTracker, r)
	assert.True(t, r.Passive())
	assert.Equal(t, CapabilityLegacy, CapabilityFromRole(r))
	assert.Equal(t, CapabilityUnknown, CapabilityFromRole(RoleRouter))
	assert.Error(t, r.UnmarshalText([]byte("toaster")))
}

func TestNoRoute(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NoRoute(5, now)
	assert.False(t, r.Valid())
	assert.Equal(t, NodeNone, r.NextHop)
	assert.True(t, math.IsInf(r.Cost, 1))
	assert.Equal(t, "!00000005 unreachable", r.String())
}
