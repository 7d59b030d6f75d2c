package protocol

import (
	"errors"
	"testing"

	"github.com/encodeous/srmesh/state"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func fullTable() *SignalRoutingInfo {
	return &SignalRoutingInfo{
		NodeId:             0xa1b2c3d4,
		SignalBasedCapable: true,
		RoutingVersion:     state.RoutingVersion,
		Neighbors: []SignalNeighbor{
			{NodeId: 1, LastRxTime: 1_700_000_000, Rssi: -60, Snr: 10, SignalBasedCapable: true, PositionVariance: 3},
			{NodeId: 2, Rssi: -90, Snr: -5},
			{NodeId: 3, Rssi: -128, Snr: 127, PositionVariance: 255},
			{NodeId: 0xfffffffe},
		},
	}
}

func TestRoutingInfo_RoundTrip(t *testing.T) {
	in := fullTable()
	b, err := in.Marshal()
	require.NoError(t, err)
	out, err := UnmarshalRoutingInfo(b)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRoutingInfo_Empty(t *testing.T) {
	b, err := (&SignalRoutingInfo{}).Marshal()
	require.NoError(t, err)
	assert.Empty(t, b)
	out, err := UnmarshalRoutingInfo(nil)
	require.NoError(t, err)
	assert.Empty(t, out.Neighbors)
}

func TestRoutingInfo_TooManyNeighbors(t *testing.T) {
	in := fullTable()
	in.Neighbors = append(in.Neighbors, SignalNeighbor{NodeId: 9})
	_, err := in.Marshal()
	assert.ErrorIs(t, err, ErrTooManyNeighbors)

	// hand build a five entry table, the decoder must still refuse it
	in.Neighbors = in.Neighbors[:MaxNeighbors]
	b, err := in.Marshal()
	require.NoError(t, err)
	extra := SignalNeighbor{NodeId: 9}
	b = protowire.AppendTag(b, fieldInfoNeighbors, protowire.BytesType)
	b = protowire.AppendBytes(b, extra.marshal())
	_, err = UnmarshalRoutingInfo(b)
	assert.ErrorIs(t, err, ErrTooManyNeighbors)
}

func TestRoutingInfo_SkipsUnknownFields(t *testing.T) {
	in := &SignalRoutingInfo{NodeId: 5, RoutingVersion: 2}
	b, err := in.Marshal()
	require.NoError(t, err)
	b = protowire.AppendTag(b, 15, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	b = protowire.AppendTag(b, 16, protowire.VarintType)
	b = protowire.AppendVarint(b, 99)

	out, err := UnmarshalRoutingInfo(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRoutingInfo_Malformed(t *testing.T) {
	b, err := fullTable().Marshal()
	require.NoError(t, err)
	_, err = UnmarshalRoutingInfo(b[:len(b)-1])
	assert.Error(t, err)

	bad := protowire.AppendTag(nil, fieldInfoNodeId, protowire.VarintType)
	bad = protowire.AppendVarint(bad, 5)
	_, err = UnmarshalRoutingInfo(bad)
	assert.True(t, errors.Is(err, ErrWireType))
}

func TestPacket(t *testing.T) {
	p := &Packet{From: 1, To: state.NodeBroadcast, HopStart: 3, HopLimit: 1, Payload: []byte{1, 2}}
	assert.True(t, p.IsBroadcast())
	assert.False(t, p.HasSignal())
	assert.Equal(t, 2, p.HopsAway())

	c := p.Clone()
	c.Payload[0] = 9
	assert.Equal(t, byte(1), p.Payload[0])

	assert.Equal(t, "signal-routing", PortSignalRouting.String())
	assert.Equal(t, "port(999)", PortNum(999).String())
}
