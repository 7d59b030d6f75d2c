package protocol

import (
	"errors"
	"fmt"

	"github.com/encodeous/srmesh/state"
	"google.golang.org/protobuf/encoding/protowire"
)

// MaxNeighbors bounds the neighbour table in a single routing info message
const MaxNeighbors = 4

var (
	ErrTooManyNeighbors = fmt.Errorf("signal routing info carries more than %d neighbors", MaxNeighbors)
	ErrWireType         = errors.New("unexpected wire type")
)

// SignalNeighbor is one advertised link, sender -> NodeId
type SignalNeighbor struct {
	NodeId             state.NodeId `yaml:"node_id"`
	LastRxTime         uint32       `yaml:"last_rx_time,omitempty"`
	Rssi               int32        `yaml:"rssi"`
	Snr                int32        `yaml:"snr"`
	SignalBasedCapable bool         `yaml:"signal_based_capable"`
	PositionVariance   uint32       `yaml:"position_variance,omitempty"`
}

// SignalRoutingInfo is the periodic topology advertisement, wire compatible with srmesh.proto
type SignalRoutingInfo struct {
	NodeId             state.NodeId     `yaml:"node_id"`
	SignalBasedCapable bool             `yaml:"signal_based_capable"`
	RoutingVersion     uint32           `yaml:"routing_version"`
	Neighbors          []SignalNeighbor `yaml:"neighbors"`
}

const (
	fieldInfoNodeId       protowire.Number = 1
	fieldInfoCapable      protowire.Number = 2
	fieldInfoVersion      protowire.Number = 3
	fieldInfoNeighbors    protowire.Number = 4
	fieldNeighborNodeId   protowire.Number = 1
	fieldNeighborLastRx   protowire.Number = 2
	fieldNeighborRssi     protowire.Number = 3
	fieldNeighborSnr      protowire.Number = 4
	fieldNeighborCapable  protowire.Number = 5
	fieldNeighborVariance protowire.Number = 6
)

func (m *SignalRoutingInfo) Marshal() ([]byte, error) {
	if len(m.Neighbors) > MaxNeighbors {
		return nil, ErrTooManyNeighbors
	}
	var b []byte
	if m.NodeId != 0 {
		b = protowire.AppendTag(b, fieldInfoNodeId, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, uint32(m.NodeId))
	}
	if m.SignalBasedCapable {
		b = protowire.AppendTag(b, fieldInfoCapable, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if m.RoutingVersion != 0 {
		b = protowire.AppendTag(b, fieldInfoVersion, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.RoutingVersion))
	}
	for i := range m.Neighbors {
		b = protowire.AppendTag(b, fieldInfoNeighbors, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Neighbors[i].marshal())
	}
	return b, nil
}

func (n *SignalNeighbor) marshal() []byte {
	var b []byte
	if n.NodeId != 0 {
		b = protowire.AppendTag(b, fieldNeighborNodeId, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, uint32(n.NodeId))
	}
	if n.LastRxTime != 0 {
		b = protowire.AppendTag(b, fieldNeighborLastRx, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, n.LastRxTime)
	}
	if n.Rssi != 0 {
		b = protowire.AppendTag(b, fieldNeighborRssi, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(n.Rssi)))
	}
	if n.Snr != 0 {
		b = protowire.AppendTag(b, fieldNeighborSnr, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(n.Snr)))
	}
	if n.SignalBasedCapable {
		b = protowire.AppendTag(b, fieldNeighborCapable, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if n.PositionVariance != 0 {
		b = protowire.AppendTag(b, fieldNeighborVariance, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(n.PositionVariance))
	}
	return b
}

// UnmarshalRoutingInfo decodes a routing info payload. Unknown fields are skipped.
func UnmarshalRoutingInfo(b []byte) (*SignalRoutingInfo, error) {
	m := &SignalRoutingInfo{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldInfoNodeId:
			v, n, err := consumeFixed32(typ, b)
			m.NodeId = state.NodeId(v)
			return n, err
		case fieldInfoCapable:
			v, n, err := consumeVarint(typ, b)
			m.SignalBasedCapable = protowire.DecodeBool(v)
			return n, err
		case fieldInfoVersion:
			v, n, err := consumeVarint(typ, b)
			m.RoutingVersion = uint32(v)
			return n, err
		case fieldInfoNeighbors:
			if typ != protowire.BytesType {
				return 0, fmt.Errorf("field %d: %w", num, ErrWireType)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			if len(m.Neighbors) == MaxNeighbors {
				return 0, ErrTooManyNeighbors
			}
			nb, err := unmarshalNeighbor(v)
			if err != nil {
				return 0, fmt.Errorf("neighbor %d: %w", len(m.Neighbors), err)
			}
			m.Neighbors = append(m.Neighbors, nb)
			return n, nil
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func unmarshalNeighbor(b []byte) (SignalNeighbor, error) {
	var nb SignalNeighbor
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldNeighborNodeId:
			v, n, err := consumeFixed32(typ, b)
			nb.NodeId = state.NodeId(v)
			return n, err
		case fieldNeighborLastRx:
			v, n, err := consumeFixed32(typ, b)
			nb.LastRxTime = v
			return n, err
		case fieldNeighborRssi:
			v, n, err := consumeVarint(typ, b)
			nb.Rssi = int32(protowire.DecodeZigZag(v))
			return n, err
		case fieldNeighborSnr:
			v, n, err := consumeVarint(typ, b)
			nb.Snr = int32(protowire.DecodeZigZag(v))
			return n, err
		case fieldNeighborCapable:
			v, n, err := consumeVarint(typ, b)
			nb.SignalBasedCapable = protowire.DecodeBool(v)
			return n, err
		case fieldNeighborVariance:
			v, n, err := consumeVarint(typ, b)
			nb.PositionVariance = uint32(v)
			return n, err
		}
		return skip(num, typ, b)
	})
	return nb, err
}

// walk feeds every field of a message to fn, which returns how many value bytes it consumed
func walk(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func skip(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

func consumeFixed32(typ protowire.Type, b []byte) (uint32, int, error) {
	if typ != protowire.Fixed32Type {
		return 0, 0, ErrWireType
	}
	v, n := protowire.ConsumeFixed32(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, ErrWireType
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}
