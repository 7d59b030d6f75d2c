package state

import "time"

var (
	// graph
	EdgeAgingTimeout   = time.Second * 300
	RouteCacheTTL      = time.Second * 300
	LiteRouteCacheTTL  = time.Second * 60
	SignificantETXDiff = 0.20
	MaxEdgesPerNode    = 10
	RelayStateTimeout  = time.Second * 2
	ContentionWindow   = time.Millisecond * 200
	// a best candidate that stays silent this long past the contention window is skipped
	ContentionGrace = time.Millisecond * 500
	// neighbours with at least this many edges are treated as gateways by conservative relaying
	GatewayLikeEdges = 8
	// the Lite variant stores etx*100, this is the ceiling used for unreachable links
	LiteMaxETX = 100.0

	// coordinator
	MaintenanceInterval = time.Second * 300
	NodeInfoMinInterval = time.Second * 60
	RelayIdentityTTL    = time.Second * 120
	GatewayTTL          = time.Minute * 10
	SpeculativeWindow   = time.Millisecond * 500
	SpeculativeJitter   = time.Millisecond * 100
	// signal data used for a relayer we only know by its relay byte
	DefaultRelayRSSI = int32(-70)
	DefaultRelaySNR  = float32(5)
	// costs above this are logged as poor links
	HighRouteCost             = 10.0
	MaxSpeculativeRetransmits = 16
	TopologyLogInterval       = time.Second * 300
	DefaultHopLimit           = uint8(3)

	// runtime
	TickInterval      = time.Millisecond * 100
	SlowDispatchAlert = time.Millisecond * 4
	DispatchQueueLen  = 128
	NotifyBufferLen   = 64

	// defaults applied by ExpandNodeConfig
	DefaultBroadcastCapableThreshold = 0.6
	DefaultCapabilityHeardWindow     = time.Minute * 5
	DefaultCapabilityTTL             = time.Minute * 10
	DefaultBroadcastInterval         = time.Second * 300
	DefaultFullMaxNodes              = 256
	RoutingVersion                   = uint32(1)
)
