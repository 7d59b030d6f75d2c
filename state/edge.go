package state

import (
	"fmt"
	"math"
	"time"
)

// EdgeSource records how an edge was learned. Reported takes precedence over Mirrored.
type EdgeSource uint8

const (
	// Mirrored edges are inferred from a neighbour table advertised by a peer
	Mirrored EdgeSource = iota
	// Reported edges are measured by this node from a directly overheard packet
	Reported
)

func (s EdgeSource) String() string {
	if s == Reported {
		return "reported"
	}
	return "mirrored"
}

type EdgeChange uint8

const (
	NoChange EdgeChange = iota
	New
	SignificantChange
)

func (c EdgeChange) String() string {
	switch c {
	case New:
		return "new"
	case SignificantChange:
		return "significant"
	default:
		return "none"
	}
}

// Edge is a directed radio link. Links are not assumed to be symmetric.
type Edge struct {
	From       NodeId
	To         NodeId
	ETX        float64
	LastUpdate time.Time
	Stability  float64
	Variance   uint32
	Source     EdgeSource
}

func (e Edge) String() string {
	return fmt.Sprintf("%s -> %s (etx: %.2f, src: %s)", e.From, e.To, e.ETX, e.Source)
}

type Route struct {
	Destination NodeId
	NextHop     NodeId
	Cost        float64
	Timestamp   time.Time
}

// NoRoute is the unreachable route to dest
func NoRoute(dest NodeId, now time.Time) Route {
	return Route{
		Destination: dest,
		NextHop:     NodeNone,
		Cost:        math.Inf(1),
		Timestamp:   now,
	}
}

func (r Route) Valid() bool {
	return r.NextHop != NodeNone && !math.IsInf(r.Cost, 1)
}

func (r Route) String() string {
	if !r.Valid() {
		return fmt.Sprintf("%s unreachable", r.Destination)
	}
	return fmt.Sprintf("%s via %s (cost: %.2f)", r.Destination, r.NextHop, r.Cost)
}
