package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DispatchLatency     = metric.NewHistogram("1m1s")
	RouteComputeLatency = metric.NewHistogram("1m1s")
	RoutedPerSecond     = metric.NewCounter("10s1s")
	FloodedPerSecond    = metric.NewCounter("10s1s")
	RecvPacketPerSecond = metric.NewCounter("10s1s")
	SentPacketPerSecond = metric.NewCounter("10s1s")
)

var (
	RelayDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srmesh_relay_decisions_total",
			Help: "Broadcast relay decisions by outcome",
		},
		[]string{"outcome"},
	)

	SpeculativeRetransmits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srmesh_speculative_retransmits_total",
			Help: "Speculative unicast retransmissions by outcome",
		},
		[]string{"outcome"},
	)

	EdgeChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srmesh_edge_changes_total",
			Help: "Topology edge updates by classification",
		},
		[]string{"kind"},
	)

	GraphNodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "srmesh_graph_nodes",
			Help: "Nodes currently held by the topology graph",
		},
		[]string{"node"},
	)
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	http.Handle("/metrics", promhttp.Handler())
	expvar.Publish("srmesh:Routed/s", RoutedPerSecond)
	expvar.Publish("srmesh:Flooded/s", FloodedPerSecond)
	expvar.Publish("srmesh:RecvPacket/s", RecvPacketPerSecond)
	expvar.Publish("srmesh:SentPacket/s", SentPacketPerSecond)
	expvar.Publish("srmesh:DispatchLatency (µs)", DispatchLatency)
	expvar.Publish("srmesh:RouteComputeLatency (µs)", RouteComputeLatency)
}
