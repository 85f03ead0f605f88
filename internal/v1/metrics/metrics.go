package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the text conferencing server.
//
// Naming convention: namespace_subsystem_name
// - namespace: text_conference (application-level grouping)
// - subsystem: connection, room, packet (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric types:
// - Gauge: current state (connections, rooms, members)
// - Counter: cumulative events (packets dispatched, broadcast sends)
// - Histogram: distributions (dispatch latency, fan-out width)

var (
	// ActiveConnections tracks the number of admitted TCP connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "text_conference",
		Subsystem: "connection",
		Name:      "connections_active",
		Help:      "Current number of admitted client connections",
	})

	// ActiveRooms tracks the number of live rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "text_conference",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of live rooms",
	})

	// RoomMembers tracks the member count of each room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "text_conference",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room"})

	// PacketsDispatched counts requests handled by workers, labelled with the
	// request type tag and ack/nak outcome.
	PacketsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "text_conference",
		Subsystem: "packet",
		Name:      "dispatched_total",
		Help:      "Total request packets dispatched by workers",
	}, []string{"type", "status"})

	// DispatchDuration tracks time spent handling one request packet.
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "text_conference",
		Subsystem: "packet",
		Name:      "dispatch_seconds",
		Help:      "Time spent dispatching request packets",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
	}, []string{"type"})

	// BroadcastFanout tracks how many sockets each MESSAGE was forwarded to.
	BroadcastFanout = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "text_conference",
		Subsystem: "packet",
		Name:      "broadcast_fanout",
		Help:      "Destinations per MESSAGE broadcast",
		Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
	})

	// RejectedConnections counts connects refused before admission, by cause.
	RejectedConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "text_conference",
		Subsystem: "connection",
		Name:      "rejected_total",
		Help:      "Connections refused before a worker was started",
	}, []string{"cause"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
