// Package metrics exposes router counters and gauges to Prometheus.
//
// The data plane never surfaces its failures to peers; it counts them
// instead, per-link and per-queue: packets forwarded and dropped, queue
// occupancy and drops, and substrate dedup/pool stats.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all Forest router metrics.
type Registry struct {
	// Forwarding engine
	PacketsForwarded *prometheus.CounterVec // link, direction
	PacketsDropped   *prometheus.CounterVec // reason: checksum, no-route, queue-full, exhausted
	BytesForwarded   *prometheus.CounterVec // link, direction

	// Queue manager
	QueueDepthPackets *prometheus.GaugeVec // link, queue
	QueueDepthBytes   *prometheus.GaugeVec // link, queue
	QueueDrops        *prometheus.CounterVec

	// Packet store
	PacketStoreInUse    prometheus.Gauge
	PacketStoreExhausted prometheus.Counter

	// Link / interface tables
	LinkAvailableBitRate *prometheus.GaugeVec // link, direction
	LinkConnected        *prometheus.GaugeVec // link

	// Control handler
	ControlRequestsTotal *prometheus.CounterVec // type, result
	ControlWorkersBusy   prometheus.Gauge

	// Signalling substrate
	SubstrateDuplicates  prometheus.Counter
	SubstratePoolExhaust prometheus.Counter
	SubstrateOutstanding prometheus.Gauge
}

// Get returns the global metrics registry, creating it on first use.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.PacketsForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forest_packets_forwarded_total",
		Help: "Total data packets emitted on a comtree-link",
	}, []string{"link", "direction"})

	r.PacketsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forest_packets_dropped_total",
		Help: "Total packets dropped by the forwarding engine or substrate",
	}, []string{"reason"})

	r.BytesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forest_bytes_forwarded_total",
		Help: "Total bytes emitted on a comtree-link",
	}, []string{"link", "direction"})

	r.QueueDepthPackets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "forest_queue_depth_packets",
		Help: "Current packet occupancy of a queue",
	}, []string{"link", "queue"})

	r.QueueDepthBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "forest_queue_depth_bytes",
		Help: "Current byte occupancy of a queue",
	}, []string{"link", "queue"})

	r.QueueDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forest_queue_drops_total",
		Help: "Packets dropped because a queue's byte or packet limit was exceeded",
	}, []string{"link", "queue"})

	r.PacketStoreInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forest_packetstore_in_use",
		Help: "Packet store records currently allocated",
	})

	r.PacketStoreExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forest_packetstore_exhausted_total",
		Help: "Allocation attempts that failed because the packet store was exhausted",
	})

	r.LinkAvailableBitRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "forest_link_available_bitrate_kbps",
		Help: "Remaining rate budget on a link",
	}, []string{"link", "direction"})

	r.LinkConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "forest_link_connected",
		Help: "1 if the link has completed its CONNECT handshake, else 0",
	}, []string{"link"})

	r.ControlRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forest_control_requests_total",
		Help: "Control requests handled, by type and outcome",
	}, []string{"type", "result"})

	r.ControlWorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forest_control_workers_busy",
		Help: "Number of control-handler worker slots currently busy",
	})

	r.SubstrateDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forest_substrate_duplicate_total",
		Help: "Requests identified as retransmits by the repeat handler",
	})

	r.SubstratePoolExhaust = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forest_substrate_pool_exhausted_total",
		Help: "Requests dropped because the worker pool had no idle slot",
	})

	r.SubstrateOutstanding = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forest_substrate_outstanding_entries",
		Help: "Entries currently held by the repeat handler",
	})

	return r
}
