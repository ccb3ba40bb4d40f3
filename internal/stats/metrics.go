// Package stats feeds the player and receiver counters into a prometheus
// exporter and an optional MQTT publisher. The human-readable periodic
// status line and its network-latency warnings are logged by
// internal/player, not by this package.
//
// Grounded on stats.py for the aggregated counters, and on the teacher's
// constructor-per-registry metrics pattern
// (internal/observability/metrics/myaudio_test.go's
// NewMyAudioMetrics(registry)) and internal/audiocore/metrics.go's
// enabled-or-no-op collector shape.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every prometheus collector WaveSync exports. A nil
// *Metrics (returned when metrics are disabled) makes every method a
// no-op, matching MetricsCollector.enabled in audiocore/metrics.go.
type Metrics struct {
	chunksPlayedTotal  prometheus.Counter
	timeDropsTotal     prometheus.Counter
	outputDelaysTotal  prometheus.Counter
	networkDropsTotal  prometheus.Counter
	queueLength        prometheus.Gauge
	networkLatencySecs prometheus.Gauge
	avgDelaySecs       prometheus.Gauge
}

// NewMetrics registers WaveSync's collectors against registry and
// returns a Metrics handle. One Metrics per process is expected; tests
// pass a fresh prometheus.NewRegistry() to avoid collisions with the
// default global registry.
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		chunksPlayedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wavesync",
			Subsystem: "player",
			Name:      "chunks_played_total",
			Help:      "Audio chunks written to the playback sink.",
		}),
		timeDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wavesync",
			Subsystem: "player",
			Name:      "time_drops_total",
			Help:      "Chunks dropped by the probabilistic late-chunk scheduler.",
		}),
		outputDelaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wavesync",
			Subsystem: "player",
			Name:      "output_delays_total",
			Help:      "Iterations spent waiting for sink buffer space.",
		}),
		networkDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wavesync",
			Subsystem: "receiver",
			Name:      "network_drops_total",
			Help:      "Chunks the sender reports sending but the receiver never saw.",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wavesync",
			Subsystem: "player",
			Name:      "queue_length",
			Help:      "Entries currently buffered in the receiver-to-player queue.",
		}),
		networkLatencySecs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wavesync",
			Subsystem: "receiver",
			Name:      "network_latency_seconds",
			Help:      "Most recent one-way STATUS latency estimate (receiver clock minus sender timestamp).",
		}),
		avgDelaySecs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wavesync",
			Subsystem: "player",
			Name:      "average_delay_seconds",
			Help:      "Running average of scheduled-vs-actual playback delay.",
		}),
	}

	collectors := []prometheus.Collector{
		m.chunksPlayedTotal, m.timeDropsTotal, m.outputDelaysTotal,
		m.networkDropsTotal, m.queueLength, m.networkLatencySecs, m.avgDelaySecs,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Snapshot is the input Update takes: a flattened view of the player and
// receiver counters, so internal/stats does not need to import either
// package's concrete Stats type directly (kept decoupled, matching the
// narrow-interface style used between packetizer/receiver/player).
type Snapshot struct {
	ChunksPlayed   uint64
	TimeDrops      uint64
	OutputDelays   uint64
	NetworkDrops   uint64
	QueueLength    int
	NetworkLatency float64
	AverageDelay   float64
}

// Update pushes a snapshot's deltas/values into the collectors. Counters
// only move forward, so the caller passes the previous snapshot (prev)
// and only the increase from prev to cur is added.
func (m *Metrics) Update(prev, cur Snapshot) {
	if m == nil {
		return
	}
	m.chunksPlayedTotal.Add(float64(cur.ChunksPlayed - prev.ChunksPlayed))
	m.timeDropsTotal.Add(float64(cur.TimeDrops - prev.TimeDrops))
	m.outputDelaysTotal.Add(float64(cur.OutputDelays - prev.OutputDelays))
	m.networkDropsTotal.Add(float64(cur.NetworkDrops - prev.NetworkDrops))
	m.queueLength.Set(float64(cur.QueueLength))
	m.networkLatencySecs.Set(cur.NetworkLatency)
	m.avgDelaySecs.Set(cur.AverageDelay)
}
