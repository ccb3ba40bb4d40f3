package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateAccumulatesCounterDeltas(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewMetrics(registry)
	require.NoError(t, err)

	m.Update(Snapshot{}, Snapshot{ChunksPlayed: 10, TimeDrops: 2, OutputDelays: 1, NetworkDrops: 3})
	m.Update(Snapshot{ChunksPlayed: 10, TimeDrops: 2, OutputDelays: 1, NetworkDrops: 3},
		Snapshot{ChunksPlayed: 25, TimeDrops: 2, OutputDelays: 4, NetworkDrops: 3})

	assert.Equal(t, float64(25), testutil.ToFloat64(m.chunksPlayedTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.timeDropsTotal))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.outputDelaysTotal))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.networkDropsTotal))
}

func TestUpdateSetsGauges(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewMetrics(registry)
	require.NoError(t, err)

	m.Update(Snapshot{}, Snapshot{QueueLength: 7, NetworkLatency: 0.25, AverageDelay: -0.003})

	assert.Equal(t, float64(7), testutil.ToFloat64(m.queueLength))
	assert.InDelta(t, 0.25, testutil.ToFloat64(m.networkLatencySecs), 1e-9)
	assert.InDelta(t, -0.003, testutil.ToFloat64(m.avgDelaySecs), 1e-9)
}

func TestNilMetricsUpdateIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Update(Snapshot{}, Snapshot{ChunksPlayed: 1})
	})
}

func TestNewMetricsRejectsDuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewMetrics(registry)
	require.NoError(t, err)

	_, err = NewMetrics(registry)
	assert.Error(t, err)
}
