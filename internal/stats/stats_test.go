package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetOrCreate(t *testing.T) {
	reg := NewRegistry()
	assert.Same(t, reg.Counter("a"), reg.Counter("a"))
	assert.Same(t, reg.Rate("b"), reg.Rate("b"))
	assert.Same(t, reg.Distribution("c"), reg.Distribution("c"))
	assert.Equal(t, []string{"a", "b", "c"}, reg.Names())
}

func TestRegistry_Snapshot(t *testing.T) {
	reg := NewRegistry()
	reg.Counter(MetricMessagesSent).Add(7)
	reg.Rate(MetricConnectionSuccess).Add(false)
	require.NoError(t, reg.Distribution(MetricRTT).Observe(12.5))

	snap := reg.Snapshot()
	assert.Equal(t, int64(7), snap.Counter(MetricMessagesSent))
	assert.Equal(t, int64(0), snap.Counter("missing"))
	assert.Equal(t, int64(1), snap.Rates[MetricConnectionSuccess].Total)
	assert.Equal(t, 12.5, snap.Distribution(MetricRTT).Max())
	assert.Equal(t, uint64(0), snap.Distribution("missing").Count())

	// later writes do not leak into an earlier snapshot
	reg.Counter(MetricMessagesSent).Inc()
	require.NoError(t, reg.Distribution(MetricRTT).Observe(99))
	assert.Equal(t, int64(7), snap.Counter(MetricMessagesSent))
	assert.Equal(t, uint64(1), snap.Distribution(MetricRTT).Count())
}

func TestCollector(t *testing.T) {
	reg := NewRegistry()
	reg.Counter(MetricMessagesSent).Add(3)
	reg.Rate(MetricConnectionSuccess).Add(true)
	require.NoError(t, reg.Distribution(MetricRTT).Observe(4))

	c := NewCollector(reg, "syncq")
	assert.Equal(t, 3, testutil.CollectAndCount(c))

	promReg := prometheus.NewRegistry()
	require.NoError(t, promReg.Register(c))
	families, err := promReg.Gather()
	require.NoError(t, err)

	byName := make(map[string]float64)
	for _, mf := range families {
		byName[mf.GetName()] = metricValue(mf.GetMetric()[0])
	}
	assert.Equal(t, 3.0, byName["syncq_messages_sent"])
	assert.Equal(t, 1.0, byName["syncq_connection_success"])
	assert.Equal(t, 1.0, byName["syncq_websocket_rtt"])
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetSummary() != nil:
		return float64(m.GetSummary().GetSampleCount())
	}
	return 0
}
