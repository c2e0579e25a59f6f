package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeHistogram_ClampsOutOfRange(t *testing.T) {
	h := NewSafeHistogram()
	require.NoError(t, h.RecordValue(0))
	require.NoError(t, h.RecordValue(1<<62))

	assert.LessOrEqual(t, h.ValueAtQuantile(50), int64(1))
	assert.Greater(t, h.ValueAtQuantile(100), int64(9*60*1000*1000))
}

func TestDistribution_LiveQuantileTracksSamples(t *testing.T) {
	d := NewRegistry().Distribution(MetricRTT)
	for i := 1; i <= 100; i++ {
		require.NoError(t, d.Observe(float64(i)))
	}

	assert.InDelta(t, 50.0, d.LiveQuantile(50), 0.5)
	assert.InDelta(t, 99.0, d.LiveQuantile(99), 0.5)
}
