package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestNew_RegistersAllMetricsWithoutCollision(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_CountersStartAtZeroAndIncrement(t *testing.T) {
	m := New(prometheus.NewRegistry())

	assert.Equal(t, 0.0, counterValue(t, m.PositionsOpened))
	m.PositionsOpened.Inc()
	assert.Equal(t, 1.0, counterValue(t, m.PositionsOpened))
}

func TestWrapper_AdaptsUnderlyingMetricsToNarrowInterfaces(t *testing.T) {
	m := New(prometheus.NewRegistry())
	w := NewWrapper(m)

	w.PositionsOpened().Inc()
	assert.Equal(t, 1.0, counterValue(t, m.PositionsOpened))

	w.RateLimitUtilization().Set(0.75)
	assert.Equal(t, 0.75, gaugeValue(t, m.RateLimitUtilization))

	w.OrderExecutionDurationObserve(0.5)
	w.OrderTimeoutsInc()
	w.OrderRetriesInc()
	assert.Equal(t, 1.0, counterValue(t, m.OrderTimeouts))
	assert.Equal(t, 1.0, counterValue(t, m.OrderRetries))
}
