package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/logger"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

func TestMemoryMetrics_SeriesAreKeyedByLabels(t *testing.T) {
	m := NewMemoryMetrics(logger.NewNop())

	hit := m.Counter("cache_operations_total", map[string]string{"operation": "get", "result": "hit"})
	miss := m.Counter("cache_operations_total", map[string]string{"result": "miss", "operation": "get"})
	again := m.Counter("cache_operations_total", map[string]string{"result": "hit", "operation": "get"})

	hit.Inc()
	again.Add(2)
	miss.Inc()
	miss.Add(-5)

	assert.Equal(t, 3.0, hit.Get())
	assert.Equal(t, 1.0, miss.Get())
	assert.Len(t, m.Snapshot(), 2)
}

func TestMemoryMetrics_GaugeAndHistogram(t *testing.T) {
	m := NewMemoryMetrics(logger.NewNop())

	g := m.Gauge("cache_entries", nil)
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Add(-4)
	assert.Equal(t, 6.0, g.Get())

	h := m.Histogram("latency_seconds", []float64{0.1, 1}, map[string]string{"route": "/api/me"})
	h.Observe(0.25)
	h.Observe(0.75)
	assert.Equal(t, uint64(2), h.GetCount())
	assert.InDelta(t, 1.0, h.GetSum(), 1e-9)
}

func TestPrometheusMetrics_Instruments(t *testing.T) {
	p, err := NewPrometheusMetrics(logger.NewNop(), &types.MetricsConfig{Prefix: "test"})
	require.NoError(t, err)

	c := p.Counter("requests_total", map[string]string{"code": "200"})
	c.Inc()
	c.Add(4)
	assert.Equal(t, 5.0, c.Get())

	// same name reuses the registered vector
	p.Counter("requests_total", map[string]string{"code": "500"}).Inc()

	g := p.Gauge("cache_entries", nil)
	g.Set(3)
	assert.Equal(t, 3.0, g.Get())

	h := p.Histogram("duration_seconds", []float64{0.1, 1}, map[string]string{"op": "get"})
	h.Observe(0.5)
	assert.Equal(t, uint64(1), h.GetCount())
	assert.Equal(t, 0.5, h.GetSum())

	expected := `
# HELP test_requests_total Counter metric requests_total
# TYPE test_requests_total counter
test_requests_total{code="200"} 5
test_requests_total{code="500"} 1
`
	require.NoError(t, testutil.GatherAndCompare(p.Registry(), strings.NewReader(expected), "test_requests_total"))
}

func TestManager_NoopWhileStopped(t *testing.T) {
	w := &Manager{logger: logger.NewNop(), manager: NewMemoryMetrics(logger.NewNop())}
	w.state.Store(ManagerStateStopped)

	c := w.Counter("x", nil)
	c.Inc()
	assert.Equal(t, 0.0, c.Get())

	require.NoError(t, w.manager.Start())
	w.state.Store(ManagerStateRunning)

	c = w.Counter("x", nil)
	c.Inc()
	assert.Equal(t, 1.0, c.Get())
}
