package metrics

import (
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/utils"
)

// MemoryMetrics keeps instruments in process and serves them as JSON. Used when
// no Prometheus scraper is deployed and in tests.
type MemoryMetrics struct {
	logger     types.Logger
	counters   map[string]*MemoryCounter
	gauges     map[string]*MemoryGauge
	histograms map[string]*MemoryHistogram
	mu         sync.RWMutex
	running    int32
}

type MetricValue struct {
	Name   string            `json:"name"`
	Type   string            `json:"type"`
	Value  float64           `json:"value"`
	Count  uint64            `json:"count,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

func NewMemoryMetrics(logger types.Logger) *MemoryMetrics {
	return &MemoryMetrics{
		logger:     logger,
		counters:   make(map[string]*MemoryCounter),
		gauges:     make(map[string]*MemoryGauge),
		histograms: make(map[string]*MemoryHistogram),
	}
}

func (m *MemoryMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return types.ErrServerNotRunning
	}
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	key := seriesKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.counters[key]; ok {
		return c
	}
	c := &MemoryCounter{name: name, labels: copyLabels(labels)}
	m.counters[key] = c
	return c
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	key := seriesKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.gauges[key]; ok {
		return g
	}
	g := &MemoryGauge{name: name, labels: copyLabels(labels)}
	m.gauges[key] = g
	return g
}

func (m *MemoryMetrics) Histogram(name string, _ []float64, labels map[string]string) types.Histogram {
	key := seriesKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.histograms[key]; ok {
		return h
	}
	h := &MemoryHistogram{name: name, labels: copyLabels(labels)}
	m.histograms[key] = h
	return h
}

// Snapshot lists every series sorted by name.
func (m *MemoryMetrics) Snapshot() []MetricValue {
	m.mu.RLock()
	out := make([]MetricValue, 0, len(m.counters)+len(m.gauges)+len(m.histograms))
	for _, c := range m.counters {
		out = append(out, MetricValue{Name: c.name, Type: "counter", Value: c.Get(), Labels: c.labels})
	}
	for _, g := range m.gauges {
		out = append(out, MetricValue{Name: g.name, Type: "gauge", Value: g.Get(), Labels: g.labels})
	}
	for _, h := range m.histograms {
		out = append(out, MetricValue{Name: h.name, Type: "histogram", Value: h.GetSum(), Count: h.GetCount(), Labels: h.labels})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return seriesKey("", out[i].Labels) < seriesKey("", out[j].Labels)
	})
	return out
}

func (m *MemoryMetrics) RegisterRoutes(router types.HTTPRouter) {
	router.Add(fasthttp.MethodGet, defaultMetricsPath, func(ctx *fasthttp.RequestCtx) {
		utils.WriteJSON(ctx, fasthttp.StatusOK, m.Snapshot())
	}, &types.RouteConfig{
		Timeout:             5 * time.Second,
		DisabledMiddlewares: []string{"auth", "access", "cache", "logging", "rate_limit"},
	})
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	names := labelNames(labels)
	var b strings.Builder
	b.WriteString(name)
	for _, n := range names {
		b.WriteByte('|')
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(labels[n])
	}
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

type atomicFloat struct {
	bits uint64
}

func (f *atomicFloat) add(delta float64) {
	for {
		old := atomic.LoadUint64(&f.bits)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(&f.bits, old, next) {
			return
		}
	}
}

func (f *atomicFloat) set(value float64) {
	atomic.StoreUint64(&f.bits, math.Float64bits(value))
}

func (f *atomicFloat) get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&f.bits))
}

type MemoryCounter struct {
	name   string
	labels map[string]string
	value  atomicFloat
}

func (c *MemoryCounter) Inc() {
	c.value.add(1)
}

// Add ignores negative deltas, counters only go up.
func (c *MemoryCounter) Add(value float64) {
	if value < 0 {
		return
	}
	c.value.add(value)
}

func (c *MemoryCounter) Get() float64 {
	return c.value.get()
}

type MemoryGauge struct {
	name   string
	labels map[string]string
	value  atomicFloat
}

func (g *MemoryGauge) Set(value float64) {
	g.value.set(value)
}

func (g *MemoryGauge) Inc() {
	g.value.add(1)
}

func (g *MemoryGauge) Dec() {
	g.value.add(-1)
}

func (g *MemoryGauge) Add(value float64) {
	g.value.add(value)
}

func (g *MemoryGauge) Get() float64 {
	return g.value.get()
}

type MemoryHistogram struct {
	name   string
	labels map[string]string
	count  uint64
	sum    atomicFloat
}

func (h *MemoryHistogram) Observe(value float64) {
	atomic.AddUint64(&h.count, 1)
	h.sum.add(value)
}

func (h *MemoryHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *MemoryHistogram) GetCount() uint64 {
	return atomic.LoadUint64(&h.count)
}

func (h *MemoryHistogram) GetSum() float64 {
	return h.sum.get()
}
