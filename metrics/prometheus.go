package metrics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

const defaultMetricsPath = "/metrics"

type PrometheusMetrics struct {
	logger     types.Logger
	namespace  string
	path       string
	constant   prometheus.Labels
	registry   *prometheus.Registry
	handler    types.FastHTTPHandler
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	mu         sync.Mutex
	running    int32
}

func NewPrometheusMetrics(logger types.Logger, config *types.MetricsConfig) (*PrometheusMetrics, error) {
	namespace := config.Prefix
	if namespace == "" {
		namespace = "everest"
	}

	path := config.Path
	if path == "" {
		path = defaultMetricsPath
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	p := &PrometheusMetrics{
		logger:     logger,
		namespace:  namespace,
		path:       path,
		constant:   prometheus.Labels(config.Labels),
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
	p.handler = p.buildHandler()

	logger.Info("Prometheus metrics initialized",
		zap.String("namespace", namespace),
		zap.String("path", path))

	return p, nil
}

func (p *PrometheusMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	p.logger.Info("Prometheus metrics started")
	return nil
}

func (p *PrometheusMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.running, 1, 0) {
		return types.ErrServerNotRunning
	}
	p.logger.Info("Prometheus metrics stopped")
	return nil
}

func (p *PrometheusMetrics) IsRunning() bool {
	return atomic.LoadInt32(&p.running) == 1
}

func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()

	counter, exists := p.counters[name]
	if !exists {
		counter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   p.namespace,
			Name:        name,
			Help:        fmt.Sprintf("Counter metric %s", name),
			ConstLabels: p.constant,
		}, labelNames(labels))

		p.registry.MustRegister(counter)
		p.counters[name] = counter
		p.logger.Debug("Prometheus counter created", zap.String("name", name))
	}

	return &PrometheusCounter{logger: p.logger, counter: counter.With(labels)}
}

func (p *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()

	gauge, exists := p.gauges[name]
	if !exists {
		gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   p.namespace,
			Name:        name,
			Help:        fmt.Sprintf("Gauge metric %s", name),
			ConstLabels: p.constant,
		}, labelNames(labels))

		p.registry.MustRegister(gauge)
		p.gauges[name] = gauge
		p.logger.Debug("Prometheus gauge created", zap.String("name", name))
	}

	return &PrometheusGauge{logger: p.logger, gauge: gauge.With(labels)}
}

func (p *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()

	histogram, exists := p.histograms[name]
	if !exists {
		histogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   p.namespace,
			Name:        name,
			Help:        fmt.Sprintf("Histogram metric %s", name),
			Buckets:     buckets,
			ConstLabels: p.constant,
		}, labelNames(labels))

		p.registry.MustRegister(histogram)
		p.histograms[name] = histogram
		p.logger.Debug("Prometheus histogram created", zap.String("name", name))
	}

	return &PrometheusHistogram{observer: histogram.With(labels)}
}

func (p *PrometheusMetrics) RegisterRoutes(router types.HTTPRouter) {
	router.Add(fasthttp.MethodGet, p.path, p.handler, &types.RouteConfig{
		Timeout:             5 * time.Second,
		DisabledMiddlewares: []string{"auth", "access", "cache", "compression", "logging", "rate_limit"},
	})
}

func (p *PrometheusMetrics) buildHandler() types.FastHTTPHandler {
	promHandler := promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})

	return func(ctx *fasthttp.RequestCtx) {
		req, err := types.ToHTTPRequest(ctx)
		if err != nil {
			ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
			return
		}
		promHandler.ServeHTTP(types.NewFastResponseWriter(ctx), req)
	}
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type PrometheusCounter struct {
	logger  types.Logger
	counter prometheus.Counter
}

func (c *PrometheusCounter) Inc() {
	c.counter.Inc()
}

func (c *PrometheusCounter) Add(value float64) {
	c.counter.Add(value)
}

func (c *PrometheusCounter) Get() float64 {
	metric := &dto.Metric{}
	if err := c.counter.Write(metric); err != nil {
		c.logger.Error("Failed to read counter", zap.Error(err))
	}
	return metric.GetCounter().GetValue()
}

type PrometheusGauge struct {
	logger types.Logger
	gauge  prometheus.Gauge
}

func (g *PrometheusGauge) Set(value float64) {
	g.gauge.Set(value)
}

func (g *PrometheusGauge) Inc() {
	g.gauge.Inc()
}

func (g *PrometheusGauge) Dec() {
	g.gauge.Dec()
}

func (g *PrometheusGauge) Add(value float64) {
	g.gauge.Add(value)
}

func (g *PrometheusGauge) Get() float64 {
	metric := &dto.Metric{}
	if err := g.gauge.Write(metric); err != nil {
		g.logger.Error("Failed to read gauge", zap.Error(err))
	}
	return metric.GetGauge().GetValue()
}

type PrometheusHistogram struct {
	observer prometheus.Observer
}

func (h *PrometheusHistogram) Observe(value float64) {
	h.observer.Observe(value)
}

func (h *PrometheusHistogram) ObserveDuration(start time.Time) {
	h.observer.Observe(time.Since(start).Seconds())
}

func (h *PrometheusHistogram) GetCount() uint64 {
	if histogram := h.read(); histogram != nil {
		return histogram.GetSampleCount()
	}
	return 0
}

func (h *PrometheusHistogram) GetSum() float64 {
	if histogram := h.read(); histogram != nil {
		return histogram.GetSampleSum()
	}
	return 0
}

func (h *PrometheusHistogram) read() *dto.Histogram {
	promMetric, ok := h.observer.(prometheus.Metric)
	if !ok {
		return nil
	}

	metric := &dto.Metric{}
	if err := promMetric.Write(metric); err != nil {
		return nil
	}
	return metric.GetHistogram()
}
