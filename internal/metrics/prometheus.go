package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "novnc4svc"

// PrometheusCollector wraps a Collector and mirrors every observation into
// Prometheus metrics. It satisfies websock.Observer as well, so a session can
// be handed either type.
type PrometheusCollector struct {
	collector *Collector
	registry  *prometheus.Registry

	frames      *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	resizes     prometheus.Counter
	compactions prometheus.Counter
	overflows   *prometheus.CounterVec
	authResults *prometheus.CounterVec
	relayBytes  *prometheus.CounterVec
	rateLimited prometheus.Counter
	latency     *prometheus.HistogramVec

	peakCapacity   prometheus.Gauge
	activeSessions prometheus.Gauge
	activeRelays   prometheus.Gauge
	goroutineCount prometheus.Gauge
	uptimeSeconds  prometheus.Gauge
}

// NewPrometheusCollector creates a PrometheusCollector around c, registered
// in its own registry rather than the global default.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	reg := prometheus.NewRegistry()

	p := &PrometheusCollector{
		collector: c,
		registry:  reg,
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Websocket frames by direction.",
		}, []string{"direction"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Websocket payload bytes by direction.",
		}, []string{"direction"}),
		resizes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_queue_resizes_total",
			Help:      "Receive queue reallocations.",
		}),
		compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_queue_compactions_total",
			Help:      "Receive queue in-place compactions.",
		}),
		overflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_overflows_total",
			Help:      "Buffer overflows by direction.",
		}, []string{"direction"}),
		authResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_results_total",
			Help:      "VNC authentication outcomes.",
		}, []string{"result"}),
		relayBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_bytes_total",
			Help:      "Bytes copied by the websocket relay by direction.",
		}, []string{"direction"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_rate_limited_total",
			Help:      "Upgrade requests rejected by the rate limiter.",
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Dial and handshake latency by operation.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"op"}),
		peakCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "receive_queue_peak_capacity_bytes",
			Help:      "Largest receive queue capacity reached.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Open transport sessions.",
		}),
		activeRelays: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_relays",
			Help:      "Open relay connections.",
		}),
		goroutineCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutine_count",
			Help:      "Number of goroutines.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the collector was created in seconds.",
		}),
	}

	reg.MustRegister(
		p.frames, p.bytes, p.resizes, p.compactions, p.overflows,
		p.authResults, p.relayBytes, p.rateLimited, p.latency,
		p.peakCapacity, p.activeSessions, p.activeRelays,
		p.goroutineCount, p.uptimeSeconds,
	)

	return p
}

// Registry returns the Prometheus registry used by this collector
func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

// Collector returns the underlying Collector
func (p *PrometheusCollector) Collector() *Collector {
	return p.collector
}

func (p *PrometheusCollector) FrameReceived(n int) {
	p.collector.FrameReceived(n)
	p.frames.WithLabelValues("in").Inc()
	p.bytes.WithLabelValues("in").Add(float64(n))
}

func (p *PrometheusCollector) FrameSent(n int) {
	p.collector.FrameSent(n)
	p.frames.WithLabelValues("out").Inc()
	p.bytes.WithLabelValues("out").Add(float64(n))
}

func (p *PrometheusCollector) QueueResized(oldCap, newCap int) {
	p.collector.QueueResized(oldCap, newCap)
	p.resizes.Inc()
}

func (p *PrometheusCollector) QueueCompacted(unread int) {
	p.collector.QueueCompacted(unread)
	p.compactions.Inc()
}

func (p *PrometheusCollector) Overflow(direction string) {
	p.collector.Overflow(direction)
	p.overflows.WithLabelValues(direction).Inc()
}

func (p *PrometheusCollector) SessionOpened() {
	p.collector.SessionOpened()
	p.activeSessions.Inc()
}

func (p *PrometheusCollector) SessionClosed() {
	p.collector.SessionClosed()
	p.activeSessions.Dec()
}

func (p *PrometheusCollector) RecordAuth(result string) {
	p.collector.RecordAuth(result)
	p.authResults.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) RelayOpened() {
	p.collector.RelayOpened()
	p.activeRelays.Inc()
}

func (p *PrometheusCollector) RelayClosed() {
	p.collector.RelayClosed()
	p.activeRelays.Dec()
}

func (p *PrometheusCollector) RecordRelayBytes(direction string, n int) {
	p.collector.RecordRelayBytes(direction, n)
	p.relayBytes.WithLabelValues(direction).Add(float64(n))
}

func (p *PrometheusCollector) RecordRateLimited() {
	p.collector.RecordRateLimited()
	p.rateLimited.Inc()
}

func (p *PrometheusCollector) RecordLatency(op string, d time.Duration) {
	p.collector.RecordLatency(op, d)
	p.latency.WithLabelValues(op).Observe(d.Seconds())
}

// Sync copies gauge values from the underlying Collector. Counters are
// updated as observations happen and need no syncing.
func (p *PrometheusCollector) Sync() {
	m := p.collector.GetMetrics()

	p.peakCapacity.Set(float64(m.PeakCapacity))
	p.activeSessions.Set(float64(m.ActiveSessions))
	p.activeRelays.Set(float64(m.ActiveRelays))
	p.goroutineCount.Set(float64(m.GoroutineCount))
	p.uptimeSeconds.Set(m.UptimeSeconds)
}

// GetMetrics returns the snapshot from the underlying Collector
func (p *PrometheusCollector) GetMetrics() *Metrics {
	return p.collector.GetMetrics()
}

// PrometheusHandler serves the text exposition format, syncing gauges
// before each scrape.
func (p *PrometheusCollector) PrometheusHandler() http.Handler {
	inner := promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.Sync()
		inner.ServeHTTP(w, r)
	})
}
