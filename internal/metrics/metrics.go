package metrics

import (
	"encoding/json"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Overflow directions
const (
	DirectionReceive = "receive"
	DirectionSend    = "send"
)

// Collector aggregates transport metrics for sessions and relay connections.
// It satisfies websock.Observer so a session can report into it directly.
type Collector struct {
	framesIn  uint64
	framesOut uint64
	bytesIn   uint64
	bytesOut  uint64

	queueResizes     uint64
	queueCompactions uint64
	peakCapacity     int64

	receiveOverflows uint64
	sendOverflows    uint64

	// Auth outcomes keyed by result ("ok", "failed", "none")
	authResults   map[string]*uint64
	authResultsMu sync.RWMutex

	// Relay traffic keyed by direction ("client_to_backend", "backend_to_client")
	relayBytes   map[string]*uint64
	relayBytesMu sync.RWMutex
	rateLimited  uint64

	// Dial and handshake latencies keyed by operation
	latencies   map[string]*LatencyHistogram
	latenciesMu sync.RWMutex

	activeSessions int64
	activeRelays   int64

	startTime time.Time
}

// LatencyHistogram tracks latencies in buckets
type LatencyHistogram struct {
	// Buckets: [0-1ms], [1-5ms], [5-10ms], [10-25ms], [25-50ms], [50-100ms], [100-250ms], [250-500ms], [500-1000ms], [1000ms+]
	buckets [10]uint64
	sum     uint64 // nanoseconds
	count   uint64
	mu      sync.Mutex
}

// bucket boundaries in milliseconds
var bucketBoundaries = []int64{1, 5, 10, 25, 50, 100, 250, 500, 1000}

var bucketLabels = []string{
	"0-1ms", "1-5ms", "5-10ms", "10-25ms", "25-50ms",
	"50-100ms", "100-250ms", "250-500ms", "500-1000ms", "1000ms+",
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		authResults: make(map[string]*uint64),
		relayBytes:  make(map[string]*uint64),
		latencies:   make(map[string]*LatencyHistogram),
		startTime:   time.Now(),
	}
}

// FrameReceived counts one inbound frame of n bytes
func (c *Collector) FrameReceived(n int) {
	atomic.AddUint64(&c.framesIn, 1)
	atomic.AddUint64(&c.bytesIn, uint64(n))
}

// FrameSent counts one outbound frame of n bytes
func (c *Collector) FrameSent(n int) {
	atomic.AddUint64(&c.framesOut, 1)
	atomic.AddUint64(&c.bytesOut, uint64(n))
}

// QueueResized records a receive queue reallocation
func (c *Collector) QueueResized(oldCap, newCap int) {
	atomic.AddUint64(&c.queueResizes, 1)
	for {
		peak := atomic.LoadInt64(&c.peakCapacity)
		if int64(newCap) <= peak || atomic.CompareAndSwapInt64(&c.peakCapacity, peak, int64(newCap)) {
			return
		}
	}
}

// QueueCompacted records an in-place compaction
func (c *Collector) QueueCompacted(unread int) {
	atomic.AddUint64(&c.queueCompactions, 1)
}

// Overflow records a receive or send buffer overflow
func (c *Collector) Overflow(direction string) {
	if direction == DirectionSend {
		atomic.AddUint64(&c.sendOverflows, 1)
		return
	}
	atomic.AddUint64(&c.receiveOverflows, 1)
}

// SessionOpened increments the active session gauge
func (c *Collector) SessionOpened() {
	atomic.AddInt64(&c.activeSessions, 1)
}

// SessionClosed decrements the active session gauge
func (c *Collector) SessionClosed() {
	atomic.AddInt64(&c.activeSessions, -1)
}

// RecordAuth counts an authentication outcome
func (c *Collector) RecordAuth(result string) {
	incrementKeyed(&c.authResultsMu, c.authResults, result, 1)
}

// RelayOpened increments the active relay gauge
func (c *Collector) RelayOpened() {
	atomic.AddInt64(&c.activeRelays, 1)
}

// RelayClosed decrements the active relay gauge
func (c *Collector) RelayClosed() {
	atomic.AddInt64(&c.activeRelays, -1)
}

// RecordRelayBytes counts bytes copied by a relay in one direction
func (c *Collector) RecordRelayBytes(direction string, n int) {
	incrementKeyed(&c.relayBytesMu, c.relayBytes, direction, uint64(n))
}

// RecordRateLimited counts a rejected upgrade request
func (c *Collector) RecordRateLimited() {
	atomic.AddUint64(&c.rateLimited, 1)
}

// RecordLatency records the latency of an operation such as "dial" or "handshake"
func (c *Collector) RecordLatency(op string, d time.Duration) {
	c.latenciesMu.Lock()
	hist, exists := c.latencies[op]
	if !exists {
		hist = &LatencyHistogram{}
		c.latencies[op] = hist
	}
	c.latenciesMu.Unlock()

	hist.Record(d)
}

func incrementKeyed(mu *sync.RWMutex, m map[string]*uint64, key string, delta uint64) {
	mu.RLock()
	counter, exists := m[key]
	mu.RUnlock()
	if !exists {
		mu.Lock()
		if counter, exists = m[key]; !exists {
			var val uint64
			counter = &val
			m[key] = counter
		}
		mu.Unlock()
	}
	atomic.AddUint64(counter, delta)
}

func snapshotKeyed(mu *sync.RWMutex, m map[string]*uint64) map[string]uint64 {
	out := make(map[string]uint64)
	mu.RLock()
	for k, v := range m {
		out[k] = atomic.LoadUint64(v)
	}
	mu.RUnlock()
	return out
}

// Record records a latency value in the histogram
func (h *LatencyHistogram) Record(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ms := d.Milliseconds()

	bucketIdx := len(bucketBoundaries)
	for i, boundary := range bucketBoundaries {
		if ms < boundary {
			bucketIdx = i
			break
		}
	}

	h.buckets[bucketIdx]++
	h.sum += uint64(d.Nanoseconds())
	h.count++
}

// Metrics is a point-in-time snapshot of the collector
type Metrics struct {
	Uptime           string                  `json:"uptime"`
	UptimeSeconds    float64                 `json:"uptime_seconds"`
	FramesIn         uint64                  `json:"frames_in"`
	FramesOut        uint64                  `json:"frames_out"`
	BytesIn          uint64                  `json:"bytes_in"`
	BytesOut         uint64                  `json:"bytes_out"`
	QueueResizes     uint64                  `json:"queue_resizes"`
	QueueCompactions uint64                  `json:"queue_compactions"`
	PeakCapacity     int64                   `json:"peak_capacity"`
	ReceiveOverflows uint64                  `json:"receive_overflows"`
	SendOverflows    uint64                  `json:"send_overflows"`
	AuthResults      map[string]uint64       `json:"auth_results"`
	RelayBytes       map[string]uint64       `json:"relay_bytes"`
	RateLimited      uint64                  `json:"rate_limited"`
	Latencies        map[string]LatencyStats `json:"latencies"`
	ActiveSessions   int64                   `json:"active_sessions"`
	ActiveRelays     int64                   `json:"active_relays"`
	GoroutineCount   int                     `json:"goroutine_count"`
	CollectedAt      time.Time               `json:"collected_at"`
}

// LatencyStats contains latency statistics for an operation
type LatencyStats struct {
	Count   uint64            `json:"count"`
	SumMs   float64           `json:"sum_ms"`
	AvgMs   float64           `json:"avg_ms"`
	Buckets map[string]uint64 `json:"buckets"`
}

// GetMetrics returns the current metrics
func (c *Collector) GetMetrics() *Metrics {
	uptime := time.Since(c.startTime)

	latencies := make(map[string]LatencyStats)
	c.latenciesMu.RLock()
	for op, hist := range c.latencies {
		hist.mu.Lock()
		stats := LatencyStats{
			Count:   hist.count,
			SumMs:   float64(hist.sum) / float64(time.Millisecond),
			Buckets: make(map[string]uint64),
		}
		if hist.count > 0 {
			stats.AvgMs = float64(hist.sum) / float64(hist.count) / float64(time.Millisecond)
		}
		for i, count := range hist.buckets {
			if count > 0 {
				stats.Buckets[bucketLabels[i]] = count
			}
		}
		hist.mu.Unlock()
		latencies[op] = stats
	}
	c.latenciesMu.RUnlock()

	return &Metrics{
		Uptime:           uptime.Round(time.Second).String(),
		UptimeSeconds:    uptime.Seconds(),
		FramesIn:         atomic.LoadUint64(&c.framesIn),
		FramesOut:        atomic.LoadUint64(&c.framesOut),
		BytesIn:          atomic.LoadUint64(&c.bytesIn),
		BytesOut:         atomic.LoadUint64(&c.bytesOut),
		QueueResizes:     atomic.LoadUint64(&c.queueResizes),
		QueueCompactions: atomic.LoadUint64(&c.queueCompactions),
		PeakCapacity:     atomic.LoadInt64(&c.peakCapacity),
		ReceiveOverflows: atomic.LoadUint64(&c.receiveOverflows),
		SendOverflows:    atomic.LoadUint64(&c.sendOverflows),
		AuthResults:      snapshotKeyed(&c.authResultsMu, c.authResults),
		RelayBytes:       snapshotKeyed(&c.relayBytesMu, c.relayBytes),
		RateLimited:      atomic.LoadUint64(&c.rateLimited),
		Latencies:        latencies,
		ActiveSessions:   atomic.LoadInt64(&c.activeSessions),
		ActiveRelays:     atomic.LoadInt64(&c.activeRelays),
		GoroutineCount:   runtime.NumGoroutine(),
		CollectedAt:      time.Now(),
	}
}

// GetMetricsJSON returns the current metrics as JSON
func (c *Collector) GetMetricsJSON() ([]byte, error) {
	return json.Marshal(c.GetMetrics())
}
