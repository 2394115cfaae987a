package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewPrometheusCollector(t *testing.T) {
	c := NewCollector()
	pc := NewPrometheusCollector(c)

	if pc.Collector() != c {
		t.Error("expected PrometheusCollector to wrap the given Collector")
	}
	if pc.Registry() == nil {
		t.Error("expected non-nil Prometheus registry")
	}
}

func TestPrometheusFrames(t *testing.T) {
	pc := NewPrometheusCollector(NewCollector())

	pc.FrameReceived(10)
	pc.FrameReceived(20)
	pc.FrameSent(16)

	if v := getCounterValue(t, pc.frames, "in"); v != 2 {
		t.Errorf("expected 2 inbound frames, got %f", v)
	}
	if v := getCounterValue(t, pc.bytes, "in"); v != 30 {
		t.Errorf("expected 30 inbound bytes, got %f", v)
	}
	if v := getCounterValue(t, pc.bytes, "out"); v != 16 {
		t.Errorf("expected 16 outbound bytes, got %f", v)
	}

	// Underlying collector sees the same observations
	if m := pc.GetMetrics(); m.FramesIn != 2 || m.BytesOut != 16 {
		t.Errorf("collector out of step: %+v", m)
	}
}

func TestPrometheusQueueAndOverflow(t *testing.T) {
	pc := NewPrometheusCollector(NewCollector())

	pc.QueueResized(16, 128)
	pc.QueueCompacted(3)
	pc.Overflow(DirectionReceive)

	if v := getPlainCounterValue(t, pc.resizes); v != 1 {
		t.Errorf("expected 1 resize, got %f", v)
	}
	if v := getPlainCounterValue(t, pc.compactions); v != 1 {
		t.Errorf("expected 1 compaction, got %f", v)
	}
	if v := getCounterValue(t, pc.overflows, DirectionReceive); v != 1 {
		t.Errorf("expected 1 receive overflow, got %f", v)
	}

	pc.Sync()
	if v := getGaugeValue(t, pc.peakCapacity); v != 128 {
		t.Errorf("expected peak capacity 128, got %f", v)
	}
}

func TestPrometheusGauges(t *testing.T) {
	pc := NewPrometheusCollector(NewCollector())

	pc.SessionOpened()
	pc.SessionOpened()
	pc.SessionClosed()
	pc.RelayOpened()

	if v := getGaugeValue(t, pc.activeSessions); v != 1 {
		t.Errorf("expected 1 active session, got %f", v)
	}
	if v := getGaugeValue(t, pc.activeRelays); v != 1 {
		t.Errorf("expected 1 active relay, got %f", v)
	}

	pc.RelayClosed()
	pc.Sync()
	if v := getGaugeValue(t, pc.activeRelays); v != 0 {
		t.Errorf("expected 0 active relays after sync, got %f", v)
	}
	if v := getGaugeValue(t, pc.goroutineCount); v <= 0 {
		t.Errorf("expected positive goroutine count, got %f", v)
	}
}

func TestPrometheusAuthAndRelay(t *testing.T) {
	pc := NewPrometheusCollector(NewCollector())

	pc.RecordAuth("ok")
	pc.RecordAuth("failed")
	pc.RecordRelayBytes("backend_to_client", 64)
	pc.RecordRateLimited()

	if v := getCounterValue(t, pc.authResults, "failed"); v != 1 {
		t.Errorf("expected 1 failed auth, got %f", v)
	}
	if v := getCounterValue(t, pc.relayBytes, "backend_to_client"); v != 64 {
		t.Errorf("expected 64 relay bytes, got %f", v)
	}
	if v := getPlainCounterValue(t, pc.rateLimited); v != 1 {
		t.Errorf("expected 1 rate limited, got %f", v)
	}
}

func TestPrometheusHandler(t *testing.T) {
	pc := NewPrometheusCollector(NewCollector())
	pc.FrameReceived(8)
	pc.Overflow(DirectionSend)
	pc.RecordLatency("dial", 3*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	pc.PrometheusHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	body, err := io.ReadAll(rr.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	bodyStr := string(body)

	expected := []string{
		"novnc4svc_frames_total",
		"novnc4svc_bytes_total",
		"novnc4svc_buffer_overflows_total",
		"novnc4svc_operation_duration_seconds",
		"novnc4svc_active_sessions",
		"novnc4svc_uptime_seconds",
	}
	for _, name := range expected {
		if !strings.Contains(bodyStr, name) {
			t.Errorf("expected %s in scrape output", name)
		}
	}
}

// getCounterValue extracts the current value of a labelled counter.
func getCounterValue(t *testing.T, cv *prometheus.CounterVec, label string) float64 {
	t.Helper()
	return getPlainCounterValue(t, cv.WithLabelValues(label))
}

func getPlainCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to read counter metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

// getGaugeValue extracts the current value from a Prometheus Gauge.
func getGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := g.Write(metric); err != nil {
		t.Fatalf("failed to read gauge metric: %v", err)
	}
	return metric.GetGauge().GetValue()
}
