// Package proxy relays browser websocket connections to VNC websocket
// backends selected by an id in the query string.
package proxy

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/go-the-way/novnc4svc/internal/config"
	"github.com/go-the-way/novnc4svc/internal/events"
	"github.com/go-the-way/novnc4svc/internal/logging"
)

const (
	DefaultWSRoute     = "/cloud_vnc"
	DefaultIDQueryName = "vnc_id"

	defaultHandshakeTimeout = 10 * time.Second
)

// Metrics receives relay counters. Both metrics.Collector and
// metrics.PrometheusCollector satisfy it.
type Metrics interface {
	RelayOpened()
	RelayClosed()
	RecordRelayBytes(direction string, n int)
	RecordRateLimited()
	RecordLatency(op string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RelayOpened() {}
func (nopMetrics) RelayClosed() {}
func (nopMetrics) RecordRelayBytes(string, int) {}
func (nopMetrics) RecordRateLimited() {}
func (nopMetrics) RecordLatency(string, time.Duration) {}

// Options configures the relay routes.
type Options struct {
	WSRoute     string
	IDQueryName string

	// MetricsRoute is registered only when MetricsHandler is set too.
	MetricsRoute   string
	MetricsHandler http.Handler

	// Upgrade requests per minute per client IP. Zero disables limiting.
	RateLimitPerMinute int
	RateLimitBurst     int
	TrustProxy         bool

	HandshakeTimeout time.Duration

	Metrics Metrics
	Events  *events.Registry
}

// OptionsFromConfig builds Options from the proxy section of the config file.
func OptionsFromConfig(c config.ProxyConfig) Options {
	return Options{
		WSRoute:            c.WSRoute,
		IDQueryName:        c.IDQueryName,
		MetricsRoute:       c.MetricsRoute,
		RateLimitPerMinute: c.RateLimitPerMinute,
		RateLimitBurst:     c.RateLimitBurst,
		TrustProxy:         c.TrustProxy,
		HandshakeTimeout:   time.Duration(c.BackendHandshakeTimeoutSecs) * time.Second,
	}
}

func (o Options) withDefaults() Options {
	if o.WSRoute == "" {
		o.WSRoute = DefaultWSRoute
	}
	if o.IDQueryName == "" {
		o.IDQueryName = DefaultIDQueryName
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
	if o.Events == nil {
		o.Events = events.NewRegistry()
	}
	return o
}

// Proxy is a gin plugin serving the websocket relay.
type Proxy struct {
	opts        Options
	transformer atomic.Pointer[Transformer]
	limiter     *ipLimiter
	upgrader    websocket.Upgrader
	dialer      websocket.Dialer
	tokens      []events.Token

	mu     sync.Mutex
	active map[string]*relay
	closed bool
	wg     sync.WaitGroup
}

// DefaultPlugin serves transformer on the default routes with the default
// rate limits.
func DefaultPlugin(transformer Transformer) *Proxy {
	return Plugin(transformer, OptionsFromConfig(config.DefaultConfig().Proxy))
}

// Plugin creates a relay plugin. It panics if transformer is nil.
func Plugin(transformer Transformer, opts Options) *Proxy {
	if transformer == nil {
		panic("proxy: nil transformer")
	}
	opts = opts.withDefaults()

	p := &Proxy{
		opts:   opts,
		active: make(map[string]*relay),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			CheckOrigin:       func(r *http.Request) bool { return true },
			Subprotocols:      []string{"binary", "chat"},
			EnableCompression: true,
		},
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
			Subprotocols:     []string{"binary"},
		},
	}
	p.transformer.Store(&transformer)
	if opts.RateLimitPerMinute > 0 {
		p.limiter = newIPLimiter(opts.RateLimitPerMinute, opts.RateLimitBurst)
	}
	p.subscribe()
	return p
}

// subscribe wires lifecycle events to metrics and the audit log.
func (p *Proxy) subscribe() {
	reg := p.opts.Events
	m := p.opts.Metrics

	p.tokens = append(p.tokens,
		reg.Add(events.RelayOpened, func(ev events.Event) {
			m.RelayOpened()
			logging.Audit(logging.AuditEvent{
				Operation: "relay_open",
				Actor:     ev.ClientIP,
				Target:    ev.Backend,
				Result:    "success",
				Details:   "id " + ev.TargetID,
			})
		}),
		reg.Add(events.RelayClosed, func(ev events.Event) {
			m.RelayClosed()
			logging.Audit(logging.AuditEvent{
				Operation: "relay_close",
				Actor:     ev.ClientIP,
				Target:    ev.Backend,
				Result:    "success",
				Details:   ev.Reason,
			})
		}),
		reg.Add(events.RelayRejected, func(ev events.Event) {
			if ev.Reason == reasonRateLimited {
				m.RecordRateLimited()
			}
			logging.Warn("relay rejected",
				"reason", ev.Reason,
				"client_ip", ev.ClientIP,
				"id", ev.TargetID,
				logging.Component("proxy"))
		}),
	)
}

// Events returns the registry lifecycle events are dispatched to.
func (p *Proxy) Events() *events.Registry { return p.opts.Events }

// SetTransformer swaps the backend resolver. Relays already running are
// not affected.
func (p *Proxy) SetTransformer(t Transformer) {
	if t == nil {
		return
	}
	p.transformer.Store(&t)
}

func (p *Proxy) resolve(id string) string {
	return (*p.transformer.Load())(id)
}

// Plug registers the relay route and, if configured, the metrics route.
func (p *Proxy) Plug(engine *gin.Engine) {
	engine.GET(p.opts.WSRoute, p.handleRelay)
	if p.opts.MetricsRoute != "" && p.opts.MetricsHandler != nil {
		engine.GET(p.opts.MetricsRoute, gin.WrapH(p.opts.MetricsHandler))
	}
}

// Active returns the number of running relays.
func (p *Proxy) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *Proxy) track(r *relay) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.active[r.id] = r
	p.wg.Add(1)
	return true
}

func (p *Proxy) untrack(r *relay) {
	p.mu.Lock()
	delete(p.active, r.id)
	p.mu.Unlock()
	p.wg.Done()
}

// Close tears down running relays, waits for them to finish and stops the
// rate limiter. New relays are refused afterwards.
func (p *Proxy) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	running := make([]*relay, 0, len(p.active))
	for _, r := range p.active {
		running = append(running, r)
	}
	p.mu.Unlock()

	for _, r := range running {
		r.goAway()
	}
	p.wg.Wait()

	if p.limiter != nil {
		p.limiter.Stop()
	}
	for i, kind := range []events.Kind{events.RelayOpened, events.RelayClosed, events.RelayRejected} {
		p.opts.Events.Remove(kind, p.tokens[i])
	}
	return nil
}
