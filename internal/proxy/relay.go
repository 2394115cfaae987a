package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/go-the-way/novnc4svc/internal/events"
	"github.com/go-the-way/novnc4svc/internal/logging"
	"github.com/go-the-way/novnc4svc/internal/util"
)

// Rejection reasons carried by events.RelayRejected.
const (
	reasonRateLimited        = "rate_limited"
	reasonUnknownID          = "unknown_id"
	reasonUpgradeFailed      = "upgrade_failed"
	reasonBackendUnreachable = "backend_unreachable"
	reasonShuttingDown       = "shutting_down"
)

// Relay byte directions, matching the labels used by the metrics package.
const (
	directionUpstream   = "client_to_backend"
	directionDownstream = "backend_to_client"
)

const closeWriteWait = time.Second

type relay struct {
	id      string
	client  *websocket.Conn
	backend *websocket.Conn

	bytesUp   atomic.Int64
	bytesDown atomic.Int64

	once sync.Once
}

func (r *relay) shutdown() {
	r.once.Do(func() {
		r.client.Close()
		r.backend.Close()
	})
}

// goAway tells both peers the proxy is leaving, then drops the connections.
func (r *relay) goAway() {
	closeWith(r.client, websocket.CloseGoingAway, "proxy shutting down")
	closeWith(r.backend, websocket.CloseGoingAway, "proxy shutting down")
	r.shutdown()
}

// run copies messages both ways until either side fails and returns the
// first error.
func (r *relay) run(m Metrics) error {
	errc := make(chan error, 2)
	pump := func(name string, src, dst *websocket.Conn, direction string, counter *atomic.Int64) {
		util.SafeGoWithHandler(name, func() {
			errc <- copyMessages(src, dst, direction, counter, m)
		}, func(pe *util.PanicError) {
			errc <- pe
		})
	}
	pump("relay-upstream", r.client, r.backend, directionUpstream, &r.bytesUp)
	pump("relay-downstream", r.backend, r.client, directionDownstream, &r.bytesDown)

	err := <-errc
	r.shutdown()
	<-errc
	return err
}

// copyMessages forwards messages from src to dst keeping their type. A
// close received from src is passed on to dst.
func copyMessages(src, dst *websocket.Conn, direction string, counter *atomic.Int64, m Metrics) error {
	for {
		mt, msg, err := src.ReadMessage()
		if err != nil {
			forwardClose(dst, err)
			return err
		}
		if err := dst.WriteMessage(mt, msg); err != nil {
			return err
		}
		counter.Add(int64(len(msg)))
		m.RecordRelayBytes(direction, len(msg))
	}
}

func forwardClose(dst *websocket.Conn, err error) {
	code, text := websocket.CloseGoingAway, ""
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure && ce.Code != websocket.CloseTLSHandshake {
		code, text = ce.Code, ce.Text
	}
	closeWith(dst, code, text)
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(closeWriteWait))
}

func closeReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return fmt.Sprintf("closed %d %s", ce.Code, ce.Text)
	}
	if err == nil {
		return "closed"
	}
	return err.Error()
}

func (p *Proxy) reject(ip, id, reason string, err error) {
	p.opts.Events.Dispatch(events.Event{
		Kind:     events.RelayRejected,
		ClientIP: ip,
		TargetID: id,
		Reason:   reason,
		Err:      err,
	})
}

func (p *Proxy) handleRelay(c *gin.Context) {
	ip := extractClientIP(c.Request, p.opts.TrustProxy)
	id := c.Query(p.opts.IDQueryName)

	if p.limiter != nil && !p.limiter.Allow(ip) {
		p.reject(ip, id, reasonRateLimited, nil)
		c.Header("Retry-After", "60")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "retry_after": 60})
		return
	}

	backend := p.resolve(id)
	if backend == "" {
		p.reject(ip, id, reasonUnknownID, nil)
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown vnc id"})
		return
	}

	up := p.upgrader
	up.Error = func(w http.ResponseWriter, r *http.Request, status int, reason error) {
		c.JSON(status, gin.H{"error": "websocket upgrade error: " + reason.Error()})
	}
	clientConn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		p.reject(ip, id, reasonUpgradeFailed, err)
		return
	}

	target := backendURL(backend, c.Request.URL.RawQuery)
	start := time.Now()
	backendConn, resp, err := p.dialer.DialContext(c.Request.Context(), target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		p.reject(ip, id, reasonBackendUnreachable, err)
		logging.Warn("backend dial failed",
			logging.Target(target),
			logging.Err(err),
			logging.Component("proxy"))
		closeWith(clientConn, websocket.CloseInternalServerErr, "backend unavailable")
		clientConn.Close()
		return
	}
	p.opts.Metrics.RecordLatency("backend_dial", time.Since(start))

	r := &relay{id: uuid.NewString(), client: clientConn, backend: backendConn}
	if !p.track(r) {
		p.reject(ip, id, reasonShuttingDown, nil)
		r.goAway()
		return
	}
	defer p.untrack(r)

	log := logging.With(logging.Component("proxy"), "relay_id", r.id, "client_ip", ip)
	log.Info("relay opened", logging.Target(backend), "protocol", clientConn.Subprotocol())
	p.opts.Events.Dispatch(events.Event{
		Kind:     events.RelayOpened,
		ConnID:   r.id,
		ClientIP: ip,
		TargetID: id,
		Backend:  backend,
	})

	err = r.run(p.opts.Metrics)
	reason := closeReason(err)

	log.Info("relay closed",
		"reason", reason,
		"bytes_up", r.bytesUp.Load(),
		"bytes_down", r.bytesDown.Load(),
		"duration", time.Since(start).Round(time.Millisecond).String())
	p.opts.Events.Dispatch(events.Event{
		Kind:     events.RelayClosed,
		ConnID:   r.id,
		ClientIP: ip,
		TargetID: id,
		Backend:  backend,
		Reason:   reason,
		BytesIn:  r.bytesUp.Load(),
		BytesOut: r.bytesDown.Load(),
		Err:      err,
	})
}
