package websock

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/go-the-way/novnc4svc/internal/logging"
	"github.com/go-the-way/novnc4svc/internal/util"
)

// closeTimeout bounds how long Close waits for the peer's close frame.
const closeTimeout = 2 * time.Second

// WSSocket is a Socket backed by a gorilla websocket client connection.
// Frames are sent as binary messages; text and binary messages are both
// delivered as data.
type WSSocket struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	state    ReadyState
	closedUs bool

	writeMu sync.Mutex
}

// NewWSSocket creates an unconnected socket.
func NewWSSocket() *WSSocket {
	return &WSSocket{state: Closed}
}

// Connect dials uri and starts delivering events. The opening handshake runs
// synchronously; OnOpen and everything after it arrive on a reader goroutine.
func (s *WSSocket) Connect(ctx context.Context, uri string, opts DialOptions, events SocketEvents) error {
	s.mu.Lock()
	if s.state == Connecting || s.state == Open {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	s.state = Connecting
	s.closedUs = false
	s.mu.Unlock()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
		Subprotocols:     opts.Subprotocols,
	}

	conn, resp, err := dialer.DialContext(ctx, uri, opts.Header)
	if err != nil {
		s.mu.Lock()
		s.state = Closed
		s.mu.Unlock()
		if resp != nil {
			return fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to dial websocket: %w", err)
	}
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}

	s.mu.Lock()
	if s.state == Closing {
		// Close was requested while dialing.
		s.state = Closed
		s.mu.Unlock()
		conn.Close()
		return ErrClosedWhileConnecting
	}
	s.conn = conn
	s.state = Open
	s.mu.Unlock()

	events = withDefaults(events)
	util.SafeGoWithHandler("websock-reader", func() {
		s.readLoop(conn, events)
	}, func(pe *util.PanicError) {
		s.mu.Lock()
		s.state = Closed
		s.mu.Unlock()
		conn.Close()
		events.OnError(pe)
		events.OnClose(CloseInfo{Code: websocket.CloseInternalServerErr, Reason: pe.Error()})
	})

	return nil
}

func (s *WSSocket) readLoop(conn *websocket.Conn, events SocketEvents) {
	events.OnOpen(conn.Subprotocol())

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			byUs := s.closedUs
			s.state = Closed
			s.mu.Unlock()
			conn.Close()

			info := closeInfo(err, byUs)
			if !info.Clean {
				events.OnError(err)
			}
			events.OnClose(info)
			return
		}
		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}
		events.OnMessage(data)
	}
}

// closeInfo converts the error that ended a read loop into a CloseInfo.
func closeInfo(err error, byUs bool) CloseInfo {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return CloseInfo{
			Code:   ce.Code,
			Reason: ce.Text,
			Clean:  ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway,
		}
	}
	if byUs {
		// Peer never answered our close frame.
		return CloseInfo{Code: websocket.CloseNormalClosure, Clean: true}
	}
	return CloseInfo{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
}

// Send writes p as one binary message.
func (s *WSSocket) Send(p []byte) error {
	s.mu.Lock()
	conn, state := s.conn, s.state
	s.mu.Unlock()
	if state != Open || conn == nil {
		return ErrNotOpen
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Close starts a normal-closure handshake. The reader goroutine reports the
// final OnClose once the peer answers or closeTimeout passes.
func (s *WSSocket) Close() error {
	s.mu.Lock()
	switch s.state {
	case Connecting:
		s.state = Closing
		s.mu.Unlock()
		return nil
	case Open:
	default:
		s.mu.Unlock()
		return nil
	}
	s.state = Closing
	s.closedUs = true
	conn := s.conn
	s.mu.Unlock()

	deadline := time.Now().Add(closeTimeout)
	s.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	s.writeMu.Unlock()
	if err != nil {
		logging.Debug("close frame not sent, dropping connection",
			logging.Err(err),
			logging.Component("websock"))
		return conn.Close()
	}
	return conn.SetReadDeadline(deadline)
}

// ReadyState returns the current connection state.
func (s *WSSocket) ReadyState() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func withDefaults(ev SocketEvents) SocketEvents {
	if ev.OnOpen == nil {
		ev.OnOpen = func(string) {}
	}
	if ev.OnMessage == nil {
		ev.OnMessage = func([]byte) {}
	}
	if ev.OnClose == nil {
		ev.OnClose = func(CloseInfo) {}
	}
	if ev.OnError == nil {
		ev.OnError = func(error) {}
	}
	return ev
}
