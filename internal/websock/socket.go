package websock

import (
	"context"
	"net/http"
	"time"
)

// ReadyState mirrors the browser WebSocket readyState values.
type ReadyState int

const (
	Connecting ReadyState = iota
	Open
	Closing
	Closed
)

func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// closeAbnormal is the websocket status for a connection that ended without
// a close frame (1006).
const closeAbnormal = 1006

// CloseInfo describes how a connection ended.
type CloseInfo struct {
	Code   int
	Reason string
	Clean  bool
}

// SocketEvents are the notifications a Socket raises after Connect. They are
// called from a single goroutine, in order, and never concurrently.
type SocketEvents struct {
	OnOpen    func(protocol string)
	OnMessage func(data []byte)
	OnClose   func(CloseInfo)
	OnError   func(error)
}

// DialOptions configures a websocket connection.
type DialOptions struct {
	Subprotocols     []string
	HandshakeTimeout time.Duration
	ReadLimit        int64
	Header           http.Header
}

// Socket is a message-oriented duplex connection. Send must not retain p
// after it returns. When Connect returns an error no events are raised.
type Socket interface {
	Connect(ctx context.Context, uri string, opts DialOptions, events SocketEvents) error
	Send(p []byte) error
	Close() error
	ReadyState() ReadyState
}

// Observer receives transport statistics from a session.
type Observer interface {
	FrameReceived(n int)
	FrameSent(n int)
	QueueResized(oldCap, newCap int)
	QueueCompacted(unread int)
	Overflow(direction string)
	SessionOpened()
	SessionClosed()
}

type nopObserver struct{}

func (nopObserver) FrameReceived(int) {}
func (nopObserver) FrameSent(int) {}
func (nopObserver) QueueResized(int, int) {}
func (nopObserver) QueueCompacted(int) {}
func (nopObserver) Overflow(string) {}
func (nopObserver) SessionOpened() {}
func (nopObserver) SessionClosed() {}

// Recorder captures frames and lifecycle events for later inspection.
type Recorder interface {
	RecordFrame(sessionID, direction string, data []byte) error
	RecordEvent(sessionID, kind, detail string) error
}
