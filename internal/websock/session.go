// Package websock implements the client transport beneath an RFB decoder:
// a cursor-based receive queue fed by websocket frames, a fixed-size send
// buffer, and a Session binding both to a Socket.
package websock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/go-the-way/novnc4svc/internal/config"
	"github.com/go-the-way/novnc4svc/internal/logging"
	"github.com/go-the-way/novnc4svc/pkg/vncauth"
)

// State is the session lifecycle state.
type State int

const (
	StateNew State = iota
	StateOpening
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session owns one receive queue and one send buffer and drives them from a
// Socket's events. Inbound frames are appended to the queue and announced
// through the OnMessage handler, which decodes from Receive(). Handlers run
// on the socket's delivery goroutine, one at a time.
type Session struct {
	id       string
	socket   Socket
	observer Observer
	recorder Recorder

	receiveInitial int
	receiveMax     int
	sendCapacity   int

	mu        sync.Mutex
	state     State
	detached  bool
	onMessage func()
	onOpen    func()
	onClose   func(CloseInfo)
	onError   func(error)

	rq *ReceiveQueue

	sendMu sync.Mutex
	sq     *SendBuffer
}

// Option configures a Session.
type Option func(*Session)

// WithObserver reports transport statistics to o.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithRecorder captures every frame and lifecycle event to r.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithCapacities sets the receive queue's initial size and ceiling and the
// send buffer size. Non-positive values keep the defaults.
func WithCapacities(receiveInitial, receiveMax, send int) Option {
	return func(s *Session) {
		if receiveInitial > 0 {
			s.receiveInitial = receiveInitial
		}
		if receiveMax > 0 {
			s.receiveMax = receiveMax
		}
		if send > 0 {
			s.sendCapacity = send
		}
	}
}

// WithSessionConfig applies the session section of the config file.
func WithSessionConfig(c config.SessionConfig) Option {
	return WithCapacities(c.ReceiveInitialBytes, c.ReceiveMaxBytes, c.SendBytes)
}

// WithID overrides the generated session ID.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// NewSession creates a session over socket. A nil socket gets a WSSocket.
func NewSession(socket Socket, opts ...Option) *Session {
	if socket == nil {
		socket = NewWSSocket()
	}
	s := &Session{
		id:             uuid.New().String(),
		socket:         socket,
		observer:       nopObserver{},
		receiveInitial: config.DefaultReceiveInitial,
		receiveMax:     config.DefaultReceiveMax,
		sendCapacity:   config.DefaultSendCapacity,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier used in logs and captures.
func (s *Session) ID() string { return s.id }

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Receive returns the receive queue. It is nil before Open and must only be
// used from the OnMessage handler.
func (s *Session) Receive() *ReceiveQueue { return s.rq }

// OnMessage sets the handler called after each non-empty frame. Nil clears it.
func (s *Session) OnMessage(fn func()) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnOpen sets the handler called when the socket opens. Nil clears it.
func (s *Session) OnOpen(fn func()) {
	s.mu.Lock()
	s.onOpen = fn
	s.mu.Unlock()
}

// OnClose sets the handler called when the socket closes. Nil clears it.
func (s *Session) OnClose(fn func(CloseInfo)) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

// OnError sets the handler for socket errors and receive overflows. Nil clears it.
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

func (s *Session) log() *slog.Logger {
	return logging.With(logging.Component("websock"), logging.SessionID(s.id))
}

// Open allocates fresh buffers and connects the socket to uri. A session can
// be reopened after it has closed. If the connection cannot be made, onError
// (unless Close caused it) and onClose fire before Open returns.
func (s *Session) Open(ctx context.Context, uri string, opts DialOptions) error {
	s.mu.Lock()
	if s.state == StateOpening || s.state == StateOpen {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	rq := NewReceiveQueue(s.receiveInitial, s.receiveMax)
	rq.observer = s.observer
	s.rq = rq
	s.state = StateOpening
	s.detached = false
	s.mu.Unlock()

	s.sendMu.Lock()
	s.sq = NewSendBuffer(s.sendCapacity)
	s.sendMu.Unlock()

	s.log().Debug("opening websocket", logging.Target(uri))
	s.record("open", logging.RedactURL(uri))

	err := s.socket.Connect(ctx, uri, opts, SocketEvents{
		OnOpen:    s.handleOpen,
		OnMessage: s.handleMessage,
		OnClose:   s.handleClose,
		OnError:   s.handleError,
	})
	if err != nil {
		// The socket raises nothing for a failed Connect, so the session
		// reports the error and the close itself.
		info := CloseInfo{Code: closeAbnormal, Reason: err.Error()}
		if !errors.Is(err, ErrClosedWhileConnecting) {
			s.handleError(err)
		}
		s.handleClose(info)
		return fmt.Errorf("failed to open session: %w", err)
	}
	return nil
}

func (s *Session) handleOpen(protocol string) {
	s.mu.Lock()
	if s.state != StateOpening {
		s.mu.Unlock()
		return
	}
	s.state = StateOpen
	handler := s.onOpen
	s.mu.Unlock()

	if protocol != "" {
		s.log().Info("server chose sub-protocol", "protocol", protocol)
	}
	s.log().Debug("websocket open")
	s.observer.SessionOpened()

	if handler != nil {
		handler()
	}
}

func (s *Session) handleMessage(data []byte) {
	s.mu.Lock()
	detached := s.detached
	handler := s.onMessage
	s.mu.Unlock()
	if detached {
		return
	}

	s.observer.FrameReceived(len(data))
	s.recordFrame("in", data)

	if err := s.rq.Append(data); err != nil {
		s.observer.Overflow(directionReceive)
		s.log().Error("receive queue overflow", logging.Err(err))
		s.handleError(err)
		return
	}

	if s.rq.Len() == 0 {
		s.log().Debug("ignoring empty message")
		return
	}

	if handler != nil {
		handler()
	}
	s.rq.settle()
}

func (s *Session) handleClose(info CloseInfo) {
	s.mu.Lock()
	wasOpen := s.state == StateOpen
	s.state = StateClosed
	handler := s.onClose
	s.mu.Unlock()

	s.log().Debug("websocket closed", "code", info.Code, "reason", info.Reason, "clean", info.Clean)
	s.record("close", fmt.Sprintf("%d %s", info.Code, info.Reason))
	if wasOpen {
		s.observer.SessionClosed()
	}

	if handler != nil {
		handler(info)
	}
}

func (s *Session) handleError(err error) {
	s.mu.Lock()
	handler := s.onError
	s.mu.Unlock()

	s.log().Debug("websocket error", logging.Err(err))
	s.record("error", err.Error())

	if handler != nil {
		handler(err)
	}
}

// Send buffers p and flushes immediately, so each call becomes one frame
// when the socket is open. A write larger than the free send capacity fails
// with ErrSendOverflow and nothing is buffered.
func (s *Session) Send(p []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.sq == nil {
		return ErrNotOpen
	}
	if err := s.sq.Append(p); err != nil {
		s.observer.Overflow(directionSend)
		return err
	}
	return s.flushLocked()
}

// SendString sends the bytes of str.
func (s *Session) SendString(str string) error {
	return s.Send([]byte(str))
}

// Flush sends any buffered bytes if the socket is open. Bytes stay buffered
// when the socket is not ready or the write fails.
func (s *Session) Flush() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sq == nil {
		return nil
	}
	return s.flushLocked()
}

func (s *Session) flushLocked() error {
	frame := s.sq.Bytes()
	n, err := s.sq.FlushTo(s.socket)
	if err != nil {
		return fmt.Errorf("failed to flush send buffer: %w", err)
	}
	if n > 0 {
		s.observer.FrameSent(n)
		s.recordFrame("out", frame[:n])
	}
	return nil
}

// Authenticate answers a VNC authentication challenge: the 16-byte challenge
// is encrypted with the 8-byte key and the response sent as one frame.
func (s *Session) Authenticate(challenge, key []byte) error {
	c, err := vncauth.NewCipher(key)
	if err != nil {
		return err
	}
	response, err := c.Encrypt(challenge)
	if err != nil {
		return err
	}
	return s.Send(response)
}

// Close asks the socket to close and stops message delivery at once. The
// state becomes StateClosed when the socket reports the close.
func (s *Session) Close() error {
	s.mu.Lock()
	s.detached = true
	state := s.state
	s.mu.Unlock()

	if state == StateNew {
		return nil
	}

	switch s.socket.ReadyState() {
	case Open, Connecting:
		s.log().Info("closing websocket connection")
		if err := s.socket.Close(); err != nil {
			return fmt.Errorf("failed to close socket: %w", err)
		}
	}
	return nil
}

func (s *Session) record(kind, detail string) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordEvent(s.id, kind, detail); err != nil {
		s.log().Debug("capture failed", logging.Err(err))
	}
}

func (s *Session) recordFrame(direction string, data []byte) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordFrame(s.id, direction, data); err != nil {
		s.log().Debug("capture failed", logging.Err(err))
	}
}

// IsOverflow reports whether err is a receive or send overflow.
func IsOverflow(err error) bool {
	return errors.Is(err, ErrBufferOverflow) || errors.Is(err, ErrSendOverflow)
}
