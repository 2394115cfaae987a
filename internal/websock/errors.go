package websock

import (
	"errors"
	"fmt"
)

var (
	// ErrBufferOverflow means the receive queue could not fit a frame even at its ceiling.
	// The session must be closed.
	ErrBufferOverflow = errors.New("receive queue overflow")

	// ErrSendOverflow means an outbound write does not fit in the send buffer.
	ErrSendOverflow = errors.New("send buffer overflow")

	// ErrRewindUnderflow means Wait was asked to rewind past the start of the queue.
	ErrRewindUnderflow = errors.New("rewind exceeds consumed bytes")

	// ErrCursorOutOfRange is returned by SetCursor for positions outside the queued data.
	ErrCursorOutOfRange = errors.New("cursor out of range")

	// ErrNotOpen is returned when sending on a session or socket that is not open.
	ErrNotOpen = errors.New("websocket is not open")

	// ErrAlreadyOpen is returned by Open while a connection is opening or open.
	ErrAlreadyOpen = errors.New("websocket is already open")

	// ErrClosedWhileConnecting is returned by Connect when Close was called
	// before the opening handshake finished.
	ErrClosedWhileConnecting = errors.New("websocket closed while connecting")
)

// OverflowError carries the sizes involved in a buffer overflow.
// It matches ErrBufferOverflow or ErrSendOverflow under errors.Is,
// depending on Direction.
type OverflowError struct {
	Direction string // "receive" or "send"
	Capacity  int    // ceiling (receive) or fixed capacity (send)
	Buffered  int    // bytes already held
	Incoming  int    // bytes that did not fit
}

func (e *OverflowError) Error() string {
	if e.Direction == directionSend {
		return fmt.Sprintf("send buffer overflow: %d buffered + %d incoming exceeds capacity %d",
			e.Buffered, e.Incoming, e.Capacity)
	}
	return fmt.Sprintf("receive queue exceeded %d bytes: %d unread + %d incoming cannot fit",
		e.Capacity, e.Buffered, e.Incoming)
}

func (e *OverflowError) Is(target error) bool {
	if e.Direction == directionSend {
		return target == ErrSendOverflow
	}
	return target == ErrBufferOverflow
}

const (
	directionReceive = "receive"
	directionSend    = "send"
)
