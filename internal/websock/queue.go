package websock

import (
	"encoding/binary"
	"fmt"
)

// growthFactor over-allocates a forced resize so that the fitted data
// occupies at most an eighth of the new storage.
const growthFactor = 8

// ReceiveQueue is a growable byte buffer read through a cursor. Frames are
// appended at the end; decoders consume from the cursor.
//
// Invariant: 0 <= cursor <= length <= cap(storage) <= max.
//
// Read operations require that enough bytes are unread. Callers check with
// Wait first; reading past the unread region panics.
type ReceiveQueue struct {
	buf    []byte // len(buf) is the capacity
	length int
	cursor int
	max    int

	observer Observer
}

// NewReceiveQueue creates a queue with the given initial capacity that may
// grow up to max bytes. A max below initial is raised to initial.
func NewReceiveQueue(initial, max int) *ReceiveQueue {
	if initial < 1 {
		initial = 1
	}
	if max < initial {
		max = initial
	}
	return &ReceiveQueue{
		buf:      make([]byte, initial),
		max:      max,
		observer: nopObserver{},
	}
}

// Len returns the number of unread bytes.
func (q *ReceiveQueue) Len() int { return q.length - q.cursor }

// Cap returns the current storage capacity.
func (q *ReceiveQueue) Cap() int { return len(q.buf) }

// Max returns the capacity ceiling.
func (q *ReceiveQueue) Max() int { return q.max }

// Cursor returns the read position relative to the start of the stored data.
func (q *ReceiveQueue) Cursor() int { return q.cursor }

// SetCursor moves the read position to pos, which must lie within the stored data.
// Positions are only meaningful until the next Append.
func (q *ReceiveQueue) SetCursor(pos int) error {
	if pos < 0 || pos > q.length {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrCursorOutOfRange, pos, q.length)
	}
	q.cursor = pos
	return nil
}

func (q *ReceiveQueue) need(n int) {
	if n < 0 || n > q.Len() {
		panic(fmt.Sprintf("websock: read of %d bytes with only %d unread", n, q.Len()))
	}
}

// PeekByte returns the next unread byte without consuming it.
func (q *ReceiveQueue) PeekByte() byte {
	q.need(1)
	return q.buf[q.cursor]
}

// TakeByte consumes one byte.
func (q *ReceiveQueue) TakeByte() byte {
	q.need(1)
	b := q.buf[q.cursor]
	q.cursor++
	return b
}

// Skip consumes n bytes without returning them.
func (q *ReceiveQueue) Skip(n int) {
	q.need(n)
	q.cursor += n
}

// TakeUint16 consumes a big-endian uint16.
func (q *ReceiveQueue) TakeUint16() uint16 {
	q.need(2)
	v := binary.BigEndian.Uint16(q.buf[q.cursor:])
	q.cursor += 2
	return v
}

// TakeUint32 consumes a big-endian uint32.
func (q *ReceiveQueue) TakeUint32() uint32 {
	q.need(4)
	v := binary.BigEndian.Uint32(q.buf[q.cursor:])
	q.cursor += 4
	return v
}

// TakeBytes consumes n bytes and returns them without copying. The returned
// slice aliases the queue storage and is only valid until the next Append.
func (q *ReceiveQueue) TakeBytes(n int) []byte {
	q.need(n)
	start := q.cursor
	q.cursor += n
	return q.buf[start:q.cursor:q.cursor]
}

// TakeString consumes n bytes as a string.
func (q *ReceiveQueue) TakeString(n int) string {
	return string(q.TakeBytes(n))
}

// CopyInto consumes n bytes into dst, which must hold at least n bytes.
func (q *ReceiveQueue) CopyInto(dst []byte, n int) {
	q.need(n)
	if len(dst) < n {
		panic(fmt.Sprintf("websock: copy of %d bytes into %d byte destination", n, len(dst)))
	}
	copy(dst, q.buf[q.cursor:q.cursor+n])
	q.cursor += n
}

// Slice returns unread bytes [start, end) relative to the cursor without
// consuming them. Like TakeBytes, the result aliases the queue storage.
func (q *ReceiveQueue) Slice(start, end int) []byte {
	if start < 0 || start > end {
		panic(fmt.Sprintf("websock: invalid slice [%d:%d]", start, end))
	}
	q.need(end)
	return q.buf[q.cursor+start : q.cursor+end : q.cursor+end]
}

// Wait reports whether fewer than required bytes are unread. When more data
// is needed and rewind is positive, the cursor moves back rewind bytes so the
// caller can re-parse from an earlier point once the next frame arrives.
// Asking to rewind past the start returns ErrRewindUnderflow and leaves the
// cursor alone.
func (q *ReceiveQueue) Wait(required, rewind int) (bool, error) {
	if q.Len() >= required {
		return false, nil
	}
	if rewind > 0 {
		if rewind > q.cursor {
			return false, fmt.Errorf("%w: rewind %d with %d consumed", ErrRewindUnderflow, rewind, q.cursor)
		}
		q.cursor -= rewind
	}
	return true, nil
}

// Append adds an inbound frame to the queue, growing or compacting the
// storage when the frame does not fit after the current data. If the frame
// cannot fit even at the ceiling, Append returns an *OverflowError matching
// ErrBufferOverflow and the queue is unchanged.
func (q *ReceiveQueue) Append(p []byte) error {
	n := len(p)
	if n == 0 {
		return nil
	}
	if len(q.buf)-q.length < n {
		if err := q.compact(n); err != nil {
			return err
		}
	}
	copy(q.buf[q.length:], p)
	q.length += n
	return nil
}

// settle runs after the owner has consumed what it could from a frame.
// A drained queue is reset; otherwise once unread data exceeds an eighth of
// the capacity it is moved to the front, doubling the storage if it is more
// than half full.
func (q *ReceiveQueue) settle() {
	if q.cursor == q.length {
		q.cursor = 0
		q.length = 0
		return
	}
	if q.Len() > len(q.buf)/growthFactor {
		// No fit is required, so this cannot fail.
		_ = q.compact(0)
	}
}

// compact moves the unread region to offset 0. minFit > 0 is a forced
// request to make room for that many incoming bytes.
func (q *ReceiveQueue) compact(minFit int) error {
	unread := q.Len()
	oldCap := len(q.buf)
	newCap := oldCap

	if minFit > 0 {
		if want := (unread + minFit) * growthFactor; want > newCap {
			newCap = want
		}
	} else if unread > oldCap/2 {
		newCap = oldCap * 2
	}

	if newCap > q.max {
		newCap = q.max
		if newCap-unread < minFit {
			return &OverflowError{
				Direction: directionReceive,
				Capacity:  q.max,
				Buffered:  unread,
				Incoming:  minFit,
			}
		}
	}

	if newCap != oldCap {
		buf := make([]byte, newCap)
		copy(buf, q.buf[q.cursor:q.length])
		q.buf = buf
		q.observer.QueueResized(oldCap, newCap)
	} else {
		copy(q.buf, q.buf[q.cursor:q.length])
		q.observer.QueueCompacted(unread)
	}

	q.length = unread
	q.cursor = 0
	return nil
}
