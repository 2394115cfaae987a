package websock

// frameWriter is the part of a Socket a SendBuffer flushes to.
type frameWriter interface {
	ReadyState() ReadyState
	Send(p []byte) error
}

// SendBuffer accumulates outbound bytes in fixed-capacity storage until they
// are flushed as a single frame.
type SendBuffer struct {
	buf    []byte
	length int
}

// NewSendBuffer creates a send buffer holding at most capacity bytes.
func NewSendBuffer(capacity int) *SendBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &SendBuffer{buf: make([]byte, capacity)}
}

// Len returns the number of buffered bytes.
func (b *SendBuffer) Len() int { return b.length }

// Cap returns the fixed capacity.
func (b *SendBuffer) Cap() int { return len(b.buf) }

// Bytes returns the buffered bytes. The slice aliases the buffer.
func (b *SendBuffer) Bytes() []byte { return b.buf[:b.length] }

// Append buffers p. If p does not fit in the remaining capacity nothing is
// written and an *OverflowError matching ErrSendOverflow is returned.
func (b *SendBuffer) Append(p []byte) error {
	if len(p) > len(b.buf)-b.length {
		return &OverflowError{
			Direction: directionSend,
			Capacity:  len(b.buf),
			Buffered:  b.length,
			Incoming:  len(p),
		}
	}
	copy(b.buf[b.length:], p)
	b.length += len(p)
	return nil
}

// Reset discards the buffered bytes.
func (b *SendBuffer) Reset() { b.length = 0 }

// FlushTo sends the buffered bytes as one frame if there are any and w is
// open. The buffer is emptied only when the send succeeds. It returns the
// number of bytes sent.
func (b *SendBuffer) FlushTo(w frameWriter) (int, error) {
	if b.length == 0 || w.ReadyState() != Open {
		return 0, nil
	}
	n := b.length
	if err := w.Send(b.buf[:n]); err != nil {
		return 0, err
	}
	b.length = 0
	return n, nil
}
