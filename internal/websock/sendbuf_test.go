package websock

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubWriter struct {
	state  ReadyState
	frames [][]byte
	err    error
}

func (w *stubWriter) ReadyState() ReadyState { return w.state }

func (w *stubWriter) Send(p []byte) error {
	if w.err != nil {
		return w.err
	}
	w.frames = append(w.frames, append([]byte(nil), p...))
	return nil
}

func TestSendBuffer_AppendAndFlush(t *testing.T) {
	b := NewSendBuffer(8)
	w := &stubWriter{state: Open}

	require.NoError(t, b.Append([]byte("ab")))
	require.NoError(t, b.Append([]byte("cd")))
	assert.Equal(t, 4, b.Len())

	n, err := b.FlushTo(w)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, [][]byte{[]byte("abcd")}, w.frames, "buffered bytes leave as one frame")
	assert.Equal(t, 0, b.Len())

	n, err = b.FlushTo(w)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, w.frames, 1, "empty flush sends nothing")
}

func TestSendBuffer_Overflow(t *testing.T) {
	b := NewSendBuffer(4)
	require.NoError(t, b.Append([]byte{1, 2, 3}))

	err := b.Append([]byte{4, 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSendOverflow)
	assert.NotErrorIs(t, err, ErrBufferOverflow)

	var oe *OverflowError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, 4, oe.Capacity)
	assert.Equal(t, 3, oe.Buffered)
	assert.Equal(t, 2, oe.Incoming)

	assert.Equal(t, []byte{1, 2, 3}, b.Bytes(), "failed append writes nothing")

	require.NoError(t, b.Append([]byte{4}), "exact fit is allowed")
	assert.Equal(t, 4, b.Len())
}

func TestSendBuffer_FlushWhenNotReady(t *testing.T) {
	for _, state := range []ReadyState{Connecting, Closing, Closed} {
		t.Run(state.String(), func(t *testing.T) {
			b := NewSendBuffer(8)
			w := &stubWriter{state: state}
			require.NoError(t, b.Append([]byte{1}))

			n, err := b.FlushTo(w)
			require.NoError(t, err)
			assert.Zero(t, n)
			assert.Empty(t, w.frames)
			assert.Equal(t, 1, b.Len(), "bytes stay queued for the next flush")
		})
	}
}

func TestSendBuffer_FlushErrorKeepsBytes(t *testing.T) {
	b := NewSendBuffer(8)
	w := &stubWriter{state: Open, err: errors.New("broken pipe")}
	require.NoError(t, b.Append([]byte{1, 2}))

	_, err := b.FlushTo(w)
	require.Error(t, err)
	assert.Equal(t, 2, b.Len())

	w.err = nil
	n, err := b.FlushTo(w)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSendBuffer_Reset(t *testing.T) {
	b := NewSendBuffer(2)
	require.NoError(t, b.Append([]byte{1, 2}))
	b.Reset()
	assert.Zero(t, b.Len())
	assert.Equal(t, 2, b.Cap())
}
