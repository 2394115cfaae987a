package websock

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	framesIn, framesOut    int
	bytesIn, bytesOut      int
	resizes, compactions   int
	lastOldCap, lastNewCap int
	overflows              []string
	opened, closed         int
}

func (o *countingObserver) FrameReceived(n int) { o.framesIn++; o.bytesIn += n }
func (o *countingObserver) FrameSent(n int) { o.framesOut++; o.bytesOut += n }
func (o *countingObserver) QueueResized(oldCap, newCap int) {
	o.resizes++
	o.lastOldCap, o.lastNewCap = oldCap, newCap
}
func (o *countingObserver) QueueCompacted(int) { o.compactions++ }
func (o *countingObserver) Overflow(direction string) { o.overflows = append(o.overflows, direction) }
func (o *countingObserver) SessionOpened() { o.opened++ }
func (o *countingObserver) SessionClosed() { o.closed++ }

func seq(start, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(start + i)
	}
	return b
}

func TestReceiveQueue_DecodeScenario(t *testing.T) {
	q := NewReceiveQueue(16, 1024)
	require.NoError(t, q.Append([]byte{1, 2, 3, 4, 5}))

	assert.Equal(t, uint16(0x0102), q.TakeUint16())
	assert.Equal(t, 3, q.Len())
	q.Skip(1)
	assert.Equal(t, []byte{4, 5}, q.TakeBytes(2))

	q.settle()
	assert.Equal(t, 0, q.length)
	assert.Equal(t, 0, q.Cursor())
	assert.Equal(t, 0, q.Len())
}

func TestReceiveQueue_Scalars(t *testing.T) {
	q := NewReceiveQueue(16, 1024)
	require.NoError(t, q.Append([]byte{0xAB, 0xDE, 0xAD, 0xBE, 0xEF, 'h', 'i', 9, 8, 7}))

	assert.Equal(t, byte(0xAB), q.PeekByte())
	assert.Equal(t, 10, q.Len(), "peek must not consume")
	assert.Equal(t, byte(0xAB), q.TakeByte())
	assert.Equal(t, uint32(0xDEADBEEF), q.TakeUint32())
	assert.Equal(t, "hi", q.TakeString(2))

	assert.Equal(t, []byte{8, 7}, q.Slice(1, 3))
	assert.Equal(t, 3, q.Len(), "slice must not consume")

	dst := make([]byte, 4)
	q.CopyInto(dst, 3)
	assert.Equal(t, []byte{9, 8, 7, 0}, dst)
	assert.Equal(t, 0, q.Len())
}

func TestReceiveQueue_TakeBytesIsCapped(t *testing.T) {
	q := NewReceiveQueue(16, 1024)
	require.NoError(t, q.Append([]byte{1, 2, 3, 4}))

	view := q.TakeBytes(2)
	view = append(view, 0xFF)
	_ = view

	assert.Equal(t, byte(3), q.TakeByte(), "appending to a view must not clobber queued data")
}

func TestReceiveQueue_OverreadPanics(t *testing.T) {
	q := NewReceiveQueue(16, 1024)
	require.NoError(t, q.Append([]byte{1, 2, 3}))

	assert.Panics(t, func() { q.TakeUint32() })
	assert.Panics(t, func() { q.Skip(4) })
	assert.Panics(t, func() { q.TakeBytes(-1) })
	assert.Panics(t, func() { q.Slice(2, 1) })
	assert.Panics(t, func() { q.CopyInto(make([]byte, 1), 2) })
	assert.Equal(t, 3, q.Len(), "failed reads must not move the cursor")

	empty := NewReceiveQueue(16, 1024)
	assert.Panics(t, func() { empty.PeekByte() })
	assert.Panics(t, func() { empty.TakeByte() })
}

func TestReceiveQueue_Wait(t *testing.T) {
	q := NewReceiveQueue(16, 1024)
	require.NoError(t, q.Append([]byte{1, 2, 3, 4}))
	q.TakeByte()
	q.TakeByte()

	need, err := q.Wait(4, 0)
	require.NoError(t, err)
	assert.True(t, need)
	assert.Equal(t, 2, q.Cursor(), "no rewind requested")

	need, err = q.Wait(4, 2)
	require.NoError(t, err)
	assert.True(t, need)
	assert.Equal(t, 0, q.Cursor(), "cursor rewound by exactly 2")

	need, err = q.Wait(4, 3)
	require.NoError(t, err)
	assert.False(t, need)
	assert.Equal(t, 0, q.Cursor(), "rewind ignored when enough data is present")
}

func TestReceiveQueue_WaitRewindUnderflow(t *testing.T) {
	q := NewReceiveQueue(16, 1024)
	require.NoError(t, q.Append([]byte{1, 2, 3}))
	q.TakeByte()

	_, err := q.Wait(10, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRewindUnderflow))
	assert.Equal(t, 1, q.Cursor(), "cursor unchanged on underflow")
}

func TestReceiveQueue_SetCursor(t *testing.T) {
	q := NewReceiveQueue(16, 1024)
	require.NoError(t, q.Append([]byte{1, 2, 3}))

	mark := q.Cursor()
	q.Skip(2)
	require.NoError(t, q.SetCursor(mark))
	assert.Equal(t, byte(1), q.TakeByte())

	assert.ErrorIs(t, q.SetCursor(4), ErrCursorOutOfRange)
	assert.ErrorIs(t, q.SetCursor(-1), ErrCursorOutOfRange)
}

func TestReceiveQueue_ForcedGrowth(t *testing.T) {
	obs := &countingObserver{}
	q := NewReceiveQueue(16, 1024)
	q.observer = obs

	require.NoError(t, q.Append(seq(0, 10)))
	q.Skip(8)
	require.NoError(t, q.Append(seq(10, 10)))

	// (2 unread + 10 incoming) * 8
	assert.Equal(t, 96, q.Cap())
	assert.Equal(t, 0, q.Cursor())
	assert.Equal(t, 12, q.Len())
	assert.Equal(t, seq(8, 12), q.TakeBytes(12))
	assert.Equal(t, 1, obs.resizes)
	assert.Equal(t, 16, obs.lastOldCap)
	assert.Equal(t, 96, obs.lastNewCap)
}

func TestReceiveQueue_ForcedFitCompactsInPlace(t *testing.T) {
	obs := &countingObserver{}
	q := NewReceiveQueue(64, 1024)
	q.observer = obs

	require.NoError(t, q.Append(seq(0, 60)))
	q.Skip(59)
	require.NoError(t, q.Append(seq(60, 5)))

	assert.Equal(t, 64, q.Cap(), "capacity never shrinks")
	assert.Equal(t, 6, q.length)
	assert.Equal(t, seq(59, 6), q.TakeBytes(6))
	assert.Equal(t, 0, obs.resizes)
	assert.Equal(t, 1, obs.compactions)
}

func TestReceiveQueue_OverflowLeavesStateUnchanged(t *testing.T) {
	q := NewReceiveQueue(16, 32)
	require.NoError(t, q.Append(seq(0, 16)))
	q.Skip(1)

	err := q.Append(seq(16, 18))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBufferOverflow)
	assert.NotErrorIs(t, err, ErrSendOverflow)

	var oe *OverflowError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, 32, oe.Capacity)
	assert.Equal(t, 15, oe.Buffered)
	assert.Equal(t, 18, oe.Incoming)

	assert.Equal(t, 16, q.Cap())
	assert.Equal(t, 1, q.Cursor())
	assert.Equal(t, 15, q.Len())
	assert.Equal(t, seq(1, 15), q.TakeBytes(15))
}

func TestReceiveQueue_GrowthClampedToCeiling(t *testing.T) {
	q := NewReceiveQueue(16, 32)
	require.NoError(t, q.Append(seq(0, 16)))
	require.NoError(t, q.Append(seq(16, 16)))

	assert.Equal(t, 32, q.Cap())
	assert.Equal(t, 32, q.Len())
	assert.Equal(t, seq(0, 32), q.TakeBytes(32))
}

func TestReceiveQueue_SettleCompaction(t *testing.T) {
	t.Run("in place when under half full", func(t *testing.T) {
		q := NewReceiveQueue(64, 1024)
		require.NoError(t, q.Append(seq(0, 40)))
		q.Skip(20)
		q.settle()

		assert.Equal(t, 64, q.Cap())
		assert.Equal(t, 0, q.Cursor())
		assert.Equal(t, seq(20, 20), q.TakeBytes(20))
	})

	t.Run("doubles when over half full", func(t *testing.T) {
		q := NewReceiveQueue(64, 1024)
		require.NoError(t, q.Append(seq(0, 60)))
		q.Skip(10)
		q.settle()

		assert.Equal(t, 128, q.Cap())
		assert.Equal(t, 0, q.Cursor())
		assert.Equal(t, seq(10, 50), q.TakeBytes(50))
	})

	t.Run("doubling clamped to ceiling", func(t *testing.T) {
		q := NewReceiveQueue(64, 100)
		require.NoError(t, q.Append(seq(0, 60)))
		q.Skip(10)
		q.settle()

		assert.Equal(t, 100, q.Cap())
		assert.Equal(t, seq(10, 50), q.TakeBytes(50))
	})

	t.Run("left alone when little is unread", func(t *testing.T) {
		q := NewReceiveQueue(64, 1024)
		require.NoError(t, q.Append(seq(0, 40)))
		q.Skip(36)
		q.settle()

		assert.Equal(t, 36, q.Cursor())
		assert.Equal(t, 4, q.Len())
	})
}

func TestReceiveQueue_FIFO(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	q := NewReceiveQueue(32, 1<<20)

	const total = 20000
	stream := make([]byte, total)
	rng.Read(stream)

	var got bytes.Buffer
	written := 0
	for written < total {
		n := 1 + rng.Intn(300)
		if written+n > total {
			n = total - written
		}
		require.NoError(t, q.Append(stream[written:written+n]))
		written += n

		take := rng.Intn(q.Len() + 1)
		got.Write(q.TakeBytes(take))
		require.LessOrEqual(t, q.Len(), q.Cap())
		q.settle()
	}
	got.Write(q.TakeBytes(q.Len()))

	assert.True(t, bytes.Equal(stream, got.Bytes()), "bytes read must equal bytes written, in order")
	assert.LessOrEqual(t, q.Cap(), q.Max())
}

func TestNewReceiveQueue_Bounds(t *testing.T) {
	q := NewReceiveQueue(64, 8)
	assert.Equal(t, 64, q.Max(), "ceiling raised to the initial capacity")

	q = NewReceiveQueue(0, 0)
	assert.Equal(t, 1, q.Cap())
}
