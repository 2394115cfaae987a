package capture

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/go-the-way/novnc4svc/internal/websock"
)

// ErrClosed is returned when recording to a closed FileRecorder.
var ErrClosed = errors.New("capture file closed")

// FileRecorder appends events to a capture file. It is safe for concurrent
// use and satisfies websock.Recorder.
type FileRecorder struct {
	mu      sync.Mutex
	file    *os.File
	encoder *cbor.Encoder
	closed  bool
	count   int
}

var _ websock.Recorder = (*FileRecorder)(nil)

// NewFileRecorder opens path for appending, creating it with mode 0600.
func NewFileRecorder(path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	return &FileRecorder{
		file:    f,
		encoder: NewEncoder(f),
	}, nil
}

// Record writes ev to the file.
func (r *FileRecorder) Record(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if err := r.encoder.Encode(ev); err != nil {
		return err
	}
	r.count++
	return nil
}

// RecordFrame captures a data frame.
func (r *FileRecorder) RecordFrame(sessionID, direction string, data []byte) error {
	return r.Record(frameEvent(sessionID, direction, data))
}

// RecordEvent captures a lifecycle event such as open, close or error.
func (r *FileRecorder) RecordEvent(sessionID, kind, detail string) error {
	return r.Record(Event{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Kind:      kind,
		Detail:    detail,
	})
}

// Count returns the number of events written.
func (r *FileRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close closes the file. Calling it again is a no-op.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}
