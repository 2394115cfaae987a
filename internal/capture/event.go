// Package capture records websocket session traffic to a CBOR file and
// reads it back.
package capture

import "time"

// MaxDataSize bounds the payload stored per frame. Longer frames are cut and
// marked Truncated; Size keeps the original length.
const MaxDataSize = 4096

// Kinds recorded by the session.
const (
	KindFrame = "frame"
	KindOpen  = "open"
	KindClose = "close"
	KindError = "error"
)

// Event is one captured record. CBOR encoding uses integer keys.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	SessionID string    `cbor:"2,keyasint"`
	// Direction is "in" or "out" for frames, empty otherwise.
	Direction string `cbor:"3,keyasint,omitempty"`
	Kind      string `cbor:"4,keyasint"`
	Data      []byte `cbor:"5,keyasint,omitempty"`
	Size      int    `cbor:"6,keyasint,omitempty"`
	Truncated bool   `cbor:"7,keyasint,omitempty"`
	Detail    string `cbor:"8,keyasint,omitempty"`
}

func frameEvent(sessionID, direction string, data []byte) Event {
	ev := Event{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Direction: direction,
		Kind:      KindFrame,
		Size:      len(data),
	}
	if len(data) > MaxDataSize {
		data = data[:MaxDataSize]
		ev.Truncated = true
	}
	ev.Data = append([]byte(nil), data...)
	return ev
}
