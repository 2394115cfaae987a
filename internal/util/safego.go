package util

import (
	"fmt"
	"runtime/debug"

	"github.com/go-the-way/novnc4svc/internal/logging"
)

// PanicError is handed to a PanicHandler when a supervised goroutine panics.
type PanicError struct {
	Goroutine string
	Value     any
	Stack     []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("goroutine %s panicked: %v", e.Goroutine, e.Value)
}

// PanicHandler receives recovered panics. Sessions use it to surface a
// crashed socket pump as an error event instead of killing the process.
type PanicHandler func(*PanicError)

// SafeGo runs fn on a new goroutine, logging and swallowing any panic.
func SafeGo(fn func()) {
	SafeGoWithHandler("", fn, nil)
}

// SafeGoWithName is SafeGo with a goroutine name attached to the panic log.
//
// Example:
//
//	util.SafeGoWithName("websock-reader", func() {
//	    // read loop
//	})
func SafeGoWithName(name string, fn func()) {
	SafeGoWithHandler(name, fn, nil)
}

// SafeGoWithHandler runs fn on a new goroutine. A panic is logged with its
// stack and then passed to onPanic, if set.
func SafeGoWithHandler(name string, fn func(), onPanic PanicHandler) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				pe := &PanicError{Goroutine: name, Value: r, Stack: debug.Stack()}
				logging.Error("goroutine panic recovered",
					"goroutine", name,
					"panic", r,
					"stack", string(pe.Stack),
				)
				if onPanic != nil {
					onPanic(pe)
				}
			}
		}()
		fn()
	}()
}
