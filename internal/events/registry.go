// Package events is a small listener registry used to fan out connection
// lifecycle notifications.
package events

import (
	"sync"
	"time"
)

// Kind names a class of event.
type Kind string

const (
	RelayOpened   Kind = "relay_opened"
	RelayClosed   Kind = "relay_closed"
	RelayRejected Kind = "relay_rejected"
)

// Event is delivered to every listener registered for its Kind.
type Event struct {
	Kind      Kind
	ConnID    string
	ClientIP  string
	TargetID  string
	Backend   string
	Reason    string
	BytesIn   int64
	BytesOut  int64
	Err       error
	Timestamp time.Time
}

// Listener handles one event. Listeners run on the dispatching goroutine.
type Listener func(Event)

// Token identifies a registered listener so it can be removed.
type Token uint64

type entry struct {
	token Token
	fn    Listener
}

// Registry maps kinds to ordered listener lists.
type Registry struct {
	mu        sync.RWMutex
	next      Token
	listeners map[Kind][]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{listeners: make(map[Kind][]entry)}
}

// Add registers fn for kind and returns its token.
func (r *Registry) Add(kind Kind, fn Listener) Token {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	r.listeners[kind] = append(r.listeners[kind], entry{token: r.next, fn: fn})
	return r.next
}

// Remove unregisters the listener with the given token. It reports whether
// a listener was removed.
func (r *Registry) Remove(kind Kind, token Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.listeners[kind]
	for i, e := range list {
		if e.token != token {
			continue
		}
		// Copy so snapshots taken by a concurrent Dispatch stay intact.
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.listeners, kind)
		} else {
			r.listeners[kind] = next
		}
		return true
	}
	return false
}

// Dispatch calls every listener currently registered for ev.Kind, in
// registration order, and returns how many were called. Listeners added or
// removed during dispatch take effect on the next call.
func (r *Registry) Dispatch(ev Event) int {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	r.mu.RLock()
	list := r.listeners[ev.Kind]
	r.mu.RUnlock()

	for _, e := range list {
		e.fn(ev)
	}
	return len(list)
}

// Len returns the number of listeners registered for kind.
func (r *Registry) Len(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[kind])
}
