package nodeproc

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

type registration struct {
	id ListenerID
	fn Listener
}

// Emitter is a listener registry keyed by event name or subscription token.
// Dispatch is synchronous and in registration order.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[string][]registration
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string][]registration)}
}

// On registers fn under event and returns the token to remove it with.
func (e *Emitter) On(event string, fn Listener) ListenerID {
	id := ListenerID(uuid.NewString())
	e.mu.Lock()
	e.listeners[event] = append(e.listeners[event], registration{id: id, fn: fn})
	e.mu.Unlock()
	return id
}

// Off removes the listener registered under id for event. Unknown ids are
// ignored.
func (e *Emitter) Off(event string, id ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	regs := e.listeners[event]
	for i, r := range regs {
		if r.id == id {
			e.listeners[event] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(e.listeners[event]) == 0 {
		delete(e.listeners, event)
	}
}

// Emit dispatches payload to every listener registered under event. Listeners
// added or removed during dispatch take effect on the next Emit.
func (e *Emitter) Emit(event string, payload json.RawMessage) {
	e.mu.RLock()
	regs := make([]registration, len(e.listeners[event]))
	copy(regs, e.listeners[event])
	e.mu.RUnlock()

	for _, r := range regs {
		r.fn(payload)
	}
}

// ListenerCount reports how many listeners are registered under event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[event])
}
