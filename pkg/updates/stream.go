package updates

import (
	"log"
	"sync"

	"github.com/reugn/go-streams"
)

// Source exposes the update flow as a go-streams source so consumers can
// attach flows and sinks to it. It is itself a Sink: wire it into the
// manager's MultiSink and read from Out().
type Source struct {
	outCh  chan any
	closed bool
	mu     sync.Mutex
}

// NewSource creates a stream source with the given channel buffer. A full
// buffer drops updates rather than stalling the manager's callbacks.
func NewSource(buffer int) *Source {
	return &Source{outCh: make(chan any, buffer)}
}

// Emit implements Sink.
func (s *Source) Emit(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.outCh <- u:
	default:
		log.Printf("updates.Source: buffer full, dropping %s update", u.UpdateKind())
	}
}

// Out implements streams.Outlet
func (s *Source) Out() <-chan any {
	return s.outCh
}

// Via implements streams.Source
func (s *Source) Via(flow streams.Flow) streams.Flow {
	return flow
}

// Close closes the output channel. Further Emit calls are no-ops.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.outCh)
	}
	return nil
}
