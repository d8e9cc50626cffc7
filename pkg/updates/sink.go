package updates

// Sink receives every update the manager emits. Implementations must not
// block for long: updates are dispatched from the manager's event and timer
// callbacks.
type Sink interface {
	Emit(u Update)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(Update)

// Emit calls f(u).
func (f SinkFunc) Emit(u Update) { f(u) }

// MultiSink fans each update out to every wrapped sink in order.
type MultiSink []Sink

// Emit forwards u to each sink.
func (m MultiSink) Emit(u Update) {
	for _, s := range m {
		s.Emit(u)
	}
}
