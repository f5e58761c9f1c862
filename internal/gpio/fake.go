package gpio

import (
	"errors"
	"time"
)

// FakeEdgeSource is a test double that delivers scripted edge events.
// Events are pushed synchronously with Emit, so tests control the exact
// interleaving of edges and timer expiries.
type FakeEdgeSource struct {
	// StartError, if set, will be returned by Start.
	StartError error

	// Closed tracks if Close was called.
	Closed bool

	handler func(Event)
}

// NewFakeEdgeSource creates a FakeEdgeSource.
func NewFakeEdgeSource() *FakeEdgeSource {
	return &FakeEdgeSource{}
}

// Start records the handler for later Emit calls.
func (f *FakeEdgeSource) Start(handler func(Event)) error {
	if f.StartError != nil {
		return f.StartError
	}
	f.handler = handler
	return nil
}

// Emit delivers one event to the handler, synchronously on the caller's
// goroutine. Panics if Start has not been called.
func (f *FakeEdgeSource) Emit(ev Event) {
	if f.handler == nil {
		panic("gpio: Emit before Start")
	}
	f.handler(ev)
}

// EmitEdge is shorthand for Emit with the given edge and timestamp.
func (f *FakeEdgeSource) EmitEdge(edge Edge, at time.Duration) {
	f.Emit(Event{Edge: edge, Timestamp: at})
}

// Close marks the source as closed.
func (f *FakeEdgeSource) Close() error {
	f.Closed = true
	return nil
}

// Transition records a single output write.
type Transition struct {
	High bool
	At   time.Time // zero unless Now is set
}

// FakeLevelWriter records output levels for test assertions.
type FakeLevelWriter struct {
	// Transitions contains every Write in order.
	Transitions []Transition

	// Now, if set, is used to timestamp transitions (typically a mock
	// clock's Now).
	Now func() time.Time

	// WriteError, if set, will be returned by Write.
	WriteError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeLevelWriter creates a FakeLevelWriter.
func NewFakeLevelWriter() *FakeLevelWriter {
	return &FakeLevelWriter{}
}

// Write records the level.
func (f *FakeLevelWriter) Write(high bool) error {
	if f.WriteError != nil {
		return f.WriteError
	}
	tr := Transition{High: high}
	if f.Now != nil {
		tr.At = f.Now()
	}
	f.Transitions = append(f.Transitions, tr)
	return nil
}

// Last returns the most recent transition.
// Returns an error if nothing was written yet.
func (f *FakeLevelWriter) Last() (Transition, error) {
	if len(f.Transitions) == 0 {
		return Transition{}, errors.New("no transitions recorded")
	}
	return f.Transitions[len(f.Transitions)-1], nil
}

// Close marks the writer as closed.
func (f *FakeLevelWriter) Close() error {
	f.Closed = true
	return nil
}

// Reset clears recorded transitions.
func (f *FakeLevelWriter) Reset() {
	f.Transitions = nil
	f.Closed = false
}
