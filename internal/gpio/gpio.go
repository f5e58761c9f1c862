// Package gpio provides the hardware boundary for the relay controller:
// an edge-event source for the zero-cross detection input and a level
// writer for the solid-state relay output.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "time"

// Edge identifies the direction of a signal transition.
type Edge int

const (
	// Rising is a low-to-high transition (zero-cross pulse start).
	Rising Edge = iota
	// Falling is a high-to-low transition (zero-cross pulse end).
	Falling
)

// String returns "rising" or "falling".
func (e Edge) String() string {
	if e == Rising {
		return "rising"
	}
	return "falling"
}

// Event is a single observed transition on the input line.
type Event struct {
	// Edge is the transition direction.
	Edge Edge

	// Timestamp is the monotonic time of the transition, relative to an
	// arbitrary epoch. Only differences between timestamps are meaningful.
	Timestamp time.Duration

	// Latency is the delay between the transition itself and the handler
	// starting to run. Diagnostic only.
	Latency time.Duration
}

// EdgeSource delivers input-line transitions to a handler.
type EdgeSource interface {
	// Start begins event delivery. The handler is invoked on the source's
	// own goroutine, one event at a time, in signal order. Start may be
	// called at most once.
	Start(handler func(Event)) error

	// Close stops delivery and releases the line.
	Close() error
}

// LevelWriter drives the relay output line.
type LevelWriter interface {
	// Write sets the output level. true = HIGH (relay conducting).
	Write(high bool) error

	// Close releases the line.
	Close() error
}

// Pin definitions matching the reference hardware.
const (
	DefaultPinZeroCross = 3 // zero-cross detection input
	DefaultPinRelay     = 4 // solid state relay output
)
