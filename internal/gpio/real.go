//go:build linux

package gpio

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"
)

// RealEdgeSource delivers zero-cross edge events from actual hardware
// using the Linux GPIO character device.
type RealEdgeSource struct {
	chip     string
	pin      int
	debounce time.Duration
	line     *gpiocdev.Line
}

// NewRealEdgeSource creates an edge source for the given input pin.
// A non-zero debounce period enables the kernel glitch filter, rejecting
// pulses narrower than the period.
func NewRealEdgeSource(chip string, pin int, debounce time.Duration) *RealEdgeSource {
	return &RealEdgeSource{chip: chip, pin: pin, debounce: debounce}
}

// Start requests the line with both-edge detection and begins delivering
// events to the handler. Events carry the kernel's monotonic timestamp.
func (s *RealEdgeSource) Start(handler func(Event)) error {
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithMonotonicEventClock,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			e := Event{Edge: Falling, Timestamp: evt.Timestamp}
			if evt.Type == gpiocdev.LineEventRisingEdge {
				e.Edge = Rising
			}
			if now, err := monotonicNow(); err == nil && now > evt.Timestamp {
				e.Latency = now - evt.Timestamp
			}
			handler(e)
		}),
	}
	if s.debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(s.debounce))
	}

	line, err := gpiocdev.RequestLine(s.chip, s.pin, opts...)
	if err != nil {
		return fmt.Errorf("request zero-cross pin %d: %w", s.pin, err)
	}
	s.line = line
	return nil
}

// Close stops event delivery and releases the line.
func (s *RealEdgeSource) Close() error {
	if s.line == nil {
		return nil
	}
	if err := s.line.Close(); err != nil {
		return fmt.Errorf("close zero-cross line: %w", err)
	}
	s.line = nil
	return nil
}

// RealLevelWriter drives the relay output line on actual hardware.
type RealLevelWriter struct {
	pin  int
	line *gpiocdev.Line
}

// NewRealLevelWriter requests the output line, driving it to the given
// initial level.
func NewRealLevelWriter(chip string, pin int, initialHigh bool) (*RealLevelWriter, error) {
	line, err := gpiocdev.RequestLine(chip, pin, gpiocdev.AsOutput(levelValue(initialHigh)))
	if err != nil {
		return nil, fmt.Errorf("request relay pin %d: %w", pin, err)
	}
	return &RealLevelWriter{pin: pin, line: line}, nil
}

// Write sets the output level.
func (w *RealLevelWriter) Write(high bool) error {
	if err := w.line.SetValue(levelValue(high)); err != nil {
		return fmt.Errorf("set relay pin %d: %w", w.pin, err)
	}
	return nil
}

// Close drives the line low and releases it, leaving the relay off for
// system shutdown.
func (w *RealLevelWriter) Close() error {
	if w.line == nil {
		return nil
	}
	if err := w.line.SetValue(0); err != nil {
		return fmt.Errorf("clear relay pin %d: %w", w.pin, err)
	}
	if err := w.line.Close(); err != nil {
		return fmt.Errorf("close relay line: %w", err)
	}
	w.line = nil
	return nil
}

func levelValue(high bool) int {
	if high {
		return 1
	}
	return 0
}

// monotonicNow reads CLOCK_MONOTONIC, the clock the kernel stamps line
// events with.
func monotonicNow() (time.Duration, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, err
	}
	return time.Duration(ts.Nano()), nil
}
