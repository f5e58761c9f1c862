//go:build !linux

package gpio

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealEdgeSource is not available on non-Linux platforms.
type RealEdgeSource struct{}

// NewRealEdgeSource returns a source whose Start always fails on
// non-Linux platforms.
func NewRealEdgeSource(chip string, pin int, debounce time.Duration) *RealEdgeSource {
	return &RealEdgeSource{}
}

// Start is not implemented on non-Linux platforms.
func (s *RealEdgeSource) Start(handler func(Event)) error {
	return errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (s *RealEdgeSource) Close() error {
	return nil
}

// RealLevelWriter is not available on non-Linux platforms.
type RealLevelWriter struct{}

// NewRealLevelWriter returns an error on non-Linux platforms.
func NewRealLevelWriter(chip string, pin int, initialHigh bool) (*RealLevelWriter, error) {
	return nil, errUnsupported
}

// Write is not implemented on non-Linux platforms.
func (w *RealLevelWriter) Write(high bool) error {
	return errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (w *RealLevelWriter) Close() error {
	return nil
}
