// Package pulse implements the simpler zero-cross measurement variant:
// instead of counting edges against watch points, it measures pulse width
// and pulse interval directly from edge timestamps and drives the relay
// output high at each pulse start. It shares the gpio boundary with the
// counter engine so the daemon can run either.
package pulse

import (
	"sync/atomic"
	"time"

	"github.com/sweeney/zerocross-relay/internal/gpio"
)

// Plausibility windows for a mains zero-cross signal.
const (
	// Pulse intervals outside 40-70 Hz AC (100 Hz pulse = 10 ms at
	// 50 Hz mains) are discarded as noise.
	minInterval = 7 * time.Millisecond
	maxInterval = 13 * time.Millisecond

	// A zero-cross pulse is at most half a mains cycle wide.
	maxWidth = 10 * time.Millisecond
)

// Monitor measures the zero-cross pulse train. HandleEdge runs on the
// edge-delivery goroutine; all published fields are single-writer atomics
// polled by the reporter.
type Monitor struct {
	out gpio.LevelWriter // nil disables output control

	haveRising bool
	lastRising time.Duration

	triggerCount atomic.Uint64
	pulseCount   atomic.Uint64
	widthUs      atomic.Int64
	intervalUs   atomic.Int64
	latencyNs    atomic.Int64
	writeFaults  atomic.Uint64
}

// NewMonitor creates a monitor. If out is non-nil, the output is driven
// high on each rising edge, synchronized with the pulse train.
func NewMonitor(out gpio.LevelWriter) *Monitor {
	return &Monitor{out: out}
}

// HandleEdge processes one raw input transition.
func (m *Monitor) HandleEdge(ev gpio.Event) {
	m.triggerCount.Add(1)
	if ev.Latency > 0 {
		m.latencyNs.Store(ev.Latency.Nanoseconds())
	}

	if ev.Edge == gpio.Rising {
		if m.out != nil {
			if err := m.out.Write(true); err != nil {
				m.writeFaults.Add(1)
			}
		}
		if m.haveRising {
			if iv := ev.Timestamp - m.lastRising; iv > minInterval && iv < maxInterval {
				m.intervalUs.Store(iv.Microseconds())
			}
		}
		m.lastRising = ev.Timestamp
		m.haveRising = true
		return
	}

	// Falling edge: pulse end.
	if !m.haveRising {
		return
	}
	if w := ev.Timestamp - m.lastRising; w > 0 && w < maxWidth {
		m.widthUs.Store(w.Microseconds())
		m.pulseCount.Add(1)
	}
}

// TriggerCount returns the total number of edges observed.
func (m *Monitor) TriggerCount() uint64 {
	return m.triggerCount.Load()
}

// PulseCount returns the number of complete pulses measured.
func (m *Monitor) PulseCount() uint64 {
	return m.pulseCount.Load()
}

// PulseWidth returns the most recent valid pulse width.
func (m *Monitor) PulseWidth() time.Duration {
	return time.Duration(m.widthUs.Load()) * time.Microsecond
}

// PulseInterval returns the most recent valid rising-to-rising interval.
func (m *Monitor) PulseInterval() time.Duration {
	return time.Duration(m.intervalUs.Load()) * time.Microsecond
}

// EstimatedHz returns the estimated AC frequency: half the pulse
// frequency, since one AC cycle has two zero crossings. Zero until a
// valid interval has been measured.
func (m *Monitor) EstimatedHz() float64 {
	iv := m.intervalUs.Load()
	if iv <= 0 {
		return 0
	}
	return 1e6 / float64(iv) / 2
}

// HandlerLatency returns the most recent edge-to-handler delay.
func (m *Monitor) HandlerLatency() time.Duration {
	return time.Duration(m.latencyNs.Load())
}

// WriteFaults returns the number of output-pin write failures.
func (m *Monitor) WriteFaults() uint64 {
	return m.writeFaults.Load()
}
