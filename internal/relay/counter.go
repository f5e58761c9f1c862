package relay

import (
	"errors"
	"time"

	"github.com/sweeney/zerocross-relay/internal/gpio"
)

// watchCapacity is the number of watch points the counter can hold,
// matching the comparator banks of the hardware pulse counter units this
// design is modeled on.
const watchCapacity = 4

var (
	// ErrWatchFull is returned by Arm when all watch slots are in use.
	ErrWatchFull = errors.New("relay: watch point capacity exhausted")

	// ErrWatchExists is returned by Arm when the value is already armed.
	ErrWatchExists = errors.New("relay: watch point already armed")
)

// WatchHandler is invoked, on the edge-delivery goroutine, when the
// counter reaches an armed watch value. It must not block.
type WatchHandler func(value int, at time.Duration)

// Counter counts qualifying edges within [0, length] and fires a handler
// whenever the count reaches an armed watch value. It is the software
// equivalent of a hardware pulse-counter unit with compare interrupts:
// all methods must be called from the edge-delivery goroutine, except
// that the handler itself may call Reset and the watch-point methods.
type Counter struct {
	length  int
	qualify gpio.Edge
	glitch  time.Duration
	onReach WatchHandler

	count    int
	haveEdge bool
	lastEdge time.Duration

	watches [watchCapacity]int
	armed   [watchCapacity]bool
}

// NewCounter creates a counter for the given cycle length. Only edges of
// the qualify direction are counted. A non-zero glitch window rejects any
// edge closer than the window to the previously accepted edge, filtering
// electrical noise on top of whatever the kernel debounce already did.
func NewCounter(length int, qualify gpio.Edge, glitch time.Duration, onReach WatchHandler) *Counter {
	return &Counter{
		length:  length,
		qualify: qualify,
		glitch:  glitch,
		onReach: onReach,
	}
}

// Edge feeds one raw input transition into the counter. Non-qualifying
// edges (wrong direction, or inside the glitch window) are dropped.
// Reaching an armed watch value invokes the handler synchronously.
func (c *Counter) Edge(ev gpio.Event) {
	if c.glitch > 0 && c.haveEdge && ev.Timestamp-c.lastEdge < c.glitch {
		return
	}
	c.lastEdge = ev.Timestamp
	c.haveEdge = true

	if ev.Edge != c.qualify {
		return
	}
	if c.count >= c.length {
		// The cycle-end handler resets the count; without an armed
		// cycle-end watch the counter saturates rather than wrapping
		// silently.
		return
	}

	c.count++
	v := c.count
	for i := range c.watches {
		if c.armed[i] && c.watches[i] == v {
			c.onReach(v, ev.Timestamp)
			return
		}
	}
}

// Count returns the current edge count.
func (c *Counter) Count() int {
	return c.count
}

// Reset sets the count back to zero. Called by the cycle-end handler,
// never elsewhere.
func (c *Counter) Reset() {
	c.count = 0
}

// Arm registers a watch point at the given value.
func (c *Counter) Arm(value int) error {
	for i := range c.watches {
		if c.armed[i] && c.watches[i] == value {
			return ErrWatchExists
		}
	}
	for i := range c.watches {
		if !c.armed[i] {
			c.watches[i] = value
			c.armed[i] = true
			return nil
		}
	}
	return ErrWatchFull
}

// Disarm removes the watch point at the given value. Disarming a value
// that is not armed is a no-op, not an error, which keeps the duty-cycle
// swap protocol simple.
func (c *Counter) Disarm(value int) error {
	for i := range c.watches {
		if c.armed[i] && c.watches[i] == value {
			c.armed[i] = false
			return nil
		}
	}
	return nil
}

// Armed reports whether the given value has an armed watch point.
func (c *Counter) Armed(value int) bool {
	for i := range c.watches {
		if c.armed[i] && c.watches[i] == value {
			return true
		}
	}
	return false
}
