// Package status provides a thread-safe status tracker for the
// zerocross-relay daemon. The run loop refreshes it on every reporter
// tick; the shutdown path and MQTT lifecycle events read it.
package status

import (
	"sync"
	"time"
)

// Config contains daemon configuration for display.
type Config struct {
	Engine        string // "counter" or "pulse"
	Chip          string
	PinZeroCross  int
	PinRelay      int
	CycleLength   int
	CommitDelayUs int64
	GlitchUs      int64
	StatusMs      int64
	Broker        string
}

// Reconfig describes the most recent duty-cycle swap for display.
type Reconfig struct {
	Outcome string
	From    int
	To      int
	Err     string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type — safe to use after the lock is released.
type Snapshot struct {
	// Duty-cycle state (counter engine).
	FlipPoint    int
	PendingFlip  int // -1 = none
	DutyPercent  float64
	LastReconfig *Reconfig

	// Measurements. Logged locally, never published.
	TriggerCount   uint64
	CycleCount     uint64
	LastCycle      time.Duration
	EstimatedHz    float64
	RegistryFaults uint64
	WriteFaults    uint64
	RejectedReqs   uint64

	// Pulse-variant measurements.
	PulseCount     uint64
	PulseWidth     time.Duration
	PulseInterval  time.Duration
	HandlerLatency time.Duration

	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	now  func() time.Time
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
// now supplies the timestamp for snapshots, so tests can inject a mock
// clock.
func NewTracker(startTime time.Time, cfg Config, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now: now,
		snap: Snapshot{
			StartTime:   startTime,
			PendingFlip: -1,
			Config:      cfg,
		},
	}
}

// Update mutates the snapshot under the lock. Called from the run loop
// on every reporter tick.
func (t *Tracker) Update(fn func(*Snapshot)) {
	t.mu.Lock()
	fn(&t.snap)
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
