// Package relay implements the phase-synchronized relay control engine:
// a free-running edge counter with programmable watch points, a cycle
// event dispatcher, a delayed actuator that commits output transitions a
// fixed delay after their triggering edge, and the cycle-boundary
// protocol for swapping the duty-cycle flip point at runtime.
//
// The dispatcher and actuator run on two independent goroutines (the
// edge-delivery goroutine and the commit-timer goroutine). Everything
// they share with each other and with polling readers is a single-writer
// atomic scalar; the hot path never blocks, allocates, or logs.
package relay

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sweeney/zerocross-relay/internal/gpio"
)

// Reference design constants.
const (
	// DefaultCycleLength is the number of qualifying edges per control
	// cycle. At the reference signal density 20 edges span ten full AC
	// cycles, so estimated frequency = (20/2) / cycle duration.
	DefaultCycleLength = 20

	// DefaultCommitDelay is the wait between a watch-point event and the
	// output-pin transition, compensating for the detection circuit's
	// phase shift so the relay switches at the true zero crossing.
	DefaultCommitDelay = 2000 * time.Microsecond

	// DefaultFlipPoint is the initial duty-cycle flip point (50%).
	DefaultFlipPoint = 10
)

// Pending-level and pending-flip mailbox encodings. -1 means "none".
const (
	levelNone int32 = -1
	levelLow  int32 = 0
	levelHigh int32 = 1

	flipNone int32 = -1
)

// Registry is the watch-point surface the dispatcher drives during a
// duty-cycle swap. *Counter implements it; tests substitute a failing
// wrapper to exercise the rollback paths.
type Registry interface {
	Arm(value int) error
	Disarm(value int) error
	Armed(value int) bool
}

// SwapOutcome classifies the result of a duty-cycle swap attempt.
type SwapOutcome int32

const (
	// SwapApplied means the new flip point is active.
	SwapApplied SwapOutcome = iota + 1
	// SwapDisarmFailed means the old watch point could not be removed;
	// nothing changed and the request is still pending.
	SwapDisarmFailed
	// SwapArmFailed means the new watch point could not be armed; the old
	// flip point was restored best-effort and the request was dropped.
	SwapArmFailed
)

// String returns a log-friendly name for the outcome.
func (o SwapOutcome) String() string {
	switch o {
	case SwapApplied:
		return "applied"
	case SwapDisarmFailed:
		return "disarm-failed"
	case SwapArmFailed:
		return "arm-failed"
	default:
		return "unknown"
	}
}

// SwapResult describes one completed duty-cycle swap attempt.
type SwapResult struct {
	Outcome SwapOutcome
	From    int
	To      int
	Err     error
}

// Config carries the engine's init-time settings.
type Config struct {
	// CycleLength is the number of qualifying edges per cycle.
	// Defaults to DefaultCycleLength.
	CycleLength int

	// CommitDelay is the fixed actuation delay. Defaults to
	// DefaultCommitDelay.
	CommitDelay time.Duration

	// FlipPoint is the initial duty-cycle flip point in
	// [0, CycleLength]. 0 holds the output low all cycle, CycleLength
	// holds it high all cycle.
	FlipPoint int

	// QualifyEdge selects which transition direction is counted.
	// The reference design counts rising edges.
	QualifyEdge gpio.Edge

	// Glitch is the software glitch-filter window; edges closer together
	// than this are rejected. Zero disables the filter.
	Glitch time.Duration
}

// Engine is the zero-cross relay control engine.
type Engine struct {
	cycleLength int
	commitDelay time.Duration
	out         gpio.LevelWriter
	clk         clock.Clock
	counter     *Counter
	registry    Registry
	timer       *clock.Timer

	started atomic.Bool

	// Duty-cycle state. flipPoint is written only by the cycle-end
	// handler (and by RequestFlipPoint before Start); pendingFlip is a
	// single-producer/single-consumer mailbox between RequestFlipPoint
	// and the cycle-end handler.
	flipPoint   atomic.Int32
	pendingFlip atomic.Int32

	// pendingLevel is set by the dispatcher and consumed exactly once by
	// the actuator expiry handler.
	pendingLevel atomic.Int32

	// Statistics: written by the dispatcher, polled by the reporter.
	triggerCount   atomic.Uint64
	cycleCount     atomic.Uint64
	lastCycleUs    atomic.Int64
	estFreqMilliHz atomic.Int64

	// lastEndAt is touched only by the cycle-end handler.
	haveLastEnd bool
	lastEndAt   time.Duration

	// One-shot reconfiguration result: swapResult is written before
	// swapEvent is raised; the reporter consumes the flag and logs once.
	swapEvent  atomic.Bool
	swapResult atomic.Value

	// Fault counters the hot path bumps instead of logging.
	registryFaults atomic.Uint64
	writeFaults    atomic.Uint64
	rejectedReqs   atomic.Uint64
}

// New creates an engine writing to the given output, using the given
// clock for the commit-delay countdown. The engine is inert until Start.
func New(cfg Config, out gpio.LevelWriter, clk clock.Clock) (*Engine, error) {
	if cfg.CycleLength == 0 {
		cfg.CycleLength = DefaultCycleLength
	}
	if cfg.CommitDelay == 0 {
		cfg.CommitDelay = DefaultCommitDelay
	}
	if cfg.CycleLength < 1 {
		return nil, fmt.Errorf("cycle length %d: must be at least 1", cfg.CycleLength)
	}
	if cfg.FlipPoint < 0 || cfg.FlipPoint > cfg.CycleLength {
		return nil, fmt.Errorf("flip point %d: outside [0, %d]", cfg.FlipPoint, cfg.CycleLength)
	}

	e := &Engine{
		cycleLength: cfg.CycleLength,
		commitDelay: cfg.CommitDelay,
		out:         out,
		clk:         clk,
	}
	e.counter = NewCounter(cfg.CycleLength, cfg.QualifyEdge, cfg.Glitch, e.onWatchPoint)
	e.registry = e.counter
	e.flipPoint.Store(int32(cfg.FlipPoint))
	e.pendingFlip.Store(flipNone)
	e.pendingLevel.Store(levelNone)

	// The actuator timer is created stopped and re-armed by the
	// dispatcher; a new arm cancels any in-flight countdown.
	e.timer = clk.AfterFunc(time.Hour, e.commitOutput)
	e.timer.Stop()
	return e, nil
}

// Start arms the cycle-end watch point (and the dynamic flip-point watch
// if the flip point is interior) and drives the output to its initial
// level. A failure here is fatal: the engine refuses to run partially
// configured.
func (e *Engine) Start() error {
	fp := int(e.flipPoint.Load())
	if err := e.registry.Arm(e.cycleLength); err != nil {
		return fmt.Errorf("arm cycle-end watch point %d: %w", e.cycleLength, err)
	}
	if fp > 0 && fp < e.cycleLength {
		if err := e.registry.Arm(fp); err != nil {
			return fmt.Errorf("arm flip-point watch point %d: %w", fp, err)
		}
	}
	if err := e.out.Write(fp > 0); err != nil {
		return fmt.Errorf("set initial relay level: %w", err)
	}
	e.started.Store(true)
	return nil
}

// Stop cancels any in-flight commit countdown.
func (e *Engine) Stop() {
	e.started.Store(false)
	e.timer.Stop()
}

// HandleEdge feeds one raw input transition into the engine. It is the
// edge source's handler and runs on the delivery goroutine.
func (e *Engine) HandleEdge(ev gpio.Event) {
	e.counter.Edge(ev)
}

// onWatchPoint is the dispatcher: it runs when the counter reaches an
// armed watch value. It never writes the output pin directly; it decides
// the next level and arms the actuator to commit it commitDelay later.
func (e *Engine) onWatchPoint(value int, at time.Duration) {
	e.triggerCount.Add(1)
	if value < e.cycleLength {
		e.pendingLevel.Store(levelLow)
		e.armActuator()
		return
	}
	e.onCycleEnd(at)
}

// onCycleEnd handles the cycle-end watch point: statistics, pending
// duty-cycle application, next level decision, counter reset, actuator.
func (e *Engine) onCycleEnd(at time.Duration) {
	if e.haveLastEnd {
		if d := at - e.lastEndAt; d > 0 {
			e.lastCycleUs.Store(d.Microseconds())
			hz := float64(e.cycleLength) / 2 / d.Seconds()
			e.estFreqMilliHz.Store(int64(hz*1000 + 0.5))
		}
	}
	e.lastEndAt = at
	e.haveLastEnd = true
	e.cycleCount.Add(1)

	e.applyPendingFlip()

	fp := int(e.flipPoint.Load())
	if fp == 0 {
		e.pendingLevel.Store(levelLow)
	} else {
		e.pendingLevel.Store(levelHigh)
	}
	e.counter.Reset()
	e.armActuator()
}

// RequestFlipPoint requests a new duty-cycle flip point. Callable from
// any context. The change is not applied immediately: it takes effect at
// the next cycle boundary, so an in-progress cycle is never corrupted.
// A newer request overwrites an older unapplied one.
func (e *Engine) RequestFlipPoint(v int) {
	if v < 0 || v > e.cycleLength {
		e.rejectedReqs.Add(1)
		log.Printf("duty cycle request %d ignored: outside [0, %d]", v, e.cycleLength)
		return
	}
	if !e.started.Load() {
		// No live watch point to swap yet; becomes the initial value.
		e.flipPoint.Store(int32(v))
		return
	}
	if int(e.flipPoint.Load()) == v {
		e.pendingFlip.Store(flipNone)
		return
	}
	e.pendingFlip.Store(int32(v))
}

// applyPendingFlip applies a pending duty-cycle request at the cycle
// boundary: disarm the old dynamic watch point, arm the new one, commit.
// On failure it rolls back best-effort and leaves the previous duty
// cycle running.
func (e *Engine) applyPendingFlip() {
	pending := int(e.pendingFlip.Load())
	if pending == int(flipNone) {
		return
	}
	current := int(e.flipPoint.Load())
	if pending == current {
		e.pendingFlip.Store(flipNone)
		return
	}

	needOld := current > 0 && current < e.cycleLength
	needNew := pending > 0 && pending < e.cycleLength

	if needOld {
		if err := e.registry.Disarm(current); err != nil {
			// Nothing changed; the request stays pending so status
			// queries reflect the failure.
			e.finishSwap(SwapResult{Outcome: SwapDisarmFailed, From: current, To: pending, Err: err})
			return
		}
	}
	if needNew {
		if err := e.registry.Arm(pending); err != nil {
			if needOld {
				// Best-effort restore of the watch point removed above.
				_ = e.registry.Arm(current)
			}
			e.pendingFlip.Store(flipNone)
			e.finishSwap(SwapResult{Outcome: SwapArmFailed, From: current, To: pending, Err: err})
			return
		}
	}

	e.flipPoint.Store(int32(pending))
	e.pendingFlip.Store(flipNone)
	e.finishSwap(SwapResult{Outcome: SwapApplied, From: current, To: pending})
}

// finishSwap records the swap result, raises the one-shot result flag,
// and cross-checks that the registry agrees with the active flip point.
func (e *Engine) finishSwap(r SwapResult) {
	fp := int(e.flipPoint.Load())
	consistent := e.registry.Armed(e.cycleLength)
	if fp > 0 && fp < e.cycleLength {
		consistent = consistent && e.registry.Armed(fp)
	}
	if !consistent {
		e.registryFaults.Add(1)
	}

	e.swapResult.Store(r)
	e.swapEvent.Store(true)
}
