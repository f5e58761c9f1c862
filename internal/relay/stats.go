package relay

import "time"

// Plain read accessors for the polling reporter. All back onto
// single-writer atomic scalars, so reads are eventually consistent and
// never contend with the hot path.

// TriggerCount returns the total number of watch-point events.
func (e *Engine) TriggerCount() uint64 {
	return e.triggerCount.Load()
}

// CycleCount returns the number of completed cycles.
func (e *Engine) CycleCount() uint64 {
	return e.cycleCount.Load()
}

// LastCycleDuration returns the time between the two most recent
// cycle-end events, or zero if fewer than two have occurred.
func (e *Engine) LastCycleDuration() time.Duration {
	return time.Duration(e.lastCycleUs.Load()) * time.Microsecond
}

// EstimatedHz returns the estimated AC frequency, derived opportunistically
// from the last cycle duration. Zero until two cycles have completed.
func (e *Engine) EstimatedHz() float64 {
	return float64(e.estFreqMilliHz.Load()) / 1000
}

// FlipPoint returns the active duty-cycle flip point.
func (e *Engine) FlipPoint() int {
	return int(e.flipPoint.Load())
}

// PendingFlipPoint returns the not-yet-applied flip point request, if any.
func (e *Engine) PendingFlipPoint() (int, bool) {
	v := e.pendingFlip.Load()
	if v == flipNone {
		return 0, false
	}
	return int(v), true
}

// CycleLength returns the configured edges-per-cycle.
func (e *Engine) CycleLength() int {
	return e.cycleLength
}

// CommitDelay returns the fixed actuation delay.
func (e *Engine) CommitDelay() time.Duration {
	return e.commitDelay
}

// DutyPercent returns the active duty cycle as a percentage.
func (e *Engine) DutyPercent() float64 {
	return float64(e.flipPoint.Load()) / float64(e.cycleLength) * 100
}

// ConsumeSwapResult returns the most recent duty-cycle swap result if one
// is waiting to be reported, clearing the one-shot flag. Each result is
// observed at most once.
func (e *Engine) ConsumeSwapResult() (SwapResult, bool) {
	if !e.swapEvent.CompareAndSwap(true, false) {
		return SwapResult{}, false
	}
	r, _ := e.swapResult.Load().(SwapResult)
	return r, true
}

// LastSwapResult returns the most recent duty-cycle swap result without
// consuming the one-shot flag. ok is false before the first swap.
func (e *Engine) LastSwapResult() (SwapResult, bool) {
	r, ok := e.swapResult.Load().(SwapResult)
	return r, ok
}

// RegistryFaults returns the number of post-swap consistency check
// failures. Always zero unless the watch-point registry misbehaved.
func (e *Engine) RegistryFaults() uint64 {
	return e.registryFaults.Load()
}

// WriteFaults returns the number of output-pin write failures.
func (e *Engine) WriteFaults() uint64 {
	return e.writeFaults.Load()
}

// RejectedRequests returns the number of out-of-range duty-cycle requests.
func (e *Engine) RejectedRequests() uint64 {
	return e.rejectedReqs.Load()
}

// Count returns the counter's current position. Test and diagnostic use.
func (e *Engine) Count() int {
	return e.counter.Count()
}
