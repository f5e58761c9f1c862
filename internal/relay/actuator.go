package relay

// The delayed actuator: a one-shot countdown, re-armable an unbounded
// number of times. A flip-point event and a cycle-end event can land
// inside the same countdown window; re-arming is last-arm-wins, so the
// cycle-end decision supersedes the earlier flip-point one, which is the
// correct output for that cycle.

// armActuator cancels any in-flight countdown and restarts it at the
// commit delay.
func (e *Engine) armActuator() {
	e.timer.Stop()
	e.timer.Reset(e.commitDelay)
}

// commitOutput is the countdown expiry handler. It consumes the pending
// level exactly once and writes it to the output pin. An empty mailbox
// is a no-op, not an error. Runs on the timer goroutine; it must not
// block or log, so write failures are counted for the reporter instead.
func (e *Engine) commitOutput() {
	lvl := e.pendingLevel.Swap(levelNone)
	if lvl == levelNone {
		return
	}
	if err := e.out.Write(lvl == levelHigh); err != nil {
		e.writeFaults.Add(1)
	}
}
